package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Ollama uses the OpenAI-compatible endpoint of a local Ollama server.
type Ollama struct {
	BaseURL string
	HTTP    *http.Client
	Retry   Retry
}

func NewOllama(baseURL string) *Ollama {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = "http://localhost:11434"
	}
	return &Ollama{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: 10 * time.Minute},
		Retry:   DefaultRetry,
	}
}

func (o *Ollama) Send(ctx context.Context, agentID, system, user string, opts Options) (Response, error) {
	model := parseAgentID(agentID).Model
	payload := chatPayload(model, system, user, opts)
	payload["stream"] = false
	url := o.BaseURL + "/v1/chat/completions"
	return o.Retry.do(ctx, "ollama "+model, timeoutOf(opts), func(ctx context.Context) (Response, error) {
		return postChat(ctx, o.HTTP, "ollama", url, nil, payload)
	})
}

// ListModels reads the locally pulled models from /api/tags.
func (o *Ollama) ListModels(ctx context.Context) ([]ModelInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.BaseURL+"/api/tags", nil)
	if err != nil {
		return nil, err
	}
	resp, err := o.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list ollama models: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &HTTPError{Provider: "ollama", Status: resp.StatusCode}
	}
	var tags struct {
		Models []struct {
			Name string `json:"name"`
			Size int64  `json:"size"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, fmt.Errorf("decode ollama tags: %w", err)
	}
	out := make([]ModelInfo, 0, len(tags.Models))
	for _, m := range tags.Models {
		out = append(out, ModelInfo{ID: m.Name, Provider: "ollama", Size: m.Size})
	}
	return out, nil
}
