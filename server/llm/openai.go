package llm

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

// OpenAI talks to any OpenAI-compatible chat/completions endpoint, including
// OpenRouter. Credentials and base URLs come from the environment.
type OpenAI struct {
	HTTP  *http.Client
	Retry Retry
}

func NewOpenAI() *OpenAI {
	return &OpenAI{HTTP: &http.Client{Timeout: 5 * time.Minute}, Retry: DefaultRetry}
}

func (c *OpenAI) Send(ctx context.Context, agentID, system, user string, opts Options) (Response, error) {
	ref := parseAgentID(agentID)
	var (
		cfg apiConfig
		err error
	)
	if ref.Provider == "openrouter" {
		cfg, err = resolveAPIConfig(ref.Model, providerOpenRouter)
	} else {
		cfg, err = resolveAPIConfig(ref.Model)
	}
	if err != nil {
		return Response{}, err
	}

	payload := chatPayload(cfg.Model, system, user, opts)
	if effort := coalesce(ref.Effort, envWithFallback(cfg.Kind == providerOpenRouter, "OPENAI_REASONING_EFFORT", "OPENROUTER_REASONING_EFFORT")); effort != "" {
		if cfg.Kind == providerOpenRouter {
			payload["reasoning"] = map[string]any{"effort": effort}
		} else {
			payload["reasoning_effort"] = effort
			// reasoning models reject max_tokens and custom temperature
			if n, ok := payload["max_tokens"]; ok {
				delete(payload, "max_tokens")
				payload["max_completion_tokens"] = n
			}
			delete(payload, "temperature")
		}
	}
	applyTuningFromEnv(payload, cfg.Kind == providerOpenRouter)

	provider := "openai"
	if cfg.Kind == providerOpenRouter {
		provider = "openrouter"
	}
	url := cfg.BaseURL + "/chat/completions"
	hdr := cfg.headers()
	return c.Retry.do(ctx, fmt.Sprintf("%s %s", provider, cfg.Model), timeoutOf(opts), func(ctx context.Context) (Response, error) {
		return postChat(ctx, c.HTTP, provider, url, hdr, payload)
	})
}

func applyTuningFromEnv(m map[string]any, preferOpenRouter bool) {
	if v := envWithFallback(preferOpenRouter, "OPENAI_TOP_P", "OPENROUTER_TOP_P"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			m["top_p"] = f
		}
	}
	if v := envWithFallback(preferOpenRouter, "OPENAI_TOP_K", "OPENROUTER_TOP_K"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			m["top_k"] = n
		}
	}
}

func coalesce(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return a
	}
	return b
}

func envWithFallback(preferOpenRouter bool, openAIKey, openRouterKey string) string {
	keys := []string{openAIKey, openRouterKey}
	if preferOpenRouter {
		keys[0], keys[1] = keys[1], keys[0]
	}
	for _, key := range keys {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			return v
		}
	}
	return ""
}
