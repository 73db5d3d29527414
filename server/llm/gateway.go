package llm

import (
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"
)

// Options are the per-call knobs a match passes to a model.
type Options struct {
	Temperature    float64
	MaxTokens      int
	TimeoutSeconds int
}

type Response struct {
	Text             string `json:"text"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	LatencyMs        int64  `json:"latency_ms"`
	FinishReason     string `json:"finish_reason"`
}

// Gateway sends one system+user exchange to the named agent.
type Gateway interface {
	Send(ctx context.Context, agentID, system, user string, opts Options) (Response, error)
}

type ModelInfo struct {
	ID       string `json:"id"`
	Provider string `json:"provider"`
	Size     int64  `json:"size,omitempty"`
}

// Retry is a bounded exponential backoff: after failed attempt n the caller
// sleeps BaseDelay * 2^n.
type Retry struct {
	Attempts  int
	BaseDelay time.Duration
}

var DefaultRetry = Retry{Attempts: 3, BaseDelay: time.Second}

// HTTPError is a non-2xx reply from a provider.
type HTTPError struct {
	Provider string
	Status   int
	Body     string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s http %d: %s", e.Provider, e.Status, truncate(e.Body, 800))
}

func retryable(parent context.Context, err error) bool {
	if parent.Err() != nil {
		return false
	}
	var he *HTTPError
	if errors.As(err, &he) {
		return he.Status == 408 || he.Status == 429 || he.Status >= 500
	}
	return true
}

func (r Retry) do(ctx context.Context, label string, timeout time.Duration, call func(context.Context) (Response, error)) (Response, error) {
	attempts := r.Attempts
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		actx, cancel := ctx, context.CancelFunc(func() {})
		if timeout > 0 {
			actx, cancel = context.WithTimeout(ctx, timeout)
		}
		resp, err := call(actx)
		cancel()
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if attempt == attempts || !retryable(ctx, err) {
			break
		}
		delay := r.BaseDelay << attempt
		log.Printf("[llm] %s attempt %d/%d failed: %v (retrying in %s)", label, attempt, attempts, err, delay)
		select {
		case <-ctx.Done():
			return Response{}, ctx.Err()
		case <-time.After(delay):
		}
	}
	return Response{}, fmt.Errorf("%s: %w", label, lastErr)
}

var dupSuffix = regexp.MustCompile(`#\d+$`)

// StripDuplicateSuffix removes the "#2"-style marker added when the same
// agent plays more than one seat.
func StripDuplicateSuffix(agentID string) string {
	return dupSuffix.ReplaceAllString(strings.TrimSpace(agentID), "")
}

type agentRef struct {
	Provider string
	Model    string
	Effort   string
}

// parseAgentID understands "openai:<model>[:<effort>]", "openrouter:<model>"
// and bare Ollama model names.
func parseAgentID(agentID string) agentRef {
	id := StripDuplicateSuffix(agentID)
	switch {
	case strings.HasPrefix(id, "openai:"):
		rest := strings.TrimPrefix(id, "openai:")
		ref := agentRef{Provider: "openai", Model: rest}
		if i := strings.LastIndex(rest, ":"); i > 0 {
			ref.Model, ref.Effort = rest[:i], rest[i+1:]
		}
		return ref
	case strings.HasPrefix(id, "openrouter:"):
		return agentRef{Provider: "openrouter", Model: strings.TrimPrefix(id, "openrouter:")}
	default:
		return agentRef{Provider: "ollama", Model: id}
	}
}

func timeoutOf(opts Options) time.Duration {
	if opts.TimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(opts.TimeoutSeconds) * time.Second
}
