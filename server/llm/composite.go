package llm

import (
	"context"
	"log"
	"sort"
)

// Composite routes "openai:" and "openrouter:" agents to the hosted client
// and everything else to Ollama.
type Composite struct {
	Hosted       Gateway
	Local        Gateway
	HostedModels []string
}

func (c *Composite) Send(ctx context.Context, agentID, system, user string, opts Options) (Response, error) {
	if parseAgentID(agentID).Provider == "ollama" {
		return c.Local.Send(ctx, agentID, system, user, opts)
	}
	return c.Hosted.Send(ctx, agentID, system, user, opts)
}

// ListModels merges local models with the configured hosted ones. An
// unreachable Ollama is logged, not fatal.
func (c *Composite) ListModels(ctx context.Context) []ModelInfo {
	var out []ModelInfo
	if l, ok := c.Local.(interface {
		ListModels(context.Context) ([]ModelInfo, error)
	}); ok {
		ms, err := l.ListModels(ctx)
		if err != nil {
			log.Printf("[llm] %v", err)
		}
		out = append(out, ms...)
	}
	for _, m := range c.HostedModels {
		ref := parseAgentID(m)
		out = append(out, ModelInfo{ID: m, Provider: ref.Provider})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
