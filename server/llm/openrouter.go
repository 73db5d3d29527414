package llm

import (
	"errors"
	"net/http"
	"os"
	"strings"
)

type providerKind int

const (
	providerOpenAI providerKind = iota
	providerOpenRouter
)

const (
	defaultSiteURL = "http://localhost:8080"
	defaultTitle   = "Oracle's Bluff"
)

type apiConfig struct {
	Kind         providerKind
	APIKey       string
	Model        string
	BaseURL      string
	HeaderName   string
	HeaderPrefix string
	Organization string
	ExtraHeaders map[string]string
}

// resolveAPIConfig reads provider settings from the environment. A hint
// forces the provider regardless of what the base URL suggests.
func resolveAPIConfig(model string, hint ...providerKind) (apiConfig, error) {
	cfg := apiConfig{
		Model:        strings.TrimSpace(model),
		ExtraHeaders: map[string]string{},
	}
	if cfg.Model == "" {
		return apiConfig{}, errors.New("model missing")
	}

	forced := len(hint) > 0
	switch {
	case forced:
		cfg.Kind = hint[0]
	case preferOpenRouterEnv() || strings.Contains(strings.ToLower(cfg.Model), "openrouter/"):
		cfg.Kind = providerOpenRouter
	default:
		cfg.Kind = providerOpenAI
	}

	var base string
	if cfg.Kind == providerOpenRouter {
		base = firstNonEmpty(os.Getenv("OPENROUTER_API_BASE"), os.Getenv("OPENROUTER_BASE_URL"))
	}
	if base == "" && !(forced && cfg.Kind == providerOpenRouter) {
		base = firstNonEmpty(os.Getenv("OPENAI_API_BASE"), os.Getenv("OPENAI_BASE_URL"))
	}
	if base == "" {
		base = "https://api.openai.com/v1"
		if cfg.Kind == providerOpenRouter {
			base = "https://openrouter.ai/api/v1"
		}
	}
	cfg.BaseURL = strings.TrimRight(base, "/")
	if !forced && strings.Contains(strings.ToLower(cfg.BaseURL), "openrouter") {
		cfg.Kind = providerOpenRouter
	}

	openAIKey := strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	openRouterKey := strings.TrimSpace(os.Getenv("OPENROUTER_API_KEY"))
	if cfg.Kind == providerOpenRouter {
		cfg.APIKey = firstNonEmpty(openRouterKey, openAIKey)
	} else {
		cfg.APIKey = firstNonEmpty(openAIKey, openRouterKey)
	}
	if cfg.APIKey == "" {
		return apiConfig{}, errors.New("API key missing: set OPENAI_API_KEY or OPENROUTER_API_KEY")
	}

	cfg.HeaderName = firstNonEmpty(os.Getenv("OPENAI_API_KEY_HEADER"), os.Getenv("OPENROUTER_API_KEY_HEADER"), "Authorization")
	cfg.HeaderPrefix = os.Getenv("OPENAI_API_KEY_PREFIX")
	if cfg.HeaderPrefix == "" {
		cfg.HeaderPrefix = os.Getenv("OPENROUTER_API_KEY_PREFIX")
	}
	if cfg.HeaderName == "Authorization" && strings.TrimSpace(cfg.HeaderPrefix) == "" {
		cfg.HeaderPrefix = "Bearer "
	}
	cfg.Organization = strings.TrimSpace(os.Getenv("OPENAI_ORG"))

	if cfg.Kind == providerOpenRouter {
		site := firstNonEmpty(os.Getenv("OPENROUTER_SITE_URL"), defaultSiteURL)
		cfg.ExtraHeaders["HTTP-Referer"] = site
		cfg.ExtraHeaders["Referer"] = site
		cfg.ExtraHeaders["X-Title"] = firstNonEmpty(os.Getenv("OPENROUTER_TITLE"), defaultTitle)
	}
	return cfg, nil
}

func (c apiConfig) headers() http.Header {
	hdr := http.Header{}
	setHeaderPreserveCase(hdr, c.HeaderName, c.HeaderPrefix+c.APIKey)
	if c.Organization != "" {
		setHeaderPreserveCase(hdr, "OpenAI-Organization", c.Organization)
	}
	for k, v := range c.ExtraHeaders {
		setHeaderPreserveCase(hdr, k, v)
	}
	return hdr
}

// setHeaderPreserveCase keeps non-canonical names such as "HTTP-Referer"
// exactly as written; some gateways match them case-sensitively.
func setHeaderPreserveCase(hdr http.Header, name, value string) {
	name = strings.TrimSpace(name)
	value = strings.TrimSpace(value)
	if name == "" || value == "" {
		return
	}
	if http.CanonicalHeaderKey(name) == name {
		hdr.Set(name, value)
		return
	}
	hdr[name] = []string{value}
}

func preferOpenRouterEnv() bool {
	if strings.TrimSpace(os.Getenv("OPENROUTER_API_KEY")) != "" && strings.TrimSpace(os.Getenv("OPENAI_API_KEY")) == "" {
		return true
	}
	if strings.TrimSpace(os.Getenv("OPENROUTER_API_BASE")) != "" || strings.TrimSpace(os.Getenv("OPENROUTER_BASE_URL")) != "" {
		return true
	}
	for _, k := range []string{"OPENAI_API_BASE", "OPENAI_BASE_URL"} {
		if strings.Contains(strings.ToLower(os.Getenv(k)), "openrouter") {
			return true
		}
	}
	return false
}
