package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

const DefaultFile = "oracle-bluff.toml"

type Config struct {
	Server ServerConfig  `toml:"server"`
	Store  StoreConfig   `toml:"store"`
	LLM    LLMConfig     `toml:"llm"`
	Match  MatchDefaults `toml:"match"`
	Notify NotifyConfig  `toml:"notify"`
	Path   string        `toml:"-"`
}

type ServerConfig struct {
	Addr           string `toml:"addr"`
	ReadTimeoutSec int    `toml:"read_timeout_sec"`
	MaxBodyBytes   int64  `toml:"max_body_bytes"`
	Color          bool   `toml:"color"`
	Debug          bool   `toml:"debug"`
}

type StoreConfig struct {
	// DSN is a postgres:// URL or a SQLite file path.
	DSN         string `toml:"dsn"`
	AutoMigrate bool   `toml:"auto_migrate"`
}

type LLMConfig struct {
	OllamaURL     string   `toml:"ollama_url"`
	HostedModels  []string `toml:"hosted_models"`
	RetryAttempts int      `toml:"retry_attempts"`
	RetryBaseMS   int      `toml:"retry_base_ms"`
}

// MatchDefaults fill in whatever a create request leaves out.
type MatchDefaults struct {
	TotalRounds    int     `toml:"total_rounds"`
	TimeoutSeconds int     `toml:"timeout_seconds"`
	Temperature    float64 `toml:"temperature"`
	MaxTokens      int     `toml:"max_tokens"`
	ClueCount      int     `toml:"clue_count"`
	HistoryWindow  int     `toml:"history_window"`
}

type NotifyConfig struct {
	RedisURL string `toml:"redis_url"`
	NATSURL  string `toml:"nats_url"`
	Prefix   string `toml:"prefix"`
	Buffer   int    `toml:"buffer"`
}

func Default() Config {
	return Config{
		Server: ServerConfig{Addr: ":8080", ReadTimeoutSec: 15, MaxBodyBytes: 1 << 20, Color: true},
		Store:  StoreConfig{DSN: "oracle-bluff.db", AutoMigrate: true},
		LLM:    LLMConfig{OllamaURL: "http://localhost:11434", RetryAttempts: 3, RetryBaseMS: 1000},
		Match: MatchDefaults{
			TotalRounds:    5,
			TimeoutSeconds: 120,
			Temperature:    0.7,
			MaxTokens:      1024,
			ClueCount:      2,
			HistoryWindow:  5,
		},
		Notify: NotifyConfig{Prefix: "oraclebluff.match", Buffer: 256},
	}
}

// Load layers defaults, an optional TOML file and the environment. An empty
// path falls back to $ORACLE_BLUFF_CONFIG and then ./oracle-bluff.toml; only
// an explicitly named file must exist.
func Load(path string) (Config, error) {
	cfg := Default()
	explicit := path != ""
	if path == "" {
		path = getenv("ORACLE_BLUFF_CONFIG", DefaultFile)
		explicit = os.Getenv("ORACLE_BLUFF_CONFIG") != ""
	}
	resolved, err := expandHome(path)
	if err != nil {
		return Config{}, err
	}

	if _, err := toml.DecodeFile(resolved, &cfg); err != nil {
		if !errors.Is(err, os.ErrNotExist) || explicit {
			return Config{}, fmt.Errorf("load config %s: %w", resolved, err)
		}
	} else {
		cfg.Path = resolved
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func expandHome(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return filepath.Clean(path), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	trimmed := strings.TrimPrefix(path, "~")
	trimmed = strings.TrimPrefix(trimmed, "/")
	return filepath.Join(home, trimmed), nil
}

func (c *Config) applyEnv() {
	if port := os.Getenv("PORT"); port != "" {
		c.Server.Addr = ":" + port
	}
	c.Server.Addr = getenv("ADDR", c.Server.Addr)
	if os.Getenv("NO_COLOR") != "" || strings.TrimSpace(os.Getenv("USE_COLOR")) == "0" {
		c.Server.Color = false
	}
	if v, ok := os.LookupEnv("DEBUG"); ok {
		c.Server.Debug = asBool(v)
	}

	c.Store.DSN = getenv("DATABASE_URL", c.Store.DSN)
	if v, ok := os.LookupEnv("AUTO_MIGRATE"); ok {
		c.Store.AutoMigrate = asBool(v)
	}

	c.LLM.OllamaURL = getenv("OLLAMA_URL", c.LLM.OllamaURL)
	if v := os.Getenv("HOSTED_MODELS"); v != "" {
		c.LLM.HostedModels = splitList(v)
	}
	c.LLM.RetryAttempts = atoiDef(os.Getenv("LLM_RETRIES"), c.LLM.RetryAttempts)
	c.LLM.RetryBaseMS = atoiDef(os.Getenv("LLM_RETRY_BASE_MS"), c.LLM.RetryBaseMS)

	c.Match.TotalRounds = atoiDef(os.Getenv("DEFAULT_ROUNDS"), c.Match.TotalRounds)
	c.Match.TimeoutSeconds = atoiDef(os.Getenv("AGENT_TIMEOUT_SECONDS"), c.Match.TimeoutSeconds)
	c.Match.MaxTokens = atoiDef(os.Getenv("AGENT_MAX_TOKENS"), c.Match.MaxTokens)
	c.Match.ClueCount = atoiDef(os.Getenv("CLUE_COUNT"), c.Match.ClueCount)
	c.Match.HistoryWindow = atoiDef(os.Getenv("HISTORY_WINDOW"), c.Match.HistoryWindow)
	if v := os.Getenv("AGENT_TEMPERATURE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Match.Temperature = f
		}
	}

	c.Notify.RedisURL = getenv("REDIS_URL", c.Notify.RedisURL)
	c.Notify.NATSURL = getenv("NATS_URL", c.Notify.NATSURL)
	c.Notify.Prefix = getenv("NOTIFY_PREFIX", c.Notify.Prefix)
}

func (c Config) Validate() error {
	var errs []error
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is empty"))
	}
	if c.Store.DSN == "" {
		errs = append(errs, errors.New("store.dsn is empty"))
	}
	if c.Match.TotalRounds < 1 {
		errs = append(errs, fmt.Errorf("match.total_rounds must be >= 1, got %d", c.Match.TotalRounds))
	}
	if c.Match.ClueCount < 1 {
		errs = append(errs, fmt.Errorf("match.clue_count must be >= 1, got %d", c.Match.ClueCount))
	}
	if c.LLM.RetryAttempts < 1 {
		errs = append(errs, fmt.Errorf("llm.retry_attempts must be >= 1, got %d", c.LLM.RetryAttempts))
	}
	return errors.Join(errs...)
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func atoiDef(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func asBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "y", "on":
		return true
	default:
		return false
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
