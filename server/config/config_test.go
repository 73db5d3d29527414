package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func clearEnv(t *testing.T) {
	for _, k := range []string{
		"ORACLE_BLUFF_CONFIG", "PORT", "ADDR", "NO_COLOR", "USE_COLOR", "DEBUG", "DATABASE_URL",
		"AUTO_MIGRATE", "OLLAMA_URL", "HOSTED_MODELS", "LLM_RETRIES", "DEFAULT_ROUNDS",
		"CLUE_COUNT", "AGENT_TEMPERATURE", "REDIS_URL", "NATS_URL",
	} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	clearEnv(t)
	t.Chdir(t.TempDir())
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != ":8080" || cfg.Match.ClueCount != 2 || cfg.Match.HistoryWindow != 5 || cfg.Path != "" {
		t.Fatalf("defaults = %+v", cfg)
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "bluff.toml")
	body := `
[server]
addr = ":9000"

[store]
dsn = "postgres://u:p@db:5432/bluff"

[llm]
hosted_models = ["openai:gpt-4o-mini", "openrouter:meta/llama"]

[match]
total_rounds = 8
temperature = 0.2

[notify]
nats_url = "nats://bus:4222"
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PORT", "7070")
	t.Setenv("CLUE_COUNT", "3")
	t.Setenv("AGENT_TEMPERATURE", "0.9")
	t.Setenv("NO_COLOR", "1")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Path != path {
		t.Fatalf("path = %q", cfg.Path)
	}
	if cfg.Server.Addr != ":7070" {
		t.Errorf("PORT should override the file, addr = %q", cfg.Server.Addr)
	}
	if !strings.HasPrefix(cfg.Store.DSN, "postgres://") || cfg.Match.TotalRounds != 8 {
		t.Errorf("file values lost: %+v", cfg)
	}
	if cfg.Match.ClueCount != 3 || cfg.Match.Temperature != 0.9 || cfg.Server.Color {
		t.Errorf("env overrides not applied: %+v", cfg.Match)
	}
	if len(cfg.LLM.HostedModels) != 2 || cfg.Notify.NATSURL != "nats://bus:4222" {
		t.Errorf("lists/notify = %+v %+v", cfg.LLM, cfg.Notify)
	}
	if cfg.LLM.RetryAttempts != 3 {
		t.Errorf("untouched default lost: %d", cfg.LLM.RetryAttempts)
	}
}

func TestLoadExplicitMissingFileFails(t *testing.T) {
	clearEnv(t)
	if _, err := Load(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Fatal("expected error for a missing explicit config")
	}
}

func TestValidateJoinsErrors(t *testing.T) {
	cfg := Default()
	cfg.Match.TotalRounds = 0
	cfg.Store.DSN = ""
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "total_rounds") || !strings.Contains(err.Error(), "dsn") {
		t.Fatalf("err = %v", err)
	}
}

func TestEnvHelpers(t *testing.T) {
	if atoiDef("x", 4) != 4 || atoiDef("", 2) != 2 || atoiDef("9", 1) != 9 {
		t.Fatal("atoiDef")
	}
	for _, s := range []string{"1", "TRUE", " yes ", "on"} {
		if !asBool(s) {
			t.Fatalf("asBool(%q)", s)
		}
	}
	if asBool("0") || asBool("") {
		t.Fatal("asBool false cases")
	}
	if got := splitList(" a, ,b "); len(got) != 2 || got[1] != "b" {
		t.Fatalf("splitList = %v", got)
	}
}
