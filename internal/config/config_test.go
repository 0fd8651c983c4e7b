package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "STORE_BACKEND", "LLM_PROVIDER", "LLM_MAX_RETRIES", "PIPELINE_WRITE_CONCURRENCY", "PIPELINE_FILTER_NOISE"} {
		t.Setenv(key, "")
	}

	cfg := Load()

	if cfg.Server.Port != "8080" {
		t.Errorf("Port = %q, want 8080", cfg.Server.Port)
	}
	if cfg.Store.Backend != "memory" {
		t.Errorf("Store.Backend = %q, want memory", cfg.Store.Backend)
	}
	if cfg.LLM.GeminiModel != "gemini-2.5-flash" {
		t.Errorf("GeminiModel = %q", cfg.LLM.GeminiModel)
	}
	if cfg.LLM.MaxRetries != 0 {
		t.Errorf("MaxRetries = %d, want 0", cfg.LLM.MaxRetries)
	}
	if !cfg.Pipeline.FilterNoise {
		t.Error("FilterNoise should default to true")
	}
	if cfg.Pipeline.WriteConcurrency != 1 {
		t.Errorf("WriteConcurrency = %d, want 1", cfg.Pipeline.WriteConcurrency)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("STORE_BACKEND", "sqlite")
	t.Setenv("LLM_TIMEOUT", "5s")
	t.Setenv("PIPELINE_FILTER_NOISE", "false")
	t.Setenv("PIPELINE_WRITE_CONCURRENCY", "8")
	t.Setenv("LLM_MAX_RETRIES", "not-a-number")

	cfg := Load()

	if cfg.Store.Backend != "sqlite" {
		t.Errorf("Store.Backend = %q, want sqlite", cfg.Store.Backend)
	}
	if cfg.LLM.Timeout != 5*time.Second {
		t.Errorf("Timeout = %v, want 5s", cfg.LLM.Timeout)
	}
	if cfg.Pipeline.FilterNoise {
		t.Error("FilterNoise should be false")
	}
	if cfg.Pipeline.WriteConcurrency != 8 {
		t.Errorf("WriteConcurrency = %d, want 8", cfg.Pipeline.WriteConcurrency)
	}
	if cfg.LLM.MaxRetries != 0 {
		t.Errorf("unparseable MaxRetries should fall back to 0, got %d", cfg.LLM.MaxRetries)
	}
}

func TestValidateCollectsProblems(t *testing.T) {
	cfg := Load()
	cfg.Server.Port = "99999"
	cfg.Store.Backend = "postgres"
	cfg.Store.DatabaseURL = ""
	cfg.LLM.Provider = "openai"
	cfg.Pipeline.WriteConcurrency = 0

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}

	msg := err.Error()
	for _, want := range []string{"invalid port 99999", "DATABASE_URL", "invalid LLM provider", "PIPELINE_WRITE_CONCURRENCY"} {
		if !strings.Contains(msg, want) {
			t.Errorf("expected %q in error, got: %s", want, msg)
		}
	}
}
