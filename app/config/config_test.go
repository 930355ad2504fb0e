package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, contents string) string {
	path := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestReadKeepsDefaults(t *testing.T) {
	path := writeConfig(t, `
seed: https://www.example.com/
crawler:
  maxPages: 3
  delay: 250ms
chunking:
  pdf:
    size: 2000
`)

	cfg, err := Read(path)
	if err != nil {
		t.Fatalf("error reading config: %v", err)
	}

	if cfg.Seed != "https://www.example.com/" {
		t.Fatalf("unexpected seed %q", cfg.Seed)
	}
	if cfg.Crawler.MaxPages != 3 || cfg.Crawler.Delay != 250*time.Millisecond {
		t.Fatalf("crawler settings were not read: %+v", cfg.Crawler)
	}
	if cfg.Crawler.Timeout != 10*time.Second {
		t.Fatalf("default timeout was overwritten: %v", cfg.Crawler.Timeout)
	}
	if cfg.Chunking.PDF.Size != 2000 || cfg.Chunking.PDF.Overlap != 150 {
		t.Fatalf("unexpected pdf split %+v", cfg.Chunking.PDF)
	}
	if cfg.Chunking.Web.Size != 600 || cfg.Chunking.Web.Overlap != 100 {
		t.Fatalf("unexpected web split %+v", cfg.Chunking.Web)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestReadMissingFile(t *testing.T) {
	cfg, err := Read(filepath.Join(t.TempDir(), "missing.yml"))
	if err != nil {
		t.Fatalf("a missing config file should fall back to defaults: %v", err)
	}
	if cfg.Embeddings.BatchSize != 50 {
		t.Fatalf("unexpected batch size %v", cfg.Embeddings.BatchSize)
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("SITEINDEX_SEED", "https://docs.example.com/")
	t.Setenv("GEMINI_API_KEY", "gemini-key")

	path := writeConfig(t, "embeddings:\n  provider: gemini\n")
	cfg, err := Read(path)
	if err != nil {
		t.Fatalf("error reading config: %v", err)
	}
	if cfg.Seed != "https://docs.example.com/" {
		t.Fatalf("seed override was not applied: %q", cfg.Seed)
	}
	if cfg.Embeddings.APIKey != "gemini-key" {
		t.Fatalf("api key override was not applied: %q", cfg.Embeddings.APIKey)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(c *Config)
	}{
		{"relative seed", func(c *Config) { c.Seed = "/about" }},
		{"ftp seed", func(c *Config) { c.Seed = "ftp://example.com" }},
		{"no pages", func(c *Config) { c.Crawler.MaxPages = 0 }},
		{"negative delay", func(c *Config) { c.Crawler.Delay = -time.Second }},
		{"unknown renderer", func(c *Config) { c.Crawler.Renderer = "lynx" }},
		{"overlap too large", func(c *Config) { c.Chunking.Web.Overlap = c.Chunking.Web.Size }},
		{"negative pdf count", func(c *Config) { c.PDF.MaxPDFs = -1 }},
		{"negative pdf count while disabled", func(c *Config) { c.PDF.Enabled = false; c.PDF.MaxPDFs = -1 }},
		{"no attempts", func(c *Config) { c.PDF.Attempts = 0 }},
		{"unknown provider", func(c *Config) { c.Embeddings.Provider = "cohere" }},
		{"unknown tokenizer", func(c *Config) { c.Chunking.Tokenizer = "p50k" }},
		{"short refresh", func(c *Config) { c.Refresh.Enabled = true; c.Refresh.Interval = time.Second }},
	}

	for _, test := range tests {
		cfg := Default()
		cfg.Seed = "https://www.example.com"
		test.modify(cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%v: expected a validation error", test.name)
		}
	}
}

func TestReadMalformedEnvFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("NOT A VALID LINE\n"), 0o644); err != nil {
		t.Fatalf("failed to write .env: %v", err)
	}
	t.Chdir(dir)

	if _, err := Read(filepath.Join(dir, "config.yml")); err == nil {
		t.Fatalf("expected an error for a malformed .env file")
	}
}
