package app

import (
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg := LoadConfig()

	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q, want :8080", cfg.HTTPAddr)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
	}
	if cfg.ProviderTimeout != 5*time.Second {
		t.Errorf("ProviderTimeout = %v, want 5s", cfg.ProviderTimeout)
	}
	if cfg.ISBNdbMinInterval != time.Second {
		t.Errorf("ISBNdbMinInterval = %v, want 1s", cfg.ISBNdbMinInterval)
	}
	if cfg.CacheDisabled {
		t.Error("CacheDisabled = true, want false")
	}
	if cfg.CacheTTLTitle != 24*time.Hour {
		t.Errorf("CacheTTLTitle = %v, want 24h", cfg.CacheTTLTitle)
	}
	if cfg.CacheTTLAuthor != 168*time.Hour {
		t.Errorf("CacheTTLAuthor = %v, want 168h", cfg.CacheTTLAuthor)
	}
	if cfg.ReadyTimeout != 5*time.Second {
		t.Errorf("ReadyTimeout = %v, want 5s", cfg.ReadyTimeout)
	}
	if cfg.EnrichParallelism != 2 {
		t.Errorf("EnrichParallelism = %d, want 2", cfg.EnrichParallelism)
	}
	if cfg.ConfidenceThreshold != 0.75 {
		t.Errorf("ConfidenceThreshold = %v, want 0.75", cfg.ConfidenceThreshold)
	}
	if cfg.ScoreWeights.Completeness != 2.0 {
		t.Errorf("ScoreWeights.Completeness = %v, want 2.0", cfg.ScoreWeights.Completeness)
	}
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("PROVIDER_TIMEOUT_SECONDS", "8")
	t.Setenv("PROVIDER_ISBNDB_MIN_INTERVAL_MS", "250")
	t.Setenv("SEARCH_CACHE_DISABLED", "true")
	t.Setenv("CACHE_TTL_TITLE_HOURS", "48")
	t.Setenv("JOB_READY_TIMEOUT_SECONDS", "2")
	t.Setenv("JOB_ENRICH_PARALLELISM", "4")
	t.Setenv("SCAN_CONFIDENCE_THRESHOLD", "0.9")
	t.Setenv("SCORE_WEIGHT_AFFINITY", "3.5")

	cfg := LoadConfig()

	if cfg.HTTPAddr != ":9090" {
		t.Errorf("HTTPAddr = %q, want :9090", cfg.HTTPAddr)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
	if cfg.ProviderTimeout != 8*time.Second {
		t.Errorf("ProviderTimeout = %v, want 8s", cfg.ProviderTimeout)
	}
	if cfg.ISBNdbMinInterval != 250*time.Millisecond {
		t.Errorf("ISBNdbMinInterval = %v, want 250ms", cfg.ISBNdbMinInterval)
	}
	if !cfg.CacheDisabled {
		t.Error("CacheDisabled = false, want true")
	}
	if cfg.CacheTTLTitle != 48*time.Hour {
		t.Errorf("CacheTTLTitle = %v, want 48h", cfg.CacheTTLTitle)
	}
	if cfg.ReadyTimeout != 2*time.Second {
		t.Errorf("ReadyTimeout = %v, want 2s", cfg.ReadyTimeout)
	}
	if cfg.EnrichParallelism != 4 {
		t.Errorf("EnrichParallelism = %d, want 4", cfg.EnrichParallelism)
	}
	if cfg.ConfidenceThreshold != 0.9 {
		t.Errorf("ConfidenceThreshold = %v, want 0.9", cfg.ConfidenceThreshold)
	}
	if cfg.ScoreWeights.Affinity != 3.5 {
		t.Errorf("ScoreWeights.Affinity = %v, want 3.5", cfg.ScoreWeights.Affinity)
	}
}

func TestLoadConfigIgnoresInvalidValues(t *testing.T) {
	t.Setenv("PROVIDER_TIMEOUT_SECONDS", "not-a-number")
	t.Setenv("JOB_ENRICH_PARALLELISM", "-3")
	t.Setenv("SEARCH_CACHE_DISABLED", "sometimes")
	t.Setenv("SCAN_CONFIDENCE_THRESHOLD", "-1")

	cfg := LoadConfig()

	if cfg.ProviderTimeout != 5*time.Second {
		t.Errorf("ProviderTimeout = %v, want default 5s", cfg.ProviderTimeout)
	}
	if cfg.EnrichParallelism != 2 {
		t.Errorf("EnrichParallelism = %d, want default 2", cfg.EnrichParallelism)
	}
	if cfg.CacheDisabled {
		t.Error("CacheDisabled = true, want default false")
	}
	if cfg.ConfidenceThreshold != 0.75 {
		t.Errorf("ConfidenceThreshold = %v, want default 0.75", cfg.ConfidenceThreshold)
	}
}
