package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ZENTEL_API_URL", "")
	t.Setenv("ZENTEL_RECONNECT_SECONDS", "")
	t.Setenv("ZENTEL_ANALYSIS_TIMEOUT_SECONDS", "")

	cfg := Load()
	if cfg.ReconnectDelay != 3*time.Second {
		t.Fatalf("ReconnectDelay = %v, want 3s", cfg.ReconnectDelay)
	}
	if cfg.AnalysisTimeout != 150*time.Second {
		t.Fatalf("AnalysisTimeout = %v, want 150s", cfg.AnalysisTimeout)
	}
	if got := cfg.BaseURL(); got != "http://localhost:6000/api/v1" {
		t.Fatalf("BaseURL() = %q", got)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("ZENTEL_API_URL", "https://notes.example.com/")
	t.Setenv("ZENTEL_API_PREFIX", "/v2/")
	t.Setenv("ZENTEL_ANALYSIS_TIMEOUT_SECONDS", "120")
	t.Setenv("ZENTEL_RECONNECT_SECONDS", "not-a-number")
	t.Setenv("EXPORT_S3_USE_SSL", "false")

	cfg := Load()
	if got := cfg.BaseURL(); got != "https://notes.example.com/v2" {
		t.Fatalf("BaseURL() = %q", got)
	}
	if cfg.AnalysisTimeout != 120*time.Second {
		t.Fatalf("AnalysisTimeout = %v, want 120s", cfg.AnalysisTimeout)
	}
	if cfg.ReconnectDelay != 3*time.Second {
		t.Fatalf("invalid int should fall back, got %v", cfg.ReconnectDelay)
	}
	if cfg.ExportS3UseSSL {
		t.Fatal("expected EXPORT_S3_USE_SSL=false to disable SSL")
	}
}
