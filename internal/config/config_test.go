package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("API_ADDR", "")
	t.Setenv("DATABASE_DRIVER", "")
	t.Setenv("RESTORE_SCROLL_DELAY", "")
	t.Setenv("AUTOSAVE_INTERVAL", "")

	cfg := Load()
	if cfg.Addr != ":8788" {
		t.Errorf("Addr = %q, want :8788", cfg.Addr)
	}
	if cfg.DatabaseDriver != "sqlite" {
		t.Errorf("DatabaseDriver = %q, want sqlite", cfg.DatabaseDriver)
	}
	if cfg.ScrollDelay != 100*time.Millisecond {
		t.Errorf("ScrollDelay = %v, want 100ms", cfg.ScrollDelay)
	}
	if cfg.AutosaveInterval != 30*time.Second {
		t.Errorf("AutosaveInterval = %v, want 30s", cfg.AutosaveInterval)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("API_ADDR", ":9000")
	t.Setenv("DRAFT_TTL_SECONDS", "60")
	t.Setenv("UPSTREAM_TIMEOUT", "3s")
	t.Setenv("BLOB_USE_SSL", "true")

	cfg := Load()
	if cfg.Addr != ":9000" {
		t.Errorf("Addr = %q, want :9000", cfg.Addr)
	}
	if cfg.DraftTTL != time.Minute {
		t.Errorf("DraftTTL = %v, want 1m", cfg.DraftTTL)
	}
	if cfg.UpstreamTimeout != 3*time.Second {
		t.Errorf("UpstreamTimeout = %v, want 3s", cfg.UpstreamTimeout)
	}
	if !cfg.BlobUseSSL {
		t.Error("expected BlobUseSSL to be true")
	}
}

func TestInvalidValuesFallBack(t *testing.T) {
	t.Setenv("DRAFT_TTL_SECONDS", "not-a-number")
	t.Setenv("LABEL_CACHE_TTL", "soon")

	cfg := Load()
	if cfg.DraftTTL != 24*time.Hour {
		t.Errorf("DraftTTL = %v, want 24h", cfg.DraftTTL)
	}
	if cfg.LabelCacheTTL != 10*time.Minute {
		t.Errorf("LabelCacheTTL = %v, want 10m", cfg.LabelCacheTTL)
	}
}
