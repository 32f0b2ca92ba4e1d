package config

import "testing"

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")

	cfg := Load()
	if cfg.AuthSecret != "" {
		t.Fatalf("expected empty AUTH_SECRET when unset, got %q", cfg.AuthSecret)
	}
}

func TestLoadParsesOversellFlag(t *testing.T) {
	t.Setenv("ALLOW_OVERSELL", "")
	if cfg := Load(); cfg.AllowOversell {
		t.Fatalf("expected oversell disabled by default")
	}

	t.Setenv("ALLOW_OVERSELL", "true")
	if cfg := Load(); !cfg.AllowOversell {
		t.Fatalf("expected oversell enabled when ALLOW_OVERSELL=true")
	}
}
