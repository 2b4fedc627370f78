package app

import (
	"testing"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("CALYX_SECRET", "test-secret")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.AppAddr != ":8080" {
		t.Fatalf("expected default addr, got %q", cfg.AppAddr)
	}
	if cfg.DefaultRole != "viewer" {
		t.Fatalf("expected viewer default role, got %q", cfg.DefaultRole)
	}
	if !cfg.IsDevelopment() {
		t.Fatalf("expected development default environment")
	}
}

func TestLoadConfigRequiresSecret(t *testing.T) {
	t.Setenv("CALYX_SECRET", "")

	if _, err := LoadConfig(); err == nil {
		t.Fatalf("expected error without secret")
	}
}

func TestLoadConfigRejectsGrantAllOutsideDevelopment(t *testing.T) {
	t.Setenv("CALYX_SECRET", "test-secret")
	t.Setenv("CALYX_APP_ENV", "production")
	t.Setenv("CALYX_DEV_GRANT_ALL", "true")

	if _, err := LoadConfig(); err == nil {
		t.Fatalf("expected error for grant-all outside development")
	}
}

func TestTestModeFlagRefreshes(t *testing.T) {
	t.Setenv("CALYX_TEST_MODE", "1")
	RefreshTestMode()
	if !InTestMode() {
		t.Fatalf("expected test mode on")
	}

	t.Setenv("CALYX_TEST_MODE", "")
	RefreshTestMode()
	if InTestMode() {
		t.Fatalf("expected test mode off after refresh")
	}
}
