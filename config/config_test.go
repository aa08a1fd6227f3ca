package config

import (
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.AllowAnonymous {
		t.Error("expected anonymous auth to be rejected by default")
	}
	if len(cfg.PermittedAuthMethods) != 1 || cfg.PermittedAuthMethods[0] != "publickey" {
		t.Errorf("expected default auth methods [publickey], got %v", cfg.PermittedAuthMethods)
	}
	if cfg.ConnectionTimeout != 600*time.Second {
		t.Errorf("expected 600s connection timeout, got %v", cfg.ConnectionTimeout)
	}
	if cfg.AuthRejectionDelay != 0 {
		t.Errorf("expected no auth rejection delay by default, got %v", cfg.AuthRejectionDelay)
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(filepath.Join(dir, "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Port != DefaultConfig().Port {
		t.Errorf("expected default port, got %d", cfg.Port)
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	cfg := DefaultConfig()
	cfg.Port = 2022
	cfg.AllowAnonymous = true

	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Port != 2022 {
		t.Errorf("expected port 2022, got %d", loaded.Port)
	}
	if !loaded.AllowAnonymous {
		t.Error("expected AllowAnonymous to round-trip as true")
	}
}

func TestChangeListenerNotifiedOnSave(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	cfg := DefaultConfig()

	done := make(chan struct{}, 1)
	id := cfg.AddOnChangeListener(func() {
		done <- struct{}{}
	})
	defer cfg.RemoveOnChangeListener(id)

	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("change listener was not invoked within 1s")
	}
}

func TestValidateRejectsNoAuthMethod(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PermittedAuthMethods = nil
	cfg.AllowAnonymous = false

	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for no auth method configured")
	}
}

func TestValidateRejectsBadPort(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Port = 0

	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for invalid port")
	}
}
