package config

import (
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.PresenceWindow() != 10*time.Second {
		t.Fatalf("unexpected presence window %v", cfg.PresenceWindow())
	}
	if cfg.StaleAfter() != 15*time.Second {
		t.Fatalf("staleness cutoff should be 1.5x the window, got %v", cfg.StaleAfter())
	}
	if cfg.SweepInterval() != 5*time.Second {
		t.Fatalf("unexpected sweep interval %v", cfg.SweepInterval())
	}
}

func TestFromYAMLValidation(t *testing.T) {
	if _, err := FromYAML([]byte("dispatch:\n  presence_window_seconds: 0\n  sweep_interval_seconds: 5\n")); err == nil {
		t.Fatalf("expected zero presence window to be rejected")
	}
	if _, err := FromYAML([]byte("dispatch:\n  presence_window_seconds: 10\n  sweep_interval_seconds: 0\n")); err == nil {
		t.Fatalf("expected zero sweep interval to be rejected")
	}
	if _, err := FromYAML([]byte("dispatch:\n  presence_window_seconds: 10\n  sweep_interval_seconds: 5\nwebhooks:\n  - events: [PM_ASSIGNED]\n")); err == nil {
		t.Fatalf("expected webhook without url to be rejected")
	}
	cfg, err := FromYAML([]byte("dispatch:\n  presence_window_seconds: 30\n  sweep_interval_seconds: 10\nserver:\n  addr: 0.0.0.0:9000\n"))
	if err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
	if cfg.PresenceWindow() != 30*time.Second || cfg.Server.Addr != "0.0.0.0:9000" {
		t.Fatalf("unexpected parse result %+v", cfg)
	}
}
