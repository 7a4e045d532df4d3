package config

import (
	"testing"
	"time"
)

func TestLoadRecorderDefaults(t *testing.T) {
	var cfg Recorder
	if err := Load(&cfg); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 42069 {
		t.Errorf("Port = %d, want 42069", cfg.Port)
	}
	if cfg.Reconnect != 5*time.Second {
		t.Errorf("Reconnect = %v, want 5s", cfg.Reconnect)
	}
	if cfg.Addr() != "127.0.0.1:42069" {
		t.Errorf("Addr = %q", cfg.Addr())
	}
}

func TestLoadRecorderFromEnv(t *testing.T) {
	t.Setenv("REFRAMED_HOST", "10.0.0.7")
	t.Setenv("REFRAMED_PORT", "5000")
	t.Setenv("REFRAMED_RECONNECT", "0s")
	t.Setenv("REFRAMED_PLAYER1", "Alice")

	var cfg Recorder
	if err := Load(&cfg); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr() != "10.0.0.7:5000" {
		t.Errorf("Addr = %q, want 10.0.0.7:5000", cfg.Addr())
	}
	if cfg.Reconnect != 0 {
		t.Errorf("Reconnect = %v, want 0", cfg.Reconnect)
	}
	if cfg.Player1 != "Alice" {
		t.Errorf("Player1 = %q, want Alice", cfg.Player1)
	}
}

func TestLoadRejectsBadValue(t *testing.T) {
	t.Setenv("REFRAMED_WORKERS", "many")

	var cfg Analyzer
	if err := Load(&cfg); err == nil {
		t.Fatal("expected error for non-numeric REFRAMED_WORKERS")
	}
}
