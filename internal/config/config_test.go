package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.Port != "8080" {
		t.Errorf("Port = %q, want 8080", cfg.Port)
	}
	if cfg.GuardMaxMessageChars != 500 {
		t.Errorf("GuardMaxMessageChars = %d, want 500", cfg.GuardMaxMessageChars)
	}
	if cfg.GuardRepeatLimit != 3 {
		t.Errorf("GuardRepeatLimit = %d, want 3", cfg.GuardRepeatLimit)
	}
	if cfg.ModelTimeout != 55*time.Second {
		t.Errorf("ModelTimeout = %v, want 55s", cfg.ModelTimeout)
	}
	if cfg.BookingHorizonDays != 14 {
		t.Errorf("BookingHorizonDays = %d, want 14", cfg.BookingHorizonDays)
	}
	if cfg.CompressAfterTurns != 10 || cfg.CompressKeepTurns != 4 {
		t.Errorf("compression defaults = %d/%d, want 10/4", cfg.CompressAfterTurns, cfg.CompressKeepTurns)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("GUARD_MAX_MESSAGE_CHARS", "750")
	t.Setenv("MODEL_TIMEOUT", "30s")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")

	cfg := Load()

	if cfg.GuardMaxMessageChars != 750 {
		t.Errorf("GuardMaxMessageChars = %d, want 750", cfg.GuardMaxMessageChars)
	}
	if cfg.ModelTimeout != 30*time.Second {
		t.Errorf("ModelTimeout = %v, want 30s", cfg.ModelTimeout)
	}
	if len(cfg.CORSAllowedOrigins) != 2 || cfg.CORSAllowedOrigins[1] != "https://b.example" {
		t.Errorf("CORSAllowedOrigins = %v", cfg.CORSAllowedOrigins)
	}
}

func TestInvalidValuesFallBack(t *testing.T) {
	t.Setenv("GUARD_REPEAT_LIMIT", "lots")
	t.Setenv("MODEL_TIMEOUT", "soon")

	cfg := Load()

	if cfg.GuardRepeatLimit != 3 {
		t.Errorf("GuardRepeatLimit = %d, want fallback 3", cfg.GuardRepeatLimit)
	}
	if cfg.ModelTimeout != 55*time.Second {
		t.Errorf("ModelTimeout = %v, want fallback 55s", cfg.ModelTimeout)
	}
}
