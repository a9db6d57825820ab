package config

import (
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.ServerURL != "ws://localhost:8080/ws" {
		t.Errorf("ServerURL = %q", cfg.ServerURL)
	}
	if cfg.ReconnectBase != 5*time.Second {
		t.Errorf("ReconnectBase = %s", cfg.ReconnectBase)
	}
	if cfg.ReconnectCap != 30*time.Second {
		t.Errorf("ReconnectCap = %s", cfg.ReconnectCap)
	}
	if cfg.ConnectionTimeout != 30*time.Second {
		t.Errorf("ConnectionTimeout = %s", cfg.ConnectionTimeout)
	}
	if cfg.Port != 8080 {
		t.Errorf("Port = %d", cfg.Port)
	}
	if cfg.MaxSessions != 100 {
		t.Errorf("MaxSessions = %d", cfg.MaxSessions)
	}
	if len(cfg.AllowedOrigins) != 1 || cfg.AllowedOrigins[0] != "*" {
		t.Errorf("AllowedOrigins = %v", cfg.AllowedOrigins)
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("SERVER_URL", "wss://example.com/ws")
	t.Setenv("RECONNECT_BASE", "2")
	t.Setenv("RECONNECT_CAP", "60")
	t.Setenv("CONNECTION_TIMEOUT", "10")
	t.Setenv("PORT", "9090")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example,https://b.example")
	t.Setenv("GEMINI_API_KEY", "test-key")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.ServerURL != "wss://example.com/ws" {
		t.Errorf("ServerURL = %q", cfg.ServerURL)
	}
	if cfg.ReconnectBase != 2*time.Second {
		t.Errorf("ReconnectBase = %s", cfg.ReconnectBase)
	}
	if cfg.ReconnectCap != 60*time.Second {
		t.Errorf("ReconnectCap = %s", cfg.ReconnectCap)
	}
	if cfg.ConnectionTimeout != 10*time.Second {
		t.Errorf("ConnectionTimeout = %s", cfg.ConnectionTimeout)
	}
	if cfg.Port != 9090 {
		t.Errorf("Port = %d", cfg.Port)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "https://b.example" {
		t.Errorf("AllowedOrigins = %v", cfg.AllowedOrigins)
	}
	if cfg.GeminiAPIKey != "test-key" {
		t.Errorf("GeminiAPIKey = %q", cfg.GeminiAPIKey)
	}
}

func TestLoadConfigRejectsBadNumbers(t *testing.T) {
	cases := []string{"PORT", "RECONNECT_BASE", "RECONNECT_CAP", "CONNECTION_TIMEOUT", "MAX_SESSIONS", "SESSION_TIMEOUT"}
	for _, key := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, "not-a-number")
			if _, err := LoadConfig(); err == nil {
				t.Errorf("expected error for invalid %s", key)
			}
		})
	}
}
