package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds engine and devserver configuration
type Config struct {
	// Engine (client) side
	ServerURL         string        // Backend WebSocket endpoint
	ConnectionTimeout time.Duration // Connection-establishment timeout
	ReconnectBase     time.Duration // First reconnect delay
	ReconnectCap      time.Duration // Backoff ceiling
	StateFile         string        // Durable client-state file

	// Shared
	RedisURL      string
	RedisPassword string

	// Devserver side
	Port            int
	GeminiAPIKey    string // Optional: may also arrive over the wire
	MaxSessions     int
	SessionTimeout  time.Duration
	AllowedOrigins  []string
	KeepAlivePeriod time.Duration
	MaxBufferSize   int // Maximum audio buffer size in bytes per connection
}

// LoadConfig loads configuration from environment variables with defaults
func LoadConfig() (*Config, error) {
	// Load .env file if it exists (doesn't error if missing)
	_ = godotenv.Load()

	config := &Config{
		ServerURL:         "ws://localhost:8080/ws",
		ConnectionTimeout: 30 * time.Second,
		ReconnectBase:     5 * time.Second,
		ReconnectCap:      30 * time.Second,
		StateFile:         defaultStateFile(),
		RedisURL:          "localhost:6379",
		RedisPassword:     "",
		Port:              8080,
		MaxSessions:       100,
		SessionTimeout:    30 * time.Minute,
		AllowedOrigins:    []string{"*"},
		KeepAlivePeriod:   30 * time.Second,
		MaxBufferSize:     5 * 1024 * 1024, // 5MB default
	}

	// Optional: SERVER_URL
	if url := os.Getenv("SERVER_URL"); url != "" {
		config.ServerURL = url
	}

	// Optional: CONNECTION_TIMEOUT (in seconds)
	if timeout := os.Getenv("CONNECTION_TIMEOUT"); timeout != "" {
		t, err := strconv.Atoi(timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid CONNECTION_TIMEOUT: %w", err)
		}
		config.ConnectionTimeout = time.Duration(t) * time.Second
	}

	// Optional: RECONNECT_BASE (in seconds)
	if base := os.Getenv("RECONNECT_BASE"); base != "" {
		b, err := strconv.Atoi(base)
		if err != nil {
			return nil, fmt.Errorf("invalid RECONNECT_BASE: %w", err)
		}
		config.ReconnectBase = time.Duration(b) * time.Second
	}

	// Optional: RECONNECT_CAP (in seconds)
	if capSecs := os.Getenv("RECONNECT_CAP"); capSecs != "" {
		c, err := strconv.Atoi(capSecs)
		if err != nil {
			return nil, fmt.Errorf("invalid RECONNECT_CAP: %w", err)
		}
		config.ReconnectCap = time.Duration(c) * time.Second
	}

	// Optional: STATE_FILE
	if stateFile := os.Getenv("STATE_FILE"); stateFile != "" {
		config.StateFile = stateFile
	}

	// Optional: REDIS_URL
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		config.RedisURL = redisURL
	}

	// Optional: REDIS_PASSWORD
	if redisPassword := os.Getenv("REDIS_PASSWORD"); redisPassword != "" {
		config.RedisPassword = redisPassword
	}

	// Optional: PORT
	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT: %w", err)
		}
		config.Port = p
	}

	// Optional: GEMINI_API_KEY (may also be supplied over the wire via set_api_key)
	config.GeminiAPIKey = os.Getenv("GEMINI_API_KEY")

	// Optional: MAX_SESSIONS
	if maxSessions := os.Getenv("MAX_SESSIONS"); maxSessions != "" {
		m, err := strconv.Atoi(maxSessions)
		if err != nil {
			return nil, fmt.Errorf("invalid MAX_SESSIONS: %w", err)
		}
		config.MaxSessions = m
	}

	// Optional: SESSION_TIMEOUT (in minutes)
	if timeout := os.Getenv("SESSION_TIMEOUT"); timeout != "" {
		t, err := strconv.Atoi(timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid SESSION_TIMEOUT: %w", err)
		}
		config.SessionTimeout = time.Duration(t) * time.Minute
	}

	// Optional: ALLOWED_ORIGINS (comma-separated)
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		config.AllowedOrigins = strings.Split(origins, ",")
	}

	// Optional: KEEPALIVE_PERIOD (in seconds)
	if keepalive := os.Getenv("KEEPALIVE_PERIOD"); keepalive != "" {
		k, err := strconv.Atoi(keepalive)
		if err != nil {
			return nil, fmt.Errorf("invalid KEEPALIVE_PERIOD: %w", err)
		}
		config.KeepAlivePeriod = time.Duration(k) * time.Second
	}

	// Optional: MAX_BUFFER_SIZE (in bytes)
	if bufferSize := os.Getenv("MAX_BUFFER_SIZE"); bufferSize != "" {
		b, err := strconv.Atoi(bufferSize)
		if err != nil {
			return nil, fmt.Errorf("invalid MAX_BUFFER_SIZE: %w", err)
		}
		config.MaxBufferSize = b
	}

	return config, nil
}

func defaultStateFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".chatlink_state.json"
	}
	return filepath.Join(home, ".chatlink_state.json")
}
