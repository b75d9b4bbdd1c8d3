package config

import (
	"os"
	"time"
)

const (
	// Store / pagination
	RecentPageThreshold = 15 // below this, bulk sync prefetches one older page

	// Realtime connection
	ReconnectDelay = 1 * time.Second
	WriteWait      = 10 * time.Second
	PongWait       = 60 * time.Second
	PingPeriod     = (PongWait * 9) / 10
	MaxMessageSize = 8192

	// HTTP boundary
	RequestTimeout = 15 * time.Second
)

// Config is the environment-derived client configuration, loaded by the
// binaries after godotenv has populated the process environment.
type Config struct {
	ServerURL string // base URL of the chat service, e.g. http://localhost:8000
	TokenPath string // durable local storage for the auth token
}

// FromEnv reads the configuration from the environment, falling back to
// development defaults.
func FromEnv() Config {
	cfg := Config{
		ServerURL: os.Getenv("WHISPR_SERVER_URL"),
		TokenPath: os.Getenv("WHISPR_TOKEN_PATH"),
	}
	if cfg.ServerURL == "" {
		cfg.ServerURL = "http://localhost:8000"
	}
	if cfg.TokenPath == "" {
		cfg.TokenPath = ".whispr-token"
	}
	return cfg
}
