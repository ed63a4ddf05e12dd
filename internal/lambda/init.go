// Package lambda holds the shared wiring for qualityloop's AWS Lambda handlers.
package lambda

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"
)

// Environment variables read by Init.
const (
	EnvServerURL = "QUALITYLOOP_URL"
	EnvAPIKey    = "QUALITYLOOP_API_KEY"
	EnvTimeout   = "FORWARD_TIMEOUT"
	EnvLogLevel  = "LOG_LEVEL"
)

// Deps holds shared dependencies for Lambda handlers.
type Deps struct {
	Forwarder *Forwarder
	Logger    *slog.Logger
}

// Init creates shared dependencies from environment variables.
// Reads: QUALITYLOOP_URL, QUALITYLOOP_API_KEY, FORWARD_TIMEOUT, LOG_LEVEL
func Init(_ context.Context) (*Deps, error) {
	var level slog.Level
	if v := os.Getenv(EnvLogLevel); v != "" {
		if err := level.UnmarshalText([]byte(strings.ToUpper(v))); err != nil {
			return nil, fmt.Errorf("invalid %s %q: %w", EnvLogLevel, v, err)
		}
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	baseURL := os.Getenv(EnvServerURL)
	if baseURL == "" {
		return nil, fmt.Errorf("%s environment variable required", EnvServerURL)
	}
	timeout, err := time.ParseDuration(envOrDefault(EnvTimeout, "10s"))
	if err != nil || timeout <= 0 {
		return nil, fmt.Errorf("invalid %s: %q", EnvTimeout, os.Getenv(EnvTimeout))
	}

	return &Deps{
		Forwarder: NewForwarder(baseURL, os.Getenv(EnvAPIKey), timeout),
		Logger:    logger,
	}, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
