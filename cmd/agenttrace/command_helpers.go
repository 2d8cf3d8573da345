package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ongoingai/agenttrace/internal/config"
	"github.com/ongoingai/agenttrace/store"
)

const (
	configStageLoad     = "load"
	configStageValidate = "validate"
)

// normalizeTextJSONFormat validates command output format flags with shared semantics.
func normalizeTextJSONFormat(command, rawValue, defaultValue string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(rawValue))
	if normalized == "" {
		normalized = strings.TrimSpace(defaultValue)
	}
	switch normalized {
	case "text", "json":
		return normalized, nil
	default:
		return "", fmt.Errorf("invalid %s format %q: expected text or json", strings.TrimSpace(command), rawValue)
	}
}

// loadAndValidateConfig resolves config and reports which stage failed.
func loadAndValidateConfig(configPath string) (config.Config, string, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, configStageLoad, err
	}
	if err := config.Validate(cfg); err != nil {
		return config.Config{}, configStageValidate, err
	}
	return cfg, "", nil
}

func openStore(ctx context.Context, cfg config.Config) (store.Store, error) {
	switch strings.TrimSpace(cfg.Storage.Driver) {
	case "sqlite":
		return store.NewSQLiteStore(cfg.Storage.Path)
	case "postgres":
		return store.NewPostgresStore(ctx, cfg.Storage.DSN)
	default:
		return nil, fmt.Errorf("unsupported storage.driver %q", cfg.Storage.Driver)
	}
}

func closeStoreWithWarning(s store.Store, errOut io.Writer) {
	if s == nil {
		return
	}
	if err := s.Close(); err != nil {
		fmt.Fprintf(errOut, "warning: failed to close store: %v\n", err)
	}
}

// parseTimeFlag accepts RFC3339 or YYYY-MM-DD. Date-only values resolve to
// midnight UTC, or end of day when endOfDay is set.
func parseTimeFlag(raw string, endOfDay bool) (time.Time, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return time.Time{}, nil
	}
	if parsed, err := time.Parse(time.RFC3339, value); err == nil {
		return parsed.UTC(), nil
	}
	parsed, err := time.Parse("2006-01-02", value)
	if err != nil {
		return time.Time{}, fmt.Errorf("expected RFC3339 or YYYY-MM-DD (got %q)", raw)
	}
	if endOfDay {
		return parsed.UTC().Add(24*time.Hour - time.Nanosecond), nil
	}
	return parsed.UTC(), nil
}
