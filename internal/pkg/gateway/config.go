package gateway

import (
	"fmt"
	"strings"
	"time"

	"github.com/ManuelReschke/paysettle/internal/pkg/env"
)

const defaultTimeout = 15 * time.Second

// Config holds the gateway credentials and endpoint.
type Config struct {
	BaseURL   string
	AccessKey string
	Secret    string
	Timeout   time.Duration
}

// ConfigFromEnv reads GATEWAY_* variables.
func ConfigFromEnv() Config {
	timeout := defaultTimeout
	if secs := env.GetEnvInt("GATEWAY_TIMEOUT_SECONDS", 0); secs > 0 {
		timeout = time.Duration(secs) * time.Second
	}
	return Config{
		BaseURL:   strings.TrimRight(strings.TrimSpace(env.GetEnv("GATEWAY_BASE_URL", "")), "/"),
		AccessKey: strings.TrimSpace(env.GetEnv("GATEWAY_ACCESS_KEY", "")),
		Secret:    strings.TrimSpace(env.GetEnv("GATEWAY_SECRET", "")),
		Timeout:   timeout,
	}
}

// Validate reports which required value is missing.
func (c Config) Validate() error {
	var missing []string
	if c.BaseURL == "" {
		missing = append(missing, "GATEWAY_BASE_URL")
	}
	if c.AccessKey == "" {
		missing = append(missing, "GATEWAY_ACCESS_KEY")
	}
	if c.Secret == "" {
		missing = append(missing, "GATEWAY_SECRET")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingConfig, strings.Join(missing, ", "))
	}
	return nil
}
