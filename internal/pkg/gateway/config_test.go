package gateway

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("GATEWAY_BASE_URL", "https://pay.example.test/api/")
	t.Setenv("GATEWAY_ACCESS_KEY", " key ")
	t.Setenv("GATEWAY_SECRET", "secret")
	t.Setenv("GATEWAY_TIMEOUT_SECONDS", "7")

	cfg := ConfigFromEnv()
	assert.Equal(t, "https://pay.example.test/api", cfg.BaseURL)
	assert.Equal(t, "key", cfg.AccessKey)
	assert.Equal(t, 7*time.Second, cfg.Timeout)
	require.NoError(t, cfg.Validate())
}

func TestConfigValidateNamesMissingValues(t *testing.T) {
	err := Config{BaseURL: "https://pay.example.test"}.Validate()
	require.ErrorIs(t, err, ErrMissingConfig)
	assert.Contains(t, err.Error(), "GATEWAY_ACCESS_KEY")
	assert.Contains(t, err.Error(), "GATEWAY_SECRET")
	assert.NotContains(t, err.Error(), "GATEWAY_BASE_URL")
}
