package lambda

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_MissingServerURL(t *testing.T) {
	t.Setenv(EnvServerURL, "")

	_, err := Init(t.Context())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), EnvServerURL)
}

func TestInit_InvalidTimeout(t *testing.T) {
	t.Setenv(EnvServerURL, "http://localhost:3000")
	t.Setenv(EnvTimeout, "soon")

	_, err := Init(t.Context())
	assert.ErrorContains(t, err, EnvTimeout)
}

func TestInit_InvalidLogLevel(t *testing.T) {
	t.Setenv(EnvServerURL, "http://localhost:3000")
	t.Setenv(EnvLogLevel, "chatty")

	_, err := Init(t.Context())
	assert.ErrorContains(t, err, EnvLogLevel)
}

func TestInit_OK(t *testing.T) {
	t.Setenv(EnvServerURL, "http://localhost:3000/")
	t.Setenv(EnvTimeout, "")
	t.Setenv(EnvLogLevel, "debug")

	d, err := Init(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:3000/api/samples", d.Forwarder.url)
}

func TestEnvOrDefault(t *testing.T) {
	t.Setenv("TEST_KEY", "custom")
	assert.Equal(t, "custom", envOrDefault("TEST_KEY", "fallback"))
	assert.Equal(t, "fallback", envOrDefault("TEST_KEY_UNSET", "fallback"))
}
