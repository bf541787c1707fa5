package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wzwatch/wenzheng-cli/internal/config"
)

// withTestConfig swaps the package-level config for the test's lifetime.
func withTestConfig(t *testing.T, c *config.Config) {
	t.Helper()
	orig := cfg
	cfg = c
	t.Cleanup(func() { cfg = orig })
}

func TestInitStore_SQLite(t *testing.T) {
	withTestConfig(t, &config.Config{
		Store: config.StoreConfig{
			Driver:      "sqlite",
			DatabaseURL: filepath.Join(t.TempDir(), "cli.db"),
		},
	})

	st, err := initStore(context.Background())
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck

	require.NoError(t, st.Migrate(context.Background()))
}

func TestInitStore_UnsupportedDriver(t *testing.T) {
	withTestConfig(t, &config.Config{
		Store: config.StoreConfig{Driver: "mysql"},
	})

	_, err := initStore(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported store driver")
}

func TestInitClient(t *testing.T) {
	withTestConfig(t, &config.Config{
		API: config.APIConfig{
			BaseURL:             "http://127.0.0.1:9",
			RatePerSec:          1,
			Burst:               1,
			TimeoutSecs:         5,
			RetryAttempts:       2,
			BreakerThreshold:    5,
			BreakerCooldownSecs: 30,
			UserAgent:           "test-agent",
			Headers:             map[string]string{"Origin": "https://example.org"},
		},
	})

	assert.NotNil(t, initClient())
}
