package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFrom_Defaults(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{})
	require.NoError(t, err)

	assert.Equal(t, 1000, cfg.Cache.MaxSize)
	assert.Equal(t, 5*time.Minute, cfg.Cache.DefaultTTL)
	assert.True(t, cfg.Cache.EnableStats)
	assert.True(t, cfg.Cache.EnableWarming)
	assert.Equal(t, time.Minute, cfg.Cache.SweepInterval)

	assert.Empty(t, cfg.Loader.BaseURL)
	assert.Equal(t, 4, cfg.Loader.MaxConcurrentLoads)
	assert.Equal(t, 30*time.Second, cfg.Loader.LoadTimeout)
	assert.True(t, cfg.Loader.EnableCaching)
	assert.Equal(t, "default", cfg.Loader.FederationScope)

	assert.Equal(t, "bindery-runtime", cfg.ServiceName)
	assert.Empty(t, cfg.NATSURL)
}

func TestLoadFrom_Overrides(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{
		"BINDERY_CACHE_MAX_SIZE":              "50",
		"BINDERY_CACHE_DEFAULT_TTL":           "30s",
		"BINDERY_CACHE_ENABLE_WARMING":        "false",
		"BINDERY_LOADER_BASE_URL":             "remote:9000",
		"BINDERY_LOADER_MAX_CONCURRENT_LOADS": "8",
		"BINDERY_LOADER_FEDERATION_SCOPE":     "shop",
		"BINDERY_NATS_URL":                    "nats://localhost:4222",
	})
	require.NoError(t, err)

	assert.Equal(t, 50, cfg.Cache.MaxSize)
	assert.Equal(t, 30*time.Second, cfg.Cache.DefaultTTL)
	assert.False(t, cfg.Cache.EnableWarming)
	assert.Equal(t, "remote:9000", cfg.Loader.BaseURL)
	assert.Equal(t, 8, cfg.Loader.MaxConcurrentLoads)
	assert.Equal(t, "shop", cfg.Loader.FederationScope)
	assert.Equal(t, "nats://localhost:4222", cfg.NATSURL)
}

func TestLoadFrom_Invalid(t *testing.T) {
	tests := map[string]map[string]string{
		"not a number":     {"BINDERY_CACHE_MAX_SIZE": "lots"},
		"zero size":        {"BINDERY_CACHE_MAX_SIZE": "0"},
		"negative timeout": {"BINDERY_LOADER_LOAD_TIMEOUT": "-1s"},
		"zero loads":       {"BINDERY_LOADER_MAX_CONCURRENT_LOADS": "0"},
		"bad duration":     {"BINDERY_CACHE_DEFAULT_TTL": "soon"},
	}
	for name, vars := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := LoadFrom(vars)
			assert.Error(t, err)
		})
	}
}

func TestLoad_ReadsProcessEnvironment(t *testing.T) {
	t.Setenv("BINDERY_CACHE_MAX_SIZE", "7")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Cache.MaxSize)
}
