package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	cfg := Default()
	cfg.APIKey = "test-key"
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid defaults with key",
			mutate: func(*Config) {},
		},
		{
			name:    "missing endpoint",
			mutate:  func(c *Config) { c.Endpoint = "" },
			wantErr: "endpoint is required",
		},
		{
			name:    "bad scheme",
			mutate:  func(c *Config) { c.Endpoint = "ftp://example.com/graphql" },
			wantErr: "scheme must be http or https",
		},
		{
			name:    "missing api key",
			mutate:  func(c *Config) { c.APIKey = "" },
			wantErr: "api key is required",
		},
		{
			name:    "unknown client name",
			mutate:  func(c *Config) { c.ClientName = "robot" },
			wantErr: "client name must be one of",
		},
		{
			name:    "negative timeout",
			mutate:  func(c *Config) { c.Timeout = -time.Second },
			wantErr: "timeout cannot be negative",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestFromEnv(t *testing.T) {
	t.Setenv("KILI_API_ENDPOINT", "http://localhost:4000/api/label/v2/graphql")
	t.Setenv("KILI_API_KEY", "env-key")
	t.Setenv("KILI_VERIFY_TLS", "false")
	t.Setenv("KILI_SDK_CACHE_DIR", "/tmp/kili-schema")

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:4000/api/label/v2/graphql", cfg.Endpoint)
	assert.Equal(t, "env-key", cfg.APIKey)
	assert.False(t, cfg.VerifyTLS)
	assert.Equal(t, "/tmp/kili-schema", cfg.CacheDir)
	assert.Equal(t, ClientNameSDK, cfg.ClientName)
}

func TestFromEnv_MissingKey(t *testing.T) {
	t.Setenv("KILI_API_ENDPOINT", "http://localhost:4000/graphql")
	t.Setenv("KILI_API_KEY", "")

	_, err := FromEnv()
	assert.Error(t, err)
}
