// Package config resolves SDK configuration from explicit values and
// environment variables.
package config

import (
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/kili-technology/kili-python-sdk-sub002/errors"
)

// Default endpoint and identity values.
const (
	DefaultEndpoint = "https://cloud.kili-technology.com/api/label/v2/graphql"
	DefaultTimeout  = 30 * time.Second

	// ClientNameSDK tags calls issued by SDK users; CLI and internal callers
	// override it so the backend can tell the populations apart.
	ClientNameSDK      = "sdk"
	ClientNameCLI      = "cli"
	ClientNameInternal = "internal"
)

// Config holds everything a ClientSession needs to talk to the backend.
type Config struct {
	// Endpoint is the GraphQL HTTP endpoint URL.
	Endpoint string
	// APIKey is sent as the authorization header value on every call.
	APIKey string
	// ClientName identifies the caller population (sdk, cli, internal).
	ClientName string
	// ClientVersion is the SDK release carried in the version identity header.
	ClientVersion string
	// VerifyTLS controls certificate verification on the HTTP transport.
	VerifyTLS bool
	// Timeout bounds each HTTP request.
	Timeout time.Duration
	// CacheDir is the root directory for on-disk schema cache files.
	// Empty selects the per-user default below the OS cache dir.
	CacheDir string
	// EnableSchemaCaching requests local schema caching and pre-validation.
	// When set, a cache write failure is fatal; when the backend version
	// cannot be discovered, caching is silently disabled for the session.
	EnableSchemaCaching bool

	// Rate limiter quota shared by every client built from this config.
	MaxCallsPerWindow int
	Window            time.Duration
	MaxRateLimitWait  time.Duration
}

// Default returns a config with production defaults. APIKey is left empty
// and must come from the caller or the environment.
func Default() Config {
	return Config{
		Endpoint:            DefaultEndpoint,
		ClientName:          ClientNameSDK,
		ClientVersion:       "dev",
		VerifyTLS:           true,
		Timeout:             DefaultTimeout,
		EnableSchemaCaching: true,
	}
}

// FromEnv resolves a config from environment variables layered over the
// defaults. Recognized variables:
//
//	KILI_API_ENDPOINT    GraphQL endpoint URL
//	KILI_API_KEY         authorization header value
//	KILI_SDK_CACHE_DIR   schema cache root directory
//	KILI_VERIFY_TLS      "false" disables certificate verification
//	KILI_CLIENT_NAME     caller identity tag (sdk, cli, internal)
func FromEnv() (Config, error) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	_ = v.BindEnv("endpoint", "KILI_API_ENDPOINT")
	_ = v.BindEnv("api_key", "KILI_API_KEY")
	_ = v.BindEnv("cache_dir", "KILI_SDK_CACHE_DIR")
	_ = v.BindEnv("verify_tls", "KILI_VERIFY_TLS")
	_ = v.BindEnv("client_name", "KILI_CLIENT_NAME")

	v.SetDefault("endpoint", DefaultEndpoint)
	v.SetDefault("verify_tls", true)
	v.SetDefault("client_name", ClientNameSDK)

	cfg := Default()
	cfg.Endpoint = v.GetString("endpoint")
	cfg.APIKey = v.GetString("api_key")
	cfg.CacheDir = v.GetString("cache_dir")
	cfg.VerifyTLS = v.GetBool("verify_tls")
	cfg.ClientName = v.GetString("client_name")

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration for errors.
func (c Config) Validate() error {
	if c.Endpoint == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "endpoint is required")
	}

	u, err := url.Parse(c.Endpoint)
	if err != nil {
		return errors.WrapInvalid(err, "Config", "Validate", "parse endpoint URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"endpoint scheme must be http or https")
	}
	if u.Host == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"endpoint host is empty")
	}

	if c.APIKey == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "api key is required")
	}

	switch c.ClientName {
	case ClientNameSDK, ClientNameCLI, ClientNameInternal:
	case "":
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "client name is required")
	default:
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"client name must be one of sdk, cli, internal")
	}

	if c.Timeout < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"timeout cannot be negative")
	}

	return nil
}
