// Package graphql implements the query/mutation client of the SDK protocol
// layer: request/response execution over HTTP with local schema
// pre-validation, on-disk schema caching, stale-schema recovery, rate
// limiting and bounded transient-failure retry.
package graphql

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vektah/gqlparser/v2/ast"

	"github.com/kili-technology/kili-python-sdk-sub002/config"
	"github.com/kili-technology/kili-python-sdk-sub002/errors"
	"github.com/kili-technology/kili-python-sdk-sub002/metric"
	"github.com/kili-technology/kili-python-sdk-sub002/pkg/ratelimit"
	"github.com/kili-technology/kili-python-sdk-sub002/pkg/retry"
)

// Identity headers naming the calling client and its release.
const (
	headerClientName    = "apollographql-client-name"
	headerClientVersion = "apollographql-client-version"
)

// Client executes GraphQL queries and mutations against one endpoint.
// It is safe for concurrent use by multiple goroutines: the schema handle is
// replaced atomically and the rate limiter state is synchronized.
type Client struct {
	endpoint      *url.URL
	apiKey        string
	clientName    string
	clientVersion string

	httpClient *http.Client
	limiter    *ratelimit.Limiter
	retryCfg   retry.Config
	logger     *slog.Logger
	metrics    *Metrics

	cache            *Cache
	cachingRequested bool
	cachingEnabled   bool
	backendVersion   string

	// schema is the active SchemaHandle; nil means remote-only validation.
	// Replaced wholesale during stale-schema recovery, guarded by schemaMu
	// so only one goroutine refreshes at a time.
	schema   atomic.Pointer[SchemaHandle]
	schemaMu sync.Mutex

	opaqueFields map[string]bool
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient substitutes the HTTP client, mainly for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLimiter injects the process-wide rate limiter shared across clients.
func WithLimiter(l *ratelimit.Limiter) Option {
	return func(c *Client) { c.limiter = l }
}

// WithRetryConfig overrides the transient-failure retry budget.
func WithRetryConfig(cfg retry.Config) Option {
	return func(c *Client) { c.retryCfg = cfg }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger.With("component", "graphql-client") }
}

// WithMetricsRegistry enables Prometheus metrics on the given registry.
func WithMetricsRegistry(registry *metric.Registry) Option {
	return func(c *Client) { c.metrics = newMetrics(registry) }
}

// WithOpaqueFields overrides the set of filter fields whose values bypass
// null stripping.
func WithOpaqueFields(fields []string) Option {
	return func(c *Client) {
		c.opaqueFields = make(map[string]bool, len(fields))
		for _, f := range fields {
			c.opaqueFields[f] = true
		}
	}
}

// NewClient builds a query client and performs construction-time schema
// acquisition: version discovery, cache lookup, and introspection on a miss.
// When the version endpoint is unreachable or malformed, caching is disabled
// for the session and every call falls back to remote-only validation.
func NewClient(ctx context.Context, cfg config.Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	endpoint, err := url.Parse(cfg.Endpoint)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Client", "NewClient", "parse endpoint")
	}

	c := &Client{
		endpoint:         endpoint,
		apiKey:           cfg.APIKey,
		clientName:       cfg.ClientName,
		clientVersion:    cfg.ClientVersion,
		retryCfg:         retry.DefaultConfig(),
		logger:           slog.Default().With("component", "graphql-client"),
		cachingRequested: cfg.EnableSchemaCaching,
		opaqueFields:     defaultOpaqueFields,
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.httpClient == nil {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		if !cfg.VerifyTLS {
			transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // caller opted out
		}
		c.httpClient = &http.Client{Transport: transport, Timeout: cfg.Timeout}
	}
	if c.limiter == nil {
		c.limiter = ratelimit.New(cfg.MaxCallsPerWindow, cfg.Window, cfg.MaxRateLimitWait)
	}

	if c.cachingRequested {
		c.cache, err = NewCache(cfg.CacheDir, c.logger)
		if err != nil {
			return nil, err
		}
		if err := c.acquireSchema(ctx); err != nil {
			return nil, err
		}
	}

	return c, nil
}

// Execute runs one query/mutation. Null-valued entries of "where"-style
// filters are stripped, the call is admitted through the rate limiter, and
// the error taxonomy drives recovery: local validation rejections trigger a
// one-shot stale-schema recovery, transient infrastructure failures are
// retried up to the attempt budget, permanent and auth failures surface
// immediately.
func (c *Client) Execute(ctx context.Context, query string, variables map[string]any) (json.RawMessage, error) {
	start := time.Now()
	vars := stripNullVariables(variables, c.opaqueFields)

	if err := c.preValidate(ctx, query); err != nil {
		c.observe("rejected", start)
		return nil, err
	}

	attempt := 0
	data, err := retry.DoWithResult(ctx, c.retryCfg, func() (json.RawMessage, error) {
		attempt++
		if attempt > 1 {
			if c.metrics != nil {
				c.metrics.retriesTotal.Inc()
			}
			c.logger.Warn("retrying call after transient failure", "attempt", attempt)
		}

		if err := c.limiter.Acquire(ctx); err != nil {
			return nil, retry.NonRetryable(
				errors.Wrap(err, "Client", "Execute", "rate limiter admission"))
		}

		payload, err := c.post(ctx, query, vars)
		if err != nil {
			if errors.IsTransient(err) {
				return nil, err
			}
			return nil, retry.NonRetryable(err)
		}
		return payload, nil
	})

	if err != nil {
		c.observe("error", start)
		return nil, err
	}
	c.observe("ok", start)
	return data, nil
}

// SchemaLoaded reports whether a schema is available for local validation.
func (c *Client) SchemaLoaded() bool {
	return c.schema.Load() != nil
}

// Schema returns the active schema handle, or nil when the session runs
// without local validation.
func (c *Client) Schema() *SchemaHandle {
	return c.schema.Load()
}

// ValidateQuery checks a query against the loaded schema without executing
// it. With no schema loaded every query passes; the server is the only
// validator then.
func (c *Client) ValidateQuery(query string) error {
	handle := c.schema.Load()
	if handle == nil {
		return nil
	}
	if errs := validateQuery(handle.Schema, query); len(errs) > 0 {
		return errors.WrapInvalid(errs, "Client", "ValidateQuery", "query validation")
	}
	return nil
}

// CachingEnabled reports whether schema caching is active for this session.
func (c *Client) CachingEnabled() bool {
	return c.cachingEnabled
}

// BackendVersion returns the discovered backend build version, or "".
func (c *Client) BackendVersion() string {
	return c.backendVersion
}

// acquireSchema performs construction-time schema acquisition.
func (c *Client) acquireSchema(ctx context.Context) error {
	version, err := fetchBackendVersion(ctx, c.httpClient, c.endpoint)
	if err != nil {
		// Version discovery failed: the session runs without caching and
		// without local pre-validation.
		c.logger.Warn("backend version discovery failed, schema caching disabled", "error", err)
		c.cachingEnabled = false
		return nil
	}
	c.backendVersion = version
	c.cachingEnabled = true

	host := c.endpoint.Host
	if sdl, ok := c.cache.Load(host, version); ok {
		schema, err := parseSDL(sdl, c.cache.Path(host, version))
		if err == nil {
			c.schema.Store(&SchemaHandle{
				Schema:    schema,
				CachePath: c.cache.Path(host, version),
				LoadedAt:  time.Now(),
			})
			c.logger.Debug("schema loaded from cache", "host", host, "version", version)
			return nil
		}
		// An unparsable cache file is equivalent to a miss.
		c.logger.Warn("cached schema unusable, re-introspecting", "error", err)
	}

	// Miss: drop entries for older backend versions of this host, then
	// introspect and persist before first use.
	c.cache.PurgeHost(host)

	schema, sdl, err := c.introspect(ctx)
	if err != nil {
		return err
	}
	if err := c.cache.Store(host, version, sdl); err != nil {
		// Caching was explicitly requested, so a write failure is fatal.
		return errors.WrapFatal(err, "Client", "acquireSchema", "persist schema cache entry")
	}
	c.schema.Store(&SchemaHandle{
		Schema:    schema,
		CachePath: c.cache.Path(host, version),
		LoadedAt:  time.Now(),
	})
	return nil
}

// preValidate checks the query against the loaded schema. When the cached
// schema rejects it, the one-shot stale-schema recovery runs: a fresh
// introspection decides whether the schema was stale (cache invalidated and
// handle replaced, call proceeds) or the query is genuinely malformed
// (permanent error, cache left untouched).
func (c *Client) preValidate(ctx context.Context, query string) error {
	handle := c.schema.Load()
	if handle == nil {
		return nil // remote-only validation
	}

	errs := validateQuery(handle.Schema, query)
	if len(errs) == 0 {
		return nil
	}

	c.schemaMu.Lock()
	defer c.schemaMu.Unlock()

	// Another goroutine may have refreshed while we waited on the lock.
	if current := c.schema.Load(); current != handle {
		if len(validateQuery(current.Schema, query)) == 0 {
			return nil
		}
		return errors.WrapInvalid(errs, "Client", "Execute", "query validation")
	}

	c.logger.Info("cached schema rejected query, checking for staleness")

	freshSchema, sdl, err := c.introspect(ctx)
	if err != nil {
		return err
	}

	if freshErrs := validateQuery(freshSchema, query); len(freshErrs) > 0 {
		// The live schema rejects it too: the query is malformed, the cache
		// stays as-is.
		return errors.WrapInvalid(freshErrs, "Client", "Execute", "query validation")
	}

	// Stale schema confirmed. Invalidate the cache directory, persist the
	// fresh document, and swap the handle atomically. Retried exactly once
	// by virtue of the call proceeding below; a second rejection would have
	// been caught above.
	c.cache.Invalidate()
	host := c.endpoint.Host
	if err := c.cache.Store(host, c.backendVersion, sdl); err != nil {
		return errors.WrapFatal(err, "Client", "preValidate", "persist refreshed schema")
	}
	c.schema.Store(&SchemaHandle{
		Schema:    freshSchema,
		CachePath: c.cache.Path(host, c.backendVersion),
		LoadedAt:  time.Now(),
	})
	if c.metrics != nil {
		c.metrics.schemaRefreshTotal.Inc()
	}
	c.logger.Info("stale schema replaced", "host", host, "version", c.backendVersion)
	return nil
}

// introspect fetches the live schema and returns it parsed plus as SDL text.
func (c *Client) introspect(ctx context.Context) (*ast.Schema, string, error) {
	if c.metrics != nil {
		c.metrics.introspectionTotal.Inc()
	}

	raw, err := c.post(ctx, introspectionQuery, nil)
	if err != nil {
		return nil, "", errors.Wrap(err, "Client", "introspect", "introspection call")
	}

	data, err := decodeIntrospection(raw)
	if err != nil {
		return nil, "", err
	}

	sdl, err := renderSDL(data)
	if err != nil {
		return nil, "", err
	}

	schema, err := parseSDL(sdl, c.endpoint.Host)
	if err != nil {
		return nil, "", err
	}
	return schema, sdl, nil
}

// graphqlRequest is the HTTP POST body for one operation.
type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

// graphqlResponse is the HTTP response envelope.
type graphqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors ErrorList       `json:"errors,omitempty"`
}

// post sends one request and classifies the outcome.
func (c *Client) post(ctx context.Context, query string, variables map[string]any) (json.RawMessage, error) {
	body, err := json.Marshal(graphqlRequest{Query: query, Variables: variables})
	if err != nil {
		return nil, errors.WrapInvalid(err, "Client", "post", "encode request body")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint.String(), bytes.NewReader(body))
	if err != nil {
		return nil, errors.WrapInvalid(err, "Client", "post", "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "X-API-Key: "+c.apiKey)
	req.Header.Set(headerClientName, c.clientName)
	req.Header.Set(headerClientVersion, c.clientVersion)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.WrapTransient(err, "Client", "post", "send request")
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.WrapTransient(err, "Client", "post", "read response body")
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, errors.WrapAuth(errors.ErrUnauthorized, "Client", "post", "authenticate")
	case resp.StatusCode == http.StatusForbidden:
		return nil, errors.WrapAuth(errors.ErrForbidden, "Client", "post", "authorize")
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, errors.WrapTransient(
			fmt.Errorf("server returned status %d", resp.StatusCode),
			"Client", "post", "execute call")
	}

	var envelope graphqlResponse
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return nil, errors.WrapTransient(err, "Client", "post", "decode response envelope")
	}

	if len(envelope.Errors) > 0 {
		return nil, classifyResponseErrors(envelope.Errors)
	}
	if len(envelope.Data) == 0 || string(envelope.Data) == "null" {
		return nil, errors.WrapTransient(errors.ErrEmptyResponse, "Client", "post", "read data payload")
	}

	return envelope.Data, nil
}

func (c *Client) observe(status string, start time.Time) {
	if c.metrics == nil {
		return
	}
	c.metrics.requestsTotal.WithLabelValues(status).Inc()
	c.metrics.requestDuration.Observe(time.Since(start).Seconds())
}
