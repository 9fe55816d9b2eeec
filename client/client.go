// Package client ties the query and subscription transports together behind
// one session object built from a single configuration.
package client

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/kili-technology/kili-python-sdk-sub002/config"
	"github.com/kili-technology/kili-python-sdk-sub002/graphql"
	"github.com/kili-technology/kili-python-sdk-sub002/metric"
	"github.com/kili-technology/kili-python-sdk-sub002/pkg/ratelimit"
	"github.com/kili-technology/kili-python-sdk-sub002/subscription"
)

// Session is the top-level SDK entry point. It owns a query client and a
// lazily constructed subscription client sharing the same credentials,
// logger and metrics registry.
type Session struct {
	cfg     config.Config
	logger  *slog.Logger
	metrics *metric.Registry

	queries       *graphql.Client
	subscriptions *subscription.Client
}

// Option configures a Session.
type Option func(*options)

type options struct {
	logger  *slog.Logger
	metrics *metric.Registry
	limiter *ratelimit.Limiter
}

// WithLogger sets the structured logger shared by both transports.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithMetricsRegistry enables Prometheus instrumentation on both transports.
func WithMetricsRegistry(registry *metric.Registry) Option {
	return func(o *options) { o.metrics = registry }
}

// WithLimiter substitutes the query rate limiter. The backend quota is per
// process, not per session: a process holding several Sessions must build
// one ratelimit.Limiter and pass it to each of them, otherwise every
// Session gets its own full quota.
func WithLimiter(l *ratelimit.Limiter) Option {
	return func(o *options) { o.limiter = l }
}

// New validates the configuration and constructs the session. Schema
// discovery for the query client runs here when caching is enabled, so a
// bad endpoint or key fails fast.
//
// Without WithLimiter each Session builds its own rate limiter from the
// config quota; see WithLimiter for sharing one quota across Sessions.
func New(ctx context.Context, cfg config.Config, opts ...Option) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.limiter == nil {
		o.limiter = ratelimit.New(cfg.MaxCallsPerWindow, cfg.Window, cfg.MaxRateLimitWait)
	}

	gqlOpts := []graphql.Option{
		graphql.WithLogger(o.logger),
		graphql.WithLimiter(o.limiter),
	}
	subOpts := []subscription.Option{
		subscription.WithLogger(o.logger),
	}
	if o.metrics != nil {
		gqlOpts = append(gqlOpts, graphql.WithMetricsRegistry(o.metrics))
		subOpts = append(subOpts, subscription.WithMetricsRegistry(o.metrics))
	}

	queries, err := graphql.NewClient(ctx, cfg, gqlOpts...)
	if err != nil {
		return nil, err
	}
	subscriptions, err := subscription.NewClient(cfg, subOpts...)
	if err != nil {
		return nil, err
	}

	return &Session{
		cfg:           cfg,
		logger:        o.logger,
		metrics:       o.metrics,
		queries:       queries,
		subscriptions: subscriptions,
	}, nil
}

// Execute runs a query or mutation through the rate-limited, retried query
// client and returns the raw data member.
func (s *Session) Execute(ctx context.Context, query string, variables map[string]any) (json.RawMessage, error) {
	return s.queries.Execute(ctx, query, variables)
}

// Subscribe opens a streaming session for a subscription operation.
func (s *Session) Subscribe(query string, variables map[string]any, headers map[string]string, cb subscription.Callback) (*subscription.Session, error) {
	return s.subscriptions.Subscribe(query, variables, headers, cb)
}

// Queries exposes the underlying query client for advanced use.
func (s *Session) Queries() *graphql.Client { return s.queries }

// ConnectionAge reports how long the subscription socket has been up.
func (s *Session) ConnectionAge() time.Duration {
	return s.subscriptions.ConnectionAge()
}

// Close shuts down the subscription socket. The query client is stateless
// beyond its HTTP transport and needs no teardown.
func (s *Session) Close() {
	s.subscriptions.Close()
}
