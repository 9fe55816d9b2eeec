// Package subscription implements the streaming side of the SDK protocol
// layer: long-lived GraphQL subscriptions multiplexed over one WebSocket
// connection per client, with reconnection and session resubmission.
package subscription

import (
	"encoding/json"
	"log/slog"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kili-technology/kili-python-sdk-sub002/config"
	"github.com/kili-technology/kili-python-sdk-sub002/errors"
	"github.com/kili-technology/kili-python-sdk-sub002/metric"
)

// Client manages subscriptions against one endpoint over a shared socket.
type Client struct {
	socket *Socket
	logger *slog.Logger
}

// Option configures a subscription Client.
type Option func(*options)

type options struct {
	dialer      *websocket.Dialer
	logger      *slog.Logger
	metrics     *Metrics
	maxFailures int
}

// WithDialer substitutes the websocket dialer, mainly for tests.
func WithDialer(d *websocket.Dialer) Option {
	return func(o *options) { o.dialer = d }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithMetricsRegistry enables Prometheus metrics on the given registry.
func WithMetricsRegistry(registry *metric.Registry) Option {
	return func(o *options) { o.metrics = newMetrics(registry) }
}

// WithMaxReconnectFailures overrides the consecutive-failure cap of the
// receive loop. Every lost connection and every failed redial counts one
// failure; the count resets on the first successful receive. A cap of n
// allows n-1 redial attempts between successful receives, so n must be at
// least 2 for any reconnection to happen.
func WithMaxReconnectFailures(n int) Option {
	return func(o *options) { o.maxFailures = n }
}

// NewClient builds a subscription client for the configured endpoint. The
// connection is not dialed until the first Subscribe call.
func NewClient(cfg config.Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	wsURL, err := websocketURL(cfg.Endpoint)
	if err != nil {
		return nil, err
	}

	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	logger := o.logger.With("component", "subscription-client")

	authorization := "X-API-Key: " + cfg.APIKey
	return &Client{
		socket: newSocket(wsURL, authorization, o.dialer, logger, o.metrics, o.maxFailures),
		logger: logger,
	}, nil
}

// Subscribe opens a logical session for the query and streams data payloads
// to the callback until the session is stopped, the server sends a terminal
// frame, or the reconnect budget is exhausted.
func (c *Client) Subscribe(query string, variables map[string]any, headers map[string]string, cb Callback) (*Session, error) {
	if cb == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Client", "Subscribe",
			"callback is required")
	}
	return c.socket.subscribe(query, variables, headers, cb)
}

// ConnectionAge returns the time since the socket was last (re)established.
func (c *Client) ConnectionAge() time.Duration {
	return c.socket.ConnectionAge()
}

// Close tears down the socket unconditionally. All sessions stop receiving
// callbacks.
func (c *Client) Close() {
	c.socket.Close()
}

// websocketURL rewrites the GraphQL endpoint scheme for the websocket
// transport: http becomes ws, https becomes wss.
func websocketURL(endpoint string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", errors.WrapInvalid(err, "Client", "websocketURL", "parse endpoint")
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
		// already a websocket URL
	default:
		return "", errors.WrapInvalid(errors.ErrInvalidConfig, "Client", "websocketURL",
			"endpoint scheme must be http(s) or ws(s)")
	}
	return u.String(), nil
}

// RawPayload decodes the "data" member of a subscription payload into v.
// Payloads arrive as {"data": ...} envelopes mirroring query responses.
func RawPayload(payload json.RawMessage, v any) error {
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return errors.WrapInvalid(err, "Session", "RawPayload", "decode payload envelope")
	}
	if len(envelope.Data) == 0 {
		return errors.WrapInvalid(errors.ErrEmptyResponse, "Session", "RawPayload", "read data member")
	}
	return json.Unmarshal(envelope.Data, v)
}
