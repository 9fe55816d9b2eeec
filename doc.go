// Package kili is the Go protocol layer for the Kili labeling platform:
// a GraphQL query client and a WebSocket subscription client sharing one
// configuration, credential set and error taxonomy.
//
// # Architecture
//
// The module is organised in layers:
//
//	client        ties both transports into one Session
//	graphql       query/mutation execution over HTTP: schema caching,
//	              local pre-validation, stale-schema recovery, rate
//	              limiting, transient-failure retry
//	subscription  long-lived subscriptions multiplexed over a single
//	              WebSocket connection with reconnection
//	config        configuration from explicit values and environment
//	errors        error classification (transient, invalid, auth, fatal)
//	metric        Prometheus collector registration
//	pkg/retry     bounded exponential-backoff retry
//	pkg/ratelimit rolling-window call admission
//
// # Quick start
//
//	cfg := config.Default()
//	cfg.APIKey = os.Getenv("KILI_API_KEY")
//
//	session, err := client.New(ctx, cfg)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer session.Close()
//
//	data, err := session.Execute(ctx, query, variables)
//
// Recovery behavior is driven by the error class: transient failures are
// retried with backoff, permanent input rejections and authentication
// failures surface immediately, and a cached schema that rejects a query
// triggers a one-shot refresh against the live backend before the query is
// either executed or rejected for good.
package kili
