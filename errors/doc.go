// Package errors implements the error taxonomy shared by the query and
// subscription clients.
//
// Errors are classified into four classes that drive recovery behavior:
//
//   - Transient: infrastructure failures unrelated to the query's validity.
//     Retried with bounded backoff, each attempt re-admitted through the
//     rate limiter.
//   - Invalid: the query or variables were rejected, either by local schema
//     validation or by the server. Never retried (local rejections trigger
//     the one-shot stale-schema recovery before being deemed permanent).
//   - Auth: authentication or authorization failures. Surfaced immediately.
//   - Fatal: unrecoverable conditions such as a failed cache write when
//     caching was explicitly requested.
//
// Classification prefers structured information (a ClassifiedError produced
// from a GraphQL extensions.code) over message-content sniffing, which is
// retained only as a best-effort fallback for unclassified errors.
package errors
