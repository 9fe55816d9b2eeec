package graphql

import (
	"io"
	"log/slog"
)

// testLogger discards output; failures are reported through testify, not logs.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
