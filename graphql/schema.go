package graphql

import (
	"time"

	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"

	"github.com/kili-technology/kili-python-sdk-sub002/errors"
)

// SchemaHandle holds an in-memory parsed schema together with the cache file
// it was loaded from (empty when caching is disabled for the session).
//
// Handles are immutable once built: stale-schema recovery swaps the whole
// handle atomically, concurrent readers never observe a half-replaced schema.
type SchemaHandle struct {
	Schema    *ast.Schema
	CachePath string
	LoadedAt  time.Time
}

// parseSDL builds an executable schema from SDL text.
func parseSDL(sdl, sourceName string) (*ast.Schema, error) {
	schema, err := gqlparser.LoadSchema(&ast.Source{Name: sourceName, Input: sdl})
	if err != nil {
		return nil, errors.WrapInvalid(err, "SchemaHandle", "parseSDL", "load schema document")
	}
	return schema, nil
}

// validateQuery checks a query document against a schema without contacting
// the server. A nil return means the schema accepts the query.
func validateQuery(schema *ast.Schema, query string) gqlerror.List {
	_, errs := gqlparser.LoadQuery(schema, query)
	return errs
}
