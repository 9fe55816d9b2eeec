package graphql

import "strings"

// defaultOpaqueFields are filter fields carrying opaque JSON documents.
// Their values pass through untouched, a null there is meaningful to the
// backend rather than an unset filter.
var defaultOpaqueFields = map[string]bool{
	"jsonMetadata": true,
	"jsonResponse": true,
	"jsonContent":  true,
}

// stripNullVariables removes null-valued entries from nested "where"-style
// filter objects so unset optional filters never reach the wire. Values of
// opaque JSON fields are kept verbatim, nulls included. The input maps are
// not mutated.
func stripNullVariables(variables map[string]any, opaque map[string]bool) map[string]any {
	if variables == nil {
		return nil
	}
	if opaque == nil {
		opaque = defaultOpaqueFields
	}
	out := make(map[string]any, len(variables))
	for key, value := range variables {
		if isWhereKey(key) {
			out[key] = stripNulls(value, opaque)
		} else {
			out[key] = value
		}
	}
	return out
}

// stripNulls recursively removes null map entries, preserving opaque fields.
func stripNulls(value any, opaque map[string]bool) any {
	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, inner := range v {
			if opaque[key] {
				out[key] = inner
				continue
			}
			if inner == nil {
				continue
			}
			out[key] = stripNulls(inner, opaque)
		}
		return out
	case []any:
		out := make([]any, 0, len(v))
		for _, inner := range v {
			out = append(out, stripNulls(inner, opaque))
		}
		return out
	default:
		return value
	}
}

// isWhereKey reports whether a variable holds a "where"-style filter object.
func isWhereKey(key string) bool {
	return key == "where" || strings.HasSuffix(key, "Where")
}
