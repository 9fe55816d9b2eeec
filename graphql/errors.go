package graphql

import (
	"fmt"
	"strings"

	"github.com/kili-technology/kili-python-sdk-sub002/errors"
)

// ResponseError is one entry of the errors array in a GraphQL response.
type ResponseError struct {
	Message    string         `json:"message"`
	Path       []any          `json:"path,omitempty"`
	Extensions map[string]any `json:"extensions,omitempty"`
}

// Code returns the structured error code from extensions, or "".
func (e ResponseError) Code() string {
	if e.Extensions == nil {
		return ""
	}
	code, _ := e.Extensions["code"].(string)
	return code
}

func (e ResponseError) Error() string {
	if code := e.Code(); code != "" {
		return fmt.Sprintf("%s: %s", code, e.Message)
	}
	return e.Message
}

// ErrorList aggregates the errors array of a response.
type ErrorList []ResponseError

func (l ErrorList) Error() string {
	msgs := make([]string, len(l))
	for i, e := range l {
		msgs[i] = e.Error()
	}
	return strings.Join(msgs, "; ")
}

// Error codes the backend attaches to extensions.code. Classification
// inspects these before falling back to message sniffing.
const (
	codeValidationFailed = "GRAPHQL_VALIDATION_FAILED"
	codeParseFailed      = "GRAPHQL_PARSE_FAILED"
	codeBadUserInput     = "BAD_USER_INPUT"
	codeUnauthenticated  = "UNAUTHENTICATED"
	codeForbidden        = "FORBIDDEN"
	codeInternalError    = "INTERNAL_SERVER_ERROR"
)

// classifyResponseErrors maps the server's errors array onto the SDK error
// taxonomy. A payload indicating the client supplied a wrong argument or
// query shape is permanent; a payload indicating an unrelated backend
// subsystem failed while resolving is transient.
func classifyResponseErrors(list ErrorList) error {
	if len(list) == 0 {
		return nil
	}

	// A single permanent or auth entry decides the whole response: retrying
	// cannot make the rejected part valid.
	for _, e := range list {
		switch e.Code() {
		case codeValidationFailed, codeParseFailed, codeBadUserInput:
			return errors.WrapInvalid(list, "Client", "Execute", "server rejected query")
		case codeUnauthenticated:
			return errors.WrapAuth(list, "Client", "Execute", "authentication")
		case codeForbidden:
			return errors.WrapAuth(list, "Client", "Execute", "authorization")
		}
	}

	for _, e := range list {
		if e.Code() == codeInternalError {
			return errors.WrapTransient(list, "Client", "Execute", "backend resolution")
		}
	}

	// No structured code: best-effort message sniffing, documented fallback.
	for _, e := range list {
		msg := strings.ToLower(e.Message)
		if strings.Contains(msg, "required type") ||
			strings.Contains(msg, "was not provided") ||
			strings.Contains(msg, "cannot query field") ||
			strings.Contains(msg, "unknown argument") {
			return errors.WrapInvalid(list, "Client", "Execute", "server rejected query")
		}
	}

	return errors.WrapTransient(list, "Client", "Execute", "unclassified server error")
}
