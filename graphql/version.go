package graphql

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/kili-technology/kili-python-sdk-sub002/errors"
)

// versionPathSuffix replaces the GraphQL path suffix on the same host.
const (
	graphqlPathSuffix = "/graphql"
	versionPathSuffix = "/version"
)

// versionResponse is the payload of the version discovery endpoint.
type versionResponse struct {
	Version string `json:"version"`
}

// versionURL derives the version discovery URL from the GraphQL endpoint:
// same host, with the trailing /graphql swapped for /version.
func versionURL(endpoint *url.URL) string {
	u := *endpoint
	if strings.HasSuffix(u.Path, graphqlPathSuffix) {
		u.Path = strings.TrimSuffix(u.Path, graphqlPathSuffix) + versionPathSuffix
	} else {
		u.Path = strings.TrimRight(u.Path, "/") + versionPathSuffix
	}
	return u.String()
}

// fetchBackendVersion reads the backend's build version from the sibling
// metadata endpoint. Any transport or decoding failure is returned to the
// caller, which then disables schema caching for the session.
func fetchBackendVersion(ctx context.Context, client *http.Client, endpoint *url.URL) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, versionURL(endpoint), nil)
	if err != nil {
		return "", errors.Wrap(err, "Client", "fetchBackendVersion", "build request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return "", errors.WrapTransient(err, "Client", "fetchBackendVersion", "contact version endpoint")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", errors.WrapTransient(
			fmt.Errorf("version endpoint returned status %d", resp.StatusCode),
			"Client", "fetchBackendVersion", "read version")
	}

	var payload versionResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", errors.WrapInvalid(err, "Client", "fetchBackendVersion", "decode version payload")
	}
	if payload.Version == "" {
		return "", errors.WrapInvalid(errors.ErrEmptyResponse, "Client", "fetchBackendVersion",
			"version field missing")
	}

	return payload.Version, nil
}
