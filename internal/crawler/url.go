package crawler

import (
	"fmt"
	"net/url"
	"strings"
)

// secretParams are query parameters that must never reach logs or errors.
var secretParams = []string{"key", "access_token", "api_key"}

// BuildURL joins base and path segments and attaches the query.
func BuildURL(base string, query url.Values, segments ...string) (string, error) {
	if strings.TrimSpace(base) == "" {
		return "", fmt.Errorf("base url is required")
	}
	joined, err := url.JoinPath(base, segments...)
	if err != nil {
		return "", fmt.Errorf("join url: %w", err)
	}
	if len(query) == 0 {
		return joined, nil
	}
	return joined + "?" + query.Encode(), nil
}

func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	changed := false
	for _, name := range secretParams {
		if q.Has(name) {
			q.Set(name, "REDACTED")
			changed = true
		}
	}
	if !changed {
		return raw
	}
	u.RawQuery = q.Encode()
	return u.String()
}
