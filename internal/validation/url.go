// Package validation checks URLs that arrive through configuration.
package validation

import (
	"fmt"
	"net/url"
	"strings"
)

// URLError names the setting that carried a bad URL.
type URLError struct {
	Field   string
	Message string
	URL     string
}

func (e URLError) Error() string {
	return fmt.Sprintf("%s: %s (url: %s)", e.Field, e.Message, e.URL)
}

// Endpoint accepts an absolute http or https URL. Empty is allowed.
func Endpoint(raw, field string, requireHTTPS bool) error {
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return URLError{Field: field, Message: "invalid URL format", URL: raw}
	}
	if u.Scheme == "" {
		return URLError{Field: field, Message: "URL must include a scheme (http:// or https://)", URL: raw}
	}
	if u.Host == "" {
		return URLError{Field: field, Message: "URL must include a host", URL: raw}
	}

	scheme := strings.ToLower(u.Scheme)
	if requireHTTPS && scheme != "https" {
		return URLError{Field: field, Message: "URL must use HTTPS in production", URL: raw}
	}
	if scheme != "http" && scheme != "https" {
		return URLError{Field: field, Message: "URL scheme must be http or https", URL: raw}
	}
	return nil
}

// Origin accepts a browser origin: scheme and host, optional port, nothing
// else. The wildcard "*" is accepted as is.
func Origin(raw, field string) error {
	if raw == "*" {
		return nil
	}
	if raw == "" {
		return URLError{Field: field, Message: "origin must not be empty", URL: raw}
	}
	if err := Endpoint(raw, field, false); err != nil {
		return err
	}

	u, _ := url.Parse(raw)
	switch {
	case u.Path != "" && u.Path != "/":
		return URLError{Field: field, Message: "origin must not contain a path", URL: raw}
	case u.RawQuery != "":
		return URLError{Field: field, Message: "origin must not contain query parameters", URL: raw}
	case u.Fragment != "":
		return URLError{Field: field, Message: "origin must not contain a fragment", URL: raw}
	case u.User != nil:
		return URLError{Field: field, Message: "origin must not contain credentials", URL: raw}
	}
	return nil
}
