// Package origin derives names from the configured public origin.
package origin

import (
	"fmt"
	"net/url"
	"strings"
)

func parse(publicOrigin string) (*url.URL, error) {
	u, err := url.Parse(publicOrigin)
	if err != nil {
		return nil, fmt.Errorf("origin: invalid public origin: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("origin: public origin must be an absolute URL with scheme and host: %q", publicOrigin)
	}
	return u, nil
}

// Normalize lowercases scheme and host and drops a trailing slash. Default
// ports are kept. The result prefixes request URIs in auth callbacks.
func Normalize(publicOrigin string) (string, error) {
	if publicOrigin == "" {
		return "", nil
	}
	u, err := parse(publicOrigin)
	if err != nil {
		return "", err
	}
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host), nil
}

// Hostname returns the host without port, used to name TLS certificates.
func Hostname(publicOrigin string) (string, error) {
	u, err := parse(publicOrigin)
	if err != nil {
		return "", err
	}
	return strings.ToLower(u.Hostname()), nil
}
