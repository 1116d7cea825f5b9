package relay

import (
	"net/http"
	"net/url"
	"strings"
)

// originAllowed is the browser admission policy for the signaling endpoint.
// Non-browser clients send no Origin header and are admitted. Browsers must
// either match the request host or appear in the configured allowlist; an
// allowlist entry of "*" opens the endpoint to any origin.
func originAllowed(r *http.Request, allowed []string) bool {
	raw := strings.TrimSpace(r.Header.Get("Origin"))
	if raw == "" {
		return true
	}

	norm, host, scheme, ok := normalizeOrigin(raw)
	if !ok {
		return false
	}

	if len(allowed) > 0 {
		for _, a := range allowed {
			if a == "*" || a == norm {
				return true
			}
		}
		return false
	}

	// Default policy: same host:port as the request. The "null" origin can
	// never match a host. Scheme is deliberately not compared: behind a
	// TLS-terminating proxy the request looks like HTTP while the browser
	// Origin is HTTPS.
	if host == "" {
		return false
	}
	return host == stripDefaultPort(strings.ToLower(strings.TrimSpace(r.Host)), scheme)
}

// normalizeOrigin reduces a browser Origin header to scheme://host[:port]
// with default ports removed. The special value "null" is valid but carries
// no host.
func normalizeOrigin(raw string) (origin, host, scheme string, ok bool) {
	if raw == "null" {
		return "null", "", "", true
	}

	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || u.User != nil || u.RawQuery != "" || u.Fragment != "" {
		return "", "", "", false
	}
	if u.Path != "" && u.Path != "/" {
		return "", "", "", false
	}
	scheme = strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", "", "", false
	}

	host = stripDefaultPort(strings.ToLower(u.Host), scheme)
	return scheme + "://" + host, host, scheme, true
}

func stripDefaultPort(host, scheme string) string {
	switch scheme {
	case "http":
		return strings.TrimSuffix(host, ":80")
	case "https":
		return strings.TrimSuffix(host, ":443")
	}
	return host
}
