// Package urlfilter implements the URL Normalizer & Filter: canonicalize,
// dedupe, same-origin filter, and exclude binary/auth/admin paths.
package urlfilter

import (
	"net/url"
	"strings"
)

// Normalize resolves raw against base, lowercases the host, strips default
// ports/fragment/query, and collapses a trailing slash on non-root paths.
// Returns ("", false) for inputs that are not URLs at all (bare tokens,
// empty/whitespace, a lone "#" or "/").
func Normalize(raw, base string) (string, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || trimmed == "#" || trimmed == "/" {
		return "", false
	}
	if !looksLikeURLToken(trimmed) {
		return "", false
	}

	baseURL, err := url.Parse(base)
	if err != nil {
		return "", false
	}

	ref, err := url.Parse(trimmed)
	if err != nil {
		return "", false
	}

	resolved := baseURL.ResolveReference(ref)
	if resolved.Scheme == "" || resolved.Host == "" {
		return "", false
	}

	resolved.Host = stripDefaultPort(strings.ToLower(resolved.Host), resolved.Scheme)
	resolved.Fragment = ""
	resolved.RawQuery = ""

	if resolved.Path == "" {
		resolved.Path = "/"
	} else if resolved.Path != "/" {
		resolved.Path = strings.TrimSuffix(resolved.Path, "/")
	}

	return resolved.String(), true
}

// looksLikeURLToken rejects bare words like "internal"/"external" that
// contain no URL structure (no scheme, no slash, no dot) and are not
// relative paths.
func looksLikeURLToken(s string) bool {
	if strings.ContainsAny(s, "/:?#") {
		return true
	}
	if strings.Contains(s, ".") {
		return true
	}
	return false
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

// SameOrigin reports whether host equals originHost under a
// case-insensitive, "www."-ignoring registrable-domain comparison.
func SameOrigin(host, originHost string) bool {
	return canonicalHost(host) == canonicalHost(originHost)
}

func canonicalHost(h string) string {
	h = strings.ToLower(h)
	h = strings.TrimPrefix(h, "www.")
	if i := strings.IndexByte(h, ':'); i >= 0 {
		h = h[:i]
	}
	return h
}

// HostOf extracts the lower-cased host from a URL string, or "" on parse
// failure.
func HostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
