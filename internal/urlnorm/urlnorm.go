// Package urlnorm canonicalizes URLs for cross-source identity comparison.
package urlnorm

import (
	"net/url"
	"strings"
)

// Normalize rewrites rawURL into a canonical form suitable for equality
// comparison: lowercase scheme and host, strip a leading "www.", strip a
// trailing "/" from the path, drop the fragment, and retain the query
// string verbatim. Empty or unparseable input normalizes to "", which
// never matches anything.
//
// Normalize is idempotent: Normalize(Normalize(u)) == Normalize(u).
func Normalize(rawURL string) string {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return ""
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	if u.Scheme == "" || u.Host == "" {
		return ""
	}

	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Host)
	host = strings.TrimPrefix(host, "www.")

	path := strings.TrimSuffix(u.Path, "/")

	out := url.URL{
		Scheme:   scheme,
		Host:     host,
		Path:     path,
		RawQuery: u.RawQuery,
	}
	return out.String()
}

// Domain returns the lowercase, www.-stripped host of rawURL, or "" if
// rawURL does not parse to an absolute http(s) URL.
func Domain(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}
