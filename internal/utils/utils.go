package utils

import (
	"net"
	"net/url"
	"path"
	"sort"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/idna"
)

// Errors
var (
	ErrEmptyURL    = &url.Error{Op: "normalize", URL: "", Err: &errStr{"empty url"}}
	ErrMissingHost = &url.Error{Op: "normalize", URL: "", Err: &errStr{"missing host"}}
	ErrBadScheme   = &url.Error{Op: "normalize", URL: "", Err: &errStr{"scheme must be http or https"}}
)

type errStr struct{ s string }

func (e *errStr) Error() string { return e.s }

// Tracking params stripped from target URLs; they churn without meaning.
var trackingParams = map[string]struct{}{
	"utm_source": {}, "utm_medium": {}, "utm_campaign": {}, "utm_term": {}, "utm_content": {},
	"gclid": {}, "fbclid": {}, "mc_cid": {}, "mc_eid": {},
}

// NormalizeTargetURL returns a deterministic canonical form of a monitored
// URL: https assumed for schemeless input, lowercased punycode host, default
// ports dropped, credentials dropped, path cleaned, tracking params removed,
// remaining query sorted, fragment removed. Two spellings of the same page
// normalize to the same string.
func NormalizeTargetURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrEmptyURL
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", ErrBadScheme
	}
	if u.Host == "" {
		return "", ErrMissingHost
	}

	host := strings.ToLower(u.Hostname())
	if puny, err := idna.Lookup.ToASCII(host); err == nil {
		host = puny
	}

	// Keep only non-default ports.
	port := u.Port()
	switch {
	case (u.Scheme == "http" && port == "80") || (u.Scheme == "https" && port == "443") || port == "":
		u.Host = host
	default:
		u.Host = net.JoinHostPort(host, port)
	}

	u.User = nil
	u.Fragment = ""

	cleanPath := path.Clean(u.Path)
	if cleanPath == "." || cleanPath == "/" {
		cleanPath = ""
	}
	u.Path = strings.TrimRight(cleanPath, "/")

	q := u.Query()
	for k := range q {
		if _, ok := trackingParams[strings.ToLower(k)]; ok {
			q.Del(k)
		}
	}
	keys := make([]string, 0, len(q))
	for k := range q {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	ordered := url.Values{}
	for _, k := range keys {
		values := q[k]
		sort.Strings(values)
		for _, v := range values {
			ordered.Add(k, v)
		}
	}
	u.RawQuery = ordered.Encode()

	return u.String(), nil
}

// HostOf returns the lowercased hostname of a raw URL, or "" when it cannot
// be parsed. Used for display labels, never for identity.
func HostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// Truncate shortens s to at most n runes, appending "..." when cut.
func Truncate(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	if n <= 3 {
		return string(runes[:n])
	}
	return string(runes[:n-3]) + "..."
}

// CollapseSpace folds runs of whitespace into single spaces and trims the
// ends. Stable: equal inputs always collapse identically.
func CollapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
