// Package urlnorm canonicalizes URLs into the dedup/match key used
// everywhere in tabtriage. The browser extension applies the same two
// rules, so both sides resolve a tab to the same key.
package urlnorm

import (
	"net/url"
	"strconv"
	"strings"
)

// Normalize strips the fragment and exactly one trailing slash from
// non-root paths. Normalizing twice yields the same result.
func Normalize(raw string) string {
	s := raw
	if i := strings.IndexByte(s, '#'); i >= 0 {
		s = s[:i]
	}

	// Strip one trailing slash, but keep "https://host/" and bare
	// scheme-relative roots intact.
	if strings.HasSuffix(s, "/") {
		u, err := url.Parse(s)
		if err == nil && u.Path != "" && u.Path != "/" {
			s = s[:len(s)-1]
		}
	}
	return s
}

// IsSelfPage reports whether the URL is the triage UI's own page, which
// must never be captured: the file-served triage page, or anything
// served from the backend's own port.
func IsSelfPage(raw string, selfPort int) bool {
	if strings.Contains(raw, "TabTriage/index.html") {
		return true
	}
	if selfPort > 0 {
		trimmed := strings.TrimRight(raw, "/")
		if strings.HasSuffix(trimmed, ":"+strconv.Itoa(selfPort)) {
			return true
		}
		if u, err := url.Parse(raw); err == nil && u.Port() == strconv.Itoa(selfPort) {
			return true
		}
	}
	return false
}

// Domain returns the URL's hostname without a leading "www." prefix,
// or "" if the URL has no parseable host.
func Domain(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}
