// Package links formats URLs for display.
package links

import (
	"net/url"
	"strings"
	"unicode/utf8"
)

// InvalidLink is shown in place of a URL that cannot be parsed.
const InvalidLink = "invalid link"

// MaxLabelLength is the longest hostname shown before truncation.
const MaxLabelLength = 25

// Ellipsis marks a truncated label.
const Ellipsis = "…"

// DomainLabel returns the hostname of rawURL without a leading "www.", cut to
// MaxLabelLength characters plus Ellipsis when longer.
func DomainLabel(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return InvalidLink
	}
	host := u.Hostname()
	if host == "" {
		return InvalidLink
	}
	host = strings.TrimPrefix(host, "www.")
	if utf8.RuneCountInString(host) <= MaxLabelLength {
		return host
	}
	runes := []rune(host)
	return string(runes[:MaxLabelLength]) + Ellipsis
}

// Host returns the lower-cased hostname of rawURL without "www.", or "" when
// it has none. Data URLs have no host.
func Host(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}
