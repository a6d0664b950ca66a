// Package normalize turns raw cell values into the canonical forms used for
// persistence and for every dedup comparison.
package normalize

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
)

// fold returns a fresh Caser per call; Casers are stateful and not safe to
// share across goroutines.
func fold(s string) string {
	return cases.Fold().String(s)
}

// Text trims and collapses interior runs of whitespace to a single space.
func Text(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Fold applies Unicode case folding to trimmed, space-collapsed text.
func Fold(s string) string {
	return fold(Text(s))
}

// Email trims and case-folds an address.
func Email(s string) string {
	return fold(strings.TrimSpace(s))
}

// Website lowercases and strips the scheme, a leading "www." and any trailing
// slashes, so "HTTPS://www.Acme.com/" becomes "acme.com".
func Website(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+3:]
	}
	s = strings.TrimPrefix(s, "www.")
	return strings.TrimRight(s, "/")
}

// Domain returns the host part of a normalized website.
func Domain(website string) string {
	host := Website(website)
	if i := strings.IndexAny(host, "/?#"); i >= 0 {
		host = host[:i]
	}
	if i := strings.LastIndex(host, ":"); i >= 0 {
		host = host[:i]
	}
	return host
}

// Phone keeps digits only.
func Phone(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Compact case-folds and drops every whitespace and punctuation character. It
// is the fuzzy name form used by the dedup sweep.
func Compact(s string) string {
	var b strings.Builder
	for _, r := range fold(s) {
		if unicode.IsSpace(r) || unicode.IsPunct(r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
