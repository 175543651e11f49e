// Package header turns raw RFC 5322 header values into structured
// subscription signals. All functions are pure; malformed input degrades to
// empty fields, never to an error.
package header

import (
	"regexp"
	"strings"
)

var (
	angleRe = regexp.MustCompile(`<([^>]+)>`)
	emailRe = regexp.MustCompile(`(?i)[A-Z0-9._%+-]+@[A-Z0-9.-]+\.[A-Z]{2,}`)
)

// Unsubscribe holds the targets extracted from a List-Unsubscribe header.
// Both fields empty means the message declared no unsubscribe capability.
type Unsubscribe struct {
	HTTPURL string
	Mailto  string
}

// From holds the pieces of a parsed From header.
type From struct {
	Name   string
	Email  string
	Domain string
}

// ParseListUnsubscribe extracts the first HTTP(S) and the first mailto target
// from a List-Unsubscribe value. Candidates are the union of angle-bracketed
// tokens and comma-split tokens, so headers like
//
//	<https://example.com/unsub>, <mailto:unsub@example.com>
//
// yield both targets regardless of declaration order.
func ParseListUnsubscribe(raw string) Unsubscribe {
	if raw == "" {
		return Unsubscribe{}
	}

	seen := make(map[string]struct{})
	var candidates []string
	add := func(v string) {
		v = strings.TrimSpace(v)
		if v == "" {
			return
		}
		if _, ok := seen[v]; ok {
			return
		}
		seen[v] = struct{}{}
		candidates = append(candidates, v)
	}

	for _, m := range angleRe.FindAllStringSubmatch(raw, -1) {
		add(m[1])
	}
	for _, p := range strings.Split(raw, ",") {
		add(p)
	}

	var out Unsubscribe
	for _, c := range candidates {
		lower := strings.ToLower(c)
		switch {
		case out.HTTPURL == "" && (strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")):
			out.HTTPURL = c
		case out.Mailto == "" && strings.HasPrefix(lower, "mailto:"):
			out.Mailto = c
		}
	}
	return out
}

// ParseOneClick reports whether a List-Unsubscribe-Post value declares RFC 8058
// one-click support. A missing header is simply not one-click.
func ParseOneClick(raw string) bool {
	return strings.Contains(strings.ToLower(raw), "list-unsubscribe=one-click")
}

// ParseFrom parses `"Display Name" <addr@host>` or a bare `addr@host`.
// The email is the first email-shaped token, lower-cased; the domain is the
// part after the first '@'. Inputs with no email-shaped token yield the zero
// value.
func ParseFrom(raw string) From {
	if raw == "" {
		return From{}
	}

	var out From
	candidate := raw
	if idx := strings.Index(raw, "<"); idx >= 0 {
		if end := strings.Index(raw[idx:], ">"); end > 0 {
			candidate = raw[idx+1 : idx+end]
			out.Name = strings.Trim(strings.TrimSpace(raw[:idx]), `"'`)
		}
	}

	email := emailRe.FindString(strings.Trim(strings.TrimSpace(candidate), `"`))
	if email == "" {
		return From{}
	}
	out.Email = strings.ToLower(email)
	if at := strings.IndexByte(out.Email, '@'); at >= 0 {
		out.Domain = out.Email[at+1:]
	}
	return out
}

// NormalizeListID reduces a List-ID value to its stable identifier: the
// contents of the angle-bracketed token when present ("My List
// <list.example.com>" -> "list.example.com"), otherwise the trimmed raw value.
// Empty input yields "".
func NormalizeListID(raw string) string {
	if raw == "" {
		return ""
	}
	if m := angleRe.FindStringSubmatch(raw); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(raw)
}
