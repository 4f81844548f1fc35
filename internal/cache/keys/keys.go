// Package keys builds cache keys from a namespace and free-form parts.
package keys

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

const maxPartLen = 64

// Key joins ns and parts with ':'. Parts made only of key-safe characters are
// used verbatim, so Key("techs", "130077") is "techs:130077". Anything else is
// sanitised and truncated, and the key gets an xxhash suffix of the raw parts
// so distinct inputs never collide.
func Key(ns string, parts ...string) string {
	var b strings.Builder
	b.WriteString(sanitize(strings.TrimSpace(ns)))

	hashed := false
	for _, p := range parts {
		safe := sanitize(p)
		if safe != p || len(safe) > maxPartLen {
			hashed = true
		}
		if len(safe) > maxPartLen {
			safe = safe[:maxPartLen]
		}
		b.WriteByte(':')
		b.WriteString(safe)
	}
	if hashed {
		sum := xxhash.Sum64String(strings.Join(parts, "\x00"))
		fmt.Fprintf(&b, ":h=%016x", sum)
	}
	return b.String()
}

// sanitize maps whitespace runs to '_' and other unsafe runes to '-'.
func sanitize(s string) string {
	if s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))

	var prev rune
	for _, r := range s {
		var out rune
		switch {
		case r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\v' || r == '\f':
			out = '_'
		case isAlphaNum(r) || r == '_' || r == '-' || r == '.':
			out = r
		default:
			out = '-'
		}
		if (out == '_' || out == '-') && out == prev && r != out {
			continue
		}
		b.WriteRune(out)
		prev = out
	}
	return b.String()
}

func isAlphaNum(r rune) bool {
	return (r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		(r < unicode.MaxASCII && unicode.IsDigit(r))
}

func Technologies(providerID string) string { return Key("techs", providerID) }

func Coverage(providerID, techCode string) string { return Key("coverage", providerID, techCode) }

func Resolve(normalized string) string { return Key("resolve", normalized) }

func Search(query string, page int) string { return Key("providers", query, fmt.Sprint(page)) }

func Tabular(kind string, parts ...string) string {
	return Key("tabular", append([]string{kind}, parts...)...)
}
