// Package keycase translates JSON object keys between the backend's
// snake_case wire format and the camelCase form the console works with.
//
// Identifier-like keys (a known prefix and longer than 10 characters, such
// as "fa_xK9mP2vL3nQ") are map keys chosen by the backend, not field names,
// and pass through both directions untouched.
package keycase

import (
	"strings"
	"unicode"
)

var exemptPrefixes = []string{"fa_", "fr_", "node_", "user_"}

const exemptMinLen = 10

// Exempt reports whether key must not be translated.
func Exempt(key string) bool {
	if len(key) <= exemptMinLen {
		return false
	}
	for _, p := range exemptPrefixes {
		if strings.HasPrefix(key, p) {
			return true
		}
	}
	return false
}

// CamelKey converts a single snake_case key. An underscore followed by a
// lowercase letter collapses into the uppercase letter; other underscores,
// including any leading ones, are kept.
func CamelKey(key string) string {
	if Exempt(key) || !strings.Contains(key, "_") {
		return key
	}
	var b strings.Builder
	b.Grow(len(key))
	rs := []rune(key)
	i := 0
	for ; i < len(rs) && rs[i] == '_'; i++ {
		b.WriteRune('_')
	}
	for ; i < len(rs); i++ {
		r := rs[i]
		if r == '_' && i+1 < len(rs) && unicode.IsLower(rs[i+1]) {
			b.WriteRune(unicode.ToUpper(rs[i+1]))
			i++
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// SnakeKey converts a single camelCase key. Every uppercase letter after
// the first position becomes an underscore and its lowercase form.
func SnakeKey(key string) string {
	if Exempt(key) {
		return key
	}
	var b strings.Builder
	b.Grow(len(key) + 4)
	for i, r := range key {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// ToCamel returns a copy of v with every object key converted by CamelKey.
// v is expected to come from encoding/json (maps, slices and scalars).
func ToCamel(v any) any {
	return walk(v, CamelKey)
}

// ToSnake returns a copy of v with every object key converted by SnakeKey.
func ToSnake(v any) any {
	return walk(v, SnakeKey)
}

func walk(v any, conv func(string) string) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[conv(k)] = walk(val, conv)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = walk(val, conv)
		}
		return out
	default:
		return v
	}
}
