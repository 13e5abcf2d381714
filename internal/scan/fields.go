package scan

import (
	"strconv"
	"strings"
)

// Field helpers extract single key=value pairs from a bounded window of the
// blob. Absence is a first-class outcome: every helper reports ok=false for
// a missing or malformed value and never panics. Integer versus float is
// decided by the presence of a decimal point in the raw token.

// Str finds `key="value"` inside window and returns the unquoted value.
func Str(window, key string) (string, bool) {
	raw, ok := rawValue(window, key)
	if !ok {
		return "", false
	}
	if len(raw) >= 2 && raw[0] == '"' && raw[len(raw)-1] == '"' {
		return raw[1 : len(raw)-1], true
	}
	return "", false
}

// StrOrBare finds `key=value` where the value may be quoted or a bare token.
func StrOrBare(window, key string) (string, bool) {
	raw, ok := rawValue(window, key)
	if !ok {
		return "", false
	}
	if len(raw) >= 2 && raw[0] == '"' && raw[len(raw)-1] == '"' {
		return raw[1 : len(raw)-1], true
	}
	return raw, true
}

// Int finds `key=N` and returns N. Values carrying a decimal point are
// rejected here; use Float for those.
func Int(window, key string) (int64, bool) {
	raw, ok := rawValue(window, key)
	if !ok || raw == "" || strings.ContainsRune(raw, '.') {
		return 0, false
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// Float finds `key=N` or `key=N.M` and returns the value as float64.
func Float(window, key string) (float64, bool) {
	raw, ok := rawValue(window, key)
	if !ok || raw == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// Number coerces like the blob does: no decimal point means integer. The
// int64 result is only meaningful when isInt is true.
func Number(window, key string) (f float64, i int64, isInt, ok bool) {
	raw, okRaw := rawValue(window, key)
	if !okRaw || raw == "" {
		return 0, 0, false, false
	}
	if !strings.ContainsRune(raw, '.') {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return 0, 0, false, false
		}
		return float64(v), v, true, true
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, 0, false, false
	}
	return v, 0, false, true
}

// Bool finds `key=yes|no`.
func Bool(window, key string) (bool, bool) {
	raw, ok := rawValue(window, key)
	if !ok {
		return false, false
	}
	switch raw {
	case "yes":
		return true, true
	case "no":
		return false, true
	}
	return false, false
}

// IDList extracts the whitespace-separated integer list of `key={ a b c }`.
// A missing key or an empty body yields a nil slice.
func IDList(window, key string) []int64 {
	idx := keyIndex(window, key)
	if idx < 0 {
		return nil
	}
	rest := window[idx:]
	open := strings.IndexByte(rest, '{')
	if open < 0 {
		return nil
	}
	// Reject when anything but the assignment separates key and brace.
	if head := strings.TrimSpace(rest[len(key):open]); head != "=" {
		return nil
	}
	closeIdx := strings.IndexByte(rest[open:], '}')
	if closeIdx < 0 {
		return nil
	}
	var out []int64
	for _, tok := range strings.Fields(rest[open+1 : open+closeIdx]) {
		v, err := strconv.ParseInt(tok, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, v)
	}
	return out
}

// RepeatedInt collects every `key=N` occurrence inside window, in order.
func RepeatedInt(window, key string) []int64 {
	var out []int64
	pos := 0
	for {
		idx := keyIndexFrom(window, key, pos)
		if idx < 0 {
			return out
		}
		raw, n := valueToken(window[idx+len(key)+1:])
		if n > 0 && !strings.ContainsRune(raw, '.') {
			if v, err := strconv.ParseInt(raw, 10, 64); err == nil {
				out = append(out, v)
			}
		}
		pos = idx + len(key) + 1
	}
}

// RepeatedStr collects every quoted `key="..."` occurrence inside window, in
// order.
func RepeatedStr(window, key string) []string {
	var out []string
	pos := 0
	for {
		idx := keyIndexFrom(window, key, pos)
		if idx < 0 {
			return out
		}
		raw, n := valueToken(window[idx+len(key)+1:])
		if n > 0 && len(raw) >= 2 && raw[0] == '"' && raw[len(raw)-1] == '"' {
			out = append(out, raw[1:len(raw)-1])
		}
		pos = idx + len(key) + 1
	}
}

// KeyBlocks iterates repeated `key={...}` blocks inside window, returning the
// span of each block including the key. Each balanced scan is bounded by
// maxLen; unterminated blocks are skipped.
func KeyBlocks(window, key string, maxLen int) []Span {
	var out []Span
	pos := 0
	for {
		idx := keyIndexFrom(window, key, pos)
		if idx < 0 {
			return out
		}
		rest := window[idx+len(key)+1:]
		j := nextNonSpace(rest)
		if j < 0 || rest[j] != '{' {
			pos = idx + len(key) + 1
			continue
		}
		braceAt := idx + len(key) + 1 + j
		limit := braceAt + maxLen
		if limit > len(window) {
			limit = len(window)
		}
		end, ok := BalancedEnd(window, braceAt, limit)
		if !ok {
			pos = braceAt + 1
			continue
		}
		out = append(out, Span{Start: idx, End: end})
		pos = end
	}
}

// rawValue returns the raw token following the first `key=` occurrence whose
// key is not a suffix of a longer identifier.
func rawValue(window, key string) (string, bool) {
	idx := keyIndex(window, key)
	if idx < 0 {
		return "", false
	}
	raw, n := valueToken(window[idx+len(key)+1:])
	if n == 0 {
		return "", false
	}
	return raw, true
}

// keyIndex finds `key=` preceded by start-of-window, whitespace, or a brace,
// so "power=" never matches inside "military_power=".
func keyIndex(window, key string) int {
	return keyIndexFrom(window, key, 0)
}

func keyIndexFrom(window, key string, from int) int {
	needle := key + "="
	for {
		idx := strings.Index(window[from:], needle)
		if idx < 0 {
			return -1
		}
		abs := from + idx
		if abs == 0 || isBoundary(window[abs-1]) {
			return abs
		}
		from = abs + 1
	}
}

func isBoundary(c byte) bool {
	switch c {
	case ' ', '\t', '\n', '\r', '{', '}':
		return true
	}
	return false
}

// valueToken reads one scalar value token: either a quoted string or a bare
// run up to whitespace/brace. A brace as the first byte means the value is a
// block, which scalar helpers treat as absent.
func valueToken(s string) (string, int) {
	i := 0
	for i < len(s) && (s[i] == ' ' || s[i] == '\t') {
		i++
	}
	if i >= len(s) {
		return "", 0
	}
	if s[i] == '{' || s[i] == '\n' || s[i] == '\r' {
		return "", 0
	}
	if s[i] == '"' {
		j := strings.IndexByte(s[i+1:], '"')
		if j < 0 {
			return "", 0
		}
		return s[i : i+j+2], i + j + 2
	}
	j := i
	for j < len(s) {
		c := s[j]
		if c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '{' || c == '}' {
			break
		}
		j++
	}
	if j == i {
		return "", 0
	}
	return s[i:j], j
}

// NestedBlock finds `key={...}` inside window and returns the span of the
// block body boundaries relative to window. The scan is bounded by maxLen.
func NestedBlock(window, key string, maxLen int) (Span, bool) {
	idx := keyIndex(window, key)
	if idx < 0 {
		return Span{}, false
	}
	rest := window[idx+len(key)+1:]
	j := nextNonSpace(rest)
	if j < 0 || rest[j] != '{' {
		return Span{}, false
	}
	braceAt := idx + len(key) + 1 + j
	limit := braceAt + maxLen
	if limit > len(window) {
		limit = len(window)
	}
	end, ok := BalancedEnd(window, braceAt, limit)
	if !ok {
		return Span{}, false
	}
	return Span{Start: idx, End: end}, true
}
