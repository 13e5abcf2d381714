// Package scan implements the low-level text scanning primitives for the
// state blob: locating named top-level sections, walking balanced-delimiter
// spans with an explicit depth counter, and iterating repeated id={...}
// sibling blocks. All scans are offset-based and window-bounded; no parse
// tree of the whole blob is ever built.
package scan

import (
	"strings"
)

// Span is a half-open [Start,End) byte range into the blob.
type Span struct {
	Start int
	End   int
}

// Len returns the span length in bytes.
func (s Span) Len() int { return s.End - s.Start }

// Text slices blob to the span. The caller must pass the same blob the span
// was produced from.
func (s Span) Text(blob string) string { return blob[s.Start:s.End] }

// FindSection locates a top-level section "name={...}" where the key starts
// at the beginning of a line, and returns the exact span from the key through
// the matching closing brace. The balanced scan costs O(section length) once
// the key offset is known. Returns ok=false when the section is absent.
func FindSection(blob, name string) (Span, bool) {
	start, ok := findSectionStart(blob, name)
	if !ok {
		return Span{}, false
	}
	end, ok := BalancedEnd(blob, start, len(blob))
	if !ok {
		return Span{}, false
	}
	return Span{Start: start, End: end}, true
}

// findSectionStart finds "name=" at the start of a line followed by an
// opening brace, skipping scalar assignments like "country=0" that share the
// key name with a later block.
func findSectionStart(blob, name string) (int, bool) {
	needle := name + "="
	from := 0
	for {
		idx := indexAtLineStart(blob, needle, from)
		if idx < 0 {
			return 0, false
		}
		// The opening brace may be on the same line or the next.
		rest := blob[idx+len(needle):]
		if j := nextNonSpace(rest); j >= 0 && rest[j] == '{' {
			return idx, true
		}
		from = idx + len(needle)
	}
}

// indexAtLineStart finds needle at offset >= from where needle begins a line.
func indexAtLineStart(blob, needle string, from int) int {
	for {
		idx := strings.Index(blob[from:], needle)
		if idx < 0 {
			return -1
		}
		abs := from + idx
		if abs == 0 || blob[abs-1] == '\n' {
			return abs
		}
		from = abs + 1
	}
}

// nextNonSpace returns the offset of the first byte in s that is not a
// space, tab, CR or LF, or -1.
func nextNonSpace(s string) int {
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case ' ', '\t', '\r', '\n':
		default:
			return i
		}
	}
	return -1
}

// BalancedEnd scans forward from start (which must be at or before the
// opening brace) counting delimiter depth, and returns the offset one past
// the matching close. The scan never reads past limit; ok=false means the
// span is unterminated within the window, which callers treat as malformed
// input rather than an error.
func BalancedEnd(blob string, start, limit int) (int, bool) {
	if limit > len(blob) {
		limit = len(blob)
	}
	depth := 0
	opened := false
	inQuote := false
	for i := start; i < limit; i++ {
		c := blob[i]
		if inQuote {
			if c == '"' {
				inQuote = false
			}
			continue
		}
		switch c {
		case '"':
			inQuote = true
		case '{':
			depth++
			opened = true
		case '}':
			depth--
			if opened && depth == 0 {
				return i + 1, true
			}
		}
	}
	return 0, false
}

// Block is one repeated sibling entry of the form "<indent>ID={...}".
type Block struct {
	ID   int64
	Span Span
}

// Blocks iterates the sibling blocks of a section at the given indentation
// depth (number of leading tabs). Each block's balanced scan is bounded by
// maxBlockLen so a malformed entry cannot trigger a pathological scan; an
// unterminated block is skipped. The section span must come from the same
// blob.
func Blocks(blob string, section Span, indent int, maxBlockLen int) []Block {
	var out []Block
	prefix := "\n" + strings.Repeat("\t", indent)
	pos := section.Start
	for pos < section.End {
		idx := strings.Index(blob[pos:section.End], prefix)
		if idx < 0 {
			break
		}
		abs := pos + idx + len(prefix)
		id, n := readDigits(blob, abs, section.End)
		if n == 0 {
			pos = abs
			continue
		}
		after := abs + n
		// Accept "ID={", "ID= {", and "ID=\n\t...{" shapes.
		if after >= section.End || blob[after] != '=' {
			pos = after
			continue
		}
		rest := blob[after+1 : section.End]
		j := nextNonSpace(rest)
		if j < 0 || rest[j] != '{' {
			pos = after
			continue
		}
		braceAt := after + 1 + j
		limit := braceAt + maxBlockLen
		if limit > section.End {
			limit = section.End
		}
		end, ok := BalancedEnd(blob, braceAt, limit)
		if !ok {
			pos = after + 1
			continue
		}
		out = append(out, Block{ID: id, Span: Span{Start: abs, End: end}})
		pos = end
	}
	return out
}

// readDigits parses a run of ASCII digits starting at pos and returns the
// value and its length in bytes. n==0 means no digit was present.
func readDigits(blob string, pos, limit int) (val int64, n int) {
	for i := pos; i < limit; i++ {
		c := blob[i]
		if c < '0' || c > '9' {
			break
		}
		val = val*10 + int64(c-'0')
		n++
	}
	return val, n
}
