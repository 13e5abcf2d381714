package extract

import (
	"errors"
	"strings"
	"unicode"

	"git.home.luguber.info/inful/statewatch/internal/scan"
)

const (
	searchMaxResults = 10
	searchMaxContext = 500
	searchMaxTotal   = 4000
)

// ErrEmptyQuery means the query had no searchable characters left after
// sanitization.
var ErrEmptyQuery = errors.New("query contains no valid search characters")

// SearchMatch is one hit with its surrounding context.
type SearchMatch struct {
	Position int    `json:"position"`
	Context  string `json:"context"`
}

// SearchResult bounds its own size: per-match context is capped, and the sum
// of all returned context never exceeds a global byte budget regardless of
// how many matches exist.
type SearchResult struct {
	Query      string        `json:"query"`
	Matches    []SearchMatch `json:"matches"`
	TotalFound int           `json:"total_found"`
	Truncated  bool          `json:"truncated,omitempty"`
}

// Search runs a case-insensitive substring search over the whole blob.
// maxResults is capped at 10 and contextChars at 500.
func (e *Extractor) Search(query string, maxResults, contextChars int) (SearchResult, error) {
	if maxResults <= 0 || maxResults > searchMaxResults {
		maxResults = searchMaxResults
	}
	if contextChars <= 0 || contextChars > searchMaxContext {
		contextChars = searchMaxContext
	}

	sanitized := sanitizeQuery(query)
	if sanitized == "" {
		return SearchResult{Query: query}, ErrEmptyQuery
	}
	result := SearchResult{Query: sanitized}

	needle := strings.ToLower(sanitized)
	haystack := strings.ToLower(e.blob)

	totalContext := 0
	start := 0
	for {
		pos := strings.Index(haystack[start:], needle)
		if pos < 0 {
			break
		}
		abs := start + pos
		start = abs + 1
		result.TotalFound++
		if len(result.Matches) >= maxResults {
			continue
		}

		ctxStart := max(0, abs-contextChars/2)
		ctxEnd := min(len(e.blob), abs+len(needle)+contextChars/2)
		context := escapeDelimiters(e.blob[ctxStart:ctxEnd])

		if totalContext+len(context) > searchMaxTotal {
			result.Truncated = true
			continue
		}
		totalContext += len(context)
		result.Matches = append(result.Matches, SearchMatch{Position: abs, Context: context})
	}
	return result, nil
}

// sanitizeQuery keeps only characters from the allow-list: letters, digits,
// and a small set of punctuation that appears in names.
func sanitizeQuery(query string) string {
	var b strings.Builder
	for _, r := range query {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || strings.ContainsRune(" _-.,'\"", r) {
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}

// escapeDelimiters breaks up doubled braces so returned context can never be
// mistaken for structural syntax by a downstream consumer.
func escapeDelimiters(s string) string {
	s = strings.ReplaceAll(s, "{{", "{ {")
	return strings.ReplaceAll(s, "}}", "} }")
}

// SectionNames reports which of the given top-level sections exist in the
// blob, in input order.
func (e *Extractor) SectionNames(candidates []string) []string {
	var out []string
	for _, name := range candidates {
		if _, ok := scan.FindSection(e.blob, name); ok {
			out = append(out, name)
		}
	}
	return out
}
