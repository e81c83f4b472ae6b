package index

import (
	"regexp"

	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
)

// wordRegex matches runs of \w (letters, digits, underscore), the exact
// extraction rule spec.md §4.B prescribes for the inverted index's own
// tokenizer (distinct from internal/tokenizer's BPE token counter, and
// distinct from the camelCase-aware code tokenizer used for display/search
// ergonomics — this one stays deliberately simple since the index must
// not perform stop-word filtering itself).
var wordRegex = regexp.MustCompile(`\w+`)

// lowerCaseFilter is the single bleve analysis stage this index borrows from
// the teacher's bm25 analyzer chain: the rest of that chain (stemming,
// stop-word removal) is deliberately not reused since spec.md §4.B requires
// the index to skip stop-word filtering itself.
var lowerCaseFilter = lowercase.NewLowerCaseFilter()

// Terms extracts the deterministic, lowercased term set from text: runs of
// \w, minimum length 1, no stop-word filtering (callers may filter before
// calling add/search if they want that).
func Terms(text string) []string {
	matches := wordRegex.FindAllStringIndex(text, -1)
	stream := make(analysis.TokenStream, 0, len(matches))
	for i, m := range matches {
		stream = append(stream, &analysis.Token{
			Start:    m[0],
			End:      m[1],
			Term:     []byte(text[m[0]:m[1]]),
			Position: i + 1,
			Type:     analysis.AlphaNumeric,
		})
	}
	stream = lowerCaseFilter.Filter(stream)
	terms := make([]string, 0, len(stream))
	for _, tok := range stream {
		terms = append(terms, string(tok.Term))
	}
	return terms
}
