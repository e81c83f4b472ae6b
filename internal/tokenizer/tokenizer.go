// Package tokenizer counts tokens for text using a cl100k-family BPE
// encoding (spec.md §4.A), and maintains the per-segment token cache keyed
// by a content hash so repeated calls on unchanged text skip tokenization
// and cost only the hash of the text.
package tokenizer

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/outofcontext/contextgcd/internal/segment"
)

// Tokenizer counts tokens using a cl100k-family BPE encoding. The
// underlying tiktoken encoding is loaded once; Count serializes calls into
// it with a mutex, so one Tokenizer can be shared across goroutines.
type Tokenizer struct {
	mu  sync.Mutex
	enc *tiktoken.Tiktoken
}

// New constructs a Tokenizer for the named BPE encoding (e.g. "cl100k_base").
func New(encodingName string) (*Tokenizer, error) {
	enc, err := tiktoken.GetEncoding(encodingName)
	if err != nil {
		return nil, fmt.Errorf("load tokenizer encoding %q: %w", encodingName, err)
	}
	return &Tokenizer{enc: enc}, nil
}

// Count returns the number of tokens in text.
//
// tiktoken-go's Encode is not documented as goroutine-safe, so calls are
// serialized here; the work itself is CPU-bound BPE merging and is fast
// enough that the lock is never a meaningful bottleneck.
func (t *Tokenizer) Count(text string) uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := t.enc.Encode(text, nil, nil)
	return uint32(len(ids))
}

// CountSegment returns the token count for s, reusing the cached count
// when s.TextHash still matches the current text (spec.md §4.A cache-hit
// path), and otherwise recomputing and updating the cache in place.
func (t *Tokenizer) CountSegment(s *segment.Segment) uint32 {
	if s.TokensFresh() {
		return *s.Tokens
	}

	count := t.Count(s.Text)
	s.Tokens = &count
	s.TextHash = segment.HashText(s.Text)
	return count
}
