// Package segment defines the Segment record (spec.md §3.1) and the
// validation rules construction must enforce. This is the tagged-sum-type
// translation spec.md's Design Notes call for: Type and Tier are closed
// enums checked at construction rather than free-form strings.
package segment

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Type is the closed set of segment content kinds.
type Type string

const (
	TypeMessage  Type = "message"
	TypeCode     Type = "code"
	TypeLog      Type = "log"
	TypeNote     Type = "note"
	TypeDecision Type = "decision"
	TypeSummary  Type = "summary"
)

func (t Type) Valid() bool {
	switch t {
	case TypeMessage, TypeCode, TypeLog, TypeNote, TypeDecision, TypeSummary:
		return true
	default:
		return false
	}
}

// Generation tracks GC survival for promotion (spec.md §4.E scoring).
type Generation string

const (
	GenerationYoung Generation = "young"
	GenerationOld   Generation = "old"
)

func (g Generation) Valid() bool {
	return g == GenerationYoung || g == GenerationOld
}

// Tier is the closed set of physical locations a segment may occupy.
type Tier string

const (
	TierWorking Tier = "working"
	TierStashed Tier = "stashed"
	TierArchive Tier = "archive"
)

func (t Tier) Valid() bool {
	switch t {
	case TierWorking, TierStashed, TierArchive:
		return true
	default:
		return false
	}
}

// LineRange is an inclusive [Start, End] line span with Start <= End.
type LineRange struct {
	Start uint32 `json:"start"`
	End   uint32 `json:"end"`
}

// Valid reports whether Start <= End.
func (r LineRange) Valid() bool {
	return r.Start <= r.End
}

// Segment is one atomic piece of context (spec.md §3.1).
type Segment struct {
	SegmentID     string     `json:"segment_id"`
	ProjectID     string     `json:"project_id"`
	TaskID        string     `json:"task_id,omitempty"`
	Text          string     `json:"text"`
	Type          Type       `json:"type"`
	CreatedAt     time.Time  `json:"created_at"`
	LastTouchedAt time.Time  `json:"last_touched_at"`
	Pinned        bool       `json:"pinned"`
	Generation    Generation `json:"generation"`
	SurvivalCount int        `json:"gc_survival_count"`
	RefCount      int        `json:"refcount"`
	FilePath      string     `json:"file_path,omitempty"`
	LineRange     *LineRange `json:"line_range,omitempty"`
	Tags          []string   `json:"tags,omitempty"`
	TopicID       string     `json:"topic_id,omitempty"`

	// Tokens and TextHash cache Tokenizer output. Tokens is stale whenever
	// TextHash does not match HashText(Text) (spec.md §3.1 invariant).
	Tokens   *uint32 `json:"tokens,omitempty"`
	TextHash string  `json:"text_hash,omitempty"`

	Tier Tier `json:"tier"`

	// References/Backrefs are caller-provided lookup edges (spec.md §3.2,
	// §9: "edges are lookup relations only", auto-derivation is out of scope).
	References []string `json:"references,omitempty"`
	Backrefs   []string `json:"backrefs,omitempty"`
}

// HashText returns the content fingerprint used to detect a stale token cache.
func HashText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// TokensFresh reports whether the cached Tokens value is still valid for
// the segment's current Text.
func (s *Segment) TokensFresh() bool {
	return s.Tokens != nil && s.TextHash != "" && s.TextHash == HashText(s.Text)
}

// Validate enforces the construction-time invariants from spec.md §3.1.
func (s *Segment) Validate() error {
	if s.SegmentID == "" {
		return fmt.Errorf("segment_id is required")
	}
	if s.ProjectID == "" {
		return fmt.Errorf("project_id is required")
	}
	if !s.Type.Valid() {
		return fmt.Errorf("invalid segment type %q", s.Type)
	}
	if !s.Generation.Valid() {
		return fmt.Errorf("invalid generation %q", s.Generation)
	}
	if !s.Tier.Valid() {
		return fmt.Errorf("invalid tier %q", s.Tier)
	}
	if s.LineRange != nil && !s.LineRange.Valid() {
		return fmt.Errorf("invalid line_range: start %d > end %d", s.LineRange.Start, s.LineRange.End)
	}
	if s.RefCount < 0 {
		return fmt.Errorf("refcount must be non-negative, got %d", s.RefCount)
	}
	if s.SurvivalCount < 0 {
		return fmt.Errorf("gc_survival_count must be non-negative, got %d", s.SurvivalCount)
	}
	if s.Tokens != nil && s.TextHash == "" {
		return fmt.Errorf("tokens present without text_hash")
	}
	return nil
}

// New constructs a Segment with defaults applied (generation=young,
// tier=working, timestamps set to now) and validates it.
func New(segmentID, projectID, text string, typ Type) (*Segment, error) {
	now := time.Now()
	s := &Segment{
		SegmentID:     segmentID,
		ProjectID:     projectID,
		Text:          text,
		Type:          typ,
		CreatedAt:     now,
		LastTouchedAt: now,
		Generation:    GenerationYoung,
		Tier:          TierWorking,
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Touch updates LastTouchedAt to now, matching "updated on access/reference".
func (s *Segment) Touch() {
	s.LastTouchedAt = time.Now()
}

// HasTag reports whether the segment carries the given tag.
func (s *Segment) HasTag(tag string) bool {
	for _, t := range s.Tags {
		if t == tag {
			return true
		}
	}
	return false
}
