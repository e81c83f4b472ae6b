package segment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAppliesDefaults(t *testing.T) {
	s, err := New("seg-1", "proj-1", "hello world", TypeMessage)
	require.NoError(t, err)
	assert.Equal(t, GenerationYoung, s.Generation)
	assert.Equal(t, TierWorking, s.Tier)
	assert.False(t, s.CreatedAt.IsZero())
	assert.Equal(t, s.CreatedAt, s.LastTouchedAt)
}

func TestNewRejectsInvalidType(t *testing.T) {
	_, err := New("seg-1", "proj-1", "text", Type("bogus"))
	assert.Error(t, err)
}

func TestValidateRequiresIDs(t *testing.T) {
	s := &Segment{Type: TypeNote, Generation: GenerationYoung, Tier: TierWorking}
	assert.Error(t, s.Validate())

	s.SegmentID = "seg-1"
	assert.Error(t, s.Validate())

	s.ProjectID = "proj-1"
	assert.NoError(t, s.Validate())
}

func TestValidateRejectsInvertedLineRange(t *testing.T) {
	s := &Segment{
		SegmentID: "seg-1", ProjectID: "proj-1",
		Type: TypeCode, Generation: GenerationYoung, Tier: TierWorking,
		LineRange: &LineRange{Start: 10, End: 5},
	}
	assert.Error(t, s.Validate())
}

func TestValidateRejectsTokensWithoutHash(t *testing.T) {
	tokens := uint32(42)
	s := &Segment{
		SegmentID: "seg-1", ProjectID: "proj-1",
		Type: TypeNote, Generation: GenerationYoung, Tier: TierWorking,
		Tokens: &tokens,
	}
	assert.Error(t, s.Validate())
}

func TestTokensFreshDetectsStaleCache(t *testing.T) {
	tokens := uint32(3)
	s := &Segment{Text: "abc", Tokens: &tokens, TextHash: HashText("abc")}
	assert.True(t, s.TokensFresh())

	s.Text = "abcd"
	assert.False(t, s.TokensFresh())
}

func TestHasTag(t *testing.T) {
	s := &Segment{Tags: []string{"auth", "bugfix"}}
	assert.True(t, s.HasTag("auth"))
	assert.False(t, s.HasTag("perf"))
}
