package index

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAddAndSearch(t *testing.T) {
	ix := NewInvertedIndex()
	ix.Add("proj1", "seg1", "the quick brown fox")
	ix.Add("proj1", "seg2", "the lazy dog")

	assert.ElementsMatch(t, []string{"seg1", "seg2"}, ix.Search("proj1", "the"))
	assert.ElementsMatch(t, []string{"seg1"}, ix.Search("proj1", "fox"))
	assert.Empty(t, ix.Search("proj1", "elephant"))
}

func TestAddIsIdempotent(t *testing.T) {
	ix := NewInvertedIndex()
	ix.Add("proj1", "seg1", "quick fox")
	ix.Add("proj1", "seg1", "quick fox")

	assert.ElementsMatch(t, []string{"seg1"}, ix.Search("proj1", "fox"))
}

func TestReAddReplacesTermSet(t *testing.T) {
	ix := NewInvertedIndex()
	ix.Add("proj1", "seg1", "alpha beta")
	ix.Add("proj1", "seg1", "gamma delta")

	assert.Empty(t, ix.Search("proj1", "alpha"))
	assert.ElementsMatch(t, []string{"seg1"}, ix.Search("proj1", "gamma"))
}

func TestRemoveIsNoOpForUnknownID(t *testing.T) {
	ix := NewInvertedIndex()
	assert.NotPanics(t, func() { ix.Remove("proj1", "missing") })
}

func TestRemoveDropsEmptyPostings(t *testing.T) {
	ix := NewInvertedIndex()
	ix.Add("proj1", "seg1", "unique-term")
	ix.Remove("proj1", "seg1")

	assert.Empty(t, ix.Search("proj1", "unique-term"))
}

func TestSearchMultiTermIntersects(t *testing.T) {
	ix := NewInvertedIndex()
	ix.Add("proj1", "seg1", "auth login token")
	ix.Add("proj1", "seg2", "auth logout")
	ix.Add("proj1", "seg3", "token refresh")

	assert.ElementsMatch(t, []string{"seg1"}, ix.Search("proj1", "auth token"))
}

func TestSearchEmptyQueryReturnsEmpty(t *testing.T) {
	ix := NewInvertedIndex()
	ix.Add("proj1", "seg1", "auth login")
	assert.Empty(t, ix.Search("proj1", "   "))
}

func TestSearchScopesPerProject(t *testing.T) {
	ix := NewInvertedIndex()
	ix.Add("proj1", "seg1", "shared term")
	ix.Add("proj2", "seg2", "shared term")

	assert.ElementsMatch(t, []string{"seg1"}, ix.Search("proj1", "shared"))
	assert.ElementsMatch(t, []string{"seg2"}, ix.Search("proj2", "shared"))
}
