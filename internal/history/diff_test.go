package history

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func join(segs []Segment, keep func(Op) bool) string {
	var sb strings.Builder
	for _, s := range segs {
		if keep(s.Op) {
			sb.WriteString(s.Text)
		}
	}
	return sb.String()
}

func TestDiffIdentical(t *testing.T) {
	segs := Diff("same text", "same text")
	require.Len(t, segs, 1)
	assert.Equal(t, OpEqual, segs[0].Op)
	assert.Equal(t, "same text", segs[0].Text)
}

func TestDiffBothEmpty(t *testing.T) {
	assert.Empty(t, Diff("", ""))
}

func TestDiffWordReplacement(t *testing.T) {
	segs := Diff("the quick brown fox", "the slow brown fox")

	// Deleting the inserts and keeping delete+equal yields the before
	// string, and vice versa.
	assert.Equal(t, "the quick brown fox", join(segs, func(op Op) bool { return op != OpInsert }))
	assert.Equal(t, "the slow brown fox", join(segs, func(op Op) bool { return op != OpDelete }))

	var deleted, inserted []string
	for _, s := range segs {
		switch s.Op {
		case OpDelete:
			deleted = append(deleted, strings.TrimSpace(s.Text))
		case OpInsert:
			inserted = append(inserted, strings.TrimSpace(s.Text))
		}
	}
	assert.Equal(t, []string{"quick"}, deleted)
	assert.Equal(t, []string{"slow"}, inserted)
}

func TestDiffWordGranularity(t *testing.T) {
	// "catalog" -> "catalogue" shares a prefix; a word-level diff must
	// still treat it as a whole-word change, not a char splice.
	segs := Diff("the catalog entry", "the catalogue entry")
	for _, s := range segs {
		if s.Op == OpDelete {
			assert.Equal(t, "catalog", strings.TrimSpace(s.Text))
		}
		if s.Op == OpInsert {
			assert.Equal(t, "catalogue", strings.TrimSpace(s.Text))
		}
	}
}

func TestDiffInsertOnly(t *testing.T) {
	segs := Diff("", "brand new summary")
	require.Len(t, segs, 1)
	assert.Equal(t, OpInsert, segs[0].Op)
	assert.Equal(t, "brand new summary", segs[0].Text)
}

func TestDiffDeleteOnly(t *testing.T) {
	segs := Diff("old summary", "")
	require.Len(t, segs, 1)
	assert.Equal(t, OpDelete, segs[0].Op)
}

func TestDiffSegmentsNeverEmpty(t *testing.T) {
	segs := Diff("the quick brown fox", "the slow brown fox")
	require.NotEmpty(t, segs)
	for _, s := range segs {
		assert.NotEmpty(t, s.Text)
	}
}

func TestDiffRoundTripsMultiline(t *testing.T) {
	before := "First paragraph.\n\nSecond paragraph about jazz."
	after := "First paragraph.\n\nSecond paragraph about blues.\nAnd a closing line."
	segs := Diff(before, after)
	assert.Equal(t, before, join(segs, func(op Op) bool { return op != OpInsert }))
	assert.Equal(t, after, join(segs, func(op Op) bool { return op != OpDelete }))
}
