package retriever

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/lexkb/internal/models"
)

func TestRecency(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	day := int64(24 * 60 * 60)

	assert.Equal(t, 1.0, Recency(now.Unix(), now, 365))
	assert.Equal(t, 1.0, Recency(now.Unix()+10*day, now, 365), "future epochs score 1")
	assert.InDelta(t, 0.5, Recency(now.Unix()-365*day, now, 365), 1e-9)
	assert.InDelta(t, 0.25, Recency(now.Unix()-730*day, now, 365), 1e-9)

	prev := 1.1
	for age := int64(0); age <= 5000; age += 250 {
		s := Recency(now.Unix()-age*day, now, 365)
		assert.Less(t, s, prev, "recency must strictly decrease with age")
		assert.Greater(t, s, 0.0)
		prev = s
	}

	assert.Greater(t, Recency(0, now, 0.001), 0.0, "never reaches zero")
}

func TestWeightsValidate(t *testing.T) {
	require.NoError(t, DefaultWeights().Validate())
	require.NoError(t, Weights{FTS: 1}.Validate())
	assert.ErrorIs(t, Weights{FTS: -0.1, Vector: 1}.Validate(), ErrInvalidWeights)
	assert.ErrorIs(t, Weights{}.Validate(), ErrInvalidWeights)
}

func TestCombine(t *testing.T) {
	w := DefaultWeights()
	assert.InDelta(t, 1.0, Combine(w, 1, 1, 1, true), 1e-9)
	assert.InDelta(t, 0.4*0.8+0.4*0.5+0.2*0.25, Combine(w, 0.8, 0.5, 0.25, true), 1e-9)

	// Without a vector the remaining weights are rescaled: 0.4/0.6 and 0.2/0.6.
	assert.InDelta(t, 1.0, Combine(w, 1, 0, 1, false), 1e-9)
	assert.InDelta(t, 0.4/0.6, Combine(w, 1, 0.9, 0, false), 1e-9)

	// Only ratios matter.
	assert.InDelta(t, Combine(w, 0.3, 0.6, 0.9, true), Combine(Weights{2, 2, 1}, 0.3, 0.6, 0.9, true), 1e-9)

	// Vector-only weighting with no vector has nothing left to score.
	assert.Equal(t, 0.0, Combine(Weights{Vector: 1}, 1, 0, 1, false))
}

func TestSortResults_TieBreak(t *testing.T) {
	rs := []models.RetrievalResult{
		{ChunkID: "d", Combined: 0.5, KBEpoch: 100, ChunkIndex: 1},
		{ChunkID: "c", Combined: 0.5, KBEpoch: 100, ChunkIndex: 1},
		{ChunkID: "b", Combined: 0.5, KBEpoch: 100, ChunkIndex: 0},
		{ChunkID: "a", Combined: 0.5, KBEpoch: 200, ChunkIndex: 9},
		{ChunkID: "z", Combined: 0.9, KBEpoch: 1, ChunkIndex: 9},
	}
	sortResults(rs)

	var ids []string
	for _, r := range rs {
		ids = append(ids, r.ChunkID)
	}
	assert.Equal(t, []string{"z", "a", "b", "c", "d"}, ids)
}

func TestCapPerDocument(t *testing.T) {
	rs := []models.RetrievalResult{
		{ChunkID: "1", DocumentID: "A"},
		{ChunkID: "2", DocumentID: "A"},
		{ChunkID: "3", DocumentID: "B"},
		{ChunkID: "4", DocumentID: "A"},
		{ChunkID: "5", DocumentID: "B"},
	}
	out := capPerDocument(append([]models.RetrievalResult(nil), rs...), 1)
	require.Len(t, out, 2)
	assert.Equal(t, "1", out[0].ChunkID)
	assert.Equal(t, "3", out[1].ChunkID)

	assert.Len(t, capPerDocument(append([]models.RetrievalResult(nil), rs...), 0), 5)
}
