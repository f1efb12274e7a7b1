package retriever

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/markdave123-py/lexkb/internal/models"
)

// Weights are the linear fusion coefficients. They are normalized to sum to
// one before use, so only their ratios matter.
type Weights struct {
	FTS     float64 `json:"fts"`
	Vector  float64 `json:"vector"`
	Recency float64 `json:"recency"`
}

func DefaultWeights() Weights {
	return Weights{FTS: 0.4, Vector: 0.4, Recency: 0.2}
}

var ErrInvalidWeights = errors.New("invalid fusion weights")

func (w Weights) Validate() error {
	for _, v := range []float64{w.FTS, w.Vector, w.Recency} {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %+v has a negative or non-finite weight", ErrInvalidWeights, w)
		}
	}
	if w.FTS+w.Vector+w.Recency <= 0 {
		return fmt.Errorf("%w: weights sum to zero", ErrInvalidWeights)
	}
	return nil
}

func (w Weights) normalized() Weights {
	sum := w.FTS + w.Vector + w.Recency
	return Weights{FTS: w.FTS / sum, Vector: w.Vector / sum, Recency: w.Recency / sum}
}

// Combine fuses the three signals. When the candidate has no vector the
// vector weight is redistributed over the other two in proportion.
func Combine(w Weights, fts, vector, recency float64, hasVector bool) float64 {
	w = w.normalized()
	if hasVector {
		return w.FTS*fts + w.Vector*vector + w.Recency*recency
	}
	rest := w.FTS + w.Recency
	if rest <= 0 {
		return 0
	}
	return (w.FTS*fts + w.Recency*recency) / rest
}

// Recency decays exponentially with the document age: a document one
// half-life old scores 0.5. Future epochs score 1 and the result never
// reaches 0.
func Recency(epoch int64, now time.Time, halfLifeDays float64) float64 {
	if halfLifeDays <= 0 {
		return 1
	}
	ageDays := now.Sub(time.Unix(epoch, 0)).Hours() / 24
	if ageDays <= 0 {
		return 1
	}
	s := math.Exp2(-ageDays / halfLifeDays)
	if s < math.SmallestNonzeroFloat64 {
		return math.SmallestNonzeroFloat64
	}
	return s
}

// sortResults orders by combined score, then newer documents, then earlier
// chunks, then id, so equal scores always rank the same way.
func sortResults(rs []models.RetrievalResult) {
	sort.SliceStable(rs, func(i, j int) bool {
		a, b := rs[i], rs[j]
		if a.Combined != b.Combined {
			return a.Combined > b.Combined
		}
		if a.KBEpoch != b.KBEpoch {
			return a.KBEpoch > b.KBEpoch
		}
		if a.ChunkIndex != b.ChunkIndex {
			return a.ChunkIndex < b.ChunkIndex
		}
		return a.ChunkID < b.ChunkID
	})
}

// capPerDocument keeps at most n results per document, preserving order.
func capPerDocument(rs []models.RetrievalResult, n int) []models.RetrievalResult {
	if n <= 0 {
		return rs
	}
	seen := make(map[string]int)
	out := rs[:0]
	for _, r := range rs {
		if seen[r.DocumentID] >= n {
			continue
		}
		seen[r.DocumentID]++
		out = append(out, r)
	}
	return out
}
