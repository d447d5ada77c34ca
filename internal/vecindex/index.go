// Package vecindex implements a flat exact-search vector index over
// L2-normalized vectors, with an explicit mapping from index positions
// to knowledge-base ids.
//
// The similarity metric is the inner product, which equals cosine
// similarity because every stored vector and every query is normalized
// to unit length first. Search is exhaustive: at the confirmed data
// scale (thousands of entries) exact search is cheaper to operate than
// an approximate structure and has no recall loss. This is a deliberate
// scaling limit; revisit if the knowledge base grows past ~10^6 rows.
//
// An Index is built by a single writer and never mutated once
// published: rebuilds construct a fresh Index and swap an atomic
// pointer. Concurrent Search calls on a published Index are therefore
// safe without locking.
package vecindex

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

var (
	// ErrDimensionMismatch reports a vector whose length disagrees with
	// the index dimension.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrLengthMismatch reports parallel vector/id slices of different
	// lengths passed to Add.
	ErrLengthMismatch = errors.New("vectors and ids length mismatch")
)

// InvalidID is returned by SourceIDs for positions that resolve to no
// entry (out of range or the no-match sentinel). Callers treat it as
// "no match at this rank", which is a normal outcome on a sparsely
// populated index.
const InvalidID int64 = -1

// Index is a flat inner-product similarity index. Position i in the
// vector store corresponds to ids[i] in the knowledge base.
type Index struct {
	dimension int
	vectors   [][]float32
	ids       []int64
}

// New creates an empty index for vectors of the given dimension.
func New(dimension int) (*Index, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("invalid dimension %d: must be positive", dimension)
	}
	return &Index{dimension: dimension}, nil
}

// Dimension returns the fixed vector dimension of the index.
func (ix *Index) Dimension() int { return ix.dimension }

// Count returns the number of stored vectors.
func (ix *Index) Count() int { return len(ix.vectors) }

// SizeBytes returns the approximate in-memory size of the stored
// vectors and id mapping. Reported by the sync status endpoint.
func (ix *Index) SizeBytes() int64 {
	return int64(len(ix.vectors))*int64(ix.dimension)*4 + int64(len(ix.ids))*8
}

// Add appends vectors with their knowledge-base ids. The two slices
// are parallel arrays and must have equal length. Every vector is
// L2-normalized before insertion so that inner product search equals
// cosine similarity.
func (ix *Index) Add(vectors [][]float32, ids []int64) error {
	if len(vectors) != len(ids) {
		return fmt.Errorf("%w: %d vectors, %d ids", ErrLengthMismatch, len(vectors), len(ids))
	}
	for i, v := range vectors {
		if len(v) != ix.dimension {
			return fmt.Errorf("%w: vector %d has dimension %d, index expects %d",
				ErrDimensionMismatch, i, len(v), ix.dimension)
		}
	}

	for i, v := range vectors {
		ix.vectors = append(ix.vectors, normalized(v))
		ix.ids = append(ix.ids, ids[i])
	}
	return nil
}

// Search returns the top-k most similar stored vectors for the query,
// as parallel slices of scores and index positions, best first. The
// query is normalized before matching; k is clamped to the number of
// stored vectors. An empty index yields empty results, not an error.
func (ix *Index) Search(query []float32, k int) (scores []float32, positions []int, err error) {
	if len(query) != ix.dimension {
		return nil, nil, fmt.Errorf("%w: query has dimension %d, index expects %d",
			ErrDimensionMismatch, len(query), ix.dimension)
	}
	if k <= 0 {
		return nil, nil, fmt.Errorf("invalid k %d: must be positive", k)
	}

	if k > len(ix.vectors) {
		k = len(ix.vectors)
	}
	if k == 0 {
		return []float32{}, []int{}, nil
	}

	q := normalized(query)

	type hit struct {
		score float32
		pos   int
	}
	hits := make([]hit, len(ix.vectors))
	for i, v := range ix.vectors {
		hits[i] = hit{score: dot(q, v), pos: i}
	}
	sort.Slice(hits, func(a, b int) bool {
		if hits[a].score != hits[b].score {
			return hits[a].score > hits[b].score
		}
		return hits[a].pos < hits[b].pos
	})

	scores = make([]float32, k)
	positions = make([]int, k)
	for i := range k {
		scores[i] = hits[i].score
		positions[i] = hits[i].pos
	}
	return scores, positions, nil
}

// SourceIDs maps index positions (as returned by Search) to
// knowledge-base ids. Positions outside the mapping resolve to
// InvalidID rather than failing.
func (ix *Index) SourceIDs(positions []int) []int64 {
	out := make([]int64, len(positions))
	for i, pos := range positions {
		if pos < 0 || pos >= len(ix.ids) {
			out[i] = InvalidID
			continue
		}
		out[i] = ix.ids[pos]
	}
	return out
}

// normalized returns a unit-length copy of v. The zero vector is
// returned as a zero-filled copy since it has no direction.
func normalized(v []float32) []float32 {
	out := make([]float32, len(v))
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return out
	}
	inv := 1 / math.Sqrt(sum)
	for i, x := range v {
		out[i] = float32(float64(x) * inv)
	}
	return out
}

func dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}
