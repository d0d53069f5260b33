package divergence

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// EmbeddingSet holds one fixed-dimension vector per passage index for a
// single labeled source (the German original or one translator). Sets are
// immutable once constructed; calibration and alignment return new sets.
type EmbeddingSet struct {
	label   string
	vectors *mat.Dense
}

// NewEmbeddingSet validates the rows and copies them into a new set.
// Every row must have the same non-zero dimension.
func NewEmbeddingSet(label string, rows [][]float64) (*EmbeddingSet, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("embedding set %q: no vectors", label)
	}
	d := len(rows[0])
	if d == 0 {
		return nil, fmt.Errorf("embedding set %q: zero-dimension vector", label)
	}
	data := make([]float64, 0, len(rows)*d)
	for i, row := range rows {
		if len(row) != d {
			return nil, fmt.Errorf("embedding set %q: vector %d has dimension %d, want %d", label, i, len(row), d)
		}
		data = append(data, row...)
	}
	return &EmbeddingSet{label: label, vectors: mat.NewDense(len(rows), d, data)}, nil
}

// NewEmbeddingSetFloat32 converts raw embedder output into a set.
func NewEmbeddingSetFloat32(label string, rows [][]float32) (*EmbeddingSet, error) {
	converted := make([][]float64, len(rows))
	for i, row := range rows {
		converted[i] = make([]float64, len(row))
		for j, v := range row {
			converted[i][j] = float64(v)
		}
	}
	return NewEmbeddingSet(label, converted)
}

// Label returns the source label this set was built for.
func (s *EmbeddingSet) Label() string { return s.label }

// Len returns the number of passages.
func (s *EmbeddingSet) Len() int {
	n, _ := s.vectors.Dims()
	return n
}

// Dim returns the vector dimensionality.
func (s *EmbeddingSet) Dim() int {
	_, d := s.vectors.Dims()
	return d
}

// Vector returns a copy of the vector at the given passage index.
func (s *EmbeddingSet) Vector(i int) []float64 {
	out := make([]float64, s.Dim())
	mat.Row(out, i, s.vectors)
	return out
}

// Rows returns a copy of every vector, ordered by passage index.
func (s *EmbeddingSet) Rows() [][]float64 {
	out := make([][]float64, s.Len())
	for i := range out {
		out[i] = s.Vector(i)
	}
	return out
}

// matrix exposes the backing matrix for read-only use inside the package.
func (s *EmbeddingSet) matrix() *mat.Dense { return s.vectors }

// withVectors builds a sibling set around an already-owned matrix.
func (s *EmbeddingSet) withVectors(m *mat.Dense) *EmbeddingSet {
	return &EmbeddingSet{label: s.label, vectors: m}
}

// alignedDims checks that all sets share one passage-index space: equal
// length and equal dimensionality. Mismatches are a caller error and are
// reported rather than truncated.
func alignedDims(sets ...*EmbeddingSet) (n, d int, err error) {
	if len(sets) == 0 {
		return 0, 0, errors.New("no embedding sets given")
	}
	n, d = sets[0].Len(), sets[0].Dim()
	for _, s := range sets[1:] {
		if s.Len() != n {
			return 0, 0, fmt.Errorf("embedding set %q has %d passages, %q has %d", s.label, s.Len(), sets[0].label, n)
		}
		if s.Dim() != d {
			return 0, 0, fmt.Errorf("embedding set %q has dimension %d, %q has %d", s.label, s.Dim(), sets[0].label, d)
		}
	}
	return n, d, nil
}
