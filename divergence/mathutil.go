package divergence

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// normEps guards renormalization against zero-length rows.
const normEps = 1e-8

func dot(a, b []float64) float64 {
	return floats.Dot(a, b)
}

func unitNormalize(v []float64) []float64 {
	out := make([]float64, len(v))
	copy(out, v)
	n := floats.Norm(out, 2)
	if n < normEps {
		// Near-zero vectors stay finite instead of blowing up to Inf.
		n += normEps
	}
	floats.Scale(1/n, out)
	return out
}

// unitNormalizeRows rescales every row of m to unit length in place.
func unitNormalizeRows(m *mat.Dense) {
	n, d := m.Dims()
	for i := 0; i < n; i++ {
		row := m.RawRowView(i)
		norm := floats.Norm(row, 2)
		if norm < normEps {
			norm += normEps
		}
		for j := 0; j < d; j++ {
			m.Set(i, j, row[j]/norm)
		}
	}
}

// columnMeans returns the per-dimension mean of m.
func columnMeans(m *mat.Dense) []float64 {
	n, d := m.Dims()
	means := make([]float64, d)
	for i := 0; i < n; i++ {
		floats.Add(means, m.RawRowView(i))
	}
	floats.Scale(1/float64(n), means)
	return means
}

// centerRows subtracts mean from every row, returning a new matrix.
func centerRows(m *mat.Dense, mean []float64) *mat.Dense {
	n, d := m.Dims()
	out := mat.NewDense(n, d, nil)
	for i := 0; i < n; i++ {
		row := out.RawRowView(i)
		copy(row, m.RawRowView(i))
		floats.Sub(row, mean)
	}
	return out
}

func meanOf(xs []float64) float64 {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// populationStd is the uncorrected (N-divisor) standard deviation, the
// convention the divergence metrics and z-scores are defined with.
func populationStd(xs []float64) float64 {
	m := meanOf(xs)
	var sum float64
	for _, x := range xs {
		dx := x - m
		sum += dx * dx
	}
	return math.Sqrt(sum / float64(len(xs)))
}

// percentile computes the q-th percentile (0..100) of xs with linear
// interpolation between closest ranks.
func percentile(xs []float64, q float64) float64 {
	sorted := make([]float64, len(xs))
	copy(sorted, xs)
	sort.Float64s(sorted)
	if len(sorted) == 1 {
		return sorted[0]
	}
	if q <= 0 {
		return sorted[0]
	}
	if q >= 100 {
		return sorted[len(sorted)-1]
	}
	pos := q / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
