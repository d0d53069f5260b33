package divergence

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// defaultEps regularizes near-singular covariance matrices. A dimension
// with zero variance whitens to effectively zero instead of dividing by
// zero.
const defaultEps = 1e-6

// Calibrator applies post-hoc corrections to raw embedding sets.
// Pretrained sentence-embedding spaces are anisotropic: a few dominant
// directions capture most variance and push all pairwise similarities
// artificially high. Whitening and principal-component removal counteract
// that without touching the model.
type Calibrator struct {
	// Eps is the numerical-stability epsilon added to every covariance
	// eigenvalue before inversion. Zero means the default 1e-6.
	Eps float64
}

// CalibrationState records the fitted transform so held-out vectors can
// be calibrated consistently with the set the transform was fitted on.
// Exactly one of Whitening or Removed is populated.
type CalibrationState struct {
	Mean      []float64
	Whitening *mat.Dense
	// Removed holds the principal directions subtracted during PC
	// removal, in removal order.
	Removed [][]float64
}

// Apply reproduces the calibrated output for a single raw vector using
// the stored transform.
func (st *CalibrationState) Apply(vec []float64) ([]float64, error) {
	if len(vec) != len(st.Mean) {
		return nil, fmt.Errorf("vector has dimension %d, transform was fitted on %d", len(vec), len(st.Mean))
	}
	centered := make([]float64, len(vec))
	copy(centered, vec)
	floats.Sub(centered, st.Mean)
	switch {
	case st.Whitening != nil:
		out := make([]float64, len(vec))
		v := mat.NewVecDense(len(centered), centered)
		res := mat.NewVecDense(len(out), out)
		res.MulVec(st.Whitening.T(), v)
		return unitNormalize(out), nil
	case len(st.Removed) > 0:
		for _, pc := range st.Removed {
			proj := dot(centered, pc)
			floats.AddScaled(centered, -proj, pc)
		}
		return unitNormalize(centered), nil
	default:
		return unitNormalize(centered), nil
	}
}

func (c Calibrator) eps() float64 {
	if c.Eps > 0 {
		return c.Eps
	}
	return defaultEps
}

// Whiten transforms the set so its covariance approaches the identity,
// then renormalizes every row to unit length. The whitening matrix is
// W = V·D^(-1/2)·Vᵀ from the eigendecomposition of the empirical
// covariance. With fewer passages than dimensions the covariance is
// rank-deficient and the transform numerically weak; the epsilon keeps it
// finite but callers should prefer n ≥ d.
func (c Calibrator) Whiten(set *EmbeddingSet) (*EmbeddingSet, *CalibrationState, error) {
	n, d := set.Len(), set.Dim()
	if n < 2 {
		return nil, nil, fmt.Errorf("whitening requires at least 2 passages, got %d (a single point has no distribution)", n)
	}
	mean := columnMeans(set.matrix())
	centered := centerRows(set.matrix(), mean)

	cov := covarianceMatrix(centered)
	var eig mat.EigenSym
	if !eig.Factorize(cov, true) {
		return nil, nil, errors.New("whitening: covariance eigendecomposition failed")
	}
	vals := eig.Values(nil)
	var v mat.Dense
	eig.VectorsTo(&v)

	eps := c.eps()
	invSqrt := mat.NewDiagDense(d, nil)
	for i, ev := range vals {
		invSqrt.SetDiag(i, 1/math.Sqrt(ev+eps))
	}
	var w mat.Dense
	w.Product(&v, invSqrt, v.T())

	out := mat.NewDense(n, d, nil)
	out.Mul(centered, &w)
	unitNormalizeRows(out)

	state := &CalibrationState{Mean: mean, Whitening: mat.DenseCopyOf(&w)}
	return set.withVectors(out), state, nil
}

// RemovePrincipalComponents subtracts the projection onto each of the
// top-k right-singular directions of the centered set, one direction at a
// time with the projection recomputed from the already-reduced rows, then
// renormalizes. The top components of sentence-embedding spaces tend to
// carry corpus-wide artifacts rather than meaning. k = 0 is a no-op.
func (c Calibrator) RemovePrincipalComponents(set *EmbeddingSet, k int) (*EmbeddingSet, *CalibrationState, error) {
	n, d := set.Len(), set.Dim()
	if k < 0 {
		return nil, nil, fmt.Errorf("negative component count %d", k)
	}
	if k >= d {
		return nil, nil, fmt.Errorf("cannot remove %d components from dimension %d", k, d)
	}
	if k == 0 {
		// No-op: return an untouched copy and no transform.
		return set.withVectors(mat.DenseCopyOf(set.matrix())), nil, nil
	}
	mean := columnMeans(set.matrix())
	if n < 2 {
		return nil, nil, fmt.Errorf("principal-component removal requires at least 2 passages, got %d", n)
	}

	centered := centerRows(set.matrix(), mean)
	var svd mat.SVD
	if !svd.Factorize(centered, mat.SVDThin) {
		return nil, nil, errors.New("pc removal: SVD failed")
	}
	var v mat.Dense
	svd.VTo(&v)

	removed := make([][]float64, 0, k)
	for comp := 0; comp < k; comp++ {
		pc := make([]float64, d)
		mat.Col(pc, comp, &v)
		for i := 0; i < n; i++ {
			row := centered.RawRowView(i)
			proj := dot(row, pc)
			floats.AddScaled(row, -proj, pc)
		}
		removed = append(removed, pc)
	}
	unitNormalizeRows(centered)

	state := &CalibrationState{Mean: mean, Removed: removed}
	return set.withVectors(centered), state, nil
}

// IsotropyScore is the ratio of smallest to largest covariance eigenvalue
// after centering, in [0,1]. Near 0 means most variance lives in one
// direction; near 1 means uniform spread. Diagnostic only.
func (c Calibrator) IsotropyScore(set *EmbeddingSet) (float64, error) {
	n := set.Len()
	if n < 2 {
		return 0, fmt.Errorf("isotropy requires at least 2 passages, got %d", n)
	}
	mean := columnMeans(set.matrix())
	centered := centerRows(set.matrix(), mean)
	cov := covarianceMatrix(centered)

	var eig mat.EigenSym
	if !eig.Factorize(cov, false) {
		return 0, errors.New("isotropy: covariance eigendecomposition failed")
	}
	vals := eig.Values(nil)
	sort.Float64s(vals)
	minEV, maxEV := vals[0], vals[len(vals)-1]
	score := minEV / (maxEV + normEps)
	return clamp01(score), nil
}

// CSLSSimilarity corrects a raw cosine-similarity matrix for hubness by
// subtracting, from each pairwise similarity, the mean similarity each
// point has to its k nearest neighbors in the opposite set:
//
//	csls(x,y) = 2·cos(x,y) − meanK(x→target) − meanK(y→source)
//
// It returns an (n, m) matrix and does not modify the embeddings.
func CSLSSimilarity(source, target *EmbeddingSet, k int) (*mat.Dense, error) {
	if source.Dim() != target.Dim() {
		return nil, fmt.Errorf("dimension mismatch: source %d, target %d", source.Dim(), target.Dim())
	}
	n, m := source.Len(), target.Len()
	if k < 1 {
		return nil, fmt.Errorf("neighborhood size must be positive, got %d", k)
	}
	if k > n || k > m {
		return nil, fmt.Errorf("neighborhood size %d exceeds set sizes %d and %d", k, n, m)
	}

	sim := mat.NewDense(n, m, nil)
	sim.Mul(source.matrix(), target.matrix().T())

	sourceKNN := make([]float64, n)
	for i := 0; i < n; i++ {
		sourceKNN[i] = topKMean(sim.RawRowView(i), k)
	}
	targetKNN := make([]float64, m)
	col := make([]float64, n)
	for j := 0; j < m; j++ {
		mat.Col(col, j, sim)
		targetKNN[j] = topKMean(col, k)
	}

	out := mat.NewDense(n, m, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < m; j++ {
			out.Set(i, j, 2*sim.At(i, j)-sourceKNN[i]-targetKNN[j])
		}
	}
	return out, nil
}

func topKMean(xs []float64, k int) float64 {
	sorted := make([]float64, len(xs))
	copy(sorted, xs)
	sort.Sort(sort.Reverse(sort.Float64Slice(sorted)))
	var sum float64
	for _, v := range sorted[:k] {
		sum += v
	}
	return sum / float64(k)
}

// covarianceMatrix computes the sample covariance of pre-centered rows.
func covarianceMatrix(centered *mat.Dense) *mat.SymDense {
	n, d := centered.Dims()
	var prod mat.Dense
	prod.Mul(centered.T(), centered)
	prod.Scale(1/float64(n-1), &prod)
	sym := mat.NewSymDense(d, nil)
	for i := 0; i < d; i++ {
		for j := i; j < d; j++ {
			sym.SetSym(i, j, prod.At(i, j))
		}
	}
	return sym
}
