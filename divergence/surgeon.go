package divergence

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// varEps keeps Fisher scores finite on zero-variance dimensions.
const varEps = 1e-8

// VectorPair couples two embeddings with a known relationship, similar or
// dissimilar depending on which argument it is passed in.
type VectorPair struct {
	A, B []float64
}

// Surgeon reweights individual embedding dimensions to emphasize the
// features that matter for a given contrast. Different dimensions of a
// sentence-embedding space capture different semantic features; the
// surgeon identifies and boosts the discriminative ones. It stores only
// d weights, nothing model-sized.
type Surgeon struct {
	dim         int
	weights     []float64
	conceptDims map[string][]float64
}

// NewSurgeon returns a surgeon for the given embedding dimension with all
// weights at 1 (the identity surgery).
func NewSurgeon(dim int) (*Surgeon, error) {
	if dim < 1 {
		return nil, fmt.Errorf("embedding dimension must be positive, got %d", dim)
	}
	weights := make([]float64, dim)
	for i := range weights {
		weights[i] = 1
	}
	return &Surgeon{dim: dim, weights: weights, conceptDims: map[string][]float64{}}, nil
}

// Weights returns a copy of the current dimension weights.
func (s *Surgeon) Weights() []float64 {
	out := make([]float64, len(s.weights))
	copy(out, s.weights)
	return out
}

// SetWeights replaces the dimension weights.
func (s *Surgeon) SetWeights(weights []float64) error {
	if len(weights) != s.dim {
		return fmt.Errorf("got %d weights for dimension %d", len(weights), s.dim)
	}
	copy(s.weights, weights)
	return nil
}

// DiscriminativeDimensions scores every dimension by how well it
// separates the two groups, using Fisher's criterion: the absolute mean
// difference over the square root of the summed within-group variances.
// High scores mark the dimensions along which the groups differ most.
func (s *Surgeon) DiscriminativeDimensions(group1, group2 *EmbeddingSet) ([]float64, error) {
	if group1.Dim() != s.dim || group2.Dim() != s.dim {
		return nil, fmt.Errorf("groups have dimensions %d and %d, surgeon was built for %d", group1.Dim(), group2.Dim(), s.dim)
	}
	mean1, mean2 := columnMeans(group1.matrix()), columnMeans(group2.matrix())
	var1, var2 := columnVariances(group1.matrix(), mean1), columnVariances(group2.matrix(), mean2)
	scores := make([]float64, s.dim)
	for j := 0; j < s.dim; j++ {
		diff := math.Abs(mean1[j] - mean2[j])
		scores[j] = diff / math.Sqrt(var1[j]+var2[j]+2*varEps)
	}
	return scores, nil
}

// LearnConceptDimensions records, for each named concept set, which
// dimensions its centroid deviates on relative to the global mean. The
// per-concept importance vectors are normalized to sum to 1 and retained
// for FocusOnConcept.
func (s *Surgeon) LearnConceptDimensions(concepts map[string]*EmbeddingSet) (map[string][]float64, error) {
	if len(concepts) == 0 {
		return nil, errors.New("no concept sets given")
	}
	centroids := make(map[string][]float64, len(concepts))
	global := make([]float64, s.dim)
	var total int
	for name, set := range concepts {
		if set.Dim() != s.dim {
			return nil, fmt.Errorf("concept %q has dimension %d, surgeon was built for %d", name, set.Dim(), s.dim)
		}
		centroids[name] = columnMeans(set.matrix())
		for i := 0; i < set.Len(); i++ {
			floats.Add(global, set.matrix().RawRowView(i))
		}
		total += set.Len()
	}
	floats.Scale(1/float64(total), global)

	out := make(map[string][]float64, len(concepts))
	for name, centroid := range centroids {
		deviation := make([]float64, s.dim)
		var sum float64
		for j := range deviation {
			deviation[j] = math.Abs(centroid[j] - global[j])
			sum += deviation[j]
		}
		floats.Scale(1/(sum+varEps), deviation)
		out[name] = deviation
	}
	s.conceptDims = out
	return out, nil
}

// FitWeights learns dimension weights from pairs with known relations.
// Dimensions that differ on pairs that should be similar are weighted
// down; dimensions that differ on pairs that should be dissimilar are
// weighted up. This is lightweight supervision, adjusting only d floats.
// rate <= 0 defaults to 0.1 and iterations <= 0 to 100; weights are kept
// at 0.1 minimum and renormalized to mean 1 each step.
func (s *Surgeon) FitWeights(similar, dissimilar []VectorPair, rate float64, iterations int) ([]float64, error) {
	if len(similar) == 0 && len(dissimilar) == 0 {
		return nil, errors.New("no supervision pairs given")
	}
	for _, ps := range [][]VectorPair{similar, dissimilar} {
		for _, p := range ps {
			if len(p.A) != s.dim || len(p.B) != s.dim {
				return nil, fmt.Errorf("pair has dimensions %d and %d, surgeon was built for %d", len(p.A), len(p.B), s.dim)
			}
		}
	}
	if rate <= 0 {
		rate = 0.1
	}
	if iterations <= 0 {
		iterations = 100
	}

	weights := make([]float64, s.dim)
	for i := range weights {
		weights[i] = 1
	}
	gradient := make([]float64, s.dim)
	for iter := 0; iter < iterations; iter++ {
		for j := range gradient {
			gradient[j] = 0
		}
		for _, p := range similar {
			for j := 0; j < s.dim; j++ {
				gradient[j] -= math.Abs(p.A[j] - p.B[j])
			}
		}
		for _, p := range dissimilar {
			for j := 0; j < s.dim; j++ {
				gradient[j] += math.Abs(p.A[j] - p.B[j])
			}
		}
		norm := floats.Norm(gradient, 2)
		if norm < normEps {
			norm += normEps
		}
		var mean float64
		for j := 0; j < s.dim; j++ {
			weights[j] += rate * gradient[j] / norm
			if weights[j] < 0.1 {
				weights[j] = 0.1
			}
			mean += weights[j]
		}
		mean /= float64(s.dim)
		floats.Scale(1/mean, weights)
	}
	copy(s.weights, weights)
	return s.Weights(), nil
}

// ApplyWeights scales every dimension of the set by the learned weights
// and renormalizes the rows, returning a new set.
func (s *Surgeon) ApplyWeights(set *EmbeddingSet) (*EmbeddingSet, error) {
	if set.Dim() != s.dim {
		return nil, fmt.Errorf("set has dimension %d, surgeon was built for %d", set.Dim(), s.dim)
	}
	return set.withVectors(s.reweight(set.matrix(), s.weights)), nil
}

// FocusOnConcept boosts the dimensions LearnConceptDimensions associated
// with the named concept by 1 + importance*strength, then renormalizes.
// An unknown concept returns the set untouched.
func (s *Surgeon) FocusOnConcept(set *EmbeddingSet, concept string, strength float64) (*EmbeddingSet, error) {
	if set.Dim() != s.dim {
		return nil, fmt.Errorf("set has dimension %d, surgeon was built for %d", set.Dim(), s.dim)
	}
	importance, ok := s.conceptDims[concept]
	if !ok {
		return set.withVectors(mat.DenseCopyOf(set.matrix())), nil
	}
	weights := make([]float64, s.dim)
	for j := range weights {
		weights[j] = 1 + importance[j]*strength
	}
	return set.withVectors(s.reweight(set.matrix(), weights)), nil
}

func (s *Surgeon) reweight(m *mat.Dense, weights []float64) *mat.Dense {
	n, d := m.Dims()
	out := mat.NewDense(n, d, nil)
	for i := 0; i < n; i++ {
		row := out.RawRowView(i)
		copy(row, m.RawRowView(i))
		floats.Mul(row, weights)
	}
	unitNormalizeRows(out)
	return out
}

// columnVariances computes the per-dimension population variance of m
// around the given mean.
func columnVariances(m *mat.Dense, mean []float64) []float64 {
	n, d := m.Dims()
	vars := make([]float64, d)
	for i := 0; i < n; i++ {
		row := m.RawRowView(i)
		for j := 0; j < d; j++ {
			dx := row[j] - mean[j]
			vars[j] += dx * dx
		}
	}
	floats.Scale(1/float64(n), vars)
	return vars
}
