package divergence

import (
	"fmt"
)

// Metric selects how per-passage disagreement is reduced to one scalar.
type Metric string

const (
	// MetricPairwise is the standard deviation of all C(m,2) pairwise
	// cosine similarities among the sources for each passage. Answers
	// "how much do translators diverge from each other".
	MetricPairwise Metric = "pairwise"
	// MetricAnchor is the standard deviation of each source's cosine
	// similarity to a fixed reference (typically the original-language
	// set). O(m) per passage instead of O(m²); answers "how much does
	// each translator diverge from the source".
	MetricAnchor Metric = "anchor"
	// MetricCentroidSpread is the max−min range of each source's
	// similarity to the per-passage centroid of all sources.
	MetricCentroidSpread Metric = "centroid"
)

// PairwiseDivergence scores every passage with the std of pairwise cosine
// similarities among the given sets. The sets must be index-aligned and
// unit-norm; at least two are required for the statistic to exist.
// Symmetric in set order.
func PairwiseDivergence(sets []*EmbeddingSet) ([]float64, error) {
	if len(sets) < 2 {
		return nil, fmt.Errorf("pairwise divergence requires at least 2 sources, got %d", len(sets))
	}
	n, _, err := alignedDims(sets...)
	if err != nil {
		return nil, err
	}
	scores := make([]float64, n)
	sims := make([]float64, 0, len(sets)*(len(sets)-1)/2)
	for i := 0; i < n; i++ {
		sims = sims[:0]
		for a := 0; a < len(sets); a++ {
			for b := a + 1; b < len(sets); b++ {
				sims = append(sims, dot(sets[a].matrix().RawRowView(i), sets[b].matrix().RawRowView(i)))
			}
		}
		scores[i] = populationStd(sims)
	}
	return scores, nil
}

// AnchorDivergence scores every passage with the std of each set's cosine
// similarity to the reference set. The reference is excluded from the
// spread itself.
func AnchorDivergence(reference *EmbeddingSet, sets []*EmbeddingSet) ([]float64, error) {
	if reference == nil {
		return nil, fmt.Errorf("anchor divergence requires a reference set")
	}
	if len(sets) < 2 {
		return nil, fmt.Errorf("anchor divergence requires at least 2 sources, got %d", len(sets))
	}
	all := append([]*EmbeddingSet{reference}, sets...)
	n, _, err := alignedDims(all...)
	if err != nil {
		return nil, err
	}
	scores := make([]float64, n)
	sims := make([]float64, len(sets))
	for i := 0; i < n; i++ {
		ref := reference.matrix().RawRowView(i)
		for s, set := range sets {
			sims[s] = dot(ref, set.matrix().RawRowView(i))
		}
		scores[i] = populationStd(sims)
	}
	return scores, nil
}

// CentroidSpreadDivergence scores every passage with the max−min range of
// each set's similarity to the renormalized per-passage centroid.
func CentroidSpreadDivergence(sets []*EmbeddingSet) ([]float64, error) {
	if len(sets) < 2 {
		return nil, fmt.Errorf("centroid divergence requires at least 2 sources, got %d", len(sets))
	}
	targets := make(map[string]*EmbeddingSet, len(sets))
	for i, set := range sets {
		// Anchor keys by label; disambiguate duplicates positionally.
		targets[fmt.Sprintf("%03d:%s", i, set.Label())] = set
	}
	anchor, err := NewAnchor(sets[0], targets)
	if err != nil {
		return nil, err
	}
	n := sets[0].Len()
	scores := make([]float64, n)
	for i := 0; i < n; i++ {
		spread, err := anchor.TriangulationSpread(i)
		if err != nil {
			return nil, err
		}
		scores[i] = spread
	}
	return scores, nil
}

// Divergence dispatches on the metric. The reference is required for
// MetricAnchor and ignored otherwise.
func Divergence(metric Metric, reference *EmbeddingSet, sets []*EmbeddingSet) ([]float64, error) {
	switch metric {
	case MetricPairwise, "":
		return PairwiseDivergence(sets)
	case MetricAnchor:
		return AnchorDivergence(reference, sets)
	case MetricCentroidSpread:
		return CentroidSpreadDivergence(sets)
	default:
		return nil, fmt.Errorf("unknown divergence metric %q", metric)
	}
}
