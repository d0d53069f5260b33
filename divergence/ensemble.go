package divergence

import (
	"fmt"
	"sort"
)

// Ensemble combines embeddings of the same corpus produced by several
// models. Averaging similarities across models reduces model-specific
// bias, and the spread between models flags passages whose nuances the
// models capture differently.
type Ensemble struct {
	models  map[string]map[string]*EmbeddingSet
	weights map[string]float64
	order   []string
}

// NewEnsemble returns an empty ensemble.
func NewEnsemble() *Ensemble {
	return &Ensemble{
		models:  make(map[string]map[string]*EmbeddingSet),
		weights: make(map[string]float64),
	}
}

// AddModel registers one model's per-label embedding sets with weight 1.
// All sets within the model must be index-aligned.
func (e *Ensemble) AddModel(model string, sets map[string]*EmbeddingSet) error {
	if len(sets) == 0 {
		return fmt.Errorf("model %q: no embedding sets", model)
	}
	all := make([]*EmbeddingSet, 0, len(sets))
	for _, s := range sets {
		all = append(all, s)
	}
	if _, _, err := alignedDims(all...); err != nil {
		return fmt.Errorf("model %q: %w", model, err)
	}
	if _, exists := e.models[model]; !exists {
		e.order = append(e.order, model)
		sort.Strings(e.order)
	}
	e.models[model] = sets
	e.weights[model] = 1
	return nil
}

// SetWeight adjusts one model's contribution to weighted similarities.
func (e *Ensemble) SetWeight(model string, weight float64) error {
	if _, ok := e.models[model]; !ok {
		return fmt.Errorf("unknown ensemble model %q", model)
	}
	e.weights[model] = weight
	return nil
}

// WeightedSimilarity averages the cosine similarity between two labels'
// vectors for one passage across all models, weighted per model.
func (e *Ensemble) WeightedSimilarity(label1, label2 string, idx int) (float64, error) {
	var weighted, total float64
	for _, model := range e.order {
		v1, v2, err := e.pair(model, label1, label2, idx)
		if err != nil {
			return 0, err
		}
		w := e.weights[model]
		weighted += w * dot(v1, v2)
		total += w
	}
	if total == 0 {
		return 0, fmt.Errorf("ensemble has no positive weights")
	}
	return weighted / total, nil
}

// DisagreementScore is the std of the per-model similarities between two
// labels for one passage. High disagreement marks passages whose subtle
// differences the models resolve inconsistently.
func (e *Ensemble) DisagreementScore(label1, label2 string, idx int) (float64, error) {
	if len(e.order) < 2 {
		return 0, fmt.Errorf("disagreement requires at least 2 models, got %d", len(e.order))
	}
	sims := make([]float64, 0, len(e.order))
	for _, model := range e.order {
		v1, v2, err := e.pair(model, label1, label2, idx)
		if err != nil {
			return 0, err
		}
		sims = append(sims, dot(v1, v2))
	}
	return populationStd(sims), nil
}

func (e *Ensemble) pair(model, label1, label2 string, idx int) ([]float64, []float64, error) {
	sets := e.models[model]
	s1, ok := sets[label1]
	if !ok {
		return nil, nil, fmt.Errorf("model %q has no embeddings for label %q", model, label1)
	}
	s2, ok := sets[label2]
	if !ok {
		return nil, nil, fmt.Errorf("model %q has no embeddings for label %q", model, label2)
	}
	if idx < 0 || idx >= s1.Len() {
		return nil, nil, fmt.Errorf("passage index %d out of range [0,%d)", idx, s1.Len())
	}
	return s1.matrix().RawRowView(idx), s2.matrix().RawRowView(idx), nil
}

// ReciprocalRankFusion merges per-model candidate rankings with the
// standard RRF formula sum(1/(k+rank)), k = 60. Each ranking lists
// candidate indices best-first; the output maps candidate index to fused
// score.
func ReciprocalRankFusion(rankings [][]int, nCandidates int) ([]float64, error) {
	if err := checkRankings(rankings, nCandidates); err != nil {
		return nil, err
	}
	const k = 60
	fused := make([]float64, nCandidates)
	for _, ranking := range rankings {
		for rank, idx := range ranking {
			fused[idx] += 1 / float64(k+rank)
		}
	}
	return fused, nil
}

// BordaFusion merges rankings by Borda count: a candidate at rank r in a
// list of n earns n−r points.
func BordaFusion(rankings [][]int, nCandidates int) ([]float64, error) {
	if err := checkRankings(rankings, nCandidates); err != nil {
		return nil, err
	}
	fused := make([]float64, nCandidates)
	for _, ranking := range rankings {
		for rank, idx := range ranking {
			fused[idx] += float64(nCandidates - rank)
		}
	}
	return fused, nil
}

func checkRankings(rankings [][]int, nCandidates int) error {
	if len(rankings) == 0 {
		return fmt.Errorf("rank fusion requires at least one ranking")
	}
	if nCandidates < 1 {
		return fmt.Errorf("rank fusion requires at least one candidate, got %d", nCandidates)
	}
	for m, ranking := range rankings {
		for _, idx := range ranking {
			if idx < 0 || idx >= nCandidates {
				return fmt.Errorf("ranking %d references candidate %d outside [0,%d)", m, idx, nCandidates)
			}
		}
	}
	return nil
}
