package divergence

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Anchor exploits the known source→translation correspondence: every
// target set contains translations of the source passages by
// construction, not candidates found by similarity search. That ground
// truth calibrates and audits the embedding space.
type Anchor struct {
	source  *EmbeddingSet
	targets map[string]*EmbeddingSet
	labels  []string
}

// NewAnchor validates that every target set shares the source's passage
// index space. Empty target sets are skipped rather than rejected.
func NewAnchor(source *EmbeddingSet, targets map[string]*EmbeddingSet) (*Anchor, error) {
	if source == nil {
		return nil, errors.New("anchor requires a source set")
	}
	kept := make(map[string]*EmbeddingSet, len(targets))
	labels := make([]string, 0, len(targets))
	for label, set := range targets {
		if set == nil || set.Len() == 0 {
			continue
		}
		if _, _, err := alignedDims(source, set); err != nil {
			return nil, fmt.Errorf("target %q: %w", label, err)
		}
		kept[label] = set
		labels = append(labels, label)
	}
	if len(kept) == 0 {
		return nil, errors.New("anchor requires at least one non-empty target set")
	}
	sort.Strings(labels)
	return &Anchor{source: source, targets: kept, labels: labels}, nil
}

// Labels returns the target labels in deterministic order.
func (a *Anchor) Labels() []string {
	out := make([]string, len(a.labels))
	copy(out, a.labels)
	return out
}

// TranslationOffsets computes, per target label, the mean displacement
// from source vector to target vector across all passages. The offset
// captures the systematic language-level shift the embedding model
// induces between source and translation spaces. Offsets are recomputed
// from scratch on every call; they are never updated incrementally.
func (a *Anchor) TranslationOffsets() map[string][]float64 {
	n, d := a.source.Len(), a.source.Dim()
	offsets := make(map[string][]float64, len(a.targets))
	for _, label := range a.labels {
		target := a.targets[label]
		offset := make([]float64, d)
		for i := 0; i < n; i++ {
			floats.Add(offset, target.matrix().RawRowView(i))
			floats.Sub(offset, a.source.matrix().RawRowView(i))
		}
		floats.Scale(1/float64(n), offset)
		offsets[label] = offset
	}
	return offsets
}

// AlignToSource subtracts the translation offset from every vector of the
// target set and renormalizes, removing the language-level shift so that
// only passage-level semantic differences remain.
func AlignToSource(set *EmbeddingSet, offset []float64) (*EmbeddingSet, error) {
	if len(offset) != set.Dim() {
		return nil, fmt.Errorf("offset has dimension %d, set %q has %d", len(offset), set.Label(), set.Dim())
	}
	n, d := set.Len(), set.Dim()
	out := mat.NewDense(n, d, nil)
	for i := 0; i < n; i++ {
		row := out.RawRowView(i)
		copy(row, set.matrix().RawRowView(i))
		floats.Sub(row, offset)
	}
	unitNormalizeRows(out)
	return set.withVectors(out), nil
}

// TranslationQuality scores how typical each translated passage is,
// relative to its translator's own average offset. For each passage,
// expected = source + offset; the deviation ‖target − expected‖ is turned
// into a bounded score clip(1 − dev/(2·meanDev), 0, 1). Passages whose
// deviation far exceeds the translator's norm score low: candidate
// unusual renderings, independent of any absolute semantic judgment.
// With a single passage the offset is well-defined but the score
// degenerates to 1.0 (the lone deviation is its own mean).
func (a *Anchor) TranslationQuality() map[string][]float64 {
	offsets := a.TranslationOffsets()
	n := a.source.Len()
	quality := make(map[string][]float64, len(a.targets))
	for _, label := range a.labels {
		target := a.targets[label]
		offset := offsets[label]
		deviations := make([]float64, n)
		for i := 0; i < n; i++ {
			expected := make([]float64, len(offset))
			copy(expected, a.source.matrix().RawRowView(i))
			floats.Add(expected, offset)
			floats.Sub(expected, target.matrix().RawRowView(i))
			deviations[i] = floats.Norm(expected, 2)
		}
		meanDev := meanOf(deviations)
		scores := make([]float64, n)
		if meanDev < normEps {
			// Zero deviation everywhere: target matches the expected
			// positions exactly.
			for i := range scores {
				scores[i] = 1
			}
		} else {
			for i, dev := range deviations {
				scores[i] = clamp01(1 - dev/(2*meanDev))
			}
		}
		quality[label] = scores
	}
	return quality
}

// TriangulateMeaning computes the renormalized centroid of all target
// vectors for one passage and returns each label's cosine similarity to
// it. High spread among the similarities signals translator disagreement
// about that specific passage.
func (a *Anchor) TriangulateMeaning(idx int) (map[string]float64, error) {
	n, d := a.source.Len(), a.source.Dim()
	if idx < 0 || idx >= n {
		return nil, fmt.Errorf("passage index %d out of range [0,%d)", idx, n)
	}
	centroid := make([]float64, d)
	for _, label := range a.labels {
		floats.Add(centroid, a.targets[label].matrix().RawRowView(idx))
	}
	floats.Scale(1/float64(len(a.labels)), centroid)
	centroid = unitNormalize(centroid)

	sims := make(map[string]float64, len(a.labels))
	for _, label := range a.labels {
		sims[label] = dot(a.targets[label].matrix().RawRowView(idx), centroid)
	}
	return sims, nil
}

// TriangulationSpread is the max−min range of the centroid similarities
// for one passage, the raw disagreement signal the scorer aggregates.
func (a *Anchor) TriangulationSpread(idx int) (float64, error) {
	sims, err := a.TriangulateMeaning(idx)
	if err != nil {
		return 0, err
	}
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, s := range sims {
		lo = math.Min(lo, s)
		hi = math.Max(hi, s)
	}
	return hi - lo, nil
}

// ProcrustesAlignment finds the orthogonal rotation W minimizing
// ‖source·W − target‖ over index-aligned sets, via SVD of the
// cross-covariance M = targetᵀ·source: with M = U·S·Vᵀ, W = V·Uᵀ.
// Comparing the residual before and after rotation tests whether a
// systematic rotation, not merely a translation offset, explains
// cross-source differences.
func ProcrustesAlignment(source, target *EmbeddingSet) (*mat.Dense, error) {
	_, d, err := alignedDims(source, target)
	if err != nil {
		return nil, err
	}
	var m mat.Dense
	m.Mul(target.matrix().T(), source.matrix())

	var svd mat.SVD
	if !svd.Factorize(&m, mat.SVDThin) {
		return nil, errors.New("procrustes: SVD of cross-covariance failed")
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	w := mat.NewDense(d, d, nil)
	w.Mul(&v, u.T())
	return w, nil
}
