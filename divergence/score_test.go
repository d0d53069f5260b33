package divergence

import (
	"math"
	"testing"
)

func TestPairwiseDivergence(t *testing.T) {
	rows := unitRows(6, 4, 10)
	a := mustSet(t, "Kaufmann", rows)
	b := mustSet(t, "Hollingdale", rows)
	c := mustSet(t, "Zimmern", rows)

	scores, err := PairwiseDivergence([]*EmbeddingSet{a, b, c})
	if err != nil {
		t.Fatalf("PairwiseDivergence: %v", err)
	}
	for i, s := range scores {
		if math.Abs(s) > 1e-12 {
			t.Fatalf("identical sets should diverge 0 at passage %d, got %v", i, s)
		}
	}
}

func TestPairwiseDivergenceOrderSymmetry(t *testing.T) {
	a := mustSet(t, "Kaufmann", unitRows(5, 4, 11))
	b := mustSet(t, "Hollingdale", unitRows(5, 4, 12))
	c := mustSet(t, "Zimmern", unitRows(5, 4, 13))

	first, err := PairwiseDivergence([]*EmbeddingSet{a, b, c})
	if err != nil {
		t.Fatalf("PairwiseDivergence: %v", err)
	}
	second, err := PairwiseDivergence([]*EmbeddingSet{c, a, b})
	if err != nil {
		t.Fatalf("PairwiseDivergence: %v", err)
	}
	for i := range first {
		if math.Abs(first[i]-second[i]) > 1e-12 {
			t.Fatalf("passage %d: %v vs %v under reordering", i, first[i], second[i])
		}
	}
}

func TestAnchorDivergence(t *testing.T) {
	reference := mustSet(t, "Gutenberg", [][]float64{{1, 0}, {1, 0}})
	// Passage 0: one target agrees with the reference, one is orthogonal.
	// Passage 1: both agree.
	a := mustSet(t, "Kaufmann", [][]float64{{1, 0}, {1, 0}})
	b := mustSet(t, "Hollingdale", [][]float64{{0, 1}, {1, 0}})

	scores, err := AnchorDivergence(reference, []*EmbeddingSet{a, b})
	if err != nil {
		t.Fatalf("AnchorDivergence: %v", err)
	}
	if math.Abs(scores[0]-0.5) > 1e-12 {
		t.Fatalf("passage 0: score %v, want 0.5 (std of [1,0])", scores[0])
	}
	if scores[1] != 0 {
		t.Fatalf("passage 1: score %v, want 0", scores[1])
	}
}

func TestCentroidSpreadDivergence(t *testing.T) {
	rows := unitRows(4, 3, 14)
	a := mustSet(t, "Kaufmann", rows)
	b := mustSet(t, "Hollingdale", rows)
	scores, err := CentroidSpreadDivergence([]*EmbeddingSet{a, b})
	if err != nil {
		t.Fatalf("CentroidSpreadDivergence: %v", err)
	}
	for i, s := range scores {
		if math.Abs(s) > 1e-12 {
			t.Fatalf("identical sets should spread 0 at passage %d, got %v", i, s)
		}
	}
}

func TestDivergenceDispatch(t *testing.T) {
	a := mustSet(t, "Kaufmann", unitRows(3, 4, 15))
	b := mustSet(t, "Hollingdale", unitRows(3, 4, 16))

	if _, err := Divergence("", nil, []*EmbeddingSet{a, b}); err != nil {
		t.Fatalf("empty metric should default to pairwise: %v", err)
	}
	if _, err := Divergence(MetricAnchor, nil, []*EmbeddingSet{a, b}); err == nil {
		t.Fatal("anchor metric requires a reference")
	}
	if _, err := Divergence("mystery", nil, []*EmbeddingSet{a, b}); err == nil {
		t.Fatal("expected error for an unknown metric")
	}
	if _, err := Divergence(MetricPairwise, nil, []*EmbeddingSet{a}); err == nil {
		t.Fatal("expected error for fewer than 2 sources")
	}
}
