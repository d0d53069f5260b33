package divergence

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/floats"
)

func TestDiscriminativeDimensions(t *testing.T) {
	// The groups are separated along dimension 0 only.
	g1 := mustSet(t, "willToPower", [][]float64{
		{1, 0.1, 0}, {1, -0.1, 0}, {0.9, 0, 0.1}, {1.1, 0, -0.1},
	})
	g2 := mustSet(t, "eternalReturn", [][]float64{
		{-1, 0.1, 0}, {-1, -0.1, 0}, {-0.9, 0, 0.1}, {-1.1, 0, -0.1},
	})
	s, err := NewSurgeon(3)
	if err != nil {
		t.Fatalf("NewSurgeon: %v", err)
	}
	scores, err := s.DiscriminativeDimensions(g1, g2)
	if err != nil {
		t.Fatalf("DiscriminativeDimensions: %v", err)
	}
	if scores[0] <= scores[1] || scores[0] <= scores[2] {
		t.Fatalf("dimension 0 should dominate, got %v", scores)
	}
	if scores[0] < 1 {
		t.Fatalf("separated dimension scored only %v", scores[0])
	}
}

func TestFitWeightsBoostsDissimilarDimensions(t *testing.T) {
	s, err := NewSurgeon(3)
	if err != nil {
		t.Fatalf("NewSurgeon: %v", err)
	}
	// Similar pairs disagree on dimension 0, dissimilar pairs on
	// dimension 1, so learning should suppress 0 and boost 1.
	similar := []VectorPair{
		{A: []float64{0.5, 0, 0}, B: []float64{-0.5, 0, 0}},
		{A: []float64{0.4, 0, 0}, B: []float64{-0.4, 0, 0}},
	}
	dissimilar := []VectorPair{
		{A: []float64{0, 0.5, 0}, B: []float64{0, -0.5, 0}},
		{A: []float64{0, 0.4, 0}, B: []float64{0, -0.4, 0}},
	}
	weights, err := s.FitWeights(similar, dissimilar, 0, 0)
	if err != nil {
		t.Fatalf("FitWeights: %v", err)
	}
	if weights[1] <= weights[0] {
		t.Fatalf("dissimilar dimension should outweigh similar one, got %v", weights)
	}
	var mean float64
	for _, w := range weights {
		if w < 0.1 {
			t.Fatalf("weight fell below floor: %v", weights)
		}
		mean += w
	}
	mean /= float64(len(weights))
	if math.Abs(mean-1) > 1e-9 {
		t.Fatalf("weights should renormalize to mean 1, got %v", mean)
	}
}

func TestApplyWeightsRenormalizes(t *testing.T) {
	s, err := NewSurgeon(3)
	if err != nil {
		t.Fatalf("NewSurgeon: %v", err)
	}
	if err := s.SetWeights([]float64{2, 1, 1}); err != nil {
		t.Fatalf("SetWeights: %v", err)
	}
	set := mustSet(t, "Kaufmann", [][]float64{{1 / math.Sqrt2, 1 / math.Sqrt2, 0}})
	out, err := s.ApplyWeights(set)
	if err != nil {
		t.Fatalf("ApplyWeights: %v", err)
	}
	got := out.Vector(0)
	if n := floats.Norm(got, 2); math.Abs(n-1) > 1e-12 {
		t.Fatalf("weighted row has norm %v, want 1", n)
	}
	want := []float64{2 / math.Sqrt(5), 1 / math.Sqrt(5), 0}
	for j := range want {
		if math.Abs(got[j]-want[j]) > 1e-12 {
			t.Fatalf("dim %d: got %v, want %v", j, got[j], want[j])
		}
	}
}

func TestFocusOnConcept(t *testing.T) {
	s, err := NewSurgeon(3)
	if err != nil {
		t.Fatalf("NewSurgeon: %v", err)
	}
	concepts := map[string]*EmbeddingSet{
		"strength": mustSet(t, "strength", [][]float64{{1, 0, 0}, {0.9, 0.1, 0}}),
		"weakness": mustSet(t, "weakness", [][]float64{{-1, 0, 0}, {-0.9, 0.1, 0}}),
	}
	dims, err := s.LearnConceptDimensions(concepts)
	if err != nil {
		t.Fatalf("LearnConceptDimensions: %v", err)
	}
	if dims["strength"][0] <= dims["strength"][1] {
		t.Fatalf("concept importance should peak on dimension 0, got %v", dims["strength"])
	}

	set := mustSet(t, "Kaufmann", unitRows(4, 3, 31))
	focused, err := s.FocusOnConcept(set, "strength", 1.5)
	if err != nil {
		t.Fatalf("FocusOnConcept: %v", err)
	}
	for i := 0; i < focused.Len(); i++ {
		if n := floats.Norm(focused.Vector(i), 2); math.Abs(n-1) > 1e-12 {
			t.Fatalf("focused row %d has norm %v, want 1", i, n)
		}
	}

	same, err := s.FocusOnConcept(set, "unknown", 1.5)
	if err != nil {
		t.Fatalf("FocusOnConcept: %v", err)
	}
	for i := 0; i < set.Len(); i++ {
		want, got := set.Vector(i), same.Vector(i)
		for j := range want {
			if got[j] != want[j] {
				t.Fatalf("unknown concept should leave row %d untouched", i)
			}
		}
	}
}

func TestSurgeonValidation(t *testing.T) {
	if _, err := NewSurgeon(0); err == nil {
		t.Fatal("expected error for non-positive dimension")
	}
	s, err := NewSurgeon(3)
	if err != nil {
		t.Fatalf("NewSurgeon: %v", err)
	}
	if err := s.SetWeights([]float64{1, 2}); err == nil {
		t.Fatal("expected error for mismatched weight count")
	}
	wide := mustSet(t, "Kaufmann", unitRows(2, 4, 32))
	if _, err := s.ApplyWeights(wide); err == nil {
		t.Fatal("expected error for mismatched set dimension")
	}
	if _, err := s.FitWeights(nil, nil, 0, 0); err == nil {
		t.Fatal("expected error with no supervision pairs")
	}
}
