package divergence

import (
	"math"
	"testing"
)

func twoModelEnsemble(t *testing.T) *Ensemble {
	t.Helper()
	e := NewEnsemble()
	// Model one sees the two labels as identical, model two as
	// orthogonal.
	agree := map[string]*EmbeddingSet{
		"Kaufmann":    mustSet(t, "Kaufmann", [][]float64{{1, 0}}),
		"Hollingdale": mustSet(t, "Hollingdale", [][]float64{{1, 0}}),
	}
	disagree := map[string]*EmbeddingSet{
		"Kaufmann":    mustSet(t, "Kaufmann", [][]float64{{1, 0}}),
		"Hollingdale": mustSet(t, "Hollingdale", [][]float64{{0, 1}}),
	}
	if err := e.AddModel("model-a", agree); err != nil {
		t.Fatalf("AddModel: %v", err)
	}
	if err := e.AddModel("model-b", disagree); err != nil {
		t.Fatalf("AddModel: %v", err)
	}
	return e
}

func TestWeightedSimilarity(t *testing.T) {
	e := twoModelEnsemble(t)
	sim, err := e.WeightedSimilarity("Kaufmann", "Hollingdale", 0)
	if err != nil {
		t.Fatalf("WeightedSimilarity: %v", err)
	}
	if math.Abs(sim-0.5) > 1e-12 {
		t.Fatalf("equal weights: similarity %v, want 0.5", sim)
	}

	if err := e.SetWeight("model-b", 3); err != nil {
		t.Fatalf("SetWeight: %v", err)
	}
	sim, err = e.WeightedSimilarity("Kaufmann", "Hollingdale", 0)
	if err != nil {
		t.Fatalf("WeightedSimilarity: %v", err)
	}
	if math.Abs(sim-0.25) > 1e-12 {
		t.Fatalf("reweighted similarity %v, want 0.25", sim)
	}
}

func TestDisagreementScore(t *testing.T) {
	e := twoModelEnsemble(t)
	score, err := e.DisagreementScore("Kaufmann", "Hollingdale", 0)
	if err != nil {
		t.Fatalf("DisagreementScore: %v", err)
	}
	if math.Abs(score-0.5) > 1e-12 {
		t.Fatalf("disagreement %v, want 0.5 (std of [1,0])", score)
	}
}

func TestEnsembleErrors(t *testing.T) {
	e := NewEnsemble()
	if err := e.AddModel("empty", nil); err == nil {
		t.Fatal("expected error adding a model with no sets")
	}
	if err := e.SetWeight("missing", 2); err == nil {
		t.Fatal("expected error weighting an unknown model")
	}
	single := NewEnsemble()
	sets := map[string]*EmbeddingSet{
		"Kaufmann":    mustSet(t, "Kaufmann", [][]float64{{1, 0}}),
		"Hollingdale": mustSet(t, "Hollingdale", [][]float64{{0, 1}}),
	}
	if err := single.AddModel("only", sets); err != nil {
		t.Fatalf("AddModel: %v", err)
	}
	if _, err := single.DisagreementScore("Kaufmann", "Hollingdale", 0); err == nil {
		t.Fatal("disagreement needs at least two models")
	}
	if _, err := single.WeightedSimilarity("Kaufmann", "Missing", 0); err == nil {
		t.Fatal("expected error for an unknown label")
	}
	if _, err := single.WeightedSimilarity("Kaufmann", "Hollingdale", 5); err == nil {
		t.Fatal("expected error for an out-of-range passage index")
	}
}

func TestReciprocalRankFusion(t *testing.T) {
	fused, err := ReciprocalRankFusion([][]int{{0, 1}, {0, 1}}, 2)
	if err != nil {
		t.Fatalf("ReciprocalRankFusion: %v", err)
	}
	if fused[0] <= fused[1] {
		t.Fatalf("consistently top-ranked candidate should win: %v", fused)
	}
	if math.Abs(fused[0]-2.0/60) > 1e-12 {
		t.Fatalf("fused[0] = %v, want 2/60", fused[0])
	}
}

func TestBordaFusion(t *testing.T) {
	fused, err := BordaFusion([][]int{{0, 1}, {0, 1}}, 2)
	if err != nil {
		t.Fatalf("BordaFusion: %v", err)
	}
	if fused[0] != 4 || fused[1] != 2 {
		t.Fatalf("borda counts %v, want [4 2]", fused)
	}
	if _, err := BordaFusion([][]int{{0, 7}}, 2); err == nil {
		t.Fatal("expected error for an out-of-range candidate")
	}
	if _, err := BordaFusion(nil, 2); err == nil {
		t.Fatal("expected error for no rankings")
	}
}
