package divergence

import (
	"math"
	"reflect"
	"testing"
)

// topHeavyScores has one clear standout among nine tied low scores.
func topHeavyScores() []float64 {
	scores := []float64{0.9}
	for i := 0; i < 9; i++ {
		scores = append(scores, 0.1)
	}
	return scores
}

func TestRank(t *testing.T) {
	scores := topHeavyScores()
	rank, err := Rank(scores, 0)
	if err != nil {
		t.Fatalf("Rank: %v", err)
	}
	if rank != 1 {
		t.Fatalf("unique maximum should rank 1, got %d", rank)
	}
	rank, err = Rank(scores, 3)
	if err != nil {
		t.Fatalf("Rank: %v", err)
	}
	if rank != 10 {
		t.Fatalf("tied minimum should rank n=10, got %d", rank)
	}
}

func TestZScore(t *testing.T) {
	// mean 0.18, population std 0.24, so the standout sits at exactly 3.
	z, err := ZScore(topHeavyScores(), 0)
	if err != nil {
		t.Fatalf("ZScore: %v", err)
	}
	if math.Abs(z-3) > 1e-12 {
		t.Fatalf("z-score %v, want 3", z)
	}
}

func TestZScoreIdenticalScores(t *testing.T) {
	if _, err := ZScore([]float64{0.5, 0.5, 0.5}, 0); err == nil {
		t.Fatal("expected error when all scores are identical")
	}
}

func TestPermutationTest(t *testing.T) {
	scores := topHeavyScores()
	p1, rank, err := PermutationTest(scores, 0, 10000, 42)
	if err != nil {
		t.Fatalf("PermutationTest: %v", err)
	}
	if rank != 1 {
		t.Fatalf("observed rank %d, want 1", rank)
	}
	// Under shuffling, position 0 holds the standout with probability
	// 1/10, so the p-value concentrates near 0.1.
	if p1 < 0.08 || p1 > 0.12 {
		t.Fatalf("p-value %v outside the expected band around 0.1", p1)
	}
	p2, _, err := PermutationTest(scores, 0, 10000, 42)
	if err != nil {
		t.Fatalf("PermutationTest: %v", err)
	}
	if p1 != p2 {
		t.Fatalf("fixed seed must reproduce exactly: %v vs %v", p1, p2)
	}
}

func TestBootstrapCI(t *testing.T) {
	scores := topHeavyScores()
	max := func(sample []float64) float64 {
		m := sample[0]
		for _, v := range sample[1:] {
			if v > m {
				m = v
			}
		}
		return m
	}
	lo1, hi1, err := BootstrapCI(scores, max, 5000, 0.95, 7)
	if err != nil {
		t.Fatalf("BootstrapCI: %v", err)
	}
	if lo1 > hi1 {
		t.Fatalf("lower bound %v exceeds upper %v", lo1, hi1)
	}
	if hi1 > 0.9 || lo1 < 0.1 {
		t.Fatalf("CI (%v,%v) outside the range of observed values", lo1, hi1)
	}
	lo2, hi2, err := BootstrapCI(scores, max, 5000, 0.95, 7)
	if err != nil {
		t.Fatalf("BootstrapCI: %v", err)
	}
	if lo1 != lo2 || hi1 != hi2 {
		t.Fatal("fixed seed must reproduce the bootstrap interval exactly")
	}
}

func TestRankPValues(t *testing.T) {
	pvals, err := RankPValues(topHeavyScores())
	if err != nil {
		t.Fatalf("RankPValues: %v", err)
	}
	if pvals[0] != 0.1 {
		t.Fatalf("standout p-value %v, want 0.1", pvals[0])
	}
	for i := 1; i < len(pvals); i++ {
		if pvals[i] != 1 {
			t.Fatalf("tied-minimum p-value %v at %d, want 1", pvals[i], i)
		}
	}
}

func TestBonferroniThreshold(t *testing.T) {
	thr, err := BonferroniThreshold(0.05, 10)
	if err != nil {
		t.Fatalf("BonferroniThreshold: %v", err)
	}
	if thr != 0.005 {
		t.Fatalf("threshold %v, want 0.005", thr)
	}
	if _, err := BonferroniThreshold(0.05, 0); err == nil {
		t.Fatal("expected error for zero tests")
	}
}

func TestBenjaminiHochberg(t *testing.T) {
	rejected, err := BenjaminiHochberg([]float64{0.001, 0.01, 0.02, 0.9}, 0.05)
	if err != nil {
		t.Fatalf("BenjaminiHochberg: %v", err)
	}
	want := []bool{true, true, true, false}
	if !reflect.DeepEqual(rejected, want) {
		t.Fatalf("rejections %v, want %v", rejected, want)
	}
}

func TestEvaluate(t *testing.T) {
	scores := topHeavyScores()
	opts := SignificanceOptions{Seed: 11}
	res, err := Evaluate(scores, 0, opts)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if res.Index != 0 || res.Score != 0.9 {
		t.Fatalf("result identifies the wrong passage: %+v", res)
	}
	if res.Rank != 1 {
		t.Fatalf("rank %d, want 1", res.Rank)
	}
	if res.Percentile != 90 {
		t.Fatalf("percentile %v, want 90", res.Percentile)
	}
	if math.Abs(res.ZScore-3) > 1e-12 {
		t.Fatalf("z-score %v, want 3", res.ZScore)
	}
	if res.CILower > res.CIUpper {
		t.Fatalf("inverted CI: %+v", res)
	}
	// Shuffle-based p hovers near 0.1; far above both corrected cutoffs.
	if res.SurvivesBonferroni {
		t.Fatal("p-value near 0.1 should not survive Bonferroni at alpha/n = 0.005")
	}
	if res.SurvivesFDR {
		t.Fatal("rank p-value 0.1 should not survive BH at fdr 0.05")
	}
}

func TestEvaluateAllDeterminism(t *testing.T) {
	scores := topHeavyScores()
	opts := SignificanceOptions{Seed: 3, Trials: 2000, Resamples: 2000}
	first, err := EvaluateAll(scores, opts)
	if err != nil {
		t.Fatalf("EvaluateAll: %v", err)
	}
	if len(first) != len(scores) {
		t.Fatalf("got %d results for %d scores", len(first), len(scores))
	}
	second, err := EvaluateAll(scores, opts)
	if err != nil {
		t.Fatalf("EvaluateAll: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatal("fixed seed must make repeated runs bit-identical")
	}
}

func TestSignificanceEdgeCases(t *testing.T) {
	if _, err := Rank([]float64{0.5}, 0); err == nil {
		t.Fatal("expected error for a single score")
	}
	if _, err := Rank(topHeavyScores(), 10); err == nil {
		t.Fatal("expected error for an out-of-range index")
	}
	if _, _, err := PermutationTest(topHeavyScores(), 0, 0, 1); err == nil {
		t.Fatal("expected error for zero trials")
	}
	if _, _, err := BootstrapCI(topHeavyScores(), meanOf, 100, 1.5, 1); err == nil {
		t.Fatal("expected error for confidence outside (0,1)")
	}
}
