package divergence

import (
	"fmt"
	"math/rand"
	"sort"
	"time"
)

// SignificanceOptions controls the randomized significance procedures.
// Seed = 0 means an unseeded (time-derived) run; results then vary
// between runs but stay statistically consistent. Any other value makes
// permutation and bootstrap results bit-identical across runs.
type SignificanceOptions struct {
	Trials     int     `json:"trials"`
	Resamples  int     `json:"resamples"`
	Alpha      float64 `json:"alpha"`
	FDR        float64 `json:"fdr"`
	Confidence float64 `json:"confidence"`
	Seed       int64   `json:"seed"`
}

// ApplyDefaults populates zero values with the documented defaults.
func (o *SignificanceOptions) ApplyDefaults() {
	if o.Trials <= 0 {
		o.Trials = 10000
	}
	if o.Resamples <= 0 {
		o.Resamples = 10000
	}
	if o.Alpha <= 0 {
		o.Alpha = 0.05
	}
	if o.FDR <= 0 {
		o.FDR = 0.05
	}
	if o.Confidence <= 0 {
		o.Confidence = 0.95
	}
}

func (o SignificanceOptions) rng() *rand.Rand {
	seed := o.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return rand.New(rand.NewSource(seed))
}

// SignificanceResult is the per-passage verdict: is this passage's
// divergence genuinely unusual, or within the range expected under a
// null of random divergence ranking?
type SignificanceResult struct {
	Index              int     `json:"index"`
	Score              float64 `json:"score"`
	Rank               int     `json:"rank"`
	Percentile         float64 `json:"percentile"`
	ZScore             float64 `json:"zScore"`
	PValue             float64 `json:"pValue"`
	CILower            float64 `json:"ciLower"`
	CIUpper            float64 `json:"ciUpper"`
	SurvivesBonferroni bool    `json:"survivesBonferroni"`
	SurvivesFDR        bool    `json:"survivesFdr"`
}

// ZScore measures how far the target's divergence sits from the corpus
// mean, in units of the corpus std.
func ZScore(scores []float64, idx int) (float64, error) {
	if err := checkCorpus(scores, idx); err != nil {
		return 0, err
	}
	std := populationStd(scores)
	if std == 0 {
		return 0, fmt.Errorf("z-score undefined: all %d divergence scores are identical", len(scores))
	}
	return (scores[idx] - meanOf(scores)) / std, nil
}

// Rank counts how many passages score at least as high as the target
// ("how many are at least this extreme"). The unique maximum ranks 1, the
// unique minimum ranks n; ties inflate the rank for all tied passages
// equally.
func Rank(scores []float64, idx int) (int, error) {
	if err := checkCorpus(scores, idx); err != nil {
		return 0, err
	}
	return geRank(scores, scores[idx]), nil
}

func geRank(scores []float64, target float64) int {
	rank := 0
	for _, s := range scores {
		if s >= target {
			rank++
		}
	}
	return rank
}

// PermutationTest shuffles the already-computed divergence-score array
// and counts how often the target index's rank in the shuffled array is
// at least as extreme (≤) as the observed rank. The returned fraction is
// the p-value.
//
// Known limitation, preserved deliberately: this is a self-referential
// permutation of the same statistic array, not a resampling of the
// underlying data. It tests rank stability under reordering of the exact
// observed score distribution, a cheap proxy that is weaker than a true
// label-permutation test.
func PermutationTest(scores []float64, idx, trials int, seed int64) (pValue float64, observedRank int, err error) {
	if err := checkCorpus(scores, idx); err != nil {
		return 0, 0, err
	}
	if trials < 1 {
		return 0, 0, fmt.Errorf("permutation test requires at least 1 trial, got %d", trials)
	}
	observedRank = geRank(scores, scores[idx])

	rng := SignificanceOptions{Seed: seed}.rng()
	shuffled := make([]float64, len(scores))
	hits := 0
	for t := 0; t < trials; t++ {
		perm := rng.Perm(len(scores))
		for i, p := range perm {
			shuffled[i] = scores[p]
		}
		if geRank(shuffled, shuffled[idx]) <= observedRank {
			hits++
		}
	}
	return float64(hits) / float64(trials), observedRank, nil
}

// BootstrapCI resamples the divergence array with replacement, applies
// the statistic to every resample and reports the percentile interval of
// the resulting distribution at the given confidence level.
func BootstrapCI(scores []float64, statistic func([]float64) float64, resamples int, confidence float64, seed int64) (lower, upper float64, err error) {
	if len(scores) < 2 {
		return 0, 0, fmt.Errorf("bootstrap requires at least 2 scores, got %d", len(scores))
	}
	if resamples < 1 {
		return 0, 0, fmt.Errorf("bootstrap requires at least 1 resample, got %d", resamples)
	}
	if confidence <= 0 || confidence >= 1 {
		return 0, 0, fmt.Errorf("confidence must be in (0,1), got %v", confidence)
	}
	rng := SignificanceOptions{Seed: seed}.rng()
	n := len(scores)
	sample := make([]float64, n)
	stats := make([]float64, resamples)
	for r := 0; r < resamples; r++ {
		for i := range sample {
			sample[i] = scores[rng.Intn(n)]
		}
		stats[r] = statistic(sample)
	}
	tail := (1 - confidence) / 2 * 100
	return percentile(stats, tail), percentile(stats, 100-tail), nil
}

// RankPValues assigns every passage the rank-based p-value p_i = rank_i/n
// used by the multiple-comparison procedures.
func RankPValues(scores []float64) ([]float64, error) {
	if len(scores) < 2 {
		return nil, fmt.Errorf("rank p-values require at least 2 scores, got %d", len(scores))
	}
	n := float64(len(scores))
	out := make([]float64, len(scores))
	for i, s := range scores {
		out[i] = float64(geRank(scores, s)) / n
	}
	return out, nil
}

// BonferroniThreshold is the family-wise corrected significance level
// α / nTests.
func BonferroniThreshold(alpha float64, nTests int) (float64, error) {
	if nTests < 1 {
		return 0, fmt.Errorf("bonferroni correction over %d tests is undefined", nTests)
	}
	if alpha <= 0 || alpha >= 1 {
		return 0, fmt.Errorf("alpha must be in (0,1), got %v", alpha)
	}
	return alpha / float64(nTests), nil
}

// BenjaminiHochberg runs the step-up false-discovery-rate procedure over
// the whole p-value array and reports, per input position, whether the
// hypothesis is rejected at the given FDR level.
func BenjaminiHochberg(pValues []float64, fdr float64) ([]bool, error) {
	if len(pValues) == 0 {
		return nil, fmt.Errorf("benjamini-hochberg over 0 tests is undefined")
	}
	if fdr <= 0 || fdr >= 1 {
		return nil, fmt.Errorf("fdr must be in (0,1), got %v", fdr)
	}
	n := len(pValues)
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return pValues[order[a]] < pValues[order[b]] })

	cut := -1
	for i := n - 1; i >= 0; i-- {
		if pValues[order[i]] <= float64(i+1)/float64(n)*fdr {
			cut = i
			break
		}
	}
	out := make([]bool, n)
	for i := 0; i <= cut; i++ {
		out[order[i]] = true
	}
	return out, nil
}

// Evaluate runs the full battery for one target passage: z-score,
// ≥-rank and percentile, permutation p-value, bootstrap CI of the order
// statistic at the observed rank, and both multiple-comparison
// corrections computed over the entire corpus (the target was selected
// for standing out, so the look-elsewhere effect applies).
func Evaluate(scores []float64, idx int, opts SignificanceOptions) (SignificanceResult, error) {
	opts.ApplyDefaults()
	var res SignificanceResult
	if err := checkCorpus(scores, idx); err != nil {
		return res, err
	}
	z, err := ZScore(scores, idx)
	if err != nil {
		return res, err
	}
	p, rank, err := PermutationTest(scores, idx, opts.Trials, opts.Seed)
	if err != nil {
		return res, err
	}
	n := len(scores)
	q := 100 * (1 - float64(rank)/float64(n))
	lower, upper, err := BootstrapCI(scores, func(sample []float64) float64 {
		return percentile(sample, q)
	}, opts.Resamples, opts.Confidence, bootstrapSeed(opts.Seed))
	if err != nil {
		return res, err
	}
	bonferroni, err := BonferroniThreshold(opts.Alpha, n)
	if err != nil {
		return res, err
	}
	rankP, err := RankPValues(scores)
	if err != nil {
		return res, err
	}
	fdrPass, err := BenjaminiHochberg(rankP, opts.FDR)
	if err != nil {
		return res, err
	}
	return SignificanceResult{
		Index:              idx,
		Score:              scores[idx],
		Rank:               rank,
		Percentile:         q,
		ZScore:             z,
		PValue:             p,
		CILower:            lower,
		CIUpper:            upper,
		SurvivesBonferroni: p < bonferroni,
		SurvivesFDR:        fdrPass[idx],
	}, nil
}

// EvaluateAll runs Evaluate for every passage index.
func EvaluateAll(scores []float64, opts SignificanceOptions) ([]SignificanceResult, error) {
	out := make([]SignificanceResult, len(scores))
	for i := range scores {
		res, err := Evaluate(scores, i, opts)
		if err != nil {
			return nil, err
		}
		out[i] = res
	}
	return out, nil
}

// bootstrapSeed derives a distinct but reproducible stream for the
// bootstrap when a fixed seed is in use.
func bootstrapSeed(seed int64) int64 {
	if seed == 0 {
		return 0
	}
	return seed + 1
}

func checkCorpus(scores []float64, idx int) error {
	if len(scores) < 2 {
		return fmt.Errorf("significance testing requires at least 2 divergence scores, got %d", len(scores))
	}
	if idx < 0 || idx >= len(scores) {
		return fmt.Errorf("passage index %d out of range [0,%d)", idx, len(scores))
	}
	return nil
}
