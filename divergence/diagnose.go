package divergence

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Diagnosis summarizes common quality problems of an embedding set.
type Diagnosis struct {
	Isotropy       float64  `json:"isotropy"`
	MeanSimilarity float64  `json:"meanSimilarity"`
	MaxOffDiagonal float64  `json:"maxOffDiagonal"`
	SimilarityStd  float64  `json:"similarityStd"`
	HubnessMax     int      `json:"hubnessMax"`
	HubnessStd     float64  `json:"hubnessStd"`
	Issues         []string `json:"issues,omitempty"`
}

// Issue flags attached to a Diagnosis.
const (
	IssueLowIsotropy     = "LOW_ISOTROPY: embedding space is highly anisotropic; try whitening"
	IssueHighBaselineSim = "HIGH_BASELINE_SIM: all embeddings are too similar; apply PC removal"
	IssueHubness         = "HUBNESS: some points are universal nearest neighbors; try CSLS similarity"
)

// Diagnose inspects similarity structure and variance spread of a set.
// Self-similarities are excluded. Hubness counts how often each point is
// another point's nearest neighbor.
func Diagnose(set *EmbeddingSet) (Diagnosis, error) {
	var diag Diagnosis
	n := set.Len()
	if n < 2 {
		return diag, fmt.Errorf("diagnosis requires at least 2 passages, got %d", n)
	}
	cal := Calibrator{}
	iso, err := cal.IsotropyScore(set)
	if err != nil {
		return diag, err
	}
	diag.Isotropy = iso

	sim := mat.NewDense(n, n, nil)
	sim.Mul(set.matrix(), set.matrix().T())

	offDiag := make([]float64, 0, n*(n-1))
	nnCounts := make([]float64, n)
	for i := 0; i < n; i++ {
		best, bestSim := -1, -2.0
		for j := 0; j < n; j++ {
			if i == j {
				continue
			}
			s := sim.At(i, j)
			offDiag = append(offDiag, s)
			if s > bestSim {
				best, bestSim = j, s
			}
		}
		nnCounts[best]++
	}
	diag.MeanSimilarity = meanOf(offDiag)
	diag.MaxOffDiagonal = percentile(offDiag, 100)
	diag.SimilarityStd = populationStd(offDiag)
	maxCount := 0.0
	for _, c := range nnCounts {
		if c > maxCount {
			maxCount = c
		}
	}
	diag.HubnessMax = int(maxCount)
	diag.HubnessStd = populationStd(nnCounts)

	if diag.Isotropy < 0.1 {
		diag.Issues = append(diag.Issues, IssueLowIsotropy)
	}
	if diag.MeanSimilarity > 0.7 {
		diag.Issues = append(diag.Issues, IssueHighBaselineSim)
	}
	if float64(diag.HubnessMax) > float64(n)*0.2 {
		diag.Issues = append(diag.Issues, IssueHubness)
	}
	return diag, nil
}

// CalibrationReport compares one calibration variant against pairs of
// passages known to be similar or different.
type CalibrationReport struct {
	Method               string  `json:"method"`
	MeanSimilarPairSim   float64 `json:"meanSimilarPairSim"`
	MeanDifferentPairSim float64 `json:"meanDifferentPairSim"`
	Separation           float64 `json:"separation"`
	Isotropy             float64 `json:"isotropy"`
}

// CompareCalibrations evaluates the raw set, its whitened form, and one-
// and two-component PC removal against known similar/different passage
// pairs. Larger separation between the two pair groups means the variant
// discriminates better.
func CompareCalibrations(set *EmbeddingSet, similar, different [][2]int) ([]CalibrationReport, error) {
	if len(similar) == 0 || len(different) == 0 {
		return nil, fmt.Errorf("comparison requires at least one similar and one different pair")
	}
	cal := Calibrator{}
	whitened, _, err := cal.Whiten(set)
	if err != nil {
		return nil, err
	}
	pc1, _, err := cal.RemovePrincipalComponents(set, 1)
	if err != nil {
		return nil, err
	}
	pc2, _, err := cal.RemovePrincipalComponents(set, 2)
	if err != nil {
		return nil, err
	}
	variants := []struct {
		name string
		set  *EmbeddingSet
	}{
		{"original", set},
		{"whitened", whitened},
		{"pc_removed_1", pc1},
		{"pc_removed_2", pc2},
	}
	reports := make([]CalibrationReport, 0, len(variants))
	for _, v := range variants {
		simMean, err := pairMeanSim(v.set, similar)
		if err != nil {
			return nil, err
		}
		diffMean, err := pairMeanSim(v.set, different)
		if err != nil {
			return nil, err
		}
		iso, err := cal.IsotropyScore(v.set)
		if err != nil {
			return nil, err
		}
		reports = append(reports, CalibrationReport{
			Method:               v.name,
			MeanSimilarPairSim:   simMean,
			MeanDifferentPairSim: diffMean,
			Separation:           simMean - diffMean,
			Isotropy:             iso,
		})
	}
	return reports, nil
}

func pairMeanSim(set *EmbeddingSet, pairs [][2]int) (float64, error) {
	sims := make([]float64, 0, len(pairs))
	for _, p := range pairs {
		if p[0] < 0 || p[0] >= set.Len() || p[1] < 0 || p[1] >= set.Len() {
			return 0, fmt.Errorf("pair (%d,%d) out of range [0,%d)", p[0], p[1], set.Len())
		}
		sims = append(sims, dot(set.matrix().RawRowView(p[0]), set.matrix().RawRowView(p[1])))
	}
	return meanOf(sims), nil
}
