package report

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"nietzschelab/divergence/divergence"
)

// Summary is the JSON report of one run: headline counts plus the
// passages that survive each multiple-comparison correction.
type Summary struct {
	GeneratedAt       time.Time                       `json:"generatedAt"`
	ModelID           string                          `json:"modelId"`
	Metric            string                          `json:"metric"`
	Passages          int                             `json:"passages"`
	Translators       []string                        `json:"translators"`
	MeanScore         float64                         `json:"meanScore"`
	MaxScore          float64                         `json:"maxScore"`
	SignificantRaw    []int                           `json:"significantRaw"`
	SurviveBonferroni []int                           `json:"surviveBonferroni"`
	SurviveFDR        []int                           `json:"surviveFdr"`
	Diagnostics       map[string]divergence.Diagnosis `json:"diagnostics,omitempty"`
	Outliers          []divergence.Outlier            `json:"outliers,omitempty"`
}

// BuildSummary condenses an analysis result into its JSON report form.
func BuildSummary(result *divergence.AnalysisResult, alpha float64) Summary {
	s := Summary{
		GeneratedAt: time.Now().UTC(),
		ModelID:     result.ModelID,
		Metric:      string(result.Metric),
		Passages:    len(result.Scores),
		Diagnostics: result.Diagnostics,
		Outliers:    result.Outliers,
	}
	for _, label := range result.Labels {
		if _, ok := result.Quality[label]; ok {
			s.Translators = append(s.Translators, label)
		}
	}
	var sum, max float64
	for _, score := range result.Scores {
		sum += score
		if score > max {
			max = score
		}
	}
	if len(result.Scores) > 0 {
		s.MeanScore = sum / float64(len(result.Scores))
		s.MaxScore = max
	}
	for i, v := range result.Verdicts {
		number := result.Numbers[i]
		if v.PValue < alpha {
			s.SignificantRaw = append(s.SignificantRaw, number)
		}
		if v.SurvivesBonferroni {
			s.SurviveBonferroni = append(s.SurviveBonferroni, number)
		}
		if v.SurvivesFDR {
			s.SurviveFDR = append(s.SurviveFDR, number)
		}
	}
	return s
}

// WriteSummaryJSON writes the summary atomically.
func WriteSummaryJSON(path string, summary Summary) error {
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename to %s: %w", path, err)
	}
	return nil
}
