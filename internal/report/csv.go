package report

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"

	"nietzschelab/divergence/divergence"
)

// WriteScoresCSV writes one row per passage: score, rank, percentile,
// z-score, p-value, confidence interval and the two correction verdicts.
func WriteScoresCSV(path string, result *divergence.AnalysisResult) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create %s: %w", tmp, err)
	}

	w := csv.NewWriter(f)
	header := []string{"number", "score", "rank", "percentile", "z_score", "p_value", "ci_lower", "ci_upper", "bonferroni", "fdr"}
	if err := w.Write(header); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write header: %w", err)
	}
	for i, v := range result.Verdicts {
		row := []string{
			strconv.Itoa(result.Numbers[i]),
			formatFloat(v.Score),
			strconv.Itoa(v.Rank),
			formatFloat(v.Percentile),
			formatFloat(v.ZScore),
			formatFloat(v.PValue),
			formatFloat(v.CILower),
			formatFloat(v.CIUpper),
			strconv.FormatBool(v.SurvivesBonferroni),
			strconv.FormatBool(v.SurvivesFDR),
		}
		if err := w.Write(row); err != nil {
			f.Close()
			os.Remove(tmp)
			return fmt.Errorf("write row %d: %w", result.Numbers[i], err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("flush csv: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename to %s: %w", path, err)
	}
	return nil
}

// WriteOutliersCSV writes the flagged passages with their per-translator
// triangulation similarities, one column per label.
func WriteOutliersCSV(path string, result *divergence.AnalysisResult) error {
	labels := make([]string, 0)
	for _, label := range result.Labels {
		if len(result.Outliers) > 0 {
			if _, ok := result.Outliers[0].Similarities[label]; ok {
				labels = append(labels, label)
			}
		}
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create %s: %w", tmp, err)
	}

	w := csv.NewWriter(f)
	header := append([]string{"number", "spread"}, labels...)
	if err := w.Write(header); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write header: %w", err)
	}
	for _, o := range result.Outliers {
		row := []string{strconv.Itoa(o.Number), formatFloat(o.Spread)}
		for _, label := range labels {
			row = append(row, formatFloat(o.Similarities[label]))
		}
		if err := w.Write(row); err != nil {
			f.Close()
			os.Remove(tmp)
			return fmt.Errorf("write row %d: %w", o.Number, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("flush csv: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename to %s: %w", path, err)
	}
	return nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}
