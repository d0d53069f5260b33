package divergence

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Service orchestrates the full pipeline: embed each source, calibrate
// the raw spaces, triangulate translator agreement, score per-passage
// divergence and attach significance verdicts.
type Service struct {
	embedder Embedder

	cfgMu sync.RWMutex
	cfg   Config

	logger *zap.Logger
}

// NewService constructs a service with the given embedder and
// configuration.
func NewService(embedder Embedder, cfg Config, logger *zap.Logger) (*Service, error) {
	if embedder == nil {
		return nil, errors.New("embedder is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.ApplyDefaults()
	return &Service{embedder: embedder, cfg: cfg, logger: logger}, nil
}

// Close releases embedder resources.
func (s *Service) Close() error {
	if s.embedder != nil {
		return s.embedder.Close()
	}
	return nil
}

// Config returns a copy of the current configuration.
func (s *Service) Config() Config {
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()
	return s.cfg.Clone()
}

// UpdateConfig replaces the configuration.
func (s *Service) UpdateConfig(cfg Config) {
	cfg.ApplyDefaults()
	s.cfgMu.Lock()
	s.cfg = cfg
	s.cfgMu.Unlock()
}

// Outlier is one passage flagged for high translator disagreement.
type Outlier struct {
	Index        int                `json:"index"`
	Number       int                `json:"number"`
	Spread       float64            `json:"spread"`
	Similarities map[string]float64 `json:"similarities"`
}

// AnalysisResult is the full output of one pipeline run, keyed by passage
// index throughout.
type AnalysisResult struct {
	ModelID     string               `json:"modelId"`
	Metric      Metric               `json:"metric"`
	Numbers     []int                `json:"numbers"`
	Labels      []string             `json:"labels"`
	Scores      []float64            `json:"scores"`
	Verdicts    []SignificanceResult `json:"verdicts"`
	Offsets     map[string][]float64 `json:"-"`
	Quality     map[string][]float64 `json:"quality"`
	Diagnostics map[string]Diagnosis `json:"diagnostics"`
	Outliers    []Outlier            `json:"outliers"`
}

// EmbedCorpus embeds every source of the aligned corpus with the
// configured prompting. The original-language source is prompted as the
// query side; translations as passages.
func (s *Service) EmbedCorpus(ctx context.Context, aligned *AlignedCorpus) (map[string]*EmbeddingSet, error) {
	cfg := s.Config()
	if aligned.Len() == 0 {
		return nil, errors.New("aligned corpus is empty")
	}
	sets := make(map[string]*EmbeddingSet, len(aligned.Labels))
	all := make([]*EmbeddingSet, 0, len(aligned.Labels))
	for _, label := range aligned.Labels {
		language := cfg.TargetLanguage
		isQuery := false
		if label == cfg.SourceLabel {
			language = cfg.SourceLanguage
			isQuery = true
		}
		prompted := cfg.Prompt.ApplyAll(aligned.Texts[label], language, isQuery)
		s.logger.Info("embedding source",
			zap.String("label", label),
			zap.Int("passages", len(prompted)),
			zap.String("language", language))
		vecs, err := s.embedder.EmbedTexts(ctx, prompted)
		if err != nil {
			return nil, fmt.Errorf("embed %s: %w", label, err)
		}
		set, err := NewEmbeddingSetFloat32(label, vecs)
		if err != nil {
			return nil, err
		}
		sets[label] = set
		all = append(all, set)
	}
	if _, _, err := alignedDims(all...); err != nil {
		return nil, fmt.Errorf("embedder output misaligned: %w", err)
	}
	return sets, nil
}

// Calibrate applies the configured corrections to every set and returns
// the new sets along with the fitted transforms, in application order.
func (s *Service) Calibrate(sets map[string]*EmbeddingSet) (map[string]*EmbeddingSet, map[string][]*CalibrationState, error) {
	cfg := s.Config()
	cal := Calibrator{Eps: cfg.Calibration.Eps}
	out := make(map[string]*EmbeddingSet, len(sets))
	states := make(map[string][]*CalibrationState, len(sets))

	labels := make([]string, 0, len(sets))
	for label := range sets {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	for _, label := range labels {
		set := sets[label]
		before, err := cal.IsotropyScore(set)
		if err != nil {
			return nil, nil, fmt.Errorf("calibrate %s: %w", label, err)
		}
		current := set
		var chain []*CalibrationState
		if cfg.Calibration.Whiten {
			whitened, state, err := cal.Whiten(current)
			if err != nil {
				return nil, nil, fmt.Errorf("whiten %s: %w", label, err)
			}
			current, chain = whitened, append(chain, state)
		}
		if cfg.Calibration.RemovePCs > 0 {
			reduced, state, err := cal.RemovePrincipalComponents(current, cfg.Calibration.RemovePCs)
			if err != nil {
				return nil, nil, fmt.Errorf("remove pcs %s: %w", label, err)
			}
			current = reduced
			if state != nil {
				chain = append(chain, state)
			}
		}
		after, err := cal.IsotropyScore(current)
		if err != nil {
			return nil, nil, fmt.Errorf("calibrate %s: %w", label, err)
		}
		if after < cfg.Calibration.PCRemovalThreshold {
			reduced, state, err := cal.RemovePrincipalComponents(current, 1)
			if err != nil {
				return nil, nil, fmt.Errorf("remove pcs %s: %w", label, err)
			}
			current = reduced
			if state != nil {
				chain = append(chain, state)
			}
			if after, err = cal.IsotropyScore(current); err != nil {
				return nil, nil, fmt.Errorf("calibrate %s: %w", label, err)
			}
		}
		s.logger.Info("calibrated source",
			zap.String("label", label),
			zap.Float64("isotropyBefore", before),
			zap.Float64("isotropyAfter", after),
			zap.Int("transforms", len(chain)))
		out[label] = current
		states[label] = chain
	}
	return out, states, nil
}

// Analyze runs the whole pipeline over an aligned corpus.
func (s *Service) Analyze(ctx context.Context, aligned *AlignedCorpus) (*AnalysisResult, error) {
	cfg := s.Config()

	raw, err := s.EmbedCorpus(ctx, aligned)
	if err != nil {
		return nil, err
	}

	diagnostics := make(map[string]Diagnosis, len(raw))
	for label, set := range raw {
		diag, err := Diagnose(set)
		if err != nil {
			return nil, fmt.Errorf("diagnose %s: %w", label, err)
		}
		diagnostics[label] = diag
		for _, issue := range diag.Issues {
			s.logger.Warn("embedding quality issue", zap.String("label", label), zap.String("issue", issue))
		}
	}

	calibrated, _, err := s.Calibrate(raw)
	if err != nil {
		return nil, err
	}

	source, ok := calibrated[cfg.SourceLabel]
	if !ok {
		return nil, fmt.Errorf("source label %q is not in the corpus", cfg.SourceLabel)
	}
	targets := make(map[string]*EmbeddingSet, len(calibrated)-1)
	for label, set := range calibrated {
		if label != cfg.SourceLabel {
			targets[label] = set
		}
	}
	anchor, err := NewAnchor(source, targets)
	if err != nil {
		return nil, err
	}

	targetSets := make([]*EmbeddingSet, 0, len(targets))
	for _, label := range anchor.Labels() {
		targetSets = append(targetSets, targets[label])
	}
	reference := calibrated[cfg.Scoring.Reference]
	if cfg.Scoring.Metric == MetricAnchor && reference == nil {
		return nil, fmt.Errorf("reference label %q is not in the corpus", cfg.Scoring.Reference)
	}
	scores, err := Divergence(cfg.Scoring.Metric, reference, targetSets)
	if err != nil {
		return nil, err
	}

	verdicts, err := EvaluateAll(scores, cfg.Significance)
	if err != nil {
		return nil, err
	}

	outliers, err := s.topOutliers(anchor, aligned, cfg.TopOutliers)
	if err != nil {
		return nil, err
	}

	s.logger.Info("analysis complete",
		zap.Int("passages", aligned.Len()),
		zap.Int("translators", len(targets)),
		zap.String("metric", string(cfg.Scoring.Metric)))

	return &AnalysisResult{
		ModelID:     s.embedder.ModelID(),
		Metric:      cfg.Scoring.Metric,
		Numbers:     aligned.Numbers,
		Labels:      aligned.Labels,
		Scores:      scores,
		Verdicts:    verdicts,
		Offsets:     anchor.TranslationOffsets(),
		Quality:     anchor.TranslationQuality(),
		Diagnostics: diagnostics,
		Outliers:    outliers,
	}, nil
}

// topOutliers ranks passages by triangulation spread, descending.
func (s *Service) topOutliers(anchor *Anchor, aligned *AlignedCorpus, n int) ([]Outlier, error) {
	outliers := make([]Outlier, 0, aligned.Len())
	for i := 0; i < aligned.Len(); i++ {
		sims, err := anchor.TriangulateMeaning(i)
		if err != nil {
			return nil, err
		}
		spread, err := anchor.TriangulationSpread(i)
		if err != nil {
			return nil, err
		}
		outliers = append(outliers, Outlier{
			Index:        i,
			Number:       aligned.Numbers[i],
			Spread:       spread,
			Similarities: sims,
		})
	}
	sort.Slice(outliers, func(a, b int) bool {
		if outliers[a].Spread == outliers[b].Spread {
			return outliers[a].Index < outliers[b].Index
		}
		return outliers[a].Spread > outliers[b].Spread
	})
	if n > 0 && len(outliers) > n {
		outliers = outliers[:n]
	}
	return outliers, nil
}
