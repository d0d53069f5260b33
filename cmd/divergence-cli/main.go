package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"nietzschelab/divergence/divergence"
	"nietzschelab/divergence/internal/report"
)

type cliOptions struct {
	configPath string
	corpusDir  string
	outputDir  string
	dbPath     string
	metric     string
	seed       int64
	stdout     bool
	verbose    bool
}

func main() {
	opts, err := parseFlags()
	if err != nil {
		log.Fatalf("divergence-cli: %v", err)
	}
	if err := run(opts); err != nil {
		log.Fatalf("divergence-cli: %v", err)
	}
}

func parseFlags() (cliOptions, error) {
	var opts cliOptions
	flag.StringVar(&opts.configPath, "config", "", "Path to config.json (default: ./config.json)")
	flag.StringVar(&opts.corpusDir, "corpus", "", "Directory of per-translation JSON files")
	flag.StringVar(&opts.outputDir, "output-dir", "results", "Directory where score CSVs and the JSON summary are written")
	flag.StringVar(&opts.dbPath, "db", "", "Optional SQLite file to persist the run")
	flag.StringVar(&opts.metric, "metric", "", "Override the scoring metric (pairwise, anchor, centroid)")
	flag.Int64Var(&opts.seed, "seed", 0, "Random seed for significance testing (0 = time-based)")
	flag.BoolVar(&opts.stdout, "stdout", false, "Print the top divergent passages to STDOUT")
	flag.BoolVar(&opts.verbose, "verbose", false, "Enable debug logging")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s --corpus DIR [options]\n\n", filepath.Base(os.Args[0]))
		flag.PrintDefaults()
	}
	flag.Parse()

	opts.configPath = strings.TrimSpace(opts.configPath)
	opts.corpusDir = strings.TrimSpace(opts.corpusDir)
	opts.outputDir = strings.TrimSpace(opts.outputDir)
	opts.dbPath = strings.TrimSpace(opts.dbPath)
	opts.metric = strings.TrimSpace(opts.metric)

	if opts.corpusDir == "" {
		flag.Usage()
		return opts, errors.New("missing required --corpus directory")
	}
	return opts, nil
}

func run(opts cliOptions) error {
	logger, err := newLogger(opts.verbose)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()

	cfg, err := divergence.LoadConfig(opts.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if opts.metric != "" {
		cfg.Scoring.Metric = divergence.Metric(opts.metric)
	}
	if opts.seed != 0 {
		cfg.Significance.Seed = opts.seed
	}

	corpus, err := divergence.LoadCorpus(opts.corpusDir, cfg.Labels)
	if err != nil {
		return fmt.Errorf("load corpus: %w", err)
	}
	aligned, err := corpus.Align()
	if err != nil {
		return fmt.Errorf("align corpus: %w", err)
	}
	logger.Info("corpus aligned",
		zap.Int("passages", aligned.Len()),
		zap.Strings("labels", aligned.Labels))

	embedder, err := divergence.NewOrtEmbedder(cfg.Embedder)
	if err != nil {
		return fmt.Errorf("init embedder: %w", err)
	}
	defer embedder.Close()

	service, err := divergence.NewService(embedder, cfg, logger)
	if err != nil {
		return fmt.Errorf("init service: %w", err)
	}
	defer service.Close()

	result, err := service.Analyze(context.Background(), aligned)
	if err != nil {
		return fmt.Errorf("analyze: %w", err)
	}

	if err := writeOutputs(opts, cfg, result, logger); err != nil {
		return err
	}
	if opts.stdout {
		printTop(result)
	}
	return nil
}

func newLogger(verbose bool) (*zap.Logger, error) {
	zapCfg := zap.NewProductionConfig()
	if verbose {
		zapCfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	return zapCfg.Build()
}

func writeOutputs(opts cliOptions, cfg divergence.Config, result *divergence.AnalysisResult, logger *zap.Logger) error {
	if err := os.MkdirAll(opts.outputDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	scoresPath := filepath.Join(opts.outputDir, "divergence_scores.csv")
	if err := report.WriteScoresCSV(scoresPath, result); err != nil {
		return fmt.Errorf("write scores: %w", err)
	}
	outliersPath := filepath.Join(opts.outputDir, "outliers.csv")
	if err := report.WriteOutliersCSV(outliersPath, result); err != nil {
		return fmt.Errorf("write outliers: %w", err)
	}
	summaryPath := filepath.Join(opts.outputDir, "statistical_significance.json")
	summary := report.BuildSummary(result, cfg.Significance.Alpha)
	if err := report.WriteSummaryJSON(summaryPath, summary); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	logger.Info("reports written",
		zap.String("scores", scoresPath),
		zap.String("outliers", outliersPath),
		zap.String("summary", summaryPath))

	if opts.dbPath != "" {
		store, err := report.NewStore(opts.dbPath)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer store.Close()
		runID, err := store.SaveRun(result)
		if err != nil {
			return fmt.Errorf("persist run: %w", err)
		}
		logger.Info("run persisted", zap.String("runId", runID), zap.String("db", opts.dbPath))
	}
	return nil
}

func printTop(result *divergence.AnalysisResult) {
	fmt.Printf("Passages with the highest translator disagreement (%s metric):\n", result.Metric)
	for _, o := range result.Outliers {
		fmt.Printf("  #%d  spread=%.4f\n", o.Number, o.Spread)
		for label, sim := range o.Similarities {
			fmt.Printf("      %-12s %.4f\n", label, sim)
		}
	}
}
