package report

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"nietzschelab/divergence/divergence"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id      TEXT PRIMARY KEY,
	model_id    TEXT NOT NULL,
	metric      TEXT NOT NULL,
	labels_json TEXT NOT NULL,
	created_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS scores (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id      TEXT NOT NULL,
	number      INTEGER NOT NULL,
	score       REAL NOT NULL,
	rank        INTEGER NOT NULL,
	percentile  REAL NOT NULL,
	z_score     REAL NOT NULL,
	p_value     REAL NOT NULL,
	ci_lower    REAL NOT NULL,
	ci_upper    REAL NOT NULL,
	bonferroni  INTEGER NOT NULL,
	fdr         INTEGER NOT NULL,
	FOREIGN KEY (run_id) REFERENCES runs(run_id)
);

CREATE TABLE IF NOT EXISTS outliers (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id     TEXT NOT NULL,
	number     INTEGER NOT NULL,
	spread     REAL NOT NULL,
	sims_json  TEXT NOT NULL,
	FOREIGN KEY (run_id) REFERENCES runs(run_id)
);
`

// Store persists analysis runs in SQLite.
type Store struct {
	db *sql.DB
}

// NewStore opens a SQLite database and runs migrations.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return nil, fmt.Errorf("pragma fk: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveRun writes an analysis result and returns the new run id.
func (s *Store) SaveRun(result *divergence.AnalysisResult) (string, error) {
	runID := uuid.New().String()
	labelsJSON, err := json.Marshal(result.Labels)
	if err != nil {
		return "", fmt.Errorf("marshal labels: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return "", fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`INSERT INTO runs (run_id, model_id, metric, labels_json, created_at) VALUES (?, ?, ?, ?, ?)`,
		runID, result.ModelID, string(result.Metric), string(labelsJSON),
		time.Now().UTC().Format(time.RFC3339),
	); err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}

	for i, v := range result.Verdicts {
		if _, err := tx.Exec(
			`INSERT INTO scores (run_id, number, score, rank, percentile, z_score, p_value, ci_lower, ci_upper, bonferroni, fdr)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			runID, result.Numbers[i], v.Score, v.Rank, v.Percentile, v.ZScore, v.PValue,
			v.CILower, v.CIUpper, boolInt(v.SurvivesBonferroni), boolInt(v.SurvivesFDR),
		); err != nil {
			return "", fmt.Errorf("insert score %d: %w", result.Numbers[i], err)
		}
	}

	for _, o := range result.Outliers {
		simsJSON, err := json.Marshal(o.Similarities)
		if err != nil {
			return "", fmt.Errorf("marshal similarities: %w", err)
		}
		if _, err := tx.Exec(
			`INSERT INTO outliers (run_id, number, spread, sims_json) VALUES (?, ?, ?, ?)`,
			runID, o.Number, o.Spread, string(simsJSON),
		); err != nil {
			return "", fmt.Errorf("insert outlier %d: %w", o.Number, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	return runID, nil
}

// RunSummary is one persisted run, without its per-passage rows.
type RunSummary struct {
	RunID     string
	ModelID   string
	Metric    string
	Labels    []string
	CreatedAt time.Time
}

// ListRuns returns saved runs, newest first.
func (s *Store) ListRuns() ([]RunSummary, error) {
	rows, err := s.db.Query(`SELECT run_id, model_id, metric, labels_json, created_at FROM runs ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var r RunSummary
		var labelsJSON, createdAt string
		if err := rows.Scan(&r.RunID, &r.ModelID, &r.Metric, &labelsJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if err := json.Unmarshal([]byte(labelsJSON), &r.Labels); err != nil {
			return nil, fmt.Errorf("decode labels: %w", err)
		}
		if r.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, fmt.Errorf("parse created_at: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// LoadVerdicts returns the per-passage rows of a run ordered by passage
// number, along with the matching numbers.
func (s *Store) LoadVerdicts(runID string) ([]int, []divergence.SignificanceResult, error) {
	rows, err := s.db.Query(
		`SELECT number, score, rank, percentile, z_score, p_value, ci_lower, ci_upper, bonferroni, fdr
		 FROM scores WHERE run_id = ? ORDER BY number`, runID)
	if err != nil {
		return nil, nil, fmt.Errorf("query scores: %w", err)
	}
	defer rows.Close()

	var numbers []int
	var verdicts []divergence.SignificanceResult
	for rows.Next() {
		var n, bonf, fdr int
		var v divergence.SignificanceResult
		if err := rows.Scan(&n, &v.Score, &v.Rank, &v.Percentile, &v.ZScore, &v.PValue,
			&v.CILower, &v.CIUpper, &bonf, &fdr); err != nil {
			return nil, nil, fmt.Errorf("scan score: %w", err)
		}
		v.SurvivesBonferroni = bonf != 0
		v.SurvivesFDR = fdr != 0
		numbers = append(numbers, n)
		verdicts = append(verdicts, v)
	}
	return numbers, verdicts, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
