package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/creel-data/creel.report/internal/estimate"
)

// AnalysisRun records one estimator invocation: what ran, with which
// parameters, and any estimator-level diagnostics (the CPUE auto-mode
// audit record, for example).
type AnalysisRun struct {
	RunID       string          `json:"run_id"`
	Kind        string          `json:"kind"` // effort_aerial, cpue_auto, catch_total, ...
	Parameters  json.RawMessage `json:"parameters"`
	Diagnostics json.RawMessage `json:"diagnostics,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// CreateRun inserts a new analysis run and fills in its uuid RunID.
func (db *DB) CreateRun(run *AnalysisRun) error {
	if run.RunID == "" {
		run.RunID = uuid.NewString()
	}
	if run.Parameters == nil {
		run.Parameters = json.RawMessage("{}")
	}
	var diag any
	if run.Diagnostics != nil {
		diag = string(run.Diagnostics)
	}
	_, err := db.Exec(
		`INSERT INTO analysis_runs (run_id, kind, parameters, diagnostics) VALUES (?, ?, ?, ?)`,
		run.RunID, run.Kind, string(run.Parameters), diag,
	)
	if err != nil {
		return fmt.Errorf("failed to create analysis run: %w", err)
	}
	return nil
}

// SaveResults stores the estimate rows of a run. NaN SEs (variance not
// available) are stored as NULL.
func (db *DB) SaveResults(runID string, results []estimate.Result) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO estimates (run_id, group_keys, estimate, se, se_available,
		                       ci_low, ci_high, n, deff, method, warnings)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare estimate insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range results {
		keys, err := json.Marshal(r.Keys)
		if err != nil {
			return fmt.Errorf("failed to encode group keys: %w", err)
		}
		var warnings any
		if len(r.Warnings) > 0 {
			w, err := json.Marshal(r.Warnings)
			if err != nil {
				return fmt.Errorf("failed to encode warnings: %w", err)
			}
			warnings = string(w)
		}
		if _, err := stmt.Exec(
			runID, string(keys), r.Estimate,
			nullableFloat(r.SE), r.SEAvailable,
			nullableFloat(r.CILow), nullableFloat(r.CIHigh),
			r.N, nullableFloat(r.Deff), r.Method, warnings,
		); err != nil {
			return fmt.Errorf("failed to insert estimate row: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit estimate rows: %w", err)
	}
	return nil
}

func nullableFloat(f float64) any {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return f
}

// GetRun retrieves one analysis run.
func (db *DB) GetRun(runID string) (*AnalysisRun, error) {
	var run AnalysisRun
	var params string
	var diag sql.NullString
	err := db.QueryRow(
		`SELECT run_id, kind, parameters, diagnostics, created_at FROM analysis_runs WHERE run_id = ?`,
		runID,
	).Scan(&run.RunID, &run.Kind, &params, &diag, &run.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("analysis run %s not found", runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get analysis run: %w", err)
	}
	run.Parameters = json.RawMessage(params)
	if diag.Valid {
		run.Diagnostics = json.RawMessage(diag.String)
	}
	return &run, nil
}

// ListRuns returns runs newest first, optionally filtered by kind.
func (db *DB) ListRuns(kind string, limit int) ([]AnalysisRun, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT run_id, kind, parameters, diagnostics, created_at FROM analysis_runs`
	args := []any{}
	if kind != "" {
		query += ` WHERE kind = ?`
		args = append(args, kind)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list analysis runs: %w", err)
	}
	defer rows.Close()

	var runs []AnalysisRun
	for rows.Next() {
		var run AnalysisRun
		var params string
		var diag sql.NullString
		if err := rows.Scan(&run.RunID, &run.Kind, &params, &diag, &run.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan analysis run: %w", err)
		}
		run.Parameters = json.RawMessage(params)
		if diag.Valid {
			run.Diagnostics = json.RawMessage(diag.String)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// ResultsForRun retrieves the stored estimate rows of a run, in insert
// order. Rows stored with a NULL SE come back with SE = NaN and
// SEAvailable = false.
func (db *DB) ResultsForRun(runID string) ([]estimate.Result, error) {
	rows, err := db.Query(`
		SELECT group_keys, estimate, se, se_available, ci_low, ci_high, n, deff, method, warnings
		FROM estimates WHERE run_id = ? ORDER BY id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query estimates: %w", err)
	}
	defer rows.Close()

	var results []estimate.Result
	for rows.Next() {
		var r estimate.Result
		var keys string
		var se, ciLow, ciHigh, deff sql.NullFloat64
		var warnings sql.NullString
		if err := rows.Scan(&keys, &r.Estimate, &se, &r.SEAvailable,
			&ciLow, &ciHigh, &r.N, &deff, &r.Method, &warnings); err != nil {
			return nil, fmt.Errorf("failed to scan estimate row: %w", err)
		}
		if err := json.Unmarshal([]byte(keys), &r.Keys); err != nil {
			return nil, fmt.Errorf("failed to decode group keys: %w", err)
		}
		r.SE = floatOrNaN(se)
		r.CILow = floatOrNaN(ciLow)
		r.CIHigh = floatOrNaN(ciHigh)
		if deff.Valid {
			r.Deff = deff.Float64
		}
		if warnings.Valid {
			if err := json.Unmarshal([]byte(warnings.String), &r.Warnings); err != nil {
				return nil, fmt.Errorf("failed to decode warnings: %w", err)
			}
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

func floatOrNaN(f sql.NullFloat64) float64 {
	if !f.Valid {
		return math.NaN()
	}
	return f.Float64
}
