// Package store persists evaluation runs and their per-sample scores in
// SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/stevecastle/dpeval/evaluate"
)

// ErrNoRun is returned when samples are recorded before BeginRun.
var ErrNoRun = errors.New("store: no run in progress")

// Run status values.
const (
	StatusRunning  = "running"
	StatusFinished = "finished"
	StatusFailed   = "failed"
)

// Store writes one run at a time. It implements evaluate.Recorder.
type Store struct {
	db         *sql.DB
	runID      string
	categories []string
}

// Open opens (creating if needed) the database at path and ensures the
// schema. ":memory:" opens a private in-memory database.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// ":memory:" databases are per connection
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if err := InitializeSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// InitializeSchema creates the runs and samples tables if they do not exist.
func InitializeSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			started_at TEXT NOT NULL,
			finished_at TEXT,
			input_dir TEXT,
			weights TEXT,
			model TEXT,
			resize INTEGER,
			interpolation TEXT,
			samples INTEGER,
			summary TEXT,
			status TEXT NOT NULL DEFAULT 'running',
			error TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS samples (
			run_id TEXT NOT NULL REFERENCES runs(id),
			idx INTEGER NOT NULL,
			name TEXT NOT NULL,
			left_path TEXT,
			right_path TEXT,
			target_path TEXT,
			category TEXT,
			psnr REAL,
			ssim REAL,
			mae REAL,
			lpips REAL,
			output TEXT,
			PRIMARY KEY (run_id, idx)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_samples_category ON samples(run_id, category)`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
	}
	// Databases created before runs carried a status
	_, _ = db.Exec(`ALTER TABLE runs ADD COLUMN status TEXT NOT NULL DEFAULT 'running'`)
	_, _ = db.Exec(`ALTER TABLE runs ADD COLUMN error TEXT`)
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// RunParams describes how a run was configured.
type RunParams struct {
	// ID is the run id; a new uuid is generated when empty.
	ID            string
	InputDir      string
	Weights       string
	Model         string
	Resize        int
	Interpolation string
	Samples       int
	// Categories maps each 0-based sample index to its scene category.
	Categories []string
}

// BeginRun inserts a new run and returns its id. Subsequent Record calls
// attach to it.
func (s *Store) BeginRun(ctx context.Context, p RunParams) (string, error) {
	id := p.ID
	if id == "" {
		id = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, started_at, input_dir, weights, model, resize, interpolation, samples)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, now(), p.InputDir, p.Weights, p.Model, p.Resize, p.Interpolation, p.Samples)
	if err != nil {
		return "", fmt.Errorf("failed to insert run: %w", err)
	}
	s.runID = id
	s.categories = p.Categories
	return id, nil
}

// RunID returns the id of the current run.
func (s *Store) RunID() string { return s.runID }

// Record stores one sample result.
func (s *Store) Record(ctx context.Context, r evaluate.Result) error {
	if s.runID == "" {
		return ErrNoRun
	}
	var category string
	if i := r.Sample.Index; i >= 0 && i < len(s.categories) {
		category = s.categories[i]
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO samples (run_id, idx, name, left_path, right_path, target_path, category, psnr, ssim, mae, lpips, output)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.runID, r.Sample.Index, r.Sample.Name(), r.Sample.Left, r.Sample.Right, r.Sample.Target,
		category, nullable(r.PSNR), nullable(r.SSIM), nullable(r.MAE), nullable(r.LPIPS), r.Output)
	if err != nil {
		return fmt.Errorf("failed to insert sample: %w", err)
	}
	return nil
}

// Finish stores the summary of the current run and marks it finished.
func (s *Store) Finish(ctx context.Context, sum evaluate.Summary) error {
	if s.runID == "" {
		return ErrNoRun
	}
	data, err := json.Marshal(sum)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE runs SET finished_at = ?, summary = ?, status = ? WHERE id = ?`,
		now(), string(data), StatusFinished, s.runID)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	return nil
}

// Fail marks the current run failed with cause.
func (s *Store) Fail(ctx context.Context, cause error) error {
	if s.runID == "" {
		return ErrNoRun
	}
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE runs SET finished_at = ?, status = ?, error = ? WHERE id = ?`,
		now(), StatusFailed, msg, s.runID)
	if err != nil {
		return fmt.Errorf("failed to mark run failed: %w", err)
	}
	return nil
}

// Run is a stored run.
type Run struct {
	ID            string
	StartedAt     time.Time
	FinishedAt    time.Time
	InputDir      string
	Weights       string
	Model         string
	Resize        int
	Interpolation string
	Samples       int
	Summary       string
	Status        string
	Error         string
}

// SampleRow is a stored sample. Metrics that were NaN read back as NaN.
type SampleRow struct {
	Index    int
	Name     string
	Category string
	PSNR     float64
	SSIM     float64
	MAE      float64
	LPIPS    float64
	Output   string
}

const runColumns = `id, started_at, finished_at, input_dir, weights, model, resize, interpolation, samples, summary, status, error`

// GetRun loads a run by id.
func (s *Store) GetRun(ctx context.Context, id string) (Run, error) {
	return scanRun(s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
}

// LatestRun loads the most recently started run that finished successfully.
func (s *Store) LatestRun(ctx context.Context) (Run, error) {
	return scanRun(s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE status = ? ORDER BY started_at DESC, rowid DESC LIMIT 1`,
		StatusFinished))
}

func scanRun(row *sql.Row) (Run, error) {
	var (
		r                 Run
		started, finished sql.NullString
		summary, failure  sql.NullString
	)
	err := row.Scan(&r.ID, &started, &finished, &r.InputDir, &r.Weights, &r.Model, &r.Resize, &r.Interpolation, &r.Samples, &summary, &r.Status, &failure)
	if err != nil {
		return Run{}, err
	}
	r.StartedAt = parseTime(started)
	r.FinishedAt = parseTime(finished)
	r.Summary = summary.String
	r.Error = failure.String
	return r, nil
}

// Samples lists the samples of a run in index order.
func (s *Store) Samples(ctx context.Context, runID string) ([]SampleRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT idx, name, category, psnr, ssim, mae, lpips, output
		 FROM samples WHERE run_id = ? ORDER BY idx`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SampleRow
	for rows.Next() {
		var (
			r                      SampleRow
			psnr, ssim, mae, lpips sql.NullFloat64
			category, outputPath   sql.NullString
		)
		if err := rows.Scan(&r.Index, &r.Name, &category, &psnr, &ssim, &mae, &lpips, &outputPath); err != nil {
			return nil, err
		}
		r.Category = category.String
		r.Output = outputPath.String
		r.PSNR, r.SSIM, r.MAE, r.LPIPS = fromNull(psnr), fromNull(ssim), fromNull(mae), fromNull(lpips)
		out = append(out, r)
	}
	return out, rows.Err()
}

// nullable maps NaN to NULL.
func nullable(v float64) sql.NullFloat64 {
	if math.IsNaN(v) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: v, Valid: true}
}

func fromNull(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func parseTime(s sql.NullString) time.Time {
	if !s.Valid {
		return time.Time{}
	}
	t, _ := time.Parse(time.RFC3339Nano, s.String)
	return t
}
