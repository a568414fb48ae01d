// Package runlog keeps a SQLite ledger of viflow runs and the outcome of
// every input file. The schema is managed by embedded migrations.
package runlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/viflow/internal/pipeline"
	"github.com/banshee-data/viflow/internal/timeutil"
)

// Run statuses.
const (
	RunRunning   = "running"
	RunSucceeded = "succeeded"
	RunFailed    = "failed"
)

// Run is one row of the runs table.
type Run struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time // zero while running
	Status     string
	Version    string
	ConfigJSON json.RawMessage
	Files      int
	Written    int
	OpenFailed int
	Pairs      int
	Error      string
	ErrorKind  string
}

// File is one row of the run_files table.
type File struct {
	RunID         string
	Path          string
	Status        string
	Frames        int
	Pairs         int
	Shape         string
	OutputPath    string
	Bytes         int64
	Elapsed       time.Duration
	MeanMagnitude float64
	MaxMagnitude  float64
	Error         string
	RecordedAt    time.Time
}

// Store is the run ledger.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	clock  timeutil.Clock
}

// Open opens or creates the ledger at path and migrates it to the latest
// schema.
func Open(path string, logger *slog.Logger, clock timeutil.Clock) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One connection, so ":memory:" databases survive between statements.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA busy_timeout = 5000; PRAGMA foreign_keys = ON;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set pragmas: %w", err)
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	s := &Store{db: db, logger: logger, clock: clock}
	if err := s.migrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// StartRun inserts a running run and returns its id.
func (s *Store) StartRun(ctx context.Context, version string, config any) (string, error) {
	cfg, err := json.Marshal(config)
	if err != nil {
		return "", fmt.Errorf("encode config: %w", err)
	}
	id := uuid.New().String()
	err = retryOnBusy(func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO runs (run_id, started_at, status, version, config_json)
			VALUES (?, ?, ?, ?, ?)`,
			id, s.clock.Now().UnixNano(), RunRunning, version, string(cfg))
		return err
	})
	if err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}
	return id, nil
}

// RecordFile stores the outcome of one input.
func (s *Store) RecordFile(ctx context.Context, runID string, r pipeline.FileReport) error {
	var errText string
	if r.Err != nil {
		errText = r.Err.Error()
	}
	var shape string
	if len(r.Shape) > 0 {
		shape = fmt.Sprint(r.Shape)
	}
	return retryOnBusy(func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO run_files (
				run_id, path, status, frames, pairs, shape, output_path, bytes,
				elapsed_ms, mean_magnitude, max_magnitude, error, recorded_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			runID, r.Path, string(r.Status), r.Frames, r.Pairs, nullString(shape), nullString(r.Output), r.Bytes,
			r.Elapsed.Milliseconds(), r.Summary.MeanMagnitude, r.Summary.MaxMagnitude, nullString(errText),
			s.clock.Now().UnixNano())
		return err
	})
}

// FinishRun closes a run with the totals and, for a failed run, the error.
func (s *Store) FinishRun(ctx context.Context, runID string, sum pipeline.Summary, runErr error) error {
	status := RunSucceeded
	var errText string
	if runErr != nil {
		status = RunFailed
		errText = runErr.Error()
	}
	var res sql.Result
	err := retryOnBusy(func() error {
		var err error
		res, err = s.db.ExecContext(ctx, `
			UPDATE runs SET finished_at = ?, status = ?, files = ?, written = ?,
				open_failed = ?, pairs = ?, error = ?, error_kind = ?
			WHERE run_id = ?`,
			s.clock.Now().UnixNano(), status, sum.Files, sum.Written, sum.OpenFailed, sum.Pairs,
			nullString(errText), nullString(pipeline.ErrorKind(runErr)), runID)
		return err
	})
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("finish run: %w: %s", sql.ErrNoRows, runID)
	}
	return nil
}

// ListRuns returns the most recent runs first, at most limit (all when
// limit <= 0).
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	q := `SELECT run_id, started_at, finished_at, status, version, config_json,
			files, written, open_failed, pairs, error, error_kind
		FROM runs ORDER BY started_at DESC, run_id`
	var args []any
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var started int64
		var finished sql.NullInt64
		var cfg, errText, kind sql.NullString
		if err := rows.Scan(&r.RunID, &started, &finished, &r.Status, &r.Version, &cfg,
			&r.Files, &r.Written, &r.OpenFailed, &r.Pairs, &errText, &kind); err != nil {
			return nil, err
		}
		r.StartedAt = time.Unix(0, started)
		if finished.Valid {
			r.FinishedAt = time.Unix(0, finished.Int64)
		}
		if cfg.Valid {
			r.ConfigJSON = json.RawMessage(cfg.String)
		}
		r.Error, r.ErrorKind = errText.String, kind.String
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// ListFiles returns the files of a run in the order they were recorded.
func (s *Store) ListFiles(ctx context.Context, runID string) ([]File, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, path, status, frames, pairs, shape, output_path, bytes,
			elapsed_ms, mean_magnitude, max_magnitude, error, recorded_at
		FROM run_files WHERE run_id = ? ORDER BY file_id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var files []File
	for rows.Next() {
		var f File
		var shape, out, errText sql.NullString
		var mean, maxMag sql.NullFloat64
		var elapsedMS, recorded int64
		if err := rows.Scan(&f.RunID, &f.Path, &f.Status, &f.Frames, &f.Pairs, &shape, &out, &f.Bytes,
			&elapsedMS, &mean, &maxMag, &errText, &recorded); err != nil {
			return nil, err
		}
		f.Shape, f.OutputPath, f.Error = shape.String, out.String, errText.String
		f.MeanMagnitude, f.MaxMagnitude = mean.Float64, maxMag.Float64
		f.Elapsed = time.Duration(elapsedMS) * time.Millisecond
		f.RecordedAt = time.Unix(0, recorded)
		files = append(files, f)
	}
	return files, rows.Err()
}

// Recorder binds a Store to one run. It implements pipeline.Reporter.
type Recorder struct {
	store *Store
	runID string
}

// Recorder returns a pipeline.Reporter for runID.
func (s *Store) Recorder(runID string) *Recorder {
	return &Recorder{store: s, runID: runID}
}

// FileDone records r.
func (r *Recorder) FileDone(ctx context.Context, rep pipeline.FileReport) error {
	return r.store.RecordFile(ctx, r.runID, rep)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

const (
	busyRetries = 5
	busyBackoff = 50 * time.Millisecond
)

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// retryOnBusy runs fn until it succeeds, fails with a non-busy error or
// busyRetries attempts have been made.
func retryOnBusy(fn func() error) error {
	var err error
	for attempt := 0; attempt < busyRetries; attempt++ {
		if err = fn(); !isSQLiteBusy(err) {
			return err
		}
		time.Sleep(busyBackoff * time.Duration(attempt+1))
	}
	return errors.Join(errors.New("database stayed busy"), err)
}
