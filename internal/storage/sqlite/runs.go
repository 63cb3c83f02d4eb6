package sqlite

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrRunNotFound is returned when a run ID has no row.
var ErrRunNotFound = errors.New("registration run not found")

// RunStatus is the lifecycle state of a run.
type RunStatus string

const (
	StatusRunning   RunStatus = "running"
	StatusCompleted RunStatus = "completed"
	StatusFailed    RunStatus = "failed"
)

// Run is one pipeline execution.
type Run struct {
	RunID          string          `json:"run_id"`
	Name           string          `json:"name"`
	Description    string          `json:"description,omitempty"`
	Source         string          `json:"source"`
	Target         string          `json:"target"`
	ParamsJSON     json.RawMessage `json:"params_json,omitempty"`
	Status         RunStatus       `json:"status"`
	Error          string          `json:"error,omitempty"`
	ProjectionPath string          `json:"projection_path,omitempty"`
	CreatedAt      int64           `json:"created_at"`
	FinishedAt     int64           `json:"finished_at,omitempty"`
}

// StageRecord is one executed (or failed) stage of a run.
type StageRecord struct {
	RunID    string             `json:"run_id"`
	Ordinal  int                `json:"ordinal"`
	Stage    string             `json:"stage"`
	Duration time.Duration      `json:"duration_ns"`
	Metrics  map[string]float64 `json:"metrics,omitempty"`
	Error    string             `json:"error,omitempty"`
}

// RunStore persists runs and their stages.
type RunStore struct {
	db *sql.DB
}

// NewRunStore creates a new RunStore.
func NewRunStore(db *sql.DB) *RunStore {
	return &RunStore{db: db}
}

// StartRun inserts run with status running. A UUID is generated when
// RunID is empty and CreatedAt defaults to now.
func (s *RunStore) StartRun(run *Run) error {
	if run.RunID == "" {
		run.RunID = uuid.New().String()
	}
	if run.CreatedAt == 0 {
		run.CreatedAt = time.Now().UnixNano()
	}
	run.Status = StatusRunning

	var params interface{}
	if len(run.ParamsJSON) > 0 {
		params = string(run.ParamsJSON)
	}

	return retryOnBusy(func() error {
		_, err := s.db.Exec(`
			INSERT INTO registration_runs (
				run_id, name, description, source, target, params_json, status, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			run.RunID, run.Name, run.Description, run.Source, run.Target, params, string(run.Status), run.CreatedAt,
		)
		return err
	})
}

// RecordStage appends a stage record to an existing run.
func (s *RunStore) RecordStage(rec *StageRecord) error {
	var metrics interface{}
	if len(rec.Metrics) > 0 {
		b, err := json.Marshal(rec.Metrics)
		if err != nil {
			return fmt.Errorf("encode stage metrics: %w", err)
		}
		metrics = string(b)
	}
	var stageErr interface{}
	if rec.Error != "" {
		stageErr = rec.Error
	}

	return retryOnBusy(func() error {
		_, err := s.db.Exec(`
			INSERT INTO registration_run_stages (
				run_id, ordinal, stage, duration_ns, metrics_json, error
			) VALUES (?, ?, ?, ?, ?, ?)`,
			rec.RunID, rec.Ordinal, rec.Stage, rec.Duration.Nanoseconds(), metrics, stageErr,
		)
		return err
	})
}

// FinishRun marks a run completed.
func (s *RunStore) FinishRun(runID string) error {
	return s.finish(runID, StatusCompleted, nil)
}

// FailRun marks a run failed with cause.
func (s *RunStore) FailRun(runID string, cause error) error {
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	return s.finish(runID, StatusFailed, msg)
}

func (s *RunStore) finish(runID string, status RunStatus, msg interface{}) error {
	return s.update(runID, `
		UPDATE registration_runs SET status = ?, error = ?, finished_at = ?
		WHERE run_id = ?`,
		string(status), msg, time.Now().UnixNano(), runID,
	)
}

// SetProjectionPath records where the run's projection was exported.
func (s *RunStore) SetProjectionPath(runID, path string) error {
	return s.update(runID, `UPDATE registration_runs SET projection_path = ? WHERE run_id = ?`, path, runID)
}

// DeleteRun removes a run and its stages.
func (s *RunStore) DeleteRun(runID string) error {
	return s.update(runID, `DELETE FROM registration_runs WHERE run_id = ?`, runID)
}

func (s *RunStore) update(runID, query string, args ...interface{}) error {
	return retryOnBusy(func() error {
		res, err := s.db.Exec(query, args...)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return nil
	})
}

const runColumns = `run_id, name, description, source, target, params_json, status, error, projection_path, created_at, finished_at`

// GetRun returns one run.
func (s *RunStore) GetRun(runID string) (*Run, error) {
	row := s.db.QueryRow(`SELECT `+runColumns+` FROM registration_runs WHERE run_id = ?`, runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run %s: %w", runID, err)
	}
	return run, nil
}

// ListRuns returns runs newest first. limit <= 0 returns all of them.
func (s *RunStore) ListRuns(limit int) ([]*Run, error) {
	query := `SELECT ` + runColumns + ` FROM registration_runs ORDER BY created_at DESC`
	var args []interface{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Stages returns the stage records of a run in execution order.
func (s *RunStore) Stages(runID string) ([]*StageRecord, error) {
	rows, err := s.db.Query(`
		SELECT run_id, ordinal, stage, duration_ns, metrics_json, error
		FROM registration_run_stages
		WHERE run_id = ?
		ORDER BY ordinal`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list stages: %w", err)
	}
	defer rows.Close()

	var out []*StageRecord
	for rows.Next() {
		var (
			rec      StageRecord
			duration int64
			metrics  sql.NullString
			stageErr sql.NullString
		)
		if err := rows.Scan(&rec.RunID, &rec.Ordinal, &rec.Stage, &duration, &metrics, &stageErr); err != nil {
			return nil, fmt.Errorf("failed to scan stage: %w", err)
		}
		rec.Duration = time.Duration(duration)
		rec.Error = stageErr.String
		if metrics.Valid && metrics.String != "" {
			if err := json.Unmarshal([]byte(metrics.String), &rec.Metrics); err != nil {
				return nil, fmt.Errorf("decode metrics for stage %s: %w", rec.Stage, err)
			}
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(sc scanner) (*Run, error) {
	var (
		run                               Run
		status                            string
		description, params, runErr, path sql.NullString
		finished                          sql.NullInt64
	)
	if err := sc.Scan(
		&run.RunID, &run.Name, &description, &run.Source, &run.Target,
		&params, &status, &runErr, &path, &run.CreatedAt, &finished,
	); err != nil {
		return nil, err
	}
	run.Description = description.String
	if params.Valid && params.String != "" {
		run.ParamsJSON = json.RawMessage(params.String)
	}
	run.Status = RunStatus(status)
	run.Error = runErr.String
	run.ProjectionPath = path.String
	run.FinishedAt = finished.Int64
	return &run, nil
}
