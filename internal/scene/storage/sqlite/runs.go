package sqlite

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/motion.watch/internal/scene/pipeline"
)

// Run statuses.
const (
	RunRunning   = "running"
	RunCompleted = "completed"
	RunFailed    = "failed"
)

// ErrRunNotFound is returned when a run id does not exist.
var ErrRunNotFound = errors.New("analysis run not found")

// Run is one analysis pass over a detection source.
type Run struct {
	RunID          string          `json:"run_id"`
	Source         string          `json:"source"`
	ParamsJSON     json.RawMessage `json:"params_json,omitempty"`
	Status         string          `json:"status"`
	StartedAt      time.Time       `json:"started_at"`
	FinishedAt     *time.Time      `json:"finished_at,omitempty"`
	TotalFrames    int             `json:"total_frames"`
	TotalTracks    int             `json:"total_tracks"`
	TotalAnomalies int             `json:"total_anomalies"`
	HighSeverity   int             `json:"high_severity"`
	ErrorMessage   string          `json:"error_message,omitempty"`
}

// StartRun records a new run and returns its id. params, when non-nil, is
// stored as JSON alongside the run.
func (s *Store) StartRun(source string, params interface{}) (string, error) {
	runID := uuid.New().String()

	var paramsStr interface{}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return "", fmt.Errorf("marshal run params: %w", err)
		}
		paramsStr = string(raw)
	}

	err := retryOnBusy(func() error {
		_, err := s.db.Exec(`
			INSERT INTO analysis_runs (run_id, source, params_json, status, started_at_ns)
			VALUES (?, ?, ?, ?, ?)`,
			runID, source, paramsStr, RunRunning, time.Now().UnixNano(),
		)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}
	return runID, nil
}

// FinishRun records the outcome of a run. A non-nil runErr marks it failed.
func (s *Store) FinishRun(runID string, summary pipeline.Summary, runErr error) error {
	status := RunCompleted
	var msg interface{}
	if runErr != nil {
		status = RunFailed
		msg = runErr.Error()
	}

	var res sql.Result
	err := retryOnBusy(func() error {
		var err error
		res, err = s.db.Exec(`
			UPDATE analysis_runs
			SET status = ?, finished_at_ns = ?, total_frames = ?, total_tracks = ?,
			    total_anomalies = ?, high_severity = ?, error_message = ?
			WHERE run_id = ?`,
			status, time.Now().UnixNano(), summary.TotalFrames, summary.Totals.Tracks,
			summary.Totals.Anomalies, summary.Totals.HighSeverity, msg, runID,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("finish run %s: %w", runID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("finish run %s: %w", runID, ErrRunNotFound)
	}
	return nil
}

// GetRun returns a single run.
func (s *Store) GetRun(runID string) (*Run, error) {
	row := s.db.QueryRow(`
		SELECT run_id, source, params_json, status, started_at_ns, finished_at_ns,
		       total_frames, total_tracks, total_anomalies, high_severity, error_message
		FROM analysis_runs
		WHERE run_id = ?`, runID)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", runID, ErrRunNotFound)
	}
	return r, err
}

// ListRuns returns all runs, newest first.
func (s *Store) ListRuns() ([]*Run, error) {
	rows, err := s.db.Query(`
		SELECT run_id, source, params_json, status, started_at_ns, finished_at_ns,
		       total_frames, total_tracks, total_anomalies, high_severity, error_message
		FROM analysis_runs
		ORDER BY started_at_ns DESC`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row scanner) (*Run, error) {
	var (
		r        Run
		params   sql.NullString
		started  int64
		finished sql.NullInt64
		errMsg   sql.NullString
	)
	err := row.Scan(&r.RunID, &r.Source, &params, &r.Status, &started, &finished,
		&r.TotalFrames, &r.TotalTracks, &r.TotalAnomalies, &r.HighSeverity, &errMsg)
	if err != nil {
		return nil, err
	}
	if params.Valid {
		r.ParamsJSON = json.RawMessage(params.String)
	}
	r.StartedAt = time.Unix(0, started)
	if finished.Valid {
		t := time.Unix(0, finished.Int64)
		r.FinishedAt = &t
	}
	r.ErrorMessage = errMsg.String
	return &r, nil
}
