package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/banshee-data/motion.watch/internal/scene/activity"
	"github.com/banshee-data/motion.watch/internal/scene/anomaly"
	"github.com/banshee-data/motion.watch/internal/scene/geom"
	"github.com/banshee-data/motion.watch/internal/scene/pipeline"
)

// PersistFrame writes one frame, its confirmed track observations and its
// anomalies in a single transaction.
func (s *Store) PersistFrame(runID string, res *pipeline.FrameResult) error {
	return retryOnBusy(func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin: %w", err)
		}
		if err := persistFrameTx(tx, runID, res); err != nil {
			tx.Rollback()
			return err
		}
		return tx.Commit()
	})
}

func persistFrameTx(tx *sql.Tx, runID string, res *pipeline.FrameResult) error {
	_, err := tx.Exec(`
		INSERT INTO frames (run_id, frame, timestamp_s, detections, tracks, anomalies)
		VALUES (?, ?, ?, ?, ?, ?)`,
		runID, res.Frame, res.Timestamp.Seconds(), len(res.Detections), len(res.Tracks), len(res.Anomalies),
	)
	if err != nil {
		return fmt.Errorf("insert frame %d: %w", res.Frame, err)
	}

	obs, err := tx.Prepare(`
		INSERT INTO track_observations (
			run_id, frame, track_id, class_id, x1, y1, x2, y2, vx, vy, confidence, hits, activity
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare observation insert: %w", err)
	}
	defer obs.Close()
	for _, t := range res.Tracks {
		_, err := obs.Exec(runID, res.Frame, t.ID, t.ClassID,
			t.BBox.X1(), t.BBox.Y1(), t.BBox.X2(), t.BBox.Y2(),
			t.Velocity.X, t.Velocity.Y, t.Confidence, t.Hits, string(res.Activities[t.ID]))
		if err != nil {
			return fmt.Errorf("insert observation frame=%d track=%d: %w", res.Frame, t.ID, err)
		}
	}

	for _, a := range res.Anomalies {
		ids, err := json.Marshal(a.TrackIDs)
		if err != nil {
			return fmt.Errorf("marshal track ids: %w", err)
		}
		var bbox interface{}
		if a.BBox != nil {
			raw, err := json.Marshal(a.BBox)
			if err != nil {
				return fmt.Errorf("marshal bbox: %w", err)
			}
			bbox = string(raw)
		}
		_, err = tx.Exec(`
			INSERT INTO anomalies (
				run_id, frame, timestamp_s, type, severity, description,
				track_ids, location_x, location_y, bbox_json, count
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			runID, a.Frame, a.Timestamp.Seconds(), string(a.Type), string(a.Severity), a.Description,
			string(ids), a.Location.X, a.Location.Y, bbox, a.Count,
		)
		if err != nil {
			return fmt.Errorf("insert anomaly %s frame=%d: %w", a.Type, a.Frame, err)
		}
	}
	return nil
}

// ListAnomalies returns a run's anomalies in emission order.
func (s *Store) ListAnomalies(runID string) ([]anomaly.Anomaly, error) {
	rows, err := s.db.Query(`
		SELECT frame, timestamp_s, type, severity, description,
		       track_ids, location_x, location_y, bbox_json, count
		FROM anomalies
		WHERE run_id = ?
		ORDER BY anomaly_id`, runID)
	if err != nil {
		return nil, fmt.Errorf("query anomalies: %w", err)
	}
	defer rows.Close()

	var out []anomaly.Anomaly
	for rows.Next() {
		var (
			a        anomaly.Anomaly
			ts       float64
			kind     string
			severity string
			ids      string
			bbox     sql.NullString
		)
		if err := rows.Scan(&a.Frame, &ts, &kind, &severity, &a.Description,
			&ids, &a.Location.X, &a.Location.Y, &bbox, &a.Count); err != nil {
			return nil, fmt.Errorf("scan anomaly: %w", err)
		}
		a.Type = anomaly.Kind(kind)
		a.Severity = anomaly.Severity(severity)
		a.Timestamp = time.Duration(ts * float64(time.Second))
		if err := json.Unmarshal([]byte(ids), &a.TrackIDs); err != nil {
			return nil, fmt.Errorf("decode track ids: %w", err)
		}
		if bbox.Valid {
			var b geom.Box
			if err := json.Unmarshal([]byte(bbox.String), &b); err != nil {
				return nil, fmt.Errorf("decode bbox: %w", err)
			}
			a.BBox = &b
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// CountAnomaliesByType returns per-type anomaly counts for a run.
func (s *Store) CountAnomaliesByType(runID string) (map[anomaly.Kind]int, error) {
	rows, err := s.db.Query(`
		SELECT type, COUNT(*) FROM anomalies WHERE run_id = ? GROUP BY type`, runID)
	if err != nil {
		return nil, fmt.Errorf("count anomalies: %w", err)
	}
	defer rows.Close()

	counts := make(map[anomaly.Kind]int)
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, fmt.Errorf("scan anomaly count: %w", err)
		}
		counts[anomaly.Kind(kind)] = n
	}
	return counts, rows.Err()
}

// Observation is one stored track sample.
type Observation struct {
	Frame      int               `json:"frame"`
	TrackID    int               `json:"track_id"`
	ClassID    int               `json:"class"`
	BBox       geom.Box          `json:"bbox"`
	Velocity   r2.Vec            `json:"velocity"`
	Confidence float64           `json:"confidence"`
	Hits       int               `json:"hits"`
	Activity   activity.Activity `json:"activity"`
}

// TrackObservations returns every stored sample of one track, by frame.
func (s *Store) TrackObservations(runID string, trackID int) ([]Observation, error) {
	rows, err := s.db.Query(`
		SELECT frame, track_id, class_id, x1, y1, x2, y2, vx, vy, confidence, hits, activity
		FROM track_observations
		WHERE run_id = ? AND track_id = ?
		ORDER BY frame`, runID, trackID)
	if err != nil {
		return nil, fmt.Errorf("query observations: %w", err)
	}
	defer rows.Close()

	var out []Observation
	for rows.Next() {
		var o Observation
		var act string
		if err := rows.Scan(&o.Frame, &o.TrackID, &o.ClassID,
			&o.BBox[0], &o.BBox[1], &o.BBox[2], &o.BBox[3],
			&o.Velocity.X, &o.Velocity.Y, &o.Confidence, &o.Hits, &act); err != nil {
			return nil, fmt.Errorf("scan observation: %w", err)
		}
		o.Activity = activity.Activity(act)
		out = append(out, o)
	}
	return out, rows.Err()
}

// FrameCount returns the number of stored frames for a run.
func (s *Store) FrameCount(runID string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM frames WHERE run_id = ?`, runID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count frames: %w", err)
	}
	return n, nil
}

// RunSink adapts a Store to pipeline.PersistenceSink for one run.
type RunSink struct {
	store *Store
	runID string
}

var _ pipeline.PersistenceSink = (*RunSink)(nil)

// Sink returns a persistence sink writing into runID.
func (s *Store) Sink(runID string) *RunSink {
	return &RunSink{store: s, runID: runID}
}

// RunID returns the run the sink writes into.
func (r *RunSink) RunID() string { return r.runID }

// PersistFrame implements pipeline.PersistenceSink.
func (r *RunSink) PersistFrame(res *pipeline.FrameResult) error {
	return r.store.PersistFrame(r.runID, res)
}
