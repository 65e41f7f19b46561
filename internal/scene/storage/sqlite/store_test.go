package sqlite

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r2"

	"github.com/banshee-data/motion.watch/internal/scene/activity"
	"github.com/banshee-data/motion.watch/internal/scene/anomaly"
	"github.com/banshee-data/motion.watch/internal/scene/geom"
	"github.com/banshee-data/motion.watch/internal/scene/pipeline"
	"github.com/banshee-data/motion.watch/internal/scene/tracks"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "motion.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleFrame(frame int) *pipeline.FrameResult {
	box := geom.Box{10, 20, 60, 120}
	return &pipeline.FrameResult{
		Frame:     frame,
		Timestamp: time.Duration(frame) * 500 * time.Millisecond,
		Detections: []tracks.Detection{
			{BBox: box, ClassID: 0, Confidence: 0.8},
			{BBox: geom.Box{300, 300, 320, 320}, ClassID: 26, Confidence: 0.6},
		},
		Tracks: []tracks.Track{
			{ID: 1, BBox: box, ClassID: 0, Confidence: 0.8, Velocity: r2.Vec{X: 9, Y: 0}, Hits: 3 + frame},
		},
		Activities: map[int]activity.Activity{1: activity.Running},
		Anomalies: []anomaly.Anomaly{
			{
				Type:        anomaly.AbnormalSpeed,
				Severity:    anomaly.High,
				Description: anomaly.AbnormalSpeed.Description(),
				Frame:       frame,
				Timestamp:   time.Duration(frame) * 500 * time.Millisecond,
				TrackIDs:    []int{1},
				Location:    r2.Vec{X: 35, Y: 70},
				BBox:        &box,
				Count:       1,
			},
		},
	}
}

func TestOpenMigrates(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "motion.db")
	s, err := Open(path)
	require.NoError(t, err)

	v, dirty, err := s.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(1), v)
	assert.False(t, dirty)
	require.NoError(t, s.Close())

	// Re-opening an up-to-date database is a no-op.
	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.MigrateUp())
}

func TestRunLifecycle(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	runID, err := s.StartRun("walk.jsonl", map[string]float64{"fps": 30})
	require.NoError(t, err)
	assert.Len(t, runID, 36)

	r, err := s.GetRun(runID)
	require.NoError(t, err)
	assert.Equal(t, RunRunning, r.Status)
	assert.Equal(t, "walk.jsonl", r.Source)
	assert.JSONEq(t, `{"fps":30}`, string(r.ParamsJSON))
	assert.Nil(t, r.FinishedAt)

	summary := pipeline.Summary{TotalFrames: 12}
	summary.Totals.Tracks = 2
	summary.Totals.Anomalies = 5
	summary.Totals.HighSeverity = 1
	require.NoError(t, s.FinishRun(runID, summary, nil))

	r, err = s.GetRun(runID)
	require.NoError(t, err)
	assert.Equal(t, RunCompleted, r.Status)
	assert.Equal(t, 12, r.TotalFrames)
	assert.Equal(t, 2, r.TotalTracks)
	assert.Equal(t, 5, r.TotalAnomalies)
	assert.Equal(t, 1, r.HighSeverity)
	require.NotNil(t, r.FinishedAt)

	failedID, err := s.StartRun("broken.jsonl", nil)
	require.NoError(t, err)
	require.NoError(t, s.FinishRun(failedID, pipeline.Summary{}, errors.New("line 4: bad bbox")))
	failed, err := s.GetRun(failedID)
	require.NoError(t, err)
	assert.Equal(t, RunFailed, failed.Status)
	assert.Equal(t, "line 4: bad bbox", failed.ErrorMessage)
	assert.Nil(t, failed.ParamsJSON)

	runs, err := s.ListRuns()
	require.NoError(t, err)
	assert.Len(t, runs, 2)

	_, err = s.GetRun("missing")
	assert.ErrorIs(t, err, ErrRunNotFound)
	assert.ErrorIs(t, s.FinishRun("missing", pipeline.Summary{}, nil), ErrRunNotFound)
}

func TestPersistFrame(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	runID, err := s.StartRun("walk.jsonl", nil)
	require.NoError(t, err)

	sink := s.Sink(runID)
	assert.Equal(t, runID, sink.RunID())
	for frame := 0; frame < 3; frame++ {
		require.NoError(t, sink.PersistFrame(sampleFrame(frame)))
	}

	n, err := s.FrameCount(runID)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	obs, err := s.TrackObservations(runID, 1)
	require.NoError(t, err)
	require.Len(t, obs, 3)
	assert.Equal(t, Observation{
		Frame:      2,
		TrackID:    1,
		ClassID:    0,
		BBox:       geom.Box{10, 20, 60, 120},
		Velocity:   r2.Vec{X: 9},
		Confidence: 0.8,
		Hits:       5,
		Activity:   activity.Running,
	}, obs[2])

	got, err := s.ListAnomalies(runID)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, sampleFrame(1).Anomalies[0], got[1])

	counts, err := s.CountAnomaliesByType(runID)
	require.NoError(t, err)
	assert.Equal(t, map[anomaly.Kind]int{anomaly.AbnormalSpeed: 3}, counts)
}

func TestPersistFrameIsAtomic(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	runID, err := s.StartRun("walk.jsonl", nil)
	require.NoError(t, err)
	require.NoError(t, s.PersistFrame(runID, sampleFrame(0)))

	// Same frame again violates the primary key; nothing from it may land.
	dup := sampleFrame(0)
	dup.Anomalies = append(dup.Anomalies, dup.Anomalies[0])
	require.Error(t, s.PersistFrame(runID, dup))

	got, err := s.ListAnomalies(runID)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestPersistFrameUnknownRun(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	assert.Error(t, s.PersistFrame("no-such-run", sampleFrame(0)), "foreign keys are enforced")
}

func TestCrowdingAnomalyWithoutBBox(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	runID, err := s.StartRun("crowd.jsonl", nil)
	require.NoError(t, err)

	res := &pipeline.FrameResult{
		Frame: 4,
		Anomalies: []anomaly.Anomaly{{
			Type:     anomaly.Crowding,
			Severity: anomaly.Medium,
			Frame:    4,
			TrackIDs: []int{1, 2, 3},
			Location: r2.Vec{X: 10, Y: 10},
			Count:    3,
		}},
	}
	require.NoError(t, s.PersistFrame(runID, res))

	got, err := s.ListAnomalies(runID)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Nil(t, got[0].BBox)
	assert.Equal(t, []int{1, 2, 3}, got[0].TrackIDs)
	assert.Equal(t, 3, got[0].Count)
}

func TestIsSQLiteBusy(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil error", nil, false},
		{"database is locked", errors.New("database is locked (5) (SQLITE_BUSY)"), true},
		{"SQLITE_BUSY", errors.New("SQLITE_BUSY"), true},
		{"other error", errors.New("some other error"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, isSQLiteBusy(tt.err))
		})
	}
}

func TestRetryOnBusy(t *testing.T) {
	t.Parallel()

	calls := 0
	err := retryOnBusy(func() error {
		calls++
		if calls < 3 {
			return errors.New("database is locked")
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)

	calls = 0
	err = retryOnBusy(func() error {
		calls++
		return errors.New("constraint failed")
	})
	assert.EqualError(t, err, "constraint failed")
	assert.Equal(t, 1, calls)
}
