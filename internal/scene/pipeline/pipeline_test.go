package pipeline

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/motion.watch/internal/config"
	"github.com/banshee-data/motion.watch/internal/detections"
	"github.com/banshee-data/motion.watch/internal/scene/activity"
	"github.com/banshee-data/motion.watch/internal/scene/anomaly"
	"github.com/banshee-data/motion.watch/internal/scene/geom"
	"github.com/banshee-data/motion.watch/internal/scene/tracks"
	"github.com/banshee-data/motion.watch/internal/timeutil"
)

var epoch = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

const frameDur = time.Second / 30

type sliceSource struct {
	frames []detections.Frame
	err    error
	next   int
}

func (s *sliceSource) Next() (detections.Frame, error) {
	if s.next < len(s.frames) {
		f := s.frames[s.next]
		s.next++
		return f, nil
	}
	if s.err != nil {
		return detections.Frame{}, s.err
	}
	return detections.Frame{}, io.EOF
}

type recordingSink struct {
	frames []int
	failAt int
	err    error
}

func (r *recordingSink) PersistFrame(res *FrameResult) error {
	if r.err != nil && res.Frame == r.failAt {
		return r.err
	}
	r.frames = append(r.frames, res.Frame)
	return nil
}

func (r *recordingSink) PublishFrame(res *FrameResult) error {
	return r.PersistFrame(res)
}

type countingObserver struct {
	frames int
}

func (c *countingObserver) ObserveFrame(res *FrameResult, elapsed time.Duration) {
	c.frames++
}

func walker(n int, step float64, dt time.Duration) []detections.Frame {
	frames := make([]detections.Frame, n)
	for i := range frames {
		x := 100 + step*float64(i)
		frames[i] = detections.Frame{
			Index:     i,
			Timestamp: time.Duration(i) * dt,
			Detections: []tracks.Detection{
				{BBox: geom.Box{x, 100, x + 50, 200}, ClassID: 0, Confidence: 0.9},
			},
		}
	}
	return frames
}

func newTestPipeline(t *testing.T, clock timeutil.Clock) (*Pipeline, Config) {
	t.Helper()
	cfg, err := NewConfigFromTuning(config.DefaultTuningConfig(), clock)
	require.NoError(t, err)
	p, err := New(cfg)
	require.NoError(t, err)
	return p, cfg
}

func TestNewRequiresStages(t *testing.T) {
	t.Parallel()

	_, err := New(Config{})
	assert.Error(t, err)

	tc := config.DefaultTuningConfig()
	bad := "auction"
	tc.Assigner = &bad
	_, err = NewConfigFromTuning(tc, nil)
	assert.ErrorContains(t, err, "auction")
}

func TestSteadyWalkerEndToEnd(t *testing.T) {
	t.Parallel()

	p, _ := newTestPipeline(t, timeutil.NewMockClock(epoch))
	for i, f := range walker(5, 3, frameDur) {
		res, err := p.ProcessFrame(f)
		require.NoError(t, err)
		if i < 2 {
			assert.Empty(t, res.Tracks, "frame %d", i)
			continue
		}
		require.Len(t, res.Tracks, 1, "frame %d", i)
		id := res.Tracks[0].ID
		assert.Equal(t, 1, id)
		assert.Equal(t, activity.Walking, res.Activities[id])
		assert.Empty(t, res.Anomalies)
	}

	s := p.Summary()
	assert.Equal(t, 5, s.TotalFrames)
	assert.Equal(t, []int{0, 1, 2, 3, 4}, s.DetectionStats.Frames)
	assert.Equal(t, []int{0, 0, 1, 1, 1}, s.DetectionStats.ObjectCounts)
	assert.Equal(t, map[int]int{0: 5}, s.DetectionStats.ClassCounts)
	assert.Equal(t, 5, s.DetectionStats.Detections)
	assert.Equal(t, Totals{Tracks: 1, Activities: 1}, s.Totals)
	require.Len(t, s.Frames, 5)
	assert.Equal(t, activity.Walking, s.Frames[4].Tracks[0].Activity)
}

func TestVideoClockDrivesStillness(t *testing.T) {
	t.Parallel()

	clock := timeutil.NewStepClock(epoch)
	p, _ := newTestPipeline(t, clock)

	summary, err := p.Run(context.Background(), &sliceSource{frames: walker(70, 0, 100*time.Millisecond)})
	require.NoError(t, err)

	// Confirmed at 0.2s, so the stop exceeds 5s from 5.3s (frame 53) on.
	assert.Equal(t, 17, summary.Totals.Anomalies)
	assert.Equal(t, map[anomaly.Kind]int{anomaly.ProlongedStop: 17}, summary.AnomalyStats.ByType)
	assert.Equal(t, 0, summary.Totals.HighSeverity)
	assert.InDelta(t, 6.9, summary.Duration, 1e-9)
	require.NotEmpty(t, summary.Frames[53].Anomalies)
	assert.Empty(t, summary.Frames[52].Anomalies)
	assert.Equal(t, epoch.Add(6900*time.Millisecond), clock.Now())
}

func TestRunSinks(t *testing.T) {
	t.Parallel()

	store := &recordingSink{}
	pub := &recordingSink{failAt: 1, err: errors.New("nats down")}
	obs := &countingObserver{}

	cfg, err := NewConfigFromTuning(config.DefaultTuningConfig(), timeutil.NewMockClock(epoch))
	require.NoError(t, err)
	cfg.Persistence = store
	cfg.Publisher = pub
	cfg.Observer = obs
	p, err := New(cfg)
	require.NoError(t, err)

	_, err = p.Run(context.Background(), &sliceSource{frames: walker(4, 3, frameDur)})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2, 3}, store.frames)
	assert.Equal(t, []int{0, 2, 3}, pub.frames)
	assert.Equal(t, 1, p.PublishErrors())
	assert.Equal(t, 4, obs.frames)
}

func TestRunStopsOnPersistenceError(t *testing.T) {
	t.Parallel()

	cfg, err := NewConfigFromTuning(config.DefaultTuningConfig(), timeutil.NewMockClock(epoch))
	require.NoError(t, err)
	cfg.Persistence = &recordingSink{failAt: 2, err: errors.New("disk full")}
	p, err := New(cfg)
	require.NoError(t, err)

	s, err := p.Run(context.Background(), &sliceSource{frames: walker(5, 3, frameDur)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "persist frame 2")
	assert.Equal(t, 3, s.TotalFrames)
}

func TestRunSourceError(t *testing.T) {
	t.Parallel()

	p, _ := newTestPipeline(t, timeutil.NewMockClock(epoch))
	s, err := p.Run(context.Background(), &sliceSource{frames: walker(2, 3, frameDur), err: errors.New("line 3: bad")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read frame: line 3: bad")
	assert.Equal(t, 2, s.TotalFrames)
}

func TestRunCancelled(t *testing.T) {
	t.Parallel()

	p, _ := newTestPipeline(t, timeutil.NewMockClock(epoch))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s, err := p.Run(ctx, &sliceSource{frames: walker(5, 3, frameDur)})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, s.TotalFrames)
	assert.Equal(t, 0, p.FramesProcessed())
}

func TestSummaryCountsHighSeverity(t *testing.T) {
	t.Parallel()

	p, _ := newTestPipeline(t, timeutil.NewMockClock(epoch))
	// A fast mover: 10px/frame exceeds the abnormal speed threshold.
	_, err := p.Run(context.Background(), &sliceSource{frames: walker(6, 10, frameDur)})
	require.NoError(t, err)

	s := p.Summary()
	assert.Equal(t, 4, s.Totals.HighSeverity)
	assert.Equal(t, 4, s.AnomalyStats.ByType[anomaly.AbnormalSpeed])
	assert.Equal(t, activity.Running, s.ActivityStats.Tracks[1].MostCommon)
}

// gatedAnomalies blocks Detect on one frame until released.
type gatedAnomalies struct {
	AnomalyStage
	frame   int
	entered chan struct{}
	release chan struct{}
}

func (g *gatedAnomalies) Detect(trks []tracks.Track, acts map[int]activity.Activity, frame int, ts time.Duration) []anomaly.Anomaly {
	if frame == g.frame {
		close(g.entered)
		<-g.release
	}
	return g.AnomalyStage.Detect(trks, acts, frame, ts)
}

func TestSummaryNeverSeesHalfAppliedFrame(t *testing.T) {
	t.Parallel()

	cfg, err := NewConfigFromTuning(config.DefaultTuningConfig(), timeutil.NewMockClock(epoch))
	require.NoError(t, err)
	gate := &gatedAnomalies{
		AnomalyStage: cfg.Anomalies,
		frame:        3,
		entered:      make(chan struct{}),
		release:      make(chan struct{}),
	}
	cfg.Anomalies = gate
	p, err := New(cfg)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := p.Run(context.Background(), &sliceSource{frames: walker(6, 3, frameDur)})
		done <- err
	}()
	<-gate.entered

	got := make(chan Summary, 1)
	go func() { got <- p.Summary() }()

	select {
	case <-got:
		t.Fatal("summary returned while frame 3 was still being processed")
	case <-time.After(50 * time.Millisecond):
	}
	close(gate.release)

	s := <-got
	require.NoError(t, <-done)

	labelled := 0
	for _, f := range s.Frames {
		labelled += len(f.Tracks)
	}
	counted := 0
	for _, n := range s.ActivityStats.Counts {
		counted += n
	}
	assert.Equal(t, labelled, counted, "activity stats and frame data must cover the same frames")
	assert.GreaterOrEqual(t, len(s.Frames), 4)
}
