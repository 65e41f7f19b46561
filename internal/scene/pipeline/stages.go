package pipeline

import (
	"time"

	"github.com/banshee-data/motion.watch/internal/detections"
	"github.com/banshee-data/motion.watch/internal/scene/activity"
	"github.com/banshee-data/motion.watch/internal/scene/anomaly"
	"github.com/banshee-data/motion.watch/internal/scene/tracks"
)

// Source yields frames in order and returns io.EOF when exhausted.
type Source interface {
	Next() (detections.Frame, error)
}

// ActivityStage labels confirmed tracks.
type ActivityStage interface {
	Classify(trks []tracks.Track, frame int) map[int]activity.Activity
	Stats() activity.Stats
}

// AnomalyStage evaluates anomaly rules over classified tracks.
type AnomalyStage interface {
	Detect(trks []tracks.Track, activities map[int]activity.Activity, frame int, ts time.Duration) []anomaly.Anomaly
	Stats() anomaly.Stats
}

// PersistenceSink writes frame results to storage. A failure stops the run.
type PersistenceSink interface {
	PersistFrame(res *FrameResult) error
}

// PublishSink sends frame results to external subscribers. Failures are
// logged and counted but do not stop the run.
type PublishSink interface {
	PublishFrame(res *FrameResult) error
}

// FrameObserver receives every processed frame with its processing time.
type FrameObserver interface {
	ObserveFrame(res *FrameResult, elapsed time.Duration)
}

var (
	_ ActivityStage = (*activity.Classifier)(nil)
	_ AnomalyStage  = (*anomaly.Engine)(nil)
)

// FrameResult is the output of one frame.
type FrameResult struct {
	Frame      int
	Timestamp  time.Duration
	Detections []tracks.Detection
	Tracks     []tracks.Track
	Activities map[int]activity.Activity
	Anomalies  []anomaly.Anomaly
}

// ClassCounts returns the number of detections per class id.
func (r *FrameResult) ClassCounts() map[int]int {
	counts := make(map[int]int)
	for _, d := range r.Detections {
		counts[d.ClassID]++
	}
	return counts
}
