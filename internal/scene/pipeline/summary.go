package pipeline

import (
	"time"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/banshee-data/motion.watch/internal/scene/activity"
	"github.com/banshee-data/motion.watch/internal/scene/anomaly"
	"github.com/banshee-data/motion.watch/internal/scene/geom"
)

// TrackData is the per-frame view of one track.
type TrackData struct {
	ID       int               `json:"id"`
	ClassID  int               `json:"class"`
	BBox     geom.Box          `json:"bbox"`
	Activity activity.Activity `json:"activity"`
}

// AnomalyBrief is the per-frame view of one anomaly.
type AnomalyBrief struct {
	Type     anomaly.Kind     `json:"type"`
	Severity anomaly.Severity `json:"severity"`
	Location [2]float64       `json:"location"`
}

// FrameData records what one frame contained.
type FrameData struct {
	Frame      int            `json:"frame"`
	Timestamp  float64        `json:"timestamp"`
	TrackCount int            `json:"tracks_count"`
	Tracks     []TrackData    `json:"tracks"`
	Anomalies  []AnomalyBrief `json:"anomalies"`
}

// DetectionStats holds the confirmed object count per frame and the raw
// detection count per class.
type DetectionStats struct {
	Frames       []int       `json:"frames"`
	ObjectCounts []int       `json:"object_counts"`
	ClassCounts  map[int]int `json:"class_counts"`
	Detections   int         `json:"detections"`
}

// Totals is the headline of a run.
type Totals struct {
	Tracks       int `json:"total_tracks"`
	Activities   int `json:"total_activities"` // distinct labels observed
	Anomalies    int `json:"total_anomalies"`
	HighSeverity int `json:"high_severity_anomalies"`
}

// Summary aggregates a run.
type Summary struct {
	TotalFrames    int            `json:"total_frames"`
	Duration       float64        `json:"duration"` // seconds of video covered
	Frames         []FrameData    `json:"frames_data"`
	DetectionStats DetectionStats `json:"detection_stats"`
	ActivityStats  activity.Stats `json:"activity_stats"`
	AnomalyStats   anomaly.Stats  `json:"anomaly_stats"`
	Totals         Totals         `json:"summary"`
}

type summaryBuilder struct {
	frames        []FrameData
	classCounts   map[int]int
	detections    int
	lastTimestamp time.Duration
}

func newSummaryBuilder() summaryBuilder {
	return summaryBuilder{classCounts: make(map[int]int)}
}

func (b *summaryBuilder) add(res *FrameResult) {
	fd := FrameData{
		Frame:      res.Frame,
		Timestamp:  res.Timestamp.Seconds(),
		TrackCount: len(res.Tracks),
		Tracks:     make([]TrackData, 0, len(res.Tracks)),
		Anomalies:  make([]AnomalyBrief, 0, len(res.Anomalies)),
	}
	for _, t := range res.Tracks {
		fd.Tracks = append(fd.Tracks, TrackData{
			ID:       t.ID,
			ClassID:  t.ClassID,
			BBox:     t.BBox,
			Activity: res.Activities[t.ID],
		})
	}
	for _, a := range res.Anomalies {
		fd.Anomalies = append(fd.Anomalies, AnomalyBrief{
			Type:     a.Type,
			Severity: a.Severity,
			Location: vecPair(a.Location),
		})
	}
	b.frames = append(b.frames, fd)

	for class, n := range res.ClassCounts() {
		b.classCounts[class] += n
	}
	b.detections += len(res.Detections)
	if res.Timestamp > b.lastTimestamp {
		b.lastTimestamp = res.Timestamp
	}
}

func (b *summaryBuilder) build(as activity.Stats, ns anomaly.Stats) Summary {
	s := Summary{
		TotalFrames: len(b.frames),
		Duration:    b.lastTimestamp.Seconds(),
		Frames:      make([]FrameData, len(b.frames)),
		DetectionStats: DetectionStats{
			Frames:       make([]int, len(b.frames)),
			ObjectCounts: make([]int, len(b.frames)),
			ClassCounts:  make(map[int]int, len(b.classCounts)),
			Detections:   b.detections,
		},
		ActivityStats: as,
		AnomalyStats:  ns,
	}
	copy(s.Frames, b.frames)
	for i, fd := range b.frames {
		s.DetectionStats.Frames[i] = fd.Frame
		s.DetectionStats.ObjectCounts[i] = fd.TrackCount
	}
	for class, n := range b.classCounts {
		s.DetectionStats.ClassCounts[class] = n
	}

	s.Totals.Tracks = as.TotalTracks
	for _, n := range as.Counts {
		if n > 0 {
			s.Totals.Activities++
		}
	}
	s.Totals.Anomalies = ns.Total
	s.Totals.HighSeverity = ns.BySeverity[anomaly.High]
	return s
}

func vecPair(v r2.Vec) [2]float64 { return [2]float64{v.X, v.Y} }
