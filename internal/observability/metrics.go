// Package observability exposes pipeline metrics to Prometheus.
package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/banshee-data/motion.watch/internal/scene/pipeline"
)

const namespace = "motionwatch"

// Metrics implements pipeline.FrameObserver.
type Metrics struct {
	FramesProcessed prometheus.Counter
	Detections      *prometheus.CounterVec
	ConfirmedTracks prometheus.Gauge
	Activities      *prometheus.GaugeVec
	Anomalies       *prometheus.CounterVec
	FrameDuration   prometheus.Histogram
	VideoPosition   prometheus.Gauge
}

var _ pipeline.FrameObserver = (*Metrics)(nil)

// NewMetrics registers the pipeline collectors with reg. Pass
// prometheus.DefaultRegisterer to expose them on the default /metrics handler.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		FramesProcessed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_processed_total",
			Help:      "Frames run through the pipeline.",
		}),
		Detections: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "detections_total",
			Help:      "Detections received, by class id.",
		}, []string{"class"}),
		ConfirmedTracks: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "confirmed_tracks",
			Help:      "Confirmed tracks in the most recent frame.",
		}),
		Activities: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "track_activities",
			Help:      "Confirmed tracks per activity label in the most recent frame.",
		}, []string{"activity"}),
		Anomalies: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "anomalies_total",
			Help:      "Anomalies emitted, by type and severity.",
		}, []string{"type", "severity"}),
		FrameDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "frame_duration_seconds",
			Help:      "Wall time spent processing one frame.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 12),
		}),
		VideoPosition: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "video_position_seconds",
			Help:      "Timestamp of the most recent frame.",
		}),
	}
}

// ObserveFrame implements pipeline.FrameObserver.
func (m *Metrics) ObserveFrame(res *pipeline.FrameResult, elapsed time.Duration) {
	m.FramesProcessed.Inc()
	for class, n := range res.ClassCounts() {
		m.Detections.WithLabelValues(classLabel(class)).Add(float64(n))
	}
	m.ConfirmedTracks.Set(float64(len(res.Tracks)))

	m.Activities.Reset()
	for _, a := range res.Activities {
		m.Activities.WithLabelValues(string(a)).Inc()
	}
	for _, a := range res.Anomalies {
		m.Anomalies.WithLabelValues(string(a.Type), string(a.Severity)).Inc()
	}
	m.FrameDuration.Observe(elapsed.Seconds())
	m.VideoPosition.Set(res.Timestamp.Seconds())
}

func classLabel(class int) string { return strconv.Itoa(class) }
