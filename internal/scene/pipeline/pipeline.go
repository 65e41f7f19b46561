package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/banshee-data/motion.watch/internal/config"
	"github.com/banshee-data/motion.watch/internal/detections"
	"github.com/banshee-data/motion.watch/internal/scene/activity"
	"github.com/banshee-data/motion.watch/internal/scene/anomaly"
	"github.com/banshee-data/motion.watch/internal/scene/tracks"
	"github.com/banshee-data/motion.watch/internal/timeutil"
)

// Config holds the stages and sinks of a Pipeline. Tracker, Activities and
// Anomalies are required; sinks are optional.
type Config struct {
	Tracker    tracks.TrackerInterface
	Activities ActivityStage
	Anomalies  AnomalyStage

	// Clock must be the clock the anomaly stage was built with. When it
	// implements timeutil.Stepper it is advanced to each frame's video
	// timestamp before the frame is processed.
	Clock timeutil.Clock

	Persistence PersistenceSink
	Publisher   PublishSink
	Observer    FrameObserver
}

// NewConfigFromTuning builds the three stages from a tuning config, all
// sharing clock.
func NewConfigFromTuning(tc *config.TuningConfig, clock timeutil.Clock) (Config, error) {
	assigner, err := tracks.AssignerByName(tc.GetAssigner())
	if err != nil {
		return Config{}, err
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return Config{
		Tracker:    tracks.NewRegistry(tracks.RegistryConfigFromTuning(tc), assigner),
		Activities: activity.NewClassifier(activity.ConfigFromTuning(tc)),
		Anomalies:  anomaly.NewEngine(anomaly.ConfigFromTuning(tc), clock),
		Clock:      clock,
	}, nil
}

// Pipeline processes frames strictly in order.
type Pipeline struct {
	cfg   Config
	epoch time.Time

	// mu is held for writing across a whole frame, so readers never see
	// one stage ahead of another.
	mu            sync.RWMutex
	summary       summaryBuilder
	publishErrors int
}

// New creates a pipeline.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Tracker == nil || cfg.Activities == nil || cfg.Anomalies == nil {
		return nil, errors.New("pipeline requires tracker, activity and anomaly stages")
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	return &Pipeline{
		cfg:     cfg,
		epoch:   cfg.Clock.Now(),
		summary: newSummaryBuilder(),
	}, nil
}

// ProcessFrame runs one frame through every stage and sink.
func (p *Pipeline) ProcessFrame(f detections.Frame) (*FrameResult, error) {
	start := time.Now()

	p.mu.Lock()
	if s, ok := p.cfg.Clock.(timeutil.Stepper); ok {
		s.StepTo(p.epoch.Add(f.Timestamp))
	}

	confirmed := p.cfg.Tracker.Update(f.Detections)
	acts := p.cfg.Activities.Classify(confirmed, f.Index)
	found := p.cfg.Anomalies.Detect(confirmed, acts, f.Index, f.Timestamp)

	res := &FrameResult{
		Frame:      f.Index,
		Timestamp:  f.Timestamp,
		Detections: f.Detections,
		Tracks:     confirmed,
		Activities: acts,
		Anomalies:  found,
	}

	tracef("frame %d t=%.3fs detections=%d tracks=%d anomalies=%d",
		f.Index, f.Timestamp.Seconds(), len(f.Detections), len(confirmed), len(found))
	for _, a := range found {
		diagf("frame %d: %s (%s) tracks=%v", a.Frame, a.Type, a.Severity, a.TrackIDs)
	}

	p.summary.add(res)
	p.mu.Unlock()

	if p.cfg.Persistence != nil {
		if err := p.cfg.Persistence.PersistFrame(res); err != nil {
			return res, fmt.Errorf("persist frame %d: %w", f.Index, err)
		}
	}
	if p.cfg.Publisher != nil {
		if err := p.cfg.Publisher.PublishFrame(res); err != nil {
			opsf("publish frame %d failed: %v", f.Index, err)
			p.mu.Lock()
			p.publishErrors++
			p.mu.Unlock()
		}
	}
	if p.cfg.Observer != nil {
		p.cfg.Observer.ObserveFrame(res, time.Since(start))
	}
	return res, nil
}

// Run drains src, stopping early when ctx is cancelled. The summary covers
// every frame processed before the run ended.
func (p *Pipeline) Run(ctx context.Context, src Source) (Summary, error) {
	for {
		select {
		case <-ctx.Done():
			opsf("run cancelled after %d frames", p.FramesProcessed())
			return p.Summary(), ctx.Err()
		default:
		}

		f, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return p.Summary(), fmt.Errorf("read frame: %w", err)
		}
		if _, err := p.ProcessFrame(f); err != nil {
			return p.Summary(), err
		}
	}

	s := p.Summary()
	diagf("run complete: frames=%d tracks=%d anomalies=%d high=%d",
		s.TotalFrames, s.Totals.Tracks, s.Totals.Anomalies, s.Totals.HighSeverity)
	return s, nil
}

// FramesProcessed returns the number of frames processed so far.
func (p *Pipeline) FramesProcessed() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.summary.frames)
}

// PublishErrors returns the number of failed publish attempts.
func (p *Pipeline) PublishErrors() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.publishErrors
}

// Summary returns the aggregate view of the run so far.
func (p *Pipeline) Summary() Summary {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.summary.build(p.cfg.Activities.Stats(), p.cfg.Anomalies.Stats())
}
