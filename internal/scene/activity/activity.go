// Package activity labels each confirmed track with a motion behaviour and
// keeps a bounded per-track record of the labels it assigned.
package activity

import (
	"gonum.org/v1/gonum/spatial/r2"

	"github.com/banshee-data/motion.watch/internal/config"
	"github.com/banshee-data/motion.watch/internal/scene/geom"
)

// Activity is the closed label set produced by the Classifier.
type Activity string

const (
	Stationary  Activity = "STATIONARY"
	Walking     Activity = "WALKING"
	Running     Activity = "RUNNING"
	Interacting Activity = "INTERACTING"
	Erratic     Activity = "ERRATIC"
)

// Labels lists every activity in canonical order. Statistics use this
// order to break ties.
var Labels = []Activity{Stationary, Walking, Running, Interacting, Erratic}

var descriptions = map[Activity]string{
	Stationary:  "Person or object without significant movement",
	Walking:     "Moderate movement in a consistent direction",
	Running:     "Fast movement at high speed",
	Interacting: "Close proximity between multiple people",
	Erratic:     "Abrupt direction changes or irregular movement",
}

// Description returns human-readable text for the label.
func (a Activity) Description() string {
	if d, ok := descriptions[a]; ok {
		return d
	}
	return string(a)
}

// Valid reports whether a is one of Labels.
func (a Activity) Valid() bool {
	_, ok := descriptions[a]
	return ok
}

// Config holds classifier thresholds. Speeds are px/frame, distances px.
type Config struct {
	StoppedSpeed        float64
	WalkingSpeed        float64
	RunningSpeed        float64
	InteractionDistance float64
	DirectionChangeDeg  float64
	ErraticChanges      int
	ErraticWindow       int
	HistoryLength       int
	PersonClassID       int
}

// DefaultConfig returns the built-in thresholds.
func DefaultConfig() Config {
	return ConfigFromTuning(config.DefaultTuningConfig())
}

// ConfigFromTuning builds a Config from a loaded TuningConfig.
func ConfigFromTuning(cfg *config.TuningConfig) Config {
	return Config{
		StoppedSpeed:        cfg.GetStoppedSpeed(),
		WalkingSpeed:        cfg.GetWalkingSpeed(),
		RunningSpeed:        cfg.GetRunningSpeed(),
		InteractionDistance: cfg.GetInteractionDistance(),
		DirectionChangeDeg:  cfg.GetDirectionChangeDeg(),
		ErraticChanges:      cfg.GetErraticChanges(),
		ErraticWindow:       cfg.GetErraticWindow(),
		HistoryLength:       cfg.GetActivityHistoryLength(),
		PersonClassID:       cfg.GetPersonClassID(),
	}
}

// minDisplacement is the window displacement below which no direction is
// defined.
const minDisplacement = 1e-6

// SpeedLabel maps a speed to its band. The band between walking and running
// thresholds stays WALKING.
func (c Config) SpeedLabel(speed float64) Activity {
	switch {
	case speed < c.StoppedSpeed:
		return Stationary
	case speed < c.WalkingSpeed:
		return Walking
	case speed >= c.RunningSpeed:
		return Running
	default:
		return Walking
	}
}

// windowDirection returns the heading of last-first in degrees.
func windowDirection(points []r2.Vec) (float64, bool) {
	if len(points) < 2 {
		return 0, false
	}
	d := r2.Sub(points[len(points)-1], points[0])
	if r2.Norm(d) < minDisplacement {
		return 0, false
	}
	return geom.HeadingDeg(d), true
}

// DirectionChanges partitions positions into successive non-overlapping
// windows of size window, aligned so the last window ends at the newest
// sample, and counts adjacent window pairs whose directions differ by more
// than thresholdDeg. Pairs where either window has no direction are skipped.
func DirectionChanges(positions []r2.Vec, window int, thresholdDeg float64) int {
	if window < 2 {
		return 0
	}
	n := len(positions) / window
	if n < 2 {
		return 0
	}
	offset := len(positions) - n*window

	changes := 0
	prev, prevOK := windowDirection(positions[offset : offset+window])
	for k := 1; k < n; k++ {
		start := offset + k*window
		dir, ok := windowDirection(positions[start : start+window])
		if ok && prevOK && geom.AngleDiffDeg(prev, dir) > thresholdDeg {
			changes++
		}
		prev, prevOK = dir, ok
	}
	return changes
}

// IsErratic reports whether positions show at least ErraticChanges direction
// changes. At least two full windows of history are required.
func (c Config) IsErratic(positions []r2.Vec) bool {
	if len(positions) < 2*c.ErraticWindow {
		return false
	}
	return DirectionChanges(positions, c.ErraticWindow, c.DirectionChangeDeg) >= c.ErraticChanges
}
