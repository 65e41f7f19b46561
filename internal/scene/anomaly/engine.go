package anomaly

import (
	"sync"
	"time"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/banshee-data/motion.watch/internal/config"
	"github.com/banshee-data/motion.watch/internal/monitoring"
	"github.com/banshee-data/motion.watch/internal/scene/activity"
	"github.com/banshee-data/motion.watch/internal/scene/geom"
	"github.com/banshee-data/motion.watch/internal/scene/tracks"
	"github.com/banshee-data/motion.watch/internal/timeutil"
)

// Config holds rule thresholds. Speeds are px/frame, distances px.
type Config struct {
	SuddenAcceleration    float64
	SuddenMinSamples      int
	HighSpeed             float64
	StoppedSpeed          float64
	StoppedDuration       time.Duration
	CrowdingDistance      float64
	CrowdingCount         int
	ReturnThreshold       float64
	AbandonedDuration     time.Duration
	StateGracePeriod      time.Duration
	VelocityHistoryLength int
	PersonClassID         int

	// ForbiddenDirection enables DIRECAO_PROIBIDA when set.
	ForbiddenDirection    bool
	ForbiddenDirectionDeg float64
	ForbiddenToleranceDeg float64
}

// DefaultConfig returns the built-in thresholds.
func DefaultConfig() Config {
	return ConfigFromTuning(config.DefaultTuningConfig())
}

// ConfigFromTuning builds a Config from a loaded TuningConfig.
func ConfigFromTuning(cfg *config.TuningConfig) Config {
	c := Config{
		SuddenAcceleration:    cfg.GetSuddenAcceleration(),
		SuddenMinSamples:      3,
		HighSpeed:             cfg.GetHighSpeed(),
		StoppedSpeed:          cfg.GetStoppedSpeed(),
		StoppedDuration:       cfg.GetStoppedDuration(),
		CrowdingDistance:      cfg.GetCrowdingDistance(),
		CrowdingCount:         cfg.GetCrowdingCount(),
		ReturnThreshold:       cfg.GetReturnThreshold(),
		AbandonedDuration:     cfg.GetAbandonedDuration(),
		StateGracePeriod:      cfg.GetStateGracePeriod(),
		VelocityHistoryLength: cfg.GetVelocityHistoryLength(),
		PersonClassID:         cfg.GetPersonClassID(),
		ForbiddenToleranceDeg: cfg.GetForbiddenDirectionToleranceDeg(),
	}
	if deg, ok := cfg.GetForbiddenDirection(); ok {
		c.ForbiddenDirection = true
		c.ForbiddenDirectionDeg = deg
	}
	return c
}

// Rules returns the per-track rules enabled by c in evaluation order.
func (c Config) Rules() []TrackRule {
	rules := []TrackRule{
		SuddenMovementRule{Threshold: c.SuddenAcceleration, MinSamples: c.SuddenMinSamples},
		AbnormalSpeedRule{Threshold: c.HighSpeed},
		ProlongedStopRule{Duration: c.StoppedDuration},
		ReverseMovementRule{Threshold: c.ReturnThreshold},
		AbandonedObjectRule{Duration: c.AbandonedDuration, PersonClassID: c.PersonClassID},
	}
	if c.ForbiddenDirection {
		rules = append(rules, ForbiddenDirectionRule{
			HeadingDeg:   c.ForbiddenDirectionDeg,
			ToleranceDeg: c.ForbiddenToleranceDeg,
			MinSpeed:     c.StoppedSpeed,
		})
	}
	return rules
}

// Engine evaluates anomaly rules frame by frame.
type Engine struct {
	mu     sync.Mutex
	cfg    Config
	clock  timeutil.Clock
	rules  []TrackRule
	states *StateArena
	log    []Anomaly
}

// NewEngine creates an engine. The clock drives the stillness timer; nil
// selects the real clock.
func NewEngine(cfg Config, clock timeutil.Clock) *Engine {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Engine{
		cfg:    cfg,
		clock:  clock,
		rules:  cfg.Rules(),
		states: NewStateArena(cfg.VelocityHistoryLength),
	}
}

// Detect refreshes track state, evaluates every rule and returns the
// anomalies raised in this frame. ts is the frame's video timestamp.
// Rules fire on every qualifying frame, not only on the first.
func (e *Engine) Detect(trks []tracks.Track, activities map[int]activity.Activity, frame int, ts time.Duration) []Anomaly {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.refresh(trks, ts)

	var out []Anomaly
	for _, t := range trks {
		st, ok := e.states.Get(t.ID)
		if !ok {
			continue
		}
		subj := Subject{Track: t, Activity: activities[t.ID], State: st}
		if st.Stopped() {
			subj.StoppedFor = e.clock.Since(st.StoppedSince)
		}
		for _, r := range e.rules {
			if !r.Fires(subj) {
				continue
			}
			a := newAnomaly(r.Kind(), frame, ts)
			a.TrackIDs = []int{t.ID}
			a.Location = t.Center()
			bbox := t.BBox
			a.BBox = &bbox
			out = append(out, a)
		}
	}

	for _, group := range detectCrowding(trks, e.cfg.PersonClassID, e.cfg.CrowdingDistance, e.cfg.CrowdingCount) {
		a := newAnomaly(Crowding, frame, ts)
		centers := make([]r2.Vec, len(group))
		a.TrackIDs = make([]int, len(group))
		for i, m := range group {
			centers[i] = m.Center()
			a.TrackIDs[i] = m.ID
		}
		a.Location = geom.Centroid(centers)
		a.Count = len(group)
		out = append(out, a)
	}

	// The log holds its own copies of each record.
	e.log = append(e.log, cloneAll(out)...)
	return out
}

func (e *Engine) refresh(trks []tracks.Track, ts time.Duration) {
	present := make(map[int]bool, len(trks))
	for _, t := range trks {
		present[t.ID] = true
		center := t.Center()

		st, ok := e.states.Get(t.ID)
		if !ok {
			st = e.states.Insert(t.ID, center, ts)
		}
		st.velocities.Push(t.Velocity)
		st.CurrentPosition = center
		st.LastSeen = ts
		if d := st.DistanceFromOrigin(); d > st.MaxDistance {
			st.MaxDistance = d
		}

		if t.Speed() < e.cfg.StoppedSpeed {
			if !st.Stopped() {
				st.StoppedSince = e.clock.Now()
			}
		} else {
			st.StoppedSince = time.Time{}
		}
	}

	for _, id := range e.states.Purge(present, ts, e.cfg.StateGracePeriod) {
		monitoring.Debugf("anomaly state for track %d purged", id)
	}
}

// Log returns a copy of every anomaly raised so far, in emission order.
func (e *Engine) Log() []Anomaly {
	e.mu.Lock()
	defer e.mu.Unlock()
	return cloneAll(e.log)
}

// Stats summarises the anomaly log.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Summarize(e.log)
}

// State returns a copy of the state held for a track.
func (e *Engine) State(id int) (TrackState, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.states.Get(id)
	if !ok {
		return TrackState{}, false
	}
	return st.clone(), true
}

// StateCount returns the number of tracked states.
func (e *Engine) StateCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.states.Len()
}

// Reset clears all state and the log.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.states = NewStateArena(e.cfg.VelocityHistoryLength)
	e.log = nil
}
