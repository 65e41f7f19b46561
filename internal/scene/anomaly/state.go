package anomaly

import (
	"sort"
	"time"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/banshee-data/motion.watch/internal/scene/motion"
)

// TrackState is the engine's per-track record. Its lifecycle is independent
// of the registry's track: it survives short gaps and is removed only by
// StateArena.Purge.
type TrackState struct {
	TrackID         int
	InitialPosition r2.Vec
	CurrentPosition r2.Vec
	MaxDistance     float64   // never decreases
	StoppedSince    time.Time // zero while moving
	FirstSeen       time.Duration
	LastSeen        time.Duration

	velocities *motion.History[r2.Vec]
}

// Stopped reports whether the stillness timer is running.
func (s *TrackState) Stopped() bool { return !s.StoppedSince.IsZero() }

// Velocities returns the retained velocity samples, oldest first.
func (s *TrackState) Velocities() []r2.Vec {
	if s.velocities == nil {
		return nil
	}
	return s.velocities.Items()
}

// DistanceFromOrigin returns the current distance from the first position.
func (s *TrackState) DistanceFromOrigin() float64 {
	return r2.Norm(r2.Sub(s.CurrentPosition, s.InitialPosition))
}

func (s *TrackState) clone() TrackState {
	c := *s
	if s.velocities != nil {
		c.velocities = s.velocities.Clone()
	}
	return c
}

// StateArena maps track ids to states. Entries are added with Insert and
// removed only through Remove or Purge.
type StateArena struct {
	states          map[int]*TrackState
	velocityHistory int
}

// NewStateArena creates an arena whose states retain velocityHistory
// velocity samples.
func NewStateArena(velocityHistory int) *StateArena {
	return &StateArena{
		states:          make(map[int]*TrackState),
		velocityHistory: velocityHistory,
	}
}

// Get returns the state for id.
func (a *StateArena) Get(id int) (*TrackState, bool) {
	s, ok := a.states[id]
	return s, ok
}

// Insert creates the state for a newly seen track. An existing entry is
// returned unchanged.
func (a *StateArena) Insert(id int, pos r2.Vec, ts time.Duration) *TrackState {
	if s, ok := a.states[id]; ok {
		return s
	}
	s := &TrackState{
		TrackID:         id,
		InitialPosition: pos,
		CurrentPosition: pos,
		FirstSeen:       ts,
		LastSeen:        ts,
		velocities:      motion.NewHistory[r2.Vec](a.velocityHistory),
	}
	a.states[id] = s
	return s
}

// Remove deletes the state for id.
func (a *StateArena) Remove(id int) {
	delete(a.states, id)
}

// Purge removes states whose id is not in present and whose LastSeen is
// more than grace before now. It returns the removed ids in ascending order.
func (a *StateArena) Purge(present map[int]bool, now, grace time.Duration) []int {
	var removed []int
	for id, s := range a.states {
		if present[id] {
			continue
		}
		if now-s.LastSeen > grace {
			removed = append(removed, id)
		}
	}
	sort.Ints(removed)
	for _, id := range removed {
		delete(a.states, id)
	}
	return removed
}

// Len returns the number of states.
func (a *StateArena) Len() int { return len(a.states) }

// IDs returns all ids in ascending order.
func (a *StateArena) IDs() []int {
	ids := make([]int, 0, len(a.states))
	for id := range a.states {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}
