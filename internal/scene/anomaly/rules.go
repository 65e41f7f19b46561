package anomaly

import (
	"time"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/banshee-data/motion.watch/internal/scene/activity"
	"github.com/banshee-data/motion.watch/internal/scene/geom"
	"github.com/banshee-data/motion.watch/internal/scene/tracks"
)

// Subject is everything a per-track rule may inspect for one frame.
type Subject struct {
	Track      tracks.Track
	Activity   activity.Activity
	State      *TrackState
	StoppedFor time.Duration // zero while moving
}

// TrackRule is an independent per-track check. Rules never mutate the
// subject.
type TrackRule interface {
	Kind() Kind
	Fires(s Subject) bool
}

// SuddenMovementRule fires when the largest frame-to-frame velocity change
// in the retained velocity history exceeds Threshold.
type SuddenMovementRule struct {
	Threshold  float64
	MinSamples int
}

func (SuddenMovementRule) Kind() Kind { return SuddenMovement }

func (r SuddenMovementRule) Fires(s Subject) bool {
	v := s.State.Velocities()
	if len(v) < r.MinSamples || len(v) < 2 {
		return false
	}
	maxAccel := 0.0
	for i := 1; i < len(v); i++ {
		if a := r2.Norm(r2.Sub(v[i], v[i-1])); a > maxAccel {
			maxAccel = a
		}
	}
	return maxAccel > r.Threshold
}

// AbnormalSpeedRule fires when the current speed exceeds Threshold.
type AbnormalSpeedRule struct {
	Threshold float64
}

func (AbnormalSpeedRule) Kind() Kind { return AbnormalSpeed }

func (r AbnormalSpeedRule) Fires(s Subject) bool {
	return s.Track.Speed() > r.Threshold
}

// ProlongedStopRule fires for STATIONARY tracks whose stillness timer has
// run longer than Duration.
type ProlongedStopRule struct {
	Duration time.Duration
}

func (ProlongedStopRule) Kind() Kind { return ProlongedStop }

func (r ProlongedStopRule) Fires(s Subject) bool {
	if s.Activity != activity.Stationary || !s.State.Stopped() {
		return false
	}
	return s.StoppedFor > r.Duration
}

// ReverseMovementRule fires once a track that went further than twice
// Threshold from its origin is back within Threshold of it.
type ReverseMovementRule struct {
	Threshold float64
}

func (ReverseMovementRule) Kind() Kind { return ReverseMovement }

func (r ReverseMovementRule) Fires(s Subject) bool {
	return s.State.MaxDistance > 2*r.Threshold &&
		s.State.DistanceFromOrigin() < r.Threshold
}

// AbandonedObjectRule fires for STATIONARY non-person tracks stopped longer
// than Duration.
type AbandonedObjectRule struct {
	Duration      time.Duration
	PersonClassID int
}

func (AbandonedObjectRule) Kind() Kind { return AbandonedObject }

func (r AbandonedObjectRule) Fires(s Subject) bool {
	if s.Track.ClassID == r.PersonClassID {
		return false
	}
	if s.Activity != activity.Stationary || !s.State.Stopped() {
		return false
	}
	return s.StoppedFor > r.Duration
}

// ForbiddenDirectionRule fires for moving tracks whose heading lies within
// ToleranceDeg of HeadingDeg. Headings are in image coordinates: 0 is +x,
// 90 is +y (down).
type ForbiddenDirectionRule struct {
	HeadingDeg   float64
	ToleranceDeg float64
	MinSpeed     float64
}

func (ForbiddenDirectionRule) Kind() Kind { return ForbiddenDirection }

func (r ForbiddenDirectionRule) Fires(s Subject) bool {
	if s.Track.Speed() < r.MinSpeed || s.Track.Speed() == 0 {
		return false
	}
	return geom.AngleDiffDeg(geom.HeadingDeg(s.Track.Velocity), r.HeadingDeg) <= r.ToleranceDeg
}

// detectCrowding groups person tracks greedily. Each unvisited person seeds
// a candidate group of every other unvisited person closer than distance;
// groups of at least minCount are reported and their members marked visited.
func detectCrowding(trks []tracks.Track, personClass int, distance float64, minCount int) [][]tracks.Track {
	var people []tracks.Track
	for _, t := range trks {
		if t.ClassID == personClass {
			people = append(people, t)
		}
	}
	if len(people) < minCount {
		return nil
	}

	var groups [][]tracks.Track
	visited := make(map[int]bool, len(people))
	for i, seed := range people {
		if visited[seed.ID] {
			continue
		}
		center := seed.Center()
		group := []tracks.Track{seed}
		for j, other := range people {
			if i == j || visited[other.ID] {
				continue
			}
			if geom.Distance(center, other.Center()) < distance {
				group = append(group, other)
			}
		}
		if len(group) < minCount {
			continue
		}
		for _, m := range group {
			visited[m.ID] = true
		}
		groups = append(groups, group)
	}
	return groups
}
