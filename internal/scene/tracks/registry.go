package tracks

import (
	"sort"
	"sync"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/banshee-data/motion.watch/internal/config"
	"github.com/banshee-data/motion.watch/internal/monitoring"
	"github.com/banshee-data/motion.watch/internal/scene/geom"
	"github.com/banshee-data/motion.watch/internal/scene/motion"
)

// Detection is a single per-frame object observation. It has no identity.
type Detection struct {
	BBox       geom.Box
	ClassID    int
	Confidence float64
}

// Track is a snapshot of a tracked object as of the latest Update.
type Track struct {
	ID         int
	BBox       geom.Box
	ClassID    int
	Confidence float64
	Velocity   r2.Vec   // center(t) - center(t-1) of the last match, px/frame
	History    []r2.Vec // past centers, oldest first
	Age        int      // consecutive unmatched frames
	Hits       int      // total matches including creation
}

// Center returns the center of the track's current box.
func (t Track) Center() r2.Vec { return geom.Center(t.BBox) }

// Speed returns the magnitude of the track's velocity.
func (t Track) Speed() float64 { return geom.Speed(t.Velocity) }

// RegistryConfig holds the association and lifecycle parameters.
type RegistryConfig struct {
	IoUThreshold  float64 // minimum IoU for a match (exclusive)
	MaxAge        int     // tracks are dropped once Age exceeds this
	HitsToConfirm int     // hits before a track is returned by Update
	HistoryLength int     // capacity of the per-track center history
}

// DefaultRegistryConfig returns the built-in registry parameters.
func DefaultRegistryConfig() RegistryConfig {
	return RegistryConfigFromTuning(config.DefaultTuningConfig())
}

// RegistryConfigFromTuning builds a RegistryConfig from a loaded TuningConfig.
func RegistryConfigFromTuning(cfg *config.TuningConfig) RegistryConfig {
	return RegistryConfig{
		IoUThreshold:  cfg.GetIoUMatchThreshold(),
		MaxAge:        cfg.GetMaxAge(),
		HitsToConfirm: cfg.GetHitsToConfirm(),
		HistoryLength: cfg.GetTrackHistoryLength(),
	}
}

// TrackerInterface is implemented by Registry. The pipeline depends on this
// rather than the concrete type so tests can substitute a scripted tracker.
type TrackerInterface interface {
	Update(dets []Detection) []Track
	Tracks() []Track
	Count() int
	Reset()
}

var _ TrackerInterface = (*Registry)(nil)

type liveTrack struct {
	id         int
	bbox       geom.Box
	classID    int
	confidence float64
	velocity   r2.Vec
	history    *motion.History[r2.Vec]
	age        int
	hits       int
}

func (lt *liveTrack) snapshot() Track {
	return Track{
		ID:         lt.id,
		BBox:       lt.bbox,
		ClassID:    lt.classID,
		Confidence: lt.confidence,
		Velocity:   lt.velocity,
		History:    lt.history.Items(),
		Age:        lt.age,
		Hits:       lt.hits,
	}
}

// Registry owns the set of live tracks.
type Registry struct {
	mu       sync.Mutex
	cfg      RegistryConfig
	assigner Assigner
	tracks   map[int]*liveTrack
	nextID   int
}

// NewRegistry creates a registry. A nil assigner selects GreedyAssigner.
func NewRegistry(cfg RegistryConfig, assigner Assigner) *Registry {
	if assigner == nil {
		assigner = GreedyAssigner{}
	}
	return &Registry{
		cfg:      cfg,
		assigner: assigner,
		tracks:   make(map[int]*liveTrack),
		nextID:   1,
	}
}

// Update associates dets with the live tracks and returns the confirmed
// tracks in ascending id order. An empty dets ages every track.
func (r *Registry) Update(dets []Detection) []Track {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.tracks) == 0 {
		for _, d := range dets {
			r.spawn(d)
		}
		return r.confirmed()
	}

	ids := r.sortedIDs()
	detMatched := make([]bool, len(dets))
	trackMatched := make(map[int]bool, len(ids))

	if len(dets) > 0 {
		cost := make([][]float64, len(dets))
		for i, d := range dets {
			cost[i] = make([]float64, len(ids))
			for j, id := range ids {
				cost[i][j] = 1 - geom.IoU(d.BBox, r.tracks[id].bbox)
			}
		}

		assignment := r.assigner.Assign(cost, 1-r.cfg.IoUThreshold)
		for i, j := range assignment {
			if j < 0 || j >= len(ids) {
				continue
			}
			id := ids[j]
			if trackMatched[id] {
				continue
			}
			r.match(r.tracks[id], dets[i])
			detMatched[i] = true
			trackMatched[id] = true
		}
	}

	for _, id := range ids {
		if trackMatched[id] {
			continue
		}
		lt := r.tracks[id]
		lt.age++
		if lt.age > r.cfg.MaxAge {
			monitoring.Debugf("track %d deleted after %d unmatched frames", id, lt.age)
			delete(r.tracks, id)
		}
	}

	for i, d := range dets {
		if !detMatched[i] {
			r.spawn(d)
		}
	}

	return r.confirmed()
}

func (r *Registry) spawn(d Detection) {
	h := motion.NewHistory[r2.Vec](r.cfg.HistoryLength)
	h.Push(geom.Center(d.BBox))
	lt := &liveTrack{
		id:         r.nextID,
		bbox:       d.BBox,
		classID:    d.ClassID,
		confidence: d.Confidence,
		history:    h,
		hits:       1,
	}
	r.tracks[lt.id] = lt
	r.nextID++
	monitoring.Debugf("track %d created class=%d", lt.id, lt.classID)
}

func (r *Registry) match(lt *liveTrack, d Detection) {
	prev := geom.Center(lt.bbox)
	next := geom.Center(d.BBox)
	lt.velocity = r2.Sub(next, prev)
	lt.bbox = d.BBox
	lt.classID = d.ClassID
	lt.confidence = d.Confidence
	lt.history.Push(next)
	lt.age = 0
	lt.hits++
	if lt.hits == r.cfg.HitsToConfirm {
		monitoring.Debugf("track %d confirmed", lt.id)
	}
}

func (r *Registry) sortedIDs() []int {
	ids := make([]int, 0, len(r.tracks))
	for id := range r.tracks {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

func (r *Registry) confirmed() []Track {
	out := make([]Track, 0, len(r.tracks))
	for _, id := range r.sortedIDs() {
		lt := r.tracks[id]
		if lt.hits >= r.cfg.HitsToConfirm {
			out = append(out, lt.snapshot())
		}
	}
	return out
}

// Tracks returns every live track, confirmed or not, in ascending id order.
func (r *Registry) Tracks() []Track {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Track, 0, len(r.tracks))
	for _, id := range r.sortedIDs() {
		out = append(out, r.tracks[id].snapshot())
	}
	return out
}

// Count returns the number of live tracks.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tracks)
}

// NextID returns the id the next spawned track will receive.
func (r *Registry) NextID() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.nextID
}

// Reset drops all live tracks. Ids keep increasing across a reset.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tracks = make(map[int]*liveTrack)
}
