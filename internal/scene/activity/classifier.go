package activity

import (
	"sort"
	"sync"

	"github.com/banshee-data/motion.watch/internal/scene/geom"
	"github.com/banshee-data/motion.watch/internal/scene/motion"
	"github.com/banshee-data/motion.watch/internal/scene/tracks"
)

// Classifier assigns an Activity to each track per frame.
type Classifier struct {
	mu        sync.Mutex
	cfg       Config
	histories map[int]*motion.History[Activity]
	lastFrame int
}

// NewClassifier creates a classifier with cfg.
func NewClassifier(cfg Config) *Classifier {
	return &Classifier{
		cfg:       cfg,
		histories: make(map[int]*motion.History[Activity]),
		lastFrame: -1,
	}
}

// Config returns the classifier thresholds.
func (c *Classifier) Config() Config { return c.cfg }

// Classify labels every track in trks. Erratic movement takes priority over
// the speed bands; proximity to another person overrides both. Each label is
// appended to the track's activity history.
func (c *Classifier) Classify(trks []tracks.Track, frame int) map[int]Activity {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[int]Activity, len(trks))
	for i, t := range trks {
		label := c.individual(t)
		if c.interacting(i, trks) {
			label = Interacting
		}
		out[t.ID] = label

		h, ok := c.histories[t.ID]
		if !ok {
			h = motion.NewHistory[Activity](c.cfg.HistoryLength)
			c.histories[t.ID] = h
		}
		h.Push(label)
	}
	c.lastFrame = frame
	return out
}

func (c *Classifier) individual(t tracks.Track) Activity {
	if c.cfg.IsErratic(t.History) {
		return Erratic
	}
	return c.cfg.SpeedLabel(geom.Speed(t.Velocity))
}

// interacting reports whether trks[i] is a person within InteractionDistance
// of any other person.
func (c *Classifier) interacting(i int, trks []tracks.Track) bool {
	t := trks[i]
	if t.ClassID != c.cfg.PersonClassID {
		return false
	}
	center := t.Center()
	for j, other := range trks {
		if j == i || other.ID == t.ID || other.ClassID != c.cfg.PersonClassID {
			continue
		}
		if geom.Distance(center, other.Center()) < c.cfg.InteractionDistance {
			return true
		}
	}
	return false
}

// History returns the retained labels for a track, oldest first.
func (c *Classifier) History(trackID int) []Activity {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.histories[trackID]
	if !ok {
		return nil
	}
	return h.Items()
}

// LastFrame returns the frame number of the latest Classify call, or -1.
func (c *Classifier) LastFrame() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastFrame
}

// Reset discards all activity histories.
func (c *Classifier) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.histories = make(map[int]*motion.History[Activity])
	c.lastFrame = -1
}

// TrackStats summarises one track's retained labels.
type TrackStats struct {
	MostCommon   Activity             `json:"most_common"`
	Distribution map[Activity]float64 `json:"distribution"`
}

// Stats aggregates activity labels over all retained histories.
type Stats struct {
	TotalTracks int                `json:"total_tracks"`
	Counts      map[Activity]int   `json:"activity_counts"`
	Tracks      map[int]TrackStats `json:"track_activities"`
}

// Stats computes activity statistics. Counts holds every label, zero-filled.
// MostCommon ties are broken by the order of Labels.
func (c *Classifier) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{
		TotalTracks: len(c.histories),
		Counts:      make(map[Activity]int, len(Labels)),
		Tracks:      make(map[int]TrackStats, len(c.histories)),
	}
	for _, l := range Labels {
		s.Counts[l] = 0
	}

	for id, h := range c.histories {
		items := h.Items()
		if len(items) == 0 {
			continue
		}
		counts := make(map[Activity]int)
		for _, a := range items {
			counts[a]++
			s.Counts[a]++
		}
		dist := make(map[Activity]float64, len(counts))
		for a, n := range counts {
			dist[a] = float64(n) / float64(len(items))
		}
		s.Tracks[id] = TrackStats{MostCommon: mostCommon(counts), Distribution: dist}
	}
	return s
}

func mostCommon(counts map[Activity]int) Activity {
	best := Activity("")
	bestN := 0
	for _, l := range Labels {
		if n := counts[l]; n > bestN {
			best, bestN = l, n
		}
	}
	return best
}

// TrackIDs returns the ids with retained history in ascending order.
func (s Stats) TrackIDs() []int {
	ids := make([]int, 0, len(s.Tracks))
	for id := range s.Tracks {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}
