package tracks

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r2"

	"github.com/banshee-data/motion.watch/internal/scene/geom"
)

func box(x, y float64) geom.Box {
	return geom.Box{x, y, x + 100, y + 100}
}

func person(x, y float64) Detection {
	return Detection{BBox: box(x, y), ClassID: 0, Confidence: 0.9}
}

func TestRegistryConfigDefaults(t *testing.T) {
	t.Parallel()

	cfg := DefaultRegistryConfig()
	assert.Equal(t, 0.3, cfg.IoUThreshold)
	assert.Equal(t, 30, cfg.MaxAge)
	assert.Equal(t, 3, cfg.HitsToConfirm)
	assert.Equal(t, 30, cfg.HistoryLength)
}

func TestRegistryConfirmation(t *testing.T) {
	t.Parallel()

	r := NewRegistry(DefaultRegistryConfig(), nil)

	assert.Empty(t, r.Update([]Detection{person(0, 0)}))
	assert.Empty(t, r.Update([]Detection{person(3, 0)}))

	got := r.Update([]Detection{person(6, 0)})
	require.Len(t, got, 1)
	assert.Equal(t, 1, got[0].ID)
	assert.Equal(t, 3, got[0].Hits)
	assert.Equal(t, 0, got[0].Age)
	assert.Equal(t, r2.Vec{X: 3, Y: 0}, got[0].Velocity)
	assert.Len(t, got[0].History, 3)
}

func TestRegistryNewTrackHasZeroVelocity(t *testing.T) {
	t.Parallel()

	r := NewRegistry(DefaultRegistryConfig(), nil)
	r.Update([]Detection{person(0, 0)})

	all := r.Tracks()
	require.Len(t, all, 1)
	assert.Equal(t, r2.Vec{}, all[0].Velocity)
	assert.Equal(t, 1, all[0].Hits)
	assert.Equal(t, []r2.Vec{{X: 50, Y: 50}}, all[0].History)
}

func TestRegistryEmptyInputAgesTracks(t *testing.T) {
	t.Parallel()

	r := NewRegistry(DefaultRegistryConfig(), nil)
	assert.Empty(t, r.Update(nil))
	assert.Equal(t, 0, r.Count())

	for i := 0; i < 3; i++ {
		r.Update([]Detection{person(0, 0)})
	}
	got := r.Update(nil)
	require.Len(t, got, 1)
	assert.Equal(t, 1, got[0].Age)
}

func TestRegistryDeletesAfterMaxAge(t *testing.T) {
	t.Parallel()

	r := NewRegistry(DefaultRegistryConfig(), nil)
	for i := 0; i < 3; i++ {
		r.Update([]Detection{person(0, 0)})
	}

	for i := 1; i <= 30; i++ {
		got := r.Update(nil)
		require.Len(t, got, 1, "frame %d", i)
		assert.Equal(t, i, got[0].Age)
	}

	assert.Empty(t, r.Update(nil))
	assert.Equal(t, 0, r.Count())

	// A re-appearing object is a new identity.
	r.Update([]Detection{person(0, 0)})
	all := r.Tracks()
	require.Len(t, all, 1)
	assert.Equal(t, 2, all[0].ID)
}

func TestRegistryAgeResetsOnMatch(t *testing.T) {
	t.Parallel()

	r := NewRegistry(DefaultRegistryConfig(), nil)
	for i := 0; i < 3; i++ {
		r.Update([]Detection{person(0, 0)})
	}
	for i := 0; i < 10; i++ {
		r.Update(nil)
	}
	got := r.Update([]Detection{person(2, 0)})
	require.Len(t, got, 1)
	assert.Equal(t, 0, got[0].Age)
	assert.Equal(t, 4, got[0].Hits)
	assert.Equal(t, 1, got[0].ID)
}

func TestRegistryUnmatchedDetectionSpawns(t *testing.T) {
	t.Parallel()

	r := NewRegistry(DefaultRegistryConfig(), nil)
	r.Update([]Detection{person(0, 0)})
	r.Update([]Detection{person(0, 0), person(500, 500)})

	all := r.Tracks()
	require.Len(t, all, 2)
	assert.Equal(t, 1, all[0].ID)
	assert.Equal(t, 2, all[0].Hits)
	assert.Equal(t, 2, all[1].ID)
	assert.Equal(t, 1, all[1].Hits)
}

func TestRegistryHistoryBounded(t *testing.T) {
	t.Parallel()

	r := NewRegistry(DefaultRegistryConfig(), nil)
	for i := 0; i < 45; i++ {
		r.Update([]Detection{person(float64(i), 0)})
		for _, tr := range r.Tracks() {
			assert.LessOrEqual(t, len(tr.History), 30)
		}
	}
	all := r.Tracks()
	require.Len(t, all, 1)
	assert.Equal(t, r2.Vec{X: 94, Y: 50}, all[0].History[len(all[0].History)-1])
}

func TestRegistrySnapshotsAreIndependent(t *testing.T) {
	t.Parallel()

	r := NewRegistry(DefaultRegistryConfig(), nil)
	for i := 0; i < 3; i++ {
		r.Update([]Detection{person(0, 0)})
	}
	got := r.Tracks()
	got[0].History[0] = r2.Vec{X: -1, Y: -1}
	got[0].BBox = box(900, 900)

	again := r.Tracks()
	assert.Equal(t, r2.Vec{X: 50, Y: 50}, again[0].History[0])
	assert.Equal(t, box(0, 0), again[0].BBox)
}

func TestRegistryIDsNeverReused(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(42))
	r := NewRegistry(DefaultRegistryConfig(), nil)

	seen := map[int]bool{}
	gone := map[int]bool{}
	maxID := 0
	for frame := 0; frame < 300; frame++ {
		n := rng.Intn(5)
		dets := make([]Detection, n)
		for i := range dets {
			dets[i] = person(float64(rng.Intn(6))*150, float64(rng.Intn(3))*150)
		}
		r.Update(dets)

		live := map[int]bool{}
		for _, tr := range r.Tracks() {
			live[tr.ID] = true
			assert.False(t, gone[tr.ID], "id %d came back after removal", tr.ID)
			if !seen[tr.ID] {
				assert.Greater(t, tr.ID, maxID, "new id must exceed all earlier ids")
				seen[tr.ID] = true
				maxID = tr.ID
			}
		}
		for id := range seen {
			if !live[id] {
				gone[id] = true
			}
		}
	}
	assert.Equal(t, maxID+1, r.NextID())
}

func TestRegistryResetKeepsIDsIncreasing(t *testing.T) {
	t.Parallel()

	r := NewRegistry(DefaultRegistryConfig(), nil)
	r.Update([]Detection{person(0, 0), person(300, 0)})
	r.Reset()
	assert.Equal(t, 0, r.Count())

	r.Update([]Detection{person(0, 0)})
	all := r.Tracks()
	require.Len(t, all, 1)
	assert.Equal(t, 3, all[0].ID)
}

func TestRegistryHungarianAssigner(t *testing.T) {
	t.Parallel()

	r := NewRegistry(DefaultRegistryConfig(), HungarianAssigner{})
	for i := 0; i < 3; i++ {
		r.Update([]Detection{person(float64(3*i), 0), person(400, float64(3*i))})
	}
	got := r.Update([]Detection{person(400, 9), person(9, 0)})
	require.Len(t, got, 2)
	assert.Equal(t, 1, got[0].ID)
	assert.Equal(t, box(9, 0), got[0].BBox)
	assert.Equal(t, 2, got[1].ID)
	assert.Equal(t, box(400, 9), got[1].BBox)
}

func TestRegistryEndToEndVisibility(t *testing.T) {
	t.Parallel()

	r := NewRegistry(DefaultRegistryConfig(), nil)
	for frame := 0; frame < 5; frame++ {
		got := r.Update([]Detection{person(float64(frame), 0)})
		if frame < 2 {
			assert.Empty(t, got, "frame %d", frame)
			continue
		}
		require.Len(t, got, 1, "frame %d", frame)
		assert.Equal(t, 1, got[0].ID)
		assert.Equal(t, r2.Vec{X: 1, Y: 0}, got[0].Velocity)
	}
}
