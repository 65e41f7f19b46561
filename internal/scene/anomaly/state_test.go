package anomaly

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r2"
)

func TestStateArenaInsertIsIdempotent(t *testing.T) {
	t.Parallel()

	a := NewStateArena(10)
	first := a.Insert(3, r2.Vec{X: 1, Y: 2}, time.Second)
	first.MaxDistance = 42

	again := a.Insert(3, r2.Vec{X: 100, Y: 100}, 2*time.Second)
	assert.Same(t, first, again)
	assert.Equal(t, r2.Vec{X: 1, Y: 2}, again.InitialPosition)
	assert.Equal(t, time.Second, again.FirstSeen)
	assert.Equal(t, 1, a.Len())
}

func TestStateArenaPurge(t *testing.T) {
	t.Parallel()

	a := NewStateArena(10)
	a.Insert(1, r2.Vec{}, 0)
	a.Insert(2, r2.Vec{}, 0)
	a.Insert(3, r2.Vec{}, 4*time.Second)

	removed := a.Purge(map[int]bool{2: true}, 10*time.Second, 5*time.Second)
	assert.Equal(t, []int{1}, removed)
	assert.Equal(t, []int{2, 3}, a.IDs())

	_, ok := a.Get(1)
	assert.False(t, ok)

	a.Remove(2)
	assert.Equal(t, []int{3}, a.IDs())
}

func TestTrackStateVelocitiesBounded(t *testing.T) {
	t.Parallel()

	a := NewStateArena(3)
	s := a.Insert(1, r2.Vec{}, 0)
	for i := 0; i < 5; i++ {
		s.velocities.Push(r2.Vec{X: float64(i)})
	}
	assert.Equal(t, []r2.Vec{{X: 2}, {X: 3}, {X: 4}}, s.Velocities())

	c := s.clone()
	c.velocities.Push(r2.Vec{X: 9})
	require.Len(t, s.Velocities(), 3)
	assert.Equal(t, r2.Vec{X: 4}, s.Velocities()[2])

	var zero TrackState
	assert.Nil(t, zero.Velocities())
	assert.False(t, zero.Stopped())
}
