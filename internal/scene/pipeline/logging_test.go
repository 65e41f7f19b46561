package pipeline

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

// Not parallel: the streams are package state shared with the other tests.
func TestLogStreamsRouteSeparately(t *testing.T) {
	var ops, trace bytes.Buffer
	SetLogWriters(&ops, nil, &trace)
	t.Cleanup(func() { SetLogWriters(nil, nil, nil) })

	opsf("sink %s failed", "nats")
	diagf("anomaly raised on frame %d", 7)
	tracef("frame=%d tracks=%d", 3, 2)

	assert.Contains(t, ops.String(), "[motionwatch] sink nats failed")
	assert.NotContains(t, ops.String(), "frame=")
	assert.Contains(t, trace.String(), "frame=3 tracks=2")
	assert.NotContains(t, trace.String(), "anomaly raised")
}
