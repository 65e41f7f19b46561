package detections

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/motion.watch/internal/scene/geom"
	"github.com/banshee-data/motion.watch/internal/scene/tracks"
)

func TestReaderDefaults(t *testing.T) {
	t.Parallel()

	input := `{"detections":[{"bbox":[0,0,10,20],"class_id":0,"confidence":0.9}]}

{"detections":[]}
{"frame":10,"timestamp":2.5,"detections":[{"bbox":[1,2,3,4],"class_id":2}]}
`
	r := NewReader(strings.NewReader(input), 10)
	frames, err := ReadAll(r)
	require.NoError(t, err)
	require.Len(t, frames, 3)

	assert.Equal(t, 0, frames[0].Index)
	assert.Equal(t, time.Duration(0), frames[0].Timestamp)
	assert.Equal(t, []tracks.Detection{{BBox: geom.Box{0, 0, 10, 20}, ClassID: 0, Confidence: 0.9}}, frames[0].Detections)

	assert.Equal(t, 1, frames[1].Index)
	assert.Equal(t, 100*time.Millisecond, frames[1].Timestamp)
	assert.Empty(t, frames[1].Detections)

	assert.Equal(t, 10, frames[2].Index)
	assert.Equal(t, 2500*time.Millisecond, frames[2].Timestamp)
	assert.Equal(t, 1.0, frames[2].Detections[0].Confidence, "missing confidence defaults to 1")
	assert.Equal(t, 2, frames[2].Detections[0].ClassID)

	_, err = r.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestReaderFPSFallback(t *testing.T) {
	t.Parallel()

	assert.Equal(t, DefaultFPS, NewReader(strings.NewReader(""), 0).FPS())
	assert.Equal(t, DefaultFPS, NewReader(strings.NewReader(""), -5).FPS())
	assert.Equal(t, 25.0, NewReader(strings.NewReader(""), 25).FPS())
}

func TestReaderErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"malformed json", "{\"detections\":[]}\n{nope", "line 2: invalid frame record"},
		{"short bbox", `{"detections":[{"bbox":[1,2,3]}]}`, "bbox needs 4 values, got 3"},
		{"inverted bbox", `{"detections":[{"bbox":[10,0,5,5]}]}`, "inverted bbox"},
		{"negative class", `{"detections":[{"bbox":[0,0,1,1],"class_id":-1}]}`, "class_id must be non-negative"},
		{"negative frame", `{"frame":-3,"detections":[]}`, "frame must be non-negative"},
		{"negative timestamp", `{"timestamp":-1,"detections":[]}`, "timestamp must be non-negative"},
		{"repeated frame", "{\"frame\":4,\"detections\":[]}\n{\"frame\":4,\"detections\":[]}", "line 2: frame 4 does not follow frame 4"},
		{"backwards frame", "{\"detections\":[]}\n{\"frame\":5,\"detections\":[]}\n\n{\"frame\":2,\"detections\":[]}", "line 4: frame 2 does not follow frame 5"},
		{"default after explicit", "{\"frame\":3,\"detections\":[]}\n{\"detections\":[]}\n{\"frame\":4,\"detections\":[]}", "line 3: frame 4 does not follow frame 4"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := ReadAll(NewReader(strings.NewReader(tt.input), 30))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestOpen(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "dets.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(`{"detections":[{"bbox":[0,0,1,1]}]}`+"\n"), 0o644))

	r, err := Open(path, 30)
	require.NoError(t, err)
	defer r.Close()

	f, err := r.Next()
	require.NoError(t, err)
	assert.Len(t, f.Detections, 1)

	_, err = Open(filepath.Join(t.TempDir(), "missing.jsonl"), 30)
	assert.ErrorContains(t, err, "failed to open detections")
}
