// Package detections replays per-frame object detections from JSON lines.
//
// Each non-blank line holds one frame:
//
//	{"frame": 12, "timestamp": 0.4, "detections": [
//	    {"bbox": [x1, y1, x2, y2], "class_id": 0, "confidence": 0.91}]}
//
// "frame" defaults to one past the previous frame (zero for the first) and
// must increase strictly. "timestamp" (seconds) defaults to frame/fps.
package detections

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"github.com/banshee-data/motion.watch/internal/scene/geom"
	"github.com/banshee-data/motion.watch/internal/scene/tracks"
)

// DefaultFPS is used when no frame rate is supplied.
const DefaultFPS = 30.0

// maxLineBytes bounds a single frame record.
const maxLineBytes = 8 << 20

// Frame is one frame of detections.
type Frame struct {
	Index      int
	Timestamp  time.Duration
	Detections []tracks.Detection
}

type detectionRecord struct {
	BBox       []float64 `json:"bbox"`
	ClassID    *int      `json:"class_id"`
	Confidence *float64  `json:"confidence"`
}

type frameRecord struct {
	Frame      *int              `json:"frame"`
	Timestamp  *float64          `json:"timestamp"`
	Detections []detectionRecord `json:"detections"`
}

// Reader decodes frames from a JSON-lines stream.
type Reader struct {
	sc     *bufio.Scanner
	closer io.Closer
	fps    float64
	line   int
	last   int
}

// NewReader returns a Reader over r. A non-positive fps selects DefaultFPS.
func NewReader(r io.Reader, fps float64) *Reader {
	if fps <= 0 || math.IsNaN(fps) || math.IsInf(fps, 0) {
		fps = DefaultFPS
	}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	return &Reader{sc: sc, fps: fps, last: -1}
}

// Open opens a JSON-lines file. "-" reads standard input.
func Open(path string, fps float64) (*Reader, error) {
	if path == "-" {
		return NewReader(os.Stdin, fps), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open detections %q: %w", path, err)
	}
	r := NewReader(f, fps)
	r.closer = f
	return r, nil
}

// FPS returns the frame rate used to derive missing timestamps.
func (r *Reader) FPS() float64 { return r.fps }

// Close releases the underlying file, if any.
func (r *Reader) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}

// Next returns the next frame or io.EOF when the stream is exhausted.
func (r *Reader) Next() (Frame, error) {
	for r.sc.Scan() {
		r.line++
		raw := r.sc.Bytes()
		if len(bytes.TrimSpace(raw)) == 0 {
			continue
		}

		var rec frameRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return Frame{}, fmt.Errorf("line %d: invalid frame record: %w", r.line, err)
		}
		f, err := r.convert(rec)
		if err != nil {
			return Frame{}, fmt.Errorf("line %d: %w", r.line, err)
		}
		r.last = f.Index
		return f, nil
	}
	if err := r.sc.Err(); err != nil {
		return Frame{}, fmt.Errorf("line %d: %w", r.line+1, err)
	}
	return Frame{}, io.EOF
}

func (r *Reader) convert(rec frameRecord) (Frame, error) {
	f := Frame{Index: r.last + 1}
	if rec.Frame != nil {
		if *rec.Frame < 0 {
			return Frame{}, fmt.Errorf("frame must be non-negative, got %d", *rec.Frame)
		}
		if *rec.Frame <= r.last {
			return Frame{}, fmt.Errorf("frame %d does not follow frame %d", *rec.Frame, r.last)
		}
		f.Index = *rec.Frame
	}
	if rec.Timestamp != nil {
		if *rec.Timestamp < 0 || math.IsNaN(*rec.Timestamp) {
			return Frame{}, fmt.Errorf("timestamp must be non-negative, got %v", *rec.Timestamp)
		}
		f.Timestamp = time.Duration(*rec.Timestamp * float64(time.Second))
	} else {
		f.Timestamp = time.Duration(float64(f.Index) / r.fps * float64(time.Second))
	}

	f.Detections = make([]tracks.Detection, 0, len(rec.Detections))
	for i, d := range rec.Detections {
		if len(d.BBox) != 4 {
			return Frame{}, fmt.Errorf("detection %d: bbox needs 4 values, got %d", i, len(d.BBox))
		}
		det := tracks.Detection{BBox: geom.Box{d.BBox[0], d.BBox[1], d.BBox[2], d.BBox[3]}, Confidence: 1}
		if det.BBox.X2() < det.BBox.X1() || det.BBox.Y2() < det.BBox.Y1() {
			return Frame{}, fmt.Errorf("detection %d: inverted bbox %v", i, d.BBox)
		}
		if d.ClassID != nil {
			if *d.ClassID < 0 {
				return Frame{}, fmt.Errorf("detection %d: class_id must be non-negative, got %d", i, *d.ClassID)
			}
			det.ClassID = *d.ClassID
		}
		if d.Confidence != nil {
			det.Confidence = *d.Confidence
		}
		f.Detections = append(f.Detections, det)
	}
	return f, nil
}

// ReadAll drains r into a slice of frames.
func ReadAll(r *Reader) ([]Frame, error) {
	var frames []Frame
	for {
		f, err := r.Next()
		if errors.Is(err, io.EOF) {
			return frames, nil
		}
		if err != nil {
			return frames, err
		}
		frames = append(frames, f)
	}
}
