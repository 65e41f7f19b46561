// Package geom holds the stateless box and vector primitives shared by the
// tracking, activity and anomaly layers. Image coordinates are in pixels
// with the origin at the top-left corner.
package geom

import (
	"math"

	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/stat"
)

// Box is an axis-aligned bounding box [x1, y1, x2, y2].
type Box [4]float64

// X1 returns the left edge.
func (b Box) X1() float64 { return b[0] }

// Y1 returns the top edge.
func (b Box) Y1() float64 { return b[1] }

// X2 returns the right edge.
func (b Box) X2() float64 { return b[2] }

// Y2 returns the bottom edge.
func (b Box) Y2() float64 { return b[3] }

// Area returns the box area; inverted boxes have zero area.
func (b Box) Area() float64 {
	return math.Max(0, b[2]-b[0]) * math.Max(0, b[3]-b[1])
}

// Center returns the midpoint of the box.
func Center(b Box) r2.Vec {
	return r2.Vec{X: (b[0] + b[2]) / 2, Y: (b[1] + b[3]) / 2}
}

// IoU returns the intersection-over-union of two boxes in [0, 1].
// Boxes that only touch along an edge have IoU 0.
func IoU(a, b Box) float64 {
	ix1 := math.Max(a[0], b[0])
	iy1 := math.Max(a[1], b[1])
	ix2 := math.Min(a[2], b[2])
	iy2 := math.Min(a[3], b[3])
	if ix2 < ix1 || iy2 < iy1 {
		return 0
	}

	inter := (ix2 - ix1) * (iy2 - iy1)
	union := a.Area() + b.Area() - inter
	if union <= 0 {
		return 0
	}
	iou := inter / union
	if iou > 1 {
		return 1
	}
	return iou
}

// Distance returns the Euclidean distance between two points.
func Distance(p, q r2.Vec) float64 {
	return r2.Norm(r2.Sub(p, q))
}

// Speed returns the magnitude of a velocity vector.
func Speed(v r2.Vec) float64 {
	return r2.Norm(v)
}

// HeadingDeg returns the angle of v in degrees, (-180, 180].
func HeadingDeg(v r2.Vec) float64 {
	return math.Atan2(v.Y, v.X) * 180 / math.Pi
}

// AngleDiffDeg returns the minimal absolute difference between two headings
// in degrees, in [0, 180].
func AngleDiffDeg(a, b float64) float64 {
	diff := math.Mod(math.Abs(a-b), 360)
	if diff > 180 {
		diff = 360 - diff
	}
	return diff
}

// Centroid returns the mean of the given points. An empty slice yields the
// zero vector.
func Centroid(points []r2.Vec) r2.Vec {
	if len(points) == 0 {
		return r2.Vec{}
	}
	xs := make([]float64, len(points))
	ys := make([]float64, len(points))
	for i, p := range points {
		xs[i] = p.X
		ys[i] = p.Y
	}
	return r2.Vec{X: stat.Mean(xs, nil), Y: stat.Mean(ys, nil)}
}
