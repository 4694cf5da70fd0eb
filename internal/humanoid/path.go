// File: internal/humanoid/path.go
package humanoid

import (
	"math"
	"math/rand"
	"time"
)

// sampleInterval is the spacing between emitted cursor samples,
// approximating a 60 Hz input device.
const sampleInterval = 16 * time.Millisecond

// controlSigma scales the Bézier control-point offset relative to the
// straight-line distance.
const controlSigma = 0.15

// jitterSigma is the per-sample Gaussian position noise in pixels.
const jitterSigma = 0.5

// PathPoint is one cursor sample: a position and its offset from the
// start of the gesture.
type PathPoint struct {
	Pos Vector2D
	At  time.Duration
}

// computeEaseInOutCubic provides a smooth acceleration and deceleration
// profile for movement.
func computeEaseInOutCubic(t float64) float64 {
	if t < 0.5 {
		return 4 * t * t * t
	}
	return 1 - math.Pow(-2*t+2, 3)/2
}

// cubicBezier evaluates the curve at parameter t.
func cubicBezier(p0, p1, p2, p3 Vector2D, t float64) Vector2D {
	omt := 1.0 - t
	omt2 := omt * omt
	omt3 := omt2 * omt
	t2 := t * t
	t3 := t2 * t
	return p0.Mul(omt3).Add(p1.Mul(3 * omt2 * t)).Add(p2.Mul(3 * omt * t2)).Add(p3.Mul(t3))
}

// CursorPath synthesizes a human-plausible cursor trajectory from start
// to end over the given duration. Points are sampled at ~16 ms intervals
// along a cubic Bézier whose control points are displaced perpendicular
// to the straight line by N(0, 0.15·distance), with per-sample Gaussian
// jitter. Pacing follows accumulated path length, not straight-line
// distance, through an ease-in-out-cubic profile. Pure given rng.
func CursorPath(start, end Vector2D, duration time.Duration, rng *rand.Rand) []PathPoint {
	if duration <= 0 {
		duration = 300 * time.Millisecond
	}
	dist := start.Dist(end)
	if dist < 1.0 {
		return []PathPoint{{Pos: end, At: duration}}
	}

	dir := end.Sub(start).Normalize()
	perp := dir.Perp()

	// Control points a third and two thirds along the line, displaced
	// sideways by a distance-scaled normal draw.
	c1 := start.Add(dir.Mul(dist / 3.0)).Add(perp.Mul(rng.NormFloat64() * controlSigma * dist))
	c2 := start.Add(dir.Mul(dist * 2.0 / 3.0)).Add(perp.Mul(rng.NormFloat64() * controlSigma * dist))

	steps := int(duration / sampleInterval)
	if steps < 2 {
		steps = 2
	}

	// First pass: dense curve samples and cumulative arc length, so the
	// time profile can pace by distance actually travelled.
	curve := make([]Vector2D, steps+1)
	arc := make([]float64, steps+1)
	for i := 0; i <= steps; i++ {
		curve[i] = cubicBezier(start, c1, c2, end, float64(i)/float64(steps))
		if i > 0 {
			arc[i] = arc[i-1] + curve[i].Dist(curve[i-1])
		}
	}
	total := arc[steps]
	if total < 1e-9 {
		return []PathPoint{{Pos: end, At: duration}}
	}

	points := make([]PathPoint, 0, steps+1)
	for i := 0; i <= steps; i++ {
		// Eased fraction of total path length covered by this sample.
		frac := computeEaseInOutCubic(float64(i) / float64(steps))
		target := frac * total

		// Locate the curve sample at that arc position.
		idx := 0
		for idx < steps && arc[idx+1] < target {
			idx++
		}
		pos := curve[idx]

		jitter := Vector2D{
			X: rng.NormFloat64() * jitterSigma,
			Y: rng.NormFloat64() * jitterSigma,
		}
		points = append(points, PathPoint{
			Pos: pos.Add(jitter),
			At:  time.Duration(float64(i) / float64(steps) * float64(duration)),
		})
	}

	// The gesture always lands exactly on the target.
	points[len(points)-1] = PathPoint{Pos: end, At: duration}
	return points
}

// PathDuration derives a plausible gesture duration for a distance using
// Fitts's law with a fixed target width, plus a ±15% random factor.
func PathDuration(dist float64, rng *rand.Rand) time.Duration {
	const (
		targetWidth = 30.0
		fittsA      = 100.0
		fittsB      = 150.0
	)
	id := math.Log2(1.0 + dist/targetWidth)
	mt := fittsA + fittsB*id
	mt += mt * (rng.Float64()*0.3 - 0.15)
	return time.Duration(mt) * time.Millisecond
}
