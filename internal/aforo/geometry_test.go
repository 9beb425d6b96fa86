package aforo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPolygonContains(t *testing.T) {
	t.Parallel()

	square := []Point{{X: 0, Y: 0}, {X: 100, Y: 0}, {X: 100, Y: 100}, {X: 0, Y: 100}}

	t.Run("inside", func(t *testing.T) {
		t.Parallel()
		assert.True(t, PolygonContains(square, Point{X: 50, Y: 50}))
		assert.True(t, PolygonContains(square, Point{X: 1, Y: 99}))
	})

	t.Run("outside", func(t *testing.T) {
		t.Parallel()
		assert.False(t, PolygonContains(square, Point{X: 150, Y: 50}))
		assert.False(t, PolygonContains(square, Point{X: -1, Y: 50}))
		assert.False(t, PolygonContains(square, Point{X: 50, Y: 101}))
	})

	t.Run("concave polygon", func(t *testing.T) {
		t.Parallel()
		// L-shape: the notch at top-right is outside.
		ell := []Point{
			{X: 0, Y: 0}, {X: 50, Y: 0}, {X: 50, Y: 50},
			{X: 100, Y: 50}, {X: 100, Y: 100}, {X: 0, Y: 100},
		}
		assert.True(t, PolygonContains(ell, Point{X: 25, Y: 25}))
		assert.True(t, PolygonContains(ell, Point{X: 75, Y: 75}))
		assert.False(t, PolygonContains(ell, Point{X: 75, Y: 25}))
	})

	t.Run("degenerate", func(t *testing.T) {
		t.Parallel()
		assert.False(t, PolygonContains(nil, Point{X: 0, Y: 0}))
		assert.False(t, PolygonContains([]Point{{X: 0, Y: 0}, {X: 1, Y: 1}}, Point{X: 0, Y: 0}))
	})
}

func TestPolygonCentroid(t *testing.T) {
	t.Parallel()

	square := []Point{{X: 0, Y: 0}, {X: 100, Y: 0}, {X: 100, Y: 100}, {X: 0, Y: 100}}
	c := PolygonCentroid(square)
	assert.InDelta(t, 50.0, c.X, 1e-9)
	assert.InDelta(t, 50.0, c.Y, 1e-9)

	assert.Equal(t, Point{}, PolygonCentroid(nil))
}

func TestPolygonNearRadius(t *testing.T) {
	t.Parallel()

	// Unit square centered at (0.5, 0.5): corner distance is sqrt(0.5).
	square := []Point{{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 1, Y: 1}, {X: 0, Y: 1}}
	assert.InDelta(t, 0.7071*1.8, PolygonNearRadius(square), 1e-3)
}

func TestNearPolygon(t *testing.T) {
	t.Parallel()

	square := []Point{{X: 0, Y: 0}, {X: 100, Y: 0}, {X: 100, Y: 100}, {X: 0, Y: 100}}
	assert.True(t, NearPolygon(square, Point{X: 50, Y: 50}))
	// Centroid distance 75 < sqrt(5000)*1.8 ≈ 127.
	assert.True(t, NearPolygon(square, Point{X: 50, Y: 125}))
	assert.False(t, NearPolygon(square, Point{X: 50, Y: 300}))
}

func TestSegmentDistanceTo(t *testing.T) {
	t.Parallel()

	seg := Segment{A: Point{X: 0, Y: 0}, B: Point{X: 10, Y: 0}}

	t.Run("projects onto segment", func(t *testing.T) {
		t.Parallel()
		assert.InDelta(t, 5.0, seg.DistanceTo(Point{X: 5, Y: 5}), 1e-9)
	})

	t.Run("clamps before start", func(t *testing.T) {
		t.Parallel()
		assert.InDelta(t, 5.0, seg.DistanceTo(Point{X: -3, Y: 4}), 1e-9)
	})

	t.Run("clamps past end", func(t *testing.T) {
		t.Parallel()
		assert.InDelta(t, 5.0, seg.DistanceTo(Point{X: 13, Y: 4}), 1e-9)
	})

	t.Run("zero length segment", func(t *testing.T) {
		t.Parallel()
		point := Segment{A: Point{X: 2, Y: 2}, B: Point{X: 2, Y: 2}}
		assert.InDelta(t, 5.0, point.DistanceTo(Point{X: 5, Y: 6}), 1e-9)
	})
}

func TestNearGate(t *testing.T) {
	t.Parallel()

	gate := Segment{A: Point{X: 0, Y: 0}, B: Point{X: 100, Y: 0}}
	assert.True(t, NearGate(gate, Point{X: 50, Y: 49}))
	assert.False(t, NearGate(gate, Point{X: 50, Y: 50}))
	assert.False(t, NearGate(gate, Point{X: 50, Y: 80}))
}

func TestPathMetrics(t *testing.T) {
	t.Parallel()

	t.Run("straight path", func(t *testing.T) {
		t.Parallel()
		pts := []TrackPoint{
			{Frame: 0, X: 0, Y: 0},
			{Frame: 1, X: 10, Y: 0},
			{Frame: 2, X: 20, Y: 0},
		}
		assert.InDelta(t, 20.0, PathLength(pts), 1e-9)
		assert.InDelta(t, 20.0, NetDisplacement(pts), 1e-9)
		assert.Equal(t, 0, DirectionChanges(pts, 1.0))
	})

	t.Run("out and back", func(t *testing.T) {
		t.Parallel()
		pts := []TrackPoint{
			{Frame: 0, X: 0, Y: 0},
			{Frame: 1, X: 10, Y: 0},
			{Frame: 2, X: 0, Y: 0},
		}
		assert.InDelta(t, 20.0, PathLength(pts), 1e-9)
		assert.InDelta(t, 0.0, NetDisplacement(pts), 1e-9)
		// Full reversal is a pi-radian turn.
		assert.Equal(t, 1, DirectionChanges(pts, 1.0))
	})

	t.Run("right angle turn", func(t *testing.T) {
		t.Parallel()
		pts := []TrackPoint{
			{Frame: 0, X: 0, Y: 0},
			{Frame: 1, X: 10, Y: 0},
			{Frame: 2, X: 10, Y: 10},
		}
		// A 90 degree turn exceeds 1 rad but not 2 rad.
		assert.Equal(t, 1, DirectionChanges(pts, 1.0))
		assert.Equal(t, 0, DirectionChanges(pts, 2.0))
	})

	t.Run("stationary points are skipped", func(t *testing.T) {
		t.Parallel()
		pts := []TrackPoint{
			{Frame: 0, X: 0, Y: 0},
			{Frame: 1, X: 10, Y: 0},
			{Frame: 2, X: 10, Y: 0},
			{Frame: 3, X: 20, Y: 0},
		}
		assert.Equal(t, 0, DirectionChanges(pts, 1.0))
	})

	t.Run("short inputs", func(t *testing.T) {
		t.Parallel()
		assert.Zero(t, PathLength(nil))
		assert.Zero(t, NetDisplacement([]TrackPoint{{X: 5, Y: 5}}))
		assert.Zero(t, DirectionChanges(nil, 1.0))
	})
}
