package aforo

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// straightAccesses is a two-access north/south corridor with small
// polygon zones at each end.
func straightAccesses() []AccessPoint {
	return []AccessPoint{
		{
			ID: "north", Cardinal: CardinalN, X: 100, Y: 0,
			Polygon: []Point{{X: 90, Y: 0}, {X: 110, Y: 0}, {X: 110, Y: 10}, {X: 90, Y: 10}},
		},
		{
			ID: "south", Cardinal: CardinalS, X: 100, Y: 200,
			Polygon: []Point{{X: 90, Y: 190}, {X: 110, Y: 190}, {X: 110, Y: 200}, {X: 90, Y: 200}},
		},
	}
}

func straightSet() *AccessSet {
	return NewAccessSet(straightAccesses())
}

func trackAt(id string, start int, pts ...Point) Track {
	points := make([]TrackPoint, len(pts))
	for i, p := range pts {
		points[i] = TrackPoint{Frame: start + i, X: p.X, Y: p.Y, Confidence: 0.9}
	}
	return Track{ID: id, Class: "car", Points: points}
}

func TestSegmentTrackStraight(t *testing.T) {
	t.Parallel()

	pts := make([]Point, 11)
	for i := range pts {
		pts[i] = Point{X: 100, Y: 5 + 19*float64(i)}
	}
	tr := trackAt("t1", 0, pts...)

	origin, dest, entryFrame, exitFrame, err := SegmentTrack(tr, straightSet())
	require.NoError(t, err)
	assert.Equal(t, "north", origin.ID)
	assert.Equal(t, "south", dest.ID)
	assert.Equal(t, CardinalN, origin.Cardinal)
	assert.Equal(t, CardinalS, dest.Cardinal)
	assert.Equal(t, 0, entryFrame)
	assert.Equal(t, 10, exitFrame)
}

func TestSegmentTrackUTurn(t *testing.T) {
	t.Parallel()

	// Out of the north zone and back; every sample stays closest to
	// north so no exit is found and the whole span becomes a U-turn.
	ys := []float64{5, 25, 45, 65, 85, 65, 45, 25, 5}
	pts := make([]Point, len(ys))
	for i, y := range ys {
		pts[i] = Point{X: 100, Y: y}
	}
	tr := trackAt("t2", 0, pts...)

	origin, dest, entryFrame, exitFrame, err := SegmentTrack(tr, straightSet())
	require.NoError(t, err)
	assert.Equal(t, "north", origin.ID)
	assert.Equal(t, "north", dest.ID)
	assert.Equal(t, 0, entryFrame)
	assert.Equal(t, 8, exitFrame)
}

func TestSegmentTrackEndpointsAnchor(t *testing.T) {
	t.Parallel()

	// The final sample still classifies to alpha via polygon proximity,
	// but its nearest centroid is beta. The endpoints disagree, so the
	// movement is anchored to the full track instead of stopping at the
	// mid-track beta sample.
	set := NewAccessSet([]AccessPoint{
		{
			ID: "alpha", Cardinal: CardinalN, X: 10, Y: 10,
			Polygon: []Point{{X: 0, Y: 0}, {X: 20, Y: 0}, {X: 20, Y: 20}, {X: 0, Y: 20}},
		},
		{ID: "beta", Cardinal: CardinalS, X: 40, Y: 10},
	})
	tr := trackAt("t3", 0,
		Point{X: 10, Y: 10},
		Point{X: 60, Y: 10},
		Point{X: 32, Y: 10},
	)

	origin, dest, entryFrame, exitFrame, err := SegmentTrack(tr, set)
	require.NoError(t, err)
	assert.Equal(t, "alpha", origin.ID)
	assert.Equal(t, "beta", dest.ID)
	assert.Equal(t, 0, entryFrame)
	assert.Equal(t, 2, exitFrame)
}

func TestSegmentTrackDegenerate(t *testing.T) {
	t.Parallel()

	set := straightSet()

	t.Run("single point", func(t *testing.T) {
		t.Parallel()
		tr := trackAt("d1", 0, Point{X: 100, Y: 5})
		_, _, _, _, err := SegmentTrack(tr, set)
		assert.ErrorIs(t, err, ErrDegenerateTrack)
	})

	t.Run("empty access set", func(t *testing.T) {
		t.Parallel()
		tr := trackAt("d2", 0, Point{X: 100, Y: 5}, Point{X: 100, Y: 195})
		_, _, _, _, err := SegmentTrack(tr, NewAccessSet(nil))
		assert.ErrorIs(t, err, ErrDegenerateTrack)
	})

	t.Run("no frame span", func(t *testing.T) {
		t.Parallel()
		tr := Track{ID: "d3", Class: "car", Points: []TrackPoint{
			{Frame: 5, X: 100, Y: 5},
			{Frame: 5, X: 100, Y: 195},
		}}
		_, _, _, _, err := SegmentTrack(tr, set)
		assert.ErrorIs(t, err, ErrDegenerateTrack)
	})
}

func TestWindowPositions(t *testing.T) {
	t.Parallel()

	pts := make([]Point, 11)
	for i := range pts {
		pts[i] = Point{X: float64(i), Y: 0}
	}
	tr := trackAt("w1", 10, pts...)

	t.Run("sub window", func(t *testing.T) {
		t.Parallel()
		got := WindowPositions(tr, 12, 15)
		require.Len(t, got, 4)
		if diff := cmp.Diff(tr.Points[2:6], got); diff != "" {
			t.Errorf("window mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("full window", func(t *testing.T) {
		t.Parallel()
		got := WindowPositions(tr, 10, 20)
		assert.Len(t, got, 11)
	})

	t.Run("window is a copy", func(t *testing.T) {
		t.Parallel()
		got := WindowPositions(tr, 10, 20)
		require.NotEmpty(t, got)
		got[0].X = -1
		assert.Equal(t, 0.0, tr.Points[0].X)
	})

	t.Run("out of range", func(t *testing.T) {
		t.Parallel()
		assert.Nil(t, WindowPositions(tr, 5, 15))
		assert.Nil(t, WindowPositions(tr, 12, 25))
		assert.Nil(t, WindowPositions(tr, 15, 12))
		assert.Nil(t, WindowPositions(Track{ID: "empty"}, 0, 0))
	})
}

func TestMeanConfidence(t *testing.T) {
	t.Parallel()

	pts := []TrackPoint{
		{Frame: 0, Confidence: 0.8},
		{Frame: 1, Confidence: 0, Interpolated: true},
		{Frame: 2, Confidence: 0.6},
	}
	assert.InDelta(t, 0.7, MeanConfidence(pts), 1e-9)

	interp := []TrackPoint{
		{Frame: 0, Confidence: 0, Interpolated: true},
		{Frame: 1, Confidence: 0, Interpolated: true},
	}
	assert.Zero(t, MeanConfidence(interp))
	assert.Zero(t, MeanConfidence(nil))
}
