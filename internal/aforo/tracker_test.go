package aforo

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func det(x, y float64, class string) Detection {
	return Detection{X: x, Y: y, W: 20, H: 40, Class: class, Confidence: 0.9}
}

func TestTrackerFollowsSingleObject(t *testing.T) {
	t.Parallel()

	tr := NewTracker()
	tr.MinHitsVehicle = 3

	var done []Track
	for f := 0; f < 10; f++ {
		done = append(done, tr.Step(f, []Detection{det(100+10*float64(f), 200, "car")})...)
	}
	require.Empty(t, done, "track must stay live while detections continue")

	done = tr.Flush()
	require.Len(t, done, 1)

	track := done[0]
	assert.Equal(t, "car", track.Class)
	assert.Equal(t, 10, track.Hits)
	require.Len(t, track.Points, 10)
	assert.InDelta(t, 100.0, track.Points[0].X, 1e-9)
	assert.InDelta(t, 190.0, track.Points[9].X, 1e-9)
	assert.Equal(t, 9, track.LastUpdateFrame)
}

func TestTrackerKeepsParallelLanesApart(t *testing.T) {
	t.Parallel()

	tr := NewTracker()
	tr.MinHitsVehicle = 3

	for f := 0; f < 8; f++ {
		y := 5 * float64(f)
		tr.Step(f, []Detection{
			det(100, 100+y, "car"),
			det(400, 100+y, "truck"),
		})
	}
	done := tr.Flush()
	require.Len(t, done, 2)

	byClass := map[string]Track{}
	for _, track := range done {
		byClass[track.Class] = track
	}
	require.Contains(t, byClass, "car")
	require.Contains(t, byClass, "truck")
	assert.InDelta(t, 100.0, byClass["car"].Points[0].X, 1e-9)
	assert.InDelta(t, 400.0, byClass["truck"].Points[0].X, 1e-9)
	for _, p := range byClass["car"].Points {
		assert.InDelta(t, 100.0, p.X, 5.0)
	}
}

func TestTrackerMinHitsByClass(t *testing.T) {
	t.Parallel()

	t.Run("short vehicle track is dropped", func(t *testing.T) {
		t.Parallel()
		tr := NewTracker()
		for f := 0; f < 5; f++ {
			tr.Step(f, []Detection{det(100, 100, "car")})
		}
		assert.Empty(t, tr.Flush(), "5 hits is under the vehicle floor of 8")
	})

	t.Run("same length pedestrian track survives", func(t *testing.T) {
		t.Parallel()
		tr := NewTracker()
		for f := 0; f < 5; f++ {
			tr.Step(f, []Detection{det(100, 100, "person")})
		}
		done := tr.Flush()
		require.Len(t, done, 1)
		assert.Equal(t, "pedestrian", done[0].Class)
	})
}

func TestTrackerInterpolatesGaps(t *testing.T) {
	t.Parallel()

	tr := NewTracker()
	tr.MinHitsVehicle = 2

	// Boxes wide enough to keep the 30 px jump above the IoU threshold.
	wide := func(x float64) Detection {
		return Detection{X: x, Y: 100, W: 60, H: 40, Class: "car", Confidence: 0.9}
	}
	tr.Step(0, []Detection{wide(100)})
	tr.Step(1, nil)
	tr.Step(2, nil)
	tr.Step(3, []Detection{wide(130)})

	done := tr.Flush()
	require.Len(t, done, 1)

	want := []TrackPoint{
		{Frame: 0, X: 100, Y: 100, Confidence: 0.9},
		{Frame: 1, X: 110, Y: 100, Interpolated: true},
		{Frame: 2, X: 120, Y: 100, Interpolated: true},
		{Frame: 3, X: 130, Y: 100, Confidence: 0.9},
	}
	if diff := cmp.Diff(want, done[0].Points); diff != "" {
		t.Errorf("points mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 2, done[0].Hits, "interpolated points are not hits")
}

func TestTrackerAgesOutAndFinalizes(t *testing.T) {
	t.Parallel()

	tr := NewTracker()
	tr.MinHitsVehicle = 3
	tr.MaxAgeFrames = 2

	for f := 0; f < 4; f++ {
		tr.Step(f, []Detection{det(100+10*float64(f), 100, "car")})
	}
	// Silence past the age limit retires the hypothesis mid-stream.
	var done []Track
	for f := 4; f < 8 && len(done) == 0; f++ {
		done = tr.Step(f, nil)
	}
	require.Len(t, done, 1)
	assert.Equal(t, 3, done[0].LastUpdateFrame)
	assert.Len(t, done[0].Points, 4, "coasted frames must not append points")
	assert.Empty(t, tr.Flush())
}

func TestTrackerClassVoting(t *testing.T) {
	t.Parallel()

	t.Run("majority wins", func(t *testing.T) {
		t.Parallel()
		tr := NewTracker()
		tr.MinHitsVehicle = 3
		tr.Step(0, []Detection{det(100, 100, "truck")})
		tr.Step(1, []Detection{det(100, 100, "car")})
		tr.Step(2, []Detection{det(100, 100, "car")})
		done := tr.Flush()
		require.Len(t, done, 1)
		assert.Equal(t, "car", done[0].Class)
	})

	t.Run("tie goes to most recent", func(t *testing.T) {
		t.Parallel()
		tr := NewTracker()
		tr.MinHitsVehicle = 4
		tr.Step(0, []Detection{det(100, 100, "car")})
		tr.Step(1, []Detection{det(100, 100, "car")})
		tr.Step(2, []Detection{det(100, 100, "truck")})
		tr.Step(3, []Detection{det(100, 100, "truck")})
		done := tr.Flush()
		require.Len(t, done, 1)
		assert.Equal(t, "truck", done[0].Class)
	})

	t.Run("truck subtypes fold together", func(t *testing.T) {
		t.Parallel()
		tr := NewTracker()
		tr.MinHitsVehicle = 3
		tr.Step(0, []Detection{det(100, 100, "truck_small")})
		tr.Step(1, []Detection{det(100, 100, "truck_large")})
		tr.Step(2, []Detection{det(100, 100, "car")})
		done := tr.Flush()
		require.Len(t, done, 1)
		assert.Equal(t, "truck", done[0].Class)
	})
}

func TestTrackerIgnoresNonMonotonicFrames(t *testing.T) {
	t.Parallel()

	tr := NewTracker()
	tr.MinHitsVehicle = 2

	tr.Step(5, []Detection{det(100, 100, "car")})
	assert.Nil(t, tr.Step(5, []Detection{det(300, 300, "car")}))
	assert.Nil(t, tr.Step(3, []Detection{det(300, 300, "car")}))
	tr.Step(6, []Detection{det(100, 100, "car")})

	done := tr.Flush()
	require.Len(t, done, 1)
	assert.Equal(t, 2, done[0].Hits)
}

func TestTrackerSeparatesSequentialObjects(t *testing.T) {
	t.Parallel()

	// Two objects pass the same spot with a long quiet gap; the second
	// must get a fresh track, not extend the first.
	tr := NewTracker()
	tr.MinHitsVehicle = 3
	tr.MaxAgeFrames = 5

	for f := 0; f < 6; f++ {
		tr.Step(f, []Detection{det(100, 100+10*float64(f), "car")})
	}
	var done []Track
	for f := 6; f < 30; f++ {
		done = append(done, tr.Step(f, nil)...)
	}
	require.Len(t, done, 1, "first track should age out during the gap")

	for f := 30; f < 36; f++ {
		tr.Step(f, []Detection{det(100, 100+10*float64(f-30), "car")})
	}
	second := tr.Flush()
	require.Len(t, second, 1)
	assert.NotEqual(t, done[0].ID, second[0].ID)
	assert.Equal(t, 30, second[0].FirstFrame())
}
