package aforo

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReplaceDetections(t *testing.T) {
	t.Parallel()

	db := setupStoreTestDB(t)
	store := NewDetectionStore(db)
	id := mustInsertDataset(t, db, "detections")

	require.NoError(t, store.ReplaceDetections(id, []Detection{
		{Frame: 0, TrackHint: -1, X: 10, Y: 20, Class: "car", Confidence: 0.9},
		{Frame: 1, TrackHint: -1, X: 11, Y: 21, Class: "car", Confidence: 0.8},
		{Frame: 5, TrackHint: -1, X: 15, Y: 25, Class: "bus", Confidence: 0.7},
	}))
	n, err := store.CountDetections(id)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	max, err := store.MaxFrame(id)
	require.NoError(t, err)
	assert.Equal(t, 5, max)

	// Replacement is wholesale.
	require.NoError(t, store.ReplaceDetections(id, []Detection{
		{Frame: 2, TrackHint: -1, X: 1, Y: 1, Class: "car", Confidence: 0.5},
	}))
	n, err = store.CountDetections(id)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	max, err = store.MaxFrame(id)
	require.NoError(t, err)
	assert.Equal(t, 2, max)
}

func TestDetectionsEmptyDataset(t *testing.T) {
	t.Parallel()

	db := setupStoreTestDB(t)
	store := NewDetectionStore(db)
	id := mustInsertDataset(t, db, "empty")

	n, err := store.CountDetections(id)
	require.NoError(t, err)
	assert.Zero(t, n)

	max, err := store.MaxFrame(id)
	require.NoError(t, err)
	assert.Equal(t, -1, max)

	called := false
	require.NoError(t, store.ForEachFrame(id, func(int, []Detection) error {
		called = true
		return nil
	}))
	assert.False(t, called)
}

func TestReplaceDetectionsCollapsesHints(t *testing.T) {
	t.Parallel()

	db := setupStoreTestDB(t)
	store := NewDetectionStore(db)
	id := mustInsertDataset(t, db, "hinted")

	// Two rows with the same upstream hint on one frame collapse; the
	// unhinted pair does not.
	require.NoError(t, store.ReplaceDetections(id, []Detection{
		{Frame: 0, TrackHint: 7, X: 1, Y: 1, Class: "car", Confidence: 0.9},
		{Frame: 0, TrackHint: 7, X: 2, Y: 2, Class: "car", Confidence: 0.8},
		{Frame: 0, TrackHint: -1, X: 3, Y: 3, Class: "car", Confidence: 0.7},
		{Frame: 0, TrackHint: -1, X: 4, Y: 4, Class: "car", Confidence: 0.6},
	}))

	n, err := store.CountDetections(id)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestForEachFrame(t *testing.T) {
	t.Parallel()

	db := setupStoreTestDB(t)
	store := NewDetectionStore(db)
	id := mustInsertDataset(t, db, "frames")

	// Inserted out of frame order; the scan regroups ascending.
	require.NoError(t, store.ReplaceDetections(id, []Detection{
		{Frame: 9, TrackHint: -1, X: 9, Y: 0, Class: "car", Confidence: 0.9},
		{Frame: 2, TrackHint: -1, X: 2, Y: 0, Class: "car", Confidence: 0.9},
		{Frame: 2, TrackHint: -1, X: 2.5, Y: 0, Class: "bus", Confidence: 0.9},
		{Frame: 4, TrackHint: -1, X: 4, Y: 0, Class: "car", Confidence: 0.9},
	}))

	var frames []int
	var sizes []int
	require.NoError(t, store.ForEachFrame(id, func(frame int, dets []Detection) error {
		frames = append(frames, frame)
		sizes = append(sizes, len(dets))
		return nil
	}))
	assert.Equal(t, []int{2, 4, 9}, frames)
	assert.Equal(t, []int{2, 1, 1}, sizes)
}

func TestForEachFrameStopsOnError(t *testing.T) {
	t.Parallel()

	db := setupStoreTestDB(t)
	store := NewDetectionStore(db)
	id := mustInsertDataset(t, db, "abort")

	require.NoError(t, store.ReplaceDetections(id, []Detection{
		{Frame: 0, TrackHint: -1, X: 0, Y: 0, Class: "car", Confidence: 0.9},
		{Frame: 1, TrackHint: -1, X: 1, Y: 0, Class: "car", Confidence: 0.9},
		{Frame: 2, TrackHint: -1, X: 2, Y: 0, Class: "car", Confidence: 0.9},
	}))

	boom := errors.New("boom")
	var seen int
	err := store.ForEachFrame(id, func(frame int, dets []Detection) error {
		seen++
		if frame >= 1 {
			return boom
		}
		return nil
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 2, seen)
}
