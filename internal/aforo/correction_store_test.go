package aforo

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCorrectionUpsertGetRoundTrip(t *testing.T) {
	t.Parallel()

	db := setupStoreTestDB(t)
	store := NewCorrectionStore(db)
	id := mustInsertDataset(t, db, "corrected")

	want := TrajectoryCorrection{
		TrackID:      "t7",
		NewOrigin:    cardPtr(CardinalO),
		NewClass:     strPtr("bus"),
		HideInReport: true,
	}
	require.NoError(t, store.Upsert(id, want))

	got, err := store.Get(id, "t7")
	require.NoError(t, err)
	require.NotNil(t, got)
	if diff := cmp.Diff(&want, got); diff != "" {
		t.Errorf("correction mismatch (-want +got):\n%s", diff)
	}
	// NULL columns come back as nil pointers, not empty values.
	assert.Nil(t, got.NewDest)
}

func TestCorrectionGetMissing(t *testing.T) {
	t.Parallel()

	db := setupStoreTestDB(t)
	id := mustInsertDataset(t, db, "untouched")

	got, err := NewCorrectionStore(db).Get(id, "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestCorrectionUpsertReplaces(t *testing.T) {
	t.Parallel()

	db := setupStoreTestDB(t)
	store := NewCorrectionStore(db)
	id := mustInsertDataset(t, db, "revised")

	require.NoError(t, store.Upsert(id, TrajectoryCorrection{
		TrackID: "t1",
		NewDest: cardPtr(CardinalE),
		Discard: true,
	}))
	require.NoError(t, store.Upsert(id, TrajectoryCorrection{
		TrackID:  "t1",
		NewClass: strPtr("truck"),
	}))

	got, err := store.Get(id, "t1")
	require.NoError(t, err)
	require.NotNil(t, got)
	// The row is replaced wholesale; merging happens upstream.
	assert.Nil(t, got.NewDest)
	assert.False(t, got.Discard)
	require.NotNil(t, got.NewClass)
	assert.Equal(t, "truck", *got.NewClass)
}

func TestCorrectionListAndLoadAll(t *testing.T) {
	t.Parallel()

	db := setupStoreTestDB(t)
	store := NewCorrectionStore(db)
	id := mustInsertDataset(t, db, "bulk")
	other := mustInsertDataset(t, db, "other")

	require.NoError(t, store.Upsert(id, TrajectoryCorrection{TrackID: "t2", Discard: true}))
	require.NoError(t, store.Upsert(id, TrajectoryCorrection{TrackID: "t1", NewDest: cardPtr(CardinalS)}))
	require.NoError(t, store.Upsert(other, TrajectoryCorrection{TrackID: "t9", Discard: true}))

	list, err := store.List(id)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "t1", list[0].TrackID)
	assert.Equal(t, "t2", list[1].TrackID)

	all, err := store.LoadAll(id)
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.NotNil(t, all["t1"].NewDest)
	assert.Equal(t, CardinalS, *all["t1"].NewDest)
	assert.True(t, all["t2"].Discard)
}
