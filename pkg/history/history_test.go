package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skycam/skycover/pkg/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func sampleEntry(hash string) *Entry {
	return &Entry{
		AnalysisHash: hash,
		FileName:     "sky.jpg",
		MediaType:    types.MediaImage,
		ROIMethod:    types.ROIAutomatic,
		AnalyzedAt:   time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
		Result: types.AnalysisResult{
			Coverage:          62.5,
			Okta:              5,
			SkyCondition:      "Mostly Overcast",
			DominantCloudType: "Cumulus",
			Confidences:       map[string]float64{"Cumulus": 0.8, "Cirrus": 0.1},
			Predictions: []types.Prediction{
				{Label: "Cumulus", Confidence: 0.8},
				{Label: "Cirrus", Confidence: 0.1},
			},
			FrameCount: 1,
			Artifacts: types.ArtifactPaths{
				Original: "archives/abc/original.jpg",
				Mask:     "archives/abc/mask.png",
				Overlay:  "archives/abc/overlay.jpg",
			},
		},
	}
}

func TestInsertAndFind(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, sampleEntry("hash-1")))

	got, err := store.Find(ctx, "hash-1")
	require.NoError(t, err)

	assert.Equal(t, "sky.jpg", got.FileName)
	assert.Equal(t, types.MediaImage, got.MediaType)
	assert.InDelta(t, 62.5, got.Result.Coverage, 1e-9)
	assert.Equal(t, 5, got.Result.Okta)
	assert.Equal(t, "Cumulus", got.Result.DominantCloudType)
	assert.InDelta(t, 0.8, got.Result.Confidences["Cumulus"], 1e-9)
	assert.Equal(t, "archives/abc/overlay.jpg", got.Result.Artifacts.Overlay)
	assert.True(t, got.AnalyzedAt.Equal(time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)))
}

func TestPredictionsSurviveRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	stored := sampleEntry("hash-preds")
	require.NoError(t, store.Insert(ctx, stored))

	got, err := store.Find(ctx, "hash-preds")
	require.NoError(t, err)

	// the ordered top-k list comes back intact, not just the map
	require.Len(t, got.Result.Predictions, len(stored.Result.Predictions))
	assert.Equal(t, stored.Result.Predictions, got.Result.Predictions)
	assert.Equal(t, "Cumulus", got.Result.Predictions[0].Label)
	assert.InDelta(t, 0.8, got.Result.Predictions[0].Confidence, 1e-9)
}

func TestFindMiss(t *testing.T) {
	store := openTestStore(t)

	_, err := store.Find(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInsertDuplicateKeepsFirst(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	first := sampleEntry("hash-dup")
	require.NoError(t, store.Insert(ctx, first))

	second := sampleEntry("hash-dup")
	second.Result.Coverage = 99
	require.NoError(t, store.Insert(ctx, second))

	got, err := store.Find(ctx, "hash-dup")
	require.NoError(t, err)
	assert.InDelta(t, 62.5, got.Result.Coverage, 1e-9)

	entries, err := store.List(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestListNewestFirst(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	older := sampleEntry("hash-old")
	older.AnalyzedAt = time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	newer := sampleEntry("hash-new")
	newer.AnalyzedAt = time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.Insert(ctx, older))
	require.NoError(t, store.Insert(ctx, newer))

	entries, err := store.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "hash-new", entries[0].AnalysisHash)
	assert.Equal(t, "hash-old", entries[1].AnalysisHash)
}

func TestDeleteReturnsArtifactPaths(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, sampleEntry("hash-del")))
	entries, err := store.List(ctx, 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	paths, err := store.Delete(ctx, entries[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "archives/abc/mask.png", paths.Mask)

	_, err = store.Find(ctx, "hash-del")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.Delete(ctx, entries[0].ID)
	assert.ErrorIs(t, err, ErrNotFound)
}
