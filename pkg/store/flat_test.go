package store_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/healai/heal/internal/models"
	"github.com/healai/heal/internal/types"
	"github.com/healai/heal/pkg/store"
)

func testChunks() ([]models.Chunk, [][]float32) {
	chunks := []models.Chunk{
		{DocID: "a", Index: 0, Source: "corpus/a.txt", Text: "first"},
		{DocID: "a", Index: 1, Source: "corpus/a.txt", Text: "second"},
		{DocID: "b", Index: 0, Source: "corpus/b.txt", Text: "third"},
	}
	vectors := [][]float32{
		{1, 0, 0},
		{0, 1, 0},
		{0, 0, 1},
	}
	return chunks, vectors
}

func TestBuildFlatDimensionMismatch(t *testing.T) {
	chunks, vectors := testChunks()
	vectors[2] = []float32{0, 1} // wrong dimension

	_, err := store.BuildFlat(chunks, vectors)
	assert.ErrorIs(t, err, types.ErrDimensionMismatch)
}

func TestBuildFlatEmpty(t *testing.T) {
	_, err := store.BuildFlat(nil, nil)
	assert.ErrorIs(t, err, types.ErrEmptyCorpus)
}

func TestSearchOrdering(t *testing.T) {
	chunks, vectors := testChunks()
	ix, err := store.BuildFlat(chunks, vectors)
	require.NoError(t, err)

	results, err := ix.Search(context.Background(), []float32{0.9, 0.1, 0}, 3)
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, "first", results[0].Chunk.Text)
	for i := 0; i < len(results)-1; i++ {
		assert.LessOrEqual(t, results[i].Distance, results[i+1].Distance)
	}
}

func TestSearchStableTieBreak(t *testing.T) {
	chunks := []models.Chunk{
		{DocID: "a", Text: "inserted first"},
		{DocID: "b", Text: "inserted second"},
	}
	// Equidistant from any query on the axis between them.
	vectors := [][]float32{
		{1, 0},
		{-1, 0},
	}
	ix, err := store.BuildFlat(chunks, vectors)
	require.NoError(t, err)

	results, err := ix.Search(context.Background(), []float32{0, 1}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "inserted first", results[0].Chunk.Text)
	assert.Equal(t, "inserted second", results[1].Chunk.Text)
}

func TestSearchKLargerThanIndex(t *testing.T) {
	chunks, vectors := testChunks()
	ix, err := store.BuildFlat(chunks, vectors)
	require.NoError(t, err)

	results, err := ix.Search(context.Background(), []float32{1, 1, 1}, 10)
	require.NoError(t, err)
	assert.Len(t, results, ix.Len())
}

func TestSearchInvalidInputs(t *testing.T) {
	chunks, vectors := testChunks()
	ix, err := store.BuildFlat(chunks, vectors)
	require.NoError(t, err)

	_, err = ix.Search(context.Background(), []float32{1, 0, 0}, 0)
	assert.Error(t, err)

	_, err = ix.Search(context.Background(), []float32{1, 0}, 1)
	assert.ErrorIs(t, err, types.ErrDimensionMismatch)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	chunks, vectors := testChunks()
	ix, err := store.BuildFlat(chunks, vectors)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "knowledge.idx")
	require.NoError(t, ix.Save(path))

	loaded, err := store.LoadFlat(path, 3)
	require.NoError(t, err)
	assert.Equal(t, ix.Len(), loaded.Len())
	assert.Equal(t, ix.Dimension(), loaded.Dimension())

	query := []float32{0.2, 0.9, 0.1}
	before, err := ix.Search(context.Background(), query, 3)
	require.NoError(t, err)
	after, err := loaded.Search(context.Background(), query, 3)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestLoadMissingIndex(t *testing.T) {
	_, err := store.LoadFlat(filepath.Join(t.TempDir(), "nope.idx"), 3)
	assert.ErrorIs(t, err, types.ErrIndexNotFound)
}

func TestLoadCorruptIndex(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.idx")
	require.NoError(t, os.WriteFile(path, []byte("not a gob artifact"), 0644))

	_, err := store.LoadFlat(path, 3)
	assert.ErrorIs(t, err, types.ErrIndexCorrupt)
}

func TestLoadDimensionStampMismatch(t *testing.T) {
	chunks, vectors := testChunks()
	ix, err := store.BuildFlat(chunks, vectors)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "knowledge.idx")
	require.NoError(t, ix.Save(path))

	_, err = store.LoadFlat(path, 768)
	assert.ErrorIs(t, err, types.ErrDimensionMismatch)
}
