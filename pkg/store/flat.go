package store

import (
	"context"
	"encoding/gob"
	"fmt"
	"os"
	"sort"

	"github.com/healai/heal/internal/models"
	"github.com/healai/heal/internal/types"
)

// indexFormatVersion is stamped into every saved artifact. Load rejects
// artifacts written by an incompatible format.
const indexFormatVersion = 1

// FlatIndex is an exact brute-force similarity index. It is built once,
// read-only afterwards, and safe for unlimited concurrent readers.
type FlatIndex struct {
	dim     int
	chunks  []models.Chunk
	vectors [][]float32
}

// flatArtifact is the on-disk layout of a saved index.
type flatArtifact struct {
	Version   int
	Dimension int
	Chunks    []models.Chunk
	Vectors   [][]float32
}

// BuildFlat pairs each chunk with its vector. Every vector must have the
// same dimension.
func BuildFlat(chunks []models.Chunk, vectors [][]float32) (*FlatIndex, error) {
	if len(chunks) != len(vectors) {
		return nil, fmt.Errorf("chunk/vector count mismatch: %d vs %d", len(chunks), len(vectors))
	}
	if len(chunks) == 0 {
		return nil, fmt.Errorf("%w: no chunks to index", types.ErrEmptyCorpus)
	}

	dim := len(vectors[0])
	for i, v := range vectors {
		if len(v) != dim {
			return nil, fmt.Errorf("%w: vector %d has %d dimensions, expected %d",
				types.ErrDimensionMismatch, i, len(v), dim)
		}
	}

	return &FlatIndex{
		dim:     dim,
		chunks:  chunks,
		vectors: vectors,
	}, nil
}

// Search returns the k chunks closest to the query vector, ascending by
// squared L2 distance. Ties keep insertion order so results are
// deterministic. Fewer than k results come back only when the index holds
// fewer than k chunks.
func (ix *FlatIndex) Search(ctx context.Context, vector []float32, k int) ([]models.ScoredChunk, error) {
	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}
	if len(vector) != ix.dim {
		return nil, fmt.Errorf("%w: query has %d dimensions, index has %d",
			types.ErrDimensionMismatch, len(vector), ix.dim)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	distances := make([]float64, len(ix.vectors))
	order := make([]int, len(ix.vectors))
	for i, v := range ix.vectors {
		distances[i] = sqDistance(v, vector)
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return distances[order[a]] < distances[order[b]]
	})

	if k > len(order) {
		k = len(order)
	}
	results := make([]models.ScoredChunk, 0, k)
	for _, idx := range order[:k] {
		results = append(results, models.ScoredChunk{
			Chunk:    ix.chunks[idx],
			Distance: distances[idx],
		})
	}
	return results, nil
}

func (ix *FlatIndex) Len() int {
	return len(ix.chunks)
}

func (ix *FlatIndex) Dimension() int {
	return ix.dim
}

func (ix *FlatIndex) Close() error {
	return nil
}

// Save writes the index to path as a versioned artifact that can be loaded
// without re-embedding the corpus.
func (ix *FlatIndex) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create index file: %w", err)
	}
	defer f.Close()

	art := flatArtifact{
		Version:   indexFormatVersion,
		Dimension: ix.dim,
		Chunks:    ix.chunks,
		Vectors:   ix.vectors,
	}
	if err := gob.NewEncoder(f).Encode(art); err != nil {
		return fmt.Errorf("failed to encode index: %w", err)
	}
	return nil
}

// LoadFlat reads a saved index. A missing path is ErrIndexNotFound and an
// unreadable or wrongly versioned artifact is ErrIndexCorrupt; a partially
// usable index is never returned. When expectDim is positive, an artifact
// embedded at a different dimension is rejected with ErrDimensionMismatch.
func LoadFlat(path string, expectDim int) (*FlatIndex, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", types.ErrIndexNotFound, path)
		}
		return nil, fmt.Errorf("failed to open index file: %w", err)
	}
	defer f.Close()

	var art flatArtifact
	if err := gob.NewDecoder(f).Decode(&art); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrIndexCorrupt, err)
	}
	if art.Version != indexFormatVersion {
		return nil, fmt.Errorf("%w: unsupported format version %d", types.ErrIndexCorrupt, art.Version)
	}
	if len(art.Chunks) != len(art.Vectors) || len(art.Chunks) == 0 {
		return nil, fmt.Errorf("%w: inconsistent artifact", types.ErrIndexCorrupt)
	}
	if expectDim > 0 && art.Dimension != expectDim {
		return nil, fmt.Errorf("%w: artifact embedded at %d dimensions, provider configured for %d",
			types.ErrDimensionMismatch, art.Dimension, expectDim)
	}

	return &FlatIndex{
		dim:     art.Dimension,
		chunks:  art.Chunks,
		vectors: art.Vectors,
	}, nil
}

func sqDistance(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return sum
}
