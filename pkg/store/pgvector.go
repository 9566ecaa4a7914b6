package store

import (
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/healai/heal/internal/models"
	"github.com/healai/heal/internal/types"
)

type PGIndexConfig struct {
	ConnString string
	TableName  string
	VectorDim  int
	BatchSize  int
}

// PGIndex is a similarity index backed by Postgres with the pgvector
// extension. Persistence is the database itself; unlike the flat backend
// there is no file artifact to save or load.
type PGIndex struct {
	config PGIndexConfig
	pool   *pgxpool.Pool
	size   int
}

func NewPGIndex(ctx context.Context, config PGIndexConfig) (*PGIndex, error) {
	if config.TableName == "" {
		config.TableName = "knowledge_chunks"
	}
	if config.VectorDim == 0 {
		config.VectorDim = 768
	}
	if config.BatchSize == 0 {
		config.BatchSize = 100
	}

	pool, err := pgxpool.New(ctx, config.ConnString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %v", err)
	}

	ix := &PGIndex{
		config: config,
		pool:   pool,
	}

	if err := ix.initialize(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return ix, nil
}

func (ix *PGIndex) initialize(ctx context.Context) error {
	// Enable pgvector extension
	_, err := ix.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector")
	if err != nil {
		return fmt.Errorf("failed to create vector extension: %v", err)
	}

	// The ord column preserves insertion order so that distance ties break
	// the same way on every search.
	createTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			ord BIGSERIAL PRIMARY KEY,
			doc_id TEXT,
			chunk_index INTEGER,
			source TEXT,
			url TEXT,
			title TEXT,
			content TEXT,
			embedding vector(%d)
		)`, ix.config.TableName, ix.config.VectorDim)

	_, err = ix.pool.Exec(ctx, createTable)
	if err != nil {
		return fmt.Errorf("failed to create table: %v", err)
	}

	createIndex := fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS %s_embedding_idx
		ON %s
		USING ivfflat (embedding vector_cosine_ops)
		WITH (lists = 100)`,
		ix.config.TableName, ix.config.TableName)

	_, err = ix.pool.Exec(ctx, createIndex)
	if err != nil {
		return fmt.Errorf("failed to create index: %v", err)
	}

	row := ix.pool.QueryRow(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", ix.config.TableName))
	if err := row.Scan(&ix.size); err != nil {
		return fmt.Errorf("failed to count chunks: %v", err)
	}

	return nil
}

// Clear drops all indexed chunks. Rebuild is the only supported update path,
// so the builder clears the table before storing a fresh corpus.
func (ix *PGIndex) Clear(ctx context.Context) error {
	_, err := ix.pool.Exec(ctx, fmt.Sprintf("TRUNCATE %s RESTART IDENTITY", ix.config.TableName))
	if err != nil {
		return fmt.Errorf("failed to clear index: %v", err)
	}
	ix.size = 0
	return nil
}

// Store inserts chunk/vector pairs in one transaction.
func (ix *PGIndex) Store(ctx context.Context, chunks []models.Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return fmt.Errorf("chunk/vector count mismatch: %d vs %d", len(chunks), len(vectors))
	}
	for i, v := range vectors {
		if len(v) != ix.config.VectorDim {
			return fmt.Errorf("%w: vector %d has %d dimensions, expected %d",
				types.ErrDimensionMismatch, i, len(v), ix.config.VectorDim)
		}
	}

	tx, err := ix.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %v", err)
	}
	defer tx.Rollback(ctx)

	stmt := fmt.Sprintf(`
		INSERT INTO %s (doc_id, chunk_index, source, url, title, content, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		ix.config.TableName)

	for i, chunk := range chunks {
		_, err = tx.Exec(ctx, stmt,
			chunk.DocID,
			chunk.Index,
			chunk.Source,
			chunk.URL,
			sanitizeUTF8(chunk.Title),
			sanitizeUTF8(chunk.Text),
			pgvector.NewVector(vectors[i]),
		)
		if err != nil {
			return fmt.Errorf("failed to insert chunk: %v", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %v", err)
	}

	ix.size += len(chunks)
	return nil
}

// Search returns the k closest chunks by cosine distance, closest first,
// ties broken by insertion order.
func (ix *PGIndex) Search(ctx context.Context, vector []float32, k int) ([]models.ScoredChunk, error) {
	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}
	if len(vector) != ix.config.VectorDim {
		return nil, fmt.Errorf("%w: query has %d dimensions, index has %d",
			types.ErrDimensionMismatch, len(vector), ix.config.VectorDim)
	}

	query := fmt.Sprintf(`
		SELECT doc_id, chunk_index, source, url, title, content, embedding <=> $1 AS distance
		FROM %s
		ORDER BY distance, ord
		LIMIT $2`,
		ix.config.TableName)

	rows, err := ix.pool.Query(ctx, query, pgvector.NewVector(vector), k)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %v", err)
	}
	defer rows.Close()

	var results []models.ScoredChunk
	for rows.Next() {
		var sc models.ScoredChunk
		err := rows.Scan(
			&sc.Chunk.DocID,
			&sc.Chunk.Index,
			&sc.Chunk.Source,
			&sc.Chunk.URL,
			&sc.Chunk.Title,
			&sc.Chunk.Text,
			&sc.Distance,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %v", err)
		}
		results = append(results, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read rows: %v", err)
	}

	return results, nil
}

func (ix *PGIndex) Len() int {
	return ix.size
}

func (ix *PGIndex) Dimension() int {
	return ix.config.VectorDim
}

func (ix *PGIndex) Close() error {
	if ix.pool != nil {
		ix.pool.Close()
	}
	return nil
}

func sanitizeUTF8(s string) string {
	if !utf8.ValidString(s) {
		v := make([]rune, 0, len(s))
		for i, r := range s {
			if r == utf8.RuneError {
				_, size := utf8.DecodeRuneInString(s[i:])
				if size == 1 {
					continue
				}
			}
			v = append(v, r)
		}
		return string(v)
	}
	return s
}
