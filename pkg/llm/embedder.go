package llm

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms/ollama"
	"golang.org/x/time/rate"

	"github.com/healai/heal/internal/types"
)

type EmbedderConfig struct {
	Model     string
	BaseURL   string // Ollama server URL
	VectorDim int
	RateLimit float64 // embedding calls per second during batch builds
}

// Embedder maps text to fixed-dimension vectors via an Ollama embedding
// model. The dimension is pinned at construction; vectors of any other size
// coming back from the model are treated as a fatal misconfiguration, never
// silently accepted.
type Embedder struct {
	config  EmbedderConfig
	client  *ollama.LLM
	limiter *rate.Limiter
}

func NewEmbedderWithConfig(config EmbedderConfig) (*Embedder, error) {
	if config.Model == "" {
		config.Model = "nomic-embed-text:latest"
	}
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:11434"
	}
	if config.VectorDim == 0 {
		config.VectorDim = 768
	}
	if config.RateLimit == 0 {
		config.RateLimit = 4.0
	}

	client, err := ollama.New(
		ollama.WithModel(config.Model),
		ollama.WithServerURL(config.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedding model: %w", err)
	}

	return &Embedder{
		config:  config,
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(config.RateLimit), 1),
	}, nil
}

// Dimension returns the vector size every embedding must have.
func (e *Embedder) Dimension() int {
	return e.config.VectorDim
}

// EmbedQuery embeds a single piece of text.
func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedDocuments embeds a batch of texts, rate-limited so that large corpus
// builds do not overwhelm the embedding server.
func (e *Embedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrEmbedding, err)
	}
	return e.embed(ctx, texts)
}

func (e *Embedder) embed(ctx context.Context, texts []string) ([][]float32, error) {
	vectors, err := e.client.CreateEmbedding(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrEmbedding, err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("%w: got %d vectors for %d texts", types.ErrEmbedding, len(vectors), len(texts))
	}
	for i, v := range vectors {
		if len(v) != e.config.VectorDim {
			return nil, fmt.Errorf("%w: text %d embedded to %d dimensions, expected %d",
				types.ErrDimensionMismatch, i, len(v), e.config.VectorDim)
		}
	}
	return vectors, nil
}
