package llm_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/healai/heal/pkg/llm"
)

func TestNewEmbedderWithConfig(t *testing.T) {
	emb, err := llm.NewEmbedderWithConfig(llm.EmbedderConfig{
		Model:     "nomic-embed-text:latest",
		BaseURL:   "http://localhost:11434",
		VectorDim: 768,
	})
	assert.NoError(t, err)
	assert.NotNil(t, emb)
	assert.Equal(t, 768, emb.Dimension())
}

func TestNewEmbedderWithConfigDefaults(t *testing.T) {
	emb, err := llm.NewEmbedderWithConfig(llm.EmbedderConfig{})
	assert.NoError(t, err)
	assert.Equal(t, 768, emb.Dimension())
}

func TestNewEmbedderWithConfigCustomDimension(t *testing.T) {
	emb, err := llm.NewEmbedderWithConfig(llm.EmbedderConfig{VectorDim: 1024})
	assert.NoError(t, err)
	assert.Equal(t, 1024, emb.Dimension())
}
