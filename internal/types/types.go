package types

import (
	"context"

	"github.com/healai/heal/internal/models"
)

// Core interfaces

// Embedder maps text to fixed-dimension vectors. The dimension must match
// between index build and query time.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// SimilarityIndex answers k-nearest-chunk queries over embedding vectors.
// Results come back closest first; ties keep insertion order.
type SimilarityIndex interface {
	Search(ctx context.Context, vector []float32, k int) ([]models.ScoredChunk, error)
	Len() int
	Dimension() int
	Close() error
}

// ChatModel invokes the language model as a pure prompt -> text function.
type ChatModel interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Answerer is the query orchestrator as seen by the HTTP layer.
type Answerer interface {
	Answer(ctx context.Context, patientRecord string, history []models.ConversationTurn, question string) (*models.Answer, error)
}

// PatientStore is the per-patient record collaborator. Records are opaque
// text; the core never chunks or indexes them.
type PatientStore interface {
	Get(patientID string) (string, error)
	Append(patientID, text string) error
	SaveFromPDF(patientID string, pdfData []byte) error
}

// ConversationStore keeps each patient's ordered question/answer log.
type ConversationStore interface {
	Get(patientID string) []models.ConversationTurn
	Append(patientID, userText, agentText string)
}
