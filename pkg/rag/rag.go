package rag

import (
	"context"
	"fmt"
	"strings"

	"github.com/healai/heal/internal/models"
	"github.com/healai/heal/internal/types"
)

type EngineConfig struct {
	TopK int
}

// Engine is the query orchestrator: it retrieves the passages most relevant
// to a question, folds them into a structured prompt together with the
// patient record and the conversation so far, and invokes the model. The
// sources on the answer are exactly the retrieved chunks, in retrieval
// order, whether or not the model ended up citing them.
type Engine struct {
	embedder types.Embedder
	index    types.SimilarityIndex
	chat     types.ChatModel
	topK     int
}

func NewEngine(embedder types.Embedder, index types.SimilarityIndex, chat types.ChatModel, config EngineConfig) *Engine {
	if config.TopK <= 0 {
		config.TopK = 5
	}
	return &Engine{
		embedder: embedder,
		index:    index,
		chat:     chat,
		topK:     config.TopK,
	}
}

// Answer runs the full retrieval pipeline for one question. Any failure in
// embedding, search, or model invocation aborts the whole operation; a
// partial answer is never returned.
func (e *Engine) Answer(ctx context.Context, patientRecord string, history []models.ConversationTurn, question string) (*models.Answer, error) {
	vector, err := e.embedder.EmbedQuery(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("embedding question: %w", err)
	}

	retrieved, err := e.index.Search(ctx, vector, e.topK)
	if err != nil {
		return nil, fmt.Errorf("searching index: %w", err)
	}

	prompt := buildPrompt(patientRecord, history, retrieved, question)

	answer, err := e.chat.Generate(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("generating answer: %w", err)
	}

	sources := make([]models.RetrievedSource, 0, len(retrieved))
	for _, r := range retrieved {
		sources = append(sources, models.SourceOf(r.Chunk))
	}

	return &models.Answer{
		Text:    answer,
		Sources: sources,
	}, nil
}

// buildPrompt assembles the four delimited sections the model sees, in
// fixed order: patient record, conversation history, retrieved passages,
// and the new question with its task instruction.
func buildPrompt(patientRecord string, history []models.ConversationTurn, retrieved []models.ScoredChunk, question string) string {
	var sb strings.Builder

	sb.WriteString("**Static Patient History:**\n")
	sb.WriteString(patientRecord)
	sb.WriteString("\n\n**Ongoing Conversation History:**\n")
	sb.WriteString(formatHistory(history))
	sb.WriteString("\n\n**Reference Passages:**\n")
	for i, r := range retrieved {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(r.Chunk.Text)
	}
	sb.WriteString("\n\n**Clinician's Latest Request:**\n")
	sb.WriteString(question)
	sb.WriteString("\n\n**Task:**\nBased on ALL the information, provide a concise and clinically relevant answer.")

	return sb.String()
}

// formatHistory renders turns oldest first, one "<role>: <text>" line each.
func formatHistory(history []models.ConversationTurn) string {
	lines := make([]string, 0, len(history))
	for _, turn := range history {
		lines = append(lines, fmt.Sprintf("%s: %s", turn.Role, turn.Text))
	}
	return strings.Join(lines, "\n")
}
