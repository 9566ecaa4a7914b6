package rag_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/healai/heal/internal/models"
	"github.com/healai/heal/internal/types"
	"github.com/healai/heal/pkg/rag"
)

type stubEmbedder struct {
	vector []float32
	err    error
}

func (s *stubEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return s.vector, s.err
}

func (s *stubEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = s.vector
	}
	return out, s.err
}

func (s *stubEmbedder) Dimension() int { return len(s.vector) }

type stubIndex struct {
	results []models.ScoredChunk
	err     error
	gotK    int
}

func (s *stubIndex) Search(ctx context.Context, vector []float32, k int) ([]models.ScoredChunk, error) {
	s.gotK = k
	if s.err != nil {
		return nil, s.err
	}
	if k > len(s.results) {
		k = len(s.results)
	}
	return s.results[:k], nil
}

func (s *stubIndex) Len() int       { return len(s.results) }
func (s *stubIndex) Dimension() int { return 3 }
func (s *stubIndex) Close() error   { return nil }

type stubChat struct {
	answer    string
	err       error
	gotPrompt string
	calls     int
}

func (s *stubChat) Generate(ctx context.Context, prompt string) (string, error) {
	s.calls++
	s.gotPrompt = prompt
	if s.err != nil {
		return "", s.err
	}
	return s.answer, nil
}

func TestAnswerEndToEnd(t *testing.T) {
	index := &stubIndex{
		results: []models.ScoredChunk{
			{Chunk: models.Chunk{Source: "corpus/diabetes.txt", Text: "Diabetes is managed with insulin and diet."}},
		},
	}
	chat := &stubChat{answer: "Insulin and diet management"}
	engine := rag.NewEngine(&stubEmbedder{vector: []float32{1, 0, 0}}, index, chat, rag.EngineConfig{TopK: 5})

	history := []models.ConversationTurn{}
	answer, err := engine.Answer(context.Background(),
		"Patient has Type 2 diabetes.", history, "What treatment is recommended?")
	require.NoError(t, err)

	assert.Equal(t, "Insulin and diet management", answer.Text)
	require.Len(t, answer.Sources, 1)
	assert.Equal(t, models.RetrievedSource{Source: "corpus/diabetes.txt"}, answer.Sources[0])
	assert.Equal(t, 5, index.gotK)
}

func TestAnswerPromptSectionOrder(t *testing.T) {
	index := &stubIndex{
		results: []models.ScoredChunk{
			{Chunk: models.Chunk{Text: "Reference passage one."}},
			{Chunk: models.Chunk{Text: "Reference passage two."}},
		},
	}
	chat := &stubChat{answer: "ok"}
	engine := rag.NewEngine(&stubEmbedder{vector: []float32{1}}, index, chat, rag.EngineConfig{})

	history := []models.ConversationTurn{
		{Role: models.RoleUser, Text: "Earlier question"},
		{Role: models.RoleAgent, Text: "Earlier answer"},
	}
	_, err := engine.Answer(context.Background(), "Record text", history, "New question")
	require.NoError(t, err)

	prompt := chat.gotPrompt
	record := strings.Index(prompt, "Record text")
	hist := strings.Index(prompt, "user: Earlier question\nagent: Earlier answer")
	passages := strings.Index(prompt, "Reference passage one.\n\nReference passage two.")
	question := strings.Index(prompt, "New question")
	task := strings.Index(prompt, "**Task:**")

	for name, idx := range map[string]int{
		"record": record, "history": hist, "passages": passages, "question": question, "task": task,
	} {
		require.GreaterOrEqual(t, idx, 0, "section %s missing from prompt", name)
	}
	assert.Less(t, record, hist)
	assert.Less(t, hist, passages)
	assert.Less(t, passages, question)
	assert.Less(t, question, task)
}

func TestAnswerSourceTitleFallback(t *testing.T) {
	index := &stubIndex{
		results: []models.ScoredChunk{
			{Chunk: models.Chunk{Source: "a.html", URL: "https://example.org/a", Title: "Asthma"}},
			{Chunk: models.Chunk{Source: "b.txt", DocID: "doc-b"}},
			{Chunk: models.Chunk{Source: "c.txt"}},
		},
	}
	chat := &stubChat{answer: "ok"}
	engine := rag.NewEngine(&stubEmbedder{vector: []float32{1}}, index, chat, rag.EngineConfig{})

	answer, err := engine.Answer(context.Background(), "record", nil, "q")
	require.NoError(t, err)
	require.Len(t, answer.Sources, 3)

	assert.Equal(t, "Asthma", answer.Sources[0].Title)
	assert.Equal(t, "doc-b", answer.Sources[1].Title) // falls back to doc id
	assert.Equal(t, "", answer.Sources[2].Title)      // nothing to fall back to
}

func TestAnswerEmbeddingFailureAborts(t *testing.T) {
	chat := &stubChat{answer: "never"}
	engine := rag.NewEngine(
		&stubEmbedder{err: types.ErrEmbedding},
		&stubIndex{}, chat, rag.EngineConfig{})

	_, err := engine.Answer(context.Background(), "record", nil, "q")
	assert.ErrorIs(t, err, types.ErrEmbedding)
	assert.Zero(t, chat.calls)
}

func TestAnswerSearchFailureAborts(t *testing.T) {
	chat := &stubChat{answer: "never"}
	engine := rag.NewEngine(
		&stubEmbedder{vector: []float32{1}},
		&stubIndex{err: errors.New("index unavailable")}, chat, rag.EngineConfig{})

	_, err := engine.Answer(context.Background(), "record", nil, "q")
	assert.Error(t, err)
	assert.Zero(t, chat.calls)
}

func TestAnswerModelFailureReturnsNoPartialAnswer(t *testing.T) {
	index := &stubIndex{
		results: []models.ScoredChunk{{Chunk: models.Chunk{Text: "passage"}}},
	}
	engine := rag.NewEngine(
		&stubEmbedder{vector: []float32{1}},
		index, &stubChat{err: types.ErrModelInvocation}, rag.EngineConfig{})

	answer, err := engine.Answer(context.Background(), "record", nil, "q")
	assert.ErrorIs(t, err, types.ErrModelInvocation)
	assert.Nil(t, answer)
}
