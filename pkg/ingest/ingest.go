package ingest

import (
	"context"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/ledongthuc/pdf"

	"github.com/healai/heal/internal/models"
	"github.com/healai/heal/internal/types"
	"github.com/healai/heal/pkg/processor"
	"github.com/healai/heal/pkg/store"
)

type BuilderConfig struct {
	CorpusRoot string
	Extensions []string
	BatchSize  int
	OnDocument func(path string)     // called once per loaded file
	OnEmbedded func(done, total int) // called after each embedded batch
}

// Builder is the offline pipeline that turns a corpus directory into a
// similarity index: enumerate files, extract text, chunk, embed, build.
// Failures on individual files are logged and skipped; a corpus yielding no
// usable text at all is a hard error.
type Builder struct {
	config    BuilderConfig
	processor processor.Processor
	embedder  types.Embedder
}

func NewBuilder(config BuilderConfig, proc processor.Processor, embedder types.Embedder) (*Builder, error) {
	if config.CorpusRoot == "" {
		return nil, fmt.Errorf("corpus root is required")
	}
	if len(config.Extensions) == 0 {
		config.Extensions = []string{".txt", ".md", ".html", ".pdf"}
	}
	if config.BatchSize == 0 {
		config.BatchSize = 100
	}

	return &Builder{
		config:    config,
		processor: proc,
		embedder:  embedder,
	}, nil
}

// LoadDocuments walks the corpus root and extracts text from every file
// matching the extension filter.
func (b *Builder) LoadDocuments() ([]models.Document, error) {
	var docs []models.Document

	err := filepath.WalkDir(b.config.CorpusRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !b.allowedExtension(path) {
			return nil
		}

		doc, err := extract(path)
		if err != nil {
			log.Printf("skipping %s: %v", path, err)
			return nil
		}
		if strings.TrimSpace(doc.Content) == "" {
			log.Printf("skipping %s: no text content", path)
			return nil
		}

		if b.config.OnDocument != nil {
			b.config.OnDocument(path)
		}
		docs = append(docs, doc)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk corpus: %w", err)
	}

	if len(docs) == 0 {
		return nil, fmt.Errorf("%w: %s", types.ErrEmptyCorpus, b.config.CorpusRoot)
	}
	return docs, nil
}

// Extract runs every loaded document through the chunker and embeds all
// chunks in rate-limited batches.
func (b *Builder) Extract(ctx context.Context) ([]models.Chunk, [][]float32, error) {
	docs, err := b.LoadDocuments()
	if err != nil {
		return nil, nil, err
	}

	var chunks []models.Chunk
	for _, doc := range docs {
		chunks = append(chunks, b.processor.Chunk(doc)...)
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	vectors := make([][]float32, 0, len(chunks))
	for start := 0; start < len(texts); start += b.config.BatchSize {
		end := start + b.config.BatchSize
		if end > len(texts) {
			end = len(texts)
		}

		batch, err := b.embedder.EmbedDocuments(ctx, texts[start:end])
		if err != nil {
			return nil, nil, fmt.Errorf("embedding chunks %d-%d: %w", start, end, err)
		}
		vectors = append(vectors, batch...)

		if b.config.OnEmbedded != nil {
			b.config.OnEmbedded(end, len(texts))
		}
	}

	return chunks, vectors, nil
}

// BuildFlat builds an in-memory flat index from the corpus and saves it to
// path as the loadable artifact.
func (b *Builder) BuildFlat(ctx context.Context, path string) (*store.FlatIndex, error) {
	chunks, vectors, err := b.Extract(ctx)
	if err != nil {
		return nil, err
	}

	index, err := store.BuildFlat(chunks, vectors)
	if err != nil {
		return nil, err
	}

	if err := index.Save(path); err != nil {
		return nil, err
	}
	return index, nil
}

// BuildPG rebuilds a pgvector-backed index from the corpus. The table is
// cleared first; rebuild is the only supported update path.
func (b *Builder) BuildPG(ctx context.Context, index *store.PGIndex) error {
	chunks, vectors, err := b.Extract(ctx)
	if err != nil {
		return err
	}

	if err := index.Clear(ctx); err != nil {
		return err
	}

	for start := 0; start < len(chunks); start += b.config.BatchSize {
		end := start + b.config.BatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		if err := index.Store(ctx, chunks[start:end], vectors[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (b *Builder) allowedExtension(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, allowed := range b.config.Extensions {
		if ext == allowed {
			return true
		}
	}
	return false
}

// extract reads one corpus file into a Document, dispatching on extension.
func extract(path string) (models.Document, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".html", ".htm":
		return extractHTML(path)
	case ".pdf":
		return extractPDF(path)
	default:
		return extractText(path)
	}
}

func extractText(path string) (models.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return models.Document{}, err
	}
	return models.Document{
		Source:  path,
		Content: string(data),
	}, nil
}

func extractHTML(path string) (models.Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return models.Document{}, err
	}
	defer f.Close()

	doc, err := goquery.NewDocumentFromReader(f)
	if err != nil {
		return models.Document{}, err
	}

	// Prefer a main content area over the whole body.
	selectors := []string{"main", "article", ".content", "#content"}
	var content string
	for _, selector := range selectors {
		if selected := doc.Find(selector); selected.Length() > 0 {
			content = selected.Text()
			break
		}
	}
	if content == "" {
		content = doc.Find("body").Text()
	}

	return models.Document{
		Source:  path,
		Title:   strings.TrimSpace(doc.Find("title").Text()),
		Content: strings.TrimSpace(strings.Join(strings.Fields(content), " ")),
	}, nil
}

func extractPDF(path string) (models.Document, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return models.Document{}, err
	}
	defer f.Close()

	plain, err := reader.GetPlainText()
	if err != nil {
		return models.Document{}, err
	}

	var sb strings.Builder
	buf := make([]byte, 32*1024)
	for {
		n, err := plain.Read(buf)
		sb.Write(buf[:n])
		if err != nil {
			break
		}
	}

	return models.Document{
		Source:  path,
		Content: sb.String(),
	}, nil
}
