package processor

import (
	"unicode"

	"github.com/healai/heal/internal/models"
)

type ProcessorConfig struct {
	ChunkSize    int
	ChunkOverlap int
}

// Processor splits documents into overlapping windows suitable for
// embedding. Windows prefer to end on a paragraph break, then a sentence
// end, then a word boundary, before falling back to a hard character cut.
type Processor struct {
	config ProcessorConfig
}

func NewWithConfig(config ProcessorConfig) Processor {
	if config.ChunkSize == 0 {
		config.ChunkSize = 500
	}
	if config.ChunkOverlap == 0 {
		config.ChunkOverlap = 100
	}
	if config.ChunkOverlap >= config.ChunkSize {
		config.ChunkOverlap = config.ChunkSize / 5
	}

	return Processor{
		config: config,
	}
}

// Chunk splits one document into consecutive windows of at most ChunkSize
// characters where adjacent windows share a ChunkOverlap-sized region. The
// input document is never modified. Empty content yields no chunks; content
// shorter than ChunkSize yields exactly one chunk.
func (p *Processor) Chunk(doc models.Document) []models.Chunk {
	runes := []rune(doc.Content)
	if len(runes) == 0 {
		return nil
	}

	maxSize := p.config.ChunkSize
	overlap := p.config.ChunkOverlap

	if len(runes) <= maxSize {
		return []models.Chunk{p.newChunk(doc, 0, doc.Content)}
	}

	var chunks []models.Chunk
	start := 0
	for start < len(runes) {
		end := start + maxSize
		if end >= len(runes) {
			end = len(runes)
		} else {
			end = snapEnd(runes, start+overlap, end)
		}

		chunks = append(chunks, p.newChunk(doc, len(chunks), string(runes[start:end])))

		if end == len(runes) {
			break
		}
		// The next window re-reads the last `overlap` characters so that
		// context at the cut is present in both chunks.
		start = end - overlap
	}

	return chunks
}

func (p *Processor) newChunk(doc models.Document, index int, text string) models.Chunk {
	return models.Chunk{
		DocID:  doc.ID,
		Index:  index,
		Source: doc.Source,
		URL:    doc.URL,
		Title:  doc.Title,
		Text:   text,
	}
}

// snapEnd moves a hard cut point backward to the nearest natural boundary,
// trying paragraph breaks first, then sentence ends, then word boundaries.
// It never moves the cut at or below minEnd, which keeps every window making
// forward progress past the overlap region.
func snapEnd(runes []rune, minEnd, hardEnd int) int {
	// Paragraph break: cut just after a blank line.
	for i := hardEnd; i > minEnd; i-- {
		if runes[i-1] == '\n' && i >= 2 && runes[i-2] == '\n' {
			return i
		}
	}

	// Sentence end: cut after terminal punctuation followed by whitespace.
	for i := hardEnd; i > minEnd; i-- {
		c := runes[i-1]
		if (c == '.' || c == '!' || c == '?') && i < len(runes) && unicode.IsSpace(runes[i]) {
			return i
		}
	}

	// Word boundary.
	for i := hardEnd; i > minEnd; i-- {
		if unicode.IsSpace(runes[i-1]) {
			return i
		}
	}

	return hardEnd
}
