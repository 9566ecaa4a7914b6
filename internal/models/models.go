package models

import "encoding/json"

// Document is one corpus source file after text extraction. Immutable once
// created; the chunker never modifies it.
type Document struct {
	ID      string
	Source  string // path the text was extracted from
	URL     string
	Title   string
	Content string
}

// Chunk is a bounded slice of a document's content, the atomic unit stored
// in the similarity index. Metadata is copied from the parent document.
type Chunk struct {
	DocID  string
	Index  int // position within the document
	Source string
	URL    string
	Title  string
	Text   string
}

// ScoredChunk pairs a retrieved chunk with its distance to the query vector.
// Smaller distance means closer.
type ScoredChunk struct {
	Chunk    Chunk
	Distance float64
}

// RetrievedSource is the provenance record echoed back with an answer.
// Missing fields stay empty and serialize as null.
type RetrievedSource struct {
	Source string
	URL    string
	Title  string
}

// MarshalJSON renders empty metadata fields as null so callers can tell
// "absent" apart from an empty string value.
func (s RetrievedSource) MarshalJSON() ([]byte, error) {
	opt := func(v string) *string {
		if v == "" {
			return nil
		}
		return &v
	}
	return json.Marshal(struct {
		Source *string `json:"source"`
		URL    *string `json:"url"`
		Title  *string `json:"title"`
	}{opt(s.Source), opt(s.URL), opt(s.Title)})
}

// Roles for conversation turns.
const (
	RoleUser  = "user"
	RoleAgent = "agent"
)

// ConversationTurn is a single question or answer in a patient's log.
type ConversationTurn struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// Answer is the orchestrator's result: the model's text plus the sources of
// every chunk retrieved for it, in retrieval order.
type Answer struct {
	Text    string
	Sources []RetrievedSource
}

// SourceOf maps a chunk's metadata to a RetrievedSource. The title falls
// back to the document id when the document carries no title of its own.
func SourceOf(c Chunk) RetrievedSource {
	title := c.Title
	if title == "" {
		title = c.DocID
	}
	return RetrievedSource{
		Source: c.Source,
		URL:    c.URL,
		Title:  title,
	}
}
