package domain

import (
	"context"
	"time"
)

// MaxExtractContentLen bounds extract content handed to downstream stages.
// Truncation is silent and deterministic.
const MaxExtractContentLen = 500

// KnowledgeDoc is a document in the knowledge corpus.
type KnowledgeDoc struct {
	ID         int64             `json:"id"`
	Title      string            `json:"title"`
	Content    string            `json:"content"`
	DocType    string            `json:"doc_type"` // policy | faq | product | claim
	Category   string            `json:"category,omitempty"`
	SourceFile string            `json:"source_file,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

// KnowledgeExtract is a retrieved fragment used to ground a drafted reply.
type KnowledgeExtract struct {
	DocID    int64   `json:"doc_id"`
	Title    string  `json:"title"`
	Content  string  `json:"content"` // truncated to MaxExtractContentLen
	Score    float64 `json:"similarity_score"`
	DocType  string  `json:"doc_type"`
	Category string  `json:"category,omitempty"`
}

// StoredEmbedding pairs a corpus document id with its embedding vector.
type StoredEmbedding struct {
	DocID  int64
	Vector []float64
}

// CorpusStore persists knowledge documents and their embeddings.
type CorpusStore interface {
	// SaveDocument atomically stores a document with its embedding and
	// returns the assigned document id. A failed write leaves the corpus
	// unchanged.
	SaveDocument(ctx context.Context, doc KnowledgeDoc, embedding []float64) (int64, error)

	// Embeddings returns every stored embedding for similarity search.
	Embeddings(ctx context.Context) ([]StoredEmbedding, error)

	// GetDocuments fetches documents by id.
	GetDocuments(ctx context.Context, ids []int64) (map[int64]KnowledgeDoc, error)

	// EmbeddingDimension reports the corpus vector dimension, or 0 when the
	// corpus is empty.
	EmbeddingDimension(ctx context.Context) (int, error)
}
