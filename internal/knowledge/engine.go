// Package knowledge implements the retrieval side of the pipeline:
// embedding-based similarity search over the knowledge corpus, plus ingestion.
package knowledge

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"replypilot/internal/domain"
)

const (
	DefaultTopK      = 5
	DefaultThreshold = 0.7
)

// Engine retrieves knowledge extracts by cosine similarity and ingests new
// documents. Query and corpus always go through the same embedder; a
// dimension mismatch with an existing corpus is caught at construction.
type Engine struct {
	embedder   domain.Embedder
	store      domain.CorpusStore
	maxContent int
	logger     *slog.Logger
}

// EngineConfig configures the retrieval engine.
type EngineConfig struct {
	Embedder        domain.Embedder
	Store           domain.CorpusStore
	MaxContentChars int // extract truncation bound (default 500)
	Logger          *slog.Logger
}

// NewEngine validates the embedder against the stored corpus and returns the
// engine. A corpus embedded at a different dimension is a fatal configuration
// error: retrieval against it would silently compare incomparable vectors.
func NewEngine(ctx context.Context, cfg EngineConfig) (*Engine, error) {
	if cfg.MaxContentChars <= 0 {
		cfg.MaxContentChars = domain.MaxExtractContentLen
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	dim, err := cfg.Store.EmbeddingDimension(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: read corpus dimension: %v", domain.ErrStorage, err)
	}
	if dim != 0 && dim != cfg.Embedder.Dimension() {
		return nil, fmt.Errorf("%w: corpus embedded at dimension %d, embedder %q produces %d",
			domain.ErrConfiguration, dim, cfg.Embedder.Name(), cfg.Embedder.Dimension())
	}

	return &Engine{
		embedder:   cfg.Embedder,
		store:      cfg.Store,
		maxContent: cfg.MaxContentChars,
		logger:     cfg.Logger,
	}, nil
}

// Retrieve returns up to topK extracts scoring at or above threshold, ordered
// by similarity descending with ties broken by lower document id. No match is
// an empty result, not an error.
func (e *Engine) Retrieve(ctx context.Context, query string, topK int, threshold float64) ([]domain.KnowledgeExtract, error) {
	if topK <= 0 {
		topK = DefaultTopK
	}

	queryVec, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	embeddings, err := e.store.Embeddings(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: load embeddings: %v", domain.ErrStorage, err)
	}

	type hit struct {
		docID int64
		score float64
	}
	var hits []hit
	for _, emb := range embeddings {
		score := cosineSimilarity(queryVec, emb.Vector)
		if score >= threshold {
			hits = append(hits, hit{docID: emb.DocID, score: score})
		}
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return hits[i].docID < hits[j].docID
	})
	if len(hits) > topK {
		hits = hits[:topK]
	}
	if len(hits) == 0 {
		e.logger.Debug("retrieval matched nothing", "threshold", threshold)
		return nil, nil
	}

	ids := make([]int64, len(hits))
	for i, h := range hits {
		ids[i] = h.docID
	}
	docs, err := e.store.GetDocuments(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("%w: load documents: %v", domain.ErrStorage, err)
	}

	extracts := make([]domain.KnowledgeExtract, 0, len(hits))
	for _, h := range hits {
		doc, ok := docs[h.docID]
		if !ok {
			continue
		}
		content := domain.TruncateText(doc.Content, e.maxContent)
		extracts = append(extracts, domain.KnowledgeExtract{
			DocID:    doc.ID,
			Title:    doc.Title,
			Content:  content,
			Score:    h.score,
			DocType:  doc.DocType,
			Category: doc.Category,
		})
	}

	e.logger.Info("knowledge retrieved",
		"hits", len(extracts),
		"threshold", threshold,
		"top_k", topK,
	)
	return extracts, nil
}

// Ingest embeds a document and stores it atomically. A failed write leaves
// the corpus unchanged.
func (e *Engine) Ingest(ctx context.Context, title, content, docType, category string, metadata map[string]string) (int64, error) {
	vec, err := e.embedder.Embed(ctx, content)
	if err != nil {
		return 0, fmt.Errorf("embed document: %w", err)
	}

	id, err := e.store.SaveDocument(ctx, domain.KnowledgeDoc{
		Title:     title,
		Content:   content,
		DocType:   docType,
		Category:  category,
		Metadata:  metadata,
		CreatedAt: time.Now(),
	}, vec)
	if err != nil {
		return 0, fmt.Errorf("%w: save document: %v", domain.ErrStorage, err)
	}

	e.logger.Info("document ingested", "doc_id", id, "title", title, "doc_type", docType)
	return id, nil
}

func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
