package knowledge

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"replypilot/internal/domain"
)

type memCorpus struct {
	docs    map[int64]domain.KnowledgeDoc
	vectors []domain.StoredEmbedding
	nextID  int64
	dim     int

	embeddingsErr error
}

func newMemCorpus() *memCorpus {
	return &memCorpus{docs: map[int64]domain.KnowledgeDoc{}, nextID: 1}
}

func (m *memCorpus) SaveDocument(_ context.Context, doc domain.KnowledgeDoc, embedding []float64) (int64, error) {
	id := m.nextID
	m.nextID++
	doc.ID = id
	m.docs[id] = doc
	m.vectors = append(m.vectors, domain.StoredEmbedding{DocID: id, Vector: embedding})
	if m.dim == 0 {
		m.dim = len(embedding)
	}
	return id, nil
}

func (m *memCorpus) Embeddings(_ context.Context) ([]domain.StoredEmbedding, error) {
	if m.embeddingsErr != nil {
		return nil, m.embeddingsErr
	}
	return m.vectors, nil
}

func (m *memCorpus) GetDocuments(_ context.Context, ids []int64) (map[int64]domain.KnowledgeDoc, error) {
	out := map[int64]domain.KnowledgeDoc{}
	for _, id := range ids {
		if doc, ok := m.docs[id]; ok {
			out[id] = doc
		}
	}
	return out, nil
}

func (m *memCorpus) EmbeddingDimension(_ context.Context) (int, error) {
	return m.dim, nil
}

// fixedEmbedder returns canned vectors keyed by substring match, so tests can
// place documents at known similarities to a query.
type fixedEmbedder struct {
	dim     int
	vectors map[string][]float64
}

func (f *fixedEmbedder) Name() string   { return "fixed" }
func (f *fixedEmbedder) Dimension() int { return f.dim }

func (f *fixedEmbedder) Embed(_ context.Context, text string) ([]float64, error) {
	for key, vec := range f.vectors {
		if strings.Contains(text, key) {
			return vec, nil
		}
	}
	return nil, errors.New("no vector for text")
}

func seedEngine(t *testing.T, emb domain.Embedder, corpus domain.CorpusStore) *Engine {
	t.Helper()
	eng, err := NewEngine(context.Background(), EngineConfig{Embedder: emb, Store: corpus})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return eng
}

func TestRetrieveThresholdAndOrder(t *testing.T) {
	// Query is the x axis. Document similarity to it is cos of the angle:
	// docA 0.9, docB 0.65, docC 0.71.
	vecAt := func(cos float64) []float64 {
		sin := 1 - cos*cos
		if sin < 0 {
			sin = 0
		}
		return []float64{cos, math.Sqrt(sin)}
	}
	emb := &fixedEmbedder{dim: 2, vectors: map[string][]float64{
		"query": {1, 0},
		"docA":  vecAt(0.9),
		"docB":  vecAt(0.65),
		"docC":  vecAt(0.71),
	}}
	corpus := newMemCorpus()
	eng := seedEngine(t, emb, corpus)

	ctx := context.Background()
	for _, name := range []string{"docA", "docB", "docC"} {
		if _, err := eng.Ingest(ctx, name, name+" body", "faq", "general", nil); err != nil {
			t.Fatalf("ingest %s: %v", name, err)
		}
	}

	got, err := eng.Retrieve(ctx, "query", 5, 0.7)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d extracts, want 2", len(got))
	}
	if got[0].Title != "docA" || got[1].Title != "docC" {
		t.Errorf("order = [%s %s], want [docA docC]", got[0].Title, got[1].Title)
	}
	if got[0].Score < got[1].Score {
		t.Errorf("scores not descending: %f < %f", got[0].Score, got[1].Score)
	}
}

func TestRetrieveTopKCap(t *testing.T) {
	emb := &fixedEmbedder{dim: 2, vectors: map[string][]float64{"": {1, 0}}}
	corpus := newMemCorpus()
	eng := seedEngine(t, emb, corpus)

	ctx := context.Background()
	for i := 0; i < 4; i++ {
		if _, err := eng.Ingest(ctx, "doc", "identical body", "faq", "general", nil); err != nil {
			t.Fatalf("ingest: %v", err)
		}
	}

	got, err := eng.Retrieve(ctx, "anything", 2, 0.5)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d extracts, want topK=2", len(got))
	}
	// Equal scores break ties toward the lower document id.
	if got[0].DocID >= got[1].DocID {
		t.Errorf("tie-break order: ids [%d %d], want ascending", got[0].DocID, got[1].DocID)
	}
}

func TestRetrieveNoMatchesIsEmpty(t *testing.T) {
	emb := &fixedEmbedder{dim: 2, vectors: map[string][]float64{
		"query": {1, 0},
		"doc":   {0, 1}, // orthogonal, similarity 0
	}}
	corpus := newMemCorpus()
	eng := seedEngine(t, emb, corpus)

	ctx := context.Background()
	if _, err := eng.Ingest(ctx, "doc", "doc body", "faq", "general", nil); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	got, err := eng.Retrieve(ctx, "query", 5, 0.7)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got %d extracts, want none", len(got))
	}
}

func TestRetrieveTruncatesContent(t *testing.T) {
	emb := &fixedEmbedder{dim: 2, vectors: map[string][]float64{"": {1, 0}}}
	corpus := newMemCorpus()
	eng := seedEngine(t, emb, corpus)

	ctx := context.Background()
	long := strings.Repeat("x", domain.MaxExtractContentLen+200)
	if _, err := eng.Ingest(ctx, "long", long, "faq", "general", nil); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	got, err := eng.Retrieve(ctx, "query", 1, 0.5)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d extracts, want 1", len(got))
	}
	if len(got[0].Content) != domain.MaxExtractContentLen {
		t.Errorf("content length = %d, want %d", len(got[0].Content), domain.MaxExtractContentLen)
	}
}

func TestRetrieveTruncationKeepsValidUTF8(t *testing.T) {
	emb := &fixedEmbedder{dim: 2, vectors: map[string][]float64{"": {1, 0}}}
	corpus := newMemCorpus()
	eng := seedEngine(t, emb, corpus)

	ctx := context.Background()
	long := strings.Repeat("é", domain.MaxExtractContentLen) // 2 bytes per rune
	if _, err := eng.Ingest(ctx, "accented", long, "faq", "general", nil); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	got, err := eng.Retrieve(ctx, "query", 1, 0.5)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d extracts, want 1", len(got))
	}
	if len(got[0].Content) > domain.MaxExtractContentLen {
		t.Errorf("content length = %d, want at most %d", len(got[0].Content), domain.MaxExtractContentLen)
	}
	if !utf8.ValidString(got[0].Content) {
		t.Error("truncated content is not valid UTF-8")
	}
}

func TestRetrieveStoreFailure(t *testing.T) {
	emb := &fixedEmbedder{dim: 2, vectors: map[string][]float64{"": {1, 0}}}
	corpus := newMemCorpus()
	eng := seedEngine(t, emb, corpus)
	corpus.embeddingsErr = errors.New("disk gone")

	_, err := eng.Retrieve(context.Background(), "query", 5, 0.7)
	if !errors.Is(err, domain.ErrStorage) {
		t.Errorf("err = %v, want ErrStorage", err)
	}
}

func TestNewEngineDimensionMismatch(t *testing.T) {
	corpus := newMemCorpus()
	corpus.dim = 128

	emb := &fixedEmbedder{dim: 64}
	_, err := NewEngine(context.Background(), EngineConfig{Embedder: emb, Store: corpus})
	if !errors.Is(err, domain.ErrConfiguration) {
		t.Errorf("err = %v, want ErrConfiguration", err)
	}
}

func TestNewEngineEmptyCorpusAcceptsAnyDimension(t *testing.T) {
	emb := &fixedEmbedder{dim: 64}
	if _, err := NewEngine(context.Background(), EngineConfig{Embedder: emb, Store: newMemCorpus()}); err != nil {
		t.Fatalf("NewEngine on empty corpus: %v", err)
	}
}

func TestIngestRecordsMetadata(t *testing.T) {
	emb := &fixedEmbedder{dim: 2, vectors: map[string][]float64{"": {1, 0}}}
	corpus := newMemCorpus()
	eng := seedEngine(t, emb, corpus)

	before := time.Now()
	id, err := eng.Ingest(context.Background(), "title", "body", "policy", "shipping", map[string]string{"lang": "en"})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	doc := corpus.docs[id]
	if doc.DocType != "policy" || doc.Category != "shipping" {
		t.Errorf("doc = %+v, fields not stored", doc)
	}
	if doc.Metadata["lang"] != "en" {
		t.Errorf("metadata not stored: %+v", doc.Metadata)
	}
	if doc.CreatedAt.Before(before) {
		t.Errorf("created_at %v predates ingest", doc.CreatedAt)
	}
}
