package domain

import "context"

// The three AI stages and the embedder are capability interfaces: a
// deterministic stub and a live-model implementation are interchangeable
// without touching orchestration code.

// Classifier maps raw message text to an intent/risk assessment.
type Classifier interface {
	Name() string
	Classify(ctx context.Context, text string, msgContext map[string]string) (Classification, error)
}

// Drafter produces a candidate reply from the message, its classification,
// and the retrieved knowledge extracts.
type Drafter interface {
	Name() string
	Draft(ctx context.Context, msg IncomingMessage, c Classification, extracts []KnowledgeExtract) (Draft, error)
}

// Verifier audits a candidate reply against compliance, tone, and factual
// checks.
type Verifier interface {
	Name() string
	Verify(ctx context.Context, d Draft, c Classification, originalMessage string) (Verification, error)
}

// Embedder turns text into a fixed-dimension vector. Query and corpus must
// use the same embedder; a dimension mismatch is a fatal configuration error.
type Embedder interface {
	Name() string
	Dimension() int
	Embed(ctx context.Context, text string) ([]float64, error)
}

// Retriever returns ranked knowledge extracts for a query.
type Retriever interface {
	Retrieve(ctx context.Context, query string, topK int, threshold float64) ([]KnowledgeExtract, error)
}
