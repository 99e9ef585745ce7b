package capability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"replypilot/internal/domain"
)

const (
	defaultClassifierModel = "gpt-4o-mini"
	defaultDrafterModel    = "gpt-4o"
	defaultVerifierModel   = "gpt-4o"
	defaultEmbeddingModel  = string(openai.SmallEmbedding3)
	defaultEmbeddingDim    = 1536
	defaultMaxRetries      = 2
	defaultRetryDelay      = time.Second
)

// OpenAIConfig configures the OpenAI-backed capabilities.
type OpenAIConfig struct {
	APIKey              string
	APIBase             string // optional, for OpenAI-compatible endpoints
	ClassifierModel     string
	DrafterModel        string
	VerifierModel       string
	EmbeddingModel      string
	EmbeddingDimensions int
	MaxRetries          int
	RetryDelay          time.Duration
	Logger              *slog.Logger
}

// OpenAI is the shared client behind the live classifier, drafter, verifier,
// and embedder capabilities.
type OpenAI struct {
	client *openai.Client
	cfg    OpenAIConfig
	logger *slog.Logger
}

// NewOpenAI creates the shared client. An empty API key is a configuration
// error: the pipeline must not start with a half-wired live capability.
func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: OpenAI API key is required", domain.ErrConfiguration)
	}
	if cfg.ClassifierModel == "" {
		cfg.ClassifierModel = defaultClassifierModel
	}
	if cfg.DrafterModel == "" {
		cfg.DrafterModel = defaultDrafterModel
	}
	if cfg.VerifierModel == "" {
		cfg.VerifierModel = defaultVerifierModel
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = defaultEmbeddingModel
	}
	if cfg.EmbeddingDimensions <= 0 {
		cfg.EmbeddingDimensions = defaultEmbeddingDim
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.APIBase != "" {
		clientCfg.BaseURL = cfg.APIBase
	}

	return &OpenAI{
		client: openai.NewClientWithConfig(clientCfg),
		cfg:    cfg,
		logger: cfg.Logger,
	}, nil
}

// Classifier returns the live classifier capability.
func (o *OpenAI) Classifier() domain.Classifier { return &openAIClassifier{o} }

// Drafter returns the live drafter capability.
func (o *OpenAI) Drafter() domain.Drafter { return &openAIDrafter{o} }

// Verifier returns the live verifier capability.
func (o *OpenAI) Verifier() domain.Verifier { return &openAIVerifier{o} }

// Embedder returns the live embedder capability.
func (o *OpenAI) Embedder() domain.Embedder { return &openAIEmbedder{o} }

// chatJSON sends one system+user exchange and returns the normalized JSON
// object from the model's reply. Transport failures map to ModelUnavailable,
// unusable output to MalformedResult.
func (o *OpenAI) chatJSON(ctx context.Context, model, system, user string, temperature float32) ([]byte, error) {
	var lastErr error

	for attempt := 0; attempt <= o.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %v", domain.ErrModelUnavailable, ctx.Err())
			case <-time.After(backoff(o.cfg.RetryDelay, attempt)):
			}
		}

		resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model: model,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: system},
				{Role: openai.ChatMessageRoleUser, Content: user},
			},
			Temperature: temperature,
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: %v", domain.ErrModelUnavailable, ctx.Err())
			}
			lastErr = err
			o.logger.Warn("chat completion failed, will retry",
				"model", model, "attempt", attempt+1, "error", err)
			continue
		}
		if len(resp.Choices) == 0 {
			return nil, fmt.Errorf("%w: no completion choices", domain.ErrMalformedResult)
		}

		return ExtractJSON(resp.Choices[0].Message.Content)
	}

	return nil, fmt.Errorf("%w: %v", domain.ErrModelUnavailable, lastErr)
}

// backoff is exponential with a 30s cap.
func backoff(base time.Duration, attempt int) time.Duration {
	if attempt > 5 {
		attempt = 5
	}
	d := base * time.Duration(1<<uint(attempt))
	if d > 30*time.Second {
		d = 30 * time.Second
	}
	return d
}

type openAIClassifier struct{ *OpenAI }

func (c *openAIClassifier) Name() string { return c.cfg.ClassifierModel }

func (c *openAIClassifier) Classify(ctx context.Context, text string, msgContext map[string]string) (domain.Classification, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Message to classify:\n\n%s\n", text)
	if len(msgContext) > 0 {
		ctxJSON, _ := json.Marshal(msgContext)
		fmt.Fprintf(&b, "\nAdditional context: %s\n", ctxJSON)
	}

	raw, err := c.chatJSON(ctx, c.cfg.ClassifierModel, systemClassifier, b.String(), 0.3)
	if err != nil {
		return domain.Classification{}, fmt.Errorf("classify: %w", err)
	}

	var out domain.Classification
	if err := json.Unmarshal(raw, &out); err != nil {
		return domain.Classification{}, fmt.Errorf("classify: %w: %v", domain.ErrMalformedResult, err)
	}
	return out, nil
}

type openAIDrafter struct{ *OpenAI }

func (d *openAIDrafter) Name() string { return d.cfg.DrafterModel }

func (d *openAIDrafter) Draft(ctx context.Context, msg domain.IncomingMessage, c domain.Classification, extracts []domain.KnowledgeExtract) (domain.Draft, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "User message (%s on %s):\n%s\n", msg.Kind, msg.Platform, msg.Content)
	fmt.Fprintf(&b, "\nDetected intent: %s (confidence %.2f)\nRisk level: %s\nLanguage: %s\n",
		c.Intent, c.Confidence, c.RiskLevel, c.Language)

	if len(extracts) > 0 {
		b.WriteString("\nKnowledge base extracts (ground your reply in these):\n")
		for i, e := range extracts {
			fmt.Fprintf(&b, "\n%d. [%s] %s\n   %s\n   (doc_id=%d, similarity=%.2f)\n",
				i+1, e.DocType, e.Title, e.Content, e.DocID, e.Score)
		}
	} else {
		b.WriteString("\nNo knowledge extracts matched. Keep the reply general and do not cite sources.\n")
	}

	b.WriteString("\nGenerate the reply in the strict JSON format.")

	raw, err := d.chatJSON(ctx, d.cfg.DrafterModel, systemDrafter, b.String(), 0.8)
	if err != nil {
		return domain.Draft{}, fmt.Errorf("draft: %w", err)
	}

	var out domain.Draft
	if err := json.Unmarshal(raw, &out); err != nil {
		return domain.Draft{}, fmt.Errorf("draft: %w: %v", domain.ErrMalformedResult, err)
	}
	return out, nil
}

type openAIVerifier struct{ *OpenAI }

func (v *openAIVerifier) Name() string { return v.cfg.VerifierModel }

func (v *openAIVerifier) Verify(ctx context.Context, d domain.Draft, c domain.Classification, originalMessage string) (domain.Verification, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Original user message:\n%s\n", originalMessage)
	fmt.Fprintf(&b, "\nIntent: %s\nRisk level: %s\nRisk flags: %s\n",
		c.Intent, c.RiskLevel, strings.Join(c.RiskFlags, ", "))
	fmt.Fprintf(&b, "\nDraft reply to audit:\n%s\n", d.ReplyText)
	if d.AskPrivateQuestion != "" {
		fmt.Fprintf(&b, "\nSuggested DM question: %s\n", d.AskPrivateQuestion)
	}
	for _, p := range d.SuggestedProducts {
		fmt.Fprintf(&b, "Suggested product: %s (%s): %s\n", p.Name, p.Price, p.Reason)
	}
	b.WriteString("\nAudit the draft and return the verdict JSON.")

	raw, err := v.chatJSON(ctx, v.cfg.VerifierModel, systemVerifier, b.String(), 0.5)
	if err != nil {
		return domain.Verification{}, fmt.Errorf("verify: %w", err)
	}

	var out domain.Verification
	if err := json.Unmarshal(raw, &out); err != nil {
		return domain.Verification{}, fmt.Errorf("verify: %w: %v", domain.ErrMalformedResult, err)
	}
	return out, nil
}

type openAIEmbedder struct{ *OpenAI }

func (e *openAIEmbedder) Name() string { return e.cfg.EmbeddingModel }

func (e *openAIEmbedder) Dimension() int { return e.cfg.EmbeddingDimensions }

func (e *openAIEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	var lastErr error

	for attempt := 0; attempt <= e.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %v", domain.ErrModelUnavailable, ctx.Err())
			case <-time.After(backoff(e.cfg.RetryDelay, attempt)):
			}
		}

		resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
			Input:      []string{text},
			Model:      openai.EmbeddingModel(e.cfg.EmbeddingModel),
			Dimensions: e.cfg.EmbeddingDimensions,
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: %v", domain.ErrModelUnavailable, ctx.Err())
			}
			lastErr = err
			e.logger.Warn("embedding request failed, will retry", "attempt", attempt+1, "error", err)
			continue
		}
		if len(resp.Data) == 0 {
			return nil, fmt.Errorf("%w: empty embedding response", domain.ErrMalformedResult)
		}

		vec32 := resp.Data[0].Embedding
		if len(vec32) != e.cfg.EmbeddingDimensions {
			return nil, fmt.Errorf("%w: embedding dimension %d, expected %d",
				domain.ErrConfiguration, len(vec32), e.cfg.EmbeddingDimensions)
		}
		vec := make([]float64, len(vec32))
		for i, f := range vec32 {
			vec[i] = float64(f)
		}
		return vec, nil
	}

	return nil, fmt.Errorf("%w: %v", domain.ErrModelUnavailable, lastErr)
}

// IsRecoverable reports whether a stage error should be absorbed by the
// stage's conservative fallback rather than aborting the run.
func IsRecoverable(err error) bool {
	return errors.Is(err, domain.ErrModelUnavailable) || errors.Is(err, domain.ErrMalformedResult)
}
