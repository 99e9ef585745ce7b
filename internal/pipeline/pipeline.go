// Package pipeline orchestrates the staged processing of one inbound message:
// classify, retrieve, draft, verify, decide. Every stage's input and output is
// recorded on the run before the next stage starts.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"replypilot/internal/capability"
	"replypilot/internal/domain"
	"replypilot/internal/metrics"
)

const (
	DefaultTopK         = 5
	DefaultThreshold    = 0.7
	DefaultStageTimeout = 60 * time.Second
)

// Config wires the pipeline's capabilities, storage and policy.
type Config struct {
	Classifier domain.Classifier
	Retriever  domain.Retriever
	Drafter    domain.Drafter
	Verifier   domain.Verifier
	Runs       domain.RunStore
	Policy     domain.Policy

	TopK         int
	Threshold    float64
	StageTimeout time.Duration
	Logger       *slog.Logger
}

// Pipeline runs messages through the five stages. Safe for concurrent use;
// all per-message state lives on the run.
type Pipeline struct {
	cfg Config
}

func New(cfg Config) *Pipeline {
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultTopK
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.StageTimeout <= 0 {
		cfg.StageTimeout = DefaultStageTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Pipeline{cfg: cfg}
}

// Process runs one message through the pipeline and returns the sealed run.
// Capability failures degrade to conservative fallbacks and the run still
// seals; storage failures abort and the run is marked failed.
func (p *Pipeline) Process(ctx context.Context, msg domain.IncomingMessage, msgContext map[string]string) (*domain.PipelineRun, error) {
	run := domain.NewPipelineRun(uuid.NewString(), msg)
	logger := p.cfg.Logger.With("run_id", run.ID, "platform", msg.Platform, "message_id", msg.ID)

	if err := p.cfg.Runs.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("%w: create run: %v", domain.ErrStorage, err)
	}
	started := time.Now()
	defer func() {
		metrics.RunDuration.Observe(time.Since(started).Seconds())
	}()

	cls, err := p.classify(ctx, run, msg, msgContext, logger)
	if err != nil {
		return p.abort(ctx, run, logger, err)
	}

	extracts, err := p.retrieve(ctx, run, msg, logger)
	if err != nil {
		return p.abort(ctx, run, logger, err)
	}

	draft, err := p.draft(ctx, run, msg, cls, extracts, logger)
	if err != nil {
		return p.abort(ctx, run, logger, err)
	}

	verification, err := p.verify(ctx, run, draft, cls, msg.Content, logger)
	if err != nil {
		return p.abort(ctx, run, logger, err)
	}

	if err := p.decide(ctx, run, cls, verification, logger); err != nil {
		return p.abort(ctx, run, logger, err)
	}

	if err := run.Seal(); err != nil {
		return p.abort(ctx, run, logger, err)
	}
	if err := p.cfg.Runs.FinishRun(ctx, run); err != nil {
		return nil, fmt.Errorf("%w: finish run %s: %v", domain.ErrStorage, run.ID, err)
	}

	metrics.RunsSealed.Inc()
	logger.Info("run sealed",
		"intent", run.Classification.Intent,
		"risk", run.Classification.RiskLevel,
		"verdict", run.Verification.Verdict,
		"autonomous", run.Routing.AutonomousSendAllowed,
	)
	return run, nil
}

func (p *Pipeline) classify(ctx context.Context, run *domain.PipelineRun, msg domain.IncomingMessage, msgContext map[string]string, logger *slog.Logger) (domain.Classification, error) {
	stageCtx, cancel := context.WithTimeout(ctx, p.cfg.StageTimeout)
	defer cancel()

	began := time.Now()
	cls, err := p.cfg.Classifier.Classify(stageCtx, msg.Content, msgContext)
	metrics.ModelLatency.Observe(time.Since(began).Seconds())
	if err != nil {
		if ctx.Err() != nil || !capability.IsRecoverable(err) {
			return domain.Classification{}, fmt.Errorf("classify: %w", err)
		}
		logger.Warn("classifier failed, using fallback", "error", err)
		metrics.FallbacksClassify.Inc()
		cls = domain.FallbackClassification("classifier error: " + err.Error())
	}
	cls.Normalize(p.cfg.Policy.MinClassifierConfidence)
	run.Classification = &cls

	if err := p.recordStage(ctx, run, domain.StageClassify, p.cfg.Classifier.Name(),
		map[string]string{"text": msg.Content}, cls); err != nil {
		return domain.Classification{}, err
	}
	return cls, nil
}

// retrieve degrades capability-class failures to an empty extract set so
// drafting proceeds without grounding. Storage failures abort: a corpus the
// store cannot read is a retryable outage, not a missing match.
func (p *Pipeline) retrieve(ctx context.Context, run *domain.PipelineRun, msg domain.IncomingMessage, logger *slog.Logger) ([]domain.KnowledgeExtract, error) {
	stageCtx, cancel := context.WithTimeout(ctx, p.cfg.StageTimeout)
	defer cancel()

	extracts, err := p.cfg.Retriever.Retrieve(stageCtx, msg.Content, p.cfg.TopK, p.cfg.Threshold)
	if err != nil {
		if errors.Is(err, domain.ErrStorage) {
			return nil, fmt.Errorf("retrieve: %w", err)
		}
		logger.Warn("retrieval failed, drafting without extracts", "error", err)
		extracts = nil
	}
	run.Extracts = extracts

	if err := p.recordStage(ctx, run, domain.StageRetrieve, "knowledge",
		map[string]any{"query": msg.Content, "top_k": p.cfg.TopK, "threshold": p.cfg.Threshold},
		extracts); err != nil {
		return nil, err
	}
	return extracts, nil
}

func (p *Pipeline) draft(ctx context.Context, run *domain.PipelineRun, msg domain.IncomingMessage, cls domain.Classification, extracts []domain.KnowledgeExtract, logger *slog.Logger) (domain.Draft, error) {
	stageCtx, cancel := context.WithTimeout(ctx, p.cfg.StageTimeout)
	defer cancel()

	began := time.Now()
	draft, err := p.cfg.Drafter.Draft(stageCtx, msg, cls, extracts)
	metrics.ModelLatency.Observe(time.Since(began).Seconds())
	if err != nil {
		if ctx.Err() != nil || !capability.IsRecoverable(err) {
			return domain.Draft{}, fmt.Errorf("draft: %w", err)
		}
		logger.Warn("drafter failed, using fallback", "error", err)
		metrics.FallbacksDraft.Inc()
		draft = domain.FallbackDraft()
	}
	draft.Truncate()
	if dropped := draft.ValidateCitations(extracts); dropped > 0 {
		logger.Warn("dropped citations against unknown documents", "dropped", dropped)
		metrics.CitationsDropped.Add(int64(dropped))
	}
	run.Draft = &draft

	if err := p.recordStage(ctx, run, domain.StageDraft, p.cfg.Drafter.Name(),
		map[string]any{"intent": cls.Intent, "extracts": len(extracts)}, draft); err != nil {
		return domain.Draft{}, err
	}
	return draft, nil
}

func (p *Pipeline) verify(ctx context.Context, run *domain.PipelineRun, draft domain.Draft, cls domain.Classification, original string, logger *slog.Logger) (domain.Verification, error) {
	stageCtx, cancel := context.WithTimeout(ctx, p.cfg.StageTimeout)
	defer cancel()

	began := time.Now()
	verification, err := p.cfg.Verifier.Verify(stageCtx, draft, cls, original)
	metrics.ModelLatency.Observe(time.Since(began).Seconds())
	if err != nil {
		if ctx.Err() != nil || !capability.IsRecoverable(err) {
			return domain.Verification{}, fmt.Errorf("verify: %w", err)
		}
		logger.Warn("verifier failed, using fallback", "error", err)
		metrics.FallbacksVerify.Inc()
		verification = domain.FallbackVerification("verifier error: " + err.Error())
	}
	verification.EnforceContract()
	run.Verification = &verification

	if err := p.recordStage(ctx, run, domain.StageVerify, p.cfg.Verifier.Name(),
		map[string]string{"reply_text": draft.ReplyText}, verification); err != nil {
		return domain.Verification{}, err
	}
	return verification, nil
}

func (p *Pipeline) decide(ctx context.Context, run *domain.PipelineRun, cls domain.Classification, verification domain.Verification, logger *slog.Logger) error {
	routing := EvaluateRouting(cls, verification, p.cfg.Policy)
	run.Routing = &routing
	run.MoveToPrivate = run.Message.Kind == domain.KindComment &&
		cls.MoveToPrivate &&
		p.cfg.Policy.IsPrivateIntent(cls.Intent)

	if routing.AutonomousSendAllowed {
		metrics.DecisionsAutonomous.Inc()
	} else {
		metrics.DecisionsReview.Inc()
	}

	return p.recordStage(ctx, run, domain.StageDecide, "policy",
		map[string]any{"intent": cls.Intent, "risk": cls.RiskLevel, "verdict": verification.Verdict},
		map[string]any{"routing": routing, "move_to_private": run.MoveToPrivate})
}

// recordStage appends the audit record to the in-memory run and the store.
// A failure here is a storage failure: the audit trail is not optional.
func (p *Pipeline) recordStage(ctx context.Context, run *domain.PipelineRun, stage, capabilityName string, input, output any) error {
	inputJSON, err := json.Marshal(input)
	if err != nil {
		return fmt.Errorf("record %s stage: %w", stage, err)
	}
	outputJSON, err := json.Marshal(output)
	if err != nil {
		return fmt.Errorf("record %s stage: %w", stage, err)
	}

	rec := domain.StageRecord{
		Stage:      stage,
		Capability: capabilityName,
		Input:      inputJSON,
		Output:     outputJSON,
		At:         time.Now(),
	}
	if err := run.AppendStage(rec); err != nil {
		return err
	}
	if err := p.cfg.Runs.AppendStage(ctx, run.ID, rec); err != nil {
		return fmt.Errorf("%w: append %s stage: %v", domain.ErrStorage, stage, err)
	}
	return nil
}

func (p *Pipeline) abort(ctx context.Context, run *domain.PipelineRun, logger *slog.Logger, cause error) (*domain.PipelineRun, error) {
	run.Fail()
	if err := p.cfg.Runs.FinishRun(ctx, run); err != nil {
		logger.Error("cannot persist failed run", "error", err)
	}
	metrics.RunsFailed.Inc()
	logger.Error("run aborted", "error", cause)
	return run, cause
}
