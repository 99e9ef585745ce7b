// Package dispatch consumes inbound messages from the bus, runs them through
// the pipeline, and routes the result: autonomous replies go back out on the
// originating channel, everything else lands in the review queue.
package dispatch

import (
	"context"
	"log/slog"
	"sync"

	"replypilot/internal/domain"
	"replypilot/internal/metrics"
	"replypilot/internal/pipeline"
)

// Config wires the dispatcher.
type Config struct {
	Bus      domain.MessageBus
	Pipeline *pipeline.Pipeline
	Runs     domain.RunStore
	Reviews  domain.ReviewStore

	// MaxConcurrent bounds the number of messages in flight (default 4).
	MaxConcurrent int
	Logger        *slog.Logger
}

// Dispatcher is the consumer loop between the bus and the pipeline.
type Dispatcher struct {
	cfg Config
	wg  sync.WaitGroup
}

func New(cfg Config) *Dispatcher {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 4
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Dispatcher{cfg: cfg}
}

// Run consumes the bus until ctx is cancelled or the bus closes, then waits
// for in-flight messages to finish.
func (d *Dispatcher) Run(ctx context.Context) {
	sem := make(chan struct{}, d.cfg.MaxConcurrent)
	inbound := d.cfg.Bus.Subscribe()

	for {
		select {
		case <-ctx.Done():
			d.wg.Wait()
			return
		case msg, ok := <-inbound:
			if !ok {
				d.wg.Wait()
				return
			}
			sem <- struct{}{}
			d.wg.Add(1)
			go func(msg domain.IncomingMessage) {
				defer func() {
					<-sem
					d.wg.Done()
				}()
				d.handle(ctx, msg)
			}(msg)
		}
	}
}

func (d *Dispatcher) handle(ctx context.Context, msg domain.IncomingMessage) {
	logger := d.cfg.Logger.With("platform", msg.Platform, "message_id", msg.ID)

	metrics.ActiveWorkers.Inc()
	defer metrics.ActiveWorkers.Dec()

	seen, err := d.cfg.Runs.MarkMessageSeen(ctx, msg.Platform, msg.ID)
	if err != nil {
		logger.Error("dedup check failed, skipping message", "error", err)
		return
	}
	if seen {
		logger.Info("duplicate message skipped")
		metrics.DuplicatesSkipped.Inc()
		return
	}

	run, err := d.cfg.Pipeline.Process(ctx, msg, msg.Metadata)
	if err != nil {
		d.handleFailure(ctx, msg, run, err, logger)
		return
	}

	if run.Routing.AutonomousSendAllowed {
		d.cfg.Bus.SendOutbound(domain.OutboundMessage{
			Channel: msg.Platform,
			ChatID:  chatIDFor(msg),
			Content: run.FinalReply(),
		})
		metrics.OutboundSent.Inc()
		logger.Info("reply sent autonomously", "run_id", run.ID)
		return
	}

	item := domain.ReviewItem{
		RunID:     run.ID,
		MessageID: msg.ID,
		Platform:  msg.Platform,
		ChatID:    chatIDFor(msg),
		ReplyText: run.FinalReply(),
	}
	id, err := d.cfg.Reviews.EnqueueReview(ctx, item)
	if err != nil {
		logger.Error("cannot enqueue review", "run_id", run.ID, "error", err)
		return
	}
	metrics.ReviewsEnqueued.Inc()
	logger.Info("draft queued for review", "run_id", run.ID, "review_id", id)
}

// handleFailure surfaces a failed run instead of dropping the message: the
// incomplete run is queued for manual review, and when even that is not
// possible the seen-mark is removed so a platform redelivery retries.
func (d *Dispatcher) handleFailure(ctx context.Context, msg domain.IncomingMessage, run *domain.PipelineRun, cause error, logger *slog.Logger) {
	logger.Error("pipeline failed", "error", cause)

	if run != nil {
		item := domain.ReviewItem{
			RunID:     run.ID,
			MessageID: msg.ID,
			Platform:  msg.Platform,
			ChatID:    chatIDFor(msg),
			ReplyText: run.FinalReply(),
		}
		id, err := d.cfg.Reviews.EnqueueReview(ctx, item)
		if err == nil {
			metrics.ReviewsEnqueued.Inc()
			logger.Warn("incomplete run queued for manual review", "run_id", run.ID, "review_id", id)
			return
		}
		logger.Error("cannot enqueue failed run for review", "run_id", run.ID, "error", err)
	}

	if err := d.cfg.Runs.UnmarkMessageSeen(ctx, msg.Platform, msg.ID); err != nil {
		logger.Error("cannot unmark message for retry", "error", err)
		return
	}
	logger.Warn("message unmarked, awaiting platform redelivery")
}

// chatIDFor resolves the conversation to reply into. Channels that carry a
// distinct chat id put it in metadata; otherwise the sender id is the thread.
func chatIDFor(msg domain.IncomingMessage) string {
	if id, ok := msg.Metadata["chat_id"]; ok && id != "" {
		return id
	}
	return msg.SenderID
}
