package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"replypilot/internal/bus"
	"replypilot/internal/channel"
	"replypilot/internal/config"
	"replypilot/internal/dispatch"
	"replypilot/internal/knowledge"
	"replypilot/internal/pipeline"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the pipeline with all enabled channels",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	policy, err := config.LoadPolicy(cfg.Policy.Path)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	caps, err := buildCapabilities(cfg)
	if err != nil {
		return err
	}

	engine, err := knowledge.NewEngine(ctx, knowledge.EngineConfig{
		Embedder: caps.embedder,
		Store:    db,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	messageBus := bus.New(100, logger)
	defer messageBus.Close()

	pipe := pipeline.New(pipeline.Config{
		Classifier:   caps.classifier,
		Retriever:    engine,
		Drafter:      caps.drafter,
		Verifier:     caps.verifier,
		Runs:         db,
		Policy:       policy,
		TopK:         cfg.Retrieval.TopK,
		Threshold:    cfg.Retrieval.Threshold,
		StageTimeout: cfg.StageTimeout(),
		Logger:       logger,
	})

	dispatcher := dispatch.New(dispatch.Config{
		Bus:           messageBus,
		Pipeline:      pipe,
		Runs:          db,
		Reviews:       db,
		MaxConcurrent: cfg.General.MaxConcurrentMessages,
		Logger:        logger,
	})
	go dispatcher.Run(ctx)

	errCh := make(chan error, 2)
	started := 0

	if cfg.Channels.Webhook.Enabled {
		wh := channel.NewWebhook(channel.WebhookConfig{
			Listen:       cfg.Channels.Webhook.Listen,
			Path:         cfg.Channels.Webhook.Path,
			Secret:       cfg.Channels.Webhook.Secret,
			ServeMetrics: cfg.Metrics.Enabled,
			Logger:       logger,
		})
		started++
		go func() { errCh <- wh.Start(ctx, messageBus) }()
	}

	if cfg.Channels.Telegram.Enabled {
		tg := channel.NewTelegram(channel.TelegramChannelConfig{
			Token:     cfg.Channels.Telegram.Token,
			ParseMode: cfg.Channels.Telegram.ParseMode,
			Logger:    logger,
		})
		started++
		go func() { errCh <- tg.Start(ctx, messageBus) }()
	}

	if started == 0 {
		return fmt.Errorf("no channels enabled; enable the webhook or telegram channel in %s", configPath)
	}

	logger.Info("replypilot serving", "version", version, "channels", started)

	// The first channel error (or a clean ctx-cancelled shutdown) ends serve.
	for i := 0; i < started; i++ {
		if err := <-errCh; err != nil {
			stop()
			return err
		}
	}
	return nil
}
