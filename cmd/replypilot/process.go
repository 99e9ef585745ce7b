package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"replypilot/internal/config"
	"replypilot/internal/domain"
	"replypilot/internal/knowledge"
	"replypilot/internal/pipeline"
)

func processCmd() *cobra.Command {
	var (
		platform string
		kind     string
		sender   string
	)

	cmd := &cobra.Command{
		Use:   "process [message text]",
		Short: "Run one message through the pipeline and print the sealed run",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			policy, err := config.LoadPolicy(cfg.Policy.Path)
			if err != nil {
				return err
			}

			ctx := context.Background()

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

			msgKind := domain.KindDirectMessage
			if kind == string(domain.KindComment) {
				msgKind = domain.KindComment
			}

			run, err := pipe.Process(ctx, domain.IncomingMessage{
				ID:         uuid.NewString(),
				Platform:   platform,
				Kind:       msgKind,
				SenderID:   sender,
				Content:    strings.Join(args, " "),
				ReceivedAt: time.Now(),
			}, nil)
			if err != nil {
				return err
			}

			out, err := json.MarshalIndent(run, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(os.Stdout, string(out))
			return nil
		},
	}

	cmd.Flags().StringVar(&platform, "platform", "cli", "source platform label")
	cmd.Flags().StringVar(&kind, "kind", "dm", "message kind: dm or comment")
	cmd.Flags().StringVar(&sender, "sender", "cli-user", "sender identifier")
	return cmd
}
