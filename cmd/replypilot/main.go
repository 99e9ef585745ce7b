package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"replypilot/internal/capability"
	"replypilot/internal/config"
	"replypilot/internal/domain"
	"replypilot/internal/store"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	// Local .env keeps API keys out of the config file during development.
	_ = godotenv.Load()

	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:   "replypilot",
		Short: "ReplyPilot: staged reply pipeline for inbound social messages",
		Long:  "ReplyPilot classifies inbound messages, drafts grounded replies, verifies them for compliance, and routes each one to autonomous send or human review.",
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config.json", "path to config.json")

	root.AddCommand(serveCmd())
	root.AddCommand(processCmd())
	root.AddCommand(ingestCmd())
	root.AddCommand(runsCmd())
	root.AddCommand(reviewsCmd())
	root.AddCommand(versionCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("replypilot", version)
		},
	}
}

// loadConfig loads the config file and reconfigures the logger to the
// configured level.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	level := slog.LevelInfo
	switch strings.ToLower(cfg.General.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	var out io.Writer = os.Stderr
	if cfg.General.LogFile != "" {
		f, err := os.OpenFile(cfg.General.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("cannot open log file %s: %w", cfg.General.LogFile, err)
		}
		out = f
	}
	logger = slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	return cfg, nil
}

func openStore(cfg *config.Config) (*store.SQLiteStore, error) {
	return store.NewSQLiteStore(cfg.Store.DBPath, logger)
}

// capabilities holds one backend's capability set.
type capabilities struct {
	classifier domain.Classifier
	drafter    domain.Drafter
	verifier   domain.Verifier
	embedder   domain.Embedder
}

// buildCapabilities selects the stub or live backend per config.
func buildCapabilities(cfg *config.Config) (capabilities, error) {
	switch cfg.Model.Mode {
	case "stub":
		logger.Info("using deterministic stub capabilities")
		return capabilities{
			classifier: capability.StubClassifier{},
			drafter:    capability.StubDrafter{},
			verifier:   capability.StubVerifier{},
			embedder:   capability.StubEmbedder{},
		}, nil
	case "openai":
		client, err := capability.NewOpenAI(capability.OpenAIConfig{
			APIKey:              cfg.Model.APIKey,
			APIBase:             cfg.Model.APIBase,
			ClassifierModel:     cfg.Model.ClassifierModel,
			DrafterModel:        cfg.Model.DrafterModel,
			VerifierModel:       cfg.Model.VerifierModel,
			EmbeddingModel:      cfg.Model.EmbeddingModel,
			EmbeddingDimensions: cfg.Model.EmbeddingDimensions,
			MaxRetries:          cfg.Model.MaxRetries,
			RetryDelay:          time.Second,
			Logger:              logger,
		})
		if err != nil {
			return capabilities{}, err
		}
		return capabilities{
			classifier: client.Classifier(),
			drafter:    client.Drafter(),
			verifier:   client.Verifier(),
			embedder:   client.Embedder(),
		}, nil
	default:
		return capabilities{}, fmt.Errorf("%w: unknown model mode %q", domain.ErrConfiguration, cfg.Model.Mode)
	}
}
