package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"replypilot/internal/knowledge"
)

// ingestFile is the YAML shape of a corpus file: a flat list of documents.
type ingestFile struct {
	Documents []struct {
		Title    string            `yaml:"title"`
		Content  string            `yaml:"content"`
		DocType  string            `yaml:"doc_type"`
		Category string            `yaml:"category"`
		Metadata map[string]string `yaml:"metadata"`
	} `yaml:"documents"`
}

func ingestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ingest [corpus.yaml]",
		Short: "Embed and store knowledge documents from a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("cannot read corpus file: %w", err)
			}
			var file ingestFile
			if err := yaml.Unmarshal(data, &file); err != nil {
				return fmt.Errorf("cannot parse corpus file: %w", err)
			}
			if len(file.Documents) == 0 {
				return fmt.Errorf("corpus file %s contains no documents", args[0])
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

			for _, doc := range file.Documents {
				if doc.Title == "" || doc.Content == "" {
					return fmt.Errorf("document with empty title or content in %s", args[0])
				}
				id, err := engine.Ingest(ctx, doc.Title, doc.Content, doc.DocType, doc.Category, doc.Metadata)
				if err != nil {
					return fmt.Errorf("ingest %q: %w", doc.Title, err)
				}
				logger.Info("ingested", "doc_id", id, "title", doc.Title)
			}

			logger.Info("corpus ingestion complete", "documents", len(file.Documents))
			return nil
		},
	}
}
