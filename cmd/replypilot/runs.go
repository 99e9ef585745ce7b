package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"replypilot/internal/domain"
)

func runsCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runs [run-id]",
		Short: "List recent pipeline runs, or show one in full",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			db, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			ctx := context.Background()

			if len(args) == 1 {
				run, err := db.GetRun(ctx, args[0])
				if err != nil {
					return err
				}
				if run == nil {
					return fmt.Errorf("run %s not found", args[0])
				}
				out, err := json.MarshalIndent(run, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(os.Stdout, string(out))
				return nil
			}

			runs, err := db.ListRuns(ctx, limit)
			if err != nil {
				return err
			}
			for _, run := range runs {
				intent := "-"
				if run.Classification != nil {
					intent = string(run.Classification.Intent)
				}
				routing := "-"
				if run.Routing != nil {
					if run.Routing.AutonomousSendAllowed {
						routing = "autonomous"
					} else {
						routing = "review"
					}
				}
				fmt.Fprintf(os.Stdout, "%s  %-9s  %-10s  %-14s  %s  %s\n",
					run.StartedAt.Format("2006-01-02 15:04:05"),
					run.State, run.Message.Platform, intent, routing, run.ID)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of runs to list")
	return cmd
}

func reviewsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reviews",
		Short: "Manage the human review queue",
	}
	cmd.AddCommand(reviewsListCmd())
	cmd.AddCommand(reviewsResolveCmd())
	return cmd
}

func reviewsListCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List pending reviews",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			db, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			items, err := db.PendingReviews(context.Background(), limit)
			if err != nil {
				return err
			}
			if len(items) == 0 {
				fmt.Fprintln(os.Stdout, "no pending reviews")
				return nil
			}
			for _, it := range items {
				fmt.Fprintf(os.Stdout, "#%d  %s  %-10s  run=%s\n    %s\n",
					it.ID, it.CreatedAt.Format("2006-01-02 15:04:05"),
					it.Platform, it.RunID, it.ReplyText)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of items to list")
	return cmd
}

func reviewsResolveCmd() *cobra.Command {
	var (
		itemID     int64
		action     string
		reviewedBy string
		finalText  string
		notes      string
	)

	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Record a moderator decision on a pending review",
		RunE: func(cmd *cobra.Command, args []string) error {
			switch action {
			case domain.ActionApproved, domain.ActionEdited, domain.ActionRejected, domain.ActionEscalated:
			default:
				return fmt.Errorf("invalid action %q: use approved, edited, rejected or escalated", action)
			}
			if action == domain.ActionEdited && finalText == "" {
				return fmt.Errorf("action edited requires --text")
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			db, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			err = db.ResolveReview(context.Background(), domain.ReviewAction{
				ItemID:     itemID,
				ReviewedBy: reviewedBy,
				Action:     action,
				FinalText:  finalText,
				Notes:      notes,
			})
			if err != nil {
				return err
			}
			logger.Info("review resolved", "id", itemID, "action", action, "by", reviewedBy)
			return nil
		},
	}

	cmd.Flags().Int64Var(&itemID, "id", 0, "review item id")
	cmd.Flags().StringVar(&action, "action", "", "approved | edited | rejected | escalated")
	cmd.Flags().StringVar(&reviewedBy, "by", "", "reviewer identifier")
	cmd.Flags().StringVar(&finalText, "text", "", "final reply text (required for edited)")
	cmd.Flags().StringVar(&notes, "notes", "", "reviewer notes")
	cmd.MarkFlagRequired("id")
	cmd.MarkFlagRequired("action")
	return cmd
}
