package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/studio-catalog/internal/model"
	"github.com/sells-group/studio-catalog/internal/store"
)

var reviewsCmd = &cobra.Command{
	Use:   "reviews",
	Short: "Work the manual review queue",
}

// -- reviews list --

var reviewsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List queued reviews",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		status, _ := cmd.Flags().GetString("status")
		jobID, _ := cmd.Flags().GetString("job")
		limit, _ := cmd.Flags().GetInt("limit")

		items, err := st.ListReviews(ctx, store.ReviewFilter{
			Status: model.ReviewStatus(status),
			JobID:  jobID,
			Limit:  limit,
		})
		if err != nil {
			return eris.Wrap(err, "reviews list")
		}
		if len(items) == 0 {
			fmt.Fprintln(os.Stderr, "No reviews found.")
			return nil
		}

		formatReviewsList(os.Stdout, items)
		return nil
	},
}

// -- reviews show --

var reviewsShowCmd = &cobra.Command{
	Use:   "show <review-id>",
	Short: "Show a review with its match signals and conflicts",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		item, err := st.GetReview(ctx, args[0])
		if err != nil {
			return eris.Wrapf(err, "reviews show %s", args[0])
		}
		return printJSON(os.Stdout, item)
	},
}

// -- reviews resolve --

var reviewsResolveCmd = &cobra.Command{
	Use:   "resolve <review-id>",
	Short: "Approve or reject a queued review",
	Long:  "Approving merges the candidate into the studio it matched. Rejecting adds it to the catalog as a new studio.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, _ := cmd.Flags().GetString("decision")
		decision, ok := model.ParseReviewDecision(raw)
		if !ok {
			return eris.Errorf("reviews resolve: --decision must be approve or reject, got %q", raw)
		}

		ctx := cmd.Context()
		env, err := initEnv(ctx, cfg)
		if err != nil {
			return err
		}
		defer env.Close(context.Background())

		item, err := env.Scheduler.ResolveReview(ctx, args[0], decision)
		if err != nil {
			return eris.Wrapf(err, "reviews resolve %s", args[0])
		}
		fmt.Fprintf(os.Stdout, "Review %s %s.\n", truncateID(item.ID), item.Status)
		return nil
	},
}

func init() {
	reviewsListCmd.Flags().String("status", string(model.ReviewPending), "filter by status (pending, approved, rejected)")
	reviewsListCmd.Flags().String("job", "", "filter by job id")
	reviewsListCmd.Flags().Int("limit", 50, "maximum reviews to list")
	reviewsResolveCmd.Flags().String("decision", "", "approve or reject")
	_ = reviewsResolveCmd.MarkFlagRequired("decision")

	reviewsCmd.AddCommand(reviewsListCmd, reviewsShowCmd, reviewsResolveCmd)
	rootCmd.AddCommand(reviewsCmd)
}
