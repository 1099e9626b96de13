package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/studio-catalog/internal/model"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Run ingestion jobs",
	Long:  "Runs one ingestion job for --source, or one per enabled source with --all, and waits for them to finish. Interrupting cancels the jobs at their next record boundary.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		sourceID, _ := cmd.Flags().GetString("source")
		all, _ := cmd.Flags().GetBool("all")
		typ, _ := cmd.Flags().GetString("type")
		since, _ := cmd.Flags().GetString("since")
		entity, _ := cmd.Flags().GetString("entity")
		limit, _ := cmd.Flags().GetInt("limit")

		if (sourceID == "") == !all {
			return eris.New("ingest: pass exactly one of --source or --all")
		}
		jobType := model.JobType(typ)
		if !jobType.Valid() {
			return eris.Errorf("ingest: unknown job type %q", typ)
		}
		opts, err := jobOptions(since, entity, limit)
		if err != nil {
			return err
		}

		env, err := initEnv(ctx, cfg)
		if err != nil {
			return err
		}
		defer env.Close(context.Background())

		ids := []string{sourceID}
		if all {
			ids = env.Registry.Enabled()
			if len(ids) == 0 {
				fmt.Fprintln(os.Stderr, "No enabled sources.")
				return nil
			}
		}

		return runJobs(ctx, env, ids, jobType, opts, cfg.Ingest.MaxConcurrentJobs, os.Stdout)
	},
}

// jobOptions parses the shared job option flags.
func jobOptions(since, entity string, limit int) (model.JobOptions, error) {
	opts := model.JobOptions{EntityID: entity, Limit: limit}
	if limit < 0 {
		return opts, eris.New("limit must not be negative")
	}
	if since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			return opts, eris.Wrap(err, "since must be an RFC 3339 timestamp")
		}
		t = t.UTC()
		opts.Since = &t
	}
	return opts, nil
}

// runJobs runs one job per source, at most maxConcurrent at a time, and
// prints a summary of each as it finishes. It fails if any job did not
// complete.
func runJobs(ctx context.Context, env *catalogEnv, sourceIDs []string, typ model.JobType, opts model.JobOptions, maxConcurrent int, out io.Writer) error {
	g, gctx := errgroup.WithContext(ctx)
	if maxConcurrent > 0 {
		g.SetLimit(maxConcurrent)
	}

	var (
		mu     sync.Mutex
		failed []string
	)
	for _, id := range sourceIDs {
		g.Go(func() error {
			job, err := env.Scheduler.Run(gctx, id, typ, opts)
			if err != nil {
				return eris.Wrapf(err, "ingest %s", id)
			}

			mu.Lock()
			defer mu.Unlock()
			formatJobSummary(out, job)
			_, _ = fmt.Fprintln(out)
			if job.Status != model.JobCompleted {
				failed = append(failed, id)
			}
			zap.L().Info("ingestion job finished",
				zap.String("job_id", job.ID),
				zap.String("source", id),
				zap.String("status", string(job.Status)),
				zap.Int("processed", job.ProcessedItems),
				zap.Int("failed", job.FailedItems),
			)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if len(failed) > 0 {
		return eris.Errorf("ingest: %d of %d jobs did not complete: %v", len(failed), len(sourceIDs), failed)
	}
	return nil
}

func init() {
	f := ingestCmd.Flags()
	f.String("source", "", "source id to ingest")
	f.Bool("all", false, "ingest every enabled source")
	f.String("type", string(model.JobFullSync), "job type: full_sync, incremental or single_entity")
	f.String("since", "", "RFC 3339 cutoff for incremental jobs")
	f.String("entity", "", "source entity id for single_entity jobs")
	f.Int("limit", 0, "maximum records per job (0 = no limit)")
	rootCmd.AddCommand(ingestCmd)
}
