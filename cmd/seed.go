package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var seedCmd = &cobra.Command{
	Use:   "seed <source-id>",
	Short: "Bulk-load a source into an empty catalog",
	Long:  "Normalizes every record of the source and writes it straight to the catalog without matching. Use it once to bootstrap from a trusted list, then run ingest jobs.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, cfg)
		if err != nil {
			return err
		}
		defer env.Close(context.Background())

		n, err := env.Scheduler.Seed(ctx, args[0])
		if err != nil {
			return eris.Wrapf(err, "seed %s", args[0])
		}
		fmt.Fprintf(os.Stdout, "Seeded %d studios from %s.\n", n, args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(seedCmd)
}
