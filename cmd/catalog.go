package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/studio-catalog/internal/store"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Browse catalog studios",
}

var catalogListCmd = &cobra.Command{
	Use:   "list",
	Short: "List studios",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		query, _ := cmd.Flags().GetString("query")
		sourceID, _ := cmd.Flags().GetString("source")
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		studios, err := st.ListEntities(ctx, store.EntityFilter{
			Query:  query,
			Source: sourceID,
			Limit:  limit,
			Offset: offset,
		})
		if err != nil {
			return eris.Wrap(err, "catalog list")
		}
		if len(studios) == 0 {
			fmt.Fprintln(os.Stderr, "No studios found.")
			return nil
		}

		formatStudiosList(os.Stdout, studios)
		return nil
	},
}

var catalogShowCmd = &cobra.Command{
	Use:   "show <studio-id>",
	Short: "Show a studio with its provenance and merge history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		studio, err := st.GetEntity(ctx, args[0])
		if err != nil {
			return eris.Wrapf(err, "catalog show %s", args[0])
		}
		return printJSON(os.Stdout, studio)
	},
}

func init() {
	catalogListCmd.Flags().String("query", "", "match studio names containing this text")
	catalogListCmd.Flags().String("source", "", "only studios seen in this source")
	catalogListCmd.Flags().Int("limit", 50, "maximum studios to list")
	catalogListCmd.Flags().Int("offset", 0, "studios to skip")

	catalogCmd.AddCommand(catalogListCmd, catalogShowCmd)
	rootCmd.AddCommand(catalogCmd)
}
