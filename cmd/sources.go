package main

import (
	"cmp"
	"fmt"
	"os"
	"slices"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/studio-catalog/internal/model"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List and check configured data sources",
}

var sourcesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered sources in priority order",
	RunE: func(cmd *cobra.Command, _ []string) error {
		reg, err := buildRegistry(cfg, sourceDeps(cfg))
		if err != nil {
			return err
		}
		sources := reg.Sources()
		if len(sources) == 0 {
			fmt.Fprintln(os.Stderr, "No sources configured.")
			return nil
		}
		slices.SortStableFunc(sources, func(a, b model.SourceInfo) int {
			return cmp.Compare(b.Priority, a.Priority)
		})
		formatSourcesList(os.Stdout, sources)
		return nil
	},
}

var sourcesTestCmd = &cobra.Command{
	Use:   "test [source-id...]",
	Short: "Check that sources are reachable",
	Long:  "Checks each named source, or every registered source when none is named.",
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := buildRegistry(cfg, sourceDeps(cfg))
		if err != nil {
			return err
		}
		ids := args
		if len(ids) == 0 {
			for _, s := range reg.Sources() {
				ids = append(ids, s.ID)
			}
		}

		failed := 0
		for _, id := range ids {
			if err := reg.TestConnection(cmd.Context(), id); err != nil {
				failed++
				fmt.Fprintf(os.Stdout, "%-12s FAIL  %v\n", id, err)
				continue
			}
			fmt.Fprintf(os.Stdout, "%-12s ok\n", id)
		}
		if failed > 0 {
			return eris.Errorf("%d of %d sources unreachable", failed, len(ids))
		}
		return nil
	},
}

func init() {
	sourcesCmd.AddCommand(sourcesListCmd, sourcesTestCmd)
	rootCmd.AddCommand(sourcesCmd)
}
