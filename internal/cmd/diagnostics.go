package cmd

import (
	"github.com/spf13/cobra"

	"github.com/labgate/labgate/internal/core/store"
	"github.com/labgate/labgate/internal/observability"
	"github.com/labgate/labgate/internal/output"
)

var diagnosticsCmd = &cobra.Command{
	Use:   "diagnostics [query-id...]",
	Short: "Show cache and rate-limit state of queries",
	Long: `Show cache age, validity and rate-limit state per query.

Query ids look like lab:7, user:0x... or providers. Without ids every query
with a persisted snapshot is shown.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		target, err := resolveOutput(cmd, "diagnostics")
		if err != nil {
			return err
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		rt, err := buildRuntime(cmd.Context(), cfg, observability.CLILogger)
		if err != nil {
			return err
		}
		defer rt.Close() // nolint:errcheck // best-effort cleanup

		ids := args
		if len(ids) == 0 && rt.Store != nil {
			entries, err := rt.Store.ListSnapshots(cmd.Context(), store.SnapshotQuery{All: true})
			if err != nil {
				return err
			}
			for _, entry := range entries {
				ids = append(ids, entry.QueryID)
			}
		}

		diags := rt.Service.Diagnostics(cmd.Context(), ids...)
		rendered, err := output.NewFormatter(target.format).FormatDiagnostics(diags)
		if err != nil {
			return err
		}
		return target.write(cmd, rendered)
	},
}

func init() {
	addOutputFlags(diagnosticsCmd)
	rootCmd.AddCommand(diagnosticsCmd)
}
