package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/labgate/labgate/internal/core"
	"github.com/labgate/labgate/internal/observability"
	"github.com/labgate/labgate/internal/output"
	"github.com/labgate/labgate/internal/reservations"
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Query the ledger through the read layer",
	Long: `Run one query through the same read layer the server uses.

Results are answered from the fresh cache, the ledger, or a stale snapshot
when the ledger is unavailable; the source is printed under the table.

Examples:
  labgate query lab 7
  labgate query user 0x5B38Da6a701c568545dCfcB03FcB875f56beddC4 --output-format json
  labgate query providers --out-dir ./reports`,
}

var queryLabCmd = &cobra.Command{
	Use:   "lab <lab-id>",
	Short: "List the reservations of a lab",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runQuery(cmd, core.Scope{Kind: core.ScopeLab, ID: args[0]}.QueryID(),
			func(ctx context.Context, svc *reservations.Service, f output.Formatter) (string, error) {
				result, err := svc.LabReservations(ctx, args[0])
				if err != nil {
					return "", err
				}
				return f.FormatRecords(result)
			})
	},
}

var queryUserCmd = &cobra.Command{
	Use:   "user <address>",
	Short: "List the reservations owned by an address",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runQuery(cmd, core.Scope{Kind: core.ScopeUser, ID: args[0]}.QueryID(),
			func(ctx context.Context, svc *reservations.Service, f output.Formatter) (string, error) {
				result, err := svc.UserReservations(ctx, args[0])
				if err != nil {
					return "", err
				}
				return f.FormatRecords(result)
			})
	},
}

var queryProvidersCmd = &cobra.Command{
	Use:   "providers",
	Short: "List the registered lab providers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runQuery(cmd, reservations.ProvidersQueryID,
			func(ctx context.Context, svc *reservations.Service, f output.Formatter) (string, error) {
				result, err := svc.Providers(ctx)
				if err != nil {
					return "", err
				}
				return f.FormatProviders(result)
			})
	},
}

type queryFunc func(ctx context.Context, svc *reservations.Service, f output.Formatter) (string, error)

func runQuery(cmd *cobra.Command, queryID string, run queryFunc) error {
	target, err := resolveOutput(cmd, queryID)
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

	rendered, err := run(cmd.Context(), rt.Service, output.NewFormatter(target.format))
	if err != nil {
		return err
	}
	return target.write(cmd, rendered)
}

func init() {
	for _, sub := range []*cobra.Command{queryLabCmd, queryUserCmd, queryProvidersCmd} {
		addOutputFlags(sub)
		queryCmd.AddCommand(sub)
	}
	rootCmd.AddCommand(queryCmd)
}
