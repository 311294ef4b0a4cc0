package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/ascii"
	"github.com/spf13/cobra"

	"github.com/labgate/labgate/internal/core/store"
	"github.com/labgate/labgate/internal/output"
	"github.com/labgate/labgate/internal/reservations"
)

var (
	cacheListPrefix string

	cacheClearAll    bool
	cacheClearPrefix string
	cacheClearYes    bool
	cacheClearDryRun bool
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage persisted query snapshots",
	Long: `Manage the query snapshots persisted in the store.

Persisted snapshots let the emergency tier answer after a restart. Clearing
them here does not touch a running server's memory; use
POST /api/v1/cache/invalidate for that.`,
}

var cacheListCmd = &cobra.Command{
	Use:   "list",
	Short: "List persisted snapshots",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := resolveOutputFormat(cmd)
		if err != nil {
			return err
		}
		if format == output.FormatMarkdown {
			return fmt.Errorf("unsupported output format: %s", format)
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		db, err := openStore(cmd.Context(), cfg.Store)
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup

		query := store.SnapshotQuery{Prefix: strings.TrimSpace(cacheListPrefix)}
		if query.Prefix == "" {
			query.All = true
		}

		entries, err := db.ListSnapshots(cmd.Context(), query)
		if err != nil {
			return err
		}
		return writeSnapshotList(cmd.OutOrStdout(), format, entries, storeLocation(cfg.Store))
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear [query-id...]",
	Short: "Remove persisted snapshots",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := resolveOutputFormat(cmd)
		if err != nil {
			return err
		}

		queries, err := snapshotQueries(args, cacheClearAll, cacheClearPrefix)
		if err != nil {
			return err
		}
		if cacheClearAll && !cacheClearYes && !cacheClearDryRun {
			return errors.New("--all requires --yes (or use --dry-run)")
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		db, err := openStore(cmd.Context(), cfg.Store)
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup

		var matched int
		var deleted int64
		for _, query := range queries {
			entries, err := db.ListSnapshots(cmd.Context(), query)
			if err != nil {
				return err
			}
			matched += len(entries)
			if cacheClearDryRun {
				continue
			}
			n, err := db.ResetSnapshots(cmd.Context(), query)
			if err != nil {
				return err
			}
			deleted += n
		}

		return writeClearResult(cmd.OutOrStdout(), format, matched, deleted, cacheClearDryRun)
	},
}

// snapshotQueries turns the clear arguments into store queries. Exactly one
// of ids, --all or --prefix must be given.
func snapshotQueries(ids []string, all bool, prefix string) ([]store.SnapshotQuery, error) {
	prefix = strings.TrimSpace(prefix)
	selectors := 0
	for _, set := range []bool{len(ids) > 0, all, prefix != ""} {
		if set {
			selectors++
		}
	}
	if selectors != 1 {
		return nil, errors.New("specify query ids, --all, or --prefix")
	}

	if all {
		return []store.SnapshotQuery{{All: true}}, nil
	}
	if prefix != "" {
		return []store.SnapshotQuery{{Prefix: reservations.NormalizeQueryID(prefix)}}, nil
	}

	queries := make([]store.SnapshotQuery, 0, len(ids))
	for _, id := range ids {
		id = reservations.NormalizeQueryID(id)
		if id == "" {
			continue
		}
		if id != reservations.ProvidersQueryID {
			if _, ok := reservations.ParseQueryID(id); !ok {
				return nil, fmt.Errorf("invalid query id %q (expected lab:<id>, user:<address> or providers)", id)
			}
		}
		queries = append(queries, store.SnapshotQuery{QueryID: id})
	}
	if len(queries) == 0 {
		return nil, errors.New("specify query ids, --all, or --prefix")
	}
	return queries, nil
}

func writeSnapshotList(w io.Writer, format output.Format, entries []store.SnapshotEntry, location string) error {
	if format == output.FormatJSON {
		payload, err := json.MarshalIndent(entries, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(payload))
		return err
	}

	lines := []string{"Snapshots", "Store: " + location, ""}
	if len(entries) == 0 {
		lines = append(lines, "(no persisted snapshots)")
	}
	for _, entry := range entries {
		lines = append(lines, fmt.Sprintf("%s: captured=%s bytes=%d",
			entry.QueryID, entry.CapturedAt.UTC().Format(time.RFC3339), entry.Bytes))
	}

	_, err := fmt.Fprint(w, ascii.DrawBox(strings.Join(lines, "\n"), 0))
	return err
}

func writeClearResult(w io.Writer, format output.Format, matched int, deleted int64, dryRun bool) error {
	if format == output.FormatJSON {
		payload, err := json.MarshalIndent(map[string]any{
			"matched": matched,
			"deleted": deleted,
			"dry_run": dryRun,
		}, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(payload))
		return err
	}

	if dryRun {
		_, err := fmt.Fprintf(w, "Would delete %d snapshot(s)\n", matched)
		return err
	}
	_, err := fmt.Fprintf(w, "Deleted %d/%d snapshot(s)\n", deleted, matched)
	return err
}

func init() {
	cacheListCmd.Flags().StringVar(&cacheListPrefix, "prefix", "", "List snapshots whose query id starts with prefix")
	cacheListCmd.Flags().String("output-format", string(output.FormatTable), "Output format: table|json")

	cacheClearCmd.Flags().BoolVar(&cacheClearAll, "all", false, "Remove every snapshot")
	cacheClearCmd.Flags().StringVar(&cacheClearPrefix, "prefix", "", "Remove snapshots whose query id starts with prefix")
	cacheClearCmd.Flags().BoolVar(&cacheClearYes, "yes", false, "Confirm removing every snapshot")
	cacheClearCmd.Flags().BoolVar(&cacheClearDryRun, "dry-run", false, "Show what would be removed")
	cacheClearCmd.Flags().String("output-format", string(output.FormatTable), "Output format: table|json")

	cacheCmd.AddCommand(cacheListCmd)
	cacheCmd.AddCommand(cacheClearCmd)
	rootCmd.AddCommand(cacheCmd)
}
