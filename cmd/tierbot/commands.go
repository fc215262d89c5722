package main

import (
	"fmt"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/devrev/tierbot/internal/catalog"
	"github.com/devrev/tierbot/internal/config"
	"github.com/devrev/tierbot/internal/journal"
	"github.com/devrev/tierbot/internal/model"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// offline loads config without requiring a token and builds a quiet logger
func offline(opts *options) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Read(opts.configPath)
	if err != nil {
		return nil, nil, err
	}
	if !opts.verbose {
		return cfg, zap.NewNop(), nil
	}
	logger, err := buildLogger(cfg.Logging, true)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func newEntitlementsCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "entitlements",
		Short: "Inspect stored entitlements",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list [tier]",
		Short: "List users holding a tier, or every record",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var filter *model.Tier
			if len(args) == 1 {
				t, err := model.ParseGrantableTier(args[0])
				if err != nil {
					return err
				}
				filter = &t
			}

			cfg, logger, err := offline(opts)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			st, err := openStore(ctx, cfg, logger, nil)
			if err != nil {
				return fmt.Errorf("failed to open entitlement store: %w", err)
			}
			defer st.Close()

			snapshot := st.Snapshot(ctx)
			records := make([]model.EntitlementRecord, 0, len(snapshot))
			for _, rec := range snapshot {
				if filter != nil && rec.Tier != *filter {
					continue
				}
				records = append(records, rec)
			}
			sort.Slice(records, func(i, j int) bool {
				if records[i].Tier != records[j].Tier {
					return records[i].Tier > records[j].Tier
				}
				return records[i].UserID < records[j].UserID
			})

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "USER\tTIER\tGRANTED")
			for _, rec := range records {
				granted := "-"
				if !rec.GrantedAt.IsZero() {
					granted = rec.GrantedAt.UTC().Format(time.RFC3339)
				}
				fmt.Fprintf(w, "%d\t%s\t%s\n", rec.UserID, rec.Tier, granted)
			}
			return w.Flush()
		},
	})

	return cmd
}

func newCatalogCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Work with menu catalogs",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "check [path]",
		Short: "Validate a catalog file, or the configured one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			} else {
				cfg, _, err := offline(opts)
				if err != nil {
					return err
				}
				path = cfg.Catalog.Path
			}

			cat, err := catalog.Load(path)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "catalog %s OK: %d nodes, %d tokens\n",
				cat.Version, len(cat.NodeIDs()), len(cat.Tokens()))
			return nil
		},
	})

	return cmd
}

func newJournalCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Read the admin audit journal",
	}

	var n int
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Print the most recent journal entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := offline(opts)
			if err != nil {
				return err
			}

			entries, err := journal.Tail(cfg.Journal.Path, n, logger)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tOP\tUSER\tTIER\tPREVIOUS\tACTOR")
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\n",
					e.Timestamp.UTC().Format(time.RFC3339), e.Operation, e.UserID,
					dash(e.Tier), dash(e.Previous), e.Actor)
			}
			return w.Flush()
		},
	}
	tail.Flags().IntVarP(&n, "lines", "n", 20, "number of entries to show")
	cmd.AddCommand(tail)

	return cmd
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
