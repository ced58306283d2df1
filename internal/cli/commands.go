package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/tbourn/welcome-tracker/internal/repo"
	"github.com/tbourn/welcome-tracker/internal/services"
)

var (
	okColor   = color.New(color.FgGreen, color.Bold)
	linkColor = color.New(color.FgCyan)
	dimColor  = color.New(color.Faint)
)

// commandContext cancels on SIGINT/SIGTERM and on SCAN_TIMEOUT.
func (e *env) commandContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	if d := e.cfg.Reconcile.ScanTimeout; d > 0 {
		tctx, cancel := context.WithTimeout(ctx, d)
		return tctx, func() { cancel(); stop() }
	}
	return ctx, stop
}

func newRefreshCommand(e *env, opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Scan the welcome channel once and exit",
		Long: `Walk the welcome channel from its newest message down to the cutoff,
recording joins and welcome replies. Safe to repeat.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			eng, err := e.reconciler(nil)
			if err != nil {
				return err
			}
			ctx, cancel := e.commandContext(cmd.Context())
			defer cancel()

			res, err := eng.Refresh(ctx)
			if err != nil {
				return err
			}
			return printScan(cmd.OutOrStdout(), res, opts.JSON)
		},
	}
}

func newUnwelcomedCommand(e *env, opts *RootOptions) *cobra.Command {
	var (
		limit     int
		noRefresh bool
	)
	cmd := &cobra.Command{
		Use:   "unwelcomed",
		Short: "Print links to joins nobody has welcomed yet",
		Long: `Refresh (unless --no-refresh), then print deep links to unwelcomed
joins, oldest first. Joins whose message was deleted are pruned.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if limit < 0 || limit > 100 {
				return fmt.Errorf("--limit must be between 0 and 100")
			}
			eng, err := e.reconciler(nil)
			if err != nil {
				return err
			}
			ctx, cancel := e.commandContext(cmd.Context())
			defer cancel()

			if !noRefresh {
				if _, err := eng.Refresh(ctx); err != nil {
					return err
				}
			}
			links, err := eng.ListUnwelcomed(ctx, limit)
			if err != nil {
				return err
			}
			return printLinks(cmd.OutOrStdout(), links, opts.JSON)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "max links (0 = UNWELCOMED_LIMIT)")
	cmd.Flags().BoolVar(&noRefresh, "no-refresh", false, "list from the store without scanning first")
	return cmd
}

func newStatsCommand(e *env, opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print counters over the local store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := repo.ReconcileStats(cmd.Context(), e.db)
			if err != nil {
				return err
			}
			return printStats(cmd.OutOrStdout(), st, opts.JSON)
		},
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printScan(w io.Writer, res services.ScanResult, asJSON bool) error {
	if asJSON {
		return printJSON(w, res)
	}
	okColor.Fprint(w, "Refreshed! ")
	fmt.Fprintf(w, "%d new messages over %d pages (%d joins, %d welcomes, %d ignored)\n",
		res.Processed(), res.Pages, res.Joins, res.Welcomes, res.Ignored)
	return nil
}

func printLinks(w io.Writer, links []string, asJSON bool) error {
	if asJSON {
		if links == nil {
			links = []string{}
		}
		return printJSON(w, links)
	}
	if len(links) == 0 {
		dimColor.Fprintln(w, "No unwelcomed joins.")
		return nil
	}
	for _, l := range links {
		linkColor.Fprintln(w, l)
	}
	return nil
}

func printStats(w io.Writer, st repo.Stats, asJSON bool) error {
	if asJSON {
		return printJSON(w, st)
	}
	newest := st.NewestJoin
	if newest == "" {
		newest = "-"
	}
	fmt.Fprintf(w, "joins:       %d\n", st.Joins)
	fmt.Fprintf(w, "welcomed:    %d\n", st.Welcomed)
	fmt.Fprintf(w, "unwelcomed:  %d\n", st.Unwelcomed)
	fmt.Fprintf(w, "processed:   %d\n", st.Processed)
	fmt.Fprintf(w, "newest join: %s\n", newest)
	return nil
}
