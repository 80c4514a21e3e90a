package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/binvis/binvis/internal/domain"
	"github.com/binvis/binvis/internal/infra/sqlite"
)

func historyCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history [RUN_ID]",
		Short: "Show recorded download runs",
		Long: `Without arguments, list the most recent runs recorded with --report.
With a run ID, list that run's per-archive results, failures first.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			db, err := sqlite.Open(cfg.Report.Dir)
			if err != nil {
				return err
			}
			defer db.Close()

			if len(args) == 0 {
				runs, err := db.ListRuns(limit)
				if err != nil {
					return err
				}
				printRuns(cmd.OutOrStdout(), runs)
				return nil
			}

			run, err := db.GetRun(args[0])
			if err != nil {
				return err
			}
			if run == nil {
				return fmt.Errorf("run %q not found", args[0])
			}
			results, err := db.RunResults(run.ID)
			if err != nil {
				return err
			}
			printRuns(cmd.OutOrStdout(), []domain.RunReport{*run})
			printResults(cmd.OutOrStdout(), results)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to list (0 = all)")
	return cmd
}

func printRuns(w io.Writer, runs []domain.RunReport) {
	tw := newTable(w)
	tw.AppendHeader(table.Row{"Run", "Started", "Status", "Planned", "Skipped", "Succeeded", "Failed", "Downloaded"})
	for _, r := range runs {
		tw.AppendRow(table.Row{
			r.ID, humanize.Time(r.StartedAt), r.Status, r.Planned, r.Skipped, r.Succeeded, r.Failed,
			humanize.Bytes(uint64(r.Bytes)),
		})
	}
	tw.Render()
}

func printResults(w io.Writer, results []domain.Result) {
	tw := newTable(w)
	tw.AppendHeader(table.Row{"OK", "Reason", "Archive", "Size", "Took"})
	for _, res := range results {
		tw.AppendRow(table.Row{
			res.OK, res.Reason, res.Task.RemoteAddress, humanize.Bytes(uint64(res.Bytes)),
			res.Duration.Round(time.Millisecond),
		})
	}
	tw.Render()
}
