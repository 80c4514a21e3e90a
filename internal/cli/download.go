package cli

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/binvis/binvis/internal/app"
	"github.com/binvis/binvis/internal/domain"
)

// maxListedFailures caps the failure table printed after a batch.
const maxListedFailures = 20

func downloadCmd(version string) *cobra.Command {
	var (
		sel   selection
		quiet bool
	)
	cmd := &cobra.Command{
		Use:   "download",
		Short: "Download, verify and extract archives",
		Long: `Plan every (market, category, symbol, interval, date) combination the portal
publishes, skip those already present under the output directory, and fetch the
rest with bounded concurrency. Each archive is checked against its .CHECKSUM file
before extraction. Interrupt with Ctrl-C: in-flight downloads are aborted and
their partial files removed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := sel.request()
			if err != nil {
				return err
			}

			return withApp(cmd, version, func(a *app.App) error {
				ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
				defer stop()

				bar := newProgressBar(cmd.ErrOrStderr())
				if !quiet {
					a.Governor.OnResult(func(domain.Result) { bar.update(a.Governor.Status()) })
				}

				report, err := a.Download(ctx, req)
				bar.finish()
				if err != nil {
					return err
				}
				printReport(cmd.OutOrStdout(), report)
				return nil
			})
		},
	}
	sel.addFlags(cmd)
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "no progress line")
	return cmd
}

// printReport renders the run summary and the first failures.
func printReport(w io.Writer, r domain.RunReport) {
	tw := newTable(w)
	tw.AppendHeader(table.Row{"Run", "Status", "Planned", "Skipped", "Succeeded", "Failed", "Downloaded", "Took"})
	tw.AppendRow(table.Row{
		r.ID, r.Status, r.Planned, r.Skipped, r.Succeeded, r.Failed,
		humanize.Bytes(uint64(r.Bytes)), r.FinishedAt.Sub(r.StartedAt).Round(100 * time.Millisecond),
	})
	tw.Render()

	var failed []domain.Result
	for _, res := range r.Results {
		if !res.OK {
			failed = append(failed, res)
		}
	}
	if len(failed) == 0 {
		return
	}
	sort.Slice(failed, func(i, j int) bool { return failed[i].Task.RemoteAddress < failed[j].Task.RemoteAddress })

	ft := newTable(w)
	ft.AppendHeader(table.Row{"Reason", "Archive", "Error"})
	for i, res := range failed {
		if i == maxListedFailures {
			ft.AppendFooter(table.Row{"", fmt.Sprintf("... %d more", len(failed)-maxListedFailures), ""})
			break
		}
		ft.AppendRow(table.Row{res.Reason, res.Task.RemoteAddress, res.Error})
	}
	ft.Render()
}
