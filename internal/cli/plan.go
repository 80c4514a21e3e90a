package cli

import (
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/binvis/binvis/internal/app"
	"github.com/binvis/binvis/internal/domain"
	"github.com/binvis/binvis/internal/infra/planner"
)

// planOutput is the structured form of a dry run.
type planOutput struct {
	Identifiers []string      `json:"identifiers" yaml:"identifiers"`
	Skipped     int           `json:"skipped" yaml:"skipped"`
	Tasks       []domain.Task `json:"tasks" yaml:"tasks"`
}

func planCmd() *cobra.Command {
	var (
		sel    selection
		format string
	)
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "List the archives a download would fetch",
		Long: `Run the planner without downloading anything. Symbols are still resolved
over the network when --symbols is not given. Nothing is written to disk.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(format); err != nil {
				return err
			}
			req, err := sel.request()
			if err != nil {
				return err
			}

			return withApp(cmd, "", func(a *app.App) error {
				plan, err := a.Plan(cmd.Context(), req)
				if err != nil {
					return err
				}
				if plan.NoIdentifiers {
					return fmt.Errorf("no identifiers found for the selected markets")
				}
				return printPlan(cmd.OutOrStdout(), format, plan)
			})
		},
	}
	sel.addFlags(cmd)
	cmd.Flags().StringVarP(&format, "format", "f", formatTable, "output format: table, json or yaml")
	return cmd
}

func printPlan(w io.Writer, format string, plan planner.Plan) error {
	if format != formatTable {
		tasks := plan.Tasks
		if tasks == nil {
			tasks = []domain.Task{}
		}
		return printStructured(w, format, planOutput{
			Identifiers: plan.Identifiers,
			Skipped:     plan.Skipped,
			Tasks:       tasks,
		})
	}

	tw := newTable(w)
	tw.AppendHeader(table.Row{"Market", "Granularity", "Category", "Symbol", "Interval", "Period", "Local path"})
	for _, t := range plan.Tasks {
		tw.AppendRow(table.Row{t.Market, t.Granularity, t.Category, t.Identifier, t.Interval, t.PeriodLabel, t.LocalPath})
	}
	tw.AppendFooter(table.Row{"", "", "", "", "", "tasks", len(plan.Tasks)})
	tw.AppendFooter(table.Row{"", "", "", "", "", "skipped", plan.Skipped})
	tw.Render()
	return nil
}
