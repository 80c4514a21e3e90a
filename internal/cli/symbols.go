package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/binvis/binvis/internal/app"
	"github.com/binvis/binvis/internal/domain"
)

func symbolsCmd() *cobra.Command {
	var (
		market string
		format string
	)
	cmd := &cobra.Command{
		Use:   "symbols",
		Short: "List the trading symbols of a market",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := domain.ParseMarket(market)
			if err != nil {
				return err
			}
			if err := checkFormat(format); err != nil {
				return err
			}

			return withApp(cmd, "", func(a *app.App) error {
				ids, err := a.Resolver.Resolve(cmd.Context(), m)
				if err != nil {
					return err
				}
				if format != formatTable {
					return printStructured(cmd.OutOrStdout(), format, ids)
				}
				for _, id := range ids {
					fmt.Fprintln(cmd.OutOrStdout(), id)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&market, "market", "m", string(domain.MarketSpot), "spot, futures-cm, futures-um or option")
	cmd.Flags().StringVarP(&format, "format", "f", formatTable, "output format: table (one per line), json or yaml")
	return cmd
}
