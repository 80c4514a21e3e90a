package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/binvis/binvis/internal/app"
)

func convertCmd() *cobra.Command {
	var deleteSource bool
	cmd := &cobra.Command{
		Use:   "convert DIR",
		Short: "Convert every CSV file in a directory to Feather",
		Long: `Convert the CSV files directly inside DIR to Feather (Arrow IPC) files
written next to them. Subdirectories are not visited. A file that fails to
convert is left untouched and counted as failed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("delete-source") {
				cfg.Convert.DeleteSource = deleteSource
			}

			logger, closeLog, err := newLogger(cfg.Logging, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer closeLog()

			conv, err := app.NewConverter(cfg.Convert, logger)
			if err != nil {
				return err
			}
			tally, err := conv.ConvertDir(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "converted %d, failed %d\n", tally.Succeeded, tally.Failed)
			return nil
		},
	}
	cmd.Flags().BoolVar(&deleteSource, "delete-source", false, "delete each CSV after a successful conversion")
	return cmd
}
