package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"standin/internal/config"
)

func newRootCmd(cfg *config.Config) *cobra.Command {
	var logLevel string

	cmd := &cobra.Command{
		Use:   "standin",
		Short: "Standin provides local disk-backed blob and queue stores",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			warning, err := configureLoggerForCLI(logLevel, cfg.LogLevel)
			if err != nil {
				return err
			}
			if warning != "" {
				fmt.Fprintln(os.Stderr, warning)
			}
			return nil
		},
	}

	cmd.Version = version
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")

	cmd.AddCommand(
		newBlobCmd(cfg),
		newQueueCmd(cfg),
	)

	return cmd
}
