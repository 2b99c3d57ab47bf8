// Package cli implements the cantrace command line tool.
package cli

import (
	"github.com/cantrace/backend/internal/logger"
	"github.com/spf13/cobra"
)

// NewRootCommand builds the cantrace command tree.
func NewRootCommand() *cobra.Command {
	var logLevel string

	root := &cobra.Command{
		Use:   "cantrace",
		Short: "Filter CANopen bus traces",
		Long: `cantrace filters CANopen bus trace files by capture port, node address,
SDO object index, SDO subindex and packet type.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error)")

	newLog := func(cmd *cobra.Command) *logger.Logger {
		return logger.New(logger.Config{
			Level:       logLevel,
			PrettyPrint: true,
			Output:      cmd.ErrOrStderr(),
		})
	}

	root.AddCommand(
		newFilterCommand(),
		newTypesCommand(),
		newWatchCommand(newLog),
	)
	return root
}

// Execute runs the root command.
func Execute() error {
	return NewRootCommand().Execute()
}
