package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/forgedist/forgedist/internal/logger"
	"github.com/forgedist/forgedist/internal/service/emulator"
	"github.com/forgedist/forgedist/internal/version"
)

var (
	// address is the listen address for the emulator.
	address string
	// logLevel selects the minimum log level.
	logLevel string

	// rootCmd represents the base command for the object store emulator.
	rootCmd = &cobra.Command{
		Use:   "forgedist-emulator",
		Short: "Serve a local in-memory object store.",
		Long: `Serves an S3-compatible in-memory object store for local pipeline
runs. Buckets spring into existence on first use and everything is lost
on shutdown.

Point the tools at it by setting the endpoint in the configuration file
to this process's address.`,
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			applyLogLevel()

			return emulator.Run(ctx, &emulator.Options{Address: address})
		},
		SilenceUsage: true,
	}
)

// Execute runs the forgedist-emulator CLI with error handling.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// applyLogLevel applies the --log-level flag to the global logger.
func applyLogLevel() {
	if level, ok := logger.ParseLogLevel(logLevel); ok {
		logger.SetLevel(level)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	// Setup command flags with consistent naming and descriptions.
	rootCmd.Flags().StringVarP(&address, "address", "a", emulator.DefaultAddress, "listen address")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "info", "minimum log level (debug, info, warn, error)")
}
