package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/forgedist/forgedist/internal/config"
	"github.com/forgedist/forgedist/internal/domain/release"
	"github.com/forgedist/forgedist/internal/logger"
	"github.com/forgedist/forgedist/internal/service/checker"
	"github.com/forgedist/forgedist/internal/version"
)

var (
	// configPath stores the path to the configuration YAML file.
	configPath string
	// expectedVersion additionally asserts which version must be live.
	expectedVersion string
	// mirrorDir receives a verified local copy of the release when set.
	mirrorDir string
	// logLevel selects the minimum log level.
	logLevel string

	// rootCmd represents the base command for checking a channel.
	rootCmd = &cobra.Command{
		Use:   "forgedist-checker <channel>",
		Short: "Verify the live release of a channel.",
		Long: `Verifies a channel's live release end to end from the consumer side.

The channel pointer must name a manifest whose digest and signature check
out, and every artifact the manifest lists must exist in production with
the declared size, checksum and a valid detached signature.

With --mirror the verified release is additionally materialized in a local
directory, one subdirectory per version, with atomic file replacement.`,
		Args: cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			applyLogLevel()

			options := &checker.Options{
				ConfigPath:      configPath,
				Channel:         args[0],
				ExpectedVersion: expectedVersion,
				MirrorDir:       mirrorDir,
			}

			return checker.Run(ctx, options)
		},
		SilenceUsage: true,
	}
)

// Execute runs the forgedist-checker CLI. Failures exit with the code
// of their class so schedulers can branch without parsing logs.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(release.ExitCode(err))
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
	rootCmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")
	rootCmd.Flags().StringVarP(&expectedVersion, "expect", "e", "", "fail unless the channel points at this version")
	rootCmd.Flags().StringVarP(&mirrorDir, "mirror", "m", "", "mirror the verified release into this directory")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "info", "minimum log level (debug, info, warn, error)")
}
