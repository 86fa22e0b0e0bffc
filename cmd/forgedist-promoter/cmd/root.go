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
	"github.com/forgedist/forgedist/internal/service/promoter"
	"github.com/forgedist/forgedist/internal/version"
)

var (
	// configPath stores the path to the configuration YAML file.
	configPath string
	// overrideVersion promotes a specific staged version instead of the
	// one the release descriptor names.
	overrideVersion string
	// reportPath receives a YAML run report when set.
	reportPath string
	// lockPath overrides the single-flight marker location.
	lockPath string
	// logLevel selects the minimum log level.
	logLevel string
	// dryRun stops the pipeline before anything is written to production.
	dryRun bool

	// rootCmd represents the base command for promoting a channel.
	rootCmd = &cobra.Command{
		Use:   "forgedist-promoter <channel>",
		Short: "Promote a channel's staged release into production.",
		Long: `Promotes the staged release of a channel into the production store.

The staged artifacts are verified against their checksums, signed, described
by a deterministic manifest and copied into production. The channel pointer
is replaced last, atomically, so installers either see the previous release
or the new one, never a mix. Re-running a finished promotion writes nothing.

The exit code tells the failure class apart: 0 success, 3 nothing staged,
4 integrity violation, 5 signing backend unreachable, 6 signing rejected,
7 incomplete release, 8 store failure, 9 cutover conflict, 1 anything else.`,
		Args: cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			applyLogLevel()

			options := &promoter.Options{
				ConfigPath:      configPath,
				Channel:         args[0],
				OverrideVersion: overrideVersion,
				ReportPath:      reportPath,
				LockPath:        lockPath,
				DryRun:          dryRun,
			}

			return promoter.Run(ctx, options)
		},
		SilenceUsage: true,
	}
)

// Execute runs the forgedist-promoter CLI. Failures exit with the code
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
	rootCmd.Flags().StringVarP(&overrideVersion, "release", "r", "", "promote this staged version instead of the descriptor's")
	rootCmd.Flags().StringVar(&reportPath, "report", "", "write a YAML run report to this path")
	rootCmd.Flags().StringVar(&lockPath, "lock", "", "override the single-flight marker path")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "info", "minimum log level (debug, info, warn, error)")
	rootCmd.Flags().BoolVar(&dryRun, "dry-run", false, "verify and build the manifest, write nothing to production")
}
