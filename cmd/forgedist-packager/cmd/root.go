package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/forgedist/forgedist/internal/config"
	"github.com/forgedist/forgedist/internal/logger"
	"github.com/forgedist/forgedist/internal/service/packager"
	"github.com/forgedist/forgedist/internal/version"
)

var (
	// configPath stores the path to the configuration YAML file.
	configPath string
	// releaseVersion tags the staged release.
	releaseVersion string
	// releaseDate is the build date in YYYY-MM-DD form.
	releaseDate string
	// components lists the components to stage per target.
	components []string
	// targets lists the platform triples to stage.
	targets []string
	// format selects the archive compression.
	format string
	// payloadSize is the synthetic binary size per artifact, in bytes.
	payloadSize int
	// signKeyPath, when set, also stages detached signatures.
	signKeyPath string
	// skipSource drops the platform-independent source archive.
	skipSource bool
	// logLevel selects the minimum log level.
	logLevel string

	// rootCmd represents the base command for staging a release.
	rootCmd = &cobra.Command{
		Use:   "forgedist-packager <channel>",
		Short: "Stage a synthetic release into the staging bucket.",
		Long: `Stages a synthetic release for one channel: one archive per
component and target plus checksum companions, optionally detached
signatures, and finally the release descriptor that marks the release
ready for promotion.

Intended for exercising the promotion pipeline against the emulator or a
scratch bucket without a real build farm.`,
		Args: cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			applyLogLevel()

			options := &packager.Options{
				ConfigPath:  configPath,
				Channel:     args[0],
				Version:     releaseVersion,
				Date:        releaseDate,
				Components:  components,
				Targets:     targets,
				Format:      format,
				PayloadSize: payloadSize,
				SignKeyPath: signKeyPath,
				SkipSource:  skipSource,
			}

			return packager.Run(ctx, options)
		},
		SilenceUsage: true,
	}
)

// Execute runs the forgedist-packager CLI with error handling.
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
	rootCmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")
	rootCmd.Flags().StringVarP(&releaseVersion, "release", "r", "", "release version to stage (defaults to the date on nightly)")
	rootCmd.Flags().StringVar(&releaseDate, "date", "", "build date as YYYY-MM-DD (defaults to today)")
	rootCmd.Flags().StringSliceVar(&components, "components", nil, "components to stage per target")
	rootCmd.Flags().StringSliceVar(&targets, "targets", nil, "platform triples to stage")
	rootCmd.Flags().StringVar(&format, "format", packager.FormatGzip, "archive compression, gz or zst")
	rootCmd.Flags().IntVar(&payloadSize, "payload-size", packager.DefaultPayloadSize, "synthetic binary size per artifact, in bytes")
	rootCmd.Flags().StringVar(&signKeyPath, "sign-key", "", "private key for staging detached signatures")
	rootCmd.Flags().BoolVar(&skipSource, "skip-source", false, "do not stage the source archive")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "info", "minimum log level (debug, info, warn, error)")
}
