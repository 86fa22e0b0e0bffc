package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/forgedist/forgedist/internal/logger"
	"github.com/forgedist/forgedist/internal/signing"
	"github.com/forgedist/forgedist/internal/version"
)

var (
	// privatePath is where the private key file is written.
	privatePath string
	// publicPath is where the public key file is written.
	publicPath string
	// force allows overwriting existing key files.
	force bool
	// logLevel selects the minimum log level.
	logLevel string

	// rootCmd represents the base command for generating signing keys.
	rootCmd = &cobra.Command{
		Use:   "forgedist-keygen",
		Short: "Generate an Ed25519 release-signing keypair.",
		Long: `Generates a fresh Ed25519 keypair for release signing and writes
both halves as single-line hex files. The private key file is created
operator-readable only.

Existing key files are never overwritten unless --force is given.`,
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			applyLogLevel()

			return generate(context.Background())
		},
		SilenceUsage: true,
	}
)

// Execute runs the forgedist-keygen CLI with error handling.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// generate creates the keypair and writes both key files.
func generate(ctx context.Context) error {
	ctx = logger.WithName(ctx, "forgedist-keygen")

	if !force {
		for _, path := range []string{privatePath, publicPath} {
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("key file %s already exists, pass --force to overwrite", path)
			}
		}
	}

	keypair, err := signing.Generate()
	if err != nil {
		return err
	}

	if err := keypair.Save(privatePath, publicPath); err != nil {
		return err
	}

	logger.InfoKV(ctx, "Generated signing keypair",
		"key_id", keypair.KeyID(),
		"private_key", privatePath,
		"public_key", publicPath)

	return nil
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
	rootCmd.Flags().StringVar(&privatePath, "private", "forgedist-signing.key", "output path for the private key")
	rootCmd.Flags().StringVar(&publicPath, "public", "forgedist-signing.pub", "output path for the public key")
	rootCmd.Flags().BoolVar(&force, "force", false, "overwrite existing key files")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "info", "minimum log level (debug, info, warn, error)")
}
