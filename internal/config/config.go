package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the settings shared by the forgedist binaries.
type Config struct {
	// Staging describes the object store CI uploads fresh builds to.
	Staging StoreConfig `yaml:"staging"`
	// Production describes the object store installers download from.
	Production StoreConfig `yaml:"production"`
	// Endpoint overrides the S3 endpoint (emulator or any S3-compatible
	// store). Empty means the SDK default (real AWS).
	Endpoint string `yaml:"endpoint,omitempty"`
	// Region is the S3 region passed to the SDK.
	Region string `yaml:"region,omitempty"`
	// AccessKey and SecretKey are static credentials for S3-compatible
	// stores. Leave empty to use the SDK default credential chain.
	AccessKey string `yaml:"access_key,omitempty"`
	SecretKey string `yaml:"secret_key,omitempty"`
	// Channels is the set of release channels promotion is allowed for.
	Channels []string `yaml:"channels"`
	// Signing configures how detached signatures are produced.
	Signing SigningConfig `yaml:"signing"`
	// Timeout bounds each individual store or signer call.
	Timeout time.Duration `yaml:"timeout"`
	// Retry bounds the transient-error retry loop around store calls.
	Retry RetryConfig `yaml:"retry"`
	// CopyConcurrency caps parallel artifact uploads during publishing.
	CopyConcurrency int `yaml:"copy_concurrency"`
}

// StoreConfig locates one object store tree.
type StoreConfig struct {
	// Bucket is the S3 bucket name.
	Bucket string `yaml:"bucket"`
	// Prefix is the key prefix all of the tree's objects live under.
	Prefix string `yaml:"prefix,omitempty"`
}

// SigningConfig selects and parameterizes the signing backend.
type SigningConfig struct {
	// Mode is "local" (Ed25519 key file) or "remote" (HTTP signing service).
	Mode string `yaml:"mode"`
	// KeyPath is the Ed25519 private key file used in local mode.
	KeyPath string `yaml:"key_path"`
	// PublicKeyPath is the Ed25519 public key used for verification and
	// for checking reusable pre-existing signatures.
	PublicKeyPath string `yaml:"public_key_path"`
	// RemoteURL is the signing service base URL used in remote mode.
	RemoteURL string `yaml:"remote_url,omitempty"`
}

// RetryConfig bounds the backoff loop for transient store/signer errors.
type RetryConfig struct {
	// Attempts is the total attempt ceiling, first try included.
	Attempts int `yaml:"attempts"`
	// Delay is the initial backoff delay; it doubles per attempt.
	Delay time.Duration `yaml:"delay"`
	// MaxDelay caps the per-attempt backoff delay.
	MaxDelay time.Duration `yaml:"max_delay"`
}

const (
	// DefaultConfigFilename is the default filename for forgedist settings.
	DefaultConfigFilename = "forgedist-settings.yaml"

	// DefaultTimeout is the default duration for store and signer calls.
	DefaultTimeout = 30 * time.Second

	// DefaultRegion is used when no region is configured; S3-compatible
	// emulators accept any region string.
	DefaultRegion = "us-east-1"

	// DefaultStagingPrefix is where CI stages fresh builds.
	DefaultStagingPrefix = "builds"

	// DefaultRetryAttempts is the transient-error attempt ceiling.
	DefaultRetryAttempts = 4

	// DefaultRetryDelay is the initial backoff delay.
	DefaultRetryDelay = 500 * time.Millisecond

	// DefaultRetryMaxDelay caps the backoff delay.
	DefaultRetryMaxDelay = 8 * time.Second

	// DefaultCopyConcurrency caps parallel uploads during publishing.
	DefaultCopyConcurrency = 4

	// DefaultFilePermissions is the default file permission for config files.
	DefaultFilePermissions = 0o600

	// SigningModeLocal signs with an Ed25519 key file on disk.
	SigningModeLocal = "local"

	// SigningModeRemote signs through an HTTP signing service.
	SigningModeRemote = "remote"
)

// DefaultChannels is the channel set assumed when the settings file declares
// none. Custom channels are added through the settings file.
//
//nolint:gochecknoglobals // Shared immutable default.
var DefaultChannels = []string{"stable", "beta", "nightly"}

var (
	// errConfigIsNotSet is returned when a nil configuration is provided.
	errConfigIsNotSet = errors.New("configuration is not set")
	// errStagingBucketRequired is returned when the staging bucket is missing.
	errStagingBucketRequired = errors.New("staging bucket must be provided")
	// errProductionBucketRequired is returned when the production bucket is missing.
	errProductionBucketRequired = errors.New("production bucket must be provided")
	// errDuplicateChannel is returned when the channel list repeats a name.
	errDuplicateChannel = errors.New("duplicate channel name")
	// errEmptyChannel is returned when the channel list contains a blank name.
	errEmptyChannel = errors.New("channel name must not be empty")
	// errBadSigningMode is returned for signing modes other than local/remote.
	errBadSigningMode = errors.New(`signing mode must be "local" or "remote"`)
	// errSigningKeyRequired is returned when local mode lacks a key path.
	errSigningKeyRequired = errors.New("signing key path must be provided in local mode")
	// errRemoteURLRequired is returned when remote mode lacks a service URL.
	errRemoteURLRequired = errors.New("signing remote URL must be provided in remote mode")
)

// Load reads configuration from the provided path and validates essential fields.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigFilename
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(contents, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes the configuration to the provided path.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultConfigFilename
	}

	if err := Validate(cfg); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	// Restrict permissions: the file may carry store credentials.
	if err := os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// Validate checks the provided settings for required fields and formatting,
// filling defaults for everything optional.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if cfg.Staging.Bucket == "" {
		return errStagingBucketRequired
	}

	if cfg.Production.Bucket == "" {
		return errProductionBucketRequired
	}

	if cfg.Endpoint != "" {
		if _, err := url.ParseRequestURI(cfg.Endpoint); err != nil {
			return fmt.Errorf("invalid endpoint URL: %w", err)
		}
	}

	if err := validateChannels(cfg); err != nil {
		return err
	}

	if err := validateSigning(&cfg.Signing); err != nil {
		return err
	}

	if cfg.Region == "" {
		cfg.Region = DefaultRegion
	}

	if cfg.Staging.Prefix == "" {
		cfg.Staging.Prefix = DefaultStagingPrefix
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	if cfg.Retry.Attempts <= 0 {
		cfg.Retry.Attempts = DefaultRetryAttempts
	}

	if cfg.Retry.Delay <= 0 {
		cfg.Retry.Delay = DefaultRetryDelay
	}

	if cfg.Retry.MaxDelay <= 0 {
		cfg.Retry.MaxDelay = DefaultRetryMaxDelay
	}

	if cfg.CopyConcurrency <= 0 {
		cfg.CopyConcurrency = DefaultCopyConcurrency
	}

	return nil
}

// HasChannel reports whether the settings allow promotion for the channel.
func (c *Config) HasChannel(name string) bool {
	return slices.Contains(c.Channels, name)
}

// validateChannels normalizes the channel list and rejects duplicates.
func validateChannels(cfg *Config) error {
	if len(cfg.Channels) == 0 {
		cfg.Channels = slices.Clone(DefaultChannels)
		return nil
	}

	seen := make(map[string]struct{}, len(cfg.Channels))

	for i, name := range cfg.Channels {
		name = strings.TrimSpace(name)
		if name == "" {
			return fmt.Errorf("channel %d: %w", i, errEmptyChannel)
		}

		if _, dup := seen[name]; dup {
			return fmt.Errorf("%s: %w", name, errDuplicateChannel)
		}

		seen[name] = struct{}{}
		cfg.Channels[i] = name
	}

	return nil
}

// validateSigning fills signing defaults and rejects inconsistent modes.
func validateSigning(s *SigningConfig) error {
	if s.Mode == "" {
		s.Mode = SigningModeLocal
	}

	switch s.Mode {
	case SigningModeLocal:
		if s.KeyPath == "" {
			return errSigningKeyRequired
		}
	case SigningModeRemote:
		if s.RemoteURL == "" {
			return errRemoteURLRequired
		}

		if _, err := url.ParseRequestURI(s.RemoteURL); err != nil {
			return fmt.Errorf("invalid signing remote URL: %w", err)
		}
	default:
		return fmt.Errorf("%q: %w", s.Mode, errBadSigningMode)
	}

	return nil
}
