// Package config loads the sigindex CLI configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

const (
	configName      = ".sigindex"
	configType      = "yaml"
	envPrefix       = "SIGINDEX"
	envKeySeparator = "_"
)

// Defaults.
const (
	DefaultBlobBackend          = "local"
	DefaultBlobDir              = "./sigindex-data/blobs"
	DefaultCheckpointBackend    = "sqlite"
	DefaultCheckpointPath       = "./sigindex-data/checkpoints.db"
	DefaultLockBackend          = "file"
	DefaultLockDir              = "./sigindex-data/locks"
	DefaultCompression          = "zstd"
	DefaultBlockSize            = "1MiB"
	DefaultLogLevel             = "info"
	DefaultLogFormat            = "tint"
	DefaultMaxConcurrentCommits = 1
	DefaultReconcileMinAge      = time.Hour
	DefaultReconcileConcurrency = 4
)

// Config is the CLI configuration.
type Config struct {
	Blob       BlobConfig       `mapstructure:"blob"`
	Checkpoint CheckpointConfig `mapstructure:"checkpoint"`
	Lock       LockConfig       `mapstructure:"lock"`
	Codec      CodecConfig      `mapstructure:"codec"`
	Limits     LimitsConfig     `mapstructure:"limits"`
	Reconcile  ReconcileConfig  `mapstructure:"reconcile"`
	Log        LogConfig        `mapstructure:"log"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	StagingDir string           `mapstructure:"staging_dir"`
}

// BlobConfig selects the blob store.
type BlobConfig struct {
	Backend   string `mapstructure:"backend" validate:"required,oneof=local memory s3 minio postgres sqlite"`
	Dir       string `mapstructure:"dir" validate:"required_if=Backend local"`
	Bucket    string `mapstructure:"bucket" validate:"required_if=Backend s3,required_if=Backend minio"`
	Prefix    string `mapstructure:"prefix"`
	Region    string `mapstructure:"region"`
	Endpoint  string `mapstructure:"endpoint" validate:"required_if=Backend minio"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	DSN       string `mapstructure:"dsn" validate:"required_if=Backend postgres,required_if=Backend sqlite"`
	CacheSize string `mapstructure:"cache_size"`
}

// CheckpointConfig selects the checkpoint repository.
type CheckpointConfig struct {
	Backend string `mapstructure:"backend" validate:"required,oneof=memory sqlite postgres dynamodb badger"`
	Path    string `mapstructure:"path" validate:"required_if=Backend badger,required_if=Backend sqlite"`
	DSN     string `mapstructure:"dsn" validate:"required_if=Backend postgres"`
	Table   string `mapstructure:"table" validate:"required_if=Backend dynamodb"`
	Region  string `mapstructure:"region"`
}

// LockConfig selects the commit lock.
type LockConfig struct {
	Backend string `mapstructure:"backend" validate:"required,oneof=memory file postgres"`
	Dir     string `mapstructure:"dir" validate:"required_if=Backend file"`
}

// CodecConfig configures blob framing.
type CodecConfig struct {
	Compression string `mapstructure:"compression" validate:"omitempty,oneof=none lz4 zstd"`
	BlockSize   string `mapstructure:"block_size"`
}

// LimitsConfig bounds resource usage.
type LimitsConfig struct {
	MaxConcurrentCommits int64  `mapstructure:"max_concurrent_commits" validate:"gte=0"`
	UploadRate           string `mapstructure:"upload_rate"`
}

// ReconcileConfig tunes reconciliation.
type ReconcileConfig struct {
	MinAge           time.Duration `mapstructure:"min_age"`
	Concurrency      int           `mapstructure:"concurrency" validate:"gte=0"`
	DeletesPerSecond float64       `mapstructure:"deletes_per_second" validate:"gte=0"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=tint text json"`
}

// MetricsConfig configures metric export.
type MetricsConfig struct {
	// Textfile is written in the Prometheus text format after each command,
	// for the node_exporter textfile collector.
	Textfile string `mapstructure:"textfile"`
}

// Load reads configuration from file, env vars and defaults.
// If path is non-empty it is used as the config file. Otherwise
// .sigindex.yaml is searched in the working directory and $HOME.
// A missing config file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()

	applyDefaults(v)

	v.SetConfigType(configType)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", envKeySeparator))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(configName)
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

func applyDefaults(v *viper.Viper) {
	v.SetDefault("blob.backend", DefaultBlobBackend)
	v.SetDefault("blob.dir", DefaultBlobDir)
	v.SetDefault("blob.bucket", "")
	v.SetDefault("blob.prefix", "sigindex")
	v.SetDefault("blob.region", "")
	v.SetDefault("blob.endpoint", "")
	v.SetDefault("blob.access_key", "")
	v.SetDefault("blob.secret_key", "")
	v.SetDefault("blob.use_ssl", true)
	v.SetDefault("blob.dsn", "")
	v.SetDefault("blob.cache_size", "0")

	v.SetDefault("checkpoint.backend", DefaultCheckpointBackend)
	v.SetDefault("checkpoint.path", DefaultCheckpointPath)
	v.SetDefault("checkpoint.dsn", "")
	v.SetDefault("checkpoint.table", "")
	v.SetDefault("checkpoint.region", "")

	v.SetDefault("lock.backend", DefaultLockBackend)
	v.SetDefault("lock.dir", DefaultLockDir)

	v.SetDefault("codec.compression", DefaultCompression)
	v.SetDefault("codec.block_size", DefaultBlockSize)

	v.SetDefault("limits.max_concurrent_commits", DefaultMaxConcurrentCommits)
	v.SetDefault("limits.upload_rate", "0")

	v.SetDefault("reconcile.min_age", DefaultReconcileMinAge)
	v.SetDefault("reconcile.concurrency", DefaultReconcileConcurrency)
	v.SetDefault("reconcile.deletes_per_second", 0)

	v.SetDefault("log.level", DefaultLogLevel)
	v.SetDefault("log.format", DefaultLogFormat)

	v.SetDefault("metrics.textfile", "")
	v.SetDefault("staging_dir", "")
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and parses the size settings.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	for name, s := range map[string]string{
		"blob.cache_size":    c.Blob.CacheSize,
		"codec.block_size":   c.Codec.BlockSize,
		"limits.upload_rate": c.Limits.UploadRate,
	} {
		if _, err := parseBytes(s); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

// CacheBytes returns the blob cache size in bytes. Zero disables caching.
func (c *Config) CacheBytes() int64 {
	n, _ := parseBytes(c.Blob.CacheSize)
	return n
}

// BlockBytes returns the codec block size in bytes.
func (c *Config) BlockBytes() int64 {
	n, _ := parseBytes(c.Codec.BlockSize)
	return n
}

// UploadBytesPerSec returns the upload rate limit. Zero means unlimited.
func (c *Config) UploadBytesPerSec() int64 {
	n, _ := parseBytes(c.Limits.UploadRate)
	return n
}

// parseBytes accepts sizes like "64MiB" or "1.5 GB". Empty means zero.
func parseBytes(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, err
	}
	return int64(n), nil
}
