package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/spf13/viper"
)

// Config defines the application configuration structure
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Ingest   IngestConfig   `mapstructure:"ingest"`
	Export   ExportConfig   `mapstructure:"export"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Server   ServerConfig   `mapstructure:"server"`
}

// DatabaseConfig defines the relational store connection
type DatabaseConfig struct {
	Driver          string `mapstructure:"driver"`
	DSN             string `mapstructure:"dsn"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"` // seconds
	LogLevel        string `mapstructure:"log_level"`
}

// StorageConfig selects where uploaded files live
type StorageConfig struct {
	Backend  string   `mapstructure:"backend"` // local or s3
	LocalDir string   `mapstructure:"local_dir"`
	S3       S3Config `mapstructure:"s3"`
}

// S3Config defines the object store used when backend is s3
type S3Config struct {
	Bucket          string `mapstructure:"bucket"`
	Region          string `mapstructure:"region"`
	Prefix          string `mapstructure:"prefix"`
	Endpoint        string `mapstructure:"endpoint"`
	PathStyle       bool   `mapstructure:"path_style"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

// IngestConfig tunes the processing pipeline
type IngestConfig struct {
	BatchSize         int     `mapstructure:"batch_size"`
	MaxFileSize       int64   `mapstructure:"max_file_size"`
	NumericSampleRows int     `mapstructure:"numeric_sample_rows"`
	NumericMinRatio   float64 `mapstructure:"numeric_min_ratio"`
	GroupBySymbol     bool    `mapstructure:"group_by_symbol"`
	FetchTimeout      int     `mapstructure:"fetch_timeout"` // seconds
	FetchRetries      int     `mapstructure:"fetch_retries"`
	FetchRetryDelay   int     `mapstructure:"fetch_retry_delay"` // milliseconds
}

// ExportConfig defines summary export output
type ExportConfig struct {
	OutputDir        string `mapstructure:"output_dir"`
	Format           string `mapstructure:"format"` // csv or parquet
	Compression      string `mapstructure:"compression"`
	PartitionByMonth bool   `mapstructure:"partition_by_month"`
}

// LoggingConfig defines log level, format and destination
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
	MaxAge int    `mapstructure:"max_age"` // days, file output only
}

// ServerConfig defines the HTTP API listener
type ServerConfig struct {
	Address string `mapstructure:"address"`
	Mode    string `mapstructure:"mode"`
}

// envBindings maps nested config keys to environment variables
var envBindings = map[string]string{
	"database.driver":            "DSINGEST_DB_DRIVER",
	"database.dsn":               "DSINGEST_DB_DSN",
	"database.max_open_conns":    "DSINGEST_DB_MAX_OPEN_CONNS",
	"database.max_idle_conns":    "DSINGEST_DB_MAX_IDLE_CONNS",
	"database.conn_max_lifetime": "DSINGEST_DB_CONN_MAX_LIFETIME",
	"database.log_level":         "DSINGEST_DB_LOG_LEVEL",

	"storage.backend":              "DSINGEST_STORAGE_BACKEND",
	"storage.local_dir":            "DSINGEST_STORAGE_LOCAL_DIR",
	"storage.s3.bucket":            "DSINGEST_S3_BUCKET",
	"storage.s3.region":            "DSINGEST_S3_REGION",
	"storage.s3.prefix":            "DSINGEST_S3_PREFIX",
	"storage.s3.endpoint":          "DSINGEST_S3_ENDPOINT",
	"storage.s3.path_style":        "DSINGEST_S3_PATH_STYLE",
	"storage.s3.access_key_id":     "DSINGEST_S3_ACCESS_KEY_ID",
	"storage.s3.secret_access_key": "DSINGEST_S3_SECRET_ACCESS_KEY",

	"ingest.batch_size":          "DSINGEST_BATCH_SIZE",
	"ingest.max_file_size":       "DSINGEST_MAX_FILE_SIZE",
	"ingest.numeric_sample_rows": "DSINGEST_NUMERIC_SAMPLE_ROWS",
	"ingest.numeric_min_ratio":   "DSINGEST_NUMERIC_MIN_RATIO",
	"ingest.group_by_symbol":     "DSINGEST_GROUP_BY_SYMBOL",
	"ingest.fetch_timeout":       "DSINGEST_FETCH_TIMEOUT",
	"ingest.fetch_retries":       "DSINGEST_FETCH_RETRIES",
	"ingest.fetch_retry_delay":   "DSINGEST_FETCH_RETRY_DELAY",

	"export.output_dir":         "DSINGEST_EXPORT_DIR",
	"export.format":             "DSINGEST_EXPORT_FORMAT",
	"export.compression":        "DSINGEST_EXPORT_COMPRESSION",
	"export.partition_by_month": "DSINGEST_EXPORT_PARTITION_BY_MONTH",

	"logging.level":   "DSINGEST_LOG_LEVEL",
	"logging.format":  "DSINGEST_LOG_FORMAT",
	"logging.output":  "DSINGEST_LOG_OUTPUT",
	"logging.max_age": "DSINGEST_LOG_MAX_AGE",

	"server.address": "DSINGEST_SERVER_ADDRESS",
	"server.mode":    "DSINGEST_SERVER_MODE",
}

// LoadConfig loads configuration from file and overrides with environment variables.
// A missing file is not an error; environment variables and defaults are used instead.
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("DSINGEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return Config{}, fmt.Errorf("error binding %s: %w", env, err)
		}
	}

	// values whose zero is meaningful cannot be defaulted after unmarshal
	v.SetDefault("ingest.group_by_symbol", true)
	v.SetDefault("ingest.numeric_sample_rows", 1) // 0 samples every row
	v.SetDefault("ingest.numeric_min_ratio", 1.0)

	if err := v.ReadInConfig(); err != nil {
		if !isNotFound(err) {
			return Config{}, fmt.Errorf("error reading config file %s: %w", path, err)
		}
	}

	// environment variables take precedence over file values
	v.AutomaticEnv()

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return Config{}, fmt.Errorf("error unmarshaling config: %w", err)
	}

	applyDefaults(&config)

	if err := config.Validate(); err != nil {
		return Config{}, err
	}
	return config, nil
}

func isNotFound(err error) bool {
	if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		return true
	}
	// SetConfigFile reports a missing path as an fs error
	return errors.Is(err, fs.ErrNotExist)
}

// Validate checks values that have no safe default
func (c Config) Validate() error {
	switch c.Storage.Backend {
	case "local":
	case "s3":
		if c.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required when storage.backend is s3")
		}
	default:
		return fmt.Errorf("unsupported storage backend %q (expected local or s3)", c.Storage.Backend)
	}

	switch c.Export.Format {
	case "csv", "parquet":
	default:
		return fmt.Errorf("unsupported export format %q (expected csv or parquet)", c.Export.Format)
	}

	if c.Ingest.NumericMinRatio <= 0 || c.Ingest.NumericMinRatio > 1 {
		return fmt.Errorf("ingest.numeric_min_ratio must be in (0, 1], got %v", c.Ingest.NumericMinRatio)
	}
	if c.Ingest.NumericSampleRows < 0 {
		return fmt.Errorf("ingest.numeric_sample_rows must not be negative, got %d", c.Ingest.NumericSampleRows)
	}
	return nil
}

// applyDefaults sets default values for any config values not set from file or environment
func applyDefaults(config *Config) {
	// Database defaults
	if config.Database.Driver == "" {
		config.Database.Driver = "mysql"
	}
	if config.Database.DSN == "" {
		config.Database.DSN = "root:root@tcp(127.0.0.1:3306)/dsingest?charset=utf8mb4&parseTime=True&loc=UTC"
	}
	if config.Database.MaxOpenConns == 0 {
		config.Database.MaxOpenConns = 20
	}
	if config.Database.MaxIdleConns == 0 {
		config.Database.MaxIdleConns = 10
	}
	if config.Database.ConnMaxLifetime == 0 {
		config.Database.ConnMaxLifetime = 3600
	}
	if config.Database.LogLevel == "" {
		config.Database.LogLevel = "warn"
	}

	// Storage defaults
	if config.Storage.Backend == "" {
		config.Storage.Backend = "local"
	}
	if config.Storage.LocalDir == "" {
		config.Storage.LocalDir = "./uploads"
	}
	if config.Storage.S3.Region == "" {
		config.Storage.S3.Region = "us-east-1"
	}

	// Ingest defaults
	if config.Ingest.BatchSize == 0 {
		config.Ingest.BatchSize = 500
	}
	if config.Ingest.MaxFileSize == 0 {
		config.Ingest.MaxFileSize = 100 << 20
	}
	if config.Ingest.FetchTimeout == 0 {
		config.Ingest.FetchTimeout = 60
	}
	if config.Ingest.FetchRetryDelay == 0 {
		config.Ingest.FetchRetryDelay = 500
	}

	// Export defaults
	if config.Export.OutputDir == "" {
		config.Export.OutputDir = "./exports"
	}
	if config.Export.Format == "" {
		config.Export.Format = "csv"
	}
	if config.Export.Compression == "" {
		config.Export.Compression = "gzip"
	}

	// Logging defaults
	if config.Logging.Level == "" {
		config.Logging.Level = "info"
	}
	if config.Logging.Format == "" {
		config.Logging.Format = "text"
	}
	if config.Logging.Output == "" {
		config.Logging.Output = "stdout"
	}
	if config.Logging.MaxAge == 0 {
		config.Logging.MaxAge = 7
	}

	// Server defaults
	if config.Server.Address == "" {
		config.Server.Address = ":8080"
	}
	if config.Server.Mode == "" {
		config.Server.Mode = "release"
	}
}
