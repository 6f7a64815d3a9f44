// Package config - process configuration from the environment
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/alwitt/ephemera/blobs"
	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gorm.io/gorm/logger"
)

// EnvPrefix prefix of every configuration variable
const EnvPrefix = "EPHEMERA_"

// Config holds all process configuration
type Config struct {
	// LogLevel process log level
	LogLevel string `validate:"oneof=debug info warn error fatal"`
	Database DatabaseConfig
	Crypto   CryptoConfig
	Notes    NoteConfig
	Blobs    BlobConfig
	// ReapInterval time between housekeeping passes
	ReapInterval time.Duration `validate:"gt=0"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	// Driver sqlite or postgres
	Driver string `validate:"oneof=sqlite postgres"`
	// DSN sqlite file path, or postgres connection string
	DSN string `validate:"required"`
	// LogLevel SQL statement log level
	LogLevel string `validate:"oneof=silent error warn info"`
}

// CryptoConfig holds key material and hashing configuration
type CryptoConfig struct {
	// RSACertFile primary RSA certificate PEM
	RSACertFile string `validate:"required,file"`
	// RSAKeyFile primary RSA private key PEM
	RSAKeyFile string `validate:"required,file"`
	// BcryptCost password hashing cost; 0 selects the library default
	BcryptCost int `validate:"gte=0,lte=31"`
}

// NoteConfig holds note lifecycle configuration
type NoteConfig struct {
	// RetentionTTL lifetime of retention copies of read-once notes; 0 disables retention
	RetentionTTL time.Duration `validate:"gte=0"`
	// FlagTerms content policy terms; empty disables flagging
	FlagTerms []string
}

// BlobConfig holds section file storage configuration
type BlobConfig struct {
	// Backend local or s3
	Backend string `validate:"oneof=local s3"`
	// LocalRoot root directory of the local backend
	LocalRoot string `validate:"required_if=Backend local"`
	// S3 parameters of the s3 backend
	S3 blobs.S3Params `validate:"-"`
}

/*
Load read configuration from the environment. Variables already set in the environment take
precedence over the env files.

	@param envFiles ...string - env files to load; when none are given an optional ".env"
	    in the working directory is used
	@returns validated configuration
*/
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		_ = godotenv.Load()
	} else if err := godotenv.Load(envFiles...); err != nil {
		return nil, fmt.Errorf("failed to load env files %v [%w]", envFiles, err)
	}

	var err error
	cfg := &Config{
		LogLevel: strings.ToLower(getEnv("LOG_LEVEL", "info")),
		Database: DatabaseConfig{
			Driver:   strings.ToLower(getEnv("DB_DRIVER", "sqlite")),
			DSN:      getEnv("DB_DSN", "ephemera.db"),
			LogLevel: strings.ToLower(getEnv("DB_LOG_LEVEL", "error")),
		},
		Crypto: CryptoConfig{
			RSACertFile: getEnv("RSA_CERT_FILE", ""),
			RSAKeyFile:  getEnv("RSA_KEY_FILE", ""),
		},
		Notes: NoteConfig{
			FlagTerms: splitList(getEnv("FLAG_TERMS", "")),
		},
		Blobs: BlobConfig{
			Backend:   strings.ToLower(getEnv("BLOB_BACKEND", "local")),
			LocalRoot: getEnv("BLOB_ROOT", "media"),
			S3: blobs.S3Params{
				Endpoint:  getEnv("S3_ENDPOINT", ""),
				Region:    getEnv("S3_REGION", "us-east-1"),
				Bucket:    getEnv("S3_BUCKET", ""),
				Prefix:    getEnv("S3_PREFIX", ""),
				AccessKey: getEnv("S3_ACCESS_KEY", ""),
				SecretKey: getEnv("S3_SECRET_KEY", ""),
			},
		},
	}
	if cfg.Crypto.BcryptCost, err = strconv.Atoi(getEnv("BCRYPT_COST", "0")); err != nil {
		return nil, fmt.Errorf("%sBCRYPT_COST is not an integer [%w]", EnvPrefix, err)
	}
	if cfg.Notes.RetentionTTL, err = time.ParseDuration(getEnv("RETENTION_TTL", "24h")); err != nil {
		return nil, fmt.Errorf("%sRETENTION_TTL is not a duration [%w]", EnvPrefix, err)
	}
	if cfg.ReapInterval, err = time.ParseDuration(getEnv("REAP_INTERVAL", "10m")); err != nil {
		return nil, fmt.Errorf("%sREAP_INTERVAL is not a duration [%w]", EnvPrefix, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate verify the configuration is complete and consistent
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration [%w]", err)
	}
	if c.Blobs.Backend == "s3" {
		if err := validate.Struct(&c.Blobs.S3); err != nil {
			return fmt.Errorf("invalid S3 blob configuration [%w]", err)
		}
	}
	return nil
}

// ApexLogLevel the process log level
func (c *Config) ApexLogLevel() log.Level {
	level, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		return log.InfoLevel
	}
	return level
}

// GormLogLevel the SQL statement log level
func (c *Config) GormLogLevel() logger.LogLevel {
	switch c.Database.LogLevel {
	case "silent":
		return logger.Silent
	case "warn":
		return logger.Warn
	case "info":
		return logger.Info
	default:
		return logger.Error
	}
}

// getEnv gets a prefixed environment variable with default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(EnvPrefix + key); value != "" {
		return value
	}
	return defaultValue
}

// splitList split a comma separated list, dropping blank items
func splitList(raw string) []string {
	var items []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}
