// Package config loads service settings from defaults, an optional config
// file and the environment, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	DriverMongo  = "mongo"
	DriverSQLite = "sqlite"
)

// Config holds every setting the service reads at startup.
type Config struct {
	Port     string
	LogLevel string
	GinMode  string

	StoreDriver   string
	MongoURI      string
	MongoDatabase string
	DataDir       string

	Timezone string
	Location *time.Location

	CloudinaryURL string
	UploadFolder  string
	PublicURL     string

	ModelServiceURL string
	ModelAPIKey     string
	ModelTimeout    time.Duration

	SampleUploadDir string

	RedisAddr        string
	RedisPassword    string
	RedisDB          int
	UploadRatePerMin int

	AllowedOrigins []string
	RequestTimeout time.Duration
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", "5000")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("GIN_MODE", "release")

	v.SetDefault("STORE_DRIVER", DriverMongo)
	v.SetDefault("MONGO_URI", "mongodb://localhost:27017")
	v.SetDefault("MONGO_DATABASE", "ecoclassifier")
	v.SetDefault("DATA_DIR", "./data")

	v.SetDefault("TIMEZONE", "UTC")

	v.SetDefault("CLOUDINARY_URL", "")
	v.SetDefault("UPLOAD_FOLDER", "ecoclassifier/uploads")
	v.SetDefault("PUBLIC_URL", "")

	v.SetDefault("MODEL_SERVICE_URL", "")
	v.SetDefault("MODEL_API_KEY", "")
	v.SetDefault("MODEL_TIMEOUT", 30*time.Second)

	v.SetDefault("SAMPLE_UPLOAD_DIR", "/mnt/data")

	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("UPLOAD_RATE_PER_MIN", 30)

	v.SetDefault("ALLOWED_ORIGINS", "http://localhost:5173,http://localhost:3000")
	v.SetDefault("REQUEST_TIMEOUT", 30*time.Second)
}

// Load reads configuration. configFile may be empty, in which case
// config.yaml in the working directory is used when present.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		slog.Info("Loaded config file", "path", v.ConfigFileUsed())
	}

	v.AutomaticEnv()

	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Port:             v.GetString("PORT"),
		LogLevel:         strings.ToLower(v.GetString("LOG_LEVEL")),
		GinMode:          v.GetString("GIN_MODE"),
		StoreDriver:      strings.ToLower(strings.TrimSpace(v.GetString("STORE_DRIVER"))),
		MongoURI:         v.GetString("MONGO_URI"),
		MongoDatabase:    v.GetString("MONGO_DATABASE"),
		DataDir:          v.GetString("DATA_DIR"),
		Timezone:         strings.TrimSpace(v.GetString("TIMEZONE")),
		CloudinaryURL:    v.GetString("CLOUDINARY_URL"),
		UploadFolder:     v.GetString("UPLOAD_FOLDER"),
		PublicURL:        strings.TrimRight(v.GetString("PUBLIC_URL"), "/"),
		ModelServiceURL:  strings.TrimRight(v.GetString("MODEL_SERVICE_URL"), "/"),
		ModelAPIKey:      v.GetString("MODEL_API_KEY"),
		ModelTimeout:     v.GetDuration("MODEL_TIMEOUT"),
		SampleUploadDir:  v.GetString("SAMPLE_UPLOAD_DIR"),
		RedisAddr:        v.GetString("REDIS_ADDR"),
		RedisPassword:    v.GetString("REDIS_PASSWORD"),
		RedisDB:          v.GetInt("REDIS_DB"),
		UploadRatePerMin: v.GetInt("UPLOAD_RATE_PER_MIN"),
		AllowedOrigins:   splitList(v.GetString("ALLOWED_ORIGINS")),
		RequestTimeout:   v.GetDuration("REQUEST_TIMEOUT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints and resolves the timezone.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case DriverMongo:
		if c.MongoURI == "" {
			return fmt.Errorf("MONGO_URI is required when STORE_DRIVER=%s", DriverMongo)
		}
	case DriverSQLite:
		if c.DataDir == "" {
			return fmt.Errorf("DATA_DIR is required when STORE_DRIVER=%s", DriverSQLite)
		}
	default:
		return fmt.Errorf("unsupported STORE_DRIVER %q (want %s or %s)", c.StoreDriver, DriverMongo, DriverSQLite)
	}

	if c.Timezone == "" || strings.EqualFold(c.Timezone, "UTC") {
		c.Location = time.UTC
	} else {
		loc, err := time.LoadLocation(c.Timezone)
		if err != nil {
			return fmt.Errorf("invalid TIMEZONE %q: %w", c.Timezone, err)
		}
		c.Location = loc
	}

	if c.UploadRatePerMin <= 0 {
		return fmt.Errorf("UPLOAD_RATE_PER_MIN must be positive, got %d", c.UploadRatePerMin)
	}
	if c.ModelTimeout <= 0 {
		return fmt.Errorf("MODEL_TIMEOUT must be positive")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be positive")
	}
	return nil
}

// SlogLevel maps LOG_LEVEL onto a slog level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
