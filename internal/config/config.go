// Package config loads heatcheck settings from a YAML file, a .env file and
// HEATCHECK_* environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/heatcheck/internal/anomaly"
	"github.com/heatcheck/internal/cache"
	"github.com/heatcheck/internal/dedup"
	"github.com/heatcheck/internal/ingest"
	"github.com/heatcheck/internal/join"
	"github.com/heatcheck/internal/pipeline"
	"github.com/heatcheck/internal/review"
	"github.com/heatcheck/internal/schema"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "HEATCHECK"

// DefaultFile is read when no config path is given and it exists
const DefaultFile = "heatcheck.yaml"

// Config represents the complete application configuration
type Config struct {
	Pipeline PipelineConfig `yaml:"pipeline" envconfig:"PIPELINE"`
	Input    InputConfig    `yaml:"input" envconfig:"INPUT"`
	Server   ServerConfig   `yaml:"server" envconfig:"SERVER"`
	Cache    CacheConfig    `yaml:"cache" envconfig:"CACHE"`
	Database DatabaseConfig `yaml:"database" envconfig:"DATABASE"`
	Logging  LoggingConfig  `yaml:"logging" envconfig:"LOGGING"`
}

// PipelineConfig mirrors pipeline.Options in file-friendly form
type PipelineConfig struct {
	DedupKeys             []string `yaml:"dedup_keys" envconfig:"DEDUP_KEYS" validate:"min=1,dive,oneof=meter_id timestamp consumption"`
	ReadingAddressColumn  string   `yaml:"reading_address_column" envconfig:"READING_ADDRESS_COLUMN" validate:"required"`
	RegistryAddressColumn string   `yaml:"registry_address_column" envconfig:"REGISTRY_ADDRESS_COLUMN" validate:"required"`
	HeatingMonths         []int    `yaml:"heating_months" envconfig:"HEATING_MONTHS" validate:"dive,min=1,max=12"`
	DeviationThreshold    float64  `yaml:"deviation_threshold" envconfig:"DEVIATION_THRESHOLD" validate:"gt=0"`
	WindowDays            int      `yaml:"window_days" envconfig:"WINDOW_DAYS" validate:"gt=0"`
	LagMonths             int      `yaml:"lag_months" envconfig:"LAG_MONTHS" validate:"min=0,max=12"`
	TitleCaseObjectType   bool     `yaml:"title_case_object_type" envconfig:"TITLE_CASE_OBJECT_TYPE"`
	RequireComplete       bool     `yaml:"require_complete" envconfig:"REQUIRE_COMPLETE"`
	MaxFieldErrors        int      `yaml:"max_field_errors" envconfig:"MAX_FIELD_ERRORS" validate:"min=0"`
}

// InputConfig contains input decoding settings
type InputConfig struct {
	Encoding       string `yaml:"encoding" envconfig:"ENCODING" validate:"omitempty,oneof=auto utf-8 utf8 cp1251 windows-1251"`
	ExportEncoding string `yaml:"export_encoding" envconfig:"EXPORT_ENCODING" validate:"omitempty,oneof=utf-8 utf8 cp1251 windows-1251"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host" envconfig:"HOST"`
	Port            int           `yaml:"port" envconfig:"PORT" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT" validate:"gt=0"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT" validate:"gt=0"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT" validate:"gt=0"`
	MaxUploadMB     int64         `yaml:"max_upload_mb" envconfig:"MAX_UPLOAD_MB" validate:"gt=0"`
}

// CacheConfig selects the result cache backend
type CacheConfig struct {
	Backend       string        `yaml:"backend" envconfig:"BACKEND" validate:"oneof=none memory redis"`
	TTL           time.Duration `yaml:"ttl" envconfig:"TTL" validate:"min=0"`
	MaxEntries    int           `yaml:"max_entries" envconfig:"MAX_ENTRIES" validate:"min=0"`
	RedisAddr     string        `yaml:"redis_addr" envconfig:"REDIS_ADDR" validate:"required_if=Backend redis"`
	RedisPassword string        `yaml:"redis_password" envconfig:"REDIS_PASSWORD"`
	RedisDB       int           `yaml:"redis_db" envconfig:"REDIS_DB" validate:"min=0"`
}

// DatabaseConfig contains the review queue database settings
type DatabaseConfig struct {
	URL         string `yaml:"url" envconfig:"URL"`
	MaxConns    int    `yaml:"max_conns" envconfig:"MAX_CONNS" validate:"min=0"`
	ReviewTable string `yaml:"review_table" envconfig:"REVIEW_TABLE" validate:"required"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" envconfig:"LEVEL" validate:"oneof=debug info warn warning error"`
	Format string `yaml:"format" envconfig:"FORMAT" validate:"oneof=text json"`
}

// Error reports an invalid configuration value
type Error struct {
	Field  string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("invalid config %s: %s", e.Field, e.Reason)
}

// Default returns the built-in configuration
func Default() Config {
	opts := pipeline.DefaultOptions()
	keys := make([]string, len(opts.DedupKeys))
	for i, k := range opts.DedupKeys {
		keys[i] = string(k)
	}

	return Config{
		Pipeline: PipelineConfig{
			DedupKeys:             keys,
			ReadingAddressColumn:  schema.Address,
			RegistryAddressColumn: schema.Address,
			HeatingMonths:         append([]int(nil), schema.DefaultHeatingMonths...),
			DeviationThreshold:    anomaly.DefaultThresholdPercent,
			WindowDays:            anomaly.DefaultWindowDays,
			LagMonths:             join.DefaultLagMonths,
			MaxFieldErrors:        opts.MaxFieldErrors,
		},
		Input: InputConfig{
			Encoding:       string(ingest.EncodingAuto),
			ExportEncoding: string(ingest.EncodingCP1251),
		},
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    2 * time.Minute,
			ShutdownTimeout: 15 * time.Second,
			MaxUploadMB:     64,
		},
		Cache: CacheConfig{
			Backend:    cache.BackendMemory,
			TTL:        time.Hour,
			MaxEntries: 32,
		},
		Database: DatabaseConfig{
			MaxConns:    10,
			ReviewTable: review.DefaultTable,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load builds the configuration: defaults, then the YAML file at path (or
// DefaultFile when path is empty and the file exists), then .env, then the
// environment. The result is validated.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		if _, err := os.Stat(DefaultFile); err == nil {
			path = DefaultFile
		}
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	LoadDotEnv()

	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// loadFile overlays the YAML file on the current values
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

var validate = validator.New()

// Validate checks every section and returns the first problem as an *Error
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return &Error{Field: fe.Namespace(), Reason: fmt.Sprintf("failed %q check (value %v)", fe.Tag(), fe.Value())}
		}
		return fmt.Errorf("config validation failed: %w", err)
	}

	opts, err := c.Pipeline.Options()
	if err != nil {
		return &Error{Field: "Config.Pipeline", Reason: err.Error()}
	}
	if err := opts.Validate(); err != nil {
		return &Error{Field: "Config.Pipeline", Reason: err.Error()}
	}
	return nil
}

// Options converts the section to pipeline options
func (p PipelineConfig) Options() (pipeline.Options, error) {
	keys, err := dedup.ParseKeys(p.DedupKeys)
	if err != nil {
		return pipeline.Options{}, err
	}
	return pipeline.Options{
		DedupKeys:             keys,
		ReadingAddressColumn:  p.ReadingAddressColumn,
		RegistryAddressColumn: p.RegistryAddressColumn,
		HeatingMonths:         p.HeatingMonths,
		DeviationThreshold:    p.DeviationThreshold,
		WindowDays:            p.WindowDays,
		LagMonths:             p.LagMonths,
		TitleCaseObjectType:   p.TitleCaseObjectType,
		RequireComplete:       p.RequireComplete,
		MaxFieldErrors:        p.MaxFieldErrors,
	}, nil
}

// InputEncoding returns the parsed input encoding
func (i InputConfig) InputEncoding() ingest.Encoding {
	enc, err := ingest.ParseEncoding(i.Encoding)
	if err != nil {
		return ingest.EncodingAuto
	}
	return enc
}

// OutputEncoding returns the parsed export encoding, CP1251 by default
func (i InputConfig) OutputEncoding() ingest.Encoding {
	enc, err := ingest.ParseEncoding(i.ExportEncoding)
	if err != nil || enc == ingest.EncodingAuto {
		return ingest.EncodingCP1251
	}
	return enc
}

// Addr returns the listen address
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// CacheOptions converts the section to cache.Config
func (c CacheConfig) CacheOptions() cache.Config {
	return cache.Config{
		Backend:       c.Backend,
		TTL:           c.TTL,
		MaxEntries:    c.MaxEntries,
		RedisAddr:     c.RedisAddr,
		RedisPassword: c.RedisPassword,
		RedisDB:       c.RedisDB,
	}
}
