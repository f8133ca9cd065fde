// Package config loads process configuration for the listsim binaries from
// an optional YAML file and LISTSIM_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/afero"
	"github.com/spf13/viper"

	"github.com/pavelpascari/listsim/pkg/inspector"
	"github.com/pavelpascari/listsim/pkg/listing"
	"github.com/pavelpascari/listsim/pkg/records"
)

// DefaultEnvPrefix prefixes the environment variables read by Load, e.g.
// LISTSIM_FAILURE_RATE.
const DefaultEnvPrefix = "LISTSIM"

// Log formats.
const (
	FormatJSON = "json"
	FormatText = "text"
)

// DefaultConfig holds the values used for settings absent from both the
// config file and the environment.
var DefaultConfig = Config{
	FailureRate:       listing.DefaultFailureRate,
	FreshnessWindow:   listing.DefaultFreshnessWindow,
	MinLatency:        listing.DefaultMinLatency,
	MaxLatency:        listing.DefaultMaxLatency,
	LogLevel:          "info",
	LogFormat:         FormatText,
	InspectorCapacity: inspector.DefaultCapacity,
}

// Config is the simulator configuration. Keys match the mapstructure tags
// in files and, upper-cased, in the environment.
type Config struct {
	FailureRate       float64       `json:"failure_rate"       mapstructure:"failure_rate"       validate:"gte=0,lte=1"`
	FreshnessWindow   time.Duration `json:"freshness_window"   mapstructure:"freshness_window"   validate:"gte=0"`
	MinLatency        time.Duration `json:"min_latency"        mapstructure:"min_latency"        validate:"gte=0"`
	MaxLatency        time.Duration `json:"max_latency"        mapstructure:"max_latency"        validate:"gtefield=MinLatency"`
	RecordsPath       string        `json:"records_path"       mapstructure:"records_path"`
	LogLevel          string        `json:"log_level"          mapstructure:"log_level"          validate:"oneof=debug info warn error"`
	LogFormat         string        `json:"log_format"         mapstructure:"log_format"         validate:"oneof=json text"`
	InspectorCapacity int           `json:"inspector_capacity" mapstructure:"inspector_capacity" validate:"gte=1"`
}

var (
	configValidator     *validator.Validate
	configValidatorOnce sync.Once
)

func getValidator() *validator.Validate {
	configValidatorOnce.Do(func() {
		configValidator = validator.New()
	})
	return configValidator
}

// Load reads configuration. path names an optional YAML file on fs; an
// empty path uses defaults and the environment only. Environment variables
// take precedence over the file.
func Load(fs afero.Fs, path string) (*Config, error) {
	v := viper.NewWithOptions(
		viper.KeyDelimiter("."),
		viper.EnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_")),
	)
	v.SetFs(fs)

	v.SetEnvPrefix(DefaultEnvPrefix)
	v.AutomaticEnv()

	defaults := map[string]any{
		"failure_rate":       DefaultConfig.FailureRate,
		"freshness_window":   DefaultConfig.FreshnessWindow,
		"min_latency":        DefaultConfig.MinLatency,
		"max_latency":        DefaultConfig.MaxLatency,
		"records_path":       DefaultConfig.RecordsPath,
		"log_level":          DefaultConfig.LogLevel,
		"log_format":         DefaultConfig.LogFormat,
		"inspector_capacity": DefaultConfig.InspectorCapacity,
	}
	for key, value := range defaults {
		_ = v.BindEnv(key)
		v.SetDefault(key, value)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %q: %w", path, err)
		}
	}

	decodeHooks := mapstructure.ComposeDecodeHookFunc(
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
	)

	config := &Config{}
	if err := v.Unmarshal(config, viper.DecodeHook(decodeHooks)); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks the configuration values.
func (c *Config) Validate() error {
	if err := getValidator().Struct(c); err != nil {
		var validationErrs validator.ValidationErrors
		if errors.As(err, &validationErrs) {
			fields := make([]string, 0, len(validationErrs))
			for _, fe := range validationErrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", fe.Field(), fe.Tag()))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(fields, ", "))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// Level returns the configured log level.
func (c *Config) Level() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// NewLogger builds a logger writing to w in the configured format and level.
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.Level()}

	if c.LogFormat == FormatJSON {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Store loads the record store from RecordsPath, or the embedded sample
// dataset when no path is configured.
func (c *Config) Store(fs afero.Fs) (*records.Store, error) {
	if c.RecordsPath == "" {
		return records.Sample()
	}
	return records.Load(fs, c.RecordsPath)
}

// OrchestratorOptions maps the configuration onto orchestrator options.
func (c *Config) OrchestratorOptions() []listing.Option {
	return []listing.Option{
		listing.WithFailureRate(c.FailureRate),
		listing.WithFreshnessWindow(c.FreshnessWindow),
		listing.WithLatency(c.MinLatency, c.MaxLatency),
	}
}
