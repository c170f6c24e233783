package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/mcdev12/teamsync/go/internal/dbconfig"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Storage backends
const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

// Config holds server settings read from the environment
type Config struct {
	Port      string `env:"PORT" envDefault:"8080"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"console"`
	Storage   string `env:"STORAGE" envDefault:"postgres"`

	// Activity publishing is disabled when NATSURL is empty
	NATSURL               string `env:"NATS_URL"`
	ActivityStream        string `env:"ACTIVITY_STREAM" envDefault:"TEAMSYNC_ACTIVITY"`
	ActivitySubjectPrefix string `env:"ACTIVITY_SUBJECT_PREFIX" envDefault:"teamsync.activity"`

	VotePresetsFile string        `env:"VOTE_PRESETS_FILE"`
	TimerTick       time.Duration `env:"TIMER_TICK" envDefault:"1s"`
	OpTimeout       time.Duration `env:"OP_TIMEOUT" envDefault:"5s"`

	WS WebSocket `envPrefix:"WS_"`

	DB dbconfig.Config `envPrefix:"DB_"`
}

// WebSocket holds per-connection limits
type WebSocket struct {
	WriteTimeout   time.Duration `env:"WRITE_TIMEOUT" envDefault:"10s"`
	ReadTimeout    time.Duration `env:"READ_TIMEOUT" envDefault:"60s"`
	PingInterval   time.Duration `env:"PING_INTERVAL" envDefault:"30s"`
	MaxMessageSize int64         `env:"MAX_MESSAGE_SIZE" envDefault:"16384"`
	SendBuffer     int           `env:"SEND_BUFFER" envDefault:"256"`
	CommandRate    float64       `env:"COMMAND_RATE" envDefault:"20"`
	CommandBurst   int           `env:"COMMAND_BURST" envDefault:"40"`
}

// Load parses the environment into a Config
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the server cannot run with
func (c Config) Validate() error {
	switch c.Storage {
	case StoragePostgres, StorageMemory:
	default:
		return fmt.Errorf("unknown STORAGE %q, want %s or %s", c.Storage, StoragePostgres, StorageMemory)
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid LOG_LEVEL %q: %w", c.LogLevel, err)
	}
	if c.TimerTick <= 0 {
		return fmt.Errorf("TIMER_TICK must be positive, got %s", c.TimerTick)
	}
	if c.OpTimeout <= 0 {
		return fmt.Errorf("OP_TIMEOUT must be positive, got %s", c.OpTimeout)
	}
	if c.WS.CommandRate < 0 || c.WS.CommandBurst < 0 {
		return fmt.Errorf("COMMAND_RATE and COMMAND_BURST must not be negative")
	}
	return nil
}

// Level returns the configured log level
func (c Config) Level() zerolog.Level {
	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		return zerolog.InfoLevel
	}
	return level
}

// DefaultPresets are the vote value catalogues available without a presets file
func DefaultPresets() map[string][]string {
	return map[string][]string{
		"fibonacci":          {"0", "1", "2", "3", "5", "8", "13", "21", "34", "55", "89", "?"},
		"modified-fibonacci": {"0", "½", "1", "2", "3", "5", "8", "13", "20", "40", "100", "?", "☕"},
		"tshirt":             {"XS", "S", "M", "L", "XL", "XXL", "?"},
		"powers-of-two":      {"0", "1", "2", "4", "8", "16", "32", "64", "?"},
	}
}

type presetFile struct {
	Presets map[string][]string `yaml:"presets"`
}

// LoadPresets returns the default presets overlaid with any defined in the
// YAML file at path. An empty path returns the defaults.
func LoadPresets(path string) (map[string][]string, error) {
	presets := DefaultPresets()
	if path == "" {
		return presets, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read presets file: %w", err)
	}

	var file presetFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse presets file: %w", err)
	}

	for name, values := range file.Presets {
		if err := validatePreset(name, values); err != nil {
			return nil, err
		}
		presets[name] = values
	}
	return presets, nil
}

// maxPresetValues matches the limit rooms apply to explicit vote values
const maxPresetValues = 64

func validatePreset(name string, values []string) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("preset name must not be blank")
	}
	if len(values) == 0 || len(values) > maxPresetValues {
		return fmt.Errorf("preset %q needs 1 to %d values, has %d", name, maxPresetValues, len(values))
	}
	seen := make(map[string]bool, len(values))
	for _, v := range values {
		if strings.TrimSpace(v) == "" {
			return fmt.Errorf("preset %q has a blank value", name)
		}
		if seen[v] {
			return fmt.Errorf("preset %q repeats value %q", name, v)
		}
		seen[v] = true
	}
	return nil
}
