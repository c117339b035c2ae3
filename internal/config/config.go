// ABOUTME: Configuration loading and validation for convertbot
// ABOUTME: Reads TOML or YAML with environment variable expansion, defaults, and duration parsing

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gopkg.in/yaml.v3"
)

// Config represents the complete convertbot configuration
type Config struct {
	Matrix   MatrixConfig   `toml:"matrix" yaml:"matrix"`
	Backend  BackendConfig  `toml:"backend" yaml:"backend"`
	Staging  StagingConfig  `toml:"staging" yaml:"staging"`
	Bot      BotConfig      `toml:"bot" yaml:"bot"`
	Database DatabaseConfig `toml:"database" yaml:"database"`
	Logging  LoggingConfig  `toml:"logging" yaml:"logging"`
}

// MatrixConfig holds the chat transport settings. Either an access token
// (with user_id) or a username and password is required.
type MatrixConfig struct {
	Homeserver      string   `toml:"homeserver" yaml:"homeserver"`
	UserID          string   `toml:"user_id" yaml:"user_id"`
	AccessToken     string   `toml:"access_token" yaml:"access_token"`
	DeviceID        string   `toml:"device_id" yaml:"device_id"`
	Username        string   `toml:"username" yaml:"username"`
	Password        string   `toml:"password" yaml:"password"`
	Encryption      bool     `toml:"encryption" yaml:"encryption"`
	RecoveryKey     string   `toml:"recovery_key" yaml:"recovery_key"`
	DataDir         string   `toml:"data_dir" yaml:"data_dir"`
	AllowedRooms    []string `toml:"allowed_rooms" yaml:"allowed_rooms"`
	AutoJoin        bool     `toml:"auto_join" yaml:"auto_join"`
	TypingIndicator bool     `toml:"typing_indicator" yaml:"typing_indicator"`
}

// BackendConfig holds the conversion service settings
type BackendConfig struct {
	BaseURL       string        `toml:"base_url" yaml:"base_url"`
	APIKey        string        `toml:"api_key" yaml:"api_key"`
	MaxConcurrent int64         `toml:"max_concurrent" yaml:"max_concurrent"`
	Timeout       time.Duration `toml:"-" yaml:"-"`

	// Raw string values for unmarshaling
	TimeoutRaw string `toml:"timeout" yaml:"timeout"`
}

// StagingConfig holds local file staging settings
type StagingConfig struct {
	Dir           string        `toml:"dir" yaml:"dir"`
	ResultDir     string        `toml:"result_dir" yaml:"result_dir"`
	MaxFileSize   int64         `toml:"max_file_size" yaml:"max_file_size"`
	TTL           time.Duration `toml:"-" yaml:"-"`
	SweepInterval time.Duration `toml:"-" yaml:"-"`

	// Raw string values for unmarshaling
	TTLRaw           string `toml:"ttl" yaml:"ttl"`
	SweepIntervalRaw string `toml:"sweep_interval" yaml:"sweep_interval"`
}

// BotConfig holds conversation behavior settings
type BotConfig struct {
	CommandPrefix string `toml:"command_prefix" yaml:"command_prefix"`
	IdleReply     string `toml:"idle_reply" yaml:"idle_reply"`
	HistoryLimit  int    `toml:"history_limit" yaml:"history_limit"`
}

// DatabaseConfig holds the history database location
type DatabaseConfig struct {
	Path string `toml:"path" yaml:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `toml:"level" yaml:"level"`
	Format string `toml:"format" yaml:"format"`
}

// DefaultMaxFileSize matches the limit advertised to users (10 MB).
const DefaultMaxFileSize = 10 * 1024 * 1024

// Default returns a configuration with every optional field filled in.
func Default() *Config {
	data := DataPath()
	return &Config{
		Matrix: MatrixConfig{
			Homeserver:      "https://matrix.org",
			DataDir:         data,
			AutoJoin:        true,
			TypingIndicator: true,
		},
		Backend: BackendConfig{
			BaseURL:       "https://api.cloudmersive.com",
			MaxConcurrent: 4,
			Timeout:       60 * time.Second,
			TimeoutRaw:    "60s",
		},
		Staging: StagingConfig{
			Dir:              filepath.Join(data, "staging"),
			ResultDir:        filepath.Join(data, "results"),
			MaxFileSize:      DefaultMaxFileSize,
			TTL:              time.Hour,
			SweepInterval:    10 * time.Minute,
			TTLRaw:           "1h",
			SweepIntervalRaw: "10m",
		},
		Bot: BotConfig{
			CommandPrefix: "!",
			IdleReply:     "ignore",
			HistoryLimit:  10,
		},
		Database: DatabaseConfig{
			Path: filepath.Join(data, "convertbot.db"),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .yaml or .yml are read as YAML, everything else as TOML.
// Environment variables in the format ${VAR_NAME} are expanded.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg, err := Parse(data, formatFor(path))
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Format names a config file syntax.
type Format string

const (
	FormatTOML Format = "toml"
	FormatYAML Format = "yaml"
)

func formatFor(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatTOML
	}
}

// Parse decodes raw configuration over the defaults, then expands, parses
// durations, and validates.
func Parse(data []byte, format Format) (*Config, error) {
	expanded := expandEnvVars(string(data))

	cfg := Default()
	switch format {
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
		dec.KnownFields(true)
		// an empty document decodes to EOF, which just means "all defaults"
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	default:
		md, err := toml.Decode(expanded, cfg)
		if err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("parsing config file: unknown key %q", undecoded[0].String())
		}
	}

	if cfg.Backend.APIKey == "" {
		cfg.Backend.APIKey = os.Getenv("CLOUDMERSIVE_API_KEY")
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"backend.timeout", cfg.Backend.TimeoutRaw, &cfg.Backend.Timeout},
		{"staging.ttl", cfg.Staging.TTLRaw, &cfg.Staging.TTL},
		{"staging.sweep_interval", cfg.Staging.SweepIntervalRaw, &cfg.Staging.SweepInterval},
	}
	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		if d < 0 {
			return fmt.Errorf("%s must not be negative", f.name)
		}
		*f.dst = d
	}
	return nil
}

// Validate checks that all required configuration fields are present and valid.
func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Matrix),
		validation.Field(&c.Backend),
		validation.Field(&c.Staging),
		validation.Field(&c.Bot),
		validation.Field(&c.Database),
		validation.Field(&c.Logging),
	)
}

// Validate checks the Matrix section.
func (m MatrixConfig) Validate() error {
	tokenAuth := m.AccessToken != ""
	return validation.ValidateStruct(&m,
		validation.Field(&m.Homeserver, validation.Required, validation.By(httpURL)),
		validation.Field(&m.UserID, validation.When(tokenAuth, validation.Required)),
		validation.Field(&m.Username, validation.When(!tokenAuth, validation.Required.Error("is required unless access_token is set"))),
		validation.Field(&m.Password, validation.When(!tokenAuth, validation.Required.Error("is required unless access_token is set"))),
		validation.Field(&m.DataDir, validation.When(m.Encryption, validation.Required)),
	)
}

// Validate checks the backend section.
func (b BackendConfig) Validate() error {
	return validation.ValidateStruct(&b,
		validation.Field(&b.BaseURL, validation.Required, validation.By(httpURL)),
		validation.Field(&b.APIKey, validation.Required.Error("is required (or set CLOUDMERSIVE_API_KEY)")),
		validation.Field(&b.MaxConcurrent, validation.Min(int64(0))),
		validation.Field(&b.Timeout, validation.Required.Error("must be greater than zero")),
	)
}

// Validate checks the staging section.
func (s StagingConfig) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.Dir, validation.Required),
		validation.Field(&s.ResultDir, validation.Required),
		validation.Field(&s.MaxFileSize, validation.Min(int64(0))),
		// the janitor would delete files still waiting for a format choice
		validation.Field(&s.TTL, validation.Required.Error("must be greater than zero")),
	)
}

// Validate checks the bot section.
func (b BotConfig) Validate() error {
	return validation.ValidateStruct(&b,
		validation.Field(&b.CommandPrefix, validation.Required, validation.Length(1, 8)),
		validation.Field(&b.IdleReply, validation.In("ignore", "remind")),
		validation.Field(&b.HistoryLimit, validation.Min(0), validation.Max(100)),
	)
}

// Validate checks the database section.
func (d DatabaseConfig) Validate() error {
	return validation.ValidateStruct(&d,
		validation.Field(&d.Path, validation.Required),
	)
}

// Validate checks the logging section.
func (l LoggingConfig) Validate() error {
	return validation.ValidateStruct(&l,
		validation.Field(&l.Level, validation.In("debug", "info", "warn", "error")),
		validation.Field(&l.Format, validation.In("text", "json")),
	)
}

func httpURL(value any) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}
	u, err := url.Parse(s)
	if err != nil {
		return fmt.Errorf("is not a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("must use http or https scheme")
	}
	if u.Host == "" {
		return fmt.Errorf("must include a host")
	}
	return nil
}

// DefaultPath returns the path to the config file.
// Priority: CONVERTBOT_CONFIG env var > XDG_CONFIG_HOME/convertbot/config.toml > ~/.config/convertbot/config.toml
func DefaultPath() string {
	if envPath := os.Getenv("CONVERTBOT_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "config.toml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "convertbot", "config.toml")
}

// DataPath returns the convertbot data directory.
// Priority: XDG_DATA_HOME/convertbot > ~/.local/share/convertbot
func DataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "convertbot")
}
