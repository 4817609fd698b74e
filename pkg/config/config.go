// Package config loads service configuration from defaults, an optional YAML
// file and CRM_* environment variables, in that order of precedence.
//
// Environment keys are derived from the field path, e.g. Backend.AnonKey is
// CRM_BACKEND_ANON_KEY. Fields carry no default tags so that unset variables
// leave file values alone.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable, e.g. CRM_BACKEND_URL.
const EnvPrefix = "CRM"

// Backend kinds.
const (
	BackendREST   = "rest"
	BackendSQLite = "sqlite"
)

type HTTPConfig struct {
	Addr string `yaml:"addr" split_words:"true"`
	// Token is the bearer token API callers must present. Required unless
	// Addr is a loopback address.
	Token string `yaml:"token" split_words:"true"`
}

// Loopback reports whether Addr only accepts local connections.
func (h HTTPConfig) Loopback() bool {
	host, _, err := net.SplitHostPort(h.Addr)
	if err != nil {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

type BackendConfig struct {
	// Kind is "rest" for the hosted backend or "sqlite" for the local store.
	Kind    string        `yaml:"kind" split_words:"true"`
	URL     string        `yaml:"url" split_words:"true"`
	AnonKey string        `yaml:"anon_key" split_words:"true"`
	Timeout time.Duration `yaml:"timeout" split_words:"true"`
}

type StoreConfig struct {
	// Path of the local SQLite file holding notification and calendar state,
	// and the CRM tables when Backend.Kind is sqlite.
	Path string `yaml:"path" split_words:"true"`
}

type AuthConfig struct {
	Email    string `yaml:"email" split_words:"true"`
	Password string `yaml:"password" split_words:"true"`
	// BootstrapOwner creates the account as owner on the sqlite backend when missing.
	BootstrapOwner bool `yaml:"bootstrap_owner" split_words:"true"`
}

type RemindersConfig struct {
	PollInterval  time.Duration `yaml:"poll_interval" split_words:"true"`
	BlinkInterval time.Duration `yaml:"blink_interval" split_words:"true"`
	LookaheadDays int           `yaml:"lookahead_days" split_words:"true"`
	SoonDays      int           `yaml:"soon_days" split_words:"true"`
	Timezone      string        `yaml:"timezone" split_words:"true"`
}

type SearchConfig struct {
	DebounceDelay time.Duration `yaml:"debounce_delay" split_words:"true"`
}

type TelegramConfig struct {
	Token  string `yaml:"token" split_words:"true"`
	ChatID int64  `yaml:"chat_id" split_words:"true"`
}

type DiscordConfig struct {
	Token     string `yaml:"token" split_words:"true"`
	ChannelID string `yaml:"channel_id" split_words:"true"`
}

type CalendarConfig struct {
	CredentialsFile string `yaml:"credentials_file" split_words:"true"`
	CalendarID      string `yaml:"calendar_id" split_words:"true"`
	// DefaultTime is used for reminders without a time of day.
	DefaultTime string `yaml:"default_time" split_words:"true"`
}

type DriveConfig struct {
	// CredentialsFile defaults to Calendar.CredentialsFile.
	CredentialsFile string        `yaml:"credentials_file" split_words:"true"`
	FolderID        string        `yaml:"folder_id" split_words:"true"`
	Interval        time.Duration `yaml:"interval" split_words:"true"`
}

// Config is the full service configuration.
type Config struct {
	LogLevel  string          `yaml:"log_level" split_words:"true"`
	Title     string          `yaml:"title" split_words:"true"`
	HTTP      HTTPConfig      `yaml:"http" split_words:"true"`
	Backend   BackendConfig   `yaml:"backend" split_words:"true"`
	Store     StoreConfig     `yaml:"store" split_words:"true"`
	Auth      AuthConfig      `yaml:"auth" split_words:"true"`
	Reminders RemindersConfig `yaml:"reminders" split_words:"true"`
	Search    SearchConfig    `yaml:"search" split_words:"true"`
	Telegram  TelegramConfig  `yaml:"telegram" split_words:"true"`
	Discord   DiscordConfig   `yaml:"discord" split_words:"true"`
	Calendar  CalendarConfig  `yaml:"calendar" split_words:"true"`
	Drive     DriveConfig     `yaml:"drive" split_words:"true"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		LogLevel: "info",
		Title:    "CRM Pilot",
		HTTP:     HTTPConfig{Addr: "127.0.0.1:8080"},
		Backend:  BackendConfig{Kind: BackendREST, Timeout: 15 * time.Second},
		Store:    StoreConfig{Path: "crm-pilot.db"},
		Reminders: RemindersConfig{
			PollInterval:  60 * time.Second,
			BlinkInterval: 900 * time.Millisecond,
			LookaheadDays: 2,
			SoonDays:      2,
		},
		Search:   SearchConfig{DebounceDelay: 220 * time.Millisecond},
		Calendar: CalendarConfig{CalendarID: "primary", DefaultTime: "09:00"},
		Drive:    DriveConfig{Interval: 6 * time.Hour},
	}
}

// Load builds the configuration. path may be empty; a missing file is an error only when path is set.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to process environment variables: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the combination of settings.
func (c Config) Validate() error {
	var errs []error
	switch c.Backend.Kind {
	case BackendREST:
		if c.Backend.URL == "" {
			errs = append(errs, errors.New("backend.url is required for the rest backend"))
		}
		if c.Backend.AnonKey == "" {
			errs = append(errs, errors.New("backend.anon_key is required for the rest backend"))
		}
	case BackendSQLite:
	default:
		errs = append(errs, fmt.Errorf("unsupported backend kind %q", c.Backend.Kind))
	}
	if !c.HTTP.Loopback() && c.HTTP.Token == "" {
		errs = append(errs, fmt.Errorf("http.token is required when http.addr %q is not a loopback address", c.HTTP.Addr))
	}
	if c.Store.Path == "" {
		errs = append(errs, errors.New("store.path is required"))
	}
	if c.Reminders.LookaheadDays < 0 || c.Reminders.SoonDays < 0 {
		errs = append(errs, errors.New("reminder day windows must not be negative"))
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}
	if c.Telegram.ChatID != 0 && c.Telegram.Token == "" {
		errs = append(errs, errors.New("telegram.chat_id is set without telegram.token"))
	}
	if c.Drive.FolderID != "" && c.DriveCredentials() == "" {
		errs = append(errs, errors.New("drive.folder_id is set without drive or calendar credentials_file"))
	}
	return errors.Join(errs...)
}

// DriveCredentials is the key file used for Drive backups.
func (c Config) DriveCredentials() string {
	if c.Drive.CredentialsFile != "" {
		return c.Drive.CredentialsFile
	}
	return c.Calendar.CredentialsFile
}

// Location resolves Reminders.Timezone; empty means the host's local zone.
func (c Config) Location() (*time.Location, error) {
	tz := strings.TrimSpace(c.Reminders.Timezone)
	if tz == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("invalid reminders.timezone %q: %w", tz, err)
	}
	return loc, nil
}
