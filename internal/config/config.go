// Package config loads SwasthPipe settings from the environment, an optional
// .env file and command-line flags.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/BTreeMap/SwasthPipe/internal/advisory"
	"github.com/BTreeMap/SwasthPipe/internal/facility"
	"github.com/BTreeMap/SwasthPipe/internal/flow"
)

// Channels.
const (
	ChannelTelegram = "telegram"
	ChannelWhatsApp = "whatsapp"
	ChannelTwilio   = "twilio"
)

// Defaults.
const (
	DefaultStateDir        = "/var/lib/swasthpipe"
	DefaultDBFileName      = "swasthpipe.db"
	DefaultWhatsAppDBFile  = "whatsmeow.db"
	DefaultDataset1Path    = "data/dataset1.csv"
	DefaultDataset2Path    = "data/dataset2.csv"
	DefaultChecklistSize   = 10
	DefaultSessionIdleTTL  = 30 * time.Minute
	DefaultAPIAddr         = ":8080"
	DefaultLogLevel        = "debug"
	DefaultAdvisoryTimeout = flow.DefaultAdvisoryTimeout
)

var (
	// ErrUnknownChannel is returned for a CHANNEL value that is not supported.
	ErrUnknownChannel = errors.New("unknown channel")
	// ErrMissingCredential is returned when the selected channel or provider lacks a secret.
	ErrMissingCredential = errors.New("missing credential")
)

// Config holds every runtime setting.
type Config struct {
	Channel string `mapstructure:"CHANNEL"`

	TelegramBotToken string `mapstructure:"TELEGRAM_BOT_TOKEN"`
	TelegramDebug    bool   `mapstructure:"TELEGRAM_DEBUG"`

	WhatsAppDBDSN string `mapstructure:"WHATSAPP_DB_DSN"`
	QRPath        string `mapstructure:"QR_OUTPUT"`
	NumericCode   bool   `mapstructure:"NUMERIC_CODE"`

	TwilioAccountSID string `mapstructure:"TWILIO_ACCOUNT_SID"`
	TwilioAuthToken  string `mapstructure:"TWILIO_AUTH_TOKEN"`
	TwilioFromNumber string `mapstructure:"TWILIO_FROM_NUMBER"`
	TwilioWebhookURL string `mapstructure:"TWILIO_WEBHOOK_URL"`

	AdvisoryProvider  string        `mapstructure:"ADVISORY_PROVIDER"`
	OpenAIAPIKey      string        `mapstructure:"OPENAI_API_KEY"`
	OpenAIModel       string        `mapstructure:"OPENAI_MODEL"`
	CompatibleAPIKey  string        `mapstructure:"COMPATIBLE_API_KEY"`
	CompatibleBaseURL string        `mapstructure:"COMPATIBLE_BASE_URL"`
	CompatibleModel   string        `mapstructure:"COMPATIBLE_MODEL"`
	LyzrAPIKey        string        `mapstructure:"LYZR_API_KEY"`
	LyzrAgentID       string        `mapstructure:"LYZR_AGENT_ID"`
	LyzrAPIURL        string        `mapstructure:"LYZR_API_URL"`
	AdvisoryTimeout   time.Duration `mapstructure:"ADVISORY_TIMEOUT"`

	GooglePlacesAPIKey   string `mapstructure:"GOOGLE_PLACES_API_KEY"`
	FacilityRadiusMeters uint   `mapstructure:"FACILITY_RADIUS_METERS"`

	Dataset1Path  string `mapstructure:"DATASET1_PATH"`
	Dataset2Path  string `mapstructure:"DATASET2_PATH"`
	ChecklistSize int    `mapstructure:"CHECKLIST_SIZE"`

	DatabaseURL    string        `mapstructure:"DATABASE_URL"`
	StateDir       string        `mapstructure:"STATE_DIR"`
	APIAddr        string        `mapstructure:"API_ADDR"`
	SessionIdleTTL time.Duration `mapstructure:"SESSION_IDLE_TTL"`
	ReportFontPath string        `mapstructure:"REPORT_FONT_PATH"`
	LogLevel       string        `mapstructure:"LOG_LEVEL"`
}

// keys lists every bound environment variable.
var keys = []string{
	"CHANNEL", "TELEGRAM_BOT_TOKEN", "TELEGRAM_DEBUG",
	"WHATSAPP_DB_DSN", "QR_OUTPUT", "NUMERIC_CODE",
	"TWILIO_ACCOUNT_SID", "TWILIO_AUTH_TOKEN", "TWILIO_FROM_NUMBER", "TWILIO_WEBHOOK_URL",
	"ADVISORY_PROVIDER", "OPENAI_API_KEY", "OPENAI_MODEL",
	"COMPATIBLE_API_KEY", "COMPATIBLE_BASE_URL", "COMPATIBLE_MODEL",
	"LYZR_API_KEY", "LYZR_AGENT_ID", "LYZR_API_URL", "ADVISORY_TIMEOUT",
	"GOOGLE_PLACES_API_KEY", "FACILITY_RADIUS_METERS",
	"DATASET1_PATH", "DATASET2_PATH", "CHECKLIST_SIZE",
	"DATABASE_URL", "STATE_DIR", "API_ADDR", "SESSION_IDLE_TTL", "REPORT_FONT_PATH", "LOG_LEVEL",
}

// NewViper returns a viper instance with defaults and environment bindings.
// Callers may bind command-line flags to it before calling Load.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetDefault("CHANNEL", ChannelTelegram)
	v.SetDefault("ADVISORY_PROVIDER", string(advisory.ProviderOpenAI))
	v.SetDefault("ADVISORY_TIMEOUT", DefaultAdvisoryTimeout)
	v.SetDefault("FACILITY_RADIUS_METERS", facility.DefaultRadiusMeters)
	v.SetDefault("DATASET1_PATH", DefaultDataset1Path)
	v.SetDefault("DATASET2_PATH", DefaultDataset2Path)
	v.SetDefault("CHECKLIST_SIZE", DefaultChecklistSize)
	v.SetDefault("STATE_DIR", DefaultStateDir)
	v.SetDefault("API_ADDR", DefaultAPIAddr)
	v.SetDefault("SESSION_IDLE_TTL", DefaultSessionIdleTTL)
	v.SetDefault("LOG_LEVEL", DefaultLogLevel)
	for _, k := range keys {
		_ = v.BindEnv(k)
	}
	return v
}

// LoadDotEnv loads a .env file into the process environment if present.
// Variables already set take precedence.
func LoadDotEnv(paths ...string) {
	if err := godotenv.Load(paths...); err != nil {
		slog.Debug("Config: no .env file loaded", "error", err)
		return
	}
	slog.Debug("Config: loaded .env file")
}

// Decode reads v into a Config and fills derived defaults without
// checking credentials. Offline commands use it.
func Decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}
	cfg.applyDerivedDefaults()
	return &cfg, nil
}

// Load decodes v and validates it.
func Load(v *viper.Viper) (*Config, error) {
	cfg, err := Decode(v)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	slog.Debug("Config loaded",
		"channel", cfg.Channel,
		"provider", cfg.AdvisoryProvider,
		"state_dir", cfg.StateDir,
		"database_url_set", cfg.DatabaseURL != "",
		"places_key_set", cfg.GooglePlacesAPIKey != "",
		"api_addr", cfg.APIAddr)
	return cfg, nil
}

func (c *Config) applyDerivedDefaults() {
	c.Channel = strings.ToLower(strings.TrimSpace(c.Channel))
	c.AdvisoryProvider = string(c.Provider())
	if c.WhatsAppDBDSN == "" {
		c.WhatsAppDBDSN = "file:" + filepath.Join(c.StateDir, DefaultWhatsAppDBFile) + "?_foreign_keys=on"
	}
}

// StoreDSN is DATABASE_URL, or an SQLite file in the state directory.
func (c *Config) StoreDSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return filepath.Join(c.StateDir, DefaultDBFileName)
}

// Validate checks the selected channel and advisory provider have their credentials.
func (c *Config) Validate() error {
	switch c.Channel {
	case ChannelTelegram:
		if c.TelegramBotToken == "" {
			return fmt.Errorf("%w: TELEGRAM_BOT_TOKEN is required for the telegram channel", ErrMissingCredential)
		}
	case ChannelWhatsApp:
	case ChannelTwilio:
		if c.TwilioAccountSID == "" || c.TwilioAuthToken == "" || c.TwilioFromNumber == "" {
			return fmt.Errorf("%w: TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN and TWILIO_FROM_NUMBER are required for the twilio channel", ErrMissingCredential)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownChannel, c.Channel)
	}
	return c.ValidateAdvisory()
}

// Provider returns the advisory provider name in canonical form.
func (c *Config) Provider() advisory.Provider {
	return advisory.Provider(strings.ToLower(strings.TrimSpace(c.AdvisoryProvider)))
}

// ValidateAdvisory checks only the advisory provider settings.
func (c *Config) ValidateAdvisory() error {
	switch c.Provider() {
	case advisory.ProviderOpenAI, "":
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("%w: OPENAI_API_KEY is required for the openai provider", ErrMissingCredential)
		}
	case advisory.ProviderCompatible:
		if c.CompatibleAPIKey == "" || c.CompatibleBaseURL == "" {
			return fmt.Errorf("%w: COMPATIBLE_API_KEY and COMPATIBLE_BASE_URL are required for the compatible provider", ErrMissingCredential)
		}
	case advisory.ProviderLyzr:
		if c.LyzrAPIKey == "" || c.LyzrAgentID == "" {
			return fmt.Errorf("%w: LYZR_API_KEY and LYZR_AGENT_ID are required for the lyzr provider", ErrMissingCredential)
		}
	default:
		return fmt.Errorf("%w: %q", advisory.ErrUnknownProvider, c.AdvisoryProvider)
	}
	return nil
}

// AdvisoryOptions returns the gateway options for the selected provider.
func (c *Config) AdvisoryOptions() []advisory.Option {
	switch c.Provider() {
	case advisory.ProviderCompatible:
		return []advisory.Option{
			advisory.WithAPIKey(c.CompatibleAPIKey),
			advisory.WithBaseURL(c.CompatibleBaseURL),
			advisory.WithModel(c.CompatibleModel),
		}
	case advisory.ProviderLyzr:
		return []advisory.Option{
			advisory.WithAPIKey(c.LyzrAPIKey),
			advisory.WithAgentID(c.LyzrAgentID),
			advisory.WithBaseURL(c.LyzrAPIURL),
		}
	default:
		return []advisory.Option{
			advisory.WithAPIKey(c.OpenAIAPIKey),
			advisory.WithModel(c.OpenAIModel),
		}
	}
}

// SlogLevel maps LOG_LEVEL to a slog level, defaulting to debug.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelDebug
	}
}
