package config

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/BTreeMap/SwasthPipe/internal/advisory"
)

func setenv(t *testing.T, kv map[string]string) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
	for k, v := range kv {
		t.Setenv(k, v)
	}
}

func TestLoad_Defaults(t *testing.T) {
	setenv(t, map[string]string{
		"TELEGRAM_BOT_TOKEN": "123:abc",
		"OPENAI_API_KEY":     "sk-test",
	})

	cfg, err := Load(NewViper())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Channel != ChannelTelegram || cfg.AdvisoryProvider != "openai" {
		t.Errorf("unexpected channel/provider %q/%q", cfg.Channel, cfg.AdvisoryProvider)
	}
	if cfg.ChecklistSize != DefaultChecklistSize || cfg.FacilityRadiusMeters != 5000 {
		t.Errorf("unexpected numeric defaults %+v", cfg)
	}
	if cfg.AdvisoryTimeout != DefaultAdvisoryTimeout || cfg.SessionIdleTTL != DefaultSessionIdleTTL {
		t.Errorf("unexpected durations %v %v", cfg.AdvisoryTimeout, cfg.SessionIdleTTL)
	}
	if cfg.StoreDSN() != filepath.Join(DefaultStateDir, DefaultDBFileName) {
		t.Errorf("StoreDSN = %q", cfg.StoreDSN())
	}
	if cfg.WhatsAppDBDSN != "file:"+filepath.Join(DefaultStateDir, DefaultWhatsAppDBFile)+"?_foreign_keys=on" {
		t.Errorf("WhatsAppDBDSN = %q", cfg.WhatsAppDBDSN)
	}
}

func TestLoad_Overrides(t *testing.T) {
	setenv(t, map[string]string{
		"CHANNEL":            "Twilio",
		"TWILIO_ACCOUNT_SID": "AC1",
		"TWILIO_AUTH_TOKEN":  "tok",
		"TWILIO_FROM_NUMBER": "+14155550100",
		"ADVISORY_PROVIDER":  "lyzr",
		"LYZR_API_KEY":       "k",
		"LYZR_AGENT_ID":      "agent",
		"ADVISORY_TIMEOUT":   "10s",
		"CHECKLIST_SIZE":     "5",
		"DATABASE_URL":       "postgres://localhost/swasth",
		"LOG_LEVEL":          "warn",
	})

	cfg, err := Load(NewViper())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Channel != ChannelTwilio || cfg.ChecklistSize != 5 || cfg.AdvisoryTimeout != 10*time.Second {
		t.Errorf("overrides not applied: %+v", cfg)
	}
	if cfg.StoreDSN() != "postgres://localhost/swasth" {
		t.Errorf("StoreDSN = %q", cfg.StoreDSN())
	}
	if cfg.SlogLevel() != slog.LevelWarn {
		t.Errorf("SlogLevel = %v", cfg.SlogLevel())
	}
	if n := len(cfg.AdvisoryOptions()); n != 3 {
		t.Errorf("expected 3 lyzr options, got %d", n)
	}
}

func TestValidate(t *testing.T) {
	valid := Config{Channel: ChannelTelegram, TelegramBotToken: "t", AdvisoryProvider: "openai", OpenAIAPIKey: "k"}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   error
	}{
		{"valid", func(c *Config) {}, nil},
		{"telegram token missing", func(c *Config) { c.TelegramBotToken = "" }, ErrMissingCredential},
		{"whatsapp needs no token", func(c *Config) { c.Channel = ChannelWhatsApp; c.TelegramBotToken = "" }, nil},
		{"twilio incomplete", func(c *Config) { c.Channel = ChannelTwilio; c.TwilioAccountSID = "AC1" }, ErrMissingCredential},
		{"unknown channel", func(c *Config) { c.Channel = "sms" }, ErrUnknownChannel},
		{"openai key missing", func(c *Config) { c.OpenAIAPIKey = "" }, ErrMissingCredential},
		{"compatible needs base url", func(c *Config) { c.AdvisoryProvider = "compatible"; c.CompatibleAPIKey = "k" }, ErrMissingCredential},
		{"lyzr needs agent", func(c *Config) { c.AdvisoryProvider = "lyzr"; c.LyzrAPIKey = "k" }, ErrMissingCredential},
		{"unknown provider", func(c *Config) { c.AdvisoryProvider = "bard" }, advisory.ErrUnknownProvider},
		{"mixed-case provider", func(c *Config) { c.AdvisoryProvider = " OpenAI " }, nil},
		{"mixed-case lyzr", func(c *Config) { c.AdvisoryProvider = "Lyzr" }, ErrMissingCredential},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid
			tt.mutate(&c)
			err := c.Validate()
			if tt.want == nil && err != nil {
				t.Errorf("unexpected error %v", err)
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestLoad_ProviderCaseInsensitive(t *testing.T) {
	setenv(t, map[string]string{
		"TELEGRAM_BOT_TOKEN": "123:abc",
		"ADVISORY_PROVIDER":  "OpenAI",
		"OPENAI_API_KEY":     "sk-test",
	})

	cfg, err := Load(NewViper())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Provider() != advisory.ProviderOpenAI || cfg.AdvisoryProvider != "openai" {
		t.Errorf("provider not normalised: %q", cfg.AdvisoryProvider)
	}

	direct := Config{AdvisoryProvider: "LYZR", LyzrAPIKey: "k", LyzrAgentID: "a"}
	if len(direct.AdvisoryOptions()) != 3 {
		t.Error("mixed-case lyzr should select the lyzr options")
	}
}

func TestLoadDotEnv(t *testing.T) {
	setenv(t, nil)
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("TELEGRAM_BOT_TOKEN=from-file\nOPENAI_API_KEY=sk-file\n"), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("OPENAI_API_KEY", "sk-env")

	LoadDotEnv(path)
	t.Cleanup(func() { os.Unsetenv("TELEGRAM_BOT_TOKEN") })

	cfg, err := Load(NewViper())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.TelegramBotToken != "from-file" {
		t.Errorf("token = %q, want value from .env", cfg.TelegramBotToken)
	}
	if cfg.OpenAIAPIKey != "sk-env" {
		t.Errorf("existing environment should win, got %q", cfg.OpenAIAPIKey)
	}
}

func TestDecode_SkipsValidation(t *testing.T) {
	setenv(t, map[string]string{"DATASET1_PATH": "/data/d1.csv"})
	cfg, err := Decode(NewViper())
	if err != nil {
		t.Fatalf("Decode should not require credentials: %v", err)
	}
	if cfg.Dataset1Path != "/data/d1.csv" || cfg.Dataset2Path != DefaultDataset2Path {
		t.Errorf("unexpected dataset paths %q %q", cfg.Dataset1Path, cfg.Dataset2Path)
	}
	if _, err := Load(NewViper()); !errors.Is(err, ErrMissingCredential) {
		t.Errorf("Load should validate, got %v", err)
	}
}
