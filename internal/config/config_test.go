package config

import (
	"strings"
	"testing"
	"time"
)

func validConfig() Config {
	return Config{
		App:   AppConfig{Env: "local", Port: 8080, PublicURL: "https://voice.example.com"},
		DB:    DBConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "x", Name: "voice", SSLMode: "disable"},
		Redis: RedisConfig{Host: "localhost", Port: 6379},
		Auth:  AuthConfig{Secret: "secret", TokenTTL: 15 * time.Minute},
		Twilio: TwilioConfig{
			AccountSID:  "AC123",
			AuthToken:   "token",
			PhoneNumber: "+15551234567",
		},
		Gemini: GeminiConfig{APIKey: "key", Model: "gemini-2.5-flash-preview-native-audio-dialog", Voice: "Puck"},
		Calls:  CallsConfig{ContextTTL: 10 * time.Minute},
	}
}

func TestValidate_AcceptsCompleteConfig(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestValidate_ReportsMissingRequired(t *testing.T) {
	c := Config{}
	err := c.Validate()
	if err == nil {
		t.Fatalf("expected validation error")
	}
	for _, want := range []string{"APP_ENV", "PUBLIC_URL", "GEMINI_API_KEY", "TWILIO_ACCOUNT_SID", "AUTH_SECRET"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error missing %q: %v", want, err)
		}
	}
}

func TestValidate_ProductionRequiresSSLMode(t *testing.T) {
	c := validConfig()
	c.App.Env = "production"
	c.Auth.Issuer = "voice-engine"
	c.Auth.Audience = "voice-engine"
	c.DB.SSLMode = ""
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for production without DB_SSLMODE")
	}
}

func TestValidate_ProductionRequiresIssuerAndAudience(t *testing.T) {
	c := validConfig()
	c.App.Env = "production"
	c.DB.SSLMode = "require"
	err := c.Validate()
	if err == nil {
		t.Fatalf("expected error")
	}
	if !strings.Contains(err.Error(), "AUTH_ISSUER") || !strings.Contains(err.Error(), "AUTH_AUDIENCE") {
		t.Fatalf("error = %v", err)
	}
}

func TestValidate_RejectsBadEnv(t *testing.T) {
	c := validConfig()
	c.App.Env = "qa"
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for unknown env")
	}
}

func TestValidate_RejectsBadSSLMode(t *testing.T) {
	c := validConfig()
	c.DB.SSLMode = "maybe"
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for bad sslmode")
	}
}

func TestLoad_AppliesGeminiDefaults(t *testing.T) {
	t.Setenv("APP_ENV", "local")
	t.Setenv("APP_PORT", "8080")
	t.Setenv("PUBLIC_URL", "https://voice.example.com")
	t.Setenv("DB_HOST", "localhost")
	t.Setenv("DB_PORT", "5432")
	t.Setenv("DB_USER", "postgres")
	t.Setenv("DB_PASSWORD", "x")
	t.Setenv("DB_NAME", "voice")
	t.Setenv("REDIS_HOST", "localhost")
	t.Setenv("REDIS_PORT", "6379")
	t.Setenv("AUTH_SECRET", "secret")
	t.Setenv("TWILIO_ACCOUNT_SID", "AC123")
	t.Setenv("TWILIO_AUTH_TOKEN", "token")
	t.Setenv("TWILIO_PHONE_NUMBER", "+15551234567")
	t.Setenv("GEMINI_API_KEY", "key")
	t.Setenv("GEMINI_MODEL", "")
	t.Setenv("GEMINI_VOICE", "")
	t.Setenv("CALL_CONTEXT_TTL", "")
	t.Setenv("MAX_CONCURRENT_CALLS", "")
	t.Setenv("AUTH_TOKEN_TTL", "")
	t.Setenv("DB_SSLMODE", "")

	c, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Gemini.Model != defaultGeminiModel {
		t.Fatalf("model = %q", c.Gemini.Model)
	}
	if c.Gemini.Voice != defaultGeminiVoice {
		t.Fatalf("voice = %q", c.Gemini.Voice)
	}
	if c.Calls.ContextTTL != defaultContextTTL {
		t.Fatalf("context ttl = %v", c.Calls.ContextTTL)
	}
	if c.DB.SSLMode != "disable" {
		t.Fatalf("sslmode = %q", c.DB.SSLMode)
	}
}
