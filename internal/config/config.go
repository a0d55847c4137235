package config

import (
	"fmt"
	"log"
	"net/url"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Port                  string   `mapstructure:"PORT"`
	Env                   string   `mapstructure:"ENV"`
	FHIRBaseURL           string   `mapstructure:"FHIR_BASE_URL"`
	ClientID              string   `mapstructure:"CLIENT_ID"`
	RedirectURI           string   `mapstructure:"REDIRECT_URI"`
	Scopes                string   `mapstructure:"SCOPES"`
	ObservationCategories []string `mapstructure:"OBSERVATION_CATEGORIES"`
	DashboardPath         string   `mapstructure:"DASHBOARD_PATH"`
	SessionBacking        string   `mapstructure:"SESSION_BACKING"`
	SessionTTLMinutes     int      `mapstructure:"SESSION_TTL_MINUTES"`
	DatabaseURL           string   `mapstructure:"DATABASE_URL"`
	RedisURL              string   `mapstructure:"REDIS_URL"`
	DemoEnabled           bool     `mapstructure:"DEMO_ENABLED"`
	CORSOrigins           []string `mapstructure:"CORS_ORIGINS"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("SCOPES", "launch/patient openid fhirUser patient/Patient.read patient/Observation.read patient/Condition.read patient/MedicationRequest.read")
	v.SetDefault("OBSERVATION_CATEGORIES", "laboratory,vital-signs")
	v.SetDefault("DASHBOARD_PATH", "/")
	v.SetDefault("SESSION_BACKING", "memory")
	v.SetDefault("SESSION_TTL_MINUTES", 60)
	v.SetDefault("DEMO_ENABLED", true)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("FHIR_BASE_URL")
	v.BindEnv("CLIENT_ID")
	v.BindEnv("REDIRECT_URI")
	v.BindEnv("SCOPES")
	v.BindEnv("OBSERVATION_CATEGORIES")
	v.BindEnv("DASHBOARD_PATH")
	v.BindEnv("SESSION_BACKING")
	v.BindEnv("SESSION_TTL_MINUTES")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("REDIS_URL")
	v.BindEnv("DEMO_ENABLED")
	v.BindEnv("CORS_ORIGINS")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.ObservationCategories == nil {
		if raw := v.GetString("OBSERVATION_CATEGORIES"); raw != "" {
			cfg.ObservationCategories = splitTrim(raw)
		}
	}
	if cfg.CORSOrigins == nil {
		if raw := v.GetString("CORS_ORIGINS"); raw != "" {
			cfg.CORSOrigins = splitTrim(raw)
		}
	}

	if cfg.IsDev() && cfg.DemoEnabled {
		log.Println("WARNING: demo mode endpoint /demo is enabled; it bypasses the OAuth flow with synthetic data")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// ScopeList returns the configured scopes as a slice. The SCOPES value is
// space-separated, matching the OAuth wire format.
func (c *Config) ScopeList() []string {
	return strings.Fields(c.Scopes)
}

// Validate checks that the configuration is safe to run. The OAuth client
// settings are always required except when the gateway runs purely in demo
// mode; the session backing must name a configured backend.
func (c *Config) Validate() error {
	demoOnly := c.DemoEnabled && c.FHIRBaseURL == ""
	if !demoOnly {
		if c.FHIRBaseURL == "" {
			return fmt.Errorf("FHIR_BASE_URL is required")
		}
		if _, err := url.ParseRequestURI(c.FHIRBaseURL); err != nil {
			return fmt.Errorf("FHIR_BASE_URL is not a valid URL: %w", err)
		}
		if c.ClientID == "" {
			return fmt.Errorf("CLIENT_ID is required")
		}
		if c.RedirectURI == "" {
			return fmt.Errorf("REDIRECT_URI is required")
		}
		if c.Scopes == "" {
			return fmt.Errorf("SCOPES is required")
		}
	}

	switch c.SessionBacking {
	case "memory":
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when SESSION_BACKING is \"postgres\"")
		}
	case "redis":
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required when SESSION_BACKING is \"redis\"")
		}
	default:
		return fmt.Errorf("SESSION_BACKING must be \"memory\", \"postgres\", or \"redis\", got %q", c.SessionBacking)
	}

	if c.SessionTTLMinutes <= 0 {
		return fmt.Errorf("SESSION_TTL_MINUTES must be positive, got %d", c.SessionTTLMinutes)
	}

	return nil
}

func splitTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
