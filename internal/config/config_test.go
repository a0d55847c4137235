package config

import (
	"strings"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "8000" {
		t.Errorf("Port = %q", cfg.Port)
	}
	if cfg.SessionBacking != "memory" {
		t.Errorf("SessionBacking = %q", cfg.SessionBacking)
	}
	if cfg.SessionTTLMinutes != 60 {
		t.Errorf("SessionTTLMinutes = %d", cfg.SessionTTLMinutes)
	}
	if !cfg.DemoEnabled {
		t.Error("demo should default on")
	}
	if len(cfg.ObservationCategories) != 2 ||
		cfg.ObservationCategories[0] != "laboratory" ||
		cfg.ObservationCategories[1] != "vital-signs" {
		t.Errorf("ObservationCategories = %v", cfg.ObservationCategories)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PORT", "9100")
	t.Setenv("FHIR_BASE_URL", "https://fhir.example.com/r4")
	t.Setenv("OBSERVATION_CATEGORIES", "laboratory, social-history")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "9100" {
		t.Errorf("Port = %q", cfg.Port)
	}
	if cfg.FHIRBaseURL != "https://fhir.example.com/r4" {
		t.Errorf("FHIRBaseURL = %q", cfg.FHIRBaseURL)
	}
	if len(cfg.ObservationCategories) != 2 || cfg.ObservationCategories[1] != "social-history" {
		t.Errorf("ObservationCategories = %v", cfg.ObservationCategories)
	}
}

func TestScopeList(t *testing.T) {
	c := &Config{Scopes: "openid  fhirUser launch/patient"}
	got := c.ScopeList()
	if len(got) != 3 || got[2] != "launch/patient" {
		t.Errorf("ScopeList = %v", got)
	}
}

func validConfig() *Config {
	return &Config{
		FHIRBaseURL:       "https://fhir.example.com/r4",
		ClientID:          "client-id",
		RedirectURI:       "http://localhost:8000/callback",
		Scopes:            "openid patient/Patient.read",
		SessionBacking:    "memory",
		SessionTTLMinutes: 60,
	}
}

func TestValidateOK(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidateDemoOnlyExemption(t *testing.T) {
	c := &Config{
		DemoEnabled:       true,
		SessionBacking:    "memory",
		SessionTTLMinutes: 60,
	}
	if err := c.Validate(); err != nil {
		t.Fatalf("demo-only config should validate: %v", err)
	}
}

func TestValidateMissingClientID(t *testing.T) {
	c := validConfig()
	c.ClientID = ""
	err := c.Validate()
	if err == nil || !strings.Contains(err.Error(), "CLIENT_ID") {
		t.Fatalf("expected CLIENT_ID error, got %v", err)
	}
}

func TestValidateBadFHIRURL(t *testing.T) {
	c := validConfig()
	c.FHIRBaseURL = "not a url"
	if err := c.Validate(); err == nil {
		t.Fatal("expected error for malformed FHIR_BASE_URL")
	}
}

func TestValidateBackingRequirements(t *testing.T) {
	c := validConfig()
	c.SessionBacking = "postgres"
	if err := c.Validate(); err == nil || !strings.Contains(err.Error(), "DATABASE_URL") {
		t.Fatalf("expected DATABASE_URL error, got %v", err)
	}
	c.DatabaseURL = "postgres://localhost/sessions"
	if err := c.Validate(); err != nil {
		t.Fatalf("postgres backing with url should validate: %v", err)
	}

	c = validConfig()
	c.SessionBacking = "redis"
	if err := c.Validate(); err == nil || !strings.Contains(err.Error(), "REDIS_URL") {
		t.Fatalf("expected REDIS_URL error, got %v", err)
	}

	c = validConfig()
	c.SessionBacking = "leveldb"
	if err := c.Validate(); err == nil {
		t.Fatal("expected error for unknown backing")
	}
}

func TestValidateTTL(t *testing.T) {
	c := validConfig()
	c.SessionTTLMinutes = 0
	if err := c.Validate(); err == nil {
		t.Fatal("expected error for non-positive TTL")
	}
}

func TestSplitTrim(t *testing.T) {
	got := splitTrim(" a, b ,, c ")
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Errorf("splitTrim = %v", got)
	}
}
