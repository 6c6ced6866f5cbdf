package config

import (
	"reflect"
	"testing"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("WELCOME_CREDITS", "")
	t.Setenv("LOW_CREDIT_THRESHOLD", "")
	t.Setenv("PORT", "")
	t.Setenv("EMAIL_PROVIDERS", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Credits.WelcomeCredits != 5 || cfg.Credits.LowCreditThreshold != 3 {
		t.Fatalf("unexpected credit defaults: %+v", cfg.Credits)
	}
	if cfg.Server.Port != "8080" {
		t.Fatalf("unexpected port %q", cfg.Server.Port)
	}
	if !reflect.DeepEqual(cfg.Email.Providers, []string{"resend", "sendgrid"}) {
		t.Fatalf("unexpected providers %v", cfg.Email.Providers)
	}
	if cfg.Credits.PlanAllowances["free"] != 0 {
		t.Fatalf("free plan must have no allowance")
	}
}

func TestLoadConfigRejectsBadInt(t *testing.T) {
	t.Setenv("WELCOME_CREDITS", "lots")
	if _, err := LoadConfig(); err == nil {
		t.Fatalf("expected error for non-numeric WELCOME_CREDITS")
	}
}

func TestEnvList(t *testing.T) {
	t.Setenv("ADMIN_USER_IDS", " user_a, ,user_b ")
	got := envList("ADMIN_USER_IDS", nil)
	if !reflect.DeepEqual(got, []string{"user_a", "user_b"}) {
		t.Fatalf("envList = %v", got)
	}
}

func TestDSN(t *testing.T) {
	p := PostgresConfig{Username: "u", Password: "p", URL: "db.local", Port: "5432", Name: "app", SSLMode: "require"}
	if got, want := p.DSN(), "postgres://u:p@db.local:5432/app?sslmode=require"; got != want {
		t.Fatalf("DSN = %q, want %q", got, want)
	}
	p.DatabaseURL = "postgres://override"
	if p.DSN() != "postgres://override" {
		t.Fatalf("DATABASE_URL should win")
	}
}
