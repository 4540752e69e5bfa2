package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"

	"github.com/proposalgate/proposalgate/internal/codec"
	"github.com/proposalgate/proposalgate/internal/model"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Server.Port != 8080 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
	if cfg.Issuance.DefaultDuration != 20*time.Minute {
		t.Errorf("default duration = %s", cfg.Issuance.DefaultDuration)
	}
	if cfg.Sessions.ExtensionIncrement != 10*time.Minute || cfg.Sessions.MaxExtensions != 5 {
		t.Errorf("sessions = %+v", cfg.Sessions)
	}
	if cfg.Store.Pool.ConnMaxLifetime != 5*time.Minute {
		t.Errorf("pool = %+v", cfg.Store.Pool)
	}
	if cfg.Strategy() != codec.StrategyOpaque {
		t.Errorf("strategy = %s", cfg.Strategy())
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}

	iss := cfg.IssuanceConfig()
	if !iss.SingleUse || len(iss.DefaultScope) != 1 || iss.DefaultScope[0] != model.ActionView {
		t.Errorf("issuance config = %+v", iss)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"signed without secret", func(c *Config) {
			c.Codec.Strategy = "signed"
			c.Issuance.SingleUse = false
		}, "signing_secret"},
		{"signed single use", func(c *Config) {
			c.Codec.Strategy = "signed"
			c.Codec.SigningSecret = "s3cret"
		}, "single_use"},
		{"memory with replicas", func(c *Config) {
			c.Store.Driver = "memory"
			c.Server.Replicas = 3
		}, "replicas"},
		{"unknown strategy", func(c *Config) { c.Codec.Strategy = "magic" }, "codec.strategy"},
		{"default above max", func(c *Config) { c.Issuance.DefaultDuration = 30 * 24 * time.Hour }, "default_duration"},
		{"bad scope", func(c *Config) { c.Issuance.DefaultScope = "view,delete" }, "default_scope"},
		{"relative base url", func(c *Config) { c.Issuance.BaseURL = "/proposal/view" }, "base_url"},
		{"zero session ttl", func(c *Config) { c.Sessions.TTL = 0 }, "sessions"},
		{"recheck without directory", func(c *Config) { c.Validation.RecheckEligibility = true }, "recheck_eligibility"},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.Is(err, ErrInvalid) {
				t.Errorf("error should wrap ErrInvalid: %v", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q should mention %q", err, tt.want)
			}
		})
	}
}

func TestValidateSignedMultiUse(t *testing.T) {
	cfg := Default()
	cfg.Codec.Strategy = "signed"
	cfg.Codec.SigningSecret = "s3cret"
	cfg.Issuance.SingleUse = false
	cfg.Store.Driver = "memory"
	cfg.Server.Replicas = 4
	if err := cfg.Validate(); err != nil {
		t.Fatalf("signed multi-use over memory replicas should be allowed: %v", err)
	}
}

func TestReadFileExpandsEnv(t *testing.T) {
	t.Setenv("PG_TEST_SECRET", "from-env")
	path := filepath.Join(t.TempDir(), "proposalgate.yaml")
	content := `codec:
  strategy: signed
  signing_secret: ${PG_TEST_SECRET}
issuance:
  single_use: false
  default_duration: 45m
sessions:
  max_extensions: 2
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	v := viper.New()
	SetDefaults(v)
	if err := ReadFile(v, path); err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Codec.SigningSecret != "from-env" {
		t.Errorf("secret = %q", cfg.Codec.SigningSecret)
	}
	if cfg.Issuance.DefaultDuration != 45*time.Minute {
		t.Errorf("default duration = %s", cfg.Issuance.DefaultDuration)
	}
	if cfg.Sessions.MaxExtensions != 2 || cfg.Sessions.TTL != 20*time.Minute {
		t.Errorf("sessions = %+v", cfg.Sessions)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestWriteDefaultConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "proposalgate.yaml")
	if err := WriteDefaultConfig(path, false); err != nil {
		t.Fatalf("WriteDefaultConfig: %v", err)
	}
	if err := WriteDefaultConfig(path, false); err == nil {
		t.Error("second write without force should fail")
	}
	if err := WriteDefaultConfig(path, true); err != nil {
		t.Errorf("forced write: %v", err)
	}

	v := viper.New()
	if err := ReadFile(v, path); err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	cfg, err := Load(v)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Sessions.TTL != 20*time.Minute || cfg.Directory.ContactTable != "pre_approved_users" {
		t.Errorf("round-tripped config = %+v", cfg)
	}
}

func TestEffectiveYAMLMasksSecrets(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.Set("auth.jwt_secret", "top-secret-value")
	v.Set("notify.smtp_password", "hunter2")

	out, err := EffectiveYAML(v)
	if err != nil {
		t.Fatal(err)
	}
	s := string(out)
	if strings.Contains(s, "top-secret-value") || strings.Contains(s, "hunter2") {
		t.Errorf("secrets leaked:\n%s", s)
	}
	if !strings.Contains(s, "jwt_secret: '********'") && !strings.Contains(s, `jwt_secret: "********"`) {
		t.Errorf("masked secret missing:\n%s", s)
	}
}
