package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

var envVars = []string{
	"PORT", "ENV", "LOG_LEVEL", "DATABASE_DRIVER", "DATABASE_URL", "UPLOAD_DIR",
	"MAX_UPLOAD_SIZE_MB", "MAX_CHUNK_SIZE_MB", "UPLOAD_TTL", "JANITOR_INTERVAL",
	"PENDING_TIMEOUT", "RECONCILE_ON_START", "STRIP_IMAGE_METADATA", "PROVIDER",
	"SMTP_HOST", "SMTP_PORT", "SMTP_USER", "SMTP_PASS",
	"SES_REGION", "SES_ACCESS_KEY_ID", "SES_SECRET_ACCESS_KEY",
	"SENDGRID_API_KEY", "SENDGRID_BASE_URL",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range envVars {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}

	if cfg.Port != "8080" {
		t.Errorf("Port: got %q, want %q", cfg.Port, "8080")
	}
	if cfg.Provider != "stdout" {
		t.Errorf("Provider: got %q, want stdout", cfg.Provider)
	}
	if cfg.Uploads.MaxUploadSizeMB != 25 || cfg.Uploads.MaxChunkSizeMB != 50 {
		t.Errorf("size limits: got %d/%d, want 25/50", cfg.Uploads.MaxUploadSizeMB, cfg.Uploads.MaxChunkSizeMB)
	}
	if !cfg.ReconcileOnStart {
		t.Error("ReconcileOnStart should default to true")
	}
	if !cfg.IsDevelopment() {
		t.Error("expected development env by default")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9000")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("DATABASE_DRIVER", "pgx")
	t.Setenv("DATABASE_URL", "postgres://localhost/chunkmail")
	t.Setenv("PROVIDER", "smtp")
	t.Setenv("SMTP_HOST", "mail.example.org")
	t.Setenv("SMTP_PORT", "2525")
	t.Setenv("UPLOAD_TTL", "2h")
	t.Setenv("RECONCILE_ON_START", "false")

	cfg, err := load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}

	if cfg.Port != "9000" {
		t.Errorf("Port: got %q", cfg.Port)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel: got %q, want debug", cfg.LogLevel)
	}
	if cfg.Database.Driver != "pgx" {
		t.Errorf("Database.Driver: got %q", cfg.Database.Driver)
	}
	if cfg.SMTP.Port != 2525 {
		t.Errorf("SMTP.Port: got %d", cfg.SMTP.Port)
	}
	if cfg.Uploads.TTL != 2*time.Hour {
		t.Errorf("Uploads.TTL: got %v", cfg.Uploads.TTL)
	}
	if cfg.ReconcileOnStart {
		t.Error("ReconcileOnStart should be false")
	}
}

func TestLoadYAMLThenEnv(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
port: "7000"
provider: sendgrid
sendgrid:
  api_key: SG.from-yaml
uploads:
  dir: /var/lib/chunkmail
  max_chunk_size_mb: 64
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PORT", "7001")

	cfg, err := load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Port != "7001" {
		t.Errorf("env should override YAML, got port %q", cfg.Port)
	}
	if cfg.SendGrid.APIKey != "SG.from-yaml" {
		t.Errorf("SendGrid.APIKey: got %q", cfg.SendGrid.APIKey)
	}
	if cfg.Uploads.Dir != "/var/lib/chunkmail" || cfg.Uploads.MaxChunkSizeMB != 64 {
		t.Errorf("uploads from YAML not applied: %+v", cfg.Uploads)
	}
	if cfg.Uploads.MaxUploadSizeMB != 25 {
		t.Errorf("unset YAML fields keep defaults, got %d", cfg.Uploads.MaxUploadSizeMB)
	}
}

func TestLoadMissingFile(t *testing.T) {
	clearEnv(t)
	if _, err := load("/nonexistent/config.yaml"); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestLoadInvalidNumber(t *testing.T) {
	clearEnv(t)
	t.Setenv("MAX_CHUNK_SIZE_MB", "lots")
	if _, err := load(""); err == nil {
		t.Fatal("expected error for invalid MAX_CHUNK_SIZE_MB")
	}
}

func TestValidateProviders(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"stdout", func(c *Config) {}, false},
		{"smtp without host", func(c *Config) { c.Provider = "smtp" }, true},
		{"ses with region", func(c *Config) { c.Provider = "ses"; c.SES.Region = "eu-west-1" }, false},
		{"ses without region", func(c *Config) { c.Provider = "ses" }, true},
		{"sendgrid without key", func(c *Config) { c.Provider = "sendgrid" }, true},
		{"unknown provider", func(c *Config) { c.Provider = "pigeon" }, true},
		{"unknown driver", func(c *Config) { c.Database.Driver = "mysql" }, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Defaults()
			tc.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tc.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}
