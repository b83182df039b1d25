package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	// Server
	Port     string `yaml:"port"`
	Env      string `yaml:"env"` // development, production
	LogLevel string `yaml:"log_level"`

	Database DatabaseConfig `yaml:"database"`
	Uploads  UploadConfig   `yaml:"uploads"`

	// Delivery
	Provider string         `yaml:"provider"` // stdout, smtp, ses, sendgrid
	SMTP     SMTPConfig     `yaml:"smtp"`
	SES      SESConfig      `yaml:"ses"`
	SendGrid SendGridConfig `yaml:"sendgrid"`

	// Re-encode image attachments to drop EXIF and similar metadata.
	StripImageMetadata bool `yaml:"strip_image_metadata"`

	// Pending records older than PendingTimeout are failed on startup.
	ReconcileOnStart bool          `yaml:"reconcile_on_start"`
	PendingTimeout   time.Duration `yaml:"pending_timeout"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"` // sqlite, pgx
	URL    string `yaml:"url"`
}

type UploadConfig struct {
	Dir             string        `yaml:"dir"`
	MaxUploadSizeMB int           `yaml:"max_upload_size_mb"`
	MaxChunkSizeMB  int           `yaml:"max_chunk_size_mb"`
	TTL             time.Duration `yaml:"ttl"`
	JanitorInterval time.Duration `yaml:"janitor_interval"`
}

type SMTPConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	User string `yaml:"user"`
	Pass string `yaml:"pass"`
}

type SESConfig struct {
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type SendGridConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// Load builds the configuration from defaults, an optional YAML file, a .env
// file and the environment, in increasing order of precedence.
func Load() (*Config, error) {
	// Load .env file if it exists (don't error if missing)
	_ = godotenv.Load()

	configPath := flag.String("config", getEnv("CONFIG_FILE", ""), "path to YAML configuration file (optional)")
	port := flag.String("port", "", "Server port")
	env := flag.String("env", "", "Environment (development, production)")
	flag.Parse()

	cfg, err := load(*configPath)
	if err != nil {
		return nil, err
	}
	if *port != "" {
		cfg.Port = *port
	}
	if *env != "" {
		cfg.Env = *env
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Defaults() *Config {
	return &Config{
		Port:     "8080",
		Env:      "development",
		LogLevel: "info",
		Database: DatabaseConfig{
			Driver: "sqlite",
			URL:    "chunkmail.db",
		},
		Uploads: UploadConfig{
			Dir:             "./uploads",
			MaxUploadSizeMB: 25,
			MaxChunkSizeMB:  50,
			TTL:             24 * time.Hour,
			JanitorInterval: time.Hour,
		},
		Provider:         "stdout",
		SMTP:             SMTPConfig{Port: 587},
		ReconcileOnStart: true,
		PendingTimeout:   15 * time.Minute,
	}
}

func (c *Config) applyEnv() error {
	setString(&c.Port, "PORT")
	setString(&c.Env, "ENV")
	setString(&c.LogLevel, "LOG_LEVEL")
	c.LogLevel = strings.ToLower(c.LogLevel)

	setString(&c.Database.Driver, "DATABASE_DRIVER")
	setString(&c.Database.URL, "DATABASE_URL")

	setString(&c.Uploads.Dir, "UPLOAD_DIR")
	setString(&c.Provider, "PROVIDER")

	setString(&c.SMTP.Host, "SMTP_HOST")
	setString(&c.SMTP.User, "SMTP_USER")
	setString(&c.SMTP.Pass, "SMTP_PASS")

	setString(&c.SES.Region, "SES_REGION")
	setString(&c.SES.AccessKeyID, "SES_ACCESS_KEY_ID")
	setString(&c.SES.SecretAccessKey, "SES_SECRET_ACCESS_KEY")

	setString(&c.SendGrid.APIKey, "SENDGRID_API_KEY")
	setString(&c.SendGrid.BaseURL, "SENDGRID_BASE_URL")

	for _, f := range []struct {
		key string
		dst *int
	}{
		{"SMTP_PORT", &c.SMTP.Port},
		{"MAX_UPLOAD_SIZE_MB", &c.Uploads.MaxUploadSizeMB},
		{"MAX_CHUNK_SIZE_MB", &c.Uploads.MaxChunkSizeMB},
	} {
		if v := os.Getenv(f.key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s: %w", f.key, err)
			}
			*f.dst = n
		}
	}

	for _, f := range []struct {
		key string
		dst *time.Duration
	}{
		{"UPLOAD_TTL", &c.Uploads.TTL},
		{"JANITOR_INTERVAL", &c.Uploads.JanitorInterval},
		{"PENDING_TIMEOUT", &c.PendingTimeout},
	} {
		if v := os.Getenv(f.key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%s: %w", f.key, err)
			}
			*f.dst = d
		}
	}

	for _, f := range []struct {
		key string
		dst *bool
	}{
		{"RECONCILE_ON_START", &c.ReconcileOnStart},
		{"STRIP_IMAGE_METADATA", &c.StripImageMetadata},
	} {
		if v := os.Getenv(f.key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("%s: %w", f.key, err)
			}
			*f.dst = b
		}
	}
	return nil
}

func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.Database.Driver != "sqlite" && c.Database.Driver != "pgx" {
		return fmt.Errorf("DATABASE_DRIVER must be sqlite or pgx, got %q", c.Database.Driver)
	}
	if c.Uploads.Dir == "" {
		return fmt.Errorf("UPLOAD_DIR is required")
	}
	if c.Uploads.MaxUploadSizeMB <= 0 || c.Uploads.MaxChunkSizeMB <= 0 {
		return fmt.Errorf("upload size limits must be positive")
	}
	if c.Uploads.TTL <= 0 || c.Uploads.JanitorInterval <= 0 {
		return fmt.Errorf("UPLOAD_TTL and JANITOR_INTERVAL must be positive")
	}

	switch c.Provider {
	case "stdout":
	case "smtp":
		if c.SMTP.Host == "" {
			return fmt.Errorf("SMTP_HOST is required for the smtp provider")
		}
	case "ses":
		if c.SES.Region == "" {
			return fmt.Errorf("SES_REGION is required for the ses provider")
		}
	case "sendgrid":
		if c.SendGrid.APIKey == "" {
			return fmt.Errorf("SENDGRID_API_KEY is required for the sendgrid provider")
		}
	default:
		return fmt.Errorf("unknown provider %q", c.Provider)
	}
	return nil
}

func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

// setString overrides dst only with non-empty environment values.
func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}
