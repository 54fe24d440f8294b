package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ConfigPath is the default location of the service config file.
var ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port          string `yaml:"port"`
	LogLevel      string `yaml:"logLevel"`
	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`

	QueueStream      string `yaml:"mailQueueStream"`
	QueueGroup       string `yaml:"queueGroup"`
	QueueConcurrency int    `yaml:"queueConcurrency"`
	QueueMaxRetries  int    `yaml:"queueMaxRetries"`
	QueueRetryDelay  string `yaml:"queueRetryDelay"`
	SendTimeout      string `yaml:"sendTimeout"`

	MailProvider    string `yaml:"mailProvider"`
	MailFromName    string `yaml:"mailFromName"`
	MailFromAddress string `yaml:"mailFromAddress"`
	SendGridAPIKey  string `yaml:"sendgridAPIKey"`
	SendGridHost    string `yaml:"sendgridHost"`
	SendGridSandbox bool   `yaml:"sendgridSandbox"`
	SMTPHost        string `yaml:"smtpHost"`
	SMTPPort        int    `yaml:"smtpPort"`
	SMTPUsername    string `yaml:"smtpUsername"`
	SMTPPassword    string `yaml:"smtpPassword"`
}

// Load reads .env (if present), then config from path, then environment overrides.
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return cfg, fmt.Errorf("load .env: %w", err)
	}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	// Override with environment variables
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("MAIL_QUEUE_STREAM"); v != "" {
		cfg.QueueStream = v
	}
	if v := os.Getenv("MAILER_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.QueueConcurrency = n
		}
	}
	if v := os.Getenv("MAIL_PROVIDER"); v != "" {
		cfg.MailProvider = v
	}
	if v := os.Getenv("MAIL_FROM_ADDRESS"); v != "" {
		cfg.MailFromAddress = v
	}
	if v := os.Getenv("SENDGRID_API_KEY"); v != "" {
		cfg.SendGridAPIKey = v
	}
	if v := os.Getenv("SMTP_HOST"); v != "" {
		cfg.SMTPHost = v
	}
	if v := os.Getenv("SMTP_USERNAME"); v != "" {
		cfg.SMTPUsername = v
	}
	if v := os.Getenv("SMTP_PASSWORD"); v != "" {
		cfg.SMTPPassword = v
	}
	if cfg.QueueStream == "" {
		cfg.QueueStream = "truefeedback:mail"
	}
	if cfg.QueueGroup == "" {
		cfg.QueueGroup = "mailer"
	}
	if cfg.MailFromName == "" {
		cfg.MailFromName = "True Feedback"
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	if strings.TrimSpace(cfg.RedisAddr) == "" {
		return errors.New("config: redisAddr is required")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.MailProvider)) {
	case "sendgrid":
		if cfg.SendGridAPIKey == "" {
			return errors.New("config: sendgridAPIKey is required for the sendgrid provider")
		}
	case "smtp":
		if cfg.SMTPHost == "" {
			return errors.New("config: smtpHost is required for the smtp provider")
		}
	case "", "log":
	default:
		return fmt.Errorf("config: unknown mailProvider %q", cfg.MailProvider)
	}
	if cfg.QueueConcurrency < 0 || cfg.QueueMaxRetries < 0 {
		return errors.New("config: queue settings must be >= 0")
	}
	for _, d := range []struct{ name, value string }{
		{"queueRetryDelay", cfg.QueueRetryDelay},
		{"sendTimeout", cfg.SendTimeout},
	} {
		if _, err := ParseDuration(d.name, d.value); err != nil {
			return fmt.Errorf("config: %w", err)
		}
	}
	return nil
}

// ParseDuration parses an optional duration; empty yields zero.
func ParseDuration(name, value string) (time.Duration, error) {
	if strings.TrimSpace(value) == "" {
		return 0, nil
	}
	dur, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s duration: %w", name, err)
	}
	return dur, nil
}
