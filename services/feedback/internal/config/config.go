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
	PublicBaseURL string `yaml:"publicBaseURL"`

	StoreDriver   string `yaml:"storeDriver"`
	DatabaseURL   string `yaml:"databaseURL"`
	MongoURI      string `yaml:"mongoURI"`
	MongoDatabase string `yaml:"mongoDatabase"`
	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`

	JWTSecret   string `yaml:"jwtSecret"`
	JWTIssuer   string `yaml:"jwtIssuer"`
	JWTAudience string `yaml:"jwtAudience"`
	SessionTTL  string `yaml:"sessionTTL"`

	CodeTTL          string `yaml:"codeTTL"`
	CodeLength       int    `yaml:"codeLength"`
	OpTimeout        string `yaml:"opTimeout"`
	MaxMessageLength int    `yaml:"maxMessageLength"`

	MailMode        string `yaml:"mailMode"`
	MailQueueStream string `yaml:"mailQueueStream"`
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

	AllowedOrigins           []string `yaml:"allowedOrigins"`
	TrustedProxies           []string `yaml:"trustedProxies"`
	SignupRateLimitPerMinute int      `yaml:"signupRateLimitPerMinute"`
	VerifyRateLimitPerMinute int      `yaml:"verifyRateLimitPerMinute"`
	LoginRateLimitPerMinute  int      `yaml:"loginRateLimitPerMinute"`
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
	applyEnv(&cfg)
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *FileConfig) {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	setString("PORT", &cfg.Port)
	setString("LOG_LEVEL", &cfg.LogLevel)
	setString("PUBLIC_BASE_URL", &cfg.PublicBaseURL)
	setString("STORE_DRIVER", &cfg.StoreDriver)
	setString("DATABASE_URL", &cfg.DatabaseURL)
	setString("MONGO_URI", &cfg.MongoURI)
	setString("MONGO_DATABASE", &cfg.MongoDatabase)
	setString("REDIS_ADDR", &cfg.RedisAddr)
	setString("REDIS_PASSWORD", &cfg.RedisPassword)
	setString("JWT_SECRET", &cfg.JWTSecret)
	setString("JWT_ISSUER", &cfg.JWTIssuer)
	setString("JWT_AUDIENCE", &cfg.JWTAudience)
	setString("SESSION_TTL", &cfg.SessionTTL)
	setString("CODE_TTL", &cfg.CodeTTL)
	setString("OP_TIMEOUT", &cfg.OpTimeout)
	setString("MAIL_MODE", &cfg.MailMode)
	setString("MAIL_QUEUE_STREAM", &cfg.MailQueueStream)
	setString("MAIL_PROVIDER", &cfg.MailProvider)
	setString("MAIL_FROM_NAME", &cfg.MailFromName)
	setString("MAIL_FROM_ADDRESS", &cfg.MailFromAddress)
	setString("SENDGRID_API_KEY", &cfg.SendGridAPIKey)
	setString("SENDGRID_HOST", &cfg.SendGridHost)
	setString("SMTP_HOST", &cfg.SMTPHost)
	setString("SMTP_USERNAME", &cfg.SMTPUsername)
	setString("SMTP_PASSWORD", &cfg.SMTPPassword)
	setInt("SMTP_PORT", &cfg.SMTPPort)
	setInt("CODE_LENGTH", &cfg.CodeLength)
	setInt("MAX_MESSAGE_LENGTH", &cfg.MaxMessageLength)
	setInt("SIGNUP_RATE_LIMIT_PER_MINUTE", &cfg.SignupRateLimitPerMinute)
	setInt("VERIFY_RATE_LIMIT_PER_MINUTE", &cfg.VerifyRateLimitPerMinute)
	setInt("LOGIN_RATE_LIMIT_PER_MINUTE", &cfg.LoginRateLimitPerMinute)
	if v := os.Getenv("SENDGRID_SANDBOX"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.SendGridSandbox = b
		}
	}
	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		cfg.AllowedOrigins = splitList(v)
	}
	if v := os.Getenv("TRUSTED_PROXIES"); v != "" {
		cfg.TrustedProxies = splitList(v)
	}
}

func applyDefaults(cfg *FileConfig) {
	cfg.StoreDriver = strings.ToLower(strings.TrimSpace(cfg.StoreDriver))
	if cfg.StoreDriver == "" {
		cfg.StoreDriver = "postgres"
	}
	cfg.MailMode = strings.ToLower(strings.TrimSpace(cfg.MailMode))
	if cfg.MailMode == "" {
		cfg.MailMode = "direct"
	}
	if cfg.MailProvider == "" {
		cfg.MailProvider = "log"
	}
	if cfg.MailFromName == "" {
		cfg.MailFromName = "True Feedback"
	}
	if cfg.MailQueueStream == "" {
		cfg.MailQueueStream = "truefeedback:mail"
	}
	if cfg.MongoDatabase == "" {
		cfg.MongoDatabase = "truefeedback"
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	if strings.TrimSpace(cfg.PublicBaseURL) == "" {
		return errors.New("config: publicBaseURL is required (set PUBLIC_BASE_URL)")
	}
	switch cfg.StoreDriver {
	case "memory":
	case "postgres":
		if cfg.DatabaseURL == "" {
			return errors.New("config: databaseURL is required for the postgres store")
		}
	case "mongo":
		if cfg.MongoURI == "" {
			return errors.New("config: mongoURI is required for the mongo store")
		}
	default:
		return fmt.Errorf("config: unknown storeDriver %q (memory, postgres, mongo)", cfg.StoreDriver)
	}
	if len(cfg.JWTSecret) < 32 {
		return errors.New("config: jwtSecret must be at least 32 bytes (set JWT_SECRET)")
	}
	switch cfg.MailMode {
	case "direct", "log":
	case "queue":
		if strings.TrimSpace(cfg.RedisAddr) == "" {
			return errors.New("config: redisAddr is required for mailMode queue")
		}
	default:
		return fmt.Errorf("config: unknown mailMode %q (queue, direct, log)", cfg.MailMode)
	}
	for _, d := range []struct{ name, value string }{
		{"sessionTTL", cfg.SessionTTL},
		{"codeTTL", cfg.CodeTTL},
		{"opTimeout", cfg.OpTimeout},
	} {
		if _, err := ParseDuration(d.name, d.value); err != nil {
			return fmt.Errorf("config: %w", err)
		}
	}
	if cfg.CodeLength < 0 || cfg.CodeLength > 12 {
		return errors.New("config: codeLength must be between 1 and 12")
	}
	if cfg.MaxMessageLength < 0 {
		return errors.New("config: maxMessageLength must be >= 0")
	}
	if cfg.SignupRateLimitPerMinute < 0 || cfg.VerifyRateLimitPerMinute < 0 || cfg.LoginRateLimitPerMinute < 0 {
		return errors.New("config: rate limits must be >= 0")
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
	if dur < 0 {
		return 0, fmt.Errorf("invalid %s duration: must be positive", name)
	}
	return dur, nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
