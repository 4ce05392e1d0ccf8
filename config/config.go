package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// ErrMissing is returned when a required setting is absent.
var ErrMissing = errors.New("config: missing required setting")

type Config struct {
	Environment string
	LogLevel    string
	Server      ServerConfig
	Database    DatabaseConfig
	Auth        AuthConfig
	Documents   DocumentConfig
	OCR         OCRConfig
	Notify      NotifyConfig
	Outbox      OutboxConfig
	Expiry      ExpiryConfig
}

type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

type DatabaseConfig struct {
	URL      string
	MaxConns int32
}

type AuthConfig struct {
	JWTSecret string
}

type DocumentConfig struct {
	Secret        string
	Path          string
	PublicBaseURL string
	LinkTTL       time.Duration
}

type OCRConfig struct {
	URL           string
	APIKey        string
	Timeout       time.Duration
	MinConfidence float64
}

type NotifyConfig struct {
	SMTPHost               string
	SMTPPort               int
	SMTPUsername           string
	SMTPPassword           string
	SMTPFrom               string
	TelegramToken          string
	OperatorName           string
	OperatorEmail          string
	OperatorTelegramChatID int64
	DefaultOwnerName       string
	DefaultOwnerEmail      string
}

type OutboxConfig struct {
	Interval    time.Duration
	BatchSize   int
	Workers     int
	MaxAttempts int
	RetryDelay  time.Duration
}

type ExpiryConfig struct {
	SweepInterval time.Duration
}

// Load reads a .env file when one exists, then builds the configuration from
// the process environment.
func Load(files ...string) (*Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: load env file: %w", err)
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds the configuration from getenv, applying defaults and checking
// required settings.
func FromEnv(getenv func(string) string) (*Config, error) {
	e := env{get: getenv}

	cfg := &Config{
		Environment: e.str("ENVIRONMENT", "development"),
		LogLevel:    e.str("LOG_LEVEL", ""),
		Server: ServerConfig{
			Port:            e.str("PORT", "8080"),
			ReadTimeout:     e.duration("HTTP_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    e.duration("HTTP_WRITE_TIMEOUT", 3*time.Minute),
			ShutdownTimeout: e.duration("HTTP_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Database: DatabaseConfig{
			URL:      e.str("DATABASE_URL", ""),
			MaxConns: int32(e.integer("DB_MAX_CONNS", 10)),
		},
		Auth: AuthConfig{
			JWTSecret: e.str("JWT_SECRET", ""),
		},
		Documents: DocumentConfig{
			Secret:        e.str("DOCUMENT_SECRET", ""),
			Path:          e.str("DOCUMENT_DB_PATH", "./documents.db"),
			PublicBaseURL: strings.TrimRight(e.str("PUBLIC_BASE_URL", "http://localhost:8080"), "/"),
			LinkTTL:       e.duration("DOCUMENT_LINK_TTL", 15*time.Minute),
		},
		OCR: OCRConfig{
			URL:           e.str("OCR_URL", ""),
			APIKey:        e.str("OCR_API_KEY", ""),
			Timeout:       e.duration("OCR_TIMEOUT", 2*time.Minute),
			MinConfidence: e.float("OCR_MIN_CONFIDENCE", 0.6),
		},
		Notify: NotifyConfig{
			SMTPHost:               e.str("SMTP_HOST", ""),
			SMTPPort:               e.integer("SMTP_PORT", 587),
			SMTPUsername:           e.str("SMTP_USERNAME", ""),
			SMTPPassword:           e.str("SMTP_PASSWORD", ""),
			SMTPFrom:               e.str("SMTP_FROM", "offers@localhost"),
			TelegramToken:          e.str("TELEGRAM_BOT_TOKEN", ""),
			OperatorName:           e.str("OPERATOR_NAME", "Operations"),
			OperatorEmail:          e.str("OPERATOR_EMAIL", ""),
			OperatorTelegramChatID: int64(e.integer("OPERATOR_TELEGRAM_CHAT_ID", 0)),
			DefaultOwnerName:       e.str("DEFAULT_OWNER_NAME", "Listings desk"),
			DefaultOwnerEmail:      e.str("DEFAULT_OWNER_EMAIL", ""),
		},
		Outbox: OutboxConfig{
			Interval:    e.duration("OUTBOX_INTERVAL", 5*time.Second),
			BatchSize:   e.integer("OUTBOX_BATCH_SIZE", 50),
			Workers:     e.integer("OUTBOX_WORKERS", 4),
			MaxAttempts: e.integer("OUTBOX_MAX_ATTEMPTS", 8),
			RetryDelay:  e.duration("OUTBOX_RETRY_DELAY", 30*time.Second),
		},
		Expiry: ExpiryConfig{
			SweepInterval: e.duration("EXPIRY_SWEEP_INTERVAL", time.Hour),
		},
	}

	if len(e.bad) > 0 {
		return nil, fmt.Errorf("config: invalid values: %s", strings.Join(e.bad, ", "))
	}

	var missing []string
	for key, val := range map[string]string{
		"DATABASE_URL":    cfg.Database.URL,
		"JWT_SECRET":      cfg.Auth.JWTSecret,
		"DOCUMENT_SECRET": cfg.Documents.Secret,
		"OCR_URL":         cfg.OCR.URL,
	} {
		if val == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("%w: %s", ErrMissing, strings.Join(missing, ", "))
	}

	if cfg.Documents.LinkTTL > 15*time.Minute {
		cfg.Documents.LinkTTL = 15 * time.Minute
	}
	return cfg, nil
}

// LogConfig prints the effective configuration with secrets left out.
func (c *Config) LogConfig(logger *zap.Logger) {
	logger.Info("application configuration",
		zap.String("environment", c.Environment),
		zap.String("port", c.Server.Port),
		zap.String("database", redactURL(c.Database.URL)),
		zap.Int32("db_max_conns", c.Database.MaxConns),
		zap.String("document_db_path", c.Documents.Path),
		zap.String("public_base_url", c.Documents.PublicBaseURL),
		zap.Duration("document_link_ttl", c.Documents.LinkTTL),
		zap.String("ocr_url", c.OCR.URL),
		zap.Duration("ocr_timeout", c.OCR.Timeout),
		zap.Float64("ocr_min_confidence", c.OCR.MinConfidence),
		zap.Bool("email_enabled", c.Notify.SMTPHost != ""),
		zap.Bool("telegram_enabled", c.Notify.TelegramToken != ""),
		zap.Duration("outbox_interval", c.Outbox.Interval),
		zap.Int("outbox_workers", c.Outbox.Workers),
		zap.Duration("expiry_sweep_interval", c.Expiry.SweepInterval),
	)
}

// redactURL hides the password in a postgres:// connection string.
func redactURL(raw string) string {
	scheme := strings.Index(raw, "://")
	at := strings.LastIndex(raw, "@")
	if scheme < 0 || at < scheme {
		return raw
	}
	userinfo := raw[scheme+3 : at]
	if colon := strings.Index(userinfo, ":"); colon >= 0 {
		userinfo = userinfo[:colon] + ":[REDACTED]"
	}
	return raw[:scheme+3] + userinfo + raw[at:]
}

type env struct {
	get func(string) string
	bad []string
}

func (e *env) str(key, def string) string {
	if v := strings.TrimSpace(e.get(key)); v != "" {
		return v
	}
	return def
}

func (e *env) integer(key string, def int) int {
	v := strings.TrimSpace(e.get(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.bad = append(e.bad, key)
		return def
	}
	return n
}

func (e *env) float(key string, def float64) float64 {
	v := strings.TrimSpace(e.get(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.bad = append(e.bad, key)
		return def
	}
	return f
}

func (e *env) duration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(e.get(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		e.bad = append(e.bad, key)
		return def
	}
	return d
}
