package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"

	InventoryStore = "store"
	InventoryRedis = "redis"
)

type Config struct {
	ServiceName string
	Env         string
	HTTPAddr    string
	LogFile     string

	PaymentWebhookSecret string
	AdminJWTSecret       string

	StoreDriver     string
	DatabaseURL     string
	InventoryDriver string
	RedisAddr       string
	RedisPassword   string
	RedisDB         int

	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	MailFrom     string
	StoreName    string

	KafkaBrokers []string
	KafkaTopic   string

	OrderIDPrefix    string
	ShippingFeeMinor int64

	RecoveryInterval time.Duration
	RecoveryMinAge   time.Duration
}

// Load reads .env when present, then the process environment.
func Load() (Config, error) {
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("config: load .env: %w", err)
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from getenv and validates it.
func FromEnv(getenv func(string) string) (Config, error) {
	r := reader{getenv: getenv}
	cfg := Config{
		ServiceName:          r.str("SERVICE_NAME", "minishop-checkout"),
		Env:                  r.str("ENV", "dev"),
		HTTPAddr:             r.str("HTTP_ADDR", ":8080"),
		LogFile:              r.str("LOG_FILE", ""),
		PaymentWebhookSecret: r.str("PAYMENT_WEBHOOK_SECRET", ""),
		AdminJWTSecret:       r.str("ADMIN_JWT_SECRET", ""),
		StoreDriver:          strings.ToLower(r.str("STORE_DRIVER", StoreMemory)),
		DatabaseURL:          r.str("DATABASE_URL", ""),
		InventoryDriver:      strings.ToLower(r.str("INVENTORY_DRIVER", InventoryStore)),
		RedisAddr:            r.str("REDIS_ADDR", "localhost:6379"),
		RedisPassword:        r.str("REDIS_PASSWORD", ""),
		RedisDB:              r.integer("REDIS_DB", 0),
		SMTPHost:             r.str("SMTP_HOST", ""),
		SMTPPort:             r.integer("SMTP_PORT", 587),
		SMTPUsername:         r.str("SMTP_USERNAME", ""),
		SMTPPassword:         r.str("SMTP_PASSWORD", ""),
		MailFrom:             r.str("MAIL_FROM", ""),
		StoreName:            r.str("STORE_NAME", "Minishop"),
		KafkaBrokers:         r.list("KAFKA_BROKERS"),
		KafkaTopic:           r.str("KAFKA_TOPIC", "orders.status-changed"),
		OrderIDPrefix:        r.str("ORDER_ID_PREFIX", "ORD"),
		ShippingFeeMinor:     int64(r.integer("SHIPPING_FEE_MINOR", 5000)),
		RecoveryInterval:     r.duration("RECOVERY_INTERVAL", time.Minute),
		RecoveryMinAge:       r.duration("RECOVERY_MIN_AGE", 30*time.Second),
	}
	if len(r.errs) > 0 {
		return Config{}, errors.Join(r.errs...)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if c.PaymentWebhookSecret == "" {
		errs = append(errs, errors.New("config: PAYMENT_WEBHOOK_SECRET is required"))
	}
	if c.AdminJWTSecret == "" {
		errs = append(errs, errors.New("config: ADMIN_JWT_SECRET is required"))
	}
	switch c.StoreDriver {
	case StoreMemory:
	case StorePostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("config: DATABASE_URL is required for the postgres store"))
		}
	default:
		errs = append(errs, fmt.Errorf("config: unknown STORE_DRIVER %q", c.StoreDriver))
	}
	switch c.InventoryDriver {
	case InventoryStore, InventoryRedis:
	default:
		errs = append(errs, fmt.Errorf("config: unknown INVENTORY_DRIVER %q", c.InventoryDriver))
	}
	if c.SMTPHost != "" && c.MailFrom == "" {
		errs = append(errs, errors.New("config: MAIL_FROM is required when SMTP_HOST is set"))
	}
	if c.ShippingFeeMinor < 0 {
		errs = append(errs, errors.New("config: SHIPPING_FEE_MINOR must not be negative"))
	}
	if c.RecoveryInterval <= 0 {
		errs = append(errs, errors.New("config: RECOVERY_INTERVAL must be positive"))
	}
	return errors.Join(errs...)
}

func (c Config) SMTPEnabled() bool  { return c.SMTPHost != "" }
func (c Config) KafkaEnabled() bool { return len(c.KafkaBrokers) > 0 }

type reader struct {
	getenv func(string) string
	errs   []error
}

func (r *reader) str(key, def string) string {
	if v := strings.TrimSpace(r.getenv(key)); v != "" {
		return v
	}
	return def
}

func (r *reader) integer(key string, def int) int {
	v := r.str(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("config: %s: %w", key, err))
		return def
	}
	return n
}

func (r *reader) duration(key string, def time.Duration) time.Duration {
	v := r.str(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("config: %s: %w", key, err))
		return def
	}
	return d
}

func (r *reader) list(key string) []string {
	var out []string
	for _, part := range strings.Split(r.str(key, ""), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
