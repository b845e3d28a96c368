package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server       ServerConfig
	Database     DatabaseConfig
	Redis        RedisConfig
	Twilio       TwilioConfig
	RateLimit    RateLimitConfig
	Worker       WorkerConfig
	Retry        RetryConfig
	Queue        QueueConfig
	TemplateSync TemplateSyncConfig
	LogLevel     string
}

type ServerConfig struct {
	Address string
}

type DatabaseConfig struct {
	// PostgresURL empty selects the in-memory store.
	PostgresURL string
}

type RedisConfig struct {
	Address  string
	Password string
	DB       int
}

type TwilioConfig struct {
	AccountSID        string
	AuthToken         string
	WhatsAppNumber    string
	StatusCallbackURL string
	ValidateSignature bool
	Timeout           time.Duration
}

type RateLimitConfig struct {
	MaxRequests int
	Window      time.Duration
	Prefix      string
}

type WorkerConfig struct {
	Count   int
	SendRPS int
}

type RetryConfig struct {
	Max       int
	Intervals []time.Duration
}

type QueueConfig struct {
	Prefix          string
	PromoteInterval time.Duration
	// LeaseTTL is how long a dequeued job stays owned by a worker that stopped
	// renewing it.
	LeaseTTL time.Duration
}

type TemplateSyncConfig struct {
	// Schedule is a cron spec; empty disables polling.
	Schedule string
}

// LoadAll reads the whole configuration from the environment and reports every
// problem at once.
func LoadAll() (*Config, error) {
	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	cfg := &Config{
		Server: ServerConfig{
			Address: getEnv("SERVER_ADDRESS", ":8080"),
		},
		Database: DatabaseConfig{
			PostgresURL: os.Getenv("POSTGRES_URL"),
		},
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	var err error

	cfg.Redis.Address, err = requireEnv("REDIS_ADDR")
	collect(err)
	cfg.Redis.Password = os.Getenv("REDIS_PASSWORD")
	cfg.Redis.DB, err = getEnvInt("REDIS_DB", 0)
	collect(err)

	cfg.Twilio.AccountSID, err = requireEnv("TWILIO_ACCOUNT_SID")
	collect(err)
	cfg.Twilio.AuthToken, err = requireEnv("TWILIO_AUTH_TOKEN")
	collect(err)
	cfg.Twilio.WhatsAppNumber, err = requireEnv("TWILIO_WHATSAPP_NUMBER")
	collect(err)
	cfg.Twilio.StatusCallbackURL = os.Getenv("TWILIO_STATUS_CALLBACK_URL")
	cfg.Twilio.ValidateSignature, err = getEnvBool("TWILIO_VALIDATE_SIGNATURE", false)
	collect(err)
	cfg.Twilio.Timeout, err = getEnvSeconds("PROVIDER_TIMEOUT_SECONDS", 15)
	collect(err)

	cfg.RateLimit.MaxRequests, err = getEnvInt("RATE_LIMIT_MAX", 50)
	collect(err)
	cfg.RateLimit.Window, err = getEnvSeconds("RATE_LIMIT_WINDOW_SECONDS", 3600)
	collect(err)
	cfg.RateLimit.Prefix = getEnv("RATE_LIMIT_PREFIX", "wa_rate:")

	cfg.Worker.Count, err = getEnvInt("WORKER_COUNT", 4)
	collect(err)
	cfg.Worker.SendRPS, err = getEnvInt("WORKER_SEND_RPS", 0)
	collect(err)

	cfg.Retry.Max, err = getEnvInt("RETRY_MAX", 3)
	collect(err)
	cfg.Retry.Intervals, err = getEnvSecondsList("RETRY_INTERVALS_SECONDS", "60,120,300")
	collect(err)

	cfg.Queue.Prefix = getEnv("QUEUE_PREFIX", "wa:dispatch")
	cfg.Queue.PromoteInterval, err = getEnvSeconds("QUEUE_PROMOTE_SECONDS", 1)
	collect(err)
	cfg.Queue.LeaseTTL, err = getEnvSeconds("QUEUE_LEASE_SECONDS", 60)
	collect(err)

	cfg.TemplateSync.Schedule = getEnvRaw("TEMPLATE_SYNC_SCHEDULE", "@every 10m")

	if len(errs) > 0 {
		return nil, joinErrors(errs)
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func validate(cfg *Config) error {
	var errs []error

	if cfg.Twilio.Timeout <= 0 {
		errs = append(errs, errors.New("PROVIDER_TIMEOUT_SECONDS must be > 0"))
	}
	if cfg.RateLimit.MaxRequests <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_MAX must be > 0"))
	}
	if cfg.RateLimit.Window <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_WINDOW_SECONDS must be > 0"))
	}
	if cfg.Worker.Count <= 0 {
		errs = append(errs, errors.New("WORKER_COUNT must be > 0"))
	}
	if cfg.Worker.SendRPS < 0 {
		errs = append(errs, errors.New("WORKER_SEND_RPS must be >= 0"))
	}
	if cfg.Retry.Max < 0 {
		errs = append(errs, errors.New("RETRY_MAX must be >= 0"))
	}
	if len(cfg.Retry.Intervals) == 0 {
		errs = append(errs, errors.New("RETRY_INTERVALS_SECONDS must not be empty"))
	}
	if cfg.Queue.PromoteInterval <= 0 {
		errs = append(errs, errors.New("QUEUE_PROMOTE_SECONDS must be > 0"))
	}
	if cfg.Queue.LeaseTTL <= cfg.Twilio.Timeout {
		errs = append(errs, errors.New("QUEUE_LEASE_SECONDS must be greater than PROVIDER_TIMEOUT_SECONDS"))
	}
	if cfg.Twilio.ValidateSignature && cfg.Twilio.StatusCallbackURL == "" {
		errs = append(errs, errors.New("TWILIO_VALIDATE_SIGNATURE requires TWILIO_STATUS_CALLBACK_URL"))
	}

	return joinErrors(errs)
}

func requireEnv(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("missing required env var: %s", key)
	}
	return val, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// getEnvRaw is getEnv that keeps an explicitly empty value.
func getEnvRaw(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return strings.TrimSpace(v)
	}
	return def
}

func getEnvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid int for env %s: %s", key, v)
	}
	return i, nil
}

func getEnvBool(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid bool for env %s: %s", key, v)
	}
	return b, nil
}

func getEnvSeconds(key string, def int) (time.Duration, error) {
	n, err := getEnvInt(key, def)
	if err != nil {
		return 0, err
	}
	return time.Duration(n) * time.Second, nil
}

func getEnvSecondsList(key, def string) ([]time.Duration, error) {
	raw := getEnv(key, def)

	var out []time.Duration
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid seconds list for env %s: %s", key, raw)
		}
		out = append(out, time.Duration(n)*time.Second)
	}
	return out, nil
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}
