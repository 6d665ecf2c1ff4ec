package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the application's configuration.
type Config struct {
	Port        string   `yaml:"port"`
	CORSOrigins []string `yaml:"cors_origins"`
	LogLevel    string   `yaml:"log_level"`
	LogJSON     bool     `yaml:"log_json"`

	Store  StoreConfig  `yaml:"store"`
	Cache  CacheConfig  `yaml:"cache"`
	Alert  AlertConfig  `yaml:"alert"`
	Worker WorkerConfig `yaml:"worker"`
	Auth   AuthConfig   `yaml:"auth"`
}

// StoreConfig selects and configures the durable store driver.
type StoreConfig struct {
	Driver         string `yaml:"driver"` // influx, postgres or memory
	InfluxDBURL    string `yaml:"influxdb_url"`
	InfluxDBToken  string `yaml:"influxdb_token"`
	InfluxDBOrg    string `yaml:"influxdb_org"`
	InfluxDBBucket string `yaml:"influxdb_bucket"`
	PostgresDSN    string `yaml:"postgres_dsn"`
}

// CacheConfig configures the latest-reading and dedup store.
type CacheConfig struct {
	Driver        string        `yaml:"driver"` // redis or memory
	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
	LatestTTL     time.Duration `yaml:"latest_ttl"`
}

// AlertConfig configures threshold alert delivery.
type AlertConfig struct {
	WebhookURL  string        `yaml:"webhook_url"`
	DedupWindow time.Duration `yaml:"dedup_window"`
	AtomicDedup bool          `yaml:"atomic_dedup"`
	Timeout     time.Duration `yaml:"timeout"`
}

// WorkerConfig sizes the background task pool. Each ingested reading queues
// two tasks, so QueueSize/2 readings fit before tasks are dropped.
type WorkerConfig struct {
	Count     int `yaml:"count"`
	QueueSize int `yaml:"queue_size"`
}

// AuthConfig enables JWT validation on the data routes when Secret is set.
type AuthConfig struct {
	JWTSecret   string `yaml:"jwt_secret"`
	JWTIssuer   string `yaml:"jwt_issuer"`
	JWTAudience string `yaml:"jwt_audience"`
}

// LoadConfig loads the configuration. Values come from an optional YAML file
// named by CONFIG_FILE, then from environment variables (including a .env
// file), which take precedence.
func LoadConfig() (Config, error) {
	//load env variables
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file found, relying on system environment variables")
	}

	var cfg Config
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		fileCfg, err := LoadFile(path)
		if err != nil {
			return Config{}, err
		}
		cfg = fileCfg
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadFile reads a YAML config file without applying env or defaults.
func LoadFile(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	setString(&c.Port, "PORT")
	setString(&c.LogLevel, "LOG_LEVEL")
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		c.CORSOrigins = splitList(v)
	}

	setString(&c.Store.Driver, "STORE_DRIVER")
	setString(&c.Store.InfluxDBURL, "INFLUXDB_URL")
	setString(&c.Store.InfluxDBToken, "INFLUXDB_TOKEN")
	setString(&c.Store.InfluxDBOrg, "INFLUXDB_ORG")
	setString(&c.Store.InfluxDBBucket, "INFLUXDB_BUCKET")
	setString(&c.Store.PostgresDSN, "POSTGRES_DSN")

	setString(&c.Cache.Driver, "CACHE_DRIVER")
	setString(&c.Cache.RedisAddr, "REDIS_ADDR")
	setString(&c.Cache.RedisPassword, "REDIS_PASSWORD")

	setString(&c.Alert.WebhookURL, "ALERT_WEBHOOK_URL")

	setString(&c.Auth.JWTSecret, "AUTH_JWT_SECRET")
	setString(&c.Auth.JWTIssuer, "AUTH_JWT_ISSUER")
	setString(&c.Auth.JWTAudience, "AUTH_JWT_AUDIENCE")

	for _, f := range []func() error{
		func() error { return setBool(&c.LogJSON, "LOG_JSON") },
		func() error { return setInt(&c.Cache.RedisDB, "REDIS_DB") },
		func() error { return setDuration(&c.Cache.LatestTTL, "LATEST_TTL") },
		func() error { return setDuration(&c.Alert.DedupWindow, "ALERT_DEDUP_WINDOW") },
		func() error { return setBool(&c.Alert.AtomicDedup, "ALERT_DEDUP_ATOMIC") },
		func() error { return setDuration(&c.Alert.Timeout, "ALERT_TIMEOUT") },
		func() error { return setInt(&c.Worker.Count, "WORKER_COUNT") },
		func() error { return setInt(&c.Worker.QueueSize, "WORKER_QUEUE") },
	} {
		if err := f(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Port == "" {
		c.Port = "8000"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Store.Driver == "" {
		c.Store.Driver = "influx"
	}
	if c.Store.InfluxDBBucket == "" {
		c.Store.InfluxDBBucket = "readings"
	}
	if c.Cache.Driver == "" {
		c.Cache.Driver = "redis"
	}
	if c.Cache.RedisAddr == "" {
		c.Cache.RedisAddr = "localhost:6379"
	}
	if c.Cache.LatestTTL == 0 {
		c.Cache.LatestTTL = 24 * time.Hour
	}
	if c.Alert.DedupWindow == 0 {
		c.Alert.DedupWindow = 60 * time.Second
	}
	if c.Alert.Timeout == 0 {
		c.Alert.Timeout = 5 * time.Second
	}
	if c.Worker.Count == 0 {
		c.Worker.Count = 8
	}
	if c.Worker.QueueSize == 0 {
		c.Worker.QueueSize = 1024
	}
	if c.Auth.JWTSecret != "" {
		if c.Auth.JWTIssuer == "" {
			c.Auth.JWTIssuer = "capiot-telemetry"
		}
		if c.Auth.JWTAudience == "" {
			c.Auth.JWTAudience = "capiot-telemetry-api"
		}
	}
}

func (c *Config) validate() error {
	switch c.Store.Driver {
	case "influx":
		if c.Store.InfluxDBURL == "" || c.Store.InfluxDBToken == "" || c.Store.InfluxDBOrg == "" {
			return fmt.Errorf("InfluxDB configuration is incomplete. Please set INFLUXDB_URL, INFLUXDB_TOKEN, and INFLUXDB_ORG environment variables")
		}
	case "postgres":
		if c.Store.PostgresDSN == "" {
			return fmt.Errorf("POSTGRES_DSN is required when STORE_DRIVER=postgres")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.Store.Driver)
	}

	switch c.Cache.Driver {
	case "redis", "memory":
	default:
		return fmt.Errorf("unknown CACHE_DRIVER %q", c.Cache.Driver)
	}

	if c.Worker.Count < 1 || c.Worker.QueueSize < 1 {
		return fmt.Errorf("worker count and queue size must be positive")
	}
	if c.Alert.DedupWindow < time.Second {
		return fmt.Errorf("alert dedup window must be at least 1s, got %s", c.Alert.DedupWindow)
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setBool(dst *bool, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = b
	return nil
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = n
	return nil
}

func setDuration(dst *time.Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = d
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
