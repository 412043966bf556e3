package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	JWT      JWTConfig      `yaml:"jwt"`
	OTP      OTPConfig      `yaml:"otp"`
	Redis    RedisConfig    `yaml:"redis"`
	Client   ClientConfig   `yaml:"client"`
	Location LocationConfig `yaml:"location"`
	Storage  StorageConfig  `yaml:"storage"`
}

type ServerConfig struct {
	Port         string        `yaml:"port"`
	Env          string        `yaml:"env"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	// AuthRateLimit is the number of /auth requests allowed per IP per minute.
	AuthRateLimit int `yaml:"auth_rate_limit"`
}

type DatabaseConfig struct {
	Driver          string        `yaml:"driver"` // sqlite | mysql
	DSN             string        `yaml:"dsn"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type JWTConfig struct {
	AccessSecret  string        `yaml:"access_secret"`
	RefreshSecret string        `yaml:"refresh_secret"`
	AccessExpiry  time.Duration `yaml:"access_expiry"`
	RefreshExpiry time.Duration `yaml:"refresh_expiry"`
	Issuer        string        `yaml:"issuer"`
}

type OTPConfig struct {
	Length int           `yaml:"length"`
	TTL    time.Duration `yaml:"ttl"`
	// ResendCooldown is enforced by the client before calling resend-registration-otp.
	ResendCooldown time.Duration `yaml:"resend_cooldown"`
}

// RedisConfig enables the redis OTP store when Addr is set; otherwise codes live in memory.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type ClientConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// LocationConfig holds the acquisition policy used by the geo engine and the tracker.
type LocationConfig struct {
	FixTimeout         time.Duration `yaml:"fix_timeout"`
	MaxCachedAge       time.Duration `yaml:"max_cached_age"`
	ProbeTimeout       time.Duration `yaml:"probe_timeout"`
	WatchInterval      time.Duration `yaml:"watch_interval"`
	WatchDistanceMeter float64       `yaml:"watch_distance_meters"`
	SettleDelay        time.Duration `yaml:"settle_delay"`
	PermissionDelay    time.Duration `yaml:"permission_delay"`
}

type StorageConfig struct {
	// Path of the on-device sqlite file holding tokens and the user snapshot.
	Path string `yaml:"path"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:          "8080",
			Env:           "development",
			ReadTimeout:   10 * time.Second,
			WriteTimeout:  10 * time.Second,
			AuthRateLimit: 30,
		},
		Database: DatabaseConfig{
			Driver:          "sqlite",
			DSN:             "farmai.db",
			MaxIdleConns:    10,
			MaxOpenConns:    1,
			ConnMaxLifetime: time.Hour,
		},
		JWT: JWTConfig{
			AccessSecret:  "change-me-in-production",
			RefreshSecret: "change-me-refresh",
			AccessExpiry:  15 * time.Minute,
			RefreshExpiry: 168 * time.Hour,
			Issuer:        "farmai",
		},
		OTP: OTPConfig{
			Length:         6,
			TTL:            10 * time.Minute,
			ResendCooldown: 120 * time.Second,
		},
		Client: ClientConfig{
			BaseURL: "http://localhost:8080/api/v1",
			Timeout: 10 * time.Second,
		},
		Location: LocationConfig{
			FixTimeout:         15 * time.Second,
			MaxCachedAge:       10 * time.Second,
			ProbeTimeout:       time.Second,
			WatchInterval:      time.Second,
			WatchDistanceMeter: 10,
			SettleDelay:        time.Second,
			PermissionDelay:    300 * time.Millisecond,
		},
		Storage: StorageConfig{
			Path: "farmai-device.db",
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file named by FARMAI_CONFIG,
// and environment variables (a .env file in the working directory is read first if present).
func Load() (*Config, error) {
	_ = godotenv.Load()
	cfg := Default()
	if path := os.Getenv("FARMAI_CONFIG"); path != "" {
		if err := loadFile(cfg, path); err != nil {
			return nil, err
		}
	}
	applyEnv(cfg)
	return cfg, nil
}

func loadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Server.Port = getEnv("SERVER_PORT", cfg.Server.Port)
	cfg.Server.Env = getEnv("APP_ENV", cfg.Server.Env)
	cfg.Server.AuthRateLimit = getEnvInt("AUTH_RATE_LIMIT", cfg.Server.AuthRateLimit)

	cfg.Database.Driver = getEnv("DATABASE_DRIVER", cfg.Database.Driver)
	cfg.Database.DSN = getEnv("DATABASE_DSN", cfg.Database.DSN)

	cfg.JWT.AccessSecret = getEnv("JWT_ACCESS_SECRET", cfg.JWT.AccessSecret)
	cfg.JWT.RefreshSecret = getEnv("JWT_REFRESH_SECRET", cfg.JWT.RefreshSecret)
	cfg.JWT.AccessExpiry = getEnvDuration("JWT_ACCESS_EXPIRY", cfg.JWT.AccessExpiry)
	cfg.JWT.RefreshExpiry = getEnvDuration("JWT_REFRESH_EXPIRY", cfg.JWT.RefreshExpiry)

	cfg.OTP.TTL = getEnvDuration("OTP_TTL", cfg.OTP.TTL)

	cfg.Redis.Addr = getEnv("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = getEnvInt("REDIS_DB", cfg.Redis.DB)

	cfg.Client.BaseURL = getEnv("FARMAI_API_URL", cfg.Client.BaseURL)
	cfg.Client.Timeout = getEnvDuration("FARMAI_API_TIMEOUT", cfg.Client.Timeout)
	cfg.Storage.Path = getEnv("FARMAI_STORAGE", cfg.Storage.Path)
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if v, err := strconv.Atoi(value); err == nil {
			return v
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if v, err := time.ParseDuration(value); err == nil {
			return v
		}
	}
	return fallback
}
