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

// Config is the service configuration.
type Config struct {
	Env        string     `yaml:"env"`
	Port       string     `yaml:"port"`
	LogLevel   string     `yaml:"log_level"`
	LogPretty  bool       `yaml:"log_pretty"`
	JWTSecret  string     `yaml:"jwt_secret"`
	TokenTTL   Duration   `yaml:"token_ttl"`
	DB         DBConfig   `yaml:"db"`
	SendRate   RateConfig `yaml:"send_rate"`
	CORSOrigin []string   `yaml:"cors_origins"`
}

type DBConfig struct {
	Driver string `yaml:"driver"` // mysql or postgres
	DSN    string `yaml:"dsn"`
}

// RateConfig bounds message writes per user.
type RateConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// Duration reads "24h" style values from YAML.
type Duration struct{ time.Duration }

func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	v, err := time.ParseDuration(n.Value)
	if err != nil {
		return fmt.Errorf("duration %q: %w", n.Value, err)
	}
	d.Duration = v
	return nil
}

// Current is the configuration loaded by Load.
var Current = Default()

func Default() *Config {
	return &Config{
		Env:        "development",
		Port:       "8082",
		LogLevel:   "info",
		JWTSecret:  "dev-jwt-secret-change-me",
		TokenTTL:   Duration{72 * time.Hour},
		DB:         DBConfig{Driver: "mysql", DSN: "root:root@tcp(127.0.0.1:3306)/consogab?charset=utf8mb4&parseTime=True&loc=Local"},
		SendRate:   RateConfig{RPS: 5, Burst: 10},
		CORSOrigin: []string{"*"},
	}
}

// Load builds the configuration from defaults, the optional YAML file at
// path, a .env file in the working directory and the environment, later
// sources winning.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	Current = cfg
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Env = getEnv("CONSOGAB_ENV", cfg.Env)
	cfg.Port = getEnv("PORT", getEnv("CONSOGAB_PORT", cfg.Port))
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.LogPretty = getEnvBool("CONSOGAB_LOG_PRETTY", cfg.LogPretty)
	cfg.JWTSecret = getEnv("JWT_SECRET", cfg.JWTSecret)
	if v := os.Getenv("CONSOGAB_TOKEN_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.TokenTTL = Duration{d}
		}
	}
	cfg.DB.Driver = getEnv("DB_DRIVER", cfg.DB.Driver)
	cfg.DB.DSN = getEnv("DB_DSN", cfg.DB.DSN)
	cfg.SendRate.RPS = getEnvFloat("SEND_RATE_RPS", cfg.SendRate.RPS)
	cfg.SendRate.Burst = getEnvInt("SEND_RATE_BURST", cfg.SendRate.Burst)
	if v := os.Getenv("CONSOGAB_CORS_ORIGINS"); v != "" {
		cfg.CORSOrigin = strings.Split(v, ",")
	}
}

// Validate rejects configurations the service cannot start with.
func (c *Config) Validate() error {
	switch c.DB.Driver {
	case "mysql", "postgres":
	default:
		return fmt.Errorf("config: unsupported db driver %q", c.DB.Driver)
	}
	if c.JWTSecret == "" {
		return errors.New("config: jwt secret is empty")
	}
	if c.IsProduction() && c.JWTSecret == Default().JWTSecret {
		return errors.New("config: default jwt secret in production")
	}
	if c.TokenTTL.Duration <= 0 {
		return errors.New("config: token ttl must be positive")
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
