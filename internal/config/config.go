package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"coderoom/internal/models"
	"coderoom/internal/store"
)

// Config is read from the environment, optionally layered over a YAML file named by CONFIG_FILE.
type Config struct {
	Port            string        `mapstructure:"port"`
	JWTSecret       string        `mapstructure:"jwt_secret"`
	FrontendOrigin  string        `mapstructure:"frontend_origin"`
	StoreDriver     string        `mapstructure:"store_driver"`
	MongoURL        string        `mapstructure:"mongo_url"`
	MongoDatabase   string        `mapstructure:"mongo_db"`
	MongoCollection string        `mapstructure:"mongo_collection"`
	PostgresDSN     string        `mapstructure:"postgres_dsn"`
	SQLitePath      string        `mapstructure:"sqlite_path"`
	RedisAddr       string        `mapstructure:"redis_addr"`
	AutosaveDelay   time.Duration `mapstructure:"autosave_delay"`
	PersistTimeout  time.Duration `mapstructure:"persist_timeout"`
	ReapSchedule    string        `mapstructure:"reap_schedule"`
	DefaultDocument string        `mapstructure:"default_document"`
	LogLevel        string        `mapstructure:"log_level"`
	SendBuffer      int           `mapstructure:"send_buffer"`
}

var defaults = map[string]any{
	"port":             "8080",
	"jwt_secret":       "",
	"frontend_origin":  "http://localhost:5173",
	"store_driver":     store.DriverMongo,
	"mongo_url":        "mongodb://localhost:27017/realtime",
	"mongo_db":         "realtime",
	"mongo_collection": "documents",
	"postgres_dsn":     "",
	"sqlite_path":      "coderoom.db",
	"redis_addr":       "",
	"autosave_delay":   "1s",
	"persist_timeout":  "5s",
	"reap_schedule":    "@every 1m",
	"default_document": models.DefaultDocumentContent,
	"log_level":        "info",
	"send_buffer":      256,
}

func Load() (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()

	if file := os.Getenv("CONFIG_FILE"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.StoreDriver = strings.ToLower(strings.TrimSpace(cfg.StoreDriver))
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Addr() string { return ":" + c.Port }

// StoreOptions maps the config onto the document store factory.
func (c *Config) StoreOptions() store.Options {
	return store.Options{
		Driver:          c.StoreDriver,
		MongoURL:        c.MongoURL,
		MongoDatabase:   c.MongoDatabase,
		MongoCollection: c.MongoCollection,
		PostgresDSN:     c.PostgresDSN,
		SQLitePath:      c.SQLitePath,
	}
}

func validateConfig(cfg *Config) error {
	if cfg.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	if cfg.Port == "" {
		return errors.New("PORT must not be empty")
	}
	switch cfg.StoreDriver {
	case store.DriverMongo:
		if cfg.MongoURL == "" {
			return errors.New("MONGO_URL is required for the mongo store")
		}
	case store.DriverPostgres:
		if cfg.PostgresDSN == "" {
			return errors.New("POSTGRES_DSN is required for the postgres store")
		}
	case store.DriverSQLite:
		if cfg.SQLitePath == "" {
			return errors.New("SQLITE_PATH is required for the sqlite store")
		}
	default:
		return errors.New("unsupported STORE_DRIVER: " + cfg.StoreDriver + ". Currently supported: mongo, postgres, sqlite")
	}
	if cfg.AutosaveDelay <= 0 {
		return errors.New("AUTOSAVE_DELAY must be positive")
	}
	if cfg.PersistTimeout <= 0 {
		return errors.New("PERSIST_TIMEOUT must be positive")
	}
	if cfg.SendBuffer <= 0 {
		return errors.New("SEND_BUFFER must be positive")
	}
	return nil
}
