package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v9"
	"github.com/joho/godotenv"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Config holds application configuration sourced from environment variables.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	Port        string `env:"PORT" envDefault:"8080"`

	DBPath         string `env:"DB_PATH" envDefault:"./dev.db"`
	MigrateOnStart bool   `env:"MIGRATE_ON_START" envDefault:"true"`
	SeedDemo       bool   `env:"SEED_DEMO" envDefault:"false"`

	RedisAddr        string        `env:"REDIS_ADDR"`
	RedisPassword    string        `env:"REDIS_PASSWORD"`
	RedisDB          int           `env:"REDIS_DB" envDefault:"0"`
	RedisConnectWait time.Duration `env:"REDIS_CONNECT_WAIT" envDefault:"30s"`

	NATSURL string `env:"NATS_URL"`

	SessionTTL       time.Duration `env:"SESSION_TTL" envDefault:"12h"`
	HTTPReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"10s"`
	HTTPWriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
	// SaveTimeout bounds every call to the database made on behalf of a
	// request (load, save prices, save rules).
	SaveTimeout time.Duration `env:"SAVE_TIMEOUT" envDefault:"15s"`
}

// Load reads .env (when present) and the environment and returns a validated
// Config. Variables already set in the environment win over the file.
func Load() (Config, error) {
	return load(".env")
}

func load(dotenvPath string) (Config, error) {
	// Best-effort: production should use real env injection.
	if err := godotenv.Load(dotenvPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load %s: %w", dotenvPath, err)
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch {
	case c.Environment != EnvDevelopment && c.Environment != EnvProduction:
		return fmt.Errorf("invalid ENVIRONMENT %q: want %s or %s", c.Environment, EnvDevelopment, EnvProduction)
	case c.Port == "":
		return errors.New("PORT must not be empty")
	case c.DBPath == "":
		return errors.New("DB_PATH must not be empty")
	case c.SessionTTL <= 0:
		return errors.New("SESSION_TTL must be positive")
	case c.SaveTimeout <= 0:
		return errors.New("SAVE_TIMEOUT must be positive")
	}
	return nil
}

// IsDev reports whether the server runs in development mode.
func (c Config) IsDev() bool {
	return c.Environment == EnvDevelopment
}

// Addr is the HTTP listen address.
func (c Config) Addr() string {
	return ":" + c.Port
}
