package config

import (
	"fmt"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Config agrega toda a configuração da aplicação carregada do ambiente
type Config struct {
	Environment string `env:"APP_ENV" envDefault:"development"`

	Server   ServerConfig
	Database DatabaseConfig
	Log      LogConfig
	JWT      JWTConfig
	WhatsApp WhatsAppConfig
}

type ServerConfig struct {
	Host         string `env:"HOST" envDefault:"0.0.0.0"`
	Port         int    `env:"PORT" envDefault:"3333"`
	ReadTimeout  int    `env:"SERVER_READ_TIMEOUT" envDefault:"30"`
	WriteTimeout int    `env:"SERVER_WRITE_TIMEOUT" envDefault:"30"`
	IdleTimeout  int    `env:"SERVER_IDLE_TIMEOUT" envDefault:"60"`
}

type DatabaseConfig struct {
	URL             string `env:"DATABASE_URL,required"`
	MaxOpenConns    int    `env:"DB_MAX_OPEN_CONNS" envDefault:"25"`
	MaxIdleConns    int    `env:"DB_MAX_IDLE_CONNS" envDefault:"5"`
	ConnMaxLifetime int    `env:"DB_CONN_MAX_LIFETIME" envDefault:"300"`
	AutoMigrate     bool   `env:"DB_AUTO_MIGRATE" envDefault:"true"`
}

type LogConfig struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"console"`
	Output string `env:"LOG_OUTPUT" envDefault:"stdout"`
	Caller bool   `env:"LOG_CALLER" envDefault:"false"`
}

type JWTConfig struct {
	Secret    string `env:"JWT_SECRET,required"`
	ExpiresIn int    `env:"JWT_EXPIRES_IN" envDefault:"86400"` // seconds
}

type WhatsAppConfig struct {
	// Connection string for the whatsmeow device store. Falls back to the
	// application database when empty.
	StoreURL string `env:"WA_STORE_URL"`
	// Seconds to wait for the first terminal bootstrap state on start.
	StartTimeout int `env:"WA_START_TIMEOUT" envDefault:"120"`
	// Seconds between profile metadata refreshes while connected.
	ProfileRefreshInterval int `env:"WA_PROFILE_REFRESH_INTERVAL" envDefault:"60"`
	// Cron spec for the trial expiry sweep.
	TrialSweepSchedule string `env:"TRIAL_SWEEP_SCHEDULE" envDefault:"@every 1h"`
}

// Load lê .env (se existir) e popula a configuração a partir do ambiente
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	if cfg.WhatsApp.StoreURL == "" {
		cfg.WhatsApp.StoreURL = cfg.Database.URL
	}

	return cfg, nil
}

func (c *Config) GetServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}
