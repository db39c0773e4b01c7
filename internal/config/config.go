package config

import (
	"fmt"

	"github.com/joeshaw/envdecode"
	_ "github.com/joho/godotenv/autoload"
)

// Config carries the daemon settings. Everything comes from the environment
// (a .env file is picked up automatically) with CLI flags as overrides.
type Config struct {
	Home        string `env:"PLINKOD_HOME,default=.plinkod"`
	ListenAddr  string `env:"PLINKOD_LISTEN,default=tcp://0.0.0.0:26658"`
	Transport   string `env:"PLINKOD_TRANSPORT,default=socket"`
	MetricsAddr string `env:"PLINKOD_METRICS,default=:9464"`
	LogLevel    string `env:"PLINKOD_LOG_LEVEL,default=info"`
}

func Load() (Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode environment: %w", err)
	}
	if cfg.Transport != "socket" && cfg.Transport != "grpc" {
		return Config{}, fmt.Errorf("unsupported transport %q", cfg.Transport)
	}
	return cfg, nil
}
