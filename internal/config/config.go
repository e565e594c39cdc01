package config

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"
)

var knownWeakSecrets = []string{
	"change-me", "dev-secret-change-me", "secret", "admin", "password",
}

// Config is the process-wide environment, parsed once at boot (spec §6
// "Environment inputs").
type Config struct {
	Port          int    `env:"PORT" envDefault:"8080"`
	DatabaseURL   string `env:"DATABASE_URL,required"`
	RedisURL      string `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`
	SecretKey     string `env:"SECRET_KEY,required"`
	HTTPServer    string `env:"HTTP_SERVER" envDefault:"chi"`
	SocketEnabled bool   `env:"SOCKET_ENABLED" envDefault:"true"`
	LogLevel      string `env:"LOG_LEVEL" envDefault:"info"`
	RoutePrefix   string `env:"ROUTE_PREFIX" envDefault:"/api/v1"`
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate applies the same "known weak secret" hygiene check the teacher
// uses for its session secrets, scoped to the one shared secret this
// gateway's admin surface relies on.
func (c *Config) Validate(isProduction bool) error {
	if c.SecretKey == "" {
		return fmt.Errorf("SECRET_KEY must be set")
	}

	if isProduction {
		if len(c.SecretKey) < 32 {
			log.Warn().Msg("SECRET_KEY is shorter than 32 characters in production")
		}
		for _, weak := range knownWeakSecrets {
			if c.SecretKey == weak {
				return fmt.Errorf("SECRET_KEY is a known weak default; set a strong secret in production")
			}
		}
		if strings.HasPrefix(c.RedisURL, "redis://") {
			log.Warn().Msg("REDIS_URL uses redis:// (not TLS) in production: consider using rediss://")
		}
	}

	return nil
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
