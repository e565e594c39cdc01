package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigMethods(t *testing.T) {
	t.Run("Addr returns formatted port", func(t *testing.T) {
		cfg := &Config{Port: 3000}
		assert.Equal(t, ":3000", cfg.Addr())
	})
}

func TestLoad(t *testing.T) {
	originalEnv := map[string]string{
		"PORT":           os.Getenv("PORT"),
		"DATABASE_URL":   os.Getenv("DATABASE_URL"),
		"REDIS_URL":      os.Getenv("REDIS_URL"),
		"SECRET_KEY":     os.Getenv("SECRET_KEY"),
		"HTTP_SERVER":    os.Getenv("HTTP_SERVER"),
		"SOCKET_ENABLED": os.Getenv("SOCKET_ENABLED"),
		"LOG_LEVEL":      os.Getenv("LOG_LEVEL"),
	}

	defer func() {
		for k, v := range originalEnv {
			if v == "" {
				os.Unsetenv(k)
			} else {
				os.Setenv(k, v)
			}
		}
	}()

	t.Run("loads config with defaults", func(t *testing.T) {
		os.Setenv("DATABASE_URL", "postgres://localhost/test")
		os.Setenv("SECRET_KEY", "a-strong-shared-secret")
		os.Unsetenv("PORT")
		os.Unsetenv("REDIS_URL")
		os.Unsetenv("HTTP_SERVER")
		os.Unsetenv("SOCKET_ENABLED")
		os.Unsetenv("LOG_LEVEL")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, 8080, cfg.Port)
		assert.Equal(t, "postgres://localhost/test", cfg.DatabaseURL)
		assert.Equal(t, "redis://localhost:6379/0", cfg.RedisURL)
		assert.Equal(t, "chi", cfg.HTTPServer)
		assert.True(t, cfg.SocketEnabled)
		assert.Equal(t, "info", cfg.LogLevel)
	})

	t.Run("loads custom values", func(t *testing.T) {
		os.Setenv("DATABASE_URL", "postgres://localhost/test")
		os.Setenv("SECRET_KEY", "a-strong-shared-secret")
		os.Setenv("PORT", "3000")
		os.Setenv("SOCKET_ENABLED", "false")
		os.Setenv("LOG_LEVEL", "debug")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, 3000, cfg.Port)
		assert.False(t, cfg.SocketEnabled)
		assert.Equal(t, "debug", cfg.LogLevel)
	})

	t.Run("fails without required DATABASE_URL", func(t *testing.T) {
		os.Unsetenv("DATABASE_URL")
		os.Setenv("SECRET_KEY", "a-strong-shared-secret")

		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("fails without required SECRET_KEY", func(t *testing.T) {
		os.Setenv("DATABASE_URL", "postgres://localhost/test")
		os.Unsetenv("SECRET_KEY")

		_, err := Load()
		assert.Error(t, err)
	})
}

func TestValidate(t *testing.T) {
	t.Run("rejects empty secret key", func(t *testing.T) {
		cfg := &Config{}
		assert.Error(t, cfg.Validate(false))
	})

	t.Run("rejects known weak secret in production", func(t *testing.T) {
		cfg := &Config{SecretKey: "change-me", RedisURL: "rediss://host:6379"}
		assert.Error(t, cfg.Validate(true))
	})

	t.Run("accepts a known weak secret outside production", func(t *testing.T) {
		cfg := &Config{SecretKey: "change-me"}
		assert.NoError(t, cfg.Validate(false))
	})
}
