package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port           string
	Environment    string
	AllowedOrigins []string
	JWTSecret      string
	TokenTTL       time.Duration
	DatabaseURL    string
	ICEServers     []string
	Redis          RedisConfig
	Signaling      SignalingConfig
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// SignalingConfig tunes the call state machine and room tracker.
type SignalingConfig struct {
	RingTimeout           time.Duration
	HoldRingingCandidates bool
	RoomHistoryLimit      int
}

// Load reads configuration from environment variables, optionally layered
// over a yaml file named by CONFIG_FILE.
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("PORT", "8080")
	v.SetDefault("ENVIRONMENT", "development")
	v.SetDefault("ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:5173")
	v.SetDefault("JWT_SECRET", "change-me-in-production")
	v.SetDefault("TOKEN_TTL", "24h")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("ICE_SERVERS", "stun:stun.l.google.com:19302")
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", "6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("CALL_RING_TIMEOUT", "45s")
	v.SetDefault("HOLD_RINGING_CANDIDATES", false)
	v.SetDefault("ROOM_HISTORY_LIMIT", 50)

	v.AutomaticEnv()

	if file := v.GetString("CONFIG_FILE"); file != "" {
		v.SetConfigFile(file)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", file, err)
		}
	}

	cfg := &Config{
		Port:           v.GetString("PORT"),
		Environment:    v.GetString("ENVIRONMENT"),
		AllowedOrigins: splitList(v.GetString("ALLOWED_ORIGINS")),
		JWTSecret:      v.GetString("JWT_SECRET"),
		TokenTTL:       v.GetDuration("TOKEN_TTL"),
		DatabaseURL:    v.GetString("DATABASE_URL"),
		ICEServers:     splitList(v.GetString("ICE_SERVERS")),
		Redis: RedisConfig{
			Host:     v.GetString("REDIS_HOST"),
			Port:     v.GetString("REDIS_PORT"),
			Password: v.GetString("REDIS_PASSWORD"),
			DB:       v.GetInt("REDIS_DB"),
		},
		Signaling: SignalingConfig{
			RingTimeout:           v.GetDuration("CALL_RING_TIMEOUT"),
			HoldRingingCandidates: v.GetBool("HOLD_RINGING_CANDIDATES"),
			RoomHistoryLimit:      v.GetInt("ROOM_HISTORY_LIMIT"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Signaling.RingTimeout <= 0 {
		return errors.New("CALL_RING_TIMEOUT must be positive")
	}
	if c.Signaling.RoomHistoryLimit <= 0 {
		return errors.New("ROOM_HISTORY_LIMIT must be positive")
	}
	if c.TokenTTL <= 0 {
		return errors.New("TOKEN_TTL must be positive")
	}
	if c.Environment == "production" && c.JWTSecret == "change-me-in-production" {
		return errors.New("JWT_SECRET must be set in production")
	}
	return nil
}

// IsProduction reports whether the server runs in release mode.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// Parse comma-separated values, dropping blanks
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
