package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	ListenAddr  string `envconfig:"LISTEN_ADDR" default:":8080"`
	BaseURL     string `envconfig:"BASE_URL" default:"http://localhost:8080"`
	DBFile      string `envconfig:"DB_FILE" default:"palaver.db"`
	UploadsPath string `envconfig:"UPLOADS_PATH" default:"uploads"`

	// JWTSecret must match the secret the auth service signs tokens with.
	JWTSecret string        `envconfig:"JWT_SECRET"`
	TokenTTL  time.Duration `envconfig:"TOKEN_TTL" default:"24h"`

	RoomCacheTTL time.Duration `envconfig:"ROOM_CACHE_TTL" default:"30s"`

	// Web push is disabled when the VAPID key pair is empty.
	VAPIDPublicKey  string `envconfig:"VAPID_PUBLIC_KEY"`
	VAPIDPrivateKey string `envconfig:"VAPID_PRIVATE_KEY"`
	PushContact     string `envconfig:"PUSH_CONTACT" default:"mailto:ops@localhost"`
}

func Load() (*Config, error) {
	// Optional .env for local development.
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}

	if c.TokenTTL <= 0 {
		return fmt.Errorf("TOKEN_TTL must be greater than 0")
	}

	if (c.VAPIDPublicKey == "") != (c.VAPIDPrivateKey == "") {
		return fmt.Errorf("VAPID_PUBLIC_KEY and VAPID_PRIVATE_KEY must be set together")
	}

	return nil
}
