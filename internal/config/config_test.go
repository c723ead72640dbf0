package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != ":8080" {
		t.Errorf("ListenAddr = %q", cfg.ListenAddr)
	}
	if cfg.DBFile != "palaver.db" {
		t.Errorf("DBFile = %q", cfg.DBFile)
	}
	if cfg.TokenTTL != 24*time.Hour {
		t.Errorf("TokenTTL = %v", cfg.TokenTTL)
	}
	if cfg.RoomCacheTTL != 30*time.Second {
		t.Errorf("RoomCacheTTL = %v", cfg.RoomCacheTTL)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("LISTEN_ADDR", ":9999")
	t.Setenv("TOKEN_TTL", "1h")
	t.Setenv("VAPID_PUBLIC_KEY", "pub")
	t.Setenv("VAPID_PRIVATE_KEY", "priv")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != ":9999" {
		t.Errorf("ListenAddr = %q", cfg.ListenAddr)
	}
	if cfg.TokenTTL != time.Hour {
		t.Errorf("TokenTTL = %v", cfg.TokenTTL)
	}
}

func TestValidate(t *testing.T) {
	base := Config{JWTSecret: "s", TokenTTL: time.Hour}

	if err := base.Validate(); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}

	c := base
	c.JWTSecret = ""
	if err := c.Validate(); err == nil {
		t.Error("expected error for missing JWT_SECRET")
	}

	c = base
	c.TokenTTL = 0
	if err := c.Validate(); err == nil {
		t.Error("expected error for zero TOKEN_TTL")
	}

	c = base
	c.VAPIDPublicKey = "pub"
	if err := c.Validate(); err == nil {
		t.Error("expected error for unpaired VAPID key")
	}
	c.VAPIDPrivateKey = "priv"
	if err := c.Validate(); err != nil {
		t.Errorf("paired VAPID keys rejected: %v", err)
	}
}
