package config

import (
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// LoadDotEnv loads KEY=VALUE pairs from path into the process environment
// without overriding variables that are already set. A missing file is fine.
func LoadDotEnv(path string) error {
	if strings.TrimSpace(path) == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return godotenv.Load(path)
}

// applyEnv overrides secrets and deployment-specific values from the environment.
func applyEnv(cfg *Config, getenv func(string) string) {
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	set(&cfg.Telegram.Token, "BOT_TOKEN")
	set(&cfg.Auth.Secret, "AUTH_SECRET")
	set(&cfg.Auth.AdminLogin, "ADMIN_LOGIN")
	set(&cfg.Auth.AdminPassword, "ADMIN_PASSWORD")
	set(&cfg.Storage.Path, "DB_PATH")
	set(&cfg.Backend.URL, "BACKEND_URL")
	if port := strings.TrimSpace(getenv("BACKEND_PORT")); port != "" {
		cfg.HTTP.Addr = ":" + port
	}
}
