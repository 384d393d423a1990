package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

const (
	DefaultHTTPAddr      = ":8011"
	DefaultStorage       = "./data/bot.sqlite3"
	DefaultStatsSchedule = "@every 1m"
)

// ApplyDefaults fills omitted optional fields.
func (c *Config) ApplyDefaults() {
	if strings.TrimSpace(c.HTTP.Addr) == "" {
		c.HTTP.Addr = DefaultHTTPAddr
	}
	if strings.TrimSpace(c.Storage.Path) == "" {
		c.Storage.Path = DefaultStorage
	}
	if strings.TrimSpace(c.Dashboard.StatsSchedule) == "" {
		c.Dashboard.StatsSchedule = DefaultStatsSchedule
	}
	if c.Auth.LoginRatePerMin <= 0 {
		c.Auth.LoginRatePerMin = 10
	}
}

// ValidateBot checks what cmd/bot needs.
func (c *Config) ValidateBot() error {
	var errs []error
	if strings.TrimSpace(c.Telegram.Token) == "" {
		errs = append(errs, errors.New("telegram.token (or BOT_TOKEN) is required"))
	}
	if strings.TrimSpace(c.Backend.URL) != "" && c.Auth.Secret == "" {
		errs = append(errs, errors.New("auth.secret (or AUTH_SECRET) is required when backend.url is set"))
	}
	if _, err := ParseDuration("telegram.poll_timeout", c.Telegram.PollTimeout, 0); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseDuration("storage.busy_timeout", c.Storage.BusyTimeout, 0); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ValidateAdmin checks what cmd/admin needs.
func (c *Config) ValidateAdmin() error {
	var errs []error
	if c.Auth.Secret == "" {
		errs = append(errs, errors.New("auth.secret (or AUTH_SECRET) is required"))
	}
	if strings.TrimSpace(c.Auth.AdminLogin) == "" || c.Auth.AdminPassword == "" {
		errs = append(errs, errors.New("auth.admin_login and auth.admin_password (or ADMIN_LOGIN/ADMIN_PASSWORD) are required"))
	}
	if strings.Contains(c.Auth.AdminLogin, ":") {
		errs = append(errs, errors.New("auth.admin_login must not contain ':'"))
	}
	if slices.Contains(c.HTTP.CORSOrigins, "*") {
		errs = append(errs, errors.New("http.cors_origins: \"*\" is not allowed with cookie sessions, list origins explicitly"))
	}
	if c.Gateway.Buffer < 0 || c.Gateway.MaxConnections < 0 {
		errs = append(errs, fmt.Errorf("gateway.buffer and gateway.max_connections must be >= 0"))
	}
	for path, raw := range map[string]string{
		"http.read_header_timeout": c.HTTP.ReadHeaderTimeout,
		"http.shutdown_timeout":    c.HTTP.ShutdownTimeout,
		"gateway.ping_interval":    c.Gateway.PingInterval,
		"gateway.write_timeout":    c.Gateway.WriteTimeout,
		"storage.busy_timeout":     c.Storage.BusyTimeout,
	} {
		if _, err := ParseDuration(path, raw, 0); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Durations is the parsed form of every duration field, with defaults applied.
type Durations struct {
	PollTimeout       time.Duration
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
	PingInterval      time.Duration
	WriteTimeout      time.Duration
	BusyTimeout       time.Duration
}

func (c *Config) Durations() (Durations, error) {
	var (
		d   Durations
		err error
	)
	parse := func(dst *time.Duration, path, raw string, def time.Duration) {
		if err != nil {
			return
		}
		*dst, err = ParseDuration(path, raw, def)
	}
	parse(&d.PollTimeout, "telegram.poll_timeout", c.Telegram.PollTimeout, 10*time.Second)
	parse(&d.ReadHeaderTimeout, "http.read_header_timeout", c.HTTP.ReadHeaderTimeout, 10*time.Second)
	parse(&d.ShutdownTimeout, "http.shutdown_timeout", c.HTTP.ShutdownTimeout, 5*time.Second)
	parse(&d.PingInterval, "gateway.ping_interval", c.Gateway.PingInterval, 30*time.Second)
	parse(&d.WriteTimeout, "gateway.write_timeout", c.Gateway.WriteTimeout, 10*time.Second)
	parse(&d.BusyTimeout, "storage.busy_timeout", c.Storage.BusyTimeout, 5*time.Second)
	return d, err
}

// ParseDuration parses a Go duration string. Empty or zero values yield def;
// negative values are rejected. path names the field in error messages.
func ParseDuration(path, raw string, def time.Duration) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	case d < 0:
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	case d == 0:
		return def, nil
	}
	return d, nil
}
