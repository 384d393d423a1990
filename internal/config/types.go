package config

import logx "nybot/pkg/logx"

// Config is shared by both binaries. Each binary validates the sections it uses.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Backend   BackendConfig   `json:"backend"`
	Auth      AuthConfig      `json:"auth"`
	HTTP      HTTPConfig      `json:"http"`
	Gateway   GatewayConfig   `json:"gateway"`
	Dashboard DashboardConfig `json:"dashboard"`
	Storage   StorageConfig   `json:"storage"`
	Logging   LoggingConfig   `json:"logging"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

// BackendConfig tells the bot where to forward dashboard events.
// An empty URL disables forwarding.
type BackendConfig struct {
	URL string `json:"url,omitempty"`
}

// AuthConfig holds the admin identity and the shared secret.
//
// Secret signs session cookies and authenticates the bot on
// /api/internal/events. Do not log any of these fields.
type AuthConfig struct {
	Secret          string `json:"secret"`
	AdminLogin      string `json:"admin_login"`
	AdminPassword   string `json:"admin_password"`
	CookieSecure    bool   `json:"cookie_secure,omitempty"`
	LoginRatePerMin int    `json:"login_rate_per_min,omitempty"` // default 10
}

type HTTPConfig struct {
	Addr              string   `json:"addr,omitempty"` // default ":8011"
	ReadHeaderTimeout string   `json:"read_header_timeout,omitempty"`
	ShutdownTimeout   string   `json:"shutdown_timeout,omitempty"`
	CORSOrigins       []string `json:"cors_origins,omitempty"`
	// TrustedProxies may set X-Forwarded-For; empty trusts none.
	TrustedProxies []string `json:"trusted_proxies,omitempty"`
}

// GatewayConfig controls /ws live connections.
//
// Defaults (when fields are omitted/zero):
//   - buffer: 256 (events queued per connection before drops)
//   - max_connections: 0 (unlimited)
//   - ping_interval: "30s"
//   - write_timeout: "10s"
type GatewayConfig struct {
	Buffer         int    `json:"buffer,omitempty"`
	MaxConnections int    `json:"max_connections,omitempty"`
	PingInterval   string `json:"ping_interval,omitempty"`
	WriteTimeout   string `json:"write_timeout,omitempty"`
}

// DashboardConfig controls the periodic stats push. Schedule uses cron syntax
// ("@every 1m", "*/5 * * * *"). "off" disables it.
type DashboardConfig struct {
	StatsSchedule string `json:"stats_schedule,omitempty"`
}

// StorageConfig points at the SQLite database shared by bot and backend.
//
// Example:
//
//	"storage": { "path": "./data/bot.sqlite3" }
type StorageConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// Logx converts the logging section for pkg/logx.
func (l LoggingConfig) Logx() logx.Config {
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
	}
}
