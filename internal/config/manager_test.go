package config

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	logx "nybot/pkg/logx"
)

func newTestManager(path string, env map[string]string) *ConfigManager {
	m := NewConfigManager(path)
	m.getenv = func(k string) string { return env[k] }
	return m
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
}

func TestLoadYAMLWithEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, `
telegram:
  token: from-file
auth:
  secret: file-secret
  admin_login: admin
  admin_password: pw
gateway:
  buffer: 16
  ping_interval: 15s
logging:
  level: debug
  console: true
`)
	m := newTestManager(path, map[string]string{
		"AUTH_SECRET":  "env-secret",
		"BACKEND_PORT": "9000",
		"DB_PATH":      "/tmp/x.sqlite3",
	})
	cfg, err := m.Load()
	require.NoError(t, err)

	require.Equal(t, "from-file", cfg.Telegram.Token)
	require.Equal(t, "env-secret", cfg.Auth.Secret)
	require.Equal(t, ":9000", cfg.HTTP.Addr)
	require.Equal(t, "/tmp/x.sqlite3", cfg.Storage.Path)
	require.Equal(t, 16, cfg.Gateway.Buffer)
	require.Equal(t, DefaultStatsSchedule, cfg.Dashboard.StatsSchedule)
	require.Equal(t, 10, cfg.Auth.LoginRatePerMin)
	require.NoError(t, cfg.ValidateAdmin())
	require.NoError(t, cfg.ValidateBot())

	d, err := cfg.Durations()
	require.NoError(t, err)
	require.Equal(t, 15*time.Second, d.PingInterval)
	require.Equal(t, 10*time.Second, d.WriteTimeout)
	require.Same(t, cfg, m.Get())
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	writeFile(t, path, `{"auth":{"secret":"x","tokn":"typo"}}`)
	_, err := newTestManager(path, nil).Load()
	require.ErrorContains(t, err, "tokn")
}

func TestLoadRejectsTrailingData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	writeFile(t, path, `{} {}`)
	_, err := newTestManager(path, nil).Load()
	require.Error(t, err)
}

func TestMissingFileMeansEnvOnly(t *testing.T) {
	m := newTestManager(filepath.Join(t.TempDir(), "absent.yaml"), map[string]string{
		"BOT_TOKEN":      "t",
		"AUTH_SECRET":    "s",
		"ADMIN_LOGIN":    "admin",
		"ADMIN_PASSWORD": "pw",
		"BACKEND_URL":    "http://localhost:8011",
	})
	cfg, err := m.Load()
	require.NoError(t, err)
	require.Equal(t, DefaultHTTPAddr, cfg.HTTP.Addr)
	require.Equal(t, DefaultStorage, cfg.Storage.Path)
	require.NoError(t, cfg.ValidateBot())
	require.NoError(t, cfg.ValidateAdmin())
}

func TestValidateReportsMissingSecrets(t *testing.T) {
	var cfg Config
	cfg.ApplyDefaults()
	require.ErrorContains(t, cfg.ValidateAdmin(), "auth.secret")
	require.ErrorContains(t, cfg.ValidateBot(), "telegram.token")

	cfg = Config{Auth: AuthConfig{Secret: "s", AdminLogin: "a:b", AdminPassword: "p"}}
	require.ErrorContains(t, cfg.ValidateAdmin(), "must not contain")

	cfg = Config{Auth: AuthConfig{Secret: "s", AdminLogin: "a", AdminPassword: "p"}, Gateway: GatewayConfig{PingInterval: "often"}}
	require.ErrorContains(t, cfg.ValidateAdmin(), "gateway.ping_interval")

	cfg = Config{Auth: AuthConfig{Secret: "s", AdminLogin: "a", AdminPassword: "p"}, HTTP: HTTPConfig{CORSOrigins: []string{"http://dash.local", "*"}}}
	require.ErrorContains(t, cfg.ValidateAdmin(), "http.cors_origins")
}

func TestLoadDotEnvMissingFileIsFine(t *testing.T) {
	require.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), ".env")))
}

func TestLoadDotEnvDoesNotOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	writeFile(t, path, "NYBOT_TEST_A=from-file\nNYBOT_TEST_B=from-file\n")
	t.Setenv("NYBOT_TEST_A", "from-env")

	require.NoError(t, LoadDotEnv(path))
	t.Cleanup(func() { _ = os.Unsetenv("NYBOT_TEST_B") })
	require.Equal(t, "from-env", os.Getenv("NYBOT_TEST_A"))
	require.Equal(t, "from-file", os.Getenv("NYBOT_TEST_B"))
}

func TestWatchReloadsOnlyLogging(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	writeFile(t, path, `{"auth":{"secret":"one","admin_login":"admin","admin_password":"pw"},"logging":{"level":"info"}}`)

	m := newTestManager(path, nil)
	m.SetLogger(logx.Nop())
	_, err := m.Load()
	require.NoError(t, err)

	var reloads atomic.Int32
	m.OnReload(func(old, cur *Config) { reloads.Add(1) })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Watch(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	// Give the watcher a moment to register.
	time.Sleep(200 * time.Millisecond)
	writeFile(t, path, `{"auth":{"secret":"two","admin_login":"admin","admin_password":"pw"},"logging":{"level":"debug"}}`)

	require.Eventually(t, func() bool { return m.Get().Logging.Level == "debug" }, 5*time.Second, 50*time.Millisecond)
	require.Equal(t, "one", m.Get().Auth.Secret, "secrets are read-only after start")
	require.GreaterOrEqual(t, reloads.Load(), int32(1))
}
