package logx

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func records(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m), line)
		out = append(out, m)
	}
	return out
}

func TestLoggerEmitsFields(t *testing.T) {
	var buf bytes.Buffer
	svc, root := New(Config{Level: "debug", Output: &buf})
	t.Cleanup(func() { _ = svc.Close() })

	root.With(String("comp", "test")).Info("hello", Int("n", 3), Err(errors.New("boom")), Err(nil))

	recs := records(t, &buf)
	require.Len(t, recs, 1)
	m := recs[0]
	require.Equal(t, "hello", m["message"])
	require.Equal(t, "info", m["level"])
	require.Equal(t, "test", m["comp"])
	require.EqualValues(t, 3, m["n"])
	require.Equal(t, "boom", m["err"])
	require.Contains(t, m["caller"], "logging_test.go")
}

func TestApplySwapsLevelForDerivedLoggers(t *testing.T) {
	var buf bytes.Buffer
	svc, root := New(Config{Level: "warning", Output: &buf})
	t.Cleanup(func() { _ = svc.Close() })
	log := root.With(String("comp", "x"))

	log.Info("quiet")
	require.Zero(t, buf.Len())

	svc.Apply(Config{Level: "debug", Output: &buf})
	log.Debug("loud")
	recs := records(t, &buf)
	require.Len(t, recs, 1)
	require.Equal(t, "loud", recs[0]["message"])
	require.Equal(t, "x", recs[0]["comp"])
}

func TestFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bot.log")
	svc, log := New(Config{File: FileConfig{Enabled: true, Path: path}})
	log.Error("written", String("k", "v"))
	require.NoError(t, svc.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(raw), `"message":"written"`)
	require.Contains(t, string(raw), `"k":"v"`)
}

func TestZeroAndNopLoggers(t *testing.T) {
	var log Logger
	require.True(t, log.IsZero())
	log.Error("ignored")

	nop := Nop()
	require.False(t, nop.IsZero())
	nop.With(String("a", "b")).Error("ignored")
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]string{
		"":        "info",
		"DEBUG":   "debug",
		" warn ":  "warn",
		"warning": "warn",
		"bogus":   "info",
	} {
		require.Equal(t, want, parseLevel(in).String(), in)
	}
}
