package adminapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"nybot/internal/broker"
	"nybot/internal/events"
	"nybot/internal/gateway"
	"nybot/internal/session"
	"nybot/internal/storage"
)

func init() { gin.SetMode(gin.TestMode) }

const (
	testSecret   = "shared-secret"
	testLogin    = "admin"
	testPassword = "pa55"
)

type fakeReader struct {
	users    []storage.User
	stats    storage.Stats
	statsHit int
	lastPage storage.Page
	lastMsgF storage.MessageFilter
}

func (f *fakeReader) ListUsers(_ context.Context, p storage.Page) ([]storage.User, error) {
	f.lastPage = p
	return f.users, nil
}

func (f *fakeReader) GetUser(_ context.Context, id int64) (storage.User, error) {
	for _, u := range f.users {
		if u.TgUserID == id {
			return u, nil
		}
	}
	return storage.User{}, storage.ErrNotFound
}

func (f *fakeReader) ListGreetings(_ context.Context, p storage.Page, _ storage.GreetingFilter) ([]storage.Greeting, error) {
	f.lastPage = p
	return nil, nil
}

func (f *fakeReader) ListMessages(_ context.Context, p storage.Page, mf storage.MessageFilter) ([]storage.Message, error) {
	f.lastPage = p
	f.lastMsgF = mf
	return nil, nil
}

func (f *fakeReader) Stats(context.Context) (storage.Stats, error) {
	f.statsHit++
	return f.stats, nil
}

func (f *fakeReader) Ping(context.Context) error { return nil }

type env struct {
	srv    *httptest.Server
	broker *broker.Broker
	store  *fakeReader
	client *http.Client
	jar    *cookiejar.Jar
}

func newEnv(t *testing.T, mutate func(*Options)) *env {
	t.Helper()
	b := broker.New()
	store := &fakeReader{users: []storage.User{{ID: 1, TgUserID: 42, GreetingsCount: 2}}}
	opt := Options{
		Secret:          testSecret,
		AdminLogin:      testLogin,
		AdminPassword:   testPassword,
		LoginRatePerMin: 100,
		Broker:          b,
		Store:           store,
		Gateway:         gateway.Options{PingInterval: time.Second},
	}
	if mutate != nil {
		mutate(&opt)
	}
	s, err := New(opt)
	require.NoError(t, err)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		b.Close()
		srv.Close()
	})
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &env{srv: srv, broker: b, store: store, jar: jar, client: &http.Client{Jar: jar}}
}

func (e *env) do(t *testing.T, method, path string, body any, hdr map[string]string) (*http.Response, map[string]any) {
	t.Helper()
	var rd io.Reader
	switch v := body.(type) {
	case nil:
	case string:
		rd = strings.NewReader(v)
	default:
		b, err := json.Marshal(v)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rd)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	resp, err := e.client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out map[string]any
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp, out
}

func (e *env) login(t *testing.T) {
	t.Helper()
	resp, body := e.do(t, http.MethodPost, "/api/auth/login", map[string]string{"login": " admin ", "password": testPassword}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, true, body["ok"])
	require.Equal(t, testLogin, body["login"])
}

func (e *env) wsURL() string { return "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/ws" }

func TestLoginThenMe(t *testing.T) {
	e := newEnv(t, nil)
	resp, _ := e.do(t, http.MethodPost, "/api/auth/login", map[string]string{"login": "admin", "password": testPassword}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var cookie *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == session.CookieName {
			cookie = c
		}
	}
	require.NotNil(t, cookie)
	require.True(t, cookie.HttpOnly)
	require.Equal(t, http.SameSiteLaxMode, cookie.SameSite)
	require.Equal(t, 86400, cookie.MaxAge)
	require.False(t, cookie.Secure)

	resp, body := e.do(t, http.MethodGet, "/api/auth/me", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, map[string]any{"login": testLogin}, body)
}

func TestWrongPasswordSetsNoCookie(t *testing.T) {
	e := newEnv(t, nil)
	resp, body := e.do(t, http.MethodPost, "/api/auth/login", map[string]string{"login": "admin", "password": "nope"}, nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Equal(t, "invalid_credentials", body["detail"])
	require.Empty(t, resp.Cookies())
}

func TestMeWithoutCookie(t *testing.T) {
	e := newEnv(t, nil)
	resp, body := e.do(t, http.MethodGet, "/api/auth/me", nil, nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Equal(t, map[string]any{"detail": "unauthorized"}, body)
}

func TestTamperedCookieRejected(t *testing.T) {
	e := newEnv(t, nil)
	e.login(t)
	u, _ := url.Parse(e.srv.URL)
	c := e.jar.Cookies(u)[0]
	flip := "0"
	if strings.HasSuffix(c.Value, "0") {
		flip = "1"
	}
	c.Value = c.Value[:len(c.Value)-1] + flip
	e.jar.SetCookies(u, []*http.Cookie{c})

	resp, _ := e.do(t, http.MethodGet, "/api/auth/me", nil, nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestLogoutClearsCookie(t *testing.T) {
	e := newEnv(t, nil)
	e.login(t)
	resp, body := e.do(t, http.MethodPost, "/api/auth/logout", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, true, body["ok"])

	resp, _ = e.do(t, http.MethodGet, "/api/auth/me", nil, nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestLoginRateLimited(t *testing.T) {
	e := newEnv(t, func(o *Options) { o.LoginRatePerMin = 2 })
	creds := map[string]string{"login": "admin", "password": "bad"}
	for i := 0; i < 2; i++ {
		resp, _ := e.do(t, http.MethodPost, "/api/auth/login", creds, nil)
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	}
	resp, body := e.do(t, http.MethodPost, "/api/auth/login", creds, nil)
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	require.Equal(t, "too_many_requests", body["detail"])
}

func TestLoginRateLimitIgnoresForwardedFor(t *testing.T) {
	e := newEnv(t, func(o *Options) { o.LoginRatePerMin = 2 })
	creds := map[string]string{"login": "admin", "password": "bad"}
	codes := map[int]int{}
	for i := 0; i < 20; i++ {
		resp, _ := e.do(t, http.MethodPost, "/api/auth/login", creds, map[string]string{"X-Forwarded-For": fmt.Sprintf("10.0.0.%d", i)})
		codes[resp.StatusCode]++
	}
	require.Equal(t, map[int]int{http.StatusUnauthorized: 2, http.StatusTooManyRequests: 18}, codes)
}

func TestNewRejectsBadTrustedProxy(t *testing.T) {
	_, err := New(Options{Secret: testSecret, Broker: broker.New(), TrustedProxies: []string{"not-an-ip"}})
	require.Error(t, err)
}

func TestIngestRequiresSecret(t *testing.T) {
	e := newEnv(t, nil)
	sub := e.broker.Subscribe()
	defer e.broker.Unsubscribe(sub)

	ev := map[string]any{"type": "greeting_sent", "user_id": 42, "text": "Hi"}
	resp, body := e.do(t, http.MethodPost, events.IngestPath, ev, map[string]string{events.SecretHeader: "wrong"})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Equal(t, map[string]any{"detail": "unauthorized"}, body)

	resp, _ = e.do(t, http.MethodPost, events.IngestPath, ev, nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Len(t, sub.C(), 0)
}

func TestIngestRejectsNonObject(t *testing.T) {
	e := newEnv(t, nil)
	hdr := map[string]string{events.SecretHeader: testSecret}
	for _, body := range []string{`[1,2]`, `{"user_id":1}`, `not json`} {
		resp, out := e.do(t, http.MethodPost, events.IngestPath, body, hdr)
		require.Equal(t, http.StatusBadRequest, resp.StatusCode, body)
		require.Equal(t, "invalid_event", out["detail"])
	}
}

func TestIngestReachesWebsocketExactlyOnce(t *testing.T) {
	e := newEnv(t, nil)
	e.login(t)

	dialer := websocket.Dialer{Jar: e.jar, HandshakeTimeout: 2 * time.Second}
	conn, _, err := dialer.Dial(e.wsURL(), nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return e.broker.Len() == 1 }, 2*time.Second, 5*time.Millisecond)

	payload := `{"type":"greeting_sent","user_id":42,"text":"Hi"}`
	resp, body := e.do(t, http.MethodPost, events.IngestPath, payload, map[string]string{events.SecretHeader: testSecret})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, map[string]any{"ok": true}, body)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.JSONEq(t, payload, string(data))

	_ = conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	_, _, err = conn.ReadMessage()
	require.Error(t, err, "only one message expected")
}

func TestIngestForwardsMismatchedFieldsUnchanged(t *testing.T) {
	e := newEnv(t, nil)
	sub := e.broker.Subscribe()
	defer e.broker.Unsubscribe(sub)

	hdr := map[string]string{events.SecretHeader: testSecret}
	for _, payload := range []string{
		`{"type":"greeting_sent","user_id":42.0,"text":"Hi"}`,
		`{"type":"greeting_sent","user_id":"42","text":"Hi"}`,
	} {
		resp, body := e.do(t, http.MethodPost, events.IngestPath, payload, hdr)
		require.Equal(t, http.StatusOK, resp.StatusCode, payload)
		require.Equal(t, map[string]any{"ok": true}, body)

		select {
		case ev := <-sub.C():
			require.Equal(t, events.KindGreetingSent, ev.Kind())
			b, err := json.Marshal(ev)
			require.NoError(t, err)
			require.Equal(t, payload, string(b))
		case <-time.After(time.Second):
			t.Fatalf("event not published: %s", payload)
		}
	}
}

func TestWebsocketWithoutCookieGets4401(t *testing.T) {
	e := newEnv(t, nil)
	conn, _, err := websocket.DefaultDialer.Dial(e.wsURL(), nil)
	require.NoError(t, err)
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	var ce *websocket.CloseError
	require.ErrorAs(t, err, &ce)
	require.Equal(t, gateway.CloseUnauthorized, ce.Code)
}

func TestReadsRequireSession(t *testing.T) {
	e := newEnv(t, nil)
	for _, p := range []string{"/api/users", "/api/users/42", "/api/greetings", "/api/messages", "/api/stats"} {
		resp, body := e.do(t, http.MethodGet, p, nil, nil)
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode, p)
		require.Equal(t, "unauthorized", body["detail"], p)
	}
}

func TestListUsersPaging(t *testing.T) {
	e := newEnv(t, nil)
	e.login(t)

	resp, body := e.do(t, http.MethodGet, "/api/users", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, float64(50), body["limit"])
	require.Equal(t, float64(0), body["offset"])
	require.Len(t, body["items"], 1)

	resp, _ = e.do(t, http.MethodGet, "/api/users?limit=200&offset=10", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, storage.Page{Limit: 200, Offset: 10}, e.store.lastPage)

	for _, q := range []string{"limit=0", "limit=201", "offset=-1", "limit=abc"} {
		resp, body = e.do(t, http.MethodGet, "/api/users?"+q, nil, nil)
		require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode, q)
		require.Equal(t, "invalid_query", body["detail"])
	}
}

func TestUserDetails(t *testing.T) {
	e := newEnv(t, nil)
	e.login(t)

	resp, body := e.do(t, http.MethodGet, "/api/users/42", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotNil(t, body["user"])
	require.Equal(t, []any{}, body["greetings"])
	require.Equal(t, []any{}, body["messages"])

	resp, body = e.do(t, http.MethodGet, "/api/users/7", nil, nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Equal(t, "not_found", body["detail"])
}

func TestListMessagesFilters(t *testing.T) {
	e := newEnv(t, nil)
	e.login(t)

	resp, _ := e.do(t, http.MethodGet, "/api/messages?tg_user_id=42&message_type=photo", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotNil(t, e.store.lastMsgF.TgUserID)
	require.Equal(t, int64(42), *e.store.lastMsgF.TgUserID)
	require.Equal(t, "photo", *e.store.lastMsgF.MessageType)
}

func TestStatsEndpoint(t *testing.T) {
	e := newEnv(t, nil)
	e.store.stats = storage.Stats{TotalUsers: 3, TotalGreetings: 5, TotalMessages: 9}
	e.login(t)

	resp, body := e.do(t, http.MethodGet, "/api/stats", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, float64(3), body["total_users"])
	require.Equal(t, []any{}, body["top_users"])
}

func TestHealth(t *testing.T) {
	e := newEnv(t, nil)
	resp, body := e.do(t, http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, map[string]any{"status": "ok", "db": "ok"}, body)

	e = newEnv(t, func(o *Options) { o.Store = nil })
	_, body = e.do(t, http.MethodGet, "/health", nil, nil)
	require.Equal(t, "not_ready", body["db"])

	e.login(t)
	resp, body = e.do(t, http.MethodGet, "/api/users", nil, nil)
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	require.Equal(t, "db_not_ready", body["detail"])
}

func TestCORSPreflight(t *testing.T) {
	e := newEnv(t, func(o *Options) { o.CORSOrigins = []string{"http://dash.local"} })
	resp, _ := e.do(t, http.MethodOptions, "/api/auth/me", nil, map[string]string{"Origin": "http://dash.local"})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	require.Equal(t, "http://dash.local", resp.Header.Get("Access-Control-Allow-Origin"))
	require.Equal(t, "true", resp.Header.Get("Access-Control-Allow-Credentials"))

	resp, _ = e.do(t, http.MethodOptions, "/api/auth/me", nil, map[string]string{"Origin": "http://evil.local"})
	require.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestWildcardOriginGrantsNothing(t *testing.T) {
	e := newEnv(t, func(o *Options) { o.CORSOrigins = []string{"*"} })
	resp, _ := e.do(t, http.MethodOptions, "/api/auth/me", nil, map[string]string{"Origin": "http://evil.local"})
	require.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
	require.Empty(t, resp.Header.Get("Access-Control-Allow-Credentials"))

	check := originChecker([]string{"*"})
	r := httptest.NewRequest(http.MethodGet, "http://api.local/ws", nil)
	r.Header.Set("Origin", "http://evil.local")
	require.False(t, check(r))
	r.Header.Set("Origin", "http://api.local")
	require.True(t, check(r))
}

func TestNewRequiresSecret(t *testing.T) {
	_, err := New(Options{Broker: broker.New()})
	require.ErrorIs(t, err, session.ErrEmptySecret)
}
