package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/sipeed/clawfeed/pkg/bus"
	"github.com/sipeed/clawfeed/pkg/channels"
	"github.com/sipeed/clawfeed/pkg/config"
	"github.com/sipeed/clawfeed/pkg/events"
)

type stubChannel struct {
	name    string
	sendErr error
	sent    []string
}

func (c *stubChannel) Name() string                { return c.name }
func (c *stubChannel) Start(context.Context) error { return nil }
func (c *stubChannel) Stop(context.Context) error  { return nil }
func (c *stubChannel) IsRunning() bool             { return true }

func (c *stubChannel) Send(_ context.Context, id, text string) error {
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, id+":"+text)
	return nil
}

func do(t *testing.T, h http.Handler, method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestStaticDashboard(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Dashboard.AssetPath = filepath.Join(t.TempDir(), "dashboard.html")
	s := NewServer(cfg, bus.New(3), nil)
	h := s.Handler()

	t.Run("missing asset", func(t *testing.T) {
		rec := do(t, h, http.MethodGet, "/", "", nil)
		if rec.Code != http.StatusNotFound {
			t.Fatalf("expected 404, got %d", rec.Code)
		}
		if !strings.HasPrefix(rec.Header().Get("Content-Type"), "text/plain") {
			t.Errorf("expected plain text diagnostic, got %s", rec.Header().Get("Content-Type"))
		}
		if !strings.Contains(rec.Body.String(), "Dashboard not found") {
			t.Errorf("unexpected body %q", rec.Body.String())
		}
	})

	if err := os.WriteFile(cfg.Dashboard.AssetPath, []byte("<html>feed</html>"), 0o644); err != nil {
		t.Fatalf("write asset: %v", err)
	}

	for _, path := range []string{"/", "/dashboard"} {
		t.Run("serves "+path, func(t *testing.T) {
			rec := do(t, h, http.MethodGet, path, "", nil)
			if rec.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d", rec.Code)
			}
			if !strings.HasPrefix(rec.Header().Get("Content-Type"), "text/html") {
				t.Errorf("expected text/html, got %s", rec.Header().Get("Content-Type"))
			}
			if rec.Body.String() != "<html>feed</html>" {
				t.Errorf("unexpected body %q", rec.Body.String())
			}
		})
	}

	t.Run("unknown path", func(t *testing.T) {
		rec := do(t, h, http.MethodGet, "/favicon.ico", "", nil)
		if rec.Code != http.StatusNotFound {
			t.Fatalf("expected 404, got %d", rec.Code)
		}
		if strings.TrimSpace(rec.Body.String()) != "Not found" {
			t.Errorf("unexpected body %q", rec.Body.String())
		}
	})
}

func TestStaticDashboardWithAPIKey(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Gateway.APIKey = "secret"
	cfg.Dashboard.AssetPath = filepath.Join(t.TempDir(), "dashboard.html")
	h := NewServer(cfg, bus.New(3), nil).Handler()

	for _, path := range []string{"/nope", "/favicon.ico", "/api/unknown"} {
		t.Run("unknown "+path, func(t *testing.T) {
			rec := do(t, h, http.MethodGet, path, "", nil)
			if rec.Code != http.StatusNotFound {
				t.Fatalf("expected 404, got %d (%s)", rec.Code, rec.Body.String())
			}
			if strings.TrimSpace(rec.Body.String()) != "Not found" {
				t.Errorf("unexpected body %q", rec.Body.String())
			}
		})
	}

	t.Run("missing asset", func(t *testing.T) {
		rec := do(t, h, http.MethodGet, "/dashboard", "", nil)
		if rec.Code != http.StatusNotFound || !strings.Contains(rec.Body.String(), "Dashboard not found") {
			t.Errorf("expected dashboard diagnostic, got %d %q", rec.Code, rec.Body.String())
		}
	})

	if err := os.WriteFile(cfg.Dashboard.AssetPath, []byte("<html></html>"), 0o644); err != nil {
		t.Fatalf("write asset: %v", err)
	}
	if rec := do(t, h, http.MethodGet, "/", "", nil); rec.Code != http.StatusOK {
		t.Errorf("dashboard should be public, got %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/api/events", "", nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for snapshot without key, got %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/api/events?token=secret", "", nil); rec.Code != http.StatusOK {
		t.Errorf("expected 200 with token query, got %d", rec.Code)
	}
}

func TestIngestEvent(t *testing.T) {
	b := bus.New(3)
	s := NewServer(config.DefaultConfig(), b, nil)
	h := s.Handler()

	tests := []struct {
		name     string
		body     string
		wantCode int
	}{
		{
			name:     "valid with opaque data",
			body:     `{"type":"container-spawned","timestamp":"2026-03-01T12:00:00Z","groupFolder":"main","data":{"anything":[1,"two"]}}`,
			wantCode: http.StatusAccepted,
		},
		{name: "invalid json", body: `{"type":`, wantCode: http.StatusBadRequest},
		{name: "missing type", body: `{"timestamp":"2026-03-01T12:00:00Z"}`, wantCode: http.StatusBadRequest},
		{name: "unknown type", body: `{"type":"bot.started","timestamp":"2026-03-01T12:00:00Z"}`, wantCode: http.StatusBadRequest},
		{name: "missing timestamp", body: `{"type":"agent-activity"}`, wantCode: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/api/events", tt.body, nil)
			if rec.Code != tt.wantCode {
				t.Errorf("expected %d, got %d (%s)", tt.wantCode, rec.Code, rec.Body.String())
			}
		})
	}

	recent := b.RecentEvents()
	if len(recent) != 1 {
		t.Fatalf("expected exactly the valid event retained, got %d", len(recent))
	}
	if recent[0].Type != events.ContainerSpawnedKind || recent[0].GroupFolder != "main" {
		t.Errorf("unexpected retained event %+v", recent[0])
	}
	raw, ok := recent[0].Data.(json.RawMessage)
	if !ok {
		t.Fatalf("expected raw JSON payload, got %T", recent[0].Data)
	}
	if string(raw) != `{"anything":[1,"two"]}` {
		t.Errorf("payload altered: %s", raw)
	}

	rec := do(t, h, http.MethodGet, "/api/events", "", nil)
	var snap struct {
		Events   []events.Event `json:"events"`
		Capacity int            `json:"capacity"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if len(snap.Events) != 1 || snap.Capacity != 3 {
		t.Errorf("unexpected snapshot %+v", snap)
	}

	if rec := do(t, h, http.MethodDelete, "/api/events", "", nil); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", rec.Code)
	}
}

func TestAuthMiddleware(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Gateway.APIKey = "k3y"
	s := NewServer(cfg, bus.New(3), nil)
	h := s.Handler()
	body := `{"type":"agent-activity","timestamp":"t","data":null}`

	if rec := do(t, h, http.MethodGet, "/api/health", "", nil); rec.Code != http.StatusOK {
		t.Errorf("health should be public, got %d", rec.Code)
	}
	if rec := do(t, h, http.MethodPost, "/api/events", body, nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without token, got %d", rec.Code)
	}
	if rec := do(t, h, http.MethodPost, "/api/events", body, map[string]string{"Authorization": "Bearer wrong"}); rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 with wrong token, got %d", rec.Code)
	}
	if rec := do(t, h, http.MethodPost, "/api/events", body, map[string]string{"Authorization": "Bearer k3y"}); rec.Code != http.StatusAccepted {
		t.Errorf("expected 202 with bearer token, got %d", rec.Code)
	}
	if rec := do(t, h, http.MethodPost, "/api/events", body, map[string]string{"X-API-Key": "k3y"}); rec.Code != http.StatusAccepted {
		t.Errorf("expected 202 with X-API-Key, got %d", rec.Code)
	}

	ts := httptest.NewServer(h)
	t.Cleanup(func() {
		s.Hub().CloseAll()
		ts.Close()
	})
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	if _, resp, err := websocket.DefaultDialer.Dial(wsURL, nil); err == nil {
		t.Error("expected websocket without token to be rejected")
	} else if resp != nil && resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", resp.StatusCode)
	}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"?token=k3y", nil)
	if err != nil {
		t.Fatalf("dial with token: %v", err)
	}
	conn.Close()
}

func TestSendMessage(t *testing.T) {
	b := bus.New(10)
	mgr := channels.NewManager(b)
	tg := &stubChannel{name: channels.NetworkTelegram}
	mgr.Register(tg)
	mgr.Register(&stubChannel{name: channels.NetworkDiscord, sendErr: errors.New("gateway down")})
	h := NewServer(config.DefaultConfig(), b, mgr).Handler()

	tests := []struct {
		name     string
		body     string
		wantCode int
	}{
		{name: "ok", body: `{"chatJid":"12345@telegram","text":"done"}`, wantCode: http.StatusOK},
		{name: "bad jid", body: `{"chatJid":"12345","text":"x"}`, wantCode: http.StatusBadRequest},
		{name: "unknown network", body: `{"chatJid":"1@slack","text":"x"}`, wantCode: http.StatusNotFound},
		{name: "adapter failure", body: `{"chatJid":"1@discord","text":"x"}`, wantCode: http.StatusBadGateway},
		{name: "missing text", body: `{"chatJid":"1@telegram"}`, wantCode: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/api/messages", tt.body, nil)
			if rec.Code != tt.wantCode {
				t.Errorf("expected %d, got %d (%s)", tt.wantCode, rec.Code, rec.Body.String())
			}
		})
	}

	if len(tg.sent) != 1 || tg.sent[0] != "12345:done" {
		t.Errorf("unexpected sends %v", tg.sent)
	}
	recent := b.RecentEvents()
	if len(recent) != 1 || recent[0].Type != events.MessageSentKind || recent[0].ChatJID != "12345@telegram" {
		t.Errorf("expected one message-sent event, got %+v", recent)
	}
}

func TestSendMessageWithoutChannels(t *testing.T) {
	h := NewServer(config.DefaultConfig(), bus.New(3), nil).Handler()
	rec := do(t, h, http.MethodPost, "/api/messages", `{"chatJid":"1@telegram","text":"x"}`, nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	b := bus.New(5)
	b.Publish(events.New(events.AgentActivityKind, nil))
	h := NewServer(config.DefaultConfig(), b, nil).Handler()

	rec := do(t, h, http.MethodGet, "/api/health", "", nil)
	var got map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["status"] != "ok" || got["retained"].(float64) != 1 || got["capacity"].(float64) != 5 {
		t.Errorf("unexpected health %v", got)
	}
}

func TestCheckOrigin(t *testing.T) {
	tests := []struct {
		origin string
		host   string
		want   bool
	}{
		{origin: "", host: "feed.local:8787", want: true},
		{origin: "http://feed.local:8787", host: "feed.local:8787", want: true},
		{origin: "http://localhost:5173", host: "feed.local:8787", want: true},
		{origin: "https://evil.example", host: "feed.local:8787", want: false},
		{origin: "http://localhost.evil.com", host: "feed.local:8787", want: false},
		{origin: "http://127.0.0.1.nip.io", host: "feed.local:8787", want: false},
		{origin: "http://[::1]:3000", host: "feed.local:8787", want: true},
	}
	for _, tt := range tests {
		t.Run(tt.origin, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/ws", nil)
			r.Host = tt.host
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			if got := checkOrigin(r); got != tt.want {
				t.Errorf("checkOrigin(%q) = %v, want %v", tt.origin, got, tt.want)
			}
		})
	}
}

func TestCORSOrigin(t *testing.T) {
	h := NewServer(config.DefaultConfig(), bus.New(3), nil).Handler()

	tests := []struct {
		origin string
		want   string
	}{
		{origin: "http://localhost:5173", want: "http://localhost:5173"},
		{origin: "https://127.0.0.1", want: "https://127.0.0.1"},
		{origin: "http://localhost.evil.com", want: "http://localhost"},
		{origin: "https://evil.example", want: "http://localhost"},
	}
	for _, tt := range tests {
		t.Run(tt.origin, func(t *testing.T) {
			rec := do(t, h, http.MethodOptions, "/api/events", "", map[string]string{"Origin": tt.origin})
			if got := rec.Header().Get("Access-Control-Allow-Origin"); got != tt.want {
				t.Errorf("Access-Control-Allow-Origin = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestServerStartStop(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Gateway.Host = "127.0.0.1"
	cfg.Gateway.Port = 0
	s := NewServer(cfg, bus.New(3), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	resp, err := http.Get("http://" + s.Addr() + "/api/health")
	if err != nil {
		t.Fatalf("GET health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}

	if err := s.Stop(); err != nil {
		t.Errorf("Stop: %v", err)
	}
}
