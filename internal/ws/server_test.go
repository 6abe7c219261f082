package ws

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/printdeck/server/internal/bus"
	"github.com/printdeck/server/internal/config"
	"github.com/printdeck/server/internal/logtail"
	"github.com/printdeck/server/internal/machine"
	"github.com/printdeck/server/internal/push"
	"github.com/printdeck/server/internal/relay"
	"github.com/printdeck/server/internal/telemetry"
	"github.com/printdeck/server/internal/timelapse"
)

func newTestServer(cfg *config.Config) *Server {
	if cfg == nil {
		cfg = &config.Config{}
	}
	b := bus.New()
	status := machine.NewStatusTracker()
	recorder := timelapse.NewRecorder(cfg.Timelapse, b)
	sampler := telemetry.NewSampler(telemetry.NewSimulatedSource(), time.Second, 10, status.Snapshot)
	tailer := logtail.NewTailer("", time.Second)
	rel := relay.New("", "printdeck/messages", "")

	producers := push.Producers{
		Telemetry: sampler,
		Log:       tailer,
		Messages:  rel,
		Recorder:  recorder,
	}
	return NewServer(cfg, b, push.NewRegistry(), producers, recorder, status)
}

func TestAuthorize(t *testing.T) {
	tests := []struct {
		name      string
		authToken string
		setup     func(r *http.Request)
		want      bool
	}{
		{"no token configured", "", func(*http.Request) {}, true},
		{"query token", "hunter2", func(r *http.Request) {
			q := r.URL.Query()
			q.Set("token", "hunter2")
			r.URL.RawQuery = q.Encode()
		}, true},
		{"header token", "hunter2", func(r *http.Request) {
			r.Header.Set("X-Printdeck-Token", "hunter2")
		}, true},
		{"bearer token", "hunter2", func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer hunter2")
		}, true},
		{"wrong token", "hunter2", func(r *http.Request) {
			r.Header.Set("X-Printdeck-Token", "wrong")
		}, false},
		{"no credentials", "hunter2", func(*http.Request) {}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(&config.Config{
				Server: config.ServerConfig{AuthToken: tt.authToken},
			})
			req := httptest.NewRequest(http.MethodGet, "/api/state", nil)
			tt.setup(req)
			if got := srv.authorize(req); got != tt.want {
				t.Errorf("authorize() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCheckOrigin(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		host    string
		want    bool
	}{
		{"no origin header", nil, "", "example.com", true},
		{"same host", nil, "http://example.com", "example.com", true},
		{"localhost", nil, "http://localhost:5000", "example.com", true},
		{"loopback", nil, "http://127.0.0.1:5000", "example.com", true},
		{"foreign host rejected", nil, "http://evil.example", "example.com", false},
		{"allowlist exact match", []string{"http://deck.local"}, "http://deck.local", "example.com", true},
		{"allowlist host match", []string{"http://deck.local"}, "https://deck.local", "example.com", true},
		{"allowlist rejects others", []string{"http://deck.local"}, "http://localhost:5000", "example.com", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(&config.Config{
				Server: config.ServerConfig{AllowedOrigins: tt.allowed},
			})
			req := httptest.NewRequest(http.MethodGet, "/sock", nil)
			req.Host = tt.host
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			if got := srv.checkOrigin(req); got != tt.want {
				t.Errorf("checkOrigin(%q) = %v, want %v", tt.origin, got, tt.want)
			}
		})
	}
}

func TestStateEndpoint(t *testing.T) {
	srv := newTestServer(nil)
	srv.status.SetState("operational")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/state", nil)
	srv.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var state map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &state); err != nil {
		t.Fatal(err)
	}
	if state["state"] != "operational" {
		t.Errorf("state = %v, want operational", state["state"])
	}
}

func TestTimelapseRoundTrip(t *testing.T) {
	srv := newTestServer(nil)
	router := srv.Routes()

	body := bytes.NewBufferString(`{"type":"timed","interval":10,"fps":30}`)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPut, "/api/timelapse", body)
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("PUT status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/api/timelapse", nil)
	router.ServeHTTP(rec, req)

	var cfg timelapse.Config
	if err := json.Unmarshal(rec.Body.Bytes(), &cfg); err != nil {
		t.Fatal(err)
	}
	if cfg.Type != "timed" || cfg.Interval != 10 || cfg.FPS != 30 {
		t.Errorf("GET returned %+v", cfg)
	}
}

func TestTimelapseRejectsUnknownType(t *testing.T) {
	srv := newTestServer(nil)

	body := bytes.NewBufferString(`{"type":"continuous"}`)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPut, "/api/timelapse", body)
	srv.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if srv.recorder.Current().Type == "continuous" {
		t.Error("invalid config was stored")
	}
}

func TestUnknownCommand(t *testing.T) {
	srv := newTestServer(nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/commands/nope", nil)
	srv.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestUnauthorizedRequestsRejected(t *testing.T) {
	srv := newTestServer(&config.Config{
		Server: config.ServerConfig{AuthToken: "hunter2"},
	})
	router := srv.Routes()

	for _, path := range []string{"/api/state", "/api/timelapse", "/sock"} {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, path, nil)
		router.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("GET %s without token = %d, want 401", path, rec.Code)
		}
	}
}

// dialSock connects a real websocket client to the test server.
func dialSock(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/sock"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", wsURL, err)
	}
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]json.RawMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	var frame map[string]json.RawMessage
	if err := json.Unmarshal(data, &frame); err != nil {
		t.Fatalf("bad frame %q: %v", data, err)
	}
	return frame
}

func TestSockSendsTimelapseConfigOnConnect(t *testing.T) {
	srv := newTestServer(&config.Config{
		Timelapse: timelapse.Config{Type: "timed", Interval: 5},
	})
	ts := httptest.NewServer(srv.Routes())
	defer ts.Close()

	conn := dialSock(t, ts)
	defer conn.Close()

	frame := readFrame(t, conn)
	payload, ok := frame["timelapse"]
	if !ok {
		t.Fatalf("first frame = %v, want timelapse", frame)
	}
	var cfg timelapse.Config
	if err := json.Unmarshal(payload, &cfg); err != nil {
		t.Fatal(err)
	}
	if cfg.Type != "timed" || cfg.Interval != 5 {
		t.Errorf("timelapse frame = %+v", cfg)
	}

	if srv.registry.Len() != 1 {
		t.Errorf("registry has %d sessions, want 1", srv.registry.Len())
	}
}

func TestCommandOutputReachesConnectedClients(t *testing.T) {
	srv := newTestServer(&config.Config{
		Commands: map[string]string{"greet": "echo hello deck"},
	})
	ts := httptest.NewServer(srv.Routes())
	defer ts.Close()

	conn := dialSock(t, ts)
	defer conn.Close()
	readFrame(t, conn) // timelapse config

	resp, err := http.Post(ts.URL+"/api/commands/greet", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("POST status = %d, want 204", resp.StatusCode)
	}

	frame := readFrame(t, conn)
	payload, ok := frame["feedbackCommandOutput"]
	if !ok {
		t.Fatalf("frame = %v, want feedbackCommandOutput", frame)
	}
	var fb struct {
		Name   string `json:"name"`
		Output string `json:"output"`
	}
	if err := json.Unmarshal(payload, &fb); err != nil {
		t.Fatal(err)
	}
	if fb.Name != "greet" {
		t.Errorf("feedback name = %q, want greet", fb.Name)
	}
	if !strings.Contains(fb.Output, "hello deck") {
		t.Errorf("feedback output = %q, want it to contain hello deck", fb.Output)
	}
}

func TestSockDisconnectClosesSession(t *testing.T) {
	srv := newTestServer(nil)
	ts := httptest.NewServer(srv.Routes())
	defer ts.Close()

	conn := dialSock(t, ts)
	readFrame(t, conn)
	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for srv.registry.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("registry still has %d sessions after disconnect", srv.registry.Len())
		}
		time.Sleep(5 * time.Millisecond)
	}
}
