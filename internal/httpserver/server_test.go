package httpserver

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"

	"github.com/signalhop/signalhop/internal/broker"
	"github.com/signalhop/signalhop/internal/config"
	"github.com/signalhop/signalhop/internal/metrics"
	"github.com/signalhop/signalhop/internal/signal"
	"github.com/signalhop/signalhop/internal/signaling"
	"github.com/signalhop/signalhop/internal/store"
)

func startTestServer(t *testing.T, cfg config.Config, m *metrics.Metrics) (baseURL string) {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	build := BuildInfo{Commit: "abc", BuildTime: "time"}
	srv, err := New(cfg, log, build, m)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return serveTest(t, srv)
}

func serveTest(t *testing.T, srv *Server) (baseURL string) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
		<-errCh
	})

	return "http://" + ln.Addr().String()
}

func testConfig() config.Config {
	return config.Config{
		ListenAddr:      "127.0.0.1:0",
		Mode:            config.ModeDev,
		LogFormat:       config.LogFormatText,
		LogLevel:        slog.LevelInfo,
		ShutdownTimeout: 2 * time.Second,
	}
}

func TestHealthzReadyzVersion(t *testing.T) {
	baseURL := startTestServer(t, testConfig(), metrics.New())

	t.Run("healthz", func(t *testing.T) {
		resp, err := http.Get(baseURL + "/healthz")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status=%d, want %d", resp.StatusCode, http.StatusOK)
		}
		var body map[string]any
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if body["ok"] != true {
			t.Fatalf("body=%v, want ok=true", body)
		}
	})

	t.Run("readyz", func(t *testing.T) {
		resp, err := http.Get(baseURL + "/readyz")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status=%d, want %d", resp.StatusCode, http.StatusOK)
		}
	})

	t.Run("version", func(t *testing.T) {
		resp, err := http.Get(baseURL + "/version")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status=%d, want %d", resp.StatusCode, http.StatusOK)
		}
		var got BuildInfo
		if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		want := BuildInfo{Commit: "abc", BuildTime: "time"}
		if got != want {
			t.Fatalf("got=%+v, want=%+v", got, want)
		}
	})
}

func TestICEEndpoint_Schema(t *testing.T) {
	cfg := testConfig()
	cfg.ICEServers = []webrtc.ICEServer{
		{URLs: []string{"stun:stun.example.com:3478"}},
		{URLs: []string{"turn:turn.example.com:3478?transport=udp"}},
	}

	baseURL := startTestServer(t, cfg, metrics.New())

	resp, err := http.Get(baseURL + "/ice")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var payload struct {
		ICEServers []map[string]any `json:"iceServers"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(payload.ICEServers) != 2 {
		t.Fatalf("expected 2 iceServers, got %d", len(payload.ICEServers))
	}
	if _, ok := payload.ICEServers[0]["urls"]; !ok {
		t.Fatalf("expected urls field on first server: %#v", payload.ICEServers[0])
	}
}

func TestICEEndpoint_EmptyListIsValid(t *testing.T) {
	baseURL := startTestServer(t, testConfig(), metrics.New())

	resp, err := http.Get(baseURL + "/ice")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var payload struct {
		ICEServers []map[string]any `json:"iceServers"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if payload.ICEServers == nil || len(payload.ICEServers) != 0 {
		t.Fatalf("expected empty iceServers list, got %#v", payload.ICEServers)
	}
}

func TestICEEndpoint_MintsTURNCredentials(t *testing.T) {
	cfg := testConfig()
	cfg.ICEServers = []webrtc.ICEServer{
		{URLs: []string{"stun:stun.example.com:3478"}},
		{URLs: []string{"turn:turn.example.com:3478?transport=udp"}},
	}
	cfg.TURNREST = config.TurnRESTConfig{
		SharedSecret:   "shared-secret",
		TTLSeconds:     600,
		UsernamePrefix: "hop",
	}

	baseURL := startTestServer(t, cfg, metrics.New())

	resp, err := http.Get(baseURL + "/ice")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	var payload struct {
		ICEServers []struct {
			URLs       []string `json:"urls"`
			Username   string   `json:"username"`
			Credential any      `json:"credential"`
		} `json:"iceServers"`
		TTLSeconds int64 `json:"ttlSeconds"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if payload.TTLSeconds != 600 {
		t.Fatalf("ttlSeconds: got %d, want 600", payload.TTLSeconds)
	}
	if len(payload.ICEServers) != 2 {
		t.Fatalf("expected 2 iceServers, got %d", len(payload.ICEServers))
	}
	if payload.ICEServers[0].Username != "" {
		t.Fatalf("stun server has credentials: %+v", payload.ICEServers[0])
	}
	turn := payload.ICEServers[1]
	if turn.Username == "" || turn.Credential == nil {
		t.Fatalf("turn server missing minted credentials: %+v", turn)
	}
	if !strings.Contains(turn.Username, ":hop:") {
		t.Fatalf("turn username missing prefix: %q", turn.Username)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	m := metrics.New()
	m.Inc(metrics.SignalStored)

	baseURL := startTestServer(t, testConfig(), m)

	resp, err := http.Get(baseURL + "/metrics")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if !strings.Contains(string(body), `signalhop_events_total{event="signal_stored"} 1`) {
		t.Fatalf("metrics body missing counter:\n%s", body)
	}
}

func TestRequestIDPropagation(t *testing.T) {
	baseURL := startTestServer(t, testConfig(), metrics.New())

	req, err := http.NewRequest(http.MethodGet, baseURL+"/healthz", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("X-Request-ID", "req-42")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if got := resp.Header.Get("X-Request-ID"); got != "req-42" {
		t.Fatalf("X-Request-ID: got %q, want req-42", got)
	}
}

// The signaling routes run behind the full middleware chain in the daemon,
// not on a bare mux; in particular the watch upgrade must survive the
// request logger's response wrapper, which has to pass hijacking through.
func TestSignalingRoutesBehindMiddleware(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := metrics.New()
	srv, err := New(testConfig(), log, BuildInfo{}, m)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	svc := broker.NewService(store.NewMemory(), m)
	signaling.NewServer(signaling.Config{
		Broker:            svc,
		Metrics:           m,
		Logger:            log,
		WatchPollInterval: 10 * time.Millisecond,
	}).RegisterRoutes(srv.Mux())

	baseURL := serveTest(t, srv)

	resp, err := http.Post(baseURL+"/rooms/r1/signals", "application/json",
		strings.NewReader(`{"kind":"offer","payload":{"type":"offer","sdp":"v=0"}}`))
	if err != nil {
		t.Fatalf("post signal: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("post signal status: got %d, want %d", resp.StatusCode, http.StatusCreated)
	}

	wsURL := "ws" + strings.TrimPrefix(baseURL, "http") + "/rooms/r1/watch?kind=answer"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("watch dial through middleware: %v", err)
	}
	defer conn.Close()

	if _, err := svc.StoreSignal(context.Background(), "r1", signal.KindAnswer, []byte(`{"type":"answer","sdp":"v=0"}`)); err != nil {
		t.Fatalf("StoreSignal: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read watch event: %v", err)
	}
	var ev signaling.WatchEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if ev.Kind != "answer" {
		t.Fatalf("event kind: got %q, want answer", ev.Kind)
	}
}
