package signaling

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/signalhop/signalhop/internal/broker"
	"github.com/signalhop/signalhop/internal/metrics"
	"github.com/signalhop/signalhop/internal/signal"
	"github.com/signalhop/signalhop/internal/store"
)

func newWatchFixture(t *testing.T) (*broker.Service, *httptest.Server) {
	t.Helper()
	svc := broker.NewService(store.NewMemory(), metrics.New())
	srv := NewServer(Config{
		Broker:            svc,
		WatchPollInterval: 10 * time.Millisecond,
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return svc, ts
}

func wsURL(ts *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + path
}

func TestWatch_PushesHandshakeWhenItAppears(t *testing.T) {
	svc, ts := newWatchFixture(t)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts, "/rooms/r1/watch?kind=answer"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Store the answer after the watcher is connected; the next server-side
	// poll must push it.
	if _, err := svc.StoreSignal(context.Background(), "r1", signal.KindAnswer, []byte(`{"type":"answer","sdp":"v=0"}`)); err != nil {
		t.Fatalf("StoreSignal: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	var ev WatchEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if ev.Kind != "answer" {
		t.Fatalf("kind: got %q, want answer", ev.Kind)
	}
	if string(ev.Payload) != `{"type":"answer","sdp":"v=0"}` {
		t.Fatalf("payload: got %s", ev.Payload)
	}
}

func TestWatch_PushesAgainOnOverwrite(t *testing.T) {
	svc, ts := newWatchFixture(t)
	ctx := context.Background()

	if _, err := svc.StoreSignal(ctx, "r1", signal.KindOffer, []byte(`{"sdp":"first"}`)); err != nil {
		t.Fatalf("StoreSignal: %v", err)
	}

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts, "/rooms/r1/watch?kind=offer"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("first read: %v", err)
	}
	var ev WatchEvent
	if err := json.Unmarshal(data, &ev); err != nil || string(ev.Payload) != `{"sdp":"first"}` {
		t.Fatalf("first event: got %s (err %v)", data, err)
	}

	if _, err := svc.StoreSignal(ctx, "r1", signal.KindOffer, []byte(`{"sdp":"second"}`)); err != nil {
		t.Fatalf("StoreSignal (overwrite): %v", err)
	}

	_, data, err = conn.ReadMessage()
	if err != nil {
		t.Fatalf("second read: %v", err)
	}
	if err := json.Unmarshal(data, &ev); err != nil || string(ev.Payload) != `{"sdp":"second"}` {
		t.Fatalf("second event: got %s (err %v)", data, err)
	}
}

func TestWatch_RejectsBadKind(t *testing.T) {
	_, ts := newWatchFixture(t)

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(ts, "/rooms/r1/watch?kind=candidate-from-initiator"), nil)
	if err == nil {
		t.Fatal("dial succeeded with a candidate kind")
	}
	if resp == nil || resp.StatusCode != 400 {
		t.Fatalf("response: got %+v, want status 400", resp)
	}
}

func TestWatchClient_AwaitReturnsFirstPayload(t *testing.T) {
	svc, ts := newWatchFixture(t)

	if _, err := svc.StoreSignal(context.Background(), "r1", signal.KindAnswer, []byte(`{"sdp":"a"}`)); err != nil {
		t.Fatalf("StoreSignal: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wc := &WatchClient{}
	payload, err := wc.Await(ctx, wsURL(ts, "/rooms/r1/watch?kind=answer"))
	if err != nil {
		t.Fatalf("Await: %v", err)
	}
	if string(payload) != `{"sdp":"a"}` {
		t.Fatalf("payload: got %s", payload)
	}
}

func TestWatchClient_AwaitHonorsContext(t *testing.T) {
	_, ts := newWatchFixture(t)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	wc := &WatchClient{}
	if _, err := wc.Await(ctx, wsURL(ts, "/rooms/r1/watch?kind=answer")); err == nil {
		t.Fatal("Await returned without an event before the deadline")
	}
}
