package socket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"erpchat/internal/protocol"
)

// testServer acks every frame carrying an id with the frame's own data and
// answers "shout" with a pushed "echo" event.
type testServer struct {
	*httptest.Server
	connections atomic.Int32
	onConn      func(n int32, conn *websocket.Conn) bool
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{}
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		n := ts.connections.Add(1)
		if ts.onConn != nil && !ts.onConn(n, conn) {
			return
		}
		for {
			_, frame, err := conn.ReadMessage()
			if err != nil {
				return
			}
			env, err := protocol.DecodeEnvelope(frame)
			if err != nil {
				continue
			}
			if env.ID != 0 {
				reply, _ := protocol.NewEnvelope(protocol.EventAck, env.ID, env.Data)
				_ = conn.WriteMessage(websocket.TextMessage, reply)
			}
			if env.Event == "shout" {
				push, _ := protocol.NewEnvelope("echo", 0, env.Data)
				_ = conn.WriteMessage(websocket.TextMessage, push)
			}
		}
	}))
	t.Cleanup(ts.Close)
	return ts
}

func (ts *testServer) wsURL() string {
	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

type recordingNotifier struct {
	mu        sync.Mutex
	successes []string
	errors    []string
}

func (n *recordingNotifier) Success(msg string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.successes = append(n.successes, msg)
}

func (n *recordingNotifier) Error(msg string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.errors = append(n.errors, msg)
}

func (n *recordingNotifier) counts() (int, int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.successes), len(n.errors)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}

func TestEmitWithAckRoundTrip(t *testing.T) {
	ts := newTestServer(t)
	client := New(ts.wsURL(), Options{})
	defer client.Close()

	if err := client.Dial(context.Background()); err != nil {
		t.Fatalf("Dial: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	raw, err := client.EmitWithAck(ctx, protocol.EventGetOnlineStatus, protocol.OnlineStatusQuery{UserID: "42"})
	if err != nil {
		t.Fatalf("EmitWithAck: %v", err)
	}
	var got protocol.OnlineStatusQuery
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	if got.UserID != "42" {
		t.Fatalf("unexpected ack payload %+v", got)
	}
}

func TestOnDispatchesPushedEvents(t *testing.T) {
	ts := newTestServer(t)
	client := New(ts.wsURL(), Options{})
	defer client.Close()

	received := make(chan string, 4)
	off := client.On("echo", func(data json.RawMessage) {
		var s string
		_ = json.Unmarshal(data, &s)
		received <- s
	})
	if err := client.Dial(context.Background()); err != nil {
		t.Fatalf("Dial: %v", err)
	}
	if err := client.Emit("shout", "hello"); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	select {
	case got := <-received:
		if got != "hello" {
			t.Fatalf("expected hello, got %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for pushed event")
	}

	off()
	if err := client.Emit("shout", "again"); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	// an acked emit after the shout proves the echo has already been read
	if _, err := client.EmitWithAck(context.Background(), "sync", nil); err != nil {
		t.Fatalf("EmitWithAck: %v", err)
	}
	select {
	case got := <-received:
		t.Fatalf("handler still registered, got %q", got)
	default:
	}
}

func TestEmitWithoutConnection(t *testing.T) {
	client := New("ws://127.0.0.1:1/socket", Options{})
	if err := client.Emit(protocol.EventTyping, protocol.Typing{Room: "private:1"}); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	if _, err := client.EmitWithAck(context.Background(), protocol.EventSendMessage, nil); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	_ = client.Close()
	if err := client.Emit(protocol.EventTyping, nil); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestReconnectRunsConnectHooks(t *testing.T) {
	ts := newTestServer(t)
	// drop the first connection straight away
	ts.onConn = func(n int32, conn *websocket.Conn) bool { return n > 1 }

	notifier := &recordingNotifier{}
	client := New(ts.wsURL(), Options{RetryDelay: 20 * time.Millisecond, Notifier: notifier})
	defer client.Close()

	var hooks atomic.Int32
	client.OnConnect(func() { hooks.Add(1) })
	if err := client.Dial(context.Background()); err != nil {
		t.Fatalf("Dial: %v", err)
	}
	waitFor(t, func() bool { return hooks.Load() >= 2 && client.Connected() })

	successes, failures := notifier.counts()
	if successes < 2 {
		t.Fatalf("expected a success notice per connect, got %d", successes)
	}
	if failures != 1 {
		t.Fatalf("expected one error notice for the drop, got %d", failures)
	}
}

func TestRepeatedFailuresNotifyOnce(t *testing.T) {
	ts := newTestServer(t)
	url := ts.wsURL()
	ts.Close()

	notifier := &recordingNotifier{}
	client := New(url, Options{RetryDelay: 10 * time.Millisecond, Notifier: notifier})
	if err := client.Dial(context.Background()); err == nil {
		t.Fatalf("expected the first dial to fail")
	}
	time.Sleep(150 * time.Millisecond)
	_ = client.Close()

	if _, failures := notifier.counts(); failures != 1 {
		t.Fatalf("expected exactly one error notice, got %d", failures)
	}
}

func TestCloseStopsReconnecting(t *testing.T) {
	ts := newTestServer(t)
	client := New(ts.wsURL(), Options{RetryDelay: 10 * time.Millisecond})
	if err := client.Dial(context.Background()); err != nil {
		t.Fatalf("Dial: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	before := ts.connections.Load()
	time.Sleep(100 * time.Millisecond)
	if after := ts.connections.Load(); after != before {
		t.Fatalf("client reconnected after Close: %d -> %d", before, after)
	}
	if client.Connected() {
		t.Fatalf("client still reports a connection")
	}
}

func TestPendingAckFailsOnDrop(t *testing.T) {
	ts := newTestServer(t)
	// read one frame, then hang up without acknowledging it
	ts.onConn = func(n int32, conn *websocket.Conn) bool {
		_, _, _ = conn.ReadMessage()
		return false
	}
	client := New(ts.wsURL(), Options{RetryDelay: time.Hour})
	defer client.Close()
	if err := client.Dial(context.Background()); err != nil {
		t.Fatalf("Dial: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := client.EmitWithAck(ctx, protocol.EventSendMessage, protocol.SendMessage{Content: "hi", RoomID: "private:1"})
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func TestCloseRacingFailedDial(t *testing.T) {
	// nothing listens on this address, so every Dial schedules a retry
	dead := httptest.NewServer(http.NotFoundHandler())
	url := "ws" + strings.TrimPrefix(dead.URL, "http")
	dead.Close()

	for i := 0; i < 20; i++ {
		client := New(url, Options{RetryDelay: time.Millisecond})
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = client.Dial(context.Background())
		}()
		go func() {
			defer wg.Done()
			_ = client.Close()
		}()
		wg.Wait()
		if err := client.Dial(context.Background()); !errors.Is(err, ErrClosed) {
			t.Fatalf("Dial after Close: %v", err)
		}
	}
}
