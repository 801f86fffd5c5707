package main

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"spinnrd/internal/accel"
)

// Hub tests use Clients with a nil websocket.Conn; the hub guards against nil
// when evicting.

func newTestHub(t *testing.T, sendBuf int, broadcastBuf int) *Hub {
	t.Helper()
	return NewHub(discardLogger(), HubConfig{
		SendBuf:      sendBuf,
		BroadcastBuf: broadcastBuf,
	})
}

func newTestClient(hub *Hub, name string, buf int) *Client {
	return &Client{
		hub:        hub,
		send:       make(chan []byte, buf),
		remoteAddr: name,
		logger:     discardLogger(),
	}
}

func registerAndWait(t *testing.T, hub *Hub, c *Client) {
	t.Helper()
	hub.register <- c
	waitUntil(t, 500*time.Millisecond, func() bool {
		hub.mu.Lock()
		defer hub.mu.Unlock()
		_, ok := hub.clients[c]
		return ok
	}, c.remoteAddr+" not registered in time")
}

func startHub(t *testing.T, hub *Hub) (context.CancelFunc, <-chan struct{}) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		hub.Run(ctx)
	}()
	return cancel, done
}

func TestHub_BroadcastDeliveredToAllClients(t *testing.T) {
	hub := newTestHub(t, 4, 8)
	cancel, done := startHub(t, hub)
	defer cancel()

	c1 := newTestClient(hub, "c1", 4)
	c2 := newTestClient(hub, "c2", 4)
	registerAndWait(t, hub, c1)
	registerAndWait(t, hub, c2)

	msg := []byte(`{"type":"rotation_changed","data":{"rotation":"left"}}`)
	hub.broadcast <- msg

	for _, c := range []*Client{c1, c2} {
		select {
		case got := <-c.send:
			if string(got) != string(msg) {
				t.Fatalf("%s got %q, want %q", c.remoteAddr, got, msg)
			}
		case <-time.After(500 * time.Millisecond):
			t.Fatalf("timeout waiting for %s to receive broadcast", c.remoteAddr)
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("timeout waiting for hub to stop")
	}
	if n := hub.clientCount(); n != 0 {
		t.Fatalf("clients after shutdown = %d, want 0", n)
	}
}

func TestHub_SlowClientDisconnectedOnFullSendBuffer(t *testing.T) {
	hub := newTestHub(t, 1, 8)
	cancel, _ := startHub(t, hub)
	defer cancel()

	slow := newTestClient(hub, "slow", 1)
	fast := newTestClient(hub, "fast", 8)
	registerAndWait(t, hub, slow)
	registerAndWait(t, hub, fast)

	slow.send <- []byte(`"already queued"`)

	msg := []byte(`{"type":"rotation_changed","data":{"rotation":"right"}}`)
	hub.broadcast <- msg

	select {
	case got := <-fast.send:
		if string(got) != string(msg) {
			t.Fatalf("fast client got %q, want %q", got, msg)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("timeout waiting for fast client to receive broadcast")
	}

	select {
	case <-slow.send:
	default:
	}

	waitUntil(t, 750*time.Millisecond, func() bool {
		select {
		case _, ok := <-slow.send:
			return !ok
		default:
			return false
		}
	}, "expected slow send channel to be closed")
}

func TestWSFrontend_QueueFull(t *testing.T) {
	// Hub not running: the broadcast queue fills up.
	hub := newTestHub(t, 1, 1)
	fe := &wsFrontend{hub: hub}

	if err := fe.Send(accel.Left); err != nil {
		t.Fatalf("first Send: %v", err)
	}
	if err := fe.Send(accel.Right); err == nil {
		t.Fatalf("expected error when broadcast queue is full")
	}

	var env struct {
		Type string                `json:"type"`
		Ts   time.Time             `json:"ts"`
		Data wsRotationChangedData `json:"data"`
	}
	if err := json.Unmarshal(<-hub.broadcast, &env); err != nil {
		t.Fatal(err)
	}
	if env.Type != wsTypeRotationChanged || env.Data.Rotation != accel.Left || env.Ts.IsZero() {
		t.Fatalf("envelope = %+v", env)
	}
}

type wsMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func readWS(t *testing.T, conn *websocket.Conn) wsMessage {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, b, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read ws: %v", err)
	}
	var m wsMessage
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("decode %q: %v", b, err)
	}
	return m
}

func TestWSHandler_StateInitThenRotationChanged(t *testing.T) {
	hub := newTestHub(t, 4, 8)
	cancel, _ := startHub(t, hub)
	defer cancel()

	board := newStatusBoard()
	r := accel.Inverted
	board.publish(rotationSnapshot{Rotation: &r, Backend: "fsaccel"})

	srv := httptest.NewServer(newHTTPMux(hub, "/ws", board, discardLogger()))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	first := readWS(t, conn)
	if first.Type != wsTypeStateInit {
		t.Fatalf("first message type = %q, want %q", first.Type, wsTypeStateInit)
	}
	var snap rotationSnapshot
	if err := json.Unmarshal(first.Data, &snap); err != nil {
		t.Fatal(err)
	}
	if snap.Rotation == nil || *snap.Rotation != accel.Inverted || snap.Backend != "fsaccel" {
		t.Fatalf("state_init = %s", first.Data)
	}

	waitUntil(t, 500*time.Millisecond, func() bool { return hub.clientCount() == 1 }, "ws client not registered")

	fe := &wsFrontend{hub: hub}
	if err := fe.Send(accel.Left); err != nil {
		t.Fatalf("Send: %v", err)
	}

	msg := readWS(t, conn)
	if msg.Type != wsTypeRotationChanged {
		t.Fatalf("message type = %q, want %q", msg.Type, wsTypeRotationChanged)
	}
	var data wsRotationChangedData
	if err := json.Unmarshal(msg.Data, &data); err != nil {
		t.Fatal(err)
	}
	if data.Rotation != accel.Left {
		t.Fatalf("rotation = %v, want left", data.Rotation)
	}
}

func TestHTTPMux_RotationEndpoint(t *testing.T) {
	board := newStatusBoard()
	r := accel.Right
	board.publish(rotationSnapshot{Rotation: &r})

	srv := httptest.NewServer(newHTTPMux(nil, "/ws", board, discardLogger()))
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL + "/rotation")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var snap rotationSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatal(err)
	}
	if snap.Rotation == nil || *snap.Rotation != accel.Right {
		t.Fatalf("snapshot = %+v", snap)
	}

	post, err := srv.Client().Post(srv.URL+"/rotation", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	post.Body.Close()
	if post.StatusCode != 405 {
		t.Fatalf("POST status = %d, want 405", post.StatusCode)
	}
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timeout: %s", msg)
}
