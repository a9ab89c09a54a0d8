package monitor

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sdrstream/pkg/frame"
)

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(url, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.Clients() != n {
		if time.Now().After(deadline) {
			t.Fatalf("clients = %d, want %d", h.Clients(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func testFrame(t *testing.T, seq uint16) *frame.Frame {
	t.Helper()
	samples := make([]uint32, frame.SamplesPerFrame)
	samples[0] = 42
	data, err := frame.Build(seq, samples)
	if err != nil {
		t.Fatal(err)
	}
	return &frame.Frame{Seq: seq, Data: data, Samples: samples}
}

func TestHubHelloAndFrames(t *testing.T) {
	h := NewHub("session-1", func() any { return map[string]int{"frames": 7} })
	srv := httptest.NewServer(h)
	defer srv.Close()

	conn := dial(t, srv.URL)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var hello Hello
	if err := conn.ReadJSON(&hello); err != nil {
		t.Fatalf("read hello: %v", err)
	}
	if hello.Type != "hello" || hello.Session != "session-1" || hello.FrameSize != frame.Size {
		t.Errorf("hello = %+v", hello)
	}

	waitClients(t, h, 1)
	f := testFrame(t, 9)
	h.WriteFrame(f)

	mt, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if mt != websocket.BinaryMessage || !bytes.Equal(data, f.Data) {
		t.Errorf("got type %d, %d bytes", mt, len(data))
	}
}

func TestHubClientLeaves(t *testing.T) {
	h := NewHub("s", nil)
	srv := httptest.NewServer(h)
	defer srv.Close()

	conn := dial(t, srv.URL)
	waitClients(t, h, 1)
	conn.Close()
	waitClients(t, h, 0)

	// Broadcasting with nobody listening is harmless.
	h.WriteFrame(testFrame(t, 1))
}

func TestHubDropsForSlowClients(t *testing.T) {
	h := NewHub("s", nil)
	srv := httptest.NewServer(h)
	defer srv.Close()

	dial(t, srv.URL)
	waitClients(t, h, 1)

	// Nobody reads; the queue and socket buffers eventually fill.
	f := testFrame(t, 1)
	for i := 0; i < 100000 && h.Dropped() == 0; i++ {
		h.WriteFrame(f)
	}
	if h.Dropped() == 0 {
		t.Error("expected drops for a client that never reads")
	}
}

func TestServeStatus(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()

	h := NewHub("abc", func() any { return "ok" })
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- Serve(ctx, addr, h) }()

	var resp *http.Response
	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err = http.Get("http://" + addr + "/api/status")
		if err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("status endpoint: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}
	var body map[string]any
	json.NewDecoder(resp.Body).Decode(&body)
	resp.Body.Close()
	if body["session"] != "abc" || body["status"] != "ok" {
		t.Errorf("status body = %v", body)
	}

	cancel()
	select {
	case err := <-errc:
		if err != nil {
			t.Errorf("Serve returned %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestHubBroadcastsStatusUpdates(t *testing.T) {
	h := NewHub("s", nil)
	srv := httptest.NewServer(h)
	defer srv.Close()

	conn := dial(t, srv.URL)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var hello Hello
	if err := conn.ReadJSON(&hello); err != nil {
		t.Fatal(err)
	}

	h.Broadcast(Update{Type: "status", Status: map[string]bool{"muted": true}})

	var up struct {
		Type   string          `json:"type"`
		Status map[string]bool `json:"status"`
	}
	if err := conn.ReadJSON(&up); err != nil {
		t.Fatal(err)
	}
	if up.Type != "status" || !up.Status["muted"] {
		t.Errorf("update = %+v", up)
	}
}
