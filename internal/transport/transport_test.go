// SPDX-License-Identifier: MIT
package transport

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"bandcast/internal/analysis"
	"bandcast/internal/feed"
	"bandcast/internal/protocol"

	"github.com/gorilla/websocket"
)

type recordingTransport struct {
	mu   sync.Mutex
	got  []analysis.LoudnessVector
	fail bool
}

func (r *recordingTransport) Send(vec analysis.LoudnessVector) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, vec)
	if r.fail {
		return errors.New("sink unavailable")
	}
	return nil
}

func (r *recordingTransport) Close() error { return nil }

func (r *recordingTransport) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.got)
}

func TestPumpForwardsUntilClosed(t *testing.T) {
	b := feed.NewBroadcaster()
	sink := &recordingTransport{fail: true}
	done := make(chan error, 1)
	go func() { done <- Pump(context.Background(), b.Subscribe(), sink) }()

	deadline := time.Now().Add(2 * time.Second)
	for sink.count() < 3 && time.Now().Before(deadline) {
		b.Publish(analysis.LoudnessVector{-1, -2})
		time.Sleep(5 * time.Millisecond)
	}
	if sink.count() < 3 {
		t.Fatalf("sink received %d vectors, send errors must not stop the pump", sink.count())
	}

	b.Close()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Pump() = %v, want nil after close", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Pump did not return after the feed closed")
	}
}

func TestPumpStopsOnCancel(t *testing.T) {
	b := feed.NewBroadcaster()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Pump(ctx, b.Subscribe(), &recordingTransport{}) }()
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Pump() = %v, want nil on cancel", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Pump did not return after cancel")
	}
}

func TestLoggingTransportFormat(t *testing.T) {
	lt := NewLoggingTransport()
	got := lt.format(analysis.LoudnessVector{-0.5, -10, -60})
	if want := "-0.5/7 -10.0/3 -60.0/-1"; got != want {
		t.Errorf("format() = %q, want %q", got, want)
	}
	if err := lt.Send(analysis.LoudnessVector{-1}); err != nil {
		t.Errorf("Send() = %v", err)
	}
}

func startWebSocket(t *testing.T) *WebSocketTransport {
	t.Helper()
	wst := NewWebSocketTransport("127.0.0.1:0", "/bands", protocol.ServerConfig{SampleRate: 20, BandCount: 3})
	if err := wst.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { wst.Close() })
	return wst
}

func dialWebSocket(t *testing.T, wst *WebSocketTransport) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws://"+wst.Addr().String()+"/bands", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestWebSocketHelloAndFrames(t *testing.T) {
	wst := startWebSocket(t)
	conn := dialWebSocket(t, wst)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var hello Hello
	if err := conn.ReadJSON(&hello); err != nil {
		t.Fatalf("read hello: %v", err)
	}
	if hello != (Hello{SampleRate: 20, Bands: 3, FrameSize: 12}) {
		t.Errorf("hello = %+v", hello)
	}

	deadline := time.Now().Add(2 * time.Second)
	for wst.Clients() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	want := analysis.LoudnessVector{-3, -30, -60}
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		for {
			select {
			case <-stop:
				return
			case <-time.After(10 * time.Millisecond):
				wst.Send(want)
			}
		}
	}()

	kind, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if kind != websocket.BinaryMessage {
		t.Errorf("message type = %d, want binary", kind)
	}
	got, err := protocol.DecodeFrame(nil, data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("value %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestWebSocketRejectsWrongLength(t *testing.T) {
	wst := NewWebSocketTransport("127.0.0.1:0", "/bands", protocol.ServerConfig{SampleRate: 20, BandCount: 3})
	if err := wst.Send(analysis.LoudnessVector{-1}); !errors.Is(err, protocol.ErrFrameSize) {
		t.Errorf("Send() = %v, want ErrFrameSize", err)
	}
}

func TestWebSocketCloseDisconnects(t *testing.T) {
	wst := startWebSocket(t)
	conn := dialWebSocket(t, wst)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var hello Hello
	if err := conn.ReadJSON(&hello); err != nil {
		t.Fatalf("read hello: %v", err)
	}

	if err := wst.Close(); err != nil {
		t.Errorf("Close() = %v", err)
	}
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Errorf("expected the connection to be closed")
	}
	if wst.Clients() != 0 {
		t.Errorf("Clients() = %d after close", wst.Clients())
	}
	if err := wst.Close(); err != nil {
		t.Errorf("second Close() = %v", err)
	}
	if _, _, err := websocket.DefaultDialer.Dial("ws://"+wst.Addr().String()+"/bands", nil); err == nil ||
		strings.Contains(err.Error(), "bad handshake") {
		t.Errorf("dial after close: %v, want a connection error", err)
	}
}

func TestWebSocketStalledBrowserIsDroppedAlone(t *testing.T) {
	if testing.Short() {
		t.Skip("fills socket buffers")
	}
	wst := NewWebSocketTransport("127.0.0.1:0", "/bands", protocol.ServerConfig{SampleRate: 127, BandCount: 127})
	if err := wst.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { wst.Close() })

	// The stalled browser reads the hello and then nothing, with a tiny
	// receive window so the server's writes back up quickly.
	stalledDialer := websocket.Dialer{
		NetDial: func(network, addr string) (net.Conn, error) {
			conn, err := net.Dial(network, addr)
			if tc, ok := conn.(*net.TCPConn); ok {
				tc.SetReadBuffer(1024)
			}
			return conn, err
		},
	}
	stalled, _, err := stalledDialer.Dial("ws://"+wst.Addr().String()+"/bands", nil)
	if err != nil {
		t.Fatalf("dial stalled: %v", err)
	}
	t.Cleanup(func() { stalled.Close() })
	var hello Hello
	stalled.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := stalled.ReadJSON(&hello); err != nil {
		t.Fatalf("stalled hello: %v", err)
	}

	healthy := dialWebSocket(t, wst)
	healthy.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := healthy.ReadJSON(&hello); err != nil {
		t.Fatalf("healthy hello: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for wst.Clients() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if wst.Clients() != 2 {
		t.Fatalf("Clients() = %d, want 2", wst.Clients())
	}

	vec := make(analysis.LoudnessVector, 127)
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		for {
			select {
			case <-stop:
				return
			default:
				wst.Send(vec)
				time.Sleep(100 * time.Microsecond)
			}
		}
	}()

	// The healthy browser keeps reading until the stalled one is gone.
	deadline = time.Now().Add(20 * time.Second)
	for wst.Clients() == 2 {
		if time.Now().After(deadline) {
			t.Fatal("stalled browser was never dropped")
		}
		healthy.SetReadDeadline(time.Now().Add(2 * time.Second))
		if _, _, err := healthy.ReadMessage(); err != nil {
			t.Fatalf("healthy browser: %v", err)
		}
	}
	if wst.Clients() != 1 {
		t.Fatalf("Clients() = %d, want only the healthy browser left", wst.Clients())
	}
	healthy.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := healthy.ReadMessage(); err != nil {
		t.Errorf("healthy browser after the drop: %v", err)
	}
}
