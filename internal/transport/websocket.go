// SPDX-License-Identifier: MIT
package transport

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"bandcast/internal/analysis"
	applog "bandcast/internal/log"
	"bandcast/internal/protocol"

	"github.com/gorilla/websocket"
)

// wsWriteTimeout bounds one message write to one browser.
const wsWriteTimeout = 50 * time.Millisecond

// Hello is the JSON text message a websocket client receives on connect.
// Every later message is a binary frame in the TCP wire format.
type Hello struct {
	SampleRate int `json:"sample_rate"`
	Bands      int `json:"bands"`
	FrameSize  int `json:"frame_size"`
}

// WebSocketTransport mirrors every frame to browsers as a binary websocket
// message. Clients that fail a write are dropped.
type WebSocketTransport struct {
	addr      string
	path      string
	cfg       protocol.ServerConfig
	upgrader  websocket.Upgrader
	clients   map[*websocket.Conn]bool
	clientsMu sync.Mutex
	broadcast chan []byte
	server    *http.Server
	listener  net.Listener
	log       *applog.Logger
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewWebSocketTransport creates a new WebSocketTransport instance. Nothing
// listens until Start.
func NewWebSocketTransport(addr, path string, cfg protocol.ServerConfig) *WebSocketTransport {
	return &WebSocketTransport{
		addr: addr,
		path: path,
		cfg:  cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // Browsers on any origin may watch.
			},
		},
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan []byte, 16),
		log:       applog.New("WebSocketTransport"),
		done:      make(chan struct{}),
	}
}

// Start listens on the configured address and serves websocket upgrades on
// the configured path.
func (wst *WebSocketTransport) Start() error {
	ln, err := net.Listen("tcp", wst.addr)
	if err != nil {
		return fmt.Errorf("websocket listen on %s: %w", wst.addr, err)
	}
	wst.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc(wst.path, wst.handleWebSocket)
	wst.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	wst.wg.Add(2)
	go func() {
		defer wst.wg.Done()
		wst.log.Infof("serving ws://%s%s", ln.Addr(), wst.path)
		if err := wst.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			wst.log.Errorf("server error: %v", err)
		}
	}()
	go func() {
		defer wst.wg.Done()
		wst.handleBroadcasts()
	}()
	return nil
}

// Addr returns the listening address, or nil before Start.
func (wst *WebSocketTransport) Addr() net.Addr {
	if wst.listener == nil {
		return nil
	}
	return wst.listener.Addr()
}

// Clients returns the number of connected browsers.
func (wst *WebSocketTransport) Clients() int {
	wst.clientsMu.Lock()
	defer wst.clientsMu.Unlock()
	return len(wst.clients)
}

func (wst *WebSocketTransport) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := wst.upgrader.Upgrade(w, r, nil)
	if err != nil {
		wst.log.Warnf("upgrade error: %v", err)
		return
	}

	hello := Hello{
		SampleRate: int(wst.cfg.SampleRate),
		Bands:      int(wst.cfg.BandCount),
		FrameSize:  wst.cfg.FrameSize(),
	}
	conn.SetWriteDeadline(time.Now().Add(time.Second))
	if err := conn.WriteJSON(hello); err != nil {
		wst.log.Warnf("hello to %s failed: %v", conn.RemoteAddr(), err)
		conn.Close()
		return
	}

	wst.clientsMu.Lock()
	select {
	case <-wst.done:
		wst.clientsMu.Unlock()
		conn.Close()
		return
	default:
	}
	wst.clients[conn] = true
	total := len(wst.clients)
	wst.clientsMu.Unlock()
	wst.log.Infof("client %s connected, total: %d", conn.RemoteAddr(), total)

	// Browsers never send anything we need, reading only notices the close.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				wst.drop(conn, "disconnected")
				return
			}
		}
	}()
}

func (wst *WebSocketTransport) drop(conn *websocket.Conn, reason string) {
	wst.clientsMu.Lock()
	_, ok := wst.clients[conn]
	delete(wst.clients, conn)
	total := len(wst.clients)
	wst.clientsMu.Unlock()
	conn.Close()
	if ok {
		wst.log.Infof("client %s %s, total: %d", conn.RemoteAddr(), reason, total)
	}
}

// handleBroadcasts writes every queued frame to all browsers in parallel.
// A stalled browser does not hold up the others. Browsers whose write
// failed are dropped once the whole batch is done.
func (wst *WebSocketTransport) handleBroadcasts() {
	var batch []*websocket.Conn
	for {
		var frame []byte
		select {
		case <-wst.done:
			return
		case frame = <-wst.broadcast:
		}

		batch = batch[:0]
		wst.clientsMu.Lock()
		for client := range wst.clients {
			batch = append(batch, client)
		}
		wst.clientsMu.Unlock()
		if len(batch) == 0 {
			continue
		}

		// Only this goroutine writes once a client is registered, gorilla
		// allows one concurrent writer per connection.
		errs := make([]error, len(batch))
		var wg sync.WaitGroup
		for i, client := range batch {
			wg.Add(1)
			go func() {
				defer wg.Done()
				client.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				errs[i] = client.WriteMessage(websocket.BinaryMessage, frame)
			}()
		}
		wg.Wait()

		for i, err := range errs {
			if err != nil {
				wst.drop(batch[i], fmt.Sprintf("dropped after failed write: %v", err))
			}
		}
	}
}

// Send queues vec for every connected browser. When the queue is full the
// frame is dropped, the next one carries newer data anyway.
func (wst *WebSocketTransport) Send(vec analysis.LoudnessVector) error {
	if len(vec) != int(wst.cfg.BandCount) {
		return fmt.Errorf("%w: %d values for %d bands", protocol.ErrFrameSize, len(vec), wst.cfg.BandCount)
	}
	frame := protocol.AppendFrame(make([]byte, 0, wst.cfg.FrameSize()), vec)
	select {
	case wst.broadcast <- frame:
	default:
	}
	return nil
}

// Close shuts down the WebSocket server and disconnects every client.
func (wst *WebSocketTransport) Close() error {
	var err error
	wst.closeOnce.Do(func() {
		close(wst.done)
		if wst.server != nil {
			err = wst.server.Close()
		}
		wst.clientsMu.Lock()
		for client := range wst.clients {
			client.Close()
		}
		wst.clients = make(map[*websocket.Conn]bool)
		wst.clientsMu.Unlock()
		wst.wg.Wait()
		wst.log.Infof("closed")
	})
	return err
}

// Ensure WebSocketTransport satisfies the interface
var _ Transport = (*WebSocketTransport)(nil)
