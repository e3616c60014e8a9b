// SPDX-License-Identifier: MIT
/*
Package server implements the TCP broadcast server.

Three flows share one mutex-guarded client registry:

  - the accept loop hands every new connection to a handshake goroutine,
    which registers the client once its ACK arrives;
  - the broadcast loop takes the newest vector from its feed subscription
    and writes the encoded frame to all clients concurrently;
  - the drain loop periodically reads and discards client ACKs so that no
    client's socket buffers back up.

A failed write or drain removes only that client. Every blocking step has
a deadline from Options.
*/
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"bandcast/internal/config"
	"bandcast/internal/feed"
	applog "bandcast/internal/log"
	"bandcast/internal/protocol"
)

// ErrServing is returned when Serve is called twice.
var ErrServing = errors.New("server: already serving")

// Options configures a Server. Zero durations are replaced by the
// defaults from the config package.
type Options struct {
	Config           protocol.ServerConfig
	HandshakeTimeout time.Duration // Wait for the handshake ACK.
	WriteTimeout     time.Duration // Per-client frame write.
	DrainInterval    time.Duration // Time between drain passes.
	DrainTimeout     time.Duration // Per-client drain read.
	CloseGrace       time.Duration // Graceful close of one client.
	ShutdownTimeout  time.Duration // Whole shutdown before force closing.
	IdleInterval     time.Duration // Sleep when no new vector is ready.
}

// OptionsFromConfig builds Options from the server section of cfg.
func OptionsFromConfig(pc protocol.ServerConfig, sc config.ServerConfig) Options {
	return Options{
		Config:           pc,
		HandshakeTimeout: sc.HandshakeTimeout,
		WriteTimeout:     sc.WriteTimeout,
		DrainInterval:    sc.DrainInterval,
		DrainTimeout:     sc.DrainTimeout,
		CloseGrace:       sc.CloseGrace,
		ShutdownTimeout:  sc.ShutdownTimeout,
		IdleInterval:     sc.IdleInterval,
	}
}

func (o *Options) setDefaults() {
	setDefault := func(d *time.Duration, def time.Duration) {
		if *d <= 0 {
			*d = def
		}
	}
	setDefault(&o.HandshakeTimeout, config.DefaultHandshakeTimeout)
	setDefault(&o.WriteTimeout, config.DefaultWriteTimeout)
	setDefault(&o.DrainInterval, config.DefaultDrainInterval)
	setDefault(&o.DrainTimeout, config.DefaultDrainTimeout)
	setDefault(&o.CloseGrace, config.DefaultCloseGrace)
	setDefault(&o.ShutdownTimeout, config.DefaultShutdownTimeout)
	setDefault(&o.IdleInterval, config.DefaultIdleInterval)
}

// Stats is a snapshot of server counters.
type Stats struct {
	Accepted uint64 // Handshakes completed.
	Rejected uint64 // Connections abandoned during the handshake.
	Removed  uint64 // Clients dropped after a write or drain failure.
	Frames   uint64 // Broadcast sweeps.
	Drained  uint64 // Acknowledgement bytes discarded by the drain loop.
	Active   int    // Clients currently registered.
}

// Server is the TCP broadcast server.
type Server struct {
	opts      Options
	sub       *feed.Subscription
	handshake []byte
	log       *applog.Logger

	mu       sync.Mutex
	clients  map[*client]struct{}
	conns    map[net.Conn]struct{} // every open connection, for forced close
	listener net.Listener
	closing  bool

	wg sync.WaitGroup // handshakes and client closes

	accepted atomic.Uint64
	rejected atomic.Uint64
	removed  atomic.Uint64
	frames   atomic.Uint64
	drained  atomic.Uint64
}

// New creates a Server that broadcasts the vectors arriving on sub.
func New(opts Options, sub *feed.Subscription) (*Server, error) {
	if sub == nil {
		return nil, errors.New("server: feed subscription cannot be nil")
	}
	if _, err := protocol.NewServerConfig(int(opts.Config.SampleRate), int(opts.Config.BandCount)); err != nil {
		return nil, fmt.Errorf("server: %w", err)
	}
	opts.setDefaults()
	handshake, _ := opts.Config.MarshalBinary()

	return &Server{
		opts:      opts,
		sub:       sub,
		handshake: handshake,
		log:       applog.New("BroadcastServer"),
		clients:   make(map[*client]struct{}),
		conns:     make(map[net.Conn]struct{}),
	}, nil
}

// ListenAndServe listens on addr and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("server: listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln and broadcasts until ctx is done. It
// then stops the loops, closes every client, closes ln last and returns
// nil. A listener failure shuts down the same way and is returned.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	if s.listener != nil {
		s.mu.Unlock()
		return ErrServing
	}
	s.listener = ln
	s.mu.Unlock()

	s.log.Infof("listening on %s (%s)", ln.Addr(), s.opts.Config)

	loopCtx, stopLoops := context.WithCancel(context.Background())
	var loops sync.WaitGroup
	loops.Add(2)
	go func() {
		defer loops.Done()
		s.broadcastLoop(loopCtx)
	}()
	go func() {
		defer loops.Done()
		s.drainLoop(loopCtx)
	}()

	acceptDone := make(chan error, 1)
	go func() { acceptDone <- s.acceptLoop(ln) }()

	var serveErr error
	select {
	case <-ctx.Done():
		s.log.Infof("stop requested, shutting down")
	case serveErr = <-acceptDone:
		acceptDone = nil
		s.log.Errorf("accept failed, shutting down: %v", serveErr)
	}

	deadline := time.Now().Add(s.opts.ShutdownTimeout)
	s.shutdown(stopLoops, &loops, ln)
	if acceptDone != nil {
		<-acceptDone
	}
	s.await(deadline)
	return serveErr
}

// Addr returns the listening address, or nil before Serve.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Clients returns the number of registered clients.
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Stats returns a snapshot of the server counters.
func (s *Server) Stats() Stats {
	return Stats{
		Accepted: s.accepted.Load(),
		Rejected: s.rejected.Load(),
		Removed:  s.removed.Load(),
		Frames:   s.frames.Load(),
		Drained:  s.drained.Load(),
		Active:   s.Clients(),
	}
}

func (s *Server) acceptLoop(ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.isClosing() {
				return nil
			}
			if isTimeout(err) {
				continue
			}
			return err
		}

		s.mu.Lock()
		if s.closing {
			s.mu.Unlock()
			conn.Close()
			continue
		}
		s.conns[conn] = struct{}{}
		s.wg.Add(1)
		s.mu.Unlock()

		go s.serveHandshake(conn)
	}
}

// serveHandshake sends the config and waits for one ACK byte. Failing
// connections are closed right away and never registered.
func (s *Server) serveHandshake(conn net.Conn) {
	defer s.wg.Done()
	addr := conn.RemoteAddr().String()

	abandon := func(format string, err error) {
		s.rejected.Add(1)
		s.log.Warnf(format, addr, err)
		s.forget(conn)
		conn.Close()
	}

	if err := conn.SetDeadline(time.Now().Add(s.opts.HandshakeTimeout)); err != nil {
		abandon("client %s: set handshake deadline: %v", err)
		return
	}
	if _, err := conn.Write(s.handshake); err != nil {
		abandon("client %s: sending config failed: %v", err)
		return
	}
	var ack [1]byte
	if _, err := io.ReadFull(conn, ack[:]); err != nil {
		if isTimeout(err) {
			abandon("client %s: timed out waiting for handshake ack: %v", err)
		} else {
			abandon("client %s: handshake ack failed: %v", err)
		}
		return
	}
	if err := conn.SetDeadline(time.Time{}); err != nil {
		abandon("client %s: clear deadline: %v", err)
		return
	}

	c := newClient(conn)
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		s.forget(conn)
		conn.Close()
		return
	}
	s.clients[c] = struct{}{}
	active := len(s.clients)
	s.mu.Unlock()

	s.accepted.Add(1)
	s.log.Infof("client %s connected (%d active)", addr, active)
}

// broadcastLoop sends the newest vector to every client. With nothing new
// it idles for IdleInterval.
func (s *Server) broadcastLoop(ctx context.Context) {
	idle := time.NewTimer(s.opts.IdleInterval)
	defer idle.Stop()

	bandCount := int(s.opts.Config.BandCount)
	frame := make([]byte, 0, protocol.FrameSize(bandCount))
	var batch []*client

	for {
		vec, ok := s.sub.TryTake()
		if !ok {
			idle.Reset(s.opts.IdleInterval)
			select {
			case <-ctx.Done():
				return
			case <-idle.C:
			}
			continue
		}
		if ctx.Err() != nil {
			return
		}
		if len(vec) != bandCount {
			s.log.Errorf("dropping vector with %d values, handshake promised %d", len(vec), bandCount)
			continue
		}

		frame = protocol.AppendFrame(frame[:0], vec)
		batch = s.snapshot(batch[:0])
		s.sweep(batch, frame)
		s.frames.Add(1)
	}
}

// sweep writes frame to every client in parallel and removes the ones
// that failed once all writes have finished.
func (s *Server) sweep(batch []*client, frame []byte) {
	if len(batch) == 0 {
		return
	}
	errs := make([]error, len(batch))
	var wg sync.WaitGroup
	for i, c := range batch {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = c.write(frame, s.opts.WriteTimeout)
		}()
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			s.remove(batch[i], fmt.Errorf("write: %w", err))
		}
	}
	s.log.Debugf("frame %d sent to %d clients", s.frames.Load()+1, len(batch))
}

// drainLoop reads pending ACKs from every client once per DrainInterval.
func (s *Server) drainLoop(ctx context.Context) {
	ticker := time.NewTicker(s.opts.DrainInterval)
	defer ticker.Stop()

	var batch []*client
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		batch = s.snapshot(batch[:0])
		var wg sync.WaitGroup
		for _, c := range batch {
			wg.Add(1)
			go func() {
				defer wg.Done()
				n, err := c.drain(s.opts.DrainTimeout)
				s.drained.Add(uint64(n))
				if err != nil {
					s.remove(c, fmt.Errorf("drain: %w", err))
					return
				}
				if n > 0 {
					s.log.Debugf("client %s: drained %d ack bytes", c.addr, n)
				}
			}()
		}
		wg.Wait()
	}
}

func (s *Server) snapshot(dst []*client) []*client {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		dst = append(dst, c)
	}
	return dst
}

// remove unregisters c and closes it in the background. Removing a client
// twice is a no-op.
func (s *Server) remove(c *client, reason error) {
	s.mu.Lock()
	if _, ok := s.clients[c]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.clients, c)
	active := len(s.clients)
	s.wg.Add(1)
	s.mu.Unlock()

	s.removed.Add(1)
	if errors.Is(reason, io.EOF) {
		s.log.Infof("client %s disconnected (%d active)", c.addr, active)
	} else {
		s.log.Warnf("client %s dropped: %v (%d active)", c.addr, reason, active)
	}

	go func() {
		defer s.wg.Done()
		c.closeGracefully(s.opts.CloseGrace)
		s.forget(c.conn)
	}()
}

func (s *Server) forget(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
}

func (s *Server) isClosing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closing
}

// shutdown stops the loops, starts closing every client and closes the
// listener last.
func (s *Server) shutdown(stopLoops context.CancelFunc, loops *sync.WaitGroup, ln net.Listener) {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()

	stopLoops()
	loops.Wait()

	s.mu.Lock()
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
		delete(s.clients, c)
	}
	s.wg.Add(len(clients))
	s.mu.Unlock()

	s.log.Infof("closing %d clients", len(clients))
	for _, c := range clients {
		go func() {
			defer s.wg.Done()
			c.closeGracefully(s.opts.CloseGrace)
			s.forget(c.conn)
		}()
	}

	if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		s.log.Warnf("closing listener: %v", err)
	}
}

// await waits for handshakes and client closes until deadline, then
// force closes whatever is left.
func (s *Server) await(deadline time.Time) {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()
	select {
	case <-done:
		s.log.Infof("shutdown complete")
		return
	case <-timer.C:
	}

	s.mu.Lock()
	s.log.Warnf("shutdown deadline passed, force closing %d connections", len(s.conns))
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()
	<-done
}
