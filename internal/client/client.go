// SPDX-License-Identifier: MIT
/*
Package client is the receiving side of the broadcast protocol.

A Client reads the 2-byte handshake, acknowledges it, and then reads
fixed-size frames, acknowledging every one. Frames that arrive much faster
than the nominal period are flagged as backlog: the client has fallen
behind and is catching up, so callers should not animate them as if they
were live.
*/
package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"bandcast/internal/config"
	applog "bandcast/internal/log"
	"bandcast/internal/protocol"
)

// ErrClosed is returned once the connection is gone.
var ErrClosed = errors.New("client: connection closed")

// State is the position of a Client in its lifecycle.
type State int32

const (
	Connecting State = iota
	AwaitingConfig
	Handshaking
	Streaming
	Closed
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case AwaitingConfig:
		return "awaiting-config"
	case Handshaking:
		return "handshaking"
	case Streaming:
		return "streaming"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Options tunes the client. Zero values take the defaults.
type Options struct {
	HandshakeTimeout time.Duration // Config read plus ACK, default 1s.
	ReadTimeout      time.Duration // One frame read, default 50ms.
}

func (o *Options) setDefaults() {
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = config.DefaultHandshakeTimeout
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = config.DefaultClientReadTimeout
	}
}

// Frame is one decoded data frame. Values belongs to the caller.
type Frame struct {
	Seq     uint64        // 1 for the first frame.
	Values  []float64     // One value per band.
	Elapsed time.Duration // Since the previous frame, 0 for the first.
	Backlog bool          // Arrived faster than the skip threshold.
}

// Client is a connected feed client. Next must not be called concurrently.
type Client struct {
	conn net.Conn
	cfg  protocol.ServerConfig
	opts Options
	log  *applog.Logger

	state atomic.Int32

	buf     []byte // one frame
	pending int    // bytes of buf already read
	last    time.Time
	seq     uint64

	closeOnce sync.Once
	closeErr  error
}

// Dial connects to addr and completes the handshake.
func Dial(ctx context.Context, addr string, opts Options) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("client: dial %s: %w", addr, err)
	}
	return New(conn, opts)
}

// New completes the handshake on an already connected conn. conn is
// closed when the handshake fails.
func New(conn net.Conn, opts Options) (*Client, error) {
	opts.setDefaults()
	c := &Client{
		conn: conn,
		opts: opts,
		log:  applog.New("FeedClient"),
	}
	c.state.Store(int32(Connecting))
	if err := c.handshake(); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func (c *Client) handshake() error {
	if err := c.conn.SetDeadline(time.Now().Add(c.opts.HandshakeTimeout)); err != nil {
		return err
	}

	c.state.Store(int32(AwaitingConfig))
	cfg, err := protocol.ReadConfig(c.conn)
	if err != nil {
		return fmt.Errorf("client: read config: %w", err)
	}

	c.state.Store(int32(Handshaking))
	if err := protocol.WriteAck(c.conn); err != nil {
		return fmt.Errorf("client: ack config: %w", err)
	}
	if err := c.conn.SetDeadline(time.Time{}); err != nil {
		return err
	}

	c.cfg = cfg
	c.buf = make([]byte, cfg.FrameSize())
	c.state.Store(int32(Streaming))
	c.log.Infof("connected to %s: %s", c.conn.RemoteAddr(), cfg)
	return nil
}

// Config returns the configuration received in the handshake.
func (c *Client) Config() protocol.ServerConfig { return c.cfg }

// State returns the current lifecycle state.
func (c *Client) State() State { return State(c.state.Load()) }

// Next blocks until a full frame has been read and acknowledged. Read
// timeouts are expected when the server has nothing new and are retried
// until ctx is done. Any other I/O error closes the client.
func (c *Client) Next(ctx context.Context) (Frame, error) {
	if c.State() == Closed {
		return Frame{}, ErrClosed
	}
	for {
		if err := ctx.Err(); err != nil {
			return Frame{}, err
		}
		if err := c.conn.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout)); err != nil {
			return Frame{}, c.fail(err)
		}
		n, err := c.conn.Read(c.buf[c.pending:])
		c.pending += n
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return Frame{}, c.fail(err)
		}
		if c.pending < len(c.buf) {
			continue
		}
		c.pending = 0

		if err := c.ack(); err != nil {
			return Frame{}, c.fail(err)
		}
		return c.decode(time.Now())
	}
}

func (c *Client) ack() error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.opts.HandshakeTimeout)); err != nil {
		return err
	}
	return protocol.WriteAck(c.conn)
}

func (c *Client) decode(now time.Time) (Frame, error) {
	values, err := protocol.DecodeFrame(nil, c.buf)
	if err != nil {
		return Frame{}, c.fail(err)
	}
	c.seq++
	f := Frame{Seq: c.seq, Values: values}
	if !c.last.IsZero() {
		f.Elapsed = now.Sub(c.last)
		threshold := c.cfg.SkipThreshold()
		f.Backlog = threshold > 0 && f.Elapsed < threshold
	}
	c.last = now
	return f, nil
}

func (c *Client) fail(err error) error {
	c.Close()
	return fmt.Errorf("%w: %w", ErrClosed, err)
}

// Close closes the connection. It is safe to call more than once.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.state.Store(int32(Closed))
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}
