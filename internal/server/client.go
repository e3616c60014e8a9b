// SPDX-License-Identifier: MIT
package server

import (
	"errors"
	"net"
	"sync"
	"time"
)

var errClientClosed = errors.New("client closed")

const (
	// drainBufferSize bounds one drain read. Clients ACK every frame, so a
	// drain pass usually finds several bytes waiting.
	drainBufferSize = 512

	// maxDrainBytes bounds one drain pass. At the highest vector rate a
	// client acks 127 bytes a second, far below this.
	maxDrainBytes = 64 << 10
)

// client is one connection that completed the handshake. writeMu
// serializes frame writes with the final close so a client is never
// written to and closed at the same time. readMu does the same for drain
// reads.
type client struct {
	conn net.Conn
	addr string

	writeMu sync.Mutex
	readMu  sync.Mutex
	closed  bool // guarded by writeMu

	drainBuf [drainBufferSize]byte
}

func newClient(conn net.Conn) *client {
	return &client{conn: conn, addr: conn.RemoteAddr().String()}
}

// write sends one frame, bounded by timeout.
func (c *client) write(frame []byte, timeout time.Duration) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closed {
		return errClientClosed
	}
	if err := c.conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return err
	}
	_, err := c.conn.Write(frame)
	return err
}

// drain discards acknowledgement bytes, reading until timeout passes or
// maxDrainBytes were read. Running out of time is the normal outcome and
// returns nil. A client that is already being closed is skipped.
func (c *client) drain(timeout time.Duration) (int, error) {
	if !c.readMu.TryLock() {
		return 0, nil
	}
	defer c.readMu.Unlock()

	if err := c.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return 0, err
	}
	total := 0
	for total < maxDrainBytes {
		n, err := c.conn.Read(c.drainBuf[:])
		total += n
		if err != nil {
			if isTimeout(err) {
				return total, nil
			}
			return total, err
		}
	}
	return total, nil
}

// closeGracefully half-closes the connection, gives the peer up to grace
// to notice, then closes it for good.
func (c *client) closeGracefully(grace time.Duration) {
	c.writeMu.Lock()
	if c.closed {
		c.writeMu.Unlock()
		return
	}
	c.closed = true
	c.writeMu.Unlock()

	if tc, ok := c.conn.(interface{ CloseWrite() error }); ok && grace > 0 {
		if tc.CloseWrite() == nil {
			c.readMu.Lock()
			c.conn.SetReadDeadline(time.Now().Add(grace))
			for {
				if _, err := c.conn.Read(c.drainBuf[:]); err != nil {
					break
				}
			}
			c.readMu.Unlock()
		}
	}
	c.conn.Close()
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
