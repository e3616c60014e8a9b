// SPDX-License-Identifier: MIT
package udp

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	applog "bandcast/internal/log"
)

// ErrSenderClosed is returned by Send after Close.
var ErrSenderClosed = errors.New("udp: sender is closed")

// UDPSender writes datagrams to one fixed target and counts what it sent.
type UDPSender struct {
	conn       *net.UDPConn
	targetAddr *net.UDPAddr
	mu         sync.Mutex // Protects conn during Close
	closed     bool
	packets    atomic.Uint64
	bytes      atomic.Uint64
	failures   atomic.Uint64
	log        *applog.Logger
}

// SenderStats counts datagrams since the sender was created.
type SenderStats struct {
	Packets  uint64
	Bytes    uint64
	Failures uint64
}

// NewUDPSender creates a new UDPSender targeting the specified address.
// The address should be in the format "host:port", e.g., "127.0.0.1:9090".
func NewUDPSender(targetAddress string) (*UDPSender, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", targetAddress)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve UDP target address '%s': %w", targetAddress, err)
	}

	// No local address: the kernel picks an ephemeral port for sending.
	conn, err := net.DialUDP("udp", nil, udpAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial UDP for target '%s': %w", targetAddress, err)
	}

	s := &UDPSender{
		conn:       conn,
		targetAddr: udpAddr,
		log:        applog.New("UDPSender"),
	}
	s.log.Infof("connection established to %s", conn.RemoteAddr())
	return s, nil
}

// Send transmits data as one datagram. A refused or unreachable target is
// counted as a failure, the next tick simply tries again.
func (s *UDPSender) Send(data []byte) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSenderClosed
	}
	n, err := s.conn.Write(data)
	s.mu.Unlock()

	if err != nil {
		s.failures.Add(1)
		return fmt.Errorf("send %d byte packet to %s: %w", len(data), s.targetAddr, err)
	}
	s.packets.Add(1)
	s.bytes.Add(uint64(n))
	return nil
}

// Target returns the resolved destination.
func (s *UDPSender) Target() *net.UDPAddr { return s.targetAddr }

// Stats returns the datagram counters.
func (s *UDPSender) Stats() SenderStats {
	return SenderStats{
		Packets:  s.packets.Load(),
		Bytes:    s.bytes.Load(),
		Failures: s.failures.Load(),
	}
}

// Close closes the underlying UDP connection.
func (s *UDPSender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	st := s.Stats()
	s.log.Infof("closing connection to %s after %d packets (%d bytes, %d failed)",
		s.targetAddr, st.Packets, st.Bytes, st.Failures)
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close UDP connection: %w", err)
	}
	return nil
}
