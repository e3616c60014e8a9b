// SPDX-License-Identifier: MIT

// Package udp pushes the latest loudness vector as UDP datagrams on a fixed
// interval, for consumers that prefer fire-and-forget over the TCP feed.
package udp

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"bandcast/internal/analysis"
	applog "bandcast/internal/log"
)

// HeaderSize is the fixed part of a packet before the values.
const HeaderSize = 4 + 8 + 2

// VectorSource yields the newest loudness vector, or nil before the first.
type VectorSource interface {
	Latest() analysis.LoudnessVector
}

// UDPPublisher periodically fetches the newest loudness vector, packs it
// and sends it with a UDPSender. It runs in a separate goroutine managed by
// Start and Stop.
type UDPPublisher struct {
	sender   *UDPSender
	source   VectorSource
	interval time.Duration
	log      *applog.Logger

	ticker   *time.Ticker   // Ticker that triggers packet sending.
	doneChan chan struct{}  // Closed to stop the publisher goroutine.
	stopOnce sync.Once      // Ensures the stop logic runs once per Start/Stop cycle.
	wg       sync.WaitGroup // Waits for the publisher goroutine during Stop.
	mu       sync.Mutex     // Protects ticker and doneChan during Start/Stop.

	sequenceNum uint32 // Monotonically increasing sequence number for packets.

	f32Buffer    []float32
	packetBuffer *bytes.Buffer
}

// NewUDPPublisher creates and initializes a new UDPPublisher. If interval
// is not positive it defaults to 50ms.
func NewUDPPublisher(interval time.Duration, sender *UDPSender, source VectorSource) (*UDPPublisher, error) {
	if sender == nil {
		return nil, errors.New("UDPPublisher: UDP sender cannot be nil")
	}
	if source == nil {
		return nil, errors.New("UDPPublisher: vector source cannot be nil")
	}

	log := applog.New("UDPPublisher")
	if interval <= 0 {
		interval = 50 * time.Millisecond
		log.Warnf("invalid interval provided, defaulting to %s", interval)
	}
	log.Infof("initializing (interval: %s)", interval)

	return &UDPPublisher{
		sender:       sender,
		source:       source,
		interval:     interval,
		log:          log,
		packetBuffer: new(bytes.Buffer),
	}, nil
}

// Start begins publishing. Calling Start on a running publisher is a no-op.
func (p *UDPPublisher) Start() {
	p.mu.Lock()
	if p.ticker != nil {
		p.mu.Unlock()
		p.log.Warnf("Start called but already running.")
		return
	}

	p.ticker = time.NewTicker(p.interval)
	p.doneChan = make(chan struct{})
	p.stopOnce = sync.Once{}

	// Locals keep the goroutine off p.ticker and p.doneChan.
	ticker := p.ticker
	doneChan := p.doneChan
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for {
			select {
			case <-ticker.C:
				p.buildAndSendPacket()
			case <-doneChan:
				return
			}
		}
	}()
}

// Stop signals the publisher goroutine to terminate and waits for it to
// exit. It is safe to call Stop more than once.
func (p *UDPPublisher) Stop() error {
	p.mu.Lock()
	if p.ticker == nil {
		p.mu.Unlock()
		return nil
	}
	p.stopOnce.Do(func() {
		close(p.doneChan)
		p.ticker.Stop()
		p.ticker = nil
	})
	p.mu.Unlock()

	p.wg.Wait()
	p.log.Infof("stopped after %d packets", p.sequenceNum)
	return nil
}

/*
UDP Packet Structure (BigEndian)

|<---- 4 Bytes ---->|<------ 8 Bytes ------>|<-- 2 Bytes -->|<----- N * 4 Bytes ----->|
+-------------------+-----------------------+---------------+-------------------------+
|  Sequence Number  |       Timestamp       |     Band      |     Loudness values     |
|      (uint32)     |   (int64, unix ns)    |     Count     |      (N * float32)      |
|                   |                       |    (uint16)   |                         |
+-------------------+-----------------------+---------------+-------------------------+
*/

// buildAndSendPacket sends the newest vector. Nothing is sent before the
// first vector is published.
func (p *UDPPublisher) buildAndSendPacket() {
	vec := p.source.Latest()
	if len(vec) == 0 {
		return
	}
	packet, err := p.appendPacket(vec, time.Now())
	if err != nil {
		p.log.Errorf("packing: %v", err)
		return
	}
	if err := p.sender.Send(packet); err != nil {
		p.log.Warnf("packet %d: %v", p.sequenceNum, err)
		return
	}
	p.log.Debugf("sent packet %d (%d bytes)", p.sequenceNum, len(packet))
}

func (p *UDPPublisher) appendPacket(vec analysis.LoudnessVector, now time.Time) ([]byte, error) {
	if len(vec) > 0xFFFF {
		return nil, fmt.Errorf("%d values do not fit the count field", len(vec))
	}
	p.f32Buffer = p.f32Buffer[:0]
	for _, v := range vec {
		p.f32Buffer = append(p.f32Buffer, float32(v))
	}

	p.sequenceNum++
	p.packetBuffer.Reset()
	err := binary.Write(p.packetBuffer, binary.BigEndian, p.sequenceNum)
	if err == nil {
		err = binary.Write(p.packetBuffer, binary.BigEndian, now.UnixNano())
	}
	if err == nil {
		err = binary.Write(p.packetBuffer, binary.BigEndian, uint16(len(p.f32Buffer)))
	}
	if err == nil {
		err = binary.Write(p.packetBuffer, binary.BigEndian, p.f32Buffer)
	}
	if err != nil {
		return nil, err
	}
	return p.packetBuffer.Bytes(), nil
}

// Packet is a decoded datagram.
type Packet struct {
	Sequence  uint32
	Timestamp time.Time
	Values    []float32
}

// DecodePacket parses one datagram produced by UDPPublisher.
func DecodePacket(b []byte) (Packet, error) {
	if len(b) < HeaderSize {
		return Packet{}, fmt.Errorf("udp: packet of %d bytes is shorter than the header", len(b))
	}
	count := int(binary.BigEndian.Uint16(b[12:14]))
	if len(b) != HeaderSize+4*count {
		return Packet{}, fmt.Errorf("udp: packet of %d bytes does not hold %d values", len(b), count)
	}
	pkt := Packet{
		Sequence:  binary.BigEndian.Uint32(b[0:4]),
		Timestamp: time.Unix(0, int64(binary.BigEndian.Uint64(b[4:12]))),
		Values:    make([]float32, count),
	}
	if err := binary.Read(bytes.NewReader(b[HeaderSize:]), binary.BigEndian, pkt.Values); err != nil {
		return Packet{}, err
	}
	return pkt, nil
}

// Close stops the publisher.
func (p *UDPPublisher) Close() error {
	return p.Stop()
}

var _ interface{ Close() error } = (*UDPPublisher)(nil)
