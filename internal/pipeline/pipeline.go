// SPDX-License-Identifier: MIT
/*
Package pipeline wires an audio source through the band analyzer into the
feed and out to every enabled sink.

	source -> analyzer -> feed -> { broadcast server, websocket, udp, log }
	                               announcers run alongside

Everything that can fail because of configuration fails in New, before a
socket is listening. Run then owns the goroutines: when the source ends or
fails, or ctx is cancelled, every sink is shut down in order and Run
returns.
*/
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"bandcast/internal/analysis"
	"bandcast/internal/announce"
	"bandcast/internal/audio"
	"bandcast/internal/audio/device"
	"bandcast/internal/config"
	"bandcast/internal/feed"
	applog "bandcast/internal/log"
	"bandcast/internal/protocol"
	"bandcast/internal/server"
	"bandcast/internal/transport"
	"bandcast/internal/transport/udp"

	"golang.org/x/sync/errgroup"
)

var logger = applog.New("Pipeline")

// Pipeline is one configured run of the feed.
type Pipeline struct {
	cfg       *config.Config
	protocol  protocol.ServerConfig
	analyzer  *analysis.Analyzer
	source    audio.Source
	feed      *feed.Broadcaster
	listener  net.Listener
	server    *server.Server
	websocket *transport.WebSocketTransport
	udpSender *udp.UDPSender
	publisher *udp.UDPPublisher
	sinks     []transport.Transport
	announce  []announce.Announcer
}

// BandTable builds the analyzer's band table from cfg. With EMA disabled
// every band uses alpha 1, so each value is the instantaneous loudness.
func BandTable(cfg config.AnalysisConfig) (*analysis.BandTable, error) {
	bands := analysis.DefaultBands(cfg.BaseAlpha)
	if !cfg.EMAEnabled {
		for i := range bands {
			bands[i].Alpha = 1
		}
	}
	return analysis.NewBandTable(bands)
}

// New validates cfg, opens the audio source and binds every listener. ctx
// bounds the lifetime of a paced file or tone source.
func New(ctx context.Context, cfg *config.Config) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	var (
		src audio.Source
		err error
	)
	if cfg.Audio.Source == config.SourceDevice {
		src, err = device.Open(cfg.Audio, cfg.Analysis.SampleRate)
	} else {
		src, err = audio.Open(ctx, cfg.Audio, cfg.Analysis.SampleRate)
	}
	if err != nil {
		return nil, fmt.Errorf("open audio source: %w", err)
	}

	var ln net.Listener
	if cfg.Server.Enabled {
		ln, err = net.Listen("tcp", cfg.ListenAddress())
		if err != nil {
			src.Close()
			return nil, fmt.Errorf("listen on %s: %w", cfg.ListenAddress(), err)
		}
	}

	p, err := newPipeline(cfg, src, ln)
	if err != nil {
		src.Close()
		if ln != nil {
			ln.Close()
		}
		return nil, err
	}
	return p, nil
}

// newPipeline builds everything downstream of an open source and listener.
// ln may be nil when the TCP server is disabled.
func newPipeline(cfg *config.Config, src audio.Source, ln net.Listener) (*Pipeline, error) {
	table, err := BandTable(cfg.Analysis)
	if err != nil {
		return nil, err
	}
	window, err := analysis.ParseWindowFunc(cfg.Audio.Window)
	if err != nil {
		logger.Warnf("%v, using %s", err, window)
	}
	analyzer, err := analysis.NewAnalyzer(table, window)
	if err != nil {
		return nil, err
	}
	pc, err := protocol.NewServerConfig(cfg.Analysis.SampleRate, table.Len())
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		cfg:      cfg,
		protocol: pc,
		analyzer: analyzer,
		source:   src,
		feed:     feed.NewBroadcaster(),
		listener: ln,
	}

	if ln != nil {
		p.server, err = server.New(server.OptionsFromConfig(pc, cfg.Server), p.feed.Subscribe())
		if err != nil {
			return nil, err
		}
	}

	if cfg.WebSocket.Enabled {
		p.websocket = transport.NewWebSocketTransport(cfg.WebSocket.Address, cfg.WebSocket.Path, pc)
		if err := p.websocket.Start(); err != nil {
			return nil, err
		}
		p.sinks = append(p.sinks, p.websocket)
	}
	if cfg.Debug {
		p.sinks = append(p.sinks, transport.NewLoggingTransport())
	}

	if cfg.UDP.Enabled {
		p.udpSender, err = udp.NewUDPSender(cfg.UDP.TargetAddress)
		if err != nil {
			p.closeSinks()
			return nil, err
		}
		p.publisher, err = udp.NewUDPPublisher(cfg.UDP.SendInterval, p.udpSender, p.feed)
		if err != nil {
			p.closeSinks()
			return nil, err
		}
	}

	if cfg.Server.Enabled && (cfg.Announce.MDNSEnabled || cfg.Announce.RedisEnabled) {
		a := announce.NewAnnouncement(cfg.Announce.Name, cfg.Server.Host, cfg.Server.Port, pc)
		if cfg.Announce.MDNSEnabled {
			p.announce = append(p.announce, announce.NewMDNSAnnouncer(cfg.Announce.MDNSService, a))
		}
		if cfg.Announce.RedisEnabled {
			p.announce = append(p.announce, announce.NewRedisAnnouncer(
				cfg.Announce.RedisAddress, cfg.Announce.RedisChannel, cfg.Announce.Interval, a))
		}
	}
	return p, nil
}

// Feed returns the broadcaster the analyzer publishes to.
func (p *Pipeline) Feed() *feed.Broadcaster { return p.feed }

// Addr returns the TCP server's address, or nil when it is disabled.
func (p *Pipeline) Addr() net.Addr {
	if p.listener == nil {
		return nil
	}
	return p.listener.Addr()
}

// Run produces and distributes vectors until the source is exhausted, the
// source fails or ctx is done. Exhaustion and cancellation return nil.
func (p *Pipeline) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	if p.server != nil {
		g.Go(func() error { return p.server.Serve(gctx, p.listener) })
	}
	for _, sink := range p.sinks {
		sub := p.feed.Subscribe()
		g.Go(func() error { return transport.Pump(gctx, sub, sink) })
	}
	if p.publisher != nil {
		p.publisher.Start()
	}
	if len(p.announce) > 0 {
		g.Go(func() error {
			announce.Run(gctx, p.announce...)
			return nil
		})
	}

	g.Go(func() error {
		defer p.feed.Close()
		err := p.produce(gctx)
		// The sinks follow the producer down.
		cancel()
		return err
	})

	err := g.Wait()
	p.closeSinks()
	if cerr := p.source.Close(); cerr != nil {
		logger.Warnf("closing audio source: %v", cerr)
	}
	if p.udpSender != nil {
		st := p.udpSender.Stats()
		logger.Infof("pushed %d datagrams to %s", st.Packets, p.udpSender.Target())
	}
	if p.server != nil {
		st := p.server.Stats()
		logger.Infof("published %d vectors, served %d clients (%d rejected, %d removed)",
			p.feed.Published(), st.Accepted, st.Rejected, st.Removed)
	}
	return err
}

// produce pulls chunks until the source ends. It returns nil for the end
// of the stream and for cancellation.
func (p *Pipeline) produce(ctx context.Context) error {
	var (
		vec     analysis.LoudnessVector
		chunks  uint64
		started = time.Now()
	)
	for {
		if ctx.Err() != nil {
			return nil
		}
		chunk, err := p.source.Next()
		switch {
		case errors.Is(err, io.EOF):
			logger.Infof("audio source exhausted after %d chunks in %s, shutting down",
				chunks, time.Since(started).Round(time.Millisecond))
			return nil
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return nil
		case err != nil:
			return fmt.Errorf("audio source: %w", err)
		}
		chunks++

		vec, err = p.analyzer.AnalyzeInto(vec, chunk)
		if errors.Is(err, analysis.ErrEmptyChunk) {
			continue
		}
		if err != nil {
			return fmt.Errorf("analyze chunk %d: %w", chunks, err)
		}
		p.feed.Publish(vec)
	}
}

func (p *Pipeline) closeSinks() {
	if p.publisher != nil {
		p.publisher.Stop()
	}
	if p.udpSender != nil {
		p.udpSender.Close()
	}
	for _, sink := range p.sinks {
		if err := sink.Close(); err != nil {
			logger.Warnf("closing %T: %v", sink, err)
		}
	}
}

// Run builds a pipeline from cfg and runs it until ctx is done or the
// source ends.
func Run(ctx context.Context, cfg *config.Config) error {
	p, err := New(ctx, cfg)
	if err != nil {
		return err
	}
	return p.Run(ctx)
}
