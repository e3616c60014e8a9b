// SPDX-License-Identifier: MIT
package audio

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"bandcast/internal/config"
	applog "bandcast/internal/log"
)

var logger = applog.New("AudioSource")

// PacedSource releases chunks no faster than real time, so a file feeds the
// pipeline at playback speed.
type PacedSource struct {
	ctx    context.Context
	src    Source
	start  time.Time
	played time.Duration
}

// Paced wraps src. Next returns ctx.Err() once ctx is done.
func Paced(ctx context.Context, src Source) *PacedSource {
	return &PacedSource{ctx: ctx, src: src}
}

// Next waits until the previous chunk would have finished playing, then
// returns the next one.
func (p *PacedSource) Next() (Chunk, error) {
	if p.start.IsZero() {
		p.start = time.Now()
	}
	if wait := time.Until(p.start.Add(p.played)); wait > 0 {
		timer := time.NewTimer(wait)
		select {
		case <-p.ctx.Done():
			timer.Stop()
			return Chunk{}, p.ctx.Err()
		case <-timer.C:
		}
	} else if err := p.ctx.Err(); err != nil {
		return Chunk{}, err
	}

	c, err := p.src.Next()
	if err != nil {
		return c, err
	}
	if c.FrameRate > 0 {
		p.played += time.Duration(c.Frames()) * time.Second / time.Duration(c.FrameRate)
	}
	return c, nil
}

// Close closes the wrapped source.
func (p *PacedSource) Close() error { return p.src.Close() }

// Open returns a paced file or tone source for cfg. Each chunk covers one
// analysis period at sampleRate vectors per second. Device capture is
// opened by the device package.
func Open(ctx context.Context, cfg config.AudioConfig, sampleRate int) (Source, error) {
	var (
		src Source
		err error
	)
	switch cfg.Source {
	case config.SourceTone:
		frames := ChunkFrames(cfg.DeviceRate, sampleRate)
		src = NewToneSource(cfg.ToneHz, 0.5, cfg.DeviceRate, frames, 0)
		logger.Infof("synthesizing %.0f Hz tone at %d Hz, %d frames per chunk", cfg.ToneHz, cfg.DeviceRate, frames)
	case config.SourceFile:
		src, err = OpenFile(cfg.File, sampleRate)
	default:
		return nil, fmt.Errorf("%w: source %q", ErrUnsupportedFormat, cfg.Source)
	}
	if err != nil {
		return nil, err
	}
	return Paced(ctx, src), nil
}

// fileSource is a decoder that knows its frame rate after opening.
type fileSource interface {
	Source
	FrameRate() int
}

// OpenFile picks a decoder by extension. Chunks are sized for sampleRate
// vectors per second at the file's own frame rate.
func OpenFile(path string, sampleRate int) (Source, error) {
	ext := strings.ToLower(filepath.Ext(path))

	// The frame rate is only known once the header is read, so read it with a
	// throwaway decoder and size the real one from there.
	header, err := openDecoder(ext, path, 32)
	if err != nil {
		return nil, err
	}
	rate := header.FrameRate()
	header.Close()

	frames := ChunkFrames(rate, sampleRate)
	logger.Infof("decoding %s at %d Hz, %d frames per chunk", path, rate, frames)
	return openDecoder(ext, path, frames)
}

func openDecoder(ext, path string, frames int) (fileSource, error) {
	var (
		src fileSource
		err error
	)
	switch ext {
	case ".wav":
		var s *WAVSource
		s, err = OpenWAV(path, frames)
		src = s
	case ".mp3":
		var s *MP3Source
		s, err = OpenMP3(path, frames)
		src = s
	case ".flac":
		var s *FLACSource
		s, err = OpenFLAC(path, frames)
		src = s
	default:
		return nil, fmt.Errorf("%w: file extension %q", ErrUnsupportedFormat, ext)
	}
	if err != nil {
		return nil, err
	}
	return src, nil
}
