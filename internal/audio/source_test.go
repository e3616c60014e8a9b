// SPDX-License-Identifier: MIT
package audio_test

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"bandcast/internal/audio"
	"bandcast/internal/audiotest"
	"bandcast/internal/config"
)

func TestChunkFrames(t *testing.T) {
	tests := []struct {
		frameRate, sampleRate, want int
	}{
		{44100, 20, 2208},
		{48000, 20, 2432},
		{8000, 20, 416},
		{44100, 127, 352},
		{64, 2, 64},
		{0, 20, 32},
		{44100, 0, 32},
	}
	for _, tt := range tests {
		if got := audio.ChunkFrames(tt.frameRate, tt.sampleRate); got != tt.want {
			t.Errorf("ChunkFrames(%d, %d) = %d, want %d", tt.frameRate, tt.sampleRate, got, tt.want)
		}
		if got := audio.ChunkFrames(tt.frameRate, tt.sampleRate); got%32 != 0 {
			t.Errorf("ChunkFrames(%d, %d) = %d is not a multiple of 32", tt.frameRate, tt.sampleRate, got)
		}
	}
}

func TestChunkFramesCount(t *testing.T) {
	c := audio.Chunk{Data: make([]byte, 10), SampleWidth: 2, Channels: 2}
	if c.Frames() != 2 {
		t.Errorf("Frames() = %d, want 2", c.Frames())
	}
	if (audio.Chunk{Data: make([]byte, 4)}).Frames() != 0 {
		t.Errorf("Frames() without a format should be 0")
	}
}

func readAll(t *testing.T, src audio.Source) []audio.Chunk {
	t.Helper()
	var chunks []audio.Chunk
	for {
		c, err := src.Next()
		if errors.Is(err, io.EOF) {
			return chunks
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		c.Data = append([]byte(nil), c.Data...)
		chunks = append(chunks, c)
	}
}

func TestWAVSource16Bit(t *testing.T) {
	samples := make([]int, 1000)
	for i := range samples {
		samples[i] = i - 500
	}
	path := audiotest.WriteWAV(t, 8000, 16, 1, samples)

	src, err := audio.OpenFile(path, 20)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer src.Close()

	chunks := readAll(t, src)
	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want 3", len(chunks))
	}
	for i, want := range []int{416, 416, 168} {
		c := chunks[i]
		if c.Frames() != want || c.SampleWidth != 2 || c.Channels != 1 || c.FrameRate != 8000 {
			t.Errorf("chunk %d = %d frames, width %d, %d channels, %d Hz",
				i, c.Frames(), c.SampleWidth, c.Channels, c.FrameRate)
		}
	}
	if got := int16(binary.LittleEndian.Uint16(chunks[0].Data)); got != -500 {
		t.Errorf("first sample = %d, want -500", got)
	}
	if got := int16(binary.LittleEndian.Uint16(chunks[2].Data[2*167:])); got != 499 {
		t.Errorf("last sample = %d, want 499", got)
	}
}

func TestWAVSourceStereo(t *testing.T) {
	samples := []int{100, -100, 200, -200, 300, -300}
	path := audiotest.WriteWAV(t, 8000, 16, 2, samples)

	src, err := audio.OpenWAV(path, 32)
	if err != nil {
		t.Fatalf("OpenWAV: %v", err)
	}
	defer src.Close()

	chunks := readAll(t, src)
	if len(chunks) != 1 || chunks[0].Channels != 2 || chunks[0].Frames() != 3 {
		t.Fatalf("chunks = %+v", chunks)
	}
	if got := int16(binary.LittleEndian.Uint16(chunks[0].Data[2:])); got != -100 {
		t.Errorf("second sample = %d, want -100", got)
	}
}

func TestWAVSource8BitIsSigned(t *testing.T) {
	// 8-bit WAV is unsigned with 128 as silence.
	path := audiotest.WriteWAV(t, 8000, 8, 1, []int{128, 228, 28})

	src, err := audio.OpenWAV(path, 32)
	if err != nil {
		t.Fatalf("OpenWAV: %v", err)
	}
	defer src.Close()

	c, err := src.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if c.SampleWidth != 1 {
		t.Fatalf("SampleWidth = %d, want 1", c.SampleWidth)
	}
	want := []int8{0, 100, -100}
	for i, w := range want {
		if got := int8(c.Data[i]); got != w {
			t.Errorf("sample %d = %d, want %d", i, got, w)
		}
	}
}

func TestWAVSource24BitRequantized(t *testing.T) {
	path := audiotest.WriteWAV(t, 8000, 24, 1, []int{0x123400, -256 * 100})

	src, err := audio.OpenWAV(path, 32)
	if err != nil {
		t.Fatalf("OpenWAV: %v", err)
	}
	defer src.Close()

	c, err := src.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if c.SampleWidth != 2 {
		t.Fatalf("SampleWidth = %d, want 2", c.SampleWidth)
	}
	if got := int16(binary.LittleEndian.Uint16(c.Data)); got != 0x1234 {
		t.Errorf("first sample = %#x, want 0x1234", got)
	}
	if got := int16(binary.LittleEndian.Uint16(c.Data[2:])); got != -100 {
		t.Errorf("second sample = %d, want -100", got)
	}
}

func TestOpenFileErrors(t *testing.T) {
	dir := t.TempDir()
	junk := func(name string) string {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte("definitely not audio"), 0o644); err != nil {
			t.Fatal(err)
		}
		return path
	}

	if _, err := audio.OpenFile(junk("notes.txt"), 20); !errors.Is(err, audio.ErrUnsupportedFormat) {
		t.Errorf("unknown extension: err = %v, want ErrUnsupportedFormat", err)
	}
	if _, err := audio.OpenFile(junk("bad.wav"), 20); err == nil {
		t.Errorf("invalid WAV should fail")
	}
	if _, err := audio.OpenFile(junk("bad.mp3"), 20); err == nil {
		t.Errorf("invalid MP3 should fail")
	}
	if _, err := audio.OpenFile(junk("bad.flac"), 20); err == nil {
		t.Errorf("invalid FLAC should fail")
	}
	if _, err := audio.OpenFile(filepath.Join(dir, "missing.wav"), 20); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("missing file: err = %v", err)
	}
}

func TestToneSource(t *testing.T) {
	src := audio.NewToneSource(1000, 1, 8000, 64, 150)
	chunks := readAll(t, src)
	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want 3", len(chunks))
	}
	if chunks[2].Frames() != 22 {
		t.Errorf("last chunk = %d frames, want 22", chunks[2].Frames())
	}

	// 1 kHz at 8 kHz: a quarter period is two samples.
	if got := int16(binary.LittleEndian.Uint16(chunks[0].Data[4:])); got < 32000 {
		t.Errorf("sample at the crest = %d, want near full scale", got)
	}
	// Phase carries across chunk boundaries: 64 samples is eight periods.
	if got := int16(binary.LittleEndian.Uint16(chunks[1].Data[4:])); got < 32000 {
		t.Errorf("crest in second chunk = %d", got)
	}
}

func TestPacedSource(t *testing.T) {
	src := audio.Paced(context.Background(), audio.NewToneSource(100, 0.5, 1000, 50, 150))

	start := time.Now()
	chunks := readAll(t, src)
	elapsed := time.Since(start)
	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want 3", len(chunks))
	}
	// Three 50ms chunks, the first is released immediately.
	if elapsed < 90*time.Millisecond {
		t.Errorf("paced read took %s, want at least 100ms", elapsed)
	}
}

func TestPacedSourceCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	src := audio.Paced(ctx, audio.NewToneSource(100, 0.5, 1000, 1000, 0))
	if _, err := src.Next(); err != nil {
		t.Fatalf("first Next: %v", err)
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	start := time.Now()
	if _, err := src.Next(); !errors.Is(err, context.Canceled) {
		t.Errorf("Next() = %v, want context.Canceled", err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Errorf("cancel did not interrupt the wait")
	}
}

func TestOpen(t *testing.T) {
	cfg := config.NewConfig().Audio
	src, err := audio.Open(context.Background(), cfg, 20)
	if err != nil {
		t.Fatalf("Open(tone): %v", err)
	}
	c, err := src.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if c.Frames() != 2208 || c.FrameRate != 44100 {
		t.Errorf("tone chunk = %d frames at %d Hz", c.Frames(), c.FrameRate)
	}
	src.Close()

	cfg.Source = config.SourceDevice
	if _, err := audio.Open(context.Background(), cfg, 20); !errors.Is(err, audio.ErrUnsupportedFormat) {
		t.Errorf("Open(device) = %v, want ErrUnsupportedFormat", err)
	}
}
