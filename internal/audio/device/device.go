// SPDX-License-Identifier: MIT
/*
Package device captures live PCM from a PortAudio input device.

Initialize must be called before any other function and paired with
Terminate. Source does both itself, so the pipeline only has to Open
and Close it.
*/
package device

import (
	"errors"
	"fmt"
	"io"
	"time"

	"bandcast/internal/audio"
	"bandcast/internal/config"
	applog "bandcast/internal/log"

	"github.com/gordonklaus/portaudio"
)

var logger = applog.New("AudioDevice")

// PortAudio entry points, swapped out in tests.
var (
	paLibInitialize             = portaudio.Initialize
	paLibTerminate              = portaudio.Terminate
	paLibDevicesFunc            = portaudio.Devices
	paLibDefaultInputDeviceFunc = portaudio.DefaultInputDevice
)

// Device describes one host audio device.
type Device struct {
	ID                int
	Name              string
	MaxInputChannels  int
	MaxOutputChannels int
	DefaultSampleRate float64
	LowInputLatency   time.Duration
	HighInputLatency  time.Duration
}

// Kind reports whether the device captures, plays or both.
func (d Device) Kind() string {
	switch {
	case d.MaxInputChannels > 0 && d.MaxOutputChannels > 0:
		return "Input/Output"
	case d.MaxInputChannels > 0:
		return "Input"
	case d.MaxOutputChannels > 0:
		return "Output"
	default:
		return ""
	}
}

// Initialize sets up the PortAudio subsystem.
func Initialize() error {
	if err := paLibInitialize(); err != nil {
		return fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	return nil
}

// Terminate shuts the PortAudio subsystem down.
func Terminate() error {
	if err := paLibTerminate(); err != nil {
		return fmt.Errorf("failed to terminate PortAudio: %w", err)
	}
	return nil
}

// HostDevices returns every device PortAudio knows about, indexed by ID.
func HostDevices() ([]Device, error) {
	infos, err := paDevices()
	if err != nil {
		return nil, err
	}
	devices := make([]Device, len(infos))
	for i, info := range infos {
		devices[i] = Device{
			ID:                i,
			Name:              info.Name,
			MaxInputChannels:  info.MaxInputChannels,
			MaxOutputChannels: info.MaxOutputChannels,
			DefaultSampleRate: info.DefaultSampleRate,
			LowInputLatency:   info.DefaultLowInputLatency,
			HighInputLatency:  info.DefaultHighInputLatency,
		}
	}
	return devices, nil
}

// InputDevice returns the device for deviceID, or the system default input
// when deviceID is config.MinDeviceID.
func InputDevice(deviceID int) (*portaudio.DeviceInfo, error) {
	devices, err := paDevices()
	if err != nil {
		return nil, err
	}

	if deviceID == config.MinDeviceID {
		return paLibDefaultInputDeviceFunc()
	}
	if deviceID < 0 || deviceID >= len(devices) {
		return nil, fmt.Errorf("invalid device ID: %d", deviceID)
	}
	if devices[deviceID].MaxInputChannels <= 0 {
		return nil, fmt.Errorf("device %d (%s) does not support input", deviceID, devices[deviceID].Name)
	}
	return devices[deviceID], nil
}

// ListDevices initializes PortAudio and writes a description of every
// device to w.
func ListDevices(w io.Writer) error {
	if err := Initialize(); err != nil {
		return err
	}
	defer Terminate()

	devices, err := HostDevices()
	if err != nil {
		return err
	}
	return WriteDevices(w, devices)
}

// WriteDevices formats devices the way the devices command prints them.
func WriteDevices(w io.Writer, devices []Device) error {
	if _, err := fmt.Fprintf(w, "\nAvailable Audio Devices\n\n"); err != nil {
		return err
	}
	for _, d := range devices {
		_, err := fmt.Fprintf(w, "[%d] %s (%s)\n"+
			"    Input channels: %d, Output channels: %d\n"+
			"    Default sample rate: %.0f Hz\n"+
			"    Latency: Low=%.2fms, High=%.2fms\n\n",
			d.ID, d.Name, d.Kind(),
			d.MaxInputChannels, d.MaxOutputChannels,
			d.DefaultSampleRate,
			d.LowInputLatency.Seconds()*1000, d.HighInputLatency.Seconds()*1000)
		if err != nil {
			return err
		}
	}
	return nil
}

func paDevices() ([]*portaudio.DeviceInfo, error) {
	devices, err := paLibDevicesFunc()
	if err != nil {
		return nil, err
	}
	if devices == nil {
		devices = []*portaudio.DeviceInfo{}
	}
	return devices, nil
}

// Source reads blocking 16-bit chunks from an input device.
type Source struct {
	stream   *portaudio.Stream
	in       []int16
	data     []byte
	channels int
	rate     int
}

// Open initializes PortAudio and starts capturing from the configured
// device. Each chunk covers one analysis period at sampleRate vectors per
// second.
func Open(cfg config.AudioConfig, sampleRate int) (*Source, error) {
	if err := Initialize(); err != nil {
		return nil, err
	}

	s, err := open(cfg, sampleRate)
	if err != nil {
		Terminate()
		return nil, err
	}
	return s, nil
}

func open(cfg config.AudioConfig, sampleRate int) (*Source, error) {
	info, err := InputDevice(cfg.InputDevice)
	if err != nil {
		return nil, err
	}

	latency := info.DefaultHighInputLatency
	if cfg.LowLatency {
		latency = info.DefaultLowInputLatency
	}

	frames := audio.ChunkFrames(cfg.DeviceRate, sampleRate)
	s := &Source{
		in:       make([]int16, frames*cfg.InputChannels),
		data:     make([]byte, 0, frames*cfg.InputChannels*2),
		channels: cfg.InputChannels,
		rate:     cfg.DeviceRate,
	}

	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   info,
			Channels: cfg.InputChannels,
			Latency:  latency,
		},
		FramesPerBuffer: frames,
		SampleRate:      float64(cfg.DeviceRate),
	}
	stream, err := portaudio.OpenStream(params, s.in)
	if err != nil {
		return nil, fmt.Errorf("failed to open input stream on %s: %w", info.Name, err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("failed to start input stream on %s: %w", info.Name, err)
	}
	s.stream = stream

	logger.Infof("capturing from %s: %d channels at %d Hz, %d frames per chunk",
		info.Name, cfg.InputChannels, cfg.DeviceRate, frames)
	return s, nil
}

// Next blocks until one chunk has been captured. Input overflows are
// logged and the chunk is still returned.
func (s *Source) Next() (audio.Chunk, error) {
	if err := s.stream.Read(); err != nil {
		if !errors.Is(err, portaudio.InputOverflowed) {
			return audio.Chunk{}, fmt.Errorf("failed to read input stream: %w", err)
		}
		logger.Warnf("input overflowed, samples were lost")
	}

	s.data = s.data[:0]
	for _, v := range s.in {
		u := uint16(v)
		s.data = append(s.data, byte(u), byte(u>>8))
	}
	return audio.Chunk{Data: s.data, SampleWidth: 2, Channels: s.channels, FrameRate: s.rate}, nil
}

// Close stops the stream and terminates PortAudio.
func (s *Source) Close() error {
	var errs []error
	if s.stream != nil {
		errs = append(errs, s.stream.Stop(), s.stream.Close())
		s.stream = nil
	}
	errs = append(errs, Terminate())
	return errors.Join(errs...)
}
