// SPDX-License-Identifier: MIT
package config

import "time"

// Core configuration constants that define the boundaries and defaults
// for the analysis and broadcast pipeline.
const (
	DefaultLogLevel     = "info"
	DefaultSource       = SourceTone
	DefaultInputDevice  = MinDeviceID // System default device
	DefaultChannels     = 1
	DefaultDeviceRate   = 44100
	DefaultWindow       = "Hamming"
	DefaultSampleRate   = 20  // FFT emissions per second
	DefaultBaseAlpha    = 0.5 // Per-band alphas are offsets from this
	DefaultHost         = "0.0.0.0"
	DefaultPort         = 12345
	DefaultWSAddress    = ":8080"
	DefaultWSPath       = "/bands"
	DefaultUDPTarget    = "127.0.0.1:9090"
	DefaultUDPInterval  = 50 * time.Millisecond
	DefaultMDNSService  = "_bandcast._tcp"
	DefaultRedisAddress = "127.0.0.1:6379"
	DefaultRedisChannel = "bandcast.announce"
	DefaultAnnounceTick = 5 * time.Second
	DefaultClientAddr   = "127.0.0.1:12345"

	// Broadcast server timing, taken from the reference deployment.
	DefaultHandshakeTimeout  = time.Second
	DefaultWriteTimeout      = 50 * time.Millisecond
	DefaultDrainInterval     = time.Second
	DefaultDrainTimeout      = 50 * time.Millisecond
	DefaultCloseGrace        = time.Second
	DefaultShutdownTimeout   = 5 * time.Second
	DefaultIdleInterval      = time.Millisecond
	DefaultClientReadTimeout = 50 * time.Millisecond

	// Hardware and protocol limits.
	MinDeviceID   = -1  // -1 represents system default device
	MinSampleRate = 1   // At least one emission per second
	MaxSampleRate = 127 // Travels as a signed byte in the handshake
	MaxBandCount  = 127 // Travels as a signed byte in the handshake
)

// Audio source kinds.
const (
	SourceFile   = "file"
	SourceDevice = "device"
	SourceTone   = "tone"
)

// Commands dispatched by main.
const (
	CommandServe   = "serve"
	CommandClient  = "client"
	CommandDevices = "devices"
	CommandVersion = "version"
)

// Config represents the main application configuration structure, loaded from YAML.
type Config struct {
	Debug      bool            `yaml:"debug"`             // Enable debug mode (per-frame logging, logging transport).
	LogLevel   string          `yaml:"log_level"`         // Logging level (e.g., "debug", "info", "warn", "error").
	Command    string          `yaml:"command,omitempty"` // Command selected on the command line.
	PickDevice bool            `yaml:"-"`                 // Run the interactive device picker for `devices`.
	Audio      AudioConfig     `yaml:"audio"`             // Audio source settings.
	Analysis   AnalysisConfig  `yaml:"analysis"`          // Band analyzer settings.
	Server     ServerConfig    `yaml:"server"`            // TCP broadcast server settings.
	WebSocket  WebSocketConfig `yaml:"websocket"`         // Optional websocket mirror.
	UDP        UDPConfig       `yaml:"udp"`               // Optional UDP push.
	Announce   AnnounceConfig  `yaml:"announce"`          // Optional service announcement.
	Client     ClientConfig    `yaml:"client"`            // Settings for the `client` command.
}

// AudioConfig selects where PCM chunks come from.
type AudioConfig struct {
	Source        string  `yaml:"source"`             // One of "file", "device", "tone".
	File          string  `yaml:"file"`               // Path to a .wav, .mp3 or .flac file.
	InputDevice   int     `yaml:"input_device"`       // PortAudio device index (-1 for default).
	InputChannels int     `yaml:"input_channels"`     // Channels captured from the device.
	DeviceRate    int     `yaml:"device_sample_rate"` // Device capture rate in Hz.
	Window        string  `yaml:"window"`             // Window function for the FFT (e.g. "Hamming", "Hann").
	ToneHz        float64 `yaml:"tone_hz"`            // Frequency of the synthetic tone source.
	LowLatency    bool    `yaml:"low_latency"`        // Use the device's low input latency.
}

// AnalysisConfig holds band analyzer settings.
type AnalysisConfig struct {
	SampleRate int     `yaml:"sample_rate"` // Loudness vectors produced per second.
	BaseAlpha  float64 `yaml:"base_alpha"`  // EMA base alpha, bands add their own offset.
	EMAEnabled bool    `yaml:"ema_enabled"` // Disable to emit unsmoothed loudness.
}

// ServerConfig holds TCP broadcast server settings.
type ServerConfig struct {
	Enabled          bool          `yaml:"enabled"`
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	DrainInterval    time.Duration `yaml:"drain_interval"`
	DrainTimeout     time.Duration `yaml:"drain_timeout"`
	CloseGrace       time.Duration `yaml:"close_grace"`
	ShutdownTimeout  time.Duration `yaml:"shutdown_timeout"`
	IdleInterval     time.Duration `yaml:"idle_interval"`
}

// WebSocketConfig holds the websocket mirror settings.
type WebSocketConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
	Path    string `yaml:"path"`
}

// UDPConfig holds settings for pushing vectors as UDP datagrams.
type UDPConfig struct {
	Enabled       bool          `yaml:"enabled"`
	TargetAddress string        `yaml:"target_address"`
	SendInterval  time.Duration `yaml:"send_interval"`
}

// AnnounceConfig holds service announcement settings.
type AnnounceConfig struct {
	Name         string        `yaml:"name"`
	MDNSEnabled  bool          `yaml:"mdns_enabled"`
	MDNSService  string        `yaml:"mdns_service"`
	RedisEnabled bool          `yaml:"redis_enabled"`
	RedisAddress string        `yaml:"redis_address"`
	RedisChannel string        `yaml:"redis_channel"`
	Interval     time.Duration `yaml:"interval"`
}

// ClientConfig holds settings for the bundled feed client.
type ClientConfig struct {
	Address     string        `yaml:"address"`
	ReadTimeout time.Duration `yaml:"read_timeout"`
	TUI         bool          `yaml:"tui"`
}

// NewConfig creates a new Config instance with default values. This is the
// base configuration before a config file, the environment and command line
// flags are applied.
func NewConfig() *Config {
	return &Config{
		LogLevel: DefaultLogLevel,
		Command:  CommandServe,
		Audio: AudioConfig{
			Source:        DefaultSource,
			InputDevice:   DefaultInputDevice,
			InputChannels: DefaultChannels,
			DeviceRate:    DefaultDeviceRate,
			Window:        DefaultWindow,
			ToneHz:        440,
		},
		Analysis: AnalysisConfig{
			SampleRate: DefaultSampleRate,
			BaseAlpha:  DefaultBaseAlpha,
			EMAEnabled: true,
		},
		Server: ServerConfig{
			Enabled:          true,
			Host:             DefaultHost,
			Port:             DefaultPort,
			HandshakeTimeout: DefaultHandshakeTimeout,
			WriteTimeout:     DefaultWriteTimeout,
			DrainInterval:    DefaultDrainInterval,
			DrainTimeout:     DefaultDrainTimeout,
			CloseGrace:       DefaultCloseGrace,
			ShutdownTimeout:  DefaultShutdownTimeout,
			IdleInterval:     DefaultIdleInterval,
		},
		WebSocket: WebSocketConfig{
			Address: DefaultWSAddress,
			Path:    DefaultWSPath,
		},
		UDP: UDPConfig{
			TargetAddress: DefaultUDPTarget,
			SendInterval:  DefaultUDPInterval,
		},
		Announce: AnnounceConfig{
			Name:         "bandcast",
			MDNSService:  DefaultMDNSService,
			RedisAddress: DefaultRedisAddress,
			RedisChannel: DefaultRedisChannel,
			Interval:     DefaultAnnounceTick,
		},
		Client: ClientConfig{
			Address:     DefaultClientAddr,
			ReadTimeout: DefaultClientReadTimeout,
		},
	}
}
