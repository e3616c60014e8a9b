// SPDX-License-Identifier: MIT
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	applog "bandcast/internal/log"

	"gopkg.in/yaml.v3"
)

// searchPaths are tried in order when LoadConfig is given an empty path.
var searchPaths = []string{
	"bandcast.yaml",
	"config.yaml",
}

// LoadConfig loads configuration from a YAML file specified by path. If path is empty,
// it searches default locations. If no file is found, it uses built-in defaults.
// After loading defaults or from file, it applies environment variable overrides
// and validates the final configuration.
func LoadConfig(path string) (*Config, error) {
	cfg := NewConfig()

	if path == "" {
		for _, candidate := range searchPaths {
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
		applog.Debugf("configuration: loaded %s", path)
	}

	// Apply environment variable overrides AFTER loading from file.
	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate reports the first configuration problem found. Everything checked
// here is fatal at startup, nothing is retried at runtime.
func (c *Config) Validate() error {
	if _, ok := applog.ParseLevel(c.LogLevel); !ok {
		return fmt.Errorf("log_level %q is not a known level", c.LogLevel)
	}

	if c.Analysis.SampleRate < MinSampleRate || c.Analysis.SampleRate > MaxSampleRate {
		return fmt.Errorf("analysis.sample_rate must be between %d and %d, got %d",
			MinSampleRate, MaxSampleRate, c.Analysis.SampleRate)
	}
	if c.Analysis.BaseAlpha <= 0 || c.Analysis.BaseAlpha >= 1 {
		return fmt.Errorf("analysis.base_alpha must be in (0, 1), got %g", c.Analysis.BaseAlpha)
	}

	switch c.Audio.Source {
	case SourceFile:
		if c.Audio.File == "" {
			return fmt.Errorf("audio.file must be set when audio.source is %q", SourceFile)
		}
	case SourceDevice:
		if c.Audio.InputDevice < MinDeviceID {
			return fmt.Errorf("audio.input_device must be >= %d, got %d", MinDeviceID, c.Audio.InputDevice)
		}
		if c.Audio.InputChannels < 1 {
			return fmt.Errorf("audio.input_channels must be positive, got %d", c.Audio.InputChannels)
		}
		if c.Audio.DeviceRate < c.Analysis.SampleRate {
			return fmt.Errorf("audio.device_sample_rate %d is below analysis.sample_rate %d",
				c.Audio.DeviceRate, c.Analysis.SampleRate)
		}
	case SourceTone:
		if c.Audio.ToneHz <= 0 {
			return fmt.Errorf("audio.tone_hz must be positive, got %g", c.Audio.ToneHz)
		}
	default:
		return fmt.Errorf("audio.source %q is not one of file, device, tone", c.Audio.Source)
	}

	if c.Server.Enabled {
		if c.Server.Port < 1 || c.Server.Port > 65535 {
			return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
		}
		timeouts := map[string]time.Duration{
			"server.handshake_timeout": c.Server.HandshakeTimeout,
			"server.write_timeout":     c.Server.WriteTimeout,
			"server.drain_interval":    c.Server.DrainInterval,
			"server.drain_timeout":     c.Server.DrainTimeout,
			"server.close_grace":       c.Server.CloseGrace,
			"server.shutdown_timeout":  c.Server.ShutdownTimeout,
			"server.idle_interval":     c.Server.IdleInterval,
		}
		for name, d := range timeouts {
			if d <= 0 {
				return fmt.Errorf("%s must be positive, got %s", name, d)
			}
		}
	}

	if c.UDP.Enabled {
		if _, _, err := net.SplitHostPort(c.UDP.TargetAddress); err != nil {
			return fmt.Errorf("udp.target_address %q is invalid: %w", c.UDP.TargetAddress, err)
		}
		if c.UDP.SendInterval <= 0 {
			return fmt.Errorf("udp.send_interval must be positive when UDP is enabled")
		}
	}

	if c.WebSocket.Enabled && !strings.HasPrefix(c.WebSocket.Path, "/") {
		return fmt.Errorf("websocket.path %q must start with '/'", c.WebSocket.Path)
	}

	if (c.Announce.MDNSEnabled || c.Announce.RedisEnabled) && c.Announce.Interval <= 0 {
		return fmt.Errorf("announce.interval must be positive")
	}

	if !c.Server.Enabled && !c.WebSocket.Enabled && !c.UDP.Enabled && c.Command == CommandServe {
		return fmt.Errorf("nothing to do: server, websocket and udp outputs are all disabled")
	}

	return nil
}

// ListenAddress joins the server host and port.
func (c *Config) ListenAddress() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

// applyEnvOverrides lets ENV_* variables win over the file. Malformed values
// are ignored with a warning so the file value stays in effect.
func (cfg *Config) applyEnvOverrides() {
	// ENV_{...}
	// These are general overrides.

	if val, ok := os.LookupEnv("ENV_DEBUG"); ok {
		if bVal, err := strconv.ParseBool(val); err == nil {
			cfg.Debug = bVal
			applog.Infof("configuration: overriding debug from env: %v", bVal)
		} else {
			applog.Warnf("configuration: ignoring ENV_DEBUG=%q: %v", val, err)
		}
	}
	if val, ok := os.LookupEnv("ENV_LOG_LEVEL"); ok {
		cfg.LogLevel = val
		applog.Infof("configuration: overriding log_level from env: %s", val)
	}

	// ENV_{HOST,PORT,SAMPLE_RATE}
	// These are specific to the broadcast server.

	if val, ok := os.LookupEnv("ENV_HOST"); ok {
		cfg.Server.Host = val
		applog.Infof("configuration: overriding server.host from env: %s", val)
	}
	if val, ok := os.LookupEnv("ENV_PORT"); ok {
		if iVal, err := strconv.Atoi(val); err == nil {
			cfg.Server.Port = iVal
			applog.Infof("configuration: overriding server.port from env: %d", iVal)
		} else {
			applog.Warnf("configuration: ignoring ENV_PORT=%q: %v", val, err)
		}
	}
	if val, ok := os.LookupEnv("ENV_SAMPLE_RATE"); ok {
		if iVal, err := strconv.Atoi(val); err == nil {
			cfg.Analysis.SampleRate = iVal
			applog.Infof("configuration: overriding analysis.sample_rate from env: %d", iVal)
		} else {
			applog.Warnf("configuration: ignoring ENV_SAMPLE_RATE=%q: %v", val, err)
		}
	}

	// ENV_UDP_{...}
	// These are specific to the UDP transport.

	if val, ok := os.LookupEnv("ENV_UDP_ENABLED"); ok {
		if bVal, err := strconv.ParseBool(val); err == nil {
			cfg.UDP.Enabled = bVal
			applog.Infof("configuration: overriding udp.enabled from env: %v", bVal)
		}
	}
	if val, ok := os.LookupEnv("ENV_UDP_TARGET_ADDRESS"); ok {
		cfg.UDP.TargetAddress = val
		applog.Infof("configuration: overriding udp.target_address from env: %s", val)
	}
	if val, ok := os.LookupEnv("ENV_UDP_SEND_INTERVAL"); ok {
		if dur, err := time.ParseDuration(val); err == nil {
			cfg.UDP.SendInterval = dur
			applog.Infof("configuration: overriding udp.send_interval from env: %s", dur)
		}
	}

	if val, ok := os.LookupEnv("ENV_REDIS_ADDRESS"); ok {
		cfg.Announce.RedisAddress = val
		applog.Infof("configuration: overriding announce.redis_address from env: %s", val)
	}
}
