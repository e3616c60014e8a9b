// SPDX-License-Identifier: MIT
package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	tmp := t.TempDir()
	path := filepath.Join(tmp, "bandcast.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}
	return path
}

func TestLoadConfig_EmptyPath(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if cfg.Analysis.SampleRate != DefaultSampleRate {
		t.Errorf("SampleRate = %d, want %d", cfg.Analysis.SampleRate, DefaultSampleRate)
	}
	if cfg.Server.Port != DefaultPort {
		t.Errorf("Port = %d, want %d", cfg.Server.Port, DefaultPort)
	}
	if cfg.Server.HandshakeTimeout != time.Second {
		t.Errorf("HandshakeTimeout = %s, want 1s", cfg.Server.HandshakeTimeout)
	}
}

func TestLoadConfig_FileNotFound(t *testing.T) {
	cfg, err := LoadConfig("nonexistent.yaml")
	if err == nil {
		t.Errorf("expected error for missing file, got nil")
	}
	if cfg != nil {
		t.Errorf("expected nil config on error, got %+v", cfg)
	}
}

func TestLoadConfig_UnmarshalError(t *testing.T) {
	path := writeTempConfig(t, ":\n:bad")
	_, err := LoadConfig(path)
	if err == nil || !strings.Contains(err.Error(), "failed to parse config file") {
		t.Errorf("expected unmarshal error, got %v", err)
	}
}

func TestLoadConfig_FileValues(t *testing.T) {
	path := writeTempConfig(t, `
log_level: debug
audio:
  source: file
  file: song.wav
analysis:
  sample_rate: 30
server:
  port: 4000
  drain_timeout: 20ms
udp:
  enabled: true
  target_address: 10.0.0.10:1234
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Audio.Source != SourceFile || cfg.Audio.File != "song.wav" {
		t.Errorf("audio = %+v", cfg.Audio)
	}
	if cfg.Analysis.SampleRate != 30 {
		t.Errorf("SampleRate = %d, want 30", cfg.Analysis.SampleRate)
	}
	if cfg.Server.Port != 4000 {
		t.Errorf("Port = %d, want 4000", cfg.Server.Port)
	}
	if cfg.Server.DrainTimeout != 20*time.Millisecond {
		t.Errorf("DrainTimeout = %s, want 20ms", cfg.Server.DrainTimeout)
	}
	// Untouched fields keep their defaults.
	if cfg.Server.WriteTimeout != DefaultWriteTimeout {
		t.Errorf("WriteTimeout = %s, want default", cfg.Server.WriteTimeout)
	}
	if cfg.ListenAddress() != "0.0.0.0:4000" {
		t.Errorf("ListenAddress() = %q", cfg.ListenAddress())
	}
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("ENV_PORT", "5555")
	t.Setenv("ENV_SAMPLE_RATE", "25")
	t.Setenv("ENV_UDP_SEND_INTERVAL", "10ms")
	t.Setenv("ENV_PORT_IGNORED", "x")

	path := writeTempConfig(t, "server:\n  port: 4000\n")
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Server.Port != 5555 {
		t.Errorf("Port = %d, want env value 5555", cfg.Server.Port)
	}
	if cfg.Analysis.SampleRate != 25 {
		t.Errorf("SampleRate = %d, want 25", cfg.Analysis.SampleRate)
	}
	if cfg.UDP.SendInterval != 10*time.Millisecond {
		t.Errorf("SendInterval = %s, want 10ms", cfg.UDP.SendInterval)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"defaults", func(c *Config) {}, ""},
		{"zero sample rate", func(c *Config) { c.Analysis.SampleRate = 0 }, "analysis.sample_rate"},
		{"sample rate overflows int8", func(c *Config) { c.Analysis.SampleRate = 128 }, "analysis.sample_rate"},
		{"alpha out of range", func(c *Config) { c.Analysis.BaseAlpha = 1 }, "analysis.base_alpha"},
		{"file without path", func(c *Config) { c.Audio.Source = SourceFile }, "audio.file"},
		{"unknown source", func(c *Config) { c.Audio.Source = "radio" }, "audio.source"},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
		{"zero timeout", func(c *Config) { c.Server.DrainTimeout = 0 }, "server.drain_timeout"},
		{"bad udp target", func(c *Config) {
			c.UDP.Enabled = true
			c.UDP.TargetAddress = "nowhere"
		}, "udp.target_address"},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }, "log_level"},
		{"nothing enabled", func(c *Config) { c.Server.Enabled = false }, "nothing to do"},
		{"client command needs no outputs", func(c *Config) {
			c.Server.Enabled = false
			c.Command = CommandClient
		}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.want == "" {
				if err != nil {
					t.Errorf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() = %v, want error mentioning %q", err, tt.want)
			}
		})
	}
}
