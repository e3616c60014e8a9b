// SPDX-License-Identifier: MIT
package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"bandcast/internal/config"
)

func TestParseArgsServeDefaults(t *testing.T) {
	cfg, err := parseArgs([]string{"serve"}, &bytes.Buffer{})
	if err != nil {
		t.Fatalf("parseArgs() error = %v", err)
	}
	if cfg.Command != config.CommandServe {
		t.Errorf("Command = %q, want %q", cfg.Command, config.CommandServe)
	}
	if cfg.Audio.Source != config.DefaultSource {
		t.Errorf("Audio.Source = %q, want %q", cfg.Audio.Source, config.DefaultSource)
	}
	if cfg.Server.Port != config.DefaultPort {
		t.Errorf("Server.Port = %d, want %d", cfg.Server.Port, config.DefaultPort)
	}
	if !cfg.Analysis.EMAEnabled {
		t.Error("EMA should be enabled by default")
	}
}

func TestParseArgsServeFlags(t *testing.T) {
	cfg, err := parseArgs([]string{
		"serve", "--port", "9000", "--rate", "30", "--file", "song.flac",
		"--window", "hann", "--no-ema", "--udp", "--debug",
	}, &bytes.Buffer{})
	if err != nil {
		t.Fatalf("parseArgs() error = %v", err)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("Server.Port = %d, want 9000", cfg.Server.Port)
	}
	if cfg.Analysis.SampleRate != 30 {
		t.Errorf("Analysis.SampleRate = %d, want 30", cfg.Analysis.SampleRate)
	}
	if cfg.Audio.Source != config.SourceFile || cfg.Audio.File != "song.flac" {
		t.Errorf("Audio = %+v, want file source for song.flac", cfg.Audio)
	}
	if cfg.Audio.Window != "hann" {
		t.Errorf("Audio.Window = %q, want hann", cfg.Audio.Window)
	}
	if cfg.Analysis.EMAEnabled {
		t.Error("--no-ema should disable the EMA")
	}
	if !cfg.UDP.Enabled || !cfg.Debug {
		t.Errorf("UDP.Enabled = %v, Debug = %v, want both true", cfg.UDP.Enabled, cfg.Debug)
	}
}

func TestParseArgsFlagsOverrideConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bandcast.yaml")
	data := "analysis:\n  sample_rate: 25\nserver:\n  port: 7000\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := parseArgs([]string{"serve", "--config", path, "--rate", "10"}, &bytes.Buffer{})
	if err != nil {
		t.Fatalf("parseArgs() error = %v", err)
	}
	if cfg.Server.Port != 7000 {
		t.Errorf("Server.Port = %d, want 7000 from the file", cfg.Server.Port)
	}
	if cfg.Analysis.SampleRate != 10 {
		t.Errorf("Analysis.SampleRate = %d, want 10 from the flag", cfg.Analysis.SampleRate)
	}
}

func TestParseArgsErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"rate out of range", []string{"serve", "--rate", "200"}, "sample_rate"},
		{"unknown source", []string{"serve", "--source", "radio"}, "audio.source"},
		{"missing config file", []string{"serve", "--config", "/nonexistent/bandcast.yaml"}, "config file"},
		{"unknown command", []string{"record"}, "unknown command"},
		{"stray argument", []string{"client", "extra"}, "unknown command"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseArgs(tt.args, &bytes.Buffer{})
			if err == nil {
				t.Fatal("parseArgs() error = nil")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("parseArgs() error = %v, want it to mention %q", err, tt.want)
			}
		})
	}
}

func TestParseArgsClient(t *testing.T) {
	cfg, err := parseArgs([]string{"client", "--address", "10.0.0.2:12345", "--tui"}, &bytes.Buffer{})
	if err != nil {
		t.Fatalf("parseArgs() error = %v", err)
	}
	if cfg.Command != config.CommandClient {
		t.Errorf("Command = %q, want %q", cfg.Command, config.CommandClient)
	}
	if cfg.Client.Address != "10.0.0.2:12345" || !cfg.Client.TUI {
		t.Errorf("Client = %+v", cfg.Client)
	}
}

func TestParseArgsDevicesAndVersion(t *testing.T) {
	cfg, err := parseArgs([]string{"devices", "--pick"}, &bytes.Buffer{})
	if err != nil {
		t.Fatalf("parseArgs(devices) error = %v", err)
	}
	if cfg.Command != config.CommandDevices || !cfg.PickDevice {
		t.Errorf("Command = %q, PickDevice = %v", cfg.Command, cfg.PickDevice)
	}

	cfg, err = parseArgs([]string{"version"}, &bytes.Buffer{})
	if err != nil {
		t.Fatalf("parseArgs(version) error = %v", err)
	}
	if cfg.Command != config.CommandVersion {
		t.Errorf("Command = %q, want %q", cfg.Command, config.CommandVersion)
	}
}

func TestParseArgsHandledByCobra(t *testing.T) {
	for _, args := range [][]string{{"--version"}, {"--help"}, {}} {
		var out bytes.Buffer
		cfg, err := parseArgs(args, &out)
		if err != nil {
			t.Fatalf("parseArgs(%v) error = %v", args, err)
		}
		if cfg != nil {
			t.Errorf("parseArgs(%v) = %+v, want nil", args, cfg)
		}
		if out.Len() == 0 {
			t.Errorf("parseArgs(%v) printed nothing", args)
		}
	}
}
