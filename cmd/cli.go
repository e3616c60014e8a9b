// SPDX-License-Identifier: MIT
package cmd

import (
	"fmt"
	"io"
	"os"
	"time"

	"bandcast/internal/build"
	"bandcast/internal/config"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// options holds raw flag values. They only reach the configuration when
// the flag was given on the command line, so a config file is never
// overridden by a flag default.
type options struct {
	configPath string
	debug      bool
	logLevel   string

	source     string
	file       string
	device     int
	channels   int
	deviceRate int
	lowLatency bool
	window     string
	toneHz     float64
	rate       int
	noEMA      bool

	host      string
	port      int
	websocket bool
	wsAddress string
	udp       bool
	udpTarget string
	mdns      bool
	redis     bool
	redisAddr string

	address     string
	readTimeout time.Duration
	tui         bool

	pick bool
}

// ParseArgs parses the command line and returns the resulting
// configuration. It returns nil and no error when cobra handled the
// invocation itself, as for --help and --version.
func ParseArgs() (*config.Config, error) {
	return parseArgs(os.Args[1:], os.Stdout)
}

func parseArgs(args []string, out io.Writer) (*config.Config, error) {
	buildInfo := build.GetBuildFlags()
	var (
		o      options
		result *config.Config
	)

	overrides := map[string]func(*config.Config){
		"debug":       func(c *config.Config) { c.Debug = o.debug },
		"log-level":   func(c *config.Config) { c.LogLevel = o.logLevel },
		"source":      func(c *config.Config) { c.Audio.Source = o.source },
		"file":        func(c *config.Config) { c.Audio.File = o.file },
		"device":      func(c *config.Config) { c.Audio.InputDevice = o.device },
		"channels":    func(c *config.Config) { c.Audio.InputChannels = o.channels },
		"device-rate": func(c *config.Config) { c.Audio.DeviceRate = o.deviceRate },
		"low-latency": func(c *config.Config) { c.Audio.LowLatency = o.lowLatency },
		"window":      func(c *config.Config) { c.Audio.Window = o.window },
		"tone":        func(c *config.Config) { c.Audio.ToneHz = o.toneHz },
		"rate":        func(c *config.Config) { c.Analysis.SampleRate = o.rate },
		"no-ema":      func(c *config.Config) { c.Analysis.EMAEnabled = !o.noEMA },
		"host":        func(c *config.Config) { c.Server.Host = o.host },
		"port":        func(c *config.Config) { c.Server.Port = o.port },
		"websocket":   func(c *config.Config) { c.WebSocket.Enabled = o.websocket },
		"ws-address":  func(c *config.Config) { c.WebSocket.Address = o.wsAddress },
		"udp":         func(c *config.Config) { c.UDP.Enabled = o.udp },
		"udp-target":  func(c *config.Config) { c.UDP.TargetAddress = o.udpTarget },
		"mdns":        func(c *config.Config) { c.Announce.MDNSEnabled = o.mdns },
		"redis":       func(c *config.Config) { c.Announce.RedisEnabled = o.redis },
		"redis-addr":  func(c *config.Config) { c.Announce.RedisAddress = o.redisAddr },
		"address":     func(c *config.Config) { c.Client.Address = o.address },
		"read-timeout": func(c *config.Config) {
			c.Client.ReadTimeout = o.readTimeout
		},
		"tui":  func(c *config.Config) { c.Client.TUI = o.tui },
		"pick": func(c *config.Config) { c.PickDevice = o.pick },
	}

	// load runs for every subcommand: defaults, then the file and the
	// environment, then flags that were actually given.
	load := func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.LoadConfig(o.configPath)
		if err != nil {
			return err
		}
		cmd.Flags().Visit(func(f *pflag.Flag) {
			if apply, ok := overrides[f.Name]; ok {
				apply(cfg)
			}
		})
		cfg.Command = cmd.Name()
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		result = cfg
		return nil
	}
	noop := func(*cobra.Command, []string) {}

	rootCmd := &cobra.Command{
		Use:           buildInfo.Name,
		Short:         buildInfo.Description,
		Version:       buildInfo.Version,
		SilenceErrors: true,
		SilenceUsage:  true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd:   true,
			DisableDescriptions: true,
			DisableNoDescFlag:   true,
			HiddenDefaultCmd:    true,
		},
	}
	rootCmd.SetOut(out)

	// Display help message
	rootCmd.SetHelpCommand(&cobra.Command{Hidden: true})

	// Serve command
	serveCmd := &cobra.Command{
		Use:   config.CommandServe,
		Short: "Analyze an audio source and broadcast band loudness",
		Args:  cobra.NoArgs,
		Run:   noop,
	}
	sf := serveCmd.Flags()
	sf.StringVarP(&o.source, "source", "S", config.DefaultSource,
		"Audio source: file, device or tone")
	sf.StringVarP(&o.file, "file", "f", "",
		"Audio file to stream (.wav, .mp3, .flac), implies --source file")
	sf.IntVarP(&o.device, "device", "d", config.DefaultInputDevice,
		"Specify input device ID. Use the 'devices' command to see available devices.")
	sf.IntVarP(&o.channels, "channels", "c", config.DefaultChannels,
		"Number of channels to capture (1=mono, 2=stereo)")
	sf.IntVar(&o.deviceRate, "device-rate", config.DefaultDeviceRate,
		"Capture sample rate, measured in Hertz (Hz)")
	sf.BoolVarP(&o.lowLatency, "low-latency", "l", false,
		"Use the device's low input latency")
	sf.StringVarP(&o.window, "window", "w", config.DefaultWindow,
		"FFT window function (Hamming, Hann, Blackman, BlackmanNuttall, BartlettHann, Lanczos, Nuttall)")
	sf.Float64Var(&o.toneHz, "tone", 440,
		"Frequency of the synthetic tone source in Hz")
	sf.IntVarP(&o.rate, "rate", "r", config.DefaultSampleRate,
		"Loudness vectors per second (1-127)")
	sf.BoolVar(&o.noEMA, "no-ema", false,
		"Send unsmoothed loudness")
	sf.StringVarP(&o.host, "host", "H", config.DefaultHost,
		"Address the broadcast server listens on")
	sf.IntVarP(&o.port, "port", "p", config.DefaultPort,
		"Port the broadcast server listens on")
	sf.BoolVar(&o.websocket, "websocket", false,
		"Mirror frames to browsers over a websocket")
	sf.StringVar(&o.wsAddress, "ws-address", config.DefaultWSAddress,
		"Websocket listen address")
	sf.BoolVar(&o.udp, "udp", false,
		"Push the latest vector as UDP datagrams")
	sf.StringVar(&o.udpTarget, "udp-target", config.DefaultUDPTarget,
		"UDP destination address")
	sf.BoolVar(&o.mdns, "mdns", false,
		"Announce the server over mDNS")
	sf.BoolVar(&o.redis, "redis", false,
		"Announce the server on a Redis channel")
	sf.StringVar(&o.redisAddr, "redis-addr", config.DefaultRedisAddress,
		"Redis address for announcements")
	rootCmd.AddCommand(serveCmd)

	// A file flag without a source picks the file source.
	serveCmd.PreRunE = func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("file") && !cmd.Flags().Changed("source") {
			if err := cmd.Flags().Set("source", config.SourceFile); err != nil {
				return err
			}
		}
		return load(cmd, args)
	}

	// Client command
	clientCmd := &cobra.Command{
		Use:     config.CommandClient,
		Short:   "Connect to a broadcast server and show the feed",
		Args:    cobra.NoArgs,
		PreRunE: load,
		Run:     noop,
	}
	cf := clientCmd.Flags()
	cf.StringVarP(&o.address, "address", "a", config.DefaultClientAddr,
		"Server address to connect to")
	cf.DurationVar(&o.readTimeout, "read-timeout", config.DefaultClientReadTimeout,
		"Timeout for one frame read")
	cf.BoolVarP(&o.tui, "tui", "t", false,
		"Show the feed as live band meters")
	rootCmd.AddCommand(clientCmd)

	// Devices command
	devicesCmd := &cobra.Command{
		Use:     config.CommandDevices,
		Short:   "List available audio devices",
		Args:    cobra.NoArgs,
		PreRunE: load,
		Run:     noop,
	}
	devicesCmd.Flags().BoolVar(&o.pick, "pick", false,
		"Choose an input device interactively")
	rootCmd.AddCommand(devicesCmd)

	// Version command
	rootCmd.AddCommand(&cobra.Command{
		Use:   config.CommandVersion,
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			result = config.NewConfig()
			result.Command = config.CommandVersion
		},
	})

	// Global Configuration
	rootCmd.PersistentFlags().StringVar(&o.configPath, "config", "",
		"Path to a YAML config file (default: bandcast.yaml or config.yaml if present)")
	rootCmd.PersistentFlags().BoolVarP(&o.debug, "debug", "v", false,
		"Show per-frame debug output")
	rootCmd.PersistentFlags().StringVar(&o.logLevel, "log-level", config.DefaultLogLevel,
		"Logging level (debug, info, warn, error)")

	// Execute the CLI
	rootCmd.SetArgs(args)
	if err := rootCmd.Execute(); err != nil {
		return nil, err
	}
	return result, nil
}
