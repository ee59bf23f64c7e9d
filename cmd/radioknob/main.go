package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"
)

const version = "1.0.0"

func printVersion() {
	fmt.Printf("radioknob v%s\n", version)
	fmt.Println("Rotary knob control daemon for an mpd network audio player")
}

func printUsage() {
	printVersion()
	fmt.Println()
	fmt.Println("USAGE:")
	fmt.Println("  radioknob [OPTIONS]")
	fmt.Println()
	fmt.Println("DESCRIPTION:")
	fmt.Println("  Daemon that drives mpd playback from a rotary encoder with a push")
	fmt.Println("  button. Turning the knob changes volume or skips tracks depending")
	fmt.Println("  on the current mode; a short press toggles between the two modes,")
	fmt.Println("  a long press (1.2s) stops or resumes playback. An RGB LED shows")
	fmt.Println("  the mode: red for volume, green for tracks, dark when off.")
	fmt.Println()
	fmt.Println("  Runs with no arguments using the stock hardware wiring.")
	fmt.Println()
	fmt.Println("OPTIONS:")
	fmt.Println("  -config string")
	fmt.Println("        Path to YAML config file (optional; defaults match the stock wiring)")
	fmt.Println()
	fmt.Println("  -mpd-host string")
	fmt.Printf("        MPD host (default %q)\n", defaultMPDHost)
	fmt.Println()
	fmt.Println("  -mpd-port int")
	fmt.Printf("        MPD port (default %d)\n", defaultMPDPort)
	fmt.Println()
	fmt.Println("  -input-backend string")
	fmt.Println("        Input backend: gpio|evdev (default \"gpio\")")
	fmt.Println()
	fmt.Println("  -ipc-socket string")
	fmt.Printf("        Unix domain socket path for IPC (default %q)\n", defaultIPCSocketPath)
	fmt.Println()
	fmt.Println("  -status-addr string")
	fmt.Printf("        Status websocket listen address (default %q)\n", defaultStatusAddr)
	fmt.Println()
	fmt.Println("  -log-level string")
	fmt.Println("        Log level: error, warn, info, debug (default \"info\")")
	fmt.Println()
	fmt.Println("  -verbose")
	fmt.Println("        Shorthand for -log-level debug")
	fmt.Println()
	fmt.Println("  -version")
	fmt.Println("        Print version and exit")
	fmt.Println()
	fmt.Println("  -help")
	fmt.Println("        Print this help message")
	fmt.Println()
	fmt.Println("EXAMPLES:")
	fmt.Println("  # Start with default settings (gpio backend, mpd on localhost)")
	fmt.Println("  radioknob")
	fmt.Println()
	fmt.Println("  # Kernel-decoded encoder via device-tree overlays")
	fmt.Println("  radioknob -input-backend evdev")
	fmt.Println()
	fmt.Println("  # Remote mpd instance, verbose diagnostics")
	fmt.Println("  radioknob -mpd-host 192.168.1.50 -verbose")
	fmt.Println()
	fmt.Println("NOTES:")
	fmt.Println("  - The gpio backend needs access to /dev/gpiomem (or run as root)")
	fmt.Println("  - The evdev backend needs read access to the input devices")
	fmt.Println("  - Inspect or poke the running daemon with radioknob-ctl")
	fmt.Println()
}

func main() {
	// Handle version/help before flag parse errors can get in the way.
	for _, arg := range os.Args[1:] {
		if arg == "-version" || arg == "--version" {
			printVersion()
			return
		}
		if arg == "-help" || arg == "--help" || arg == "-h" {
			printUsage()
			return
		}
	}

	var (
		configPath   = flag.String("config", "", "Path to YAML config file")
		mpdHost      = flag.String("mpd-host", defaultMPDHost, "MPD host")
		mpdPort      = flag.Int("mpd-port", defaultMPDPort, "MPD port")
		inputBackend = flag.String("input-backend", inputBackendGPIO, "Input backend: gpio|evdev")
		ipcSocket    = flag.String("ipc-socket", defaultIPCSocketPath, "Unix domain socket path for IPC")
		statusAddr   = flag.String("status-addr", defaultStatusAddr, "Status websocket listen address")
		logLevelStr  = flag.String("log-level", "info", "Log level: error, warn, info, debug")
		verbose      = flag.Bool("verbose", false, "Shorthand for -log-level debug")
		showVersion  = flag.Bool("version", false, "Print version and exit")
		showHelp     = flag.Bool("help", false, "Print help message")
	)

	flag.Usage = printUsage
	flag.Parse()

	if *showHelp {
		printUsage()
		return
	}
	if *showVersion {
		printVersion()
		return
	}

	cfg := DefaultConfig()
	if *configPath != "" {
		var err error
		cfg, err = LoadConfigFile(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
	}

	// Flags override the file, but only the ones actually given.
	var overrides FlagOverrides
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "mpd-host":
			overrides.MPDHost = mpdHost
		case "mpd-port":
			overrides.MPDPort = mpdPort
		case "input-backend":
			overrides.InputBackend = inputBackend
		case "ipc-socket":
			overrides.IPCSocketPath = ipcSocket
		case "status-addr":
			overrides.StatusAddr = statusAddr
		case "log-level":
			overrides.LogLevel = logLevelStr
		}
	})
	overrides.Apply(&cfg)

	if *verbose {
		cfg.Logging.Level = string(LogLevelDebug)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}

	logLevel, err := parseLogLevel(cfg.Logging.Level)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
	logger := setupLogger(logLevel)

	if err := run(cfg, logger); err != nil {
		logger.Error("radioknob failed", "error", err)
		os.Exit(1)
	}
}

// run owns the full daemon lifecycle: hardware bring-up, the startup
// sequence against mpd, the poller/server goroutines, and teardown. All
// collaborator failures before the errgroup starts are fatal per the
// startup error policy.
func run(cfg Config, logger *slog.Logger) error {
	// Input hardware.
	enc, sw, closeInput, err := setupInputBackend(cfg.Input, logger)
	if err != nil {
		return fmt.Errorf("input backend: %w", err)
	}
	defer closeInput()

	// Indicator LED.
	red, green, blue, err := newGPIOLed(cfg.LED.PinRed, cfg.LED.PinGreen, cfg.LED.PinBlue, logger)
	if err != nil {
		return fmt.Errorf("indicator led: %w", err)
	}
	indicator := newLEDIndicator(red, green, blue, logger)
	defer indicator.Close()

	// Player connection.
	player, err := connectPlayer(cfg.MPD.Addr(), logger)
	if err != nil {
		return err
	}
	defer player.Close()

	// Status feed plumbing; nil channel disables publishing entirely.
	var statusc chan StatusEvent
	if cfg.Status.Enabled {
		statusc = make(chan StatusEvent, 64)
	}

	ctrl := NewModeController(player, indicator, statusc, logger)

	// Startup sequence: known volume, playing, mode light on.
	if err := player.SetVolume(defaultVolume); err != nil {
		return fmt.Errorf("startup volume: %w", err)
	}
	if err := player.Play(); err != nil {
		return fmt.Errorf("startup play: %w", err)
	}
	if err := ctrl.AdaptIndicator(); err != nil {
		return fmt.Errorf("startup indicator: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		select {
		case sig := <-sigc:
			logger.Info("shutting down", "signal", sig.String())
			cancel()
			return nil
		case <-ctx.Done():
			return nil
		}
	})

	g.Go(func() error { return runRotaryPoller(ctx, enc, ctrl, logger) })
	g.Go(func() error { return runButtonPoller(ctx, sw, ctrl, logger) })
	g.Go(func() error { return player.RunKeepalive(ctx) })
	g.Go(func() error { return runIPCServer(ctx, ExpandPath(cfg.IPC.SocketPath), ctrl, logger) })

	if cfg.Status.Enabled {
		server := NewStatusServer(logger, ctrl, HubConfig{})
		g.Go(func() error { return server.Hub().Run(ctx) })
		g.Go(func() error { return runBroadcaster(ctx, server.Hub(), statusc, logger) })
		g.Go(func() error { return runStatusServer(ctx, cfg.Status.Addr, server, logger) })
		g.Go(func() error { return runPlayerWatcher(ctx, cfg.MPD.Addr(), player, statusc, logger) })
	}

	logger.Info("radioknob running",
		"input_backend", cfg.Input.Backend,
		"mpd", cfg.MPD.Addr(),
		"ipc", cfg.IPC.SocketPath,
		"status_enabled", cfg.Status.Enabled)

	return g.Wait()
}

// setupInputBackend builds the encoder and switch capabilities for the
// configured backend. The returned close func tears the backend down after
// the pollers have stopped.
func setupInputBackend(cfg InputConfig, logger *slog.Logger) (RotaryEncoder, Switch, func() error, error) {
	switch cfg.Backend {
	case inputBackendGPIO:
		enc, err := newGPIORotary(cfg.RotaryPinA, cfg.RotaryPinB, logger)
		if err != nil {
			return nil, nil, nil, err
		}
		sw, err := newGPIOSwitch(cfg.ButtonPin, cfg.ButtonActiveLow, logger)
		if err != nil {
			enc.Close()
			return nil, nil, nil, err
		}
		return enc, sw, enc.Close, nil

	case inputBackendEvdev:
		in, err := newEvdevInput(cfg.RotaryDevice, cfg.ButtonDevice, cfg.ButtonKeyCode, logger)
		if err != nil {
			return nil, nil, nil, err
		}
		return in, in, in.Close, nil

	default:
		return nil, nil, nil, fmt.Errorf("unknown input backend %q", cfg.Backend)
	}
}
