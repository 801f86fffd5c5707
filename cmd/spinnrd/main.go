package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"spinnrd/internal/accel"
)

const version = "0.3.0"

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "spinnrd v%s\n", version)
	fmt.Fprintln(w, "Accelerometer screen-rotation daemon for Linux IIO devices")
}

func printUsage(w io.Writer) {
	printVersion(w)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "USAGE:")
	fmt.Fprintln(w, "  spinnrd [OPTIONS]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "DESCRIPTION:")
	fmt.Fprintln(w, "  Polls a 3-axis IIO accelerometer through sysfs, classifies the device")
	fmt.Fprintln(w, "  tilt into normal|left|inverted|right and reports each stable rotation")
	fmt.Fprintln(w, "  to the enabled frontends (file, mqtt, websocket, stdout).")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "OPTIONS:")
	fmt.Fprintln(w, "  -config string")
	fmt.Fprintln(w, "        YAML config file; flags override its values")
	fmt.Fprintln(w, "  -interval-ms int")
	fmt.Fprintf(w, "        Poll period in ms (default %d)\n", defaultIntervalMS)
	fmt.Fprintln(w, "  -hysteresis-ms int")
	fmt.Fprintf(w, "        Low-pass averaging window in ms; 0 disables smoothing (default %d)\n", defaultHysteresisMS)
	fmt.Fprintln(w, "  -delay-ms int")
	fmt.Fprintf(w, "        Time a new rotation must hold before it is reported (default %d)\n", defaultDelayMS)
	fmt.Fprintln(w, "  -sensitivity float")
	fmt.Fprintf(w, "        Tilt sensitivity; higher is less sensitive (default %.1f)\n", defaultSensitivity)
	fmt.Fprintln(w, "  -backend string")
	fmt.Fprintln(w, "        Comma-separated backends tried in order (default \"fsaccel,fsaccel_raw\")")
	fmt.Fprintln(w, "  -device string")
	fmt.Fprintln(w, "        IIO device directory (default: discover accel_3d)")
	fmt.Fprintln(w, "  -scale float")
	fmt.Fprintln(w, "        Override the device scale")
	fmt.Fprintln(w, "  -default-scale float")
	fmt.Fprintln(w, "        Scale used when the device has no usable scale file")
	fmt.Fprintln(w, "  -fix-sign")
	fmt.Fprintln(w, "        Treat signed channels as printed unsigned (vendor quirk)")
	fmt.Fprintln(w, "  -frontend string")
	fmt.Fprintln(w, "        Comma-separated frontends: file,mqtt,websocket,stdout (default \"file\")")
	fmt.Fprintln(w, "  -spin-file string")
	fmt.Fprintf(w, "        Output file for the file frontend (default %q)\n", defaultSpinFile)
	fmt.Fprintln(w, "  -mqtt-broker string")
	fmt.Fprintln(w, "        MQTT broker URL, e.g. tcp://localhost:1883")
	fmt.Fprintln(w, "  -mqtt-topic string")
	fmt.Fprintf(w, "        MQTT topic (default %q)\n", defaultMQTTTopic)
	fmt.Fprintln(w, "  -http-listen string")
	fmt.Fprintln(w, "        HTTP listen address for /ws and /rotation (default: disabled)")
	fmt.Fprintln(w, "  -status-socket string")
	fmt.Fprintf(w, "        Status socket path; empty disables it (default %q)\n", defaultStatusSocket)
	fmt.Fprintln(w, "  -quit-on-send-error")
	fmt.Fprintln(w, "        Exit when a frontend fails to receive a rotation")
	fmt.Fprintln(w, "  -quit-on-read-error")
	fmt.Fprintln(w, "        Exit when the accelerometer cannot be read")
	fmt.Fprintln(w, "  -log-level string")
	fmt.Fprintln(w, "        Log level: error, warn, info, debug, trace (default \"info\")")
	fmt.Fprintln(w, "  -log-output string")
	fmt.Fprintln(w, "        stdout, stderr or a file path (default \"stdout\")")
	fmt.Fprintln(w, "  -dump")
	fmt.Fprintln(w, "        Print raw and filtered readings every tick")
	fmt.Fprintln(w, "  -version")
	fmt.Fprintln(w, "        Print version and exit")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "EXIT STATUS:")
	fmt.Fprintln(w, "  0 clean shutdown, 1 config, 2 logging, 3 no backend, 4 send error,")
	fmt.Fprintln(w, "  5 no frontend, 6 read error, 7 service error, 17 signal watcher died")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "EXAMPLES:")
	fmt.Fprintln(w, "  spinnrd -frontend file,stdout -spin-file /run/spinnrd/spinnrd.spin")
	fmt.Fprintln(w, "  spinnrd -config /etc/spinnrd.yaml -log-level debug")
	fmt.Fprintln(w, "  spinnrd -frontend mqtt -mqtt-broker tcp://localhost:1883")
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parseFlags parses args into a config path, overrides and the dump switch.
func parseFlags(args []string, stderr io.Writer) (configPath string, o FlagOverrides, dump, done bool, err error) {
	fs := flag.NewFlagSet("spinnrd", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { printUsage(stderr) }

	var (
		cfgPath      = fs.String("config", "", "YAML config file")
		intervalMS   = fs.Int("interval-ms", defaultIntervalMS, "Poll period (ms)")
		hysteresisMS = fs.Int("hysteresis-ms", defaultHysteresisMS, "Low-pass window (ms)")
		delayMS      = fs.Int("delay-ms", defaultDelayMS, "Commit delay (ms)")
		sensitivity  = fs.Float64("sensitivity", defaultSensitivity, "Tilt sensitivity")
		backends     = fs.String("backend", "fsaccel,fsaccel_raw", "Backends in order")
		device       = fs.String("device", "", "IIO device directory")
		scale        = fs.Float64("scale", 0, "Scale override")
		defScale     = fs.Float64("default-scale", 0, "Fallback scale")
		fixSign      = fs.Bool("fix-sign", false, "Signed channels printed unsigned")
		frontends    = fs.String("frontend", "file", "Frontends")
		spinFile     = fs.String("spin-file", defaultSpinFile, "File frontend path")
		mqttBroker   = fs.String("mqtt-broker", "", "MQTT broker URL")
		mqttTopic    = fs.String("mqtt-topic", defaultMQTTTopic, "MQTT topic")
		httpListen   = fs.String("http-listen", "", "HTTP listen address")
		statusSock   = fs.String("status-socket", defaultStatusSocket, "Status socket path")
		quitSend     = fs.Bool("quit-on-send-error", false, "Exit on send error")
		quitRead     = fs.Bool("quit-on-read-error", false, "Exit on read error")
		logLevel     = fs.String("log-level", "info", "Log level")
		logOutput    = fs.String("log-output", "stdout", "Log output")
		dumpFlag     = fs.Bool("dump", false, "Print readings every tick")
		showVersion  = fs.Bool("version", false, "Print version and exit")
	)

	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return "", o, false, true, nil
		}
		return "", o, false, false, err
	}
	if *showVersion {
		printVersion(os.Stdout)
		return "", o, false, true, nil
	}

	// Only flags given on the command line override the config file.
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "interval-ms":
			o.IntervalMS = intervalMS
		case "hysteresis-ms":
			o.HysteresisMS = hysteresisMS
		case "delay-ms":
			o.DelayMS = delayMS
		case "sensitivity":
			o.Sensitivity = sensitivity
		case "backend":
			l := splitList(*backends)
			o.Backends = &l
		case "device":
			o.DevicePath = device
		case "scale":
			o.Scale = scale
		case "default-scale":
			o.DefaultScale = defScale
		case "fix-sign":
			o.FixSign = fixSign
		case "frontend":
			l := splitList(*frontends)
			o.Frontends = &l
		case "spin-file":
			o.SpinFile = spinFile
		case "mqtt-broker":
			o.MQTTBroker = mqttBroker
		case "mqtt-topic":
			o.MQTTTopic = mqttTopic
		case "http-listen":
			o.HTTPListen = httpListen
		case "status-socket":
			o.StatusSocket = statusSock
		case "quit-on-send-error":
			o.QuitOnSendError = quitSend
		case "quit-on-read-error":
			o.QuitOnReadError = quitRead
		case "log-level":
			o.LogLevel = logLevel
		case "log-output":
			o.LogOutput = logOutput
		}
	})

	return *cfgPath, o, *dumpFlag, false, nil
}

// loadConfig builds the effective config: defaults, then file, then flags.
func loadConfig(path string, o FlagOverrides) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		var err error
		if cfg, err = LoadConfigFile(path); err != nil {
			return Config{}, err
		}
	}
	o.Apply(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func run(args []string, stdout, stderr io.Writer) int {
	cfgPath, overrides, dump, done, err := parseFlags(args, stderr)
	if done {
		return exitOK
	}
	if err != nil {
		return exitConfig
	}

	cfg, err := loadConfig(cfgPath, overrides)
	if err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return exitConfig
	}

	level, _ := parseLogLevel(cfg.Logging.Level)
	logger, logCloser, err := setupLogger(level, cfg.Logging.Output)
	if err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return exitLogger
	}
	defer logCloser.Close()

	signals := trapSignals(unix.SIGHUP, unix.SIGINT, unix.SIGTERM)

	logger.Debug("starting spinnrd", "version", version)
	logger.Debug("configuration",
		"interval_ms", cfg.Poll.IntervalMS,
		"hysteresis_ms", cfg.Poll.HysteresisMS,
		"delay_ms", cfg.Poll.DelayMS,
		"sensitivity", cfg.Poll.Sensitivity,
		"backends", strings.Join(cfg.Backend.Order, ","),
		"frontends", strings.Join(cfg.Frontends.Enabled, ","),
		"http_listen", cfg.HTTP.Listen,
		"status_socket", cfg.Status.SocketPath)

	bopts := cfg.backendOptions()
	bopts.Logger = logger
	backend, err := accel.InitBackend(cfg.Backend.Order, bopts)
	if err != nil {
		logger.Error("no usable backend", "error", err)
		return exitNoBackend
	}
	defer backend.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	board := newStatusBoard()

	var hub *Hub
	if cfg.HTTP.Listen != "" {
		hub = NewHub(logger, HubConfig{})
		g.Go(func() error {
			hub.Run(gctx)
			return nil
		})
		mux := newHTTPMux(hub, cfg.Frontends.Websocket.Path, board, logger)
		g.Go(func() error {
			return runHTTPServer(gctx, cfg.HTTP.Listen, mux, logger)
		})
	}
	if cfg.Status.SocketPath != "" {
		sock := ExpandPath(cfg.Status.SocketPath)
		g.Go(statusService(gctx, sock, board, logger))
	}

	frontends, err := initFrontends(cfg.Frontends, frontendDeps{hub: hub, stdout: stdout, logger: logger})
	if err != nil {
		logger.Error("no usable frontend", "error", err)
		cancel()
		_ = g.Wait()
		return exitNoFrontend
	}
	defer closeFrontends(frontends, logger)

	deps := loopDeps{
		cfg:        cfg.loopConfig(),
		orientator: backend,
		frontends:  frontends,
		signals:    signals,
		board:      board,
		backend:    string(backend.Kind),
		logger:     logger,
	}
	if dump {
		deps.dump = newDumper(backend.Accel, stdout)
	}

	logger.Info("running", "backend", backend.Kind, "interval_ms", cfg.Poll.IntervalMS, "delay_ms", cfg.Poll.DelayMS)
	code := runLoop(gctx, deps)

	cancel()
	if err := g.Wait(); err != nil {
		logger.Error("service error", "error", err)
		if code == exitOK {
			code = exitService
		}
	}
	return code
}

// newDumper prints the latest raw and scaled readings of a.
func newDumper(a accel.Accelerometer, w io.Writer) func() {
	return func() {
		raw, err := a.ReadRaw()
		if err != nil {
			fmt.Fprintf(w, "dump: %v\n", err)
			return
		}
		if f, ok := a.(*accel.Filtered); ok {
			fmt.Fprintf(w, "raw=%v filtered=%v\n", raw, f.Estimate())
			return
		}
		fmt.Fprintf(w, "raw=%v scaled=%v\n", raw, raw.Scale(a.Scale()))
	}
}
