package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/basket/geomcp/internal/amap"
	"github.com/basket/geomcp/internal/channel"
	"github.com/basket/geomcp/internal/config"
	"github.com/basket/geomcp/internal/dispatch"
	"github.com/basket/geomcp/internal/functions"
	"github.com/basket/geomcp/internal/gateway"
	"github.com/basket/geomcp/internal/heartbeat"
	otelPkg "github.com/basket/geomcp/internal/otel"
	"github.com/basket/geomcp/internal/persistence"
	"github.com/basket/geomcp/internal/schedule"
	"github.com/basket/geomcp/internal/telemetry"
)

// Version is set via ldflags at build time: -ldflags "-X main.Version=..."
var Version = "v1.0-dev"

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage of %s:

  %s                          Start the GeoMCP server
  %s set-key <name> <value>   Store an API key in config.yaml (e.g. set-key amap XXXX)
  %s -version                 Print version and exit

FLAGS:
`, os.Args[0], os.Args[0], os.Args[0], os.Args[0])
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, `
ENVIRONMENT VARIABLES:
  GEOMCP_HOME             Data directory (default: ~/.geomcp)
  AMAP_API_KEY            Amap web service key (enables POI/geocode/route functions)
  GAODE_API_KEY           Alias for AMAP_API_KEY
`)
}

func main() {
	loadDotEnv(".env")

	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Usage = printUsage
	flag.Parse()
	if *showVersion {
		fmt.Println(Version)
		return
	}
	if flag.NArg() > 0 {
		runCommand(flag.Args())
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		fatalStartup(nil, "E_CONFIG_LOAD", err)
	}

	logger, closer, err := telemetry.NewLogger(cfg.HomeDir, cfg.LogLevel, false)
	if err != nil {
		fatalStartup(nil, "E_LOGGER_INIT", err)
	}
	defer closer.Close()
	slog.SetDefault(logger)
	logger.Info("startup phase", "phase", "config_loaded", "fingerprint", cfg.Fingerprint())

	if host, _, err := net.SplitHostPort(cfg.BindAddr); err == nil {
		h := strings.TrimSpace(strings.ToLower(host))
		loopback := h == "127.0.0.1" || h == "localhost" || h == "::1"
		if !loopback && !cfg.CORS.Enabled {
			logger.Warn("CORS is disabled on a non-loopback bind; cross-origin browser clients will be rejected", "bind_addr", cfg.BindAddr)
		}
	}

	// Initialize OpenTelemetry (no-op when disabled, zero overhead).
	otelProvider, err := otelPkg.Init(ctx, otelPkg.Config{
		Enabled:     cfg.Telemetry.Enabled,
		Exporter:    cfg.Telemetry.Exporter,
		Endpoint:    cfg.Telemetry.Endpoint,
		ServiceName: cfg.Telemetry.ServiceName,
		SampleRate:  cfg.Telemetry.SampleRate,
	})
	if err != nil {
		fatalStartup(logger, "E_OTEL_INIT", err)
	}
	defer otelProvider.Shutdown(context.Background())
	metrics, err := otelPkg.NewMetrics(otelProvider.Meter)
	if err != nil {
		fatalStartup(logger, "E_OTEL_INIT", err)
	}

	dbPath := filepath.Join(cfg.HomeDir, "geomcp.db")
	store, err := persistence.Open(dbPath)
	if err != nil {
		fatalStartup(logger, "E_STORE_OPEN", err)
	}
	defer store.Close()
	logger.Info("startup phase", "phase", "schema_migrated", "db", dbPath)

	amapClient := amap.NewClient(cfg.APIKeys["amap"], cfg.Amap.BaseURL, cfg.AmapTimeout())
	if !amapClient.Available() {
		logger.Warn("no Amap API key configured; POI, geocode and route functions will report failure")
	}

	registry := functions.NewRegistry()
	if err := functions.RegisterBuiltins(registry, amapClient); err != nil {
		fatalStartup(logger, "E_FUNCTION_REGISTER", err)
	}
	logger.Info("startup phase", "phase", "functions_registered", "count", registry.Len())

	channels := channel.NewRegistry(cfg.QueueSize(), logger)
	dispatcher := dispatch.New(registry, channels, cfg.CallTimeout(), logger, metrics)
	dispatcher.SetTracer(otelProvider.Tracer)

	emitter := heartbeat.New(channels, cfg.HeartbeatInterval(), logger)
	emitter.SetMetrics(metrics)
	if err := emitter.Start(); err != nil {
		fatalStartup(logger, "E_HEARTBEAT_START", err)
	}
	defer emitter.Stop()

	scheduler := schedule.NewScheduler(schedule.Config{
		Store:      store,
		Dispatcher: dispatcher,
		Channels:   channels,
		Logger:     logger,
		Interval:   cfg.ScheduleInterval(),
	})
	scheduler.Start(ctx)
	defer scheduler.Stop()
	logger.Info("startup phase", "phase", "scheduler_started")

	confWatcher := config.NewWatcher(cfg.HomeDir, logger)
	if err := confWatcher.Start(ctx); err != nil {
		logger.Warn("config watcher unavailable; edits to config.yaml require a restart", "error", err)
	} else {
		go func() {
			for ev := range confWatcher.Events() {
				logger.Info("config hot-reload event", "path", ev.Path, "op", ev.Op.String())
				newCfg, err := config.Load()
				if err != nil {
					logger.Error("config.yaml reload failed", "error", err)
					continue
				}
				amapClient.SetAPIKey(newCfg.APIKeys["amap"])
				logger.Info("config.yaml hot-reloaded", "fingerprint", newCfg.Fingerprint())
			}
		}()
	}

	gw := gateway.New(gateway.Config{
		Channels:          channels,
		Dispatcher:        dispatcher,
		Functions:         registry,
		Store:             store,
		Logger:            logger,
		Metrics:           metrics,
		ConfigFingerprint: cfg.Fingerprint(),
		AllowOrigins:      cfg.CORS.AllowedOrigins,
	})

	handler := gateway.RequestSizeLimitMiddleware(cfg.BodyLimit())(gw.Handler())
	rl := gateway.NewRateLimitMiddleware(cfg.RateLimit)
	rl.SetMetrics(metrics)
	rl.StartEviction(ctx, 5*time.Minute, 30*time.Minute)
	handler = rl.Wrap(handler)
	handler = gateway.NewCORSMiddleware(cfg.CORS)(handler)

	server := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: handler,
	}
	serverErr := make(chan error, 1)
	lc := &net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			return c.Control(func(fd uintptr) {
				_ = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1)
			})
		},
	}
	ln, err := lc.Listen(ctx, "tcp", cfg.BindAddr)
	if err != nil {
		if isAddrInUse(err) {
			fatalStartup(logger, "E_LISTENER_BIND",
				fmt.Errorf("%w\n\n  Another process is using %s. Stop it first or change bind_addr in config.yaml.", err, cfg.BindAddr))
		}
		fatalStartup(logger, "E_LISTENER_BIND", err)
	}
	go func() {
		logger.Info("gateway listening", "addr", cfg.BindAddr, "sse", "/sse", "ws", "/ws")
		if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		logger.Error("gateway server error", "error", err)
	}

	// Graceful shutdown: stop intake, close push channels, drain in-flight calls.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
	scheduler.Stop()
	emitter.Stop()
	channels.CloseAll()
	if !dispatcher.Wait(5 * time.Second) {
		logger.Warn("in-flight calls still running at shutdown deadline")
	}
	logger.Info("shutdown complete")
}

// runCommand handles one-shot subcommands that run and exit instead of
// starting the server.
func runCommand(args []string) {
	switch args[0] {
	case "set-key":
		if len(args) != 3 {
			fmt.Fprintln(os.Stderr, "usage: geomcpd set-key <name> <value>")
			os.Exit(2)
		}
		cfg, err := config.Load()
		if err != nil {
			fatalStartup(nil, "E_CONFIG_LOAD", err)
		}
		if err := config.SetAPIKey(cfg.HomeDir, args[1], args[2]); err != nil {
			fatalStartup(nil, "E_CONFIG_WRITE", err)
		}
		fmt.Printf("api key %q saved to %s\n", args[1], filepath.Join(cfg.HomeDir, "config.yaml"))
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", args[0])
		printUsage()
		os.Exit(2)
	}
}

func fatalStartup(logger *slog.Logger, reasonCode string, err error) {
	message := ""
	if err != nil {
		message = err.Error()
	}
	if logger != nil {
		logger.Error("startup failure", "reason_code", reasonCode, "error", message)
	} else {
		fmt.Fprintf(
			os.Stderr,
			`{"timestamp":"%s","level":"ERROR","component":"geomcp","trace_id":"-","msg":"startup failure","reason_code":%q,"error":%q}`+"\n",
			time.Now().UTC().Format(time.RFC3339Nano),
			reasonCode,
			message,
		)
	}
	os.Exit(1)
}

func isAddrInUse(err error) bool {
	if opErr, ok := err.(*net.OpError); ok {
		if sysErr, ok := opErr.Err.(*os.SyscallError); ok {
			return sysErr.Err == syscall.EADDRINUSE
		}
	}
	return strings.Contains(err.Error(), "address already in use")
}

func loadDotEnv(path string) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		eq := strings.Index(line, "=")
		if eq <= 0 {
			continue
		}
		key := strings.TrimSpace(line[:eq])
		val := strings.TrimSpace(line[eq+1:])
		if key == "" || os.Getenv(key) != "" {
			continue
		}
		_ = os.Setenv(key, val)
	}
}
