// Command entropy-qa-gate runs the entropy quality-assurance daemon: it
// characterises a TPM (falling back to OS-supplied entropy) through the
// FIPS 140-2 and Ent8/Ent16 batteries, records a rolling history of the
// combined verdict to SQLite, and serves the live result over both a
// Unix control socket and a TCP listen address.
//
// Usage:
//
//	entropy-qa-gate [flags]
//	entropy-qa-gate -query stats -addr 127.0.0.1:9454 [-id primary] [-format yaml]
//
// Flags:
//
//	-config string
//	    Path to config.toml (defaults to ~/.entropyqa/config.toml)
//	-foreground
//	    Log to stderr instead of the configured log file
//	-query string
//	    Instead of running the daemon, query a running one: "ids", "stats" or "raw"
//	-id string
//	    Monitor id to filter -query stats/raw to (empty selects all)
//	-addr string
//	    Control-plane address to query (default matches config's control_listen_addr)
//	-format string
//	    Output format for -query: "json" (default) or "yaml"
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"entropyqad/internal/config"
	"entropyqad/internal/control"
	"entropyqad/internal/entropyqa"
	"entropyqad/internal/entropyqa/history"
	"entropyqad/internal/hardware"
	"entropyqad/internal/health"
	"entropyqad/internal/ipc"
	"entropyqad/internal/logging"
	"entropyqad/internal/metrics"
	"entropyqad/internal/security"
	"entropyqad/internal/tracing"
)

const version = "0.1.0"

const primaryMonitorID = "primary"

const historyCaptureInterval = 30 * time.Second
const historyKeepPerMonitor = 2000

// controlRateLimit/controlBurst bound the HTTP control plane's request
// rate; they are deliberately generous since the surface is read-only,
// and kept as one source of truth with internal/security's own default.
const controlRateLimit = security.DefaultControlPlaneRate
const controlBurst = security.DefaultControlPlaneBurst

// maxHeapBytes gates the daemon's own heap-usage health check. The
// monitor's Ent8/Ent16 histograms are fixed-size, so sustained growth
// past this points at a leak rather than expected working-set size.
const maxHeapBytes = 256 * 1024 * 1024

var (
	configPath = flag.String("config", "", "path to config.toml")
	foreground = flag.Bool("foreground", false, "log to stderr instead of the configured log file")

	queryMode = flag.String("query", "", "query a running daemon instead of starting one: ids, stats or raw")
	queryID   = flag.String("id", "", "monitor id to filter -query stats/raw to")
	queryAddr = flag.String("addr", "", "control-plane address to query (defaults to the loaded config's control_listen_addr)")
	format    = flag.String("format", "json", "output format for -query: json or yaml")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "entropy-qa-gate: load config: %v\n", err)
		os.Exit(1)
	}

	if *queryMode != "" {
		if err := runQuery(cfg); err != nil {
			fmt.Fprintf(os.Stderr, "entropy-qa-gate: query: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := runDaemon(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "entropy-qa-gate: %v\n", err)
		os.Exit(1)
	}
}

// runQuery implements the CLI client mode: it fetches one of the
// control plane's JSON endpoints and re-encodes it as YAML when asked,
// exercising gopkg.in/yaml.v3 directly on the daemon's own output.
func runQuery(cfg *config.Config) error {
	addr := *queryAddr
	if addr == "" {
		addr = cfg.ControlListenAddr
	}

	var path string
	switch *queryMode {
	case "ids":
		path = "/ids"
	case "stats":
		if *queryID != "" {
			path = "/stats/" + *queryID
		} else {
			path = "/stats"
		}
	case "raw":
		if *queryID != "" {
			path = "/raw/" + *queryID
		} else {
			return fmt.Errorf("-query raw requires -id")
		}
	default:
		return fmt.Errorf("unknown -query mode %q (want ids, stats or raw)", *queryMode)
	}

	resp, err := http.Get(fmt.Sprintf("http://%s%s", addr, path))
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: %s", path, body)
	}

	var decoded interface{}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	switch *format {
	case "yaml":
		out, err := yaml.Marshal(decoded)
		if err != nil {
			return fmt.Errorf("marshal yaml: %w", err)
		}
		os.Stdout.Write(out)
	case "json", "":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(decoded)
	default:
		return fmt.Errorf("unknown -format %q (want json or yaml)", *format)
	}
	return nil
}

// runDaemon is the long-running mode: it wires every package together
// and blocks until SIGINT/SIGTERM.
func runDaemon(cfg *config.Config) error {
	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("ensure directories: %w", err)
	}

	logCfg := logging.DefaultConfig()
	logCfg.FilePath = cfg.LogPath
	if *foreground {
		logCfg.Output = "stderr"
	} else {
		logCfg.Output = "both"
	}
	logger, err := logging.New(logCfg)
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer logger.Close()
	logging.SetDefault(logger)

	auditLogger, err := logging.NewAuditLogger(logging.DefaultAuditConfig())
	if err != nil {
		return fmt.Errorf("init audit logger: %w", err)
	}
	defer auditLogger.Close()

	crashHandler := logging.NewCrashHandler(&logging.CrashHandlerConfig{
		Component: "entropy-qa",
		Version:   version,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	var runErr error
	crashHandler.Recover(func() {
		runErr = serve(ctx, cfg, logger, auditLogger, crashHandler)
	})
	return runErr
}

func serve(ctx context.Context, cfg *config.Config, logger *logging.Logger, auditLogger *logging.AuditLogger, crashHandler *logging.CrashHandler) error {
	qaMetrics := metrics.NewEntropyQAMetrics(metrics.Default())

	registry := entropyqa.NewMonitorRegistry()
	opts := entropyqa.MonitorOptions{
		AssumeEnt8OK:        cfg.AssumeEnt8OK,
		FIPSRecoveryMargin:  cfg.RecoveryMargin,
		Ent8RecoveryMargin:  cfg.Ent8RecoveryWindows,
		Ent16RecoveryMargin: cfg.Ent16RecoveryWindows,
		Ent8Tolerance:       cfg.Ent8Tol(),
		Ent16Tolerance:      cfg.Ent16Tol(),
	}
	monitor, err := entropyqa.NewHealthMonitorWithOptions(primaryMonitorID, opts, registry)
	if err != nil {
		return fmt.Errorf("create monitor: %w", err)
	}
	qaMetrics.MonitorRegistered()
	auditLogger.LogMonitorRegistered(ctx, monitor.ID())
	defer func() {
		monitor.Close()
		qaMetrics.MonitorDeregistered()
		auditLogger.LogMonitorClosed(ctx, monitor.ID())
	}()

	monitor.SetCheckHook(func(o entropyqa.CheckOutcome) {
		qaMetrics.RecordCheck(o.N, o.OverallOK, o.Duration)
		if !o.FipsOK {
			qaMetrics.RecordFipsFail()
		}
		if !o.Ent8OK {
			qaMetrics.RecordEnt8Fail()
		}
		if !o.Ent16OK {
			qaMetrics.RecordEnt16Fail()
		}
		if o.OverallFlipped {
			qaMetrics.RecordHysteresisFlip()
			auditLogger.LogVerdictFlip(ctx, monitor.ID(), "combined", o.OverallOK, map[string]interface{}{
				"fips_ok":  o.FipsOK,
				"ent8_ok":  o.Ent8OK,
				"ent16_ok": o.Ent16OK,
			})
		}
	})

	if cfg.TracingEnabled {
		tracing.InitTracer(&tracing.TracerConfig{
			ServiceName: "entropy-qa",
			Enabled:     true,
			Exporter:    tracing.NewStdoutExporter(false),
		})
		defer tracing.Shutdown()
	}

	watchPath := *configPath
	if watchPath == "" {
		watchPath = config.ConfigPath()
	}
	if watcher, err := config.NewConfigWatcher(watchPath); err != nil {
		logger.Warn("config hot-reload unavailable", "error", err)
	} else {
		watcher.OnChange(func(old, newCfg *config.Config) {
			logger.Warn("config file changed on disk; recovery margins and tolerances require a restart to take effect",
				"path", watchPath)
			auditLogger.LogConfigChange(ctx, "config_file", "previous", watchPath)
		})
		if err := watcher.Start(); err != nil {
			logger.Warn("config hot-reload watch failed", "error", err)
		} else {
			defer watcher.Stop()
		}
	}

	historyStore, err := history.Open(cfg.HistoryDBPath)
	if err != nil {
		return fmt.Errorf("open history store: %w", err)
	}
	defer historyStore.Close()

	recorder := history.NewRecorder(historyStore, monitor, historyCaptureInterval, historyKeepPerMonitor)
	go func() {
		defer crashHandler.RecoverGoroutine()
		recorder.Run(ctx)
	}()

	source, sourceName := openCharacterisationSource(logger)
	if closer, ok := source.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	sink := entropyqa.NewSecretSink(source, monitor, entropyqa.FIPSBlockSize, time.Duration(cfg.BlockDelayMS)*time.Millisecond)
	go func() {
		defer crashHandler.RecoverGoroutine()
		if err := sink.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("characterisation source stopped", "source", sourceName, "error", err)
		}
	}()

	checker := health.NewChecker()
	checker.RegisterFunc("entropy-quality", true, health.CustomCheck(func() error {
		if !monitor.OK() {
			return fmt.Errorf("combined QA verdict is FAIL")
		}
		return nil
	}))
	checker.RegisterFunc("history-db-present", false, health.FileExistsCheck(cfg.HistoryDBPath))
	checker.RegisterFunc("heap-usage", false, health.MemoryCheck(maxHeapBytes))
	checker.SetReady(true)

	controlServer := control.New(control.Config{
		Registry:  registry,
		Checker:   checker,
		Metrics:   qaMetrics,
		Logger:    logger,
		RateLimit: controlRateLimit,
		Burst:     controlBurst,
	})

	socketListener, err := ipc.Listen(cfg.SocketPath)
	if err != nil {
		return fmt.Errorf("listen on control socket: %w", err)
	}
	defer func() { _ = ipc.CleanupSocket(cfg.SocketPath) }()

	tcpListener, err := net.Listen("tcp", cfg.ControlListenAddr)
	if err != nil {
		socketListener.Close()
		return fmt.Errorf("listen on control address: %w", err)
	}

	auditLogger.LogStartup(ctx, version, map[string]interface{}{
		"socket_path":         cfg.SocketPath,
		"control_listen_addr": cfg.ControlListenAddr,
		"source":              sourceName,
	})
	logger.Info("entropy-qa-gate started",
		"socket_path", cfg.SocketPath,
		"control_listen_addr", cfg.ControlListenAddr,
		"source", sourceName,
	)

	serveErrs := make(chan error, 2)
	go func() { serveErrs <- controlServer.Serve(socketListener) }()
	go func() { serveErrs <- controlServer.Serve(tcpListener) }()

	select {
	case <-ctx.Done():
	case err := <-serveErrs:
		if err != nil && ctx.Err() == nil {
			logger.Error("control server exited unexpectedly", "error", err)
		}
	}

	controlServer.Close()
	auditLogger.LogShutdown(ctx, "signal")
	logger.Info("entropy-qa-gate stopped")
	return nil
}

// openCharacterisationSource prefers a TPM's hardware RNG and falls back
// to plain OS-supplied entropy when none is available - the daemon
// always has something to characterise, it just logs which.
func openCharacterisationSource(logger *logging.Logger) (entropyqa.Source, string) {
	tpmSource, err := hardware.OpenTPMCharacterisationSource()
	if err != nil {
		logger.Warn("no TPM available, characterising OS entropy instead", "error", err)
		return osRandomSource{}, "os"
	}
	return tpmSource, "tpm"
}
