package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/banshee-data/drowsiness.monitor/internal/api"
	"github.com/banshee-data/drowsiness.monitor/internal/blink"
	"github.com/banshee-data/drowsiness.monitor/internal/config"
	"github.com/banshee-data/drowsiness.monitor/internal/db"
	"github.com/banshee-data/drowsiness.monitor/internal/engine"
	"github.com/banshee-data/drowsiness.monitor/internal/monitoring"
	"github.com/banshee-data/drowsiness.monitor/internal/notify"
	"github.com/banshee-data/drowsiness.monitor/internal/version"
)

var (
	configPath  = flag.String("config", "", "Path to monitor JSON config (defaults built in)")
	devMode     = flag.Bool("dev", false, "Run against simulated sensors through the serial bridge emulator")
	adcBackend  = flag.String("adc", "", "ADC backend: periph, serial or sim (overrides config)")
	listen      = flag.String("listen", "", "HTTP listen address (overrides config)")
	dbPath      = flag.String("db", "", "Alert journal path; \"-\" disables the journal (overrides config)")
	blinkFIFO   = flag.String("blink", "", "Blink detector FIFO path; \"-\" disables blink input (overrides config)")
	logLevel    = flag.String("log-level", "", "Log level: debug, info, warn, error (overrides config)")
	logFormat   = flag.String("log-format", "", "Log format: json or console (overrides config)")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

// loadConfig reads path (or the built-in defaults) and applies any
// non-empty command line overrides.
func loadConfig(path string, overrides map[string]string, dev bool) (*config.MonitorConfig, error) {
	cfg := config.DefaultMonitorConfig()
	if path != "" {
		loaded, err := config.LoadMonitorConfig(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if dev {
		sim := "sim"
		cfg.ADCBackend = &sim
		if overrides["blink"] == "" {
			overrides["blink"] = "-"
		}
	}
	set := func(dst **string, key string) {
		if v := overrides[key]; v != "" {
			*dst = &v
		}
	}
	set(&cfg.ADCBackend, "adc")
	set(&cfg.Listen, "listen")
	set(&cfg.DatabasePath, "db")
	set(&cfg.BlinkFIFO, "blink")
	set(&cfg.LogLevel, "log-level")
	set(&cfg.LogFormat, "log-format")
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// disabled reports whether a path setting was turned off with "-".
func disabled(path string) bool { return path == "" || path == "-" }

func main() {
	flag.Parse()

	// registered first so it runs after every other deferred cleanup
	exitCode := 0
	defer func() {
		if exitCode != 0 {
			os.Exit(exitCode)
		}
	}()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	cfg, err := loadConfig(*configPath, map[string]string{
		"adc":        *adcBackend,
		"listen":     *listen,
		"db":         *dbPath,
		"blink":      *blinkFIFO,
		"log-level":  *logLevel,
		"log-format": *logFormat,
	}, *devMode)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := monitoring.NewLogger(cfg.GetLogLevel(), cfg.GetLogFormat(), "drowsyd")
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()
	monitoring.UseZap(logger)
	logger.Info("starting", zap.String("version", version.Version), zap.String("git_sha", version.GitSHA))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backend := cfg.GetADCBackend()
	if *devMode {
		backend = "dev"
	}
	hw, bridge, err := openHardware(ctx, backend, cfg)
	if err != nil {
		logger.Fatal("failed to open hardware", zap.String("adc_backend", backend), zap.Error(err))
	}

	var journal *db.DB
	if path := cfg.GetDatabasePath(); !disabled(path) {
		journal, err = db.NewDB(path)
		if err != nil {
			logger.Fatal("failed to open alert journal", zap.String("path", path), zap.Error(err))
		}
		defer journal.Close()
	}

	var sinks []notify.Sink
	if broker := cfg.GetMQTTBroker(); broker != "" {
		client, err := notify.ConnectMQTT(broker, cfg.GetMQTTClientID(), 10*time.Second)
		if err != nil {
			logger.Fatal("failed to connect to MQTT broker", zap.Error(err))
		}
		defer client.Disconnect(250)
		sinks = append(sinks, notify.NewMQTTSink(client, cfg.GetMQTTTopic()))
	}
	if addr := cfg.GetRedisAddr(); addr != "" {
		client, err := notify.DialRedis(ctx, addr)
		if err != nil {
			logger.Fatal("failed to connect to Redis", zap.Error(err))
		}
		defer client.Close()
		sinks = append(sinks, notify.NewRedisSink(client, cfg.GetRedisStream(), 10000))
	}

	// The blink detector creates its FIFO when it starts; wait for it so
	// fusion never runs with a half-connected channel.
	if path := cfg.GetBlinkFIFO(); !disabled(path) {
		src, err := blink.OpenFIFO(ctx, path, cfg.GetBlinkRetryEvery(), nil)
		if err != nil {
			logger.Fatal("failed to open blink FIFO", zap.String("path", path), zap.Error(err))
		}
		hw.Blinks = src
	}

	eng, err := engine.New(hw, engine.Options{
		Config:     cfg,
		Logger:     logger.Named("engine"),
		Journal:    journal,
		Sinks:      sinks,
		ADCBackend: backend,
	})
	if err != nil {
		logger.Fatal("failed to start engine", zap.Error(err))
	}

	var wg sync.WaitGroup

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		opts := api.Options{
			Arbiter:    eng.Arbiter(),
			State:      eng.State(),
			Buzzer:     eng.Buzzer(),
			Dispatcher: eng.Dispatcher(),
			SessionID:  eng.SessionID(),
			ADCBackend: backend,
		}
		if journal != nil {
			opts.Alerts = journal
		}
		mux := api.NewServer(opts).ServeMux()
		if journal != nil {
			if err := journal.AttachAdminRoutes(mux); err != nil {
				logger.Error("failed to attach journal admin routes", zap.Error(err))
			}
		}
		if bridge != nil {
			bridge.AttachAdminRoutes(mux)
		}

		server := &http.Server{
			Addr:    cfg.GetListen(),
			Handler: api.LoggingMiddleware(mux),
		}

		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("HTTP server failed", zap.Error(err))
				stop()
			}
		}()
		logger.Info("HTTP server listening", zap.String("addr", cfg.GetListen()))

		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("HTTP server shutdown", zap.Error(err))
		}
	}()

	if err := eng.Run(ctx); err != nil {
		logger.Error("engine stopped with errors", zap.Error(err))
		exitCode = 1
	}
	wg.Wait()
	logger.Info("graceful shutdown complete")
}
