package main

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"isolend/core/events"
	"isolend/native/lending"
	"isolend/observability"
	"isolend/observability/logging"
	telemetry "isolend/observability/otel"
	"isolend/services/lending/journal"
	"isolend/services/lending/server"
	"isolend/services/lendingd/config"
	"isolend/storage"
)

const readHeaderTimeout = 10 * time.Second

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	var cfgPath, envFile string
	flag.StringVar(&cfgPath, "config", "services/lendingd/config.yaml", "path to lendingd config")
	flag.StringVar(&envFile, "env-file", ".env", "optional dotenv file with LENDINGD_* overrides")
	flag.Parse()

	if err := run(cfgPath, envFile); err != nil {
		log.Fatalf("lendingd: %v", err)
	}
}

func run(cfgPath, envFile string) error {
	cfg, err := config.Load(cfgPath, envFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	var sink *logging.FileSink
	if cfg.Log.File != "" {
		sink = &logging.FileSink{
			Path:       cfg.Log.File,
			MaxSizeMB:  cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAgeDays: cfg.Log.MaxAgeDays,
			Compress:   cfg.Log.Compress,
		}
	}
	logger, logCloser := logging.SetupWithOptions("lendingd", cfg.Environment, logging.Options{
		Level: logging.ParseLevel(cfg.Log.Level),
		File:  sink,
	})
	defer logCloser.Close()

	params, err := lending.LoadConfig(cfg.ParamsFile)
	if err != nil {
		return err
	}

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetryConfig(cfg, params))
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			logger.Warn("telemetry shutdown", "error", err)
		}
	}()

	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "state"))
	if err != nil {
		return fmt.Errorf("open state db: %w", err)
	}
	defer db.Close()

	dsn := cfg.JournalDSN
	if dsn == "" {
		dsn, err = journal.FileDSN(filepath.Join(cfg.DataDir, "journal.db"))
		if err != nil {
			return err
		}
	}
	history, err := journal.Open(dsn, logger)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer history.Close()

	stack, err := buildLedger(db, params, events.Multi{history, observability.EventRecorder{}}, logger)
	if err != nil {
		return fmt.Errorf("bootstrap ledger: %w", err)
	}

	listener, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.ListenAddress, err)
	}
	if !cfg.TLS.Enabled() {
		tcpAddr, _ := listener.Addr().(*net.TCPAddr)
		loopback := tcpAddr != nil && tcpAddr.IP != nil && tcpAddr.IP.IsLoopback()
		if !strings.EqualFold(cfg.Environment, "dev") && !loopback {
			listener.Close()
			return fmt.Errorf("plaintext lendingd mode is restricted to loopback listeners or dev environment")
		}
	}

	srv := server.New(stack.Adapter(), logger, server.Options{
		ServiceName: "lendingd",
		Auth:        cfg.Auth,
		RateLimit:   cfg.RateLimit,
		History:     history,
	})
	httpServer := &http.Server{
		Handler:           srv.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}
	if cfg.TLS.Enabled() {
		cert, err := tls.LoadX509KeyPair(cfg.TLS.CertPath, cfg.TLS.KeyPath)
		if err != nil {
			listener.Close()
			return fmt.Errorf("load tls keypair: %w", err)
		}
		httpServer.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12, Certificates: []tls.Certificate{cert}}
		listener = tls.NewListener(listener, httpServer.TLSConfig)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("lendingd listening", "address", listener.Addr().String(), "tls", cfg.TLS.Enabled())
		serverErr <- httpServer.Serve(listener)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("forcing server stop", "error", err)
			_ = httpServer.Close()
		}
		return nil
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve http: %w", err)
		}
		return nil
	}
}

// telemetryConfig reports the daemon under the ledger it serves so traces of
// separate deployments can be told apart.
func telemetryConfig(cfg config.Config, params *lending.Config) telemetry.Config {
	out := cfg.Telemetry.Exporter("lendingd", cfg.Environment)
	out.ServiceVersion = version
	out.Attributes = map[string]string{
		"isolend.ledger.owner":             params.Owner,
		"isolend.ledger.custody":           params.Custody,
		"isolend.auction.duration":         params.Auction.Duration,
		"isolend.auction.max_discount_bps": strconv.FormatUint(params.Auction.MaxDiscountBps, 10),
	}
	return out
}
