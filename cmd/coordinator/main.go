package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/parumu/gg18coord/internal/audit"
	"github.com/parumu/gg18coord/internal/clock"
	"github.com/parumu/gg18coord/internal/config"
	"github.com/parumu/gg18coord/internal/httpapi"
	"github.com/parumu/gg18coord/internal/notify"
	"github.com/parumu/gg18coord/internal/session"
)

func main() {
	configFile := flag.String("config", "", "path to a config file (optional)")
	fs := pflag.NewFlagSet("coordinator", pflag.ExitOnError)
	config.Flags(fs)
	fs.AddGoFlagSet(flag.CommandLine)
	fs.Parse(os.Args[1:])

	cfg, err := config.Load(*configFile, fs)
	if err != nil {
		panic(err)
	}

	logger := setupLogger(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("starting gg18coord",
		zap.String("node_id", cfg.NodeID),
		zap.String("http_addr", cfg.HTTPAddr),
		zap.String("eth_network", cfg.EthNetwork.String()),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	auditStore, err := newAuditStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize audit store", zap.Error(err))
	}
	defer auditStore.Close()

	store := session.New(session.Config{
		MaxSessions:    cfg.MaxSessions,
		SessionTTL:     cfg.SessionTTL,
		FailedTTL:      cfg.FailedTTL,
		MaxSigRetries:  cfg.MaxSigRetries,
		BgTaskInterval: cfg.BgTaskInterval,
		Network:        cfg.EthNetwork,
	}, clock.Real{}, logger, notify.New(logger), auditStore)

	go store.Run(ctx)

	srv := &httpapi.Server{Store: store, Network: cfg.EthNetwork, Logger: logger}
	router := httpapi.NewRouter(srv)

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: router,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server failed", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutting down gracefully...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newAuditStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (audit.Store, error) {
	if cfg.AuditDSN == "" {
		logger.Info("no audit_dsn configured, using in-memory audit store")
		return audit.NewMemoryStore(), nil
	}
	logger.Info("using postgres audit store")
	return audit.NewPostgresStore(ctx, cfg.AuditDSN, cfg.WebhookSecret, logger)
}

func setupLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Encoding:    "json",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "ts",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.LowercaseLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	return logger
}
