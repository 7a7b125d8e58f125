package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mcclellann/loanLedger/pkg/auth"
	"github.com/mcclellann/loanLedger/pkg/config"
	"github.com/mcclellann/loanLedger/pkg/events"
	"github.com/mcclellann/loanLedger/pkg/ledger"
	"github.com/mcclellann/loanLedger/pkg/notify"
	"github.com/mcclellann/loanLedger/pkg/store"
	"github.com/sirupsen/logrus"
)

func openStore(cfg *config.Config, logger *logrus.Logger) (store.Storage, error) {
	switch cfg.DBDriver {
	case config.DriverPostgres:
		return store.NewPostgresStore(cfg.DBConn, logger)
	case config.DriverMemory:
		logger.Warn("Using in-memory storage; data is lost on restart")
		return store.NewMemoryStore(), nil
	default:
		return store.NewSQLiteStore(cfg.DBConn, logger)
	}
}

func main() {
	// Initialize logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}
	logLevel, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	storage, err := openStore(cfg, logger)
	if err != nil {
		logger.Fatalf("Failed to initialize storage: %v", err)
	}
	defer storage.Close()

	opts := []ledger.Option{ledger.WithDefaultGracePeriod(cfg.DefaultGraceDays)}
	if len(cfg.KafkaBrokers) > 0 {
		publisher := events.NewPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer publisher.Close()
		opts = append(opts, ledger.WithPublisher(publisher))
		logger.WithField("topic", cfg.KafkaTopic).Info("Publishing activity to Kafka")
	}

	server := NewServer(
		ledger.NewLedger(storage, logger, opts...),
		auth.NewVerifier(cfg.JWTSecret),
		notify.NewSender(cfg, logger),
		logger,
	)

	httpServer := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      server.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Infof("Server starting on %s", cfg.Addr())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("Server failed: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Errorf("Graceful shutdown failed: %v", err)
	}
	logger.Info("Server stopped")
}
