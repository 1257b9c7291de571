package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"conduit-client/internal/config"
	"conduit-client/internal/stubapi"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	fs := pflag.NewFlagSet("stubapi", pflag.ExitOnError)
	config.RegisterFlags(fs)
	fs.String("addr", "", "listen address")
	fs.Bool("seed", true, "create the demo account and articles")
	dbPath := fs.String("db", "", "sqlite file for accounts (default in memory)")
	_ = fs.Parse(os.Args[1:])

	cfg, err := config.Load(fs)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	if level, err := logrus.ParseLevel(cfg.Log.Level); err == nil {
		logger.SetLevel(level)
	}

	if strings.TrimSpace(cfg.Stub.JWTSecret) == "" {
		logger.Fatalf("stub jwt secret is required (CONDUIT_STUB_JWTSECRET)")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stub, err := stubapi.New(ctx, stubapi.Config{
		DBPath:    *dbPath,
		Prefix:    cfg.Stub.Prefix,
		JWTSecret: cfg.Stub.JWTSecret,
		TokenTTL:  cfg.Stub.TokenTTL,
		Logger:    logger,
	})
	if err != nil {
		logger.Fatalf("setup stub: %v", err)
	}
	defer stub.Close()

	if cfg.Stub.Seed {
		if err := stub.Seed(ctx); err != nil {
			logger.Warnf("seed: %v", err)
		}
	}

	srv := &http.Server{
		Addr:    cfg.Stub.Addr,
		Handler: stub.Handler(),
	}

	go func() {
		logger.Infof("listening on %s", cfg.Stub.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("http server: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("http shutdown: %v", err)
	}

	logger.Info("bye")
}
