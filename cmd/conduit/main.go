package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"conduit-client/internal/app"
	"conduit-client/internal/config"
	"conduit-client/internal/storage"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	logger.SetOutput(os.Stderr)

	fs := pflag.NewFlagSet("conduit", pflag.ExitOnError)
	fs.SetInterspersed(false)
	config.RegisterFlags(fs)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: conduit [flags] <command> [command flags]\n\ncommands:\n%s\nflags:\n", commandList())
		fs.PrintDefaults()
	}
	_ = fs.Parse(os.Args[1:])
	if fs.NArg() == 0 {
		fs.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(fs)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	level, err := logrus.ParseLevel(cfg.Log.Level)
	if err != nil {
		logger.Fatalf("parse log level: %v", err)
	}
	logger.SetLevel(level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, err := storage.OpenSQLite(cfg.Session.Path)
	if err != nil {
		logger.Fatalf("open session store: %v", err)
	}
	defer backend.Close()

	cli := &cli{
		app:     app.New(app.FromConfig(cfg, backend, logger)),
		backend: backend,
		out:     os.Stdout,
		in:      bufio.NewReader(os.Stdin),
	}
	if err := cli.run(ctx, fs.Args()); err != nil {
		fmt.Fprintf(os.Stderr, "conduit: %v\n", err)
		stop()
		backend.Close()
		os.Exit(1)
	}
}
