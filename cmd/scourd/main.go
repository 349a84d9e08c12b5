package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"scour/internal/config"
	"scour/internal/credits"
	"scour/internal/daemon"
	"scour/internal/logging"
	"scour/internal/queue"
	"scour/internal/taskrun"
)

func main() {
	configPath := flag.String("config", "", "configuration file path")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, _, _, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}

	store, err := queue.Open(cfg)
	if err != nil {
		logger.Error("open queue store", logging.Error(err))
		return
	}
	defer store.Close()

	runner, err := taskrun.NewClient(cfg)
	if err != nil {
		logger.Error("create task client", logging.Error(err))
		return
	}

	d, err := daemon.New(cfg, store, runner, credits.NoopLedger{}, logger)
	if err != nil {
		logger.Error("create daemon", logging.Error(err))
		return
	}

	if err := d.Start(ctx); err != nil {
		logger.Error("daemon start", logging.Error(err))
		return
	}
	defer d.Stop()

	<-ctx.Done()
	logger.Info("scourd shutting down")
}
