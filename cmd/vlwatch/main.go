// Command vlwatch watches captured VolumeLeaders API responses and raises
// a desktop notification for every touch or trade that is new today.
//
// Usage:
//
//	vlwatch -config vlwatch.yaml
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"vlwatch/internal/api"
	"vlwatch/internal/config"
	"vlwatch/internal/engine"
	"vlwatch/internal/ingest"
	"vlwatch/internal/logging"
	"vlwatch/internal/metrics"
	"vlwatch/internal/model"
	"vlwatch/internal/notify"
	"vlwatch/internal/seenset"
	"vlwatch/internal/storage"
	"vlwatch/internal/sweeper"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "vlwatch.yaml", "path to config file (YAML or JSON); created with defaults if missing")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, config.ResolvePath(*configPath)); err != nil {
		fmt.Fprintln(os.Stderr, "vlwatch:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, path string) error {
	cfgManager, err := loadOrCreate(path)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	cfg := cfgManager.Get()
	logger := logging.NewLogger(cfg.LogLevel, cfg.LogFormat)
	logger.Info("vlwatch starting", "version", version, "config", path, "storage", cfg.Storage.Driver)

	kv, err := storage.NewStore(cfg.Storage)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer kv.Close()
	if err := kv.Init(ctx); err != nil {
		return fmt.Errorf("storage init: %w", err)
	}

	seen := seenset.New(kv)
	stats := metrics.NewStore()
	gateway := notify.NewGateway(cfg.Notifications, logger, nil)
	eng := engine.NewEngine(cfg, logger, seen, gateway, model.SystemClock{}, stats)

	captures := make(chan model.Capture, cfg.Ingest.ChannelBuffer)
	eng.Start(ctx, captures)

	sw := sweeper.New(seen, model.SystemClock{}, cfg.Location(), cfg.Retention.HorizonDays, cfg.Retention.Interval, logger)
	go sw.Run(ctx)

	parser := ingest.NewParser()
	ingest.StartREST(ctx, cfgManager, parser, captures, logger)
	ingest.StartKafka(ctx, cfgManager, parser, captures, logger)
	ingest.StartFileTail(ctx, cfgManager, parser, captures, logger)
	if _, err := ingest.StartBrowser(ctx, cfgManager, captures, logger); err != nil {
		logger.Error("browser ingest failed", "err", err)
	}

	server := api.NewServer(cfgManager, eng, seen, gateway.History(), stats, gateway, logger, version)
	api.Start(ctx, server)

	go cfgManager.Watch(3*time.Second, func(next *config.Config) {
		eng.UpdateConfig(next)
		sw.Configure(next.Location(), next.Retention.HorizonDays, next.Retention.Interval)
		logger.Info("config reloaded")
	}, func(err error) {
		logger.Warn("config reload failed", "err", err)
	}, ctx.Done())

	<-ctx.Done()
	logger.Info("shutting down")
	eng.Wait()
	return nil
}

// loadOrCreate opens the config file, writing the defaults first when it
// does not exist yet.
func loadOrCreate(path string) (*config.Manager, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := config.Save(path, config.DefaultConfig()); err != nil {
			return nil, err
		}
		slog.Info("wrote default config", "path", path)
	}
	return config.NewManager(path)
}
