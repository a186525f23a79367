// Command zubotd runs the local automation daemon: it loads config, wires
// the central service (store, SQL gateway, heartbeat, dispatcher, provider
// queues, memory pipeline) and starts the Control API, following the
// teacher's cmd/bot boot sequence (config load -> app construction ->
// signal-driven Start/Stop).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"zubot/internal/central"
	"zubot/internal/config"
	"zubot/internal/eventbus"
	"zubot/internal/httpapi"
	"zubot/internal/runner"
	logx "zubot/pkg/logx"
	"zubot/pkg/systemd"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./config.json", "path to config json")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfgPath); err != nil {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfgPath string) error {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	defer logSvc.Close()
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	bus := eventbus.New()
	taskRunner := runner.New(cfg.Runner.LogDir, log.With(logx.String("comp", "runner")))

	svc, err := central.New(ctx, *cfg, log.With(logx.String("comp", "central")), bus, taskRunner)
	if err != nil {
		return fmt.Errorf("build central service: %w", err)
	}
	defer func() {
		if err := svc.Close(); err != nil {
			log.Warn("close store", logx.Err(err))
		}
	}()

	// Config edits picked up mid-run are committed to cfgm only: svc holds
	// the copy it was built with and nothing subscribes to reloads, so no
	// running component or logger sees a change until the process restarts.
	go func() {
		if err := cfgm.Watch(ctx); err != nil && ctx.Err() == nil {
			log.Warn("config watch stopped", logx.Err(err))
		}
	}()

	if cfg.Central.Enabled {
		svc.Start(ctx)
	}
	defer svc.Stop(context.Background())

	api := httpapi.New(svc, log.With(logx.String("comp", "httpapi")))
	if cfg.HTTP.Enabled {
		addr := cfg.HTTP.Addr
		errCh := make(chan error, 1)
		go func() {
			if err := api.Start(addr); err != nil {
				errCh <- err
			}
		}()
		log.Info("control api listening", logx.String("addr", addr))

		select {
		case err := <-errCh:
			return fmt.Errorf("control api: %w", err)
		case <-time.After(100 * time.Millisecond):
			// give echo a moment to bind before announcing readiness.
		}
	}

	systemd.NotifyReady()
	go systemd.WatchdogLoop(ctx)
	log.Info("zubotd ready", logx.String("config", cfgPath))

	<-ctx.Done()
	log.Info("shutting down")
	systemd.NotifyStopping()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if cfg.HTTP.Enabled {
		if err := api.Shutdown(shutdownCtx); err != nil {
			log.Warn("http shutdown", logx.Err(err))
		}
	}
	svc.Stop(shutdownCtx)

	return nil
}
