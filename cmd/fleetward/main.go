package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fleetward/global"
	"fleetward/initialize"
)

func main() {
	var (
		configPath    = flag.String("config", "config/config.yaml", "Path to the YAML config file")
		dispatchEvery = flag.Duration("dispatch-every", 5*time.Second, "Interval between dispatch passes")
		scoreEvery    = flag.Duration("score-every", 5*time.Minute, "Interval between fleet scoring runs")
	)
	flag.Parse()

	app, err := initialize.Build(*configPath)
	if err != nil {
		global.Logger.Fatal().Err(err).Msg("build failed")
	}
	if err := app.Watcher.Start(); err != nil {
		global.Logger.Warn().Err(err).Msg("config hot-reload unavailable")
	}
	defer app.Watcher.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		t := time.NewTicker(*scoreEvery)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				sum, err := app.Scorer.ScoreFleet(ctx)
				if err != nil {
					global.Logger.Error().Err(err).Msg("fleet scoring failed")
					continue
				}
				global.Logger.Info().
					Int("healthy", sum.Healthy).Int("warning", sum.Warning).
					Int("critical", sum.Critical).Int("offline", sum.Offline).
					Msg("fleet scored")
			}
		}
	}()

	global.Logger.Info().Str("config", *configPath).Msg("fleetward orchestrator started")
	app.Executor.Run(ctx, *dispatchEvery)

	app.Pool.Close()
	global.Logger.Info().Msg("fleetward orchestrator stopped")
}
