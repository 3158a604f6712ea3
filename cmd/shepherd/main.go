// Shepherd - Multi-Account Session Manager
//
// Shepherd maintains persistent, authenticated sessions for many accounts
// against a remote game-distribution network: login pacing, liveness
// monitoring, chat delivery, durable key redemption, and resilient
// reconnection, with a REST API, MQTT telemetry, and an interactive CLI.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/shepherd-project/shepherd/internal/api"
	"github.com/shepherd-project/shepherd/internal/cli"
	"github.com/shepherd-project/shepherd/internal/config"
	"github.com/shepherd-project/shepherd/internal/connector"
	"github.com/shepherd-project/shepherd/internal/db"
	"github.com/shepherd-project/shepherd/internal/ratelimit"
	"github.com/shepherd-project/shepherd/internal/session"
	"github.com/shepherd-project/shepherd/internal/telemetry"
	"github.com/shepherd-project/shepherd/internal/util"
)

const (
	AppName    = "Shepherd"
	AppVersion = "1.0.0"
	Banner     = `
   _____ _                _                   _
  / ____| |              | |                 | |
 | (___ | |__   ___ _ __ | |__   ___ _ __ __| |
  \___ \| '_ \ / _ \ '_ \| '_ \ / _ \ '__/ _' |
  ____) | | | |  __/ |_) | | | |  __/ | | (_| |
 |_____/|_| |_|\___| .__/|_| |_|\___|_|  \__,_|
                   | |
                   |_|  v%s
 Multi-Account Session Manager
`

	shutdownDeadline = 30 * time.Second
)

func main() {
	fmt.Printf(Banner, AppVersion)
	fmt.Println()

	if err := util.InitLogger(util.DefaultLogConfig()); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.Info().
		Str("version", AppVersion).
		Str("platform", runtime.GOOS).
		Str("arch", runtime.GOARCH).
		Msg("starting Shepherd")

	cfg, err := config.Load(config.DefaultConfigDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	// Re-initialize logger with config-based settings
	logCfg := util.LogConfig{
		Level:      cfg.Logging.Level,
		Directory:  cfg.Logging.Directory,
		MaxBackups: cfg.Logging.MaxBackups,
		Console:    true,
	}
	if err := util.InitLogger(logCfg); err != nil {
		log.Warn().Err(err).Msg("failed to reconfigure logger, using defaults")
	}

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("configuration validation failed")
	}

	sysInfo := util.GetSystemInfo()
	log.Info().
		Str("hostname", sysInfo.Hostname).
		Str("os", sysInfo.OS).
		Str("cpu", sysInfo.CPUModel).
		Int("cores", sysInfo.CPUCores).
		Uint64("memory_mb", sysInfo.TotalMemory).
		Msg("system information")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Durable storage: redemption queue and history
	database, err := db.NewDatabase(cfg.DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	defer database.Close()

	queue, err := db.NewKeyQueue(database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize key queue")
	}

	// Cross-account pacing gates
	pacing := cfg.GetPacing()
	limiter := ratelimit.NewLimiter(ratelimit.Config{
		LoginDelay:    time.Duration(pacing.LoginDelaySec) * time.Second,
		RedeemDelay:   time.Duration(pacing.RedeemDelaySec) * time.Second,
		MetadataDelay: time.Duration(pacing.MetadataDelaySec) * time.Second,
	})

	network := cfg.GetNetwork()
	registry := session.NewRegistry(cfg, limiter, queue, func() connector.Transport {
		return connector.NewTCPTransport(network.Address, time.Duration(network.ConnectTimeout)*time.Second)
	})

	apiServer := api.NewServer(cfg, registry, queue)

	var mqttHandler *telemetry.MQTTHandler
	if cfg.MQTT.Enabled {
		mqttHandler, err = telemetry.NewMQTTHandler(cfg, registry)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize MQTT, telemetry disabled")
		}
	}

	cliHandler := cli.NewCLI(cfg, registry, cancel)

	var wg sync.WaitGroup

	registry.StartAll()

	if cfg.API.Enabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := apiServer.Start(ctx); err != nil {
				log.Error().Err(err).Msg("api server stopped")
			}
		}()
	}

	if mqttHandler != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := mqttHandler.Start(ctx); err != nil {
				log.Warn().Err(err).Msg("MQTT telemetry failed")
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		cliHandler.Start(ctx)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case <-ctx.Done():
		log.Info().Msg("shutdown requested")
	}

	log.Info().Msg("initiating graceful shutdown...")
	cancel()

	registry.StopAll(shutdownDeadline)

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("all tasks stopped gracefully")
	case <-time.After(shutdownDeadline):
		log.Warn().Msg("shutdown timed out, forcing exit")
	}

	log.Info().Msg("Shepherd stopped")
}
