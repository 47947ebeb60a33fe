// Package main provides the server entry point.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/beatrace/internal/api/httpapi"
	"github.com/osa030/beatrace/internal/api/ws"
	"github.com/osa030/beatrace/internal/app/engine"
	"github.com/osa030/beatrace/internal/app/registry"
	"github.com/osa030/beatrace/internal/domain/room"
	"github.com/osa030/beatrace/internal/infra/config"
	"github.com/osa030/beatrace/internal/infra/logger"
	"github.com/osa030/beatrace/internal/infra/spotify"
)

var (
	app        = kingpin.New("beatrace-server", "beatrace music guessing game server")
	configPath = app.Flag("config", "Path to config file").Default("config/server.yaml").String()
	verbose    = app.Flag("verbose", "Enable verbose (DEBUG) logging").Short('v').Bool()
	logfile    = app.Flag("logfile", "Path to log file (default: stdout)").String()
)

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	kingpin.MustParse(app.Parse(os.Args[1:]))

	loggerConfig := logger.Config{
		Output: "stdout",
		Level:  "info",
	}
	if *verbose {
		loggerConfig.Level = "debug"
	}
	if *logfile != "" {
		loggerConfig.Output = *logfile
		loggerConfig.File = *logfile
	}
	if err := logger.Init(loggerConfig); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}

	zlog.Info().Msgf("Loading config from %s", *configPath)
	cfg, err := config.Load(*configPath)
	if err != nil {
		zlog.Fatal().Msgf("Failed to load config: %v", err)
	}

	if err := run(cfg); err != nil {
		zlog.Error().Msgf("Server error: %v", err)
		os.Exit(1)
	}
}

// run executes the main server logic. Using a separate function ensures
// defer statements are executed even when returning with an error.
func run(cfg *config.Config) error {
	gateway, err := spotify.New(spotify.Config{
		ClientID:     cfg.Spotify.ClientID,
		ClientSecret: cfg.Spotify.ClientSecret,
		RedirectURI:  cfg.Spotify.RedirectURI,
	})
	if err != nil {
		return errors.Wrap(err, "failed to create music gateway")
	}

	reg := registry.New(registry.Config{
		Settings: room.Settings{
			MaxPlayers:     cfg.Game.MaxPlayers,
			RoundDuration:  cfg.RoundDuration(),
			RevealDuration: cfg.RevealDuration(),
		},
		SweepInterval: cfg.SweepInterval(),
		MaxRoomAge:    cfg.MaxIdleAge(),
	})

	hub := ws.NewHub(cfg.Server.AllowedOrigin)
	eng := engine.New(reg, gateway, hub, engine.Config{
		Countdown:        cfg.Countdown(),
		EliminationPause: cfg.EliminationPause(),
	})
	ws.NewDispatcher(hub, reg, eng, gateway)

	api := httpapi.NewServer(reg, gateway, hub, cfg.Server.BaseURL)

	server := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: api.Router(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go reg.StartSweeper(ctx)

	serverErrCh := make(chan error, 1)
	go func() {
		zlog.Info().Msgf("Starting server: addr=%s env=%s", cfg.Server.Addr, cfg.Server.Environment)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		zlog.Info().Msg("Received shutdown signal...")
	case err := <-serverErrCh:
		return errors.Wrap(err, "server error")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	hub.Shutdown()
	if err := server.Shutdown(shutdownCtx); err != nil {
		zlog.Error().Msgf("Failed to shutdown server: %v", err)
	}

	zlog.Info().Msg("Server stopped")
	return nil
}
