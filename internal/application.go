package application

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/rocketscienceinc/tictactoe-live/internal/config"
	"github.com/rocketscienceinc/tictactoe-live/internal/gateway"
	"github.com/rocketscienceinc/tictactoe-live/internal/usecase"
	"github.com/rocketscienceinc/tictactoe-live/transport/rest"
	"github.com/rocketscienceinc/tictactoe-live/transport/websocket"
)

// NewMatchUseCase - builds the match use case with the configured conflict retries.
func NewMatchUseCase(logger *slog.Logger, conf *config.Config, repos *Repositories) *usecase.MatchUseCase {
	return usecase.NewMatchUseCase(logger, repos.Matches, usecase.RetryPolicy{
		MaxRetries: conf.Gateway.ConflictRetries,
		Interval:   conf.Gateway.RetryInterval,
	})
}

// GatewayOptions - maps the gateway section of the config.
func GatewayOptions(conf *config.Config) gateway.Options {
	return gateway.Options{
		ActionTimeout: conf.Gateway.ActionTimeout,
		SendTimeout:   conf.Gateway.SendTimeout,
	}
}

// RunApp - runs the application.
func RunApp(logger *slog.Logger, conf *config.Config) error {
	log := logger.With("component", "app")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigs
		log.Info("Received signal, shutting down", "signal", sig)
		cancel()
	}()

	repos, err := OpenRepositories(ctx, logger, conf)
	if err != nil {
		return err
	}

	defer func() {
		if err = repos.Close(); err != nil {
			log.Error("could not close storage", "error", err)
		}
	}()

	matchUseCase := NewMatchUseCase(logger, conf, repos)

	hub := websocket.NewHub()
	matchGateway := gateway.New(logger, matchUseCase, repos.Connections, hub, GatewayOptions(conf))

	heartbeat, err := websocket.NewHeartbeat(logger, hub, repos.Connections, conf.Gateway.HeartbeatInterval)
	if err != nil {
		return fmt.Errorf("could not create heartbeat: %w", err)
	}

	heartbeat.Start()

	defer func() {
		if err = heartbeat.Stop(); err != nil {
			log.Error("could not stop heartbeat", "error", err)
		}
	}()

	// run HTTP server
	httpErrCh := make(chan error, 1)
	go func() {
		log.Info("Starting HTTP server", "port", conf.HTTPPort)
		if httpErr := rest.Start(ctx, conf.HTTPPort, rest.NewHandlers(logger, matchUseCase)); httpErr != nil {
			log.Error("HTTP server error", "error", httpErr)
			httpErrCh <- httpErr
		}
	}()

	// run Websocket server
	wsErrCh := make(chan error, 1)
	go func() {
		log.Info("Starting WebSocket server", "port", conf.SocketPort)
		wsServer := websocket.New(logger, matchGateway, hub)
		if wsErr := wsServer.Start(ctx, conf.SocketPort); wsErr != nil {
			log.Error("WebSocket server error", "error", wsErr)
			wsErrCh <- wsErr
		}
	}()

	select {
	case err = <-httpErrCh:
		return fmt.Errorf("HTTP server error: %w", err)
	case err = <-wsErrCh:
		return fmt.Errorf("WebSocket server error: %w", err)
	case <-ctx.Done():
		log.Info("Application context canceled, shutting down")
		return nil
	}
}
