package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"apphub.local/matrix-bots/internal/activity"
	"apphub.local/matrix-bots/internal/activity/wshub"
	"apphub.local/matrix-bots/internal/apps"
	"apphub.local/matrix-bots/internal/bot"
	"apphub.local/matrix-bots/internal/botmanager"
	"apphub.local/matrix-bots/internal/httpapi"
	"apphub.local/matrix-bots/internal/matrix"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start every app bot and the hub HTTP API",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, log := rt.cfg, rt.log
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error().Err(err).Msg("store close failed")
		}
	}()

	registry := newRegistry(cfg)
	service, err := newChatService(cfg, log, registry, store)
	if err != nil {
		return err
	}
	responder, err := newResponder(cfg, service)
	if err != nil {
		return err
	}

	hub := wshub.New(log)
	defer hub.Close()
	dispatcher := activity.NewDispatcher(log, newSubscribers(cfg, log, hub))
	defer dispatcher.Close()

	connector := matrix.NewConnector(cfg.MatrixHomeserverURL, matrix.WithLogger(log))
	manager := botmanager.New(
		botmanager.ConnectorFunc(func(ctx context.Context, app apps.AppInstance) (botmanager.Connection, error) {
			conn, err := connector.Connect(ctx, app)
			if err != nil {
				return nil, err
			}
			return conn, nil
		}),
		registry,
		responder,
		botmanager.WithLogger(log),
		botmanager.WithActivity(dispatcher),
		botmanager.WithSessionOptions(bot.WithTypingTimeout(cfg.MatrixTypingTimeout)),
	)
	defer manager.StopAll()

	srv := httpapi.NewServer(log, cfg.HTTPAddr, httpapi.Deps{
		Chat:          service,
		Bots:          manager,
		Conversations: store,
		Activity:      hub,
		APIToken:      cfg.HubAPIToken,
	})
	serverErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("http api listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	result, err := manager.LoadApps(ctx)
	if err != nil {
		log.Error().Err(err).Msg("initial app load failed")
	} else if result.Started == 0 && result.Failed > 0 {
		log.Warn().Int("failed", result.Failed).Msg("no bots could be started")
	}

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	case err := <-serverErr:
		log.Error().Err(err).Msg("http server crashed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown failed")
	}
	return nil
}
