package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/meshsync/internal/config"
	"github.com/meshsync/internal/engine"
	"github.com/meshsync/internal/handler"
	"github.com/meshsync/internal/logger"
	"github.com/meshsync/internal/push"
	"github.com/meshsync/internal/startup"
	"github.com/meshsync/internal/ws"
)

func newServeCmd() *cobra.Command {
	var (
		gateway   string
		addr      string
		noConnect bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Sync with the gateway and serve the renderer API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			if gateway != "" {
				cfg.GatewayURL = gateway
			}
			if addr != "" {
				cfg.HTTPAddr = addr
			}
			return runServe(cfg, !noConnect)
		},
	}

	cmd.Flags().StringVar(&gateway, "gateway", "", "gateway websocket URL (overrides GATEWAY_URL)")
	cmd.Flags().StringVar(&addr, "addr", "", "renderer API listen address (overrides HTTP_ADDR)")
	cmd.Flags().BoolVar(&noConnect, "no-connect", false, "start with the gateway link down")
	return cmd
}

func runServe(cfg *config.Config, connect bool) error {
	logger.SetPrefix("meshsync")
	logger.SetLevel(logger.ParseLevel(cfg.LogLevel))
	logger.Infof("starting meshsync %s gateway=%s", Version, cfg.GatewayURL)

	openCtx, openCancel := context.WithTimeout(context.Background(), 45*time.Second)
	store, err := startup.OpenMarkerStore(openCtx, cfg)
	openCancel()
	if err != nil {
		return fmt.Errorf("open marker store: %w", err)
	}
	defer store.Close()

	eng := engine.New(startup.EngineOptions(cfg, store))
	restoreCtx, restoreCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := eng.Restore(restoreCtx); err != nil {
		logger.Errorf("%v", err)
	}
	restoreCancel()

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := eng.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Errorf("engine: %v", err)
		}
	}()

	hub := ws.NewHub(eng, cfg.MaxWSSubscribers)
	wg.Add(1)
	go func() {
		defer wg.Done()
		hub.Run(runCtx)
	}()

	var notifier *push.Notifier
	if cfg.PushVAPIDFile != "" {
		keys, err := push.EnsureVAPIDKeys(cfg.PushVAPIDFile)
		if err != nil {
			logger.Errorf("push disabled: %v", err)
		} else {
			notifier = push.New(eng, keys, cfg.PushSubscriber)
			notifier.SetQuiet(func() bool { return hub.Count() > 0 })
			wg.Add(1)
			go func() {
				defer wg.Done()
				notifier.Run(runCtx)
			}()
		}
	}

	if connect {
		eng.Connect(runCtx)
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler.NewRouter(runCtx, cfg, eng, hub, notifier),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("renderer API listening on %s", cfg.HTTPAddr)
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	var serveErr error
	select {
	case <-quit:
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr = fmt.Errorf("server: %w", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("server shutdown: %v", err)
	}
	logger.Info("server stopped accepting connections")

	eng.Disconnect()
	runCancel()
	wg.Wait()
	logger.Info("engine and hub stopped")
	return serveErr
}
