package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/datallboy/nzbleecher/internal/api"
	"github.com/datallboy/nzbleecher/internal/store"
	"github.com/labstack/echo/v5"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the download queue with its HTTP control API",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		rt, err := bootstrap(ctx, cmd, true)
		if err != nil {
			return err
		}
		defer rt.Close()

		cfg := rt.app.Config
		st, err := store.NewPersistentStore(cfg.Store.SQLitePath, cfg.Store.NZBDir)
		if err != nil {
			return fmt.Errorf("failed to open store: %w", err)
		}
		rt.closers = append(rt.closers, st.Close)
		rt.app.Store = st

		e := echo.New()
		api.RegisterRoutes(e, rt.app, rt.service)

		srv := &http.Server{
			Addr:              net.JoinHostPort("", cfg.Port),
			Handler:           e,
			ReadHeaderTimeout: 10 * time.Second,
		}

		runCtx, cancel := context.WithCancel(ctx)
		defer cancel()

		errCh := make(chan error, 2)
		go func() {
			errCh <- rt.service.Run(runCtx)
		}()
		go func() {
			rt.app.Logger.Info("Listening on %s (%d connections across %d pools)",
				srv.Addr, rt.servers.TotalCapacity(), len(rt.servers.IDs()))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("server error: %w", err)
			}
		}()

		var runErr error
		select {
		case runErr = <-errCh:
		case <-ctx.Done():
			rt.app.Logger.Info("Shutdown signal received")
		}

		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancelShutdown()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			rt.app.Logger.Warn("HTTP shutdown: %v", err)
		}

		cancel()
		if runErr == nil {
			runErr = <-errCh
		}
		return runErr
	},
}
