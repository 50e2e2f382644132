package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/datallboy/nzbleecher/internal/app"
	"github.com/datallboy/nzbleecher/internal/engine"
	"github.com/datallboy/nzbleecher/internal/infra/config"
	"github.com/datallboy/nzbleecher/internal/infra/logger"
	"github.com/datallboy/nzbleecher/internal/metrics"
	"github.com/datallboy/nzbleecher/internal/nntp"
	"github.com/datallboy/nzbleecher/internal/platform"
	"github.com/datallboy/nzbleecher/internal/processor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "nzbleecher",
	Short: "Segmented NZB downloader",
	Long: `nzbleecher downloads the articles listed in NZB files from one or more
Usenet server pools, decodes them into place and repairs/extracts the result.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "config.yaml", "path to config file")
	rootCmd.AddCommand(serveCmd, getCmd)
}

// runtime is everything a command needs to download.
type runtime struct {
	app     *app.Context
	service *engine.Service
	servers *nntp.Manager
	closers []func() error
}

func (r *runtime) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			r.app.Logger.Warn("Shutdown: %v", err)
		}
	}
}

// bootstrap loads the config and wires the shared services. The caller
// attaches a store when it has one.
func bootstrap(ctx context.Context, cmd *cobra.Command, stdout bool) (*runtime, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	if dir := filepath.Dir(cfg.Log.Path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
	}
	log, err := logger.New(cfg.Log.Path, logger.ParseLevel(cfg.Log.Level), stdout)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	for _, id := range cfg.TLSOnPlainPort() {
		log.Warn("Server %s has TLS enabled on port 119, is that intended?", id)
	}
	platform.CheckDependencies(log)

	appCtx := app.NewContext(cfg, log)
	appCtx.Processor = processor.New(cfg.Download, log.Named("processor"))

	metrics.Register(prometheus.DefaultRegisterer)

	servers, err := nntp.NewManager(cfg.Providers(), log.Named("nntp"))
	if err != nil {
		return nil, err
	}
	rt := &runtime{app: appCtx, servers: servers, closers: []func() error{servers.Close}}

	if err := servers.Validate(ctx); err != nil {
		rt.Close()
		return nil, err
	}

	svc, err := engine.NewService(appCtx, servers.Providers())
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.service = svc
	return rt, nil
}
