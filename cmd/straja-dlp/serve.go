package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/straja-ai/straja-dlp/internal/auth"
	"github.com/straja-ai/straja-dlp/internal/config"
	"github.com/straja-ai/straja-dlp/internal/logging"
	"github.com/straja-ai/straja-dlp/internal/server"
)

var serveFlags struct {
	listenAddress string
	noWatch       bool
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the detection API",
	Long: `Serve the detection API over HTTP.

The configuration file is watched and policy or mode changes apply to the
next request without a restart. Detector and listener settings need one.

Examples:
  straja-dlp serve --config /etc/straja-dlp/config.yaml
  straja-dlp serve --listen 127.0.0.1:9090`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVarP(&serveFlags.listenAddress, "listen", "l", "", "override server.addr")
	serveCmd.Flags().BoolVar(&serveFlags.noWatch, "no-watch", false, "do not reload the config file on change")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if serveFlags.listenAddress != "" {
		cfg.Server.Addr = serveFlags.listenAddress
	}

	log, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, log, buildOptions{})
	if err != nil {
		return fmt.Errorf("build: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.Close(closeCtx); err != nil {
			log.Warn("shutdown incomplete", logging.Error(err))
		}
	}()

	authz, err := auth.NewFromConfig(cfg)
	if err != nil {
		return err
	}
	srv, err := server.New(server.Options{
		Guard:        a.guard,
		Auth:         authz,
		Metrics:      a.metrics,
		Logger:       log.Named("http"),
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
		Version:      Version,
	})
	if err != nil {
		return err
	}

	log.Info("starting",
		zap.String("mode", string(a.store.Current().Mode)),
		zap.Bool("auth", authz.Required()),
		zap.Bool("metrics", a.metrics != nil),
		zap.Bool("telemetry", cfg.Telemetry.Enabled))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx, cfg.Server.Addr) })
	if !serveFlags.noWatch {
		w, err := config.NewWatcher(cfgFile, a.store, log)
		if err != nil {
			log.Warn("config reload disabled", logging.Error(err))
		} else {
			g.Go(func() error { return w.Run(gctx) })
		}
	}
	return g.Wait()
}
