package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/adfharrison1/go-pivot/pkg/config"
	"github.com/adfharrison1/go-pivot/pkg/logging"
	"github.com/adfharrison1/go-pivot/pkg/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newServeCommand() *cobra.Command {
	var configPath string
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server and the transform scheduler",
		Example: `  go-pivot serve                              # Start with defaults
  go-pivot serve --port 9090 --partitions 8   # Custom port and partitions
  go-pivot serve --background-save 5m         # Auto-save every 5 minutes
  go-pivot serve --transforms ./transforms --auto-start`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadWith(v, configPath)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&configPath, "config", "c", "", "config file (default ./go-pivot.yaml or $HOME/go-pivot.yaml)")
	flags.Int("port", config.DefaultPort, "server port")
	flags.String("data-file", config.DefaultDataFile, "data file path for persistence, empty disables it")
	flags.Int("partitions", config.DefaultPartitions, "partitions per collection")
	flags.Duration("background-save", 0, "background save interval (e.g. 5m, 30s), 0 disables it")
	flags.String("breaker-limit", config.DefaultBreakerLimit, "memory a search may reserve (e.g. 256MiB), 0 disables it")
	flags.StringSlice("transforms", nil, "YAML files or directories with transform definitions")
	flags.Bool("auto-start", false, "start the transforms loaded from --transforms")
	flags.Bool("debug", false, "debug logging")
	flags.Bool("human", false, "human friendly console logging")

	for key, flag := range map[string]string{
		"server.port":             "port",
		"storage.data_file":       "data-file",
		"storage.partitions":      "partitions",
		"storage.background_save": "background-save",
		"storage.breaker_limit":   "breaker-limit",
		"transforms.paths":        "transforms",
		"transforms.auto_start":   "auto-start",
		"log.debug":               "debug",
		"log.human":               "human",
	} {
		if err := v.BindPFlag(key, flags.Lookup(flag)); err != nil {
			panic(err)
		}
	}
	return cmd
}

func serve(ctx context.Context, cfg *config.Config) error {
	logging.Init(cfg.Log.Debug, cfg.Log.Human)
	log := logging.WithComponent("main")

	srv, err := server.NewServer(cfg)
	if err != nil {
		return err
	}
	if cfg.Storage.BackgroundSave <= 0 && cfg.Storage.DataFile != "" {
		log.Warn().Msg("background save disabled, data only saved on graceful shutdown")
	}
	if err := srv.InitDB(); err != nil {
		return err
	}
	if err := srv.LoadTransforms(); err != nil {
		return fmt.Errorf("load transforms: %w", err)
	}
	srv.Start()

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: srv.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("starting go-pivot server")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var serveErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down server")
	case serveErr = <-errCh:
		log.Error().Err(serveErr).Msg("server failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
	srv.Shutdown(shutdownCtx)

	log.Info().Msg("server exited")
	return serveErr
}
