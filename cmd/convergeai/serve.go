package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"convergeai/internal/coordinator"
	"convergeai/internal/server"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API with the alert engine and session sweeper",
	Long: `Starts the thin HTTP adapter plus the background machinery:
the idle-session sweeper, the SLA/critical alert scanners, and the config
file watcher for hot-reloadable settings.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := newApp(configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	// Hot reload only matters for a long-lived process.
	a.cfg.Start()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sweeper := coordinator.NewSweeper(a.st.Sessions(), a.cfg)
	sweeper.Start(ctx)
	defer sweeper.Stop()

	a.alerts.Start(ctx)
	defer a.alerts.Stop()

	addr := serveAddr
	if addr == "" {
		addr = a.cfg.Current().Server.Addr
	}
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           server.New(a.coord, a.st.Sessions(), a.projector, a.alerts, logger).Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("Received shutdown signal, shutting down gracefully")
		shCtx, shCancel := context.WithTimeout(context.Background(), a.cfg.Current().ServerShutdownTimeout())
		defer shCancel()
		if err := httpSrv.Shutdown(shCtx); err != nil {
			logger.Error("Server shutdown error", zap.Error(err))
		}
		cancel()
	}()

	logger.Info("ConvergeAI API starting",
		zap.String("addr", addr),
		zap.String("db", a.st.Path()),
		zap.Bool("vec_index", a.st.VecEnabled()),
		zap.String("embedding", a.embedder.Name()),
	)
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	logger.Info("Server stopped")
	return nil
}
