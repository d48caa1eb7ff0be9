package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"

	"github.com/harmonycast/harmonycast/internal/application/constant"
	"github.com/harmonycast/harmonycast/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the authoritative room server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
		defer cancel()

		cfg, err := setup()
		if err != nil {
			return err
		}

		slog.Info("Running server", slog.Bool("debug", cfg.Debug), slog.String("port", cfg.Port))

		hub := server.NewHub(cfg.Server, clockwork.NewRealClock(), slog.Default())
		go hub.Run(ctx)

		echoSrv := server.New(cfg, hub, slog.Default())

		srvCh := make(chan error, 1)
		go func() {
			srvCh <- echoSrv.Start(":" + cfg.Port)
		}()

		select {
		case <-ctx.Done():
			slog.Info("Shutting down server due to context cancel")
		case err := <-srvCh:
			slog.Error("HTTP server failed", slog.Any(constant.Error, err))
			os.Exit(1)
		}

		timeoutCtx, timeoutCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer timeoutCancel()

		if err := echoSrv.Shutdown(timeoutCtx); err != nil {
			slog.Error("Failed to gracefully shutdown server", slog.Any(constant.Error, err))
		}
		return nil
	},
}
