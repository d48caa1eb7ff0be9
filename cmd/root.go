package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/harmonycast/harmonycast/internal/application/config"
	"github.com/harmonycast/harmonycast/internal/engine"
)

var rootCmd = &cobra.Command{
	Use:           "harmonycast",
	Short:         "Shared media timeline over websockets",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(listenCmd)
}

func setup() (*config.Config, error) {
	cfg, err := config.New()
	if err != nil {
		return nil, err
	}

	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(
		slog.New(
			slog.NewJSONHandler(
				os.Stdout,
				&slog.HandlerOptions{Level: level},
			),
		),
	)
	return cfg, nil
}

// syncTuning maps the env-facing knobs onto the controller tuning,
// keeping the non-configurable bounds at their defaults.
func syncTuning(sc config.SyncConfig) engine.Tuning {
	t := engine.DefaultTuning()
	t.TickInterval = sc.TickInterval
	t.DeadBandMs = sc.DeadBandMs
	t.HardSeekLimitMs = sc.HardSeekLimitMs
	t.Kp = sc.Kp
	t.Ki = sc.Ki
	t.MaxNudge = sc.MaxNudge
	t.MaxSlew = sc.MaxSlew
	return t
}
