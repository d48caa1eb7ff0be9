package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Debug bool   `env:"DEBUG" envDefault:"false"`
	Port  string `env:"PORT" envDefault:"8080"`

	Server ServerConfig
	Client ClientConfig
	Sync   SyncConfig
}

type ServerConfig struct {
	// HeartbeatInterval drives both the push-ping probes and the
	// periodic state broadcast.
	HeartbeatInterval time.Duration `env:"HEARTBEAT_INTERVAL" envDefault:"5s"`
	// StaleTimeout drops clients that have not answered a probe.
	StaleTimeout    time.Duration `env:"STALE_TIMEOUT" envDefault:"20s"`
	ControlRate     float64       `env:"CONTROL_RATE" envDefault:"5"`
	ControlBurst    int           `env:"CONTROL_BURST" envDefault:"10"`
	MaxMessageBytes int64         `env:"MAX_MESSAGE_BYTES" envDefault:"4096"`
}

type ClientConfig struct {
	ServerURL     string        `env:"SERVER_URL" envDefault:"ws://localhost:8080/ws"`
	Room          string        `env:"ROOM" envDefault:"default"`
	Name          string        `env:"NAME"`
	WantHost      bool          `env:"WANT_HOST" envDefault:"false"`
	ProbeInterval time.Duration `env:"PROBE_INTERVAL" envDefault:"2s"`
	BackoffFloor  time.Duration `env:"BACKOFF_FLOOR" envDefault:"500ms"`
	BackoffCap    time.Duration `env:"BACKOFF_CAP" envDefault:"15s"`
	WriteTimeout  time.Duration `env:"WRITE_TIMEOUT" envDefault:"10s"`
}

// SyncConfig exposes the drift-controller tuning. Defaults are the values
// the control loop was tuned with; deployments facing higher jitter can
// override them without a rebuild.
type SyncConfig struct {
	TickInterval    time.Duration `env:"SYNC_TICK" envDefault:"200ms"`
	DeadBandMs      float64       `env:"SYNC_DEAD_BAND_MS" envDefault:"25"`
	HardSeekLimitMs float64       `env:"SYNC_HARD_SEEK_MS" envDefault:"1500"`
	Kp              float64       `env:"SYNC_KP" envDefault:"0.10"`
	Ki              float64       `env:"SYNC_KI" envDefault:"0.02"`
	MaxNudge        float64       `env:"SYNC_MAX_NUDGE" envDefault:"0.015"`
	MaxSlew         float64       `env:"SYNC_MAX_SLEW" envDefault:"0.004"`
}

func New() (*Config, error) {
	c, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	return &c, nil
}
