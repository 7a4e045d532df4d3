// Package config loads process configuration from REFRAMED_* environment
// variables. Command-line flags are layered on top by each command.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// EnvPrefix is prepended to every variable name below.
const EnvPrefix = "REFRAMED_"

// Recorder configures cmd/record.
type Recorder struct {
	Host        string        `env:"HOST" envDefault:"127.0.0.1"`
	Port        int           `env:"PORT" envDefault:"42069"`
	OutputDir   string        `env:"OUTPUT_DIR" envDefault:"./data/sessions"`
	Reconnect   time.Duration `env:"RECONNECT" envDefault:"5s"` // 0 = exit after the first disconnect
	DialTimeout time.Duration `env:"DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout time.Duration `env:"READ_TIMEOUT" envDefault:"0s"` // 0 = no read deadline
	SetFormat   string        `env:"SET_FORMAT" envDefault:"Friendlies"`
	Player1     string        `env:"PLAYER1"`
	Player2     string        `env:"PLAYER2"`
	LogLevel    string        `env:"LOG_LEVEL" envDefault:"info"`
	StatusAddr  string        `env:"STATUS_ADDR"` // empty disables the status API
}

// Analyzer configures cmd/analyze and cmd/upgrade.
type Analyzer struct {
	Workers     int    `env:"WORKERS" envDefault:"0"` // 0 = runtime.NumCPU()
	ResultQueue int    `env:"RESULT_QUEUE" envDefault:"16"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
}

// Load fills cfg from the environment, applying envDefault tags first.
func Load(cfg any) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Addr returns host:port for the console connection.
func (r Recorder) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}
