package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/freeeve/reframed/internal/config"
	"github.com/freeeve/reframed/internal/httpapi"
	"github.com/freeeve/reframed/internal/logx"
	"github.com/freeeve/reframed/internal/mapping"
	"github.com/freeeve/reframed/internal/protocol"
	"github.com/freeeve/reframed/internal/recorder"
	"github.com/freeeve/reframed/internal/session"
	"github.com/freeeve/reframed/internal/store"
)

func main() {
	var cfg config.Recorder
	if err := config.Load(&cfg); err != nil {
		logger := logx.NewLogger()
		logger.Fatal().Err(err).Msg("load config")
	}

	flag.StringVar(&cfg.Host, "host", cfg.Host, "Console address")
	flag.IntVar(&cfg.Port, "port", cfg.Port, "Console port")
	flag.StringVar(&cfg.OutputDir, "out", cfg.OutputDir, "Directory for recorded sessions")
	flag.DurationVar(&cfg.Reconnect, "reconnect", cfg.Reconnect, "Delay before reconnecting (0 = exit on disconnect)")
	flag.DurationVar(&cfg.DialTimeout, "dial-timeout", cfg.DialTimeout, "Connect timeout")
	flag.DurationVar(&cfg.ReadTimeout, "read-timeout", cfg.ReadTimeout, "Per-frame read timeout (0 = none)")
	flag.StringVar(&cfg.SetFormat, "format", cfg.SetFormat, "Set format (Friendlies, Practice, Bo3, Bo5, Bo7, FT5, FT10 or free text)")
	flag.StringVar(&cfg.Player1, "p1", cfg.Player1, "Player 1 display name")
	flag.StringVar(&cfg.Player2, "p2", cfg.Player2, "Player 2 display name")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level")
	flag.StringVar(&cfg.StatusAddr, "status-addr", cfg.StatusAddr, "Listen address for the status API (empty = off)")
	saveTraining := flag.Bool("save-training", false, "Also save training sessions")
	flag.Parse()

	logger := logx.NewLoggerLevel(cfg.LogLevel)
	format := session.ParseSetFormat(cfg.SetFormat)
	logger.Info().
		Str("addr", cfg.Addr()).
		Str("out", cfg.OutputDir).
		Str("format", format.Description()).
		Msg("starting recorder")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st, err := store.New(store.Config{Logger: logx.Component(logger, "store")})
	if err != nil {
		logger.Fatal().Err(err).Msg("open store")
	}
	defer st.Close()

	var saved atomic.Int64
	mgr, err := recorder.New(recorder.Config{
		OutputDir:    cfg.OutputDir,
		Format:       format,
		Player1:      cfg.Player1,
		Player2:      cfg.Player2,
		SaveTraining: *saveTraining,
		Logger:       logx.Component(logger, "recorder"),
		OnSaved:      func(string, *session.Session) { saved.Add(1) },
	}, st)
	if err != nil {
		logger.Fatal().Err(err).Msg("create recorder")
	}

	dcfg := protocol.Config{
		Logger:      logx.Component(logger, "decoder"),
		Cache:       &mapping.Cache{},
		ReadTimeout: cfg.ReadTimeout,
		DialTimeout: cfg.DialTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return record(gctx, logger, cfg, dcfg, mgr)
	})
	if cfg.StatusAddr != "" {
		srv := &http.Server{
			Addr:         cfg.StatusAddr,
			Handler:      httpapi.NewRouter(logx.Component(logger, "http"), mgr, st, cfg.OutputDir),
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  60 * time.Second,
		}
		g.Go(func() error {
			logger.Info().Str("addr", srv.Addr).Msg("status api listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}
	g.Go(func() error {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				st := mgr.Status()
				logger.Info().
					Bool("connected", st.Connected).
					Int64("saved", saved.Load()).
					Bool("in_game", st.Game != nil).
					Msg("recorder status")
			}
		}
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("recorder stopped")
		os.Exit(1)
	}
	logger.Info().Int64("saved", saved.Load()).Msg("recorder stopped")
}

// record connects to the console and decodes until ctx is cancelled,
// reconnecting after cfg.Reconnect when the connection drops. An
// unsupported protocol version ends the loop.
func record(ctx context.Context, logger zerolog.Logger, cfg config.Recorder, dcfg protocol.Config, mgr *recorder.Manager) error {
	for {
		d, err := protocol.Dial(ctx, cfg.Addr(), mgr, dcfg)
		if err == nil {
			err = d.Run(ctx)
		}
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, protocol.ErrUnsupportedVersion) {
			return err
		}
		if cfg.Reconnect <= 0 {
			return err
		}

		logger.Info().Dur("in", cfg.Reconnect).Msg("reconnecting")
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(cfg.Reconnect):
		}
	}
}
