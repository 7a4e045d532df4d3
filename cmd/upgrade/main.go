package main

import (
	"context"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/freeeve/reframed/internal/config"
	"github.com/freeeve/reframed/internal/logx"
	"github.com/freeeve/reframed/internal/store"
)

func main() {
	var cfg config.Analyzer
	if err := config.Load(&cfg); err != nil {
		logger := logx.NewLogger()
		logger.Fatal().Err(err).Msg("load config")
	}

	flag.IntVar(&cfg.Workers, "workers", cfg.Workers, "Parallel conversions (0 = number of CPUs)")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level")
	var (
		outDir    = flag.String("out", "", "Write upgraded files here (default: next to the source)")
		dryRun    = flag.Bool("dry-run", false, "Only report what would be upgraded")
		overwrite = flag.Bool("overwrite", false, "Replace existing output files")
	)
	flag.Parse()

	if flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "Usage: upgrade [options] <dir|file>...")
		flag.PrintDefaults()
		os.Exit(1)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}

	logger := logx.NewLoggerLevel(cfg.LogLevel)
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st, err := store.New(store.Config{Logger: logx.Component(logger, "store")})
	if err != nil {
		logger.Fatal().Err(err).Msg("open store")
	}
	defer st.Close()

	var files []string
	for _, arg := range flag.Args() {
		err := filepath.WalkDir(arg, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() {
				files = append(files, p)
			}
			return nil
		})
		if err != nil {
			logger.Fatal().Err(err).Str("path", arg).Msg("list files")
		}
	}

	var upgraded, current, skipped, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Workers)
	for _, src := range files {
		src := src
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			data, err := os.ReadFile(src)
			if err != nil {
				logger.Warn().Err(err).Str("path", src).Msg("read failed")
				failed.Add(1)
				return nil
			}
			version, err := st.Identify(data)
			if err != nil {
				skipped.Add(1)
				logger.Debug().Err(err).Str("path", src).Msg("not a session file")
				return nil
			}
			if !strings.HasPrefix(version, "legacy") {
				current.Add(1)
				return nil
			}

			dst := target(src, *outDir)
			if _, err := os.Stat(dst); err == nil && !*overwrite {
				logger.Info().Str("path", dst).Msg("output exists, skipping")
				skipped.Add(1)
				return nil
			}
			if *dryRun {
				logger.Info().Str("from", src).Str("to", dst).Str("version", version).Msg("would upgrade")
				upgraded.Add(1)
				return nil
			}

			sess, err := st.Decode(data)
			if err != nil {
				logger.Warn().Err(err).Str("path", src).Msg("decode failed")
				failed.Add(1)
				return nil
			}
			if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
				return err
			}
			if err := st.SaveFile(dst, sess); err != nil {
				return fmt.Errorf("save %s: %w", dst, err)
			}
			logger.Info().Str("from", src).Str("to", dst).Str("version", version).Msg("upgraded")
			upgraded.Add(1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		logger.Fatal().Err(err).Msg("upgrade failed")
	}

	logger.Info().
		Int64("upgraded", upgraded.Load()).
		Int64("current", current.Load()).
		Int64("skipped", skipped.Load()).
		Int64("failed", failed.Load()).
		Bool("dry_run", *dryRun).
		Msg("upgrade done")
}

// target is the upgraded file name for src: same base name with the
// current extension, in outDir when given.
func target(src, outDir string) string {
	name := strings.TrimSuffix(filepath.Base(src), filepath.Ext(src)) + store.Ext
	dir := filepath.Dir(src)
	if outDir != "" {
		dir = outDir
	}
	return filepath.Join(dir, name)
}
