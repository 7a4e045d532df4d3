package main

import (
	"context"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/goccy/go-json"

	"github.com/freeeve/reframed/internal/config"
	"github.com/freeeve/reframed/internal/dataset"
	"github.com/freeeve/reframed/internal/loader"
	"github.com/freeeve/reframed/internal/logx"
	"github.com/freeeve/reframed/internal/mapping"
	"github.com/freeeve/reframed/internal/session"
	"github.com/freeeve/reframed/internal/store"
)

// legacyExt is the extension older releases wrote.
const legacyExt = ".uhr"

func main() {
	var cfg config.Analyzer
	if err := config.Load(&cfg); err != nil {
		logger := logx.NewLogger()
		logger.Fatal().Err(err).Msg("load config")
	}

	flag.IntVar(&cfg.Workers, "workers", cfg.Workers, "Loader workers (0 = number of CPUs)")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level")
	var (
		from      = flag.String("from", "", "Keep samples on or after this date (YYYY-MM-DD)")
		to        = flag.String("to", "", "Keep samples up to the end of this date (YYYY-MM-DD)")
		format    = flag.String("format", "", "Keep games of this set format (empty = any)")
		winner    = flag.String("winner", "", "Keep games won by this player name")
		minLength = flag.Duration("min-length", 0, "Minimum game length")
		maxLength = flag.Duration("max-length", 0, "Maximum game length (0 = unlimited)")
		stages    = flag.String("stages", "", "Comma separated stage ids to keep")
		fighters  = flag.String("fighters", "", "Comma separated fighter ids to keep")
		invert    = flag.Bool("invert", false, "Invert the last filter")
		asJSON    = flag.Bool("json", false, "Print the summary as JSON")
	)
	flag.Parse()

	if flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "Usage: analyze [options] <dir|file>...")
		flag.PrintDefaults()
		os.Exit(1)
	}

	logger := logx.NewLoggerLevel(cfg.LogLevel)
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	chain := dataset.NewFilterChain()
	if *from != "" || *to != "" {
		r := &dataset.DateRange{}
		var err error
		if r.Start, err = parseDay(*from, false); err != nil {
			logger.Fatal().Err(err).Msg("parse -from")
		}
		if r.End, err = parseDay(*to, true); err != nil {
			logger.Fatal().Err(err).Msg("parse -to")
		}
		chain.Add(r)
	}
	if *format != "" || *winner != "" || *minLength > 0 || *maxLength > 0 {
		chain.Add(&dataset.GameFilter{
			AnyFormat: *format == "",
			Format:    session.ParseSetFormat(*format),
			Winner:    *winner,
			MinLength: *minLength,
			MaxLength: *maxLength,
		})
	}
	if *stages != "" {
		ids, err := parseIDs[mapping.StageID](*stages, 16)
		if err != nil {
			logger.Fatal().Err(err).Msg("parse -stages")
		}
		chain.Add(&dataset.StageFilter{Stages: ids})
	}
	if *fighters != "" {
		ids, err := parseIDs[mapping.FighterID](*fighters, 8)
		if err != nil {
			logger.Fatal().Err(err).Msg("parse -fighters")
		}
		chain.Add(&dataset.FighterFilter{Fighters: ids})
	}
	if *invert && chain.Len() > 0 {
		chain.SetInverted(chain.Len()-1, true)
	}

	st, err := store.New(store.Config{Logger: logx.Component(logger, "store")})
	if err != nil {
		logger.Fatal().Err(err).Msg("open store")
	}
	defer st.Close()

	ld := loader.New(loader.Config{
		Workers:     cfg.Workers,
		ResultQueue: cfg.ResultQueue,
		Logger:      logx.Component(logger, "loader"),
	}, st)
	defer ld.Close()

	start := time.Now()
	for _, arg := range flag.Args() {
		paths, err := sessionFiles(arg)
		if err != nil {
			logger.Fatal().Err(err).Str("path", arg).Msg("list sessions")
		}
		ld.Submit(arg, paths)
	}

	all := dataset.New()
	failed := 0
	for ld.Pending() > 0 {
		r, err := ld.Next(ctx)
		if err != nil {
			logger.Fatal().Err(err).Msg("loading interrupted")
		}
		all.MergeDataFrom(r.DataSet)
		failed += len(r.Failed)
	}

	out := chain.Apply(all)
	sum := dataset.Summarize(out)
	logger.Info().
		Int("loaded", all.Len()).
		Int("kept", out.Len()).
		Int("failed_files", failed).
		Int("filters", chain.Len()).
		Dur("elapsed", time.Since(start)).
		Msg("analysis done")

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(sum); err != nil {
			logger.Fatal().Err(err).Msg("encode summary")
		}
		return
	}
	printSummary(sum)
}

// sessionFiles lists the session files under path, or path itself when it
// is a file.
func sessionFiles(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{path}, nil
	}
	var files []string
	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(p)) {
		case store.Ext, legacyExt:
			files = append(files, p)
		}
		return nil
	})
	return files, err
}

func parseDay(s string, endOfDay bool) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.ParseInLocation("2006-01-02", s, time.Local)
	if err != nil {
		return time.Time{}, err
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Millisecond)
	}
	return t, nil
}

func parseIDs[T ~uint8 | ~uint16](s string, bits int) ([]T, error) {
	var ids []T
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		v, err := strconv.ParseUint(part, 10, bits)
		if err != nil {
			return nil, fmt.Errorf("id %q: %w", part, err)
		}
		ids = append(ids, T(v))
	}
	return ids, nil
}

func printSummary(sum dataset.Summary) {
	fmt.Printf("points:   %d\n", sum.Points)
	fmt.Printf("sessions: %d\n", sum.Sessions)
	if sum.Points > 0 {
		fmt.Printf("range:    %s .. %s\n", sum.Start.Format(time.DateTime), sum.End.Format(time.DateTime))
	}
	if len(sum.Fighters) == 0 {
		return
	}
	fmt.Println()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(w, "fighter\tsamples\tmean dmg\tstd dmg\tgames\twins\t")
	for _, f := range sum.Fighters {
		fmt.Fprintf(w, "%s\t%d\t%.1f\t%.1f\t%d\t%d\t\n", f.Name, f.Samples, f.MeanDamage, f.StdDamage, f.Games, f.Wins)
	}
	w.Flush()
}
