// hwpulse samples host hardware metrics on a fixed interval, publishes the
// latest snapshot as a JSON file and keeps a bounded CSV history beside it.
//
// Commands:
//
//	hwpulse collect [OUTPUT] [INTERVAL]   run the collector loop (default)
//	hwpulse once                          sample once and print the snapshot
//	hwpulse serve                         serve the snapshot over HTTP
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/spf13/cast"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"hwpulse/internal/agent"
	"hwpulse/internal/api"
	"hwpulse/internal/config"
	"hwpulse/internal/database"
	"hwpulse/internal/logging"
	"hwpulse/internal/monitoring"
	"hwpulse/internal/presenter"
	"hwpulse/internal/store"
	"hwpulse/internal/websockets"
)

var version = "dev"

const (
	commandCollect = "collect"
	commandOnce    = "once"
	commandServe   = "serve"

	onceWarmup      = time.Second
	shutdownTimeout = 5 * time.Second
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// options holds what was given on the command line. Fields only override
// the config file when the matching flag or positional was supplied.
type options struct {
	command     string
	configPath  string
	output      string
	interval    time.Duration
	logLevel    string
	logFile     string
	listen      string
	archive     bool
	collect     bool
	showVersion bool

	set map[string]bool
}

func newFlagSet(opts *options) *pflag.FlagSet {
	flagSet := pflag.NewFlagSet("hwpulse", pflag.ContinueOnError)
	flagSet.StringVarP(&opts.configPath, "config", "c", "", "path to a YAML config file")
	flagSet.StringVarP(&opts.output, "output", "o", "", "snapshot JSON path (default data/metrics.json)")
	flagSet.DurationVarP(&opts.interval, "interval", "i", 0, "sampling interval (default 2s)")
	flagSet.StringVar(&opts.logLevel, "log-level", "", "debug, info, warn or error")
	flagSet.StringVar(&opts.logFile, "log-file", "", "also append log records to this file")
	flagSet.StringVar(&opts.listen, "listen", "", "serve: HTTP listen address (default :8085)")
	flagSet.BoolVar(&opts.archive, "archive", false, "mirror history rows into the sqlite archive")
	flagSet.BoolVar(&opts.collect, "collect", false, "serve: also run the collector in this process")
	flagSet.BoolVar(&opts.showVersion, "version", false, "print the version and exit")
	flagSet.SortFlags = false
	return flagSet
}

// parseArgs reads flags and positionals. A missing or unknown first word
// selects collect, so `hwpulse out.json 5` behaves like the collect form.
func parseArgs(args []string) (options, error) {
	var opts options
	flagSet := newFlagSet(&opts)
	flagSet.Usage = func() { printHelp(flagSet) }

	if err := flagSet.Parse(args); err != nil {
		return opts, err
	}

	opts.set = make(map[string]bool)
	flagSet.Visit(func(f *pflag.Flag) { opts.set[f.Name] = true })

	rest := flagSet.Args()
	opts.command = commandCollect
	if len(rest) > 0 {
		switch rest[0] {
		case commandCollect, commandOnce, commandServe:
			opts.command = rest[0]
			rest = rest[1:]
		}
	}

	if opts.command != commandCollect && len(rest) > 0 {
		return opts, fmt.Errorf("%s takes no arguments, got %q", opts.command, rest[0])
	}
	if len(rest) > 2 {
		return opts, fmt.Errorf("unexpected argument: %s", rest[2])
	}
	if len(rest) > 0 {
		opts.output = rest[0]
		opts.set["output"] = true
	}
	if len(rest) > 1 {
		interval, err := parseInterval(rest[1])
		if err != nil {
			return opts, err
		}
		opts.interval = interval
		opts.set["interval"] = true
	}
	return opts, nil
}

// parseInterval accepts a Go duration ("500ms") or a plain number of
// seconds ("2", "0.5").
func parseInterval(s string) (time.Duration, error) {
	if d, err := time.ParseDuration(s); err == nil {
		if d <= 0 {
			return 0, fmt.Errorf("interval must be positive: %s", s)
		}
		return d, nil
	}
	seconds, err := cast.ToFloat64E(strings.TrimSpace(s))
	if err != nil || seconds <= 0 {
		return 0, fmt.Errorf("invalid interval %q: want seconds or a duration like 2s", s)
	}
	return time.Duration(seconds * float64(time.Second)), nil
}

// applyOverrides layers command-line values over the loaded config.
func applyOverrides(cfg config.Config, opts options) config.Config {
	if opts.set["output"] {
		cfg.Output = opts.output
	}
	if opts.set["interval"] {
		cfg.Interval = opts.interval
	}
	if opts.set["log-level"] {
		cfg.LogLevel = opts.logLevel
	}
	if opts.set["log-file"] {
		cfg.LogFile = opts.logFile
	}
	if opts.set["listen"] {
		cfg.Serve.Listen = opts.listen
	}
	if opts.set["archive"] {
		cfg.Archive.Enabled = opts.archive
	}
	return config.ValidateAndFillDefaults(cfg)
}

func run(args []string) error {
	opts, err := parseArgs(args)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if opts.showVersion {
		fmt.Printf("hwpulse %s\n", version)
		return nil
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	cfg = applyOverrides(cfg, opts)

	logger, err := logging.Initialize(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return err
	}
	defer logging.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch opts.command {
	case commandOnce:
		return runOnce(ctx, cfg, logger)
	case commandServe:
		return runServe(ctx, cfg, opts.collect, logger)
	default:
		return runCollect(ctx, cfg, logger)
	}
}

// openArchive returns nil when the archive is disabled.
func openArchive(cfg config.Config, logger *slog.Logger) (*database.Archive, error) {
	if !cfg.Archive.Enabled {
		return nil, nil
	}
	return database.Open(cfg.Archive.Path, cfg.HistoryMaxRows, logger)
}

func newAgent(cfg config.Config, archive *database.Archive, logger *slog.Logger) (*agent.Agent, error) {
	host := monitoring.NewHost(monitoring.Options{Timeout: cfg.AdapterTimeout, Logger: logger})

	history, err := store.OpenHistory(cfg.HistoryPath(), cfg.HistoryMaxRows, cfg.HistoryTrimEvery, logger)
	if err != nil {
		return nil, err
	}

	opts := agent.Options{
		Collector: monitoring.NewCollector(host, logger),
		Writer:    store.NewSnapshotWriter(cfg.Output, cfg.WriteRetries, logger),
		History:   history,
		Interval:  cfg.Interval,
		Logger:    logger,
	}
	if archive != nil {
		opts.Archive = archive
	}
	return agent.New(opts), nil
}

func runCollect(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	archive, err := openArchive(cfg, logger)
	if err != nil {
		return err
	}
	if archive != nil {
		defer archive.Close()
	}

	a, err := newAgent(cfg, archive, logger)
	if err != nil {
		return err
	}
	logger.Info("writing snapshots", "output", cfg.Output, "history", cfg.HistoryPath(), "interval", cfg.Interval)
	return a.Run(ctx)
}

func runOnce(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	host := monitoring.NewHost(monitoring.Options{Timeout: cfg.AdapterTimeout, Logger: logger})
	a := agent.New(agent.Options{
		Collector: monitoring.NewCollector(host, logger),
		Interval:  cfg.Interval,
		Logger:    logger,
	})

	if err := a.Warmup(ctx, onceWarmup); err != nil {
		return err
	}
	data, err := store.Encode(a.Sample(ctx))
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(data)
	return err
}

func runServe(ctx context.Context, cfg config.Config, withCollector bool, logger *slog.Logger) error {
	archive, err := openArchive(cfg, logger)
	if err != nil {
		return err
	}
	if archive != nil {
		defer archive.Close()
	}

	poller := presenter.NewPoller(cfg.Output, presenter.Options{
		Interval:   cfg.Serve.PollInterval,
		StaleAfter: cfg.Serve.StaleAfter,
		Logger:     logger,
	})
	hub := websockets.NewHub(logger)

	handler := &api.Handler{
		Views:        poller,
		HistoryPath:  cfg.HistoryPath(),
		HistoryLimit: cfg.Serve.HistoryLimit,
		Hub:          hub,
		Logger:       logger,
		Version:      version,
	}
	if archive != nil {
		handler.Archive = archive
	}
	router := mux.NewRouter()
	api.RegisterRoutes(router, handler)

	server := &http.Server{
		Addr:              cfg.Serve.Listen,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	var collector *agent.Agent
	if withCollector {
		if collector, err = newAgent(cfg, archive, logger); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	views := make(chan presenter.View)

	g.Go(func() error {
		return hub.Run(gctx, views)
	})
	g.Go(func() error {
		return poller.Run(gctx, func(view presenter.View) {
			select {
			case views <- view:
			case <-gctx.Done():
			}
		})
	})
	if collector != nil {
		g.Go(func() error {
			return collector.Run(gctx)
		})
	}
	g.Go(func() error {
		logger.Info("presenter listening", "addr", cfg.Serve.Listen, "snapshot", cfg.Output)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `hwpulse samples CPU, memory, disk, network and GPU metrics.

Usage:
  hwpulse [flags] [collect] [OUTPUT] [INTERVAL]
  hwpulse [flags] once
  hwpulse [flags] serve [--collect]

Examples:
  # Write data/metrics.json and data/history.csv every 2 seconds
  hwpulse

  # Custom output path, 5 second interval
  hwpulse collect /var/lib/hwpulse/metrics.json 5

  # Dashboard API on :8085 reading the collector's files
  hwpulse serve --listen :8085

Flags:
`)
	flagSet.SetOutput(os.Stderr)
	flagSet.PrintDefaults()
}
