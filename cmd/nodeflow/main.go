// Command nodeflow serves workflow runs over HTTP.
//
// It loads workflow definitions from a directory, registers their cron and
// webhook triggers, and exposes run creation, polling, single node runs,
// webhooks, Prometheus metrics and the upload directory.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/dshills/nodeflow/graph"
	"github.com/dshills/nodeflow/graph/emit"
	"github.com/dshills/nodeflow/graph/nodes"
	"github.com/dshills/nodeflow/graph/store"
	"github.com/dshills/nodeflow/graph/trigger"
)

// shutdownTimeout bounds how long in-flight requests get on shutdown.
const shutdownTimeout = 10 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// Args represents parsed command-line arguments.
type Args struct {
	// ConfigFile is the path to the configuration YAML file (default: config.yaml)
	ConfigFile string
	// ConfigSet reports whether -config was given explicitly.
	ConfigSet bool
	// EnvFile is the dotenv file loaded before the config (default: .env)
	EnvFile string
}

// parseArgs parses command-line arguments.
func parseArgs(osArgs []string, stderr io.Writer) (Args, error) {
	fs := flag.NewFlagSet("nodeflow", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configFile := fs.String("config", "config.yaml", "path to config YAML file")
	envFile := fs.String("env", ".env", "path to dotenv file")
	if err := fs.Parse(osArgs); err != nil {
		return Args{}, fmt.Errorf("flag parsing error: %w", err)
	}
	if fs.NArg() > 0 {
		return Args{}, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}

	args := Args{ConfigFile: *configFile, EnvFile: *envFile}
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "config" {
			args.ConfigSet = true
		}
	})
	return args, nil
}

func run(ctx context.Context, osArgs []string, stdout, stderr io.Writer) error {
	args, err := parseArgs(osArgs, stderr)
	if err != nil {
		return err
	}
	// A missing .env is normal outside development.
	if err := godotenv.Load(args.EnvFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to load %s: %w", args.EnvFile, err)
	}

	cfg, err := loadConfig(args.ConfigFile, args.ConfigSet)
	if err != nil {
		return err
	}
	cfg.applyEnv(os.Getenv)
	if err := cfg.validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger := newLogger(stderr, cfg.Log.Format)
	svc, err := newApp(cfg, logger, stdout)
	if err != nil {
		return err
	}
	defer svc.close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           svc.server.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Addr, "workflows", len(svc.registry.Workflows()))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}
	return nil
}

func newLogger(w io.Writer, format string) *slog.Logger {
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, nil))
	}
	return slog.New(slog.NewTextHandler(w, nil))
}

// app holds the wired components of the service.
type app struct {
	engine   *graph.Engine
	registry *trigger.Registry
	store    store.Store[graph.RunRecord]
	server   *server
	closers  []func(context.Context) error
	logger   *slog.Logger
}

// newApp builds the store, emitters, metrics, executor, engine and trigger
// registry described by cfg, and registers every workflow in
// cfg.WorkflowsDir.
func newApp(cfg *Config, logger *slog.Logger, events io.Writer) (*app, error) {
	a := &app{logger: logger}

	st, err := openStore(cfg)
	if err != nil {
		return nil, err
	}
	a.store = st

	emitters := []emit.Emitter{emit.NewSlogEmitter(logger)}
	if cfg.Log.Events {
		emitters = append(emitters, emit.NewLogEmitter(events, cfg.Log.Format == "json"))
	}
	if cfg.Tracing.Enabled {
		tp := newTracerProvider(cfg.Tracing.ServiceName, logger)
		a.closers = append(a.closers, tp.Shutdown)
		emitters = append(emitters, emit.NewOTelEmitter(tp.Tracer("nodeflow")))
	}
	emitter := emit.NewMultiEmitter(emitters...)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := graph.NewPrometheusMetrics(registry)

	loc, err := cfg.location()
	if err != nil {
		a.close()
		return nil, err
	}
	exec := nodes.New(
		nodes.WithUploadDir(cfg.UploadDir),
		nodes.WithMetrics(metrics),
		nodes.WithDisplayLocation(loc),
	)
	engine, err := graph.New(exec,
		graph.WithStore(st),
		graph.WithEmitter(emitter),
		graph.WithMetrics(metrics),
		graph.WithLogger(logger),
		graph.WithMaxConcurrent(cfg.MaxConcurrent),
		graph.WithDisplayLocation(loc),
	)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}
	a.engine = engine
	a.registry = trigger.New(engine,
		trigger.WithEmitter(emitter),
		trigger.WithMetrics(metrics),
		trigger.WithLogger(logger),
	)

	workflows, err := loadWorkflows(cfg.WorkflowsDir, logger)
	if err != nil {
		a.close()
		return nil, err
	}
	for _, wf := range workflows {
		n, err := a.registry.Register(wf)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("failed to register workflow %s: %w", wf.ID, err)
		}
		logger.Info("workflow registered", "workflow_id", wf.ID, "schedules", n)
	}

	if err := os.MkdirAll(cfg.UploadDir, 0o755); err != nil {
		a.close()
		return nil, fmt.Errorf("failed to create upload dir: %w", err)
	}
	a.server = &server{
		engine:    engine,
		registry:  a.registry,
		gatherer:  registry,
		uploadDir: cfg.UploadDir,
		logger:    logger,
		started:   time.Now(),
		now:       time.Now,
	}
	return a, nil
}

// close stops triggers, waits for running workflows and releases the store.
func (a *app) close() {
	if a.registry != nil {
		_ = a.registry.Close()
	}
	if a.engine != nil {
		a.engine.Wait()
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for _, c := range a.closers {
		if err := c(ctx); err != nil {
			a.logger.Warn("shutdown", "error", err)
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("failed to close store", "error", err)
		}
	}
}

func openStore(cfg *Config) (store.Store[graph.RunRecord], error) {
	switch cfg.Store.Driver {
	case "sqlite":
		st, err := store.NewSQLiteStore[graph.RunRecord](cfg.Store.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		return st, nil
	case "mysql":
		st, err := store.NewMySQLStore[graph.RunRecord](cfg.Store.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to open mysql store: %w", err)
		}
		return st, nil
	default:
		return store.NewMemStore[graph.RunRecord](), nil
	}
}
