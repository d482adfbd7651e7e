// Package herokumcp is an MCP server exposing Heroku platform management,
// Postgres queries and the Network Intelligence API as tools and resources.
package herokumcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/netintel/herokumcp/catalog"
	"github.com/netintel/herokumcp/config"
	"github.com/netintel/herokumcp/database"
	"github.com/netintel/herokumcp/heroku"
	"github.com/netintel/herokumcp/netintel"
	"github.com/netintel/herokumcp/parser"
	"github.com/netintel/herokumcp/runner"
	"github.com/netintel/herokumcp/server"
	"github.com/netintel/herokumcp/telemetry"
)

type Config struct {
	// ConfigPath is the YAML config file. Empty means config.DefaultPath().
	ConfigPath string

	// Catalog is the tool catalog. If nil, the embedded catalog plus
	// catalog_dir from the config file is loaded.
	Catalog catalog.Catalog

	// Executor runs Heroku CLI commands. If nil, commands run locally, or on
	// the configured SSH bastion when ssh.host is set.
	Executor runner.Executor

	// HTTPTransport carries Network Intelligence API requests. Nil means http.DefaultTransport.
	HTTPTransport http.RoundTripper

	// Registry receives the Prometheus metrics. If nil, a fresh registry with
	// Go and process collectors is created.
	Registry *prometheus.Registry

	// Logger is the structured logger passed to every component. If nil, a discard logger is used.
	Logger *slog.Logger

	// Name overrides the MCP server implementation name (default: "heroku-mcp-server").
	Name string

	// Version overrides the MCP server implementation version (default: "1.0.0").
	Version string
}

// Server is a fully wired Core plus the resources it owns.
type Server struct {
	Core     *server.Core
	Registry *prometheus.Registry
	Settings config.Config

	logger  *slog.Logger
	options server.ServerOptions
	closers []func() error
}

// New loads the config file and wires the runner, Heroku, database and
// Network Intelligence layers into a Core.
func New(cfg Config) (*Server, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	path := cfg.ConfigPath
	if path == "" {
		path = config.DefaultPath()
	}
	settings, err := config.LoadFrom(path)
	if err != nil {
		return nil, fmt.Errorf("load user config: %w", err)
	}

	cat := cfg.Catalog
	if cat == nil {
		cat, err = catalog.Load(deref(settings.CatalogDir))
		if err != nil {
			return nil, fmt.Errorf("load tool catalog: %w", err)
		}
	}

	reg := cfg.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	metrics := telemetry.NewMetrics(reg)

	s := &Server{
		Registry: reg,
		Settings: settings,
		logger:   logger,
		options:  server.ServerOptions{Name: cfg.Name, Version: cfg.Version},
	}

	exec := cfg.Executor
	if exec == nil {
		exec = s.buildExecutor(settings)
	}
	exec = metrics.InstrumentExecutor(exec)

	herokuOpts := heroku.Options{Logger: logger}
	if settings.MaxOutputBytes != nil {
		herokuOpts.MaxOutputBytes = *settings.MaxOutputBytes
	}
	if h := settings.Heroku; h != nil {
		if h.CLI != nil {
			herokuOpts.CLI, err = parser.ParseCommandLine(*h.CLI)
			if err != nil {
				return nil, fmt.Errorf("parse heroku.cli: %w", err)
			}
		}
		herokuOpts.APIToken = deref(h.APIToken)
		herokuOpts.DeployEnvVar = deref(h.DeployEnvVar)
		herokuOpts.Pipeline = deref(h.Pipeline)
	}
	platform := heroku.New(exec, herokuOpts)

	dbOpts := database.Options{Logger: logger}
	if d := settings.Database; d != nil {
		dbOpts.Mode = deref(d.Mode)
		if d.AllowWrites != nil {
			dbOpts.AllowWrites = *d.AllowWrites
		}
		if d.MaxRows != nil {
			dbOpts.MaxRows = *d.MaxRows
		}
	}
	db := database.New(platform, dbOpts)

	niOpts := netintel.Options{
		Transport: metrics.InstrumentTransport(cfg.HTTPTransport),
		Logger:    logger,
	}
	if n := settings.NetworkIntelligence; n != nil {
		niOpts.BaseURL = deref(n.URL)
		if n.Timeout != nil {
			niOpts.Timeout = n.Timeout.Duration()
		}
	}
	intel := netintel.New(niOpts)

	coreOpts := []server.CoreOption{server.WithMetrics(metrics)}
	if settings.Timeout != nil {
		coreOpts = append(coreOpts, server.WithDefaultTimeout(time.Duration(*settings.Timeout)*time.Second))
	}
	s.Core, err = server.NewCore(cat, platform, db, intel, logger, coreOpts...)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Server) buildExecutor(settings config.Config) runner.Executor {
	sc := settings.SSH
	if sc == nil || deref(sc.Host) == "" {
		return runner.NewLocal()
	}

	bastion := runner.Bastion{
		Host:         *sc.Host,
		User:         deref(sc.User),
		IdentityFile: deref(sc.IdentityFile),
	}
	if sc.Port != nil {
		bastion.Port = *sc.Port
	}

	opts := []runner.Option{runner.WithLogger(s.logger)}
	if sc.Retries != nil {
		opts = append(opts, runner.WithRetries(*sc.Retries))
	}
	if sc.RetryBackoff != nil {
		opts = append(opts, runner.WithRetryBackoff(sc.RetryBackoff.Duration()))
	}
	if sc.ConnectTimeout != nil {
		opts = append(opts, runner.WithConnectTimeout(sc.ConnectTimeout.Duration()))
	}
	if sc.HostKeyChecking != nil {
		// validated by config.LoadFrom
		mode, _ := runner.ParseHostKeyMode(*sc.HostKeyChecking)
		opts = append(opts, runner.WithHostKeyChecking(mode))
	}
	if sc.KnownHostsFile != nil {
		opts = append(opts, runner.WithKnownHostsFile(*sc.KnownHostsFile))
	}

	remote := runner.NewRemote(bastion, opts...)
	s.closers = append(s.closers, remote.Close)
	s.logger.Info("heroku cli runs on bastion", "host", bastion.Host)
	return remote
}

// ProbeCLI logs whether the Heroku CLI is installed and authenticated. A
// failed probe is not fatal; tools report their own errors.
func (s *Server) ProbeCLI(ctx context.Context) {
	status := s.Core.Platform.Status(ctx)
	switch {
	case !status.Available():
		s.logger.Warn("heroku cli probe", "outcome", "unavailable", "error", status.VersionError)
	case !status.Authenticated():
		s.logger.Warn("heroku cli probe", "outcome", "unauthenticated", "version", status.Version, "error", status.AuthError)
	default:
		s.logger.Info("heroku cli probe", "outcome", "success", "version", status.Version, "account", status.Account)
	}
}

// StartTracing installs the OTLP exporter named by the tracing config. The
// returned shutdown is a no-op when tracing is off.
func (s *Server) StartTracing(ctx context.Context) (func(context.Context) error, error) {
	opts := telemetry.TracingOptions{ServiceVersion: s.options.Version}
	if opts.ServiceVersion == "" {
		opts.ServiceVersion = server.DefaultVersion
	}
	if t := s.Settings.Tracing; t != nil {
		opts.Endpoint = deref(t.Endpoint)
		opts.Protocol = deref(t.Protocol)
		opts.ServiceName = deref(t.ServiceName)
		if t.Insecure != nil {
			opts.Insecure = *t.Insecure
		}
	}
	return telemetry.InitTracing(ctx, opts)
}

// Handler returns the HTTP handler serving /mcp, /sse, /healthz and /metrics.
func (s *Server) Handler() http.Handler {
	return server.NewHTTPHandler(s.Core, s.logger, s.Registry, s.options)
}

func (s *Server) Close() error {
	var errs []error
	for _, c := range s.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}

// RunStdio creates a server from cfg and runs it over stdin/stdout.
func RunStdio(ctx context.Context, cfg Config) error {
	return run(ctx, cfg, func(s *Server) error {
		return server.RunStdio(ctx, s.Core, s.logger, s.options)
	})
}

// RunHTTP creates a server from cfg and serves it on addr until ctx is done.
func RunHTTP(ctx context.Context, cfg Config, addr string) error {
	return run(ctx, cfg, func(s *Server) error {
		return server.ServeHTTP(ctx, addr, s.Handler(), s.logger)
	})
}

func run(ctx context.Context, cfg Config, serve func(*Server) error) error {
	s, err := New(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	shutdown, err := s.StartTracing(ctx)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(flushCtx); err != nil {
			s.logger.Warn("flush traces", "error", err)
		}
	}()

	s.ProbeCLI(ctx)
	return serve(s)
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}
