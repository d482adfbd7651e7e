// Package heroku drives the Heroku CLI for app, dyno, release and pipeline
// operations and renders the results as text.
package heroku

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/netintel/herokumcp/output"
	"github.com/netintel/herokumcp/runner"
	"github.com/netintel/herokumcp/toolkit"
)

const (
	DefaultDeployEnvVar = "APP_ENV"
	DefaultPipeline     = "network-intelligence"
)

// Options configures a Service. Zero values fall back to defaults.
type Options struct {
	// CLI is the argv prefix that invokes the Heroku CLI. Defaults to ["heroku"].
	CLI []string
	// APIToken is exported to the CLI as HEROKU_API_KEY when set.
	APIToken       string
	DeployEnvVar   string
	Pipeline       string
	MaxOutputBytes int
	Logger         *slog.Logger
}

type Service struct {
	exec         runner.Executor
	cli          []string
	env          []string
	deployEnvVar string
	pipeline     string
	maxOutput    int
	logger       *slog.Logger
}

func New(exec runner.Executor, opts Options) *Service {
	s := &Service{
		exec:         exec,
		cli:          opts.CLI,
		deployEnvVar: opts.DeployEnvVar,
		pipeline:     opts.Pipeline,
		maxOutput:    opts.MaxOutputBytes,
		logger:       opts.Logger,
	}
	if len(s.cli) == 0 {
		s.cli = []string{"heroku"}
	}
	if opts.APIToken != "" {
		s.env = []string{"HEROKU_API_KEY=" + opts.APIToken}
	}
	if s.deployEnvVar == "" {
		s.deployEnvVar = DefaultDeployEnvVar
	}
	if s.pipeline == "" {
		s.pipeline = DefaultPipeline
	}
	if s.maxOutput <= 0 {
		s.maxOutput = output.DefaultMaxBytes
	}
	if s.logger == nil {
		s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return s
}

func (s *Service) command(args ...string) runner.Command {
	argv := make([]string, 0, len(s.cli)+len(args))
	argv = append(argv, s.cli...)
	argv = append(argv, args...)
	return runner.Command{Args: argv, Env: s.env}
}

func (s *Service) run(ctx context.Context, cmd runner.Command) (runner.ExecResult, error) {
	res, err := runner.RunChecked(ctx, s.exec, cmd)
	s.logger.DebugContext(ctx, "heroku cli",
		"args", cmd.Args[len(s.cli):],
		"exit_code", res.ExitCode,
		"duration_ms", res.RuntimeMs,
		"error", errString(err),
	)
	return res, err
}

func (s *Service) runJSON(ctx context.Context, v any, args ...string) error {
	res, err := s.run(ctx, s.command(args...))
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(res.Stdout), v); err != nil {
		return fmt.Errorf("decode %s output: %w", strings.Join(args, " "), err)
	}
	return nil
}

func (s *Service) truncate(text string) string {
	out, _ := output.Truncate(text, s.maxOutput)
	return out
}

// ListApps renders `heroku apps --json`, adding --all for collaborator apps.
func (s *Service) ListApps(ctx context.Context, all bool) (string, error) {
	args := []string{"apps"}
	if all {
		args = append(args, "--all")
	}
	args = append(args, "--json")

	var apps []App
	if err := s.runJSON(ctx, &apps, args...); err != nil {
		return "", fmt.Errorf("list heroku apps: %w", err)
	}
	return FormatApps(apps), nil
}

// AppInfo renders `heroku apps:info <app> --json`.
func (s *Service) AppInfo(ctx context.Context, app string) (string, error) {
	info, err := s.appInfo(ctx, app)
	if err != nil {
		return "", fmt.Errorf("get app info for %s: %w", app, err)
	}
	return FormatAppInfo(info), nil
}

func (s *Service) appInfo(ctx context.Context, app string) (AppInfo, error) {
	var info AppInfo
	if err := s.runJSON(ctx, &info, "apps:info", app, "--json"); err != nil {
		return AppInfo{}, err
	}
	return info, nil
}

// Deploy promotes app to environment by setting the deploy config var, which
// creates a release, then reports that release.
func (s *Service) Deploy(ctx context.Context, app, environment string) (string, error) {
	steps := make([]string, 0, 4)

	assignment := s.deployEnvVar + "=" + environment
	if _, err := s.run(ctx, s.command("config:set", assignment, "--app", app)); err != nil {
		return "", fmt.Errorf("deploy %s: set %s: %w", app, s.deployEnvVar, err)
	}
	steps = append(steps, "Configured "+assignment)

	var releases []Release
	if err := s.runJSON(ctx, &releases, "releases", "--app", app, "--json", "--num", "1"); err != nil {
		return "", fmt.Errorf("deploy %s: read release: %w", app, err)
	}
	if len(releases) == 0 {
		return "", fmt.Errorf("deploy %s: no release found after config change", app)
	}
	rel := releases[0]
	if rel.Status == "failed" {
		return "", fmt.Errorf("deploy %s: release v%d failed", app, rel.Version)
	}
	steps = append(steps, fmt.Sprintf("Created release v%d (%s)", rel.Version, output.Or(rel.Description, "no description")))
	steps = append(steps, "Release status: "+output.Or(rel.Status, "succeeded"))

	webURL := fmt.Sprintf("https://%s.herokuapp.com", app)
	if info, err := s.appInfo(ctx, app); err != nil {
		s.logger.DebugContext(ctx, "app info unavailable after deploy", "app", app, "error", err.Error())
	} else if info.App.WebURL != "" {
		webURL = strings.TrimSuffix(info.App.WebURL, "/")
	}

	return FormatDeploy(app, environment, steps, webURL), nil
}

// Scale runs `heroku ps:scale <type>=<qty>[:<size>] --app <app>`.
func (s *Service) Scale(ctx context.Context, app, dynoType string, quantity int, size string) (string, error) {
	formation := dynoType + "=" + strconv.Itoa(quantity)
	if size != "" {
		formation += ":" + size
	}
	res, err := s.run(ctx, s.command("ps:scale", formation, "--app", app))
	if err != nil {
		return "", fmt.Errorf("scale %s: %w", app, err)
	}
	return FormatScale(app, dynoType, quantity, size, s.truncate(res.Stdout)), nil
}

// PSQL runs query through `heroku pg:psql`. With readOnly the session
// defaults every transaction to read-only.
func (s *Service) PSQL(ctx context.Context, app, query string, readOnly bool) (string, error) {
	cmd := s.command("pg:psql", "--app", app, "-c", query)
	if readOnly {
		cmd.Env = append(append([]string(nil), cmd.Env...), "PGOPTIONS=-c default_transaction_read_only=on")
	}
	res, err := s.run(ctx, cmd)
	if err != nil {
		return "", err
	}
	return s.truncate(res.Stdout), nil
}

// ConfigGet returns one config var of app. A missing var is an error.
func (s *Service) ConfigGet(ctx context.Context, app, key string) (string, error) {
	res, err := s.run(ctx, s.command("config:get", key, "--app", app))
	if err != nil {
		return "", err
	}
	value := strings.TrimSpace(res.Stdout)
	if value == "" {
		return "", fmt.Errorf("%s is not set on %s", key, app)
	}
	return value, nil
}

// AppsResource returns the raw `heroku apps --json` document.
func (s *Service) AppsResource(ctx context.Context) (any, error) {
	var apps []map[string]any
	if err := s.runJSON(ctx, &apps, "apps", "--json"); err != nil {
		return nil, fmt.Errorf("get apps resource: %w", err)
	}
	if apps == nil {
		apps = []map[string]any{}
	}
	return apps, nil
}

// PipelineResource returns the configured pipeline from `heroku pipelines
// --json`, or an empty object when it does not exist.
func (s *Service) PipelineResource(ctx context.Context) (any, error) {
	var pipelines []map[string]any
	if err := s.runJSON(ctx, &pipelines, "pipelines", "--json"); err != nil {
		return nil, fmt.Errorf("get pipeline resource: %w", err)
	}
	for _, p := range pipelines {
		if name, _ := p["name"].(string); name == s.pipeline {
			return p, nil
		}
	}
	return map[string]any{}, nil
}

// Status probes the CLI installation and login.
func (s *Service) Status(ctx context.Context) toolkit.Status {
	return toolkit.Probe(ctx, s.exec, s.cli, s.env)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	var exitErr *runner.ExitError
	if errors.As(err, &exitErr) {
		return fmt.Sprintf("exit status %d", exitErr.ExitCode)
	}
	return err.Error()
}
