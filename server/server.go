// Package server exposes the Heroku, database and Network Intelligence
// operations as MCP tools and resources.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/netintel/herokumcp/catalog"
	"github.com/netintel/herokumcp/telemetry"
	"github.com/netintel/herokumcp/toolkit"
	"github.com/netintel/herokumcp/validator"
)

const (
	DefaultName    = "heroku-mcp-server"
	DefaultVersion = "1.0.0"
)

// Platform is the Heroku CLI adapter.
type Platform interface {
	ListApps(ctx context.Context, all bool) (string, error)
	AppInfo(ctx context.Context, app string) (string, error)
	Deploy(ctx context.Context, app, environment string) (string, error)
	Scale(ctx context.Context, app, dynoType string, quantity int, size string) (string, error)
	AppsResource(ctx context.Context) (any, error)
	PipelineResource(ctx context.Context) (any, error)
	Status(ctx context.Context) toolkit.Status
}

type Database interface {
	Query(ctx context.Context, app, query string) (string, error)
}

// Intelligence is the Network Intelligence API client.
type Intelligence interface {
	Infer(ctx context.Context, app, model string, input map[string]any) (string, error)
	BatchInfer(ctx context.Context, app string, requests []map[string]any) (string, error)
	AnalyzeTraffic(ctx context.Context, app string, traffic map[string]any) (string, error)
	ListModels(ctx context.Context) (string, error)
	ModelsResource(ctx context.Context) (any, error)
	NetworkStatus(ctx context.Context, app string) (string, error)
	SecurityAlerts(ctx context.Context, app, status string) (string, error)
	ThreatIntelligence(ctx context.Context, app string) (string, error)
	Analytics(ctx context.Context, app, metricName string) (string, error)
}

type Core struct {
	Catalog  catalog.Catalog
	Platform Platform
	Database Database
	Intel    Intelligence

	// DefaultTimeout bounds resource reads. Tools use their catalog timeout.
	DefaultTimeout time.Duration

	validator *validator.Validator
	metrics   *telemetry.Metrics
	tracer    trace.Tracer
	logger    *slog.Logger
}

type ListAppsInput struct {
	All bool `json:"all,omitempty" jsonschema:"Show owned apps and collaborator access"`
}

type AppInput struct {
	App string `json:"app" jsonschema:"Target app name" validate:"required,heroku_app"`
}

type DeployInput struct {
	App         string `json:"app" jsonschema:"Target app name" validate:"required,heroku_app"`
	Environment string `json:"environment" jsonschema:"Target environment: development, staging or production" validate:"required,oneof=development staging production"`
}

type ScaleInput struct {
	App      string `json:"app" jsonschema:"Target app name" validate:"required,heroku_app"`
	DynoType string `json:"dyno_type" jsonschema:"Dyno type (web, worker, etc.)" validate:"required,process_type,max=64"`
	Quantity int    `json:"quantity" jsonschema:"Number of dynos" validate:"min=0,max=100"`
	Size     string `json:"size,omitempty" jsonschema:"Dyno size (Standard-1X, Standard-2X, etc.)" validate:"omitempty,dyno_size,max=32"`
}

type QueryInput struct {
	App   string `json:"app" jsonschema:"Target app name" validate:"required,heroku_app"`
	Query string `json:"query" jsonschema:"SQL query to execute" validate:"required"`
}

type InferenceInput struct {
	App       string         `json:"app" jsonschema:"Target app name" validate:"required,heroku_app"`
	Model     string         `json:"model" jsonschema:"AI model to use" validate:"required,max=128"`
	InputData map[string]any `json:"input_data" jsonschema:"Input data for inference" validate:"required"`
}

type BatchInferenceInput struct {
	App      string           `json:"app" jsonschema:"Target app name" validate:"required,heroku_app"`
	Requests []map[string]any `json:"requests" jsonschema:"Inference requests, each with type and data" validate:"required,min=1,max=100"`
}

type TrafficInput struct {
	App         string         `json:"app" jsonschema:"Target app name" validate:"required,heroku_app"`
	TrafficData map[string]any `json:"traffic_data" jsonschema:"Network traffic data to analyze" validate:"required"`
}

type AlertsInput struct {
	App    string `json:"app" jsonschema:"Target app name" validate:"required,heroku_app"`
	Status string `json:"status,omitempty" jsonschema:"Alert filter: all or active (default all)" validate:"omitempty,oneof=all active"`
}

type AnalyticsInput struct {
	App        string `json:"app" jsonschema:"Target app name" validate:"required,heroku_app"`
	MetricName string `json:"metric_name,omitempty" jsonschema:"Only return this metric" validate:"omitempty,max=128"`
}

type EmptyInput struct{}

type CoreOption func(*Core)

func WithDefaultTimeout(d time.Duration) CoreOption {
	return func(c *Core) {
		if d > 0 {
			c.DefaultTimeout = d
		}
	}
}

func WithMetrics(m *telemetry.Metrics) CoreOption {
	return func(c *Core) { c.metrics = m }
}

func WithTracer(t trace.Tracer) CoreOption {
	return func(c *Core) {
		if t != nil {
			c.tracer = t
		}
	}
}

func NewCore(cat catalog.Catalog, platform Platform, db Database, intel Intelligence, logger *slog.Logger, opts ...CoreOption) (*Core, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	v, err := validator.New()
	if err != nil {
		return nil, fmt.Errorf("create validator: %w", err)
	}
	c := &Core{
		Catalog:        cat,
		Platform:       platform,
		Database:       db,
		Intel:          intel,
		DefaultTimeout: 30 * time.Second,
		validator:      v,
		tracer:         telemetry.Tracer(),
		logger:         logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// UnknownToolError reports a call to a tool that is not in the catalog or is denied.
type UnknownToolError struct {
	Name string
}

func (e *UnknownToolError) Error() string {
	return "Unknown tool: " + e.Name
}

func (c *Core) unknownTool(ctx context.Context, name string) error {
	c.logger.InfoContext(ctx, "tool",
		"tool", name,
		"call_id", uuid.NewString(),
		"outcome", telemetry.OutcomeUnknown,
	)
	c.metrics.ObserveTool(name, telemetry.OutcomeUnknown, 0)
	return &UnknownToolError{Name: name}
}

// run validates in, applies the tool's timeout and calls fn, logging and
// counting the outcome.
func (c *Core) run(ctx context.Context, name, app string, in any, fn func(context.Context) (string, error)) (string, error) {
	start := time.Now()
	callID := uuid.NewString()

	tool := c.Catalog.Lookup(name)
	if tool == nil {
		return "", c.unknownTool(ctx, name)
	}

	ctx, span := c.tracer.Start(ctx, "tool "+name, trace.WithAttributes(
		attribute.String("mcp.tool", name),
		attribute.String("mcp.call_id", callID),
		attribute.String("heroku.app", app),
	))
	defer span.End()

	fail := func(stage string, err error) (string, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, stage)
		outcome := telemetry.OutcomeError
		if stage == "validate" {
			outcome = telemetry.OutcomeRejected
		}
		c.logger.InfoContext(ctx, "tool",
			"tool", name,
			"app", app,
			"call_id", callID,
			"outcome", outcome,
			"stage", stage,
			"error", err.Error(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
		c.metrics.ObserveTool(name, outcome, time.Since(start))
		return "", err
	}

	if in != nil {
		if err := c.validator.Struct(in); err != nil {
			return fail("validate", err)
		}
	}

	runCtx, cancel := context.WithTimeout(ctx, time.Duration(tool.Timeout)*time.Second)
	defer cancel()

	text, err := fn(runCtx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && runCtx.Err() != nil {
			err = fmt.Errorf("%s timed out after %ds: %w", name, tool.Timeout, err)
		}
		return fail("run", err)
	}

	c.logger.InfoContext(ctx, "tool",
		"tool", name,
		"app", app,
		"call_id", callID,
		"outcome", telemetry.OutcomeSuccess,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	c.metrics.ObserveTool(name, telemetry.OutcomeSuccess, time.Since(start))
	return text, nil
}

func (c *Core) ListApps(ctx context.Context, in ListAppsInput) (string, error) {
	return c.run(ctx, "list_heroku_apps", "", in, func(ctx context.Context) (string, error) {
		return c.Platform.ListApps(ctx, in.All)
	})
}

func (c *Core) AppInfo(ctx context.Context, in AppInput) (string, error) {
	return c.run(ctx, "get_heroku_app_info", in.App, in, func(ctx context.Context) (string, error) {
		return c.Platform.AppInfo(ctx, in.App)
	})
}

func (c *Core) Deploy(ctx context.Context, in DeployInput) (string, error) {
	return c.run(ctx, "deploy_to_heroku", in.App, in, func(ctx context.Context) (string, error) {
		return c.Platform.Deploy(ctx, in.App, in.Environment)
	})
}

func (c *Core) Scale(ctx context.Context, in ScaleInput) (string, error) {
	return c.run(ctx, "scale_heroku_app", in.App, in, func(ctx context.Context) (string, error) {
		return c.Platform.Scale(ctx, in.App, in.DynoType, in.Quantity, in.Size)
	})
}

func (c *Core) QueryDatabase(ctx context.Context, in QueryInput) (string, error) {
	return c.run(ctx, "query_heroku_database", in.App, in, func(ctx context.Context) (string, error) {
		return c.Database.Query(ctx, in.App, in.Query)
	})
}

func (c *Core) Inference(ctx context.Context, in InferenceInput) (string, error) {
	return c.run(ctx, "ai_inference", in.App, in, func(ctx context.Context) (string, error) {
		return c.Intel.Infer(ctx, in.App, in.Model, in.InputData)
	})
}

func (c *Core) BatchInference(ctx context.Context, in BatchInferenceInput) (string, error) {
	return c.run(ctx, "batch_ai_inference", in.App, in, func(ctx context.Context) (string, error) {
		return c.Intel.BatchInfer(ctx, in.App, in.Requests)
	})
}

func (c *Core) AnalyzeTraffic(ctx context.Context, in TrafficInput) (string, error) {
	return c.run(ctx, "analyze_network_traffic", in.App, in, func(ctx context.Context) (string, error) {
		return c.Intel.AnalyzeTraffic(ctx, in.App, in.TrafficData)
	})
}

func (c *Core) ListModels(ctx context.Context, _ EmptyInput) (string, error) {
	return c.run(ctx, "list_ai_models", "", nil, c.Intel.ListModels)
}

func (c *Core) NetworkStatus(ctx context.Context, in AppInput) (string, error) {
	return c.run(ctx, "get_network_status", in.App, in, func(ctx context.Context) (string, error) {
		return c.Intel.NetworkStatus(ctx, in.App)
	})
}

func (c *Core) SecurityAlerts(ctx context.Context, in AlertsInput) (string, error) {
	return c.run(ctx, "get_security_alerts", in.App, in, func(ctx context.Context) (string, error) {
		return c.Intel.SecurityAlerts(ctx, in.App, in.Status)
	})
}

func (c *Core) ThreatIntelligence(ctx context.Context, in AppInput) (string, error) {
	return c.run(ctx, "get_threat_intelligence", in.App, in, func(ctx context.Context) (string, error) {
		return c.Intel.ThreatIntelligence(ctx, in.App)
	})
}

func (c *Core) Analytics(ctx context.Context, in AnalyticsInput) (string, error) {
	return c.run(ctx, "get_network_analytics", in.App, in, func(ctx context.Context) (string, error) {
		return c.Intel.Analytics(ctx, in.App, in.MetricName)
	})
}

func (c *Core) CLIStatus(ctx context.Context, _ EmptyInput) (string, error) {
	return c.run(ctx, "heroku_cli_status", "", nil, func(ctx context.Context) (string, error) {
		return c.Platform.Status(ctx).Format(), nil
	})
}
