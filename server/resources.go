package server

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/netintel/herokumcp/output"
	"github.com/netintel/herokumcp/telemetry"
)

const (
	AppsURI     = "heroku://apps"
	PipelineURI = "heroku://pipeline/network-intelligence"
	ModelsURI   = "heroku://ai-models"
)

type Resource struct {
	URI         string
	Name        string
	Description string
	read        func(context.Context) (any, error)
}

// Resources lists the readable resources in registration order.
func (c *Core) Resources() []Resource {
	return []Resource{
		{
			URI:         AppsURI,
			Name:        "Heroku Apps",
			Description: "List of all Heroku applications",
			read:        c.Platform.AppsResource,
		},
		{
			URI:         PipelineURI,
			Name:        "Network Intelligence Pipeline",
			Description: "Heroku pipeline for the Network Intelligence project",
			read:        c.Platform.PipelineResource,
		},
		{
			URI:         ModelsURI,
			Name:        "AI Models",
			Description: "Available AI inference models",
			read:        c.Intel.ModelsResource,
		},
	}
}

func (c *Core) lookupResource(uri string) (Resource, bool) {
	for _, r := range c.Resources() {
		if r.URI == uri {
			return r, true
		}
	}
	return Resource{}, false
}

// ReadResource renders the resource at uri as indented JSON. Backend failures
// and unknown URIs become a text/plain entry rather than a protocol error.
func (c *Core) ReadResource(ctx context.Context, uri string) (*mcp.ReadResourceResult, error) {
	start := time.Now()
	callID := uuid.NewString()

	res, ok := c.lookupResource(uri)
	if !ok {
		c.logger.InfoContext(ctx, "resource",
			"uri", uri,
			"call_id", callID,
			"outcome", telemetry.OutcomeUnknown,
		)
		c.metrics.ObserveResource(uri, telemetry.OutcomeUnknown)
		return errorContents(uri, &UnknownResourceError{URI: uri}), nil
	}

	ctx, span := c.tracer.Start(ctx, "resource "+uri, trace.WithAttributes(
		attribute.String("mcp.resource", uri),
		attribute.String("mcp.call_id", callID),
	))
	defer span.End()

	readCtx, cancel := context.WithTimeout(ctx, c.DefaultTimeout)
	defer cancel()

	text, err := c.readJSON(readCtx, res)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "read")
		c.logger.InfoContext(ctx, "resource",
			"uri", uri,
			"call_id", callID,
			"outcome", telemetry.OutcomeError,
			"error", err.Error(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
		c.metrics.ObserveResource(uri, telemetry.OutcomeError)
		return errorContents(uri, err), nil
	}

	c.logger.InfoContext(ctx, "resource",
		"uri", uri,
		"call_id", callID,
		"outcome", telemetry.OutcomeSuccess,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	c.metrics.ObserveResource(uri, telemetry.OutcomeSuccess)
	return &mcp.ReadResourceResult{Contents: []*mcp.ResourceContents{{
		URI:      uri,
		MIMEType: "application/json",
		Text:     text,
	}}}, nil
}

func (c *Core) readJSON(ctx context.Context, res Resource) (string, error) {
	v, err := res.read(ctx)
	if err != nil {
		return "", err
	}
	return output.JSON(v)
}

func errorContents(uri string, err error) *mcp.ReadResourceResult {
	return &mcp.ReadResourceResult{Contents: []*mcp.ResourceContents{{
		URI:      uri,
		MIMEType: "text/plain",
		Text:     "Error reading resource " + uri + ": " + err.Error(),
	}}}
}

type UnknownResourceError struct {
	URI string
}

func (e *UnknownResourceError) Error() string {
	return "Unknown resource: " + e.URI
}
