package server

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/netintel/herokumcp/catalog"
)

type ServerOptions struct {
	// Name is the MCP server implementation name. Default: "heroku-mcp-server".
	Name string
	// Version is the MCP server implementation version. Default: "1.0.0".
	Version string
}

// NewMCPServer registers every enabled catalog tool and all resources.
func NewMCPServer(core *Core, logger *slog.Logger, opts ...ServerOptions) *mcp.Server {
	name := DefaultName
	version := DefaultVersion
	if len(opts) > 0 {
		if opts[0].Name != "" {
			name = opts[0].Name
		}
		if opts[0].Version != "" {
			version = opts[0].Version
		}
	}
	srv := mcp.NewServer(&mcp.Implementation{Name: name, Version: version}, &mcp.ServerOptions{Logger: logger})

	registered := make(map[string]bool)
	addTool(srv, core, registered, "list_heroku_apps", core.ListApps)
	addTool(srv, core, registered, "get_heroku_app_info", core.AppInfo)
	addTool(srv, core, registered, "deploy_to_heroku", core.Deploy)
	addTool(srv, core, registered, "scale_heroku_app", core.Scale)
	addTool(srv, core, registered, "query_heroku_database", core.QueryDatabase)
	addTool(srv, core, registered, "ai_inference", core.Inference)
	addTool(srv, core, registered, "batch_ai_inference", core.BatchInference)
	addTool(srv, core, registered, "analyze_network_traffic", core.AnalyzeTraffic)
	addTool(srv, core, registered, "list_ai_models", core.ListModels)
	addTool(srv, core, registered, "get_network_status", core.NetworkStatus)
	addTool(srv, core, registered, "get_security_alerts", core.SecurityAlerts)
	addTool(srv, core, registered, "get_threat_intelligence", core.ThreatIntelligence)
	addTool(srv, core, registered, "get_network_analytics", core.Analytics)
	addTool(srv, core, registered, "heroku_cli_status", core.CLIStatus)

	for _, r := range core.Resources() {
		srv.AddResource(&mcp.Resource{
			URI:         r.URI,
			Name:        r.Name,
			Description: r.Description,
			MIMEType:    "application/json",
		}, func(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
			return core.ReadResource(ctx, req.Params.URI)
		})
	}

	srv.AddReceivingMiddleware(unknownTargets(core, registered))
	return srv
}

func addTool[In any](srv *mcp.Server, core *Core, registered map[string]bool, name string, call func(context.Context, In) (string, error)) {
	t := core.Catalog.Lookup(name)
	if t == nil {
		return
	}
	registered[name] = true
	mcp.AddTool(srv, toolDefinition(t), func(ctx context.Context, _ *mcp.CallToolRequest, in In) (*mcp.CallToolResult, any, error) {
		text, err := call(ctx, in)
		if err != nil {
			return errorResult(fmt.Sprintf("Error executing tool %s: %s", name, err)), nil, nil
		}
		return textResult(text), nil, nil
	})
}

func toolDefinition(t *catalog.Tool) *mcp.Tool {
	destructive := t.Destructive
	openWorld := true
	return &mcp.Tool{
		Name:        t.Name,
		Title:       t.Title,
		Description: t.Description,
		Annotations: &mcp.ToolAnnotations{
			ReadOnlyHint:    t.ReadOnly,
			IdempotentHint:  t.Idempotent,
			DestructiveHint: &destructive,
			OpenWorldHint:   &openWorld,
		},
	}
}

// unknownTargets answers calls to unregistered tools and reads of unknown
// resources with text entries instead of the SDK's generic not-found errors.
func unknownTargets(core *Core, registered map[string]bool) mcp.Middleware {
	return func(next mcp.MethodHandler) mcp.MethodHandler {
		return func(ctx context.Context, method string, req mcp.Request) (mcp.Result, error) {
			switch r := req.(type) {
			case *mcp.CallToolRequest:
				if r.Params != nil && !registered[r.Params.Name] {
					err := core.unknownTool(ctx, r.Params.Name)
					return errorResult(fmt.Sprintf("Error executing tool %s: %s", r.Params.Name, err)), nil
				}
			case *mcp.ReadResourceRequest:
				if r.Params != nil {
					if _, ok := core.lookupResource(r.Params.URI); !ok {
						return core.ReadResource(ctx, r.Params.URI)
					}
				}
			}
			return next(ctx, method, req)
		}
	}
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: text}}}
}

func errorResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
		IsError: true,
	}
}

func RunStdio(ctx context.Context, core *Core, logger *slog.Logger, opts ...ServerOptions) error {
	server := NewMCPServer(core, logger, opts...)
	if err := server.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("run mcp stdio server: %w", err)
	}
	return nil
}
