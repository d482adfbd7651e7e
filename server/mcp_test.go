package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/goleak"

	"github.com/netintel/herokumcp/telemetry"
)

func connect(t *testing.T, core *Core) *mcp.ClientSession {
	t.Helper()
	ctx := context.Background()
	s := NewMCPServer(core, nil)
	c := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "v0.0.1"}, nil)
	t1, t2 := mcp.NewInMemoryTransports()
	ss, err := s.Connect(ctx, t1, nil)
	if err != nil {
		t.Fatalf("server connect: %v", err)
	}
	t.Cleanup(func() { _ = ss.Close() })
	cs, err := c.Connect(ctx, t2, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { _ = cs.Close() })
	return cs
}

func callText(t *testing.T, cs *mcp.ClientSession, name string, args map[string]any) (string, bool) {
	t.Helper()
	res, err := cs.CallTool(t.Context(), &mcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		t.Fatalf("CallTool(%s) error = %v", name, err)
	}
	if len(res.Content) != 1 {
		t.Fatalf("CallTool(%s) content blocks = %d, want 1", name, len(res.Content))
	}
	tc, ok := res.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("CallTool(%s) content = %T, want *mcp.TextContent", name, res.Content[0])
	}
	return tc.Text, res.IsError
}

func TestNewMCPServerRegistersTools(t *testing.T) {
	cs := connect(t, newTestCore(t, &fakePlatform{}, nil))

	found := map[string]*mcp.Tool{}
	for tool, err := range cs.Tools(t.Context(), nil) {
		if err != nil {
			t.Fatalf("tools iterator error: %v", err)
		}
		found[tool.Name] = tool
	}

	for _, name := range []string{
		"list_heroku_apps", "get_heroku_app_info", "deploy_to_heroku", "scale_heroku_app",
		"query_heroku_database", "ai_inference", "analyze_network_traffic",
		"batch_ai_inference", "list_ai_models", "get_network_status", "get_security_alerts",
		"get_threat_intelligence", "get_network_analytics", "heroku_cli_status",
	} {
		if _, ok := found[name]; !ok {
			t.Fatalf("missing tool %q", name)
		}
	}
	if got, want := len(found), 14; got != want {
		t.Fatalf("tools = %d, want %d", got, want)
	}

	deploy := found["deploy_to_heroku"]
	if deploy.Annotations == nil || deploy.Annotations.DestructiveHint == nil || !*deploy.Annotations.DestructiveHint {
		t.Fatal("deploy_to_heroku should be destructive")
	}
	if deploy.Annotations.ReadOnlyHint {
		t.Fatal("deploy_to_heroku should not be read-only")
	}
	if !found["list_heroku_apps"].Annotations.ReadOnlyHint {
		t.Fatal("list_heroku_apps should be read-only")
	}
	if !found["scale_heroku_app"].Annotations.IdempotentHint {
		t.Fatal("scale_heroku_app should be idempotent")
	}
}

func TestDeniedToolNotListed(t *testing.T) {
	cat := embeddedCatalog(t)
	cat["deploy_to_heroku"].Deny = true
	platform := &fakePlatform{}
	core, err := NewCore(cat, platform, &fakeDatabase{}, &fakeIntel{}, nil)
	if err != nil {
		t.Fatalf("NewCore() error = %v", err)
	}
	cs := connect(t, core)

	for tool, err := range cs.Tools(t.Context(), nil) {
		if err != nil {
			t.Fatalf("tools iterator error: %v", err)
		}
		if tool.Name == "deploy_to_heroku" {
			t.Fatal("denied tool deploy_to_heroku should not be listed")
		}
	}

	text, isErr := callText(t, cs, "deploy_to_heroku", map[string]any{"app": "my-app", "environment": "staging"})
	if !isErr {
		t.Fatal("expected error result for denied tool")
	}
	if got, want := text, "Error executing tool deploy_to_heroku: Unknown tool: deploy_to_heroku"; got != want {
		t.Fatalf("text = %q, want %q", got, want)
	}
	if got := platform.callCount(); got != 0 {
		t.Fatalf("platform calls = %d, want 0", got)
	}
}

func TestCallToolSuccess(t *testing.T) {
	cs := connect(t, newTestCore(t, &fakePlatform{}, nil))

	text, isErr := callText(t, cs, "list_heroku_apps", map[string]any{"all": true})
	if isErr {
		t.Fatalf("unexpected error result: %s", text)
	}
	if got, want := text, "Found 2 Heroku apps:"; got != want {
		t.Fatalf("text = %q, want %q", got, want)
	}
}

func TestCallToolWithoutArguments(t *testing.T) {
	cs := connect(t, newTestCore(t, &fakePlatform{}, nil))

	text, isErr := callText(t, cs, "list_ai_models", map[string]any{})
	if isErr {
		t.Fatalf("unexpected error result: %s", text)
	}
	if got, want := text, "Available AI Models:"; got != want {
		t.Fatalf("text = %q, want %q", got, want)
	}
}

func TestCallToolBackendError(t *testing.T) {
	cs := connect(t, newTestCore(t, &fakePlatform{err: errors.New("get app info for my-app: boom")}, nil))

	text, isErr := callText(t, cs, "get_heroku_app_info", map[string]any{"app": "my-app"})
	if !isErr {
		t.Fatal("expected error result")
	}
	if got, want := text, "Error executing tool get_heroku_app_info: get app info for my-app: boom"; got != want {
		t.Fatalf("text = %q, want %q", got, want)
	}
}

func TestCallToolValidationError(t *testing.T) {
	platform := &fakePlatform{}
	cs := connect(t, newTestCore(t, platform, nil))

	text, isErr := callText(t, cs, "scale_heroku_app", map[string]any{
		"app": "my-app", "dyno_type": "web; rm -rf /", "quantity": 2,
	})
	if !isErr {
		t.Fatal("expected error result")
	}
	if !strings.HasPrefix(text, "Error executing tool scale_heroku_app: dyno_type must contain only") {
		t.Fatalf("text = %q", text)
	}
	if got := platform.callCount(); got != 0 {
		t.Fatalf("platform calls = %d, want 0", got)
	}
}

func TestCallUnknownTool(t *testing.T) {
	cs := connect(t, newTestCore(t, &fakePlatform{}, nil))

	text, isErr := callText(t, cs, "format_disk", map[string]any{})
	if !isErr {
		t.Fatal("expected error result")
	}
	if got, want := text, "Error executing tool format_disk: Unknown tool: format_disk"; got != want {
		t.Fatalf("text = %q, want %q", got, want)
	}
}

func TestListResources(t *testing.T) {
	cs := connect(t, newTestCore(t, &fakePlatform{}, nil))

	var uris []string
	for r, err := range cs.Resources(t.Context(), nil) {
		if err != nil {
			t.Fatalf("resources iterator error: %v", err)
		}
		if got, want := r.MIMEType, "application/json"; got != want {
			t.Fatalf("%s MIMEType = %q, want %q", r.URI, got, want)
		}
		uris = append(uris, r.URI)
	}
	if got, want := len(uris), 3; got != want {
		t.Fatalf("resources = %v, want %d", uris, want)
	}
}

func TestReadResourceSuccess(t *testing.T) {
	platform := &fakePlatform{apps: []map[string]any{{"name": "my-app"}}}
	cs := connect(t, newTestCore(t, platform, nil))

	res, err := cs.ReadResource(t.Context(), &mcp.ReadResourceParams{URI: AppsURI})
	if err != nil {
		t.Fatalf("ReadResource() error = %v", err)
	}
	if got, want := len(res.Contents), 1; got != want {
		t.Fatalf("contents = %d, want %d", got, want)
	}
	c := res.Contents[0]
	if got, want := c.MIMEType, "application/json"; got != want {
		t.Fatalf("MIMEType = %q, want %q", got, want)
	}
	if got, want := c.Text, "[\n  {\n    \"name\": \"my-app\"\n  }\n]"; got != want {
		t.Fatalf("Text = %q, want %q", got, want)
	}
}

func TestReadResourceBackendError(t *testing.T) {
	platform := &fakePlatform{pipeErr: errors.New("get pipeline resource: boom")}
	cs := connect(t, newTestCore(t, platform, nil))

	res, err := cs.ReadResource(t.Context(), &mcp.ReadResourceParams{URI: PipelineURI})
	if err != nil {
		t.Fatalf("ReadResource() error = %v", err)
	}
	c := res.Contents[0]
	if got, want := c.URI, PipelineURI; got != want {
		t.Fatalf("URI = %q, want %q", got, want)
	}
	if got, want := c.MIMEType, "text/plain"; got != want {
		t.Fatalf("MIMEType = %q, want %q", got, want)
	}
	if got, want := c.Text, "Error reading resource heroku://pipeline/network-intelligence: get pipeline resource: boom"; got != want {
		t.Fatalf("Text = %q, want %q", got, want)
	}
}

func TestReadUnknownResource(t *testing.T) {
	cs := connect(t, newTestCore(t, &fakePlatform{}, nil))

	res, err := cs.ReadResource(t.Context(), &mcp.ReadResourceParams{URI: "heroku://secrets"})
	if err != nil {
		t.Fatalf("ReadResource() error = %v", err)
	}
	if got, want := len(res.Contents), 1; got != want {
		t.Fatalf("contents = %d, want %d", got, want)
	}
	c := res.Contents[0]
	if got, want := c.MIMEType, "text/plain"; got != want {
		t.Fatalf("MIMEType = %q, want %q", got, want)
	}
	if got, want := c.Text, "Error reading resource heroku://secrets: Unknown resource: heroku://secrets"; got != want {
		t.Fatalf("Text = %q, want %q", got, want)
	}
}

func TestSessionsDoNotLeak(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	ctx := context.Background()
	s := NewMCPServer(newTestCore(t, &fakePlatform{}, nil), nil)
	c := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "v0.0.1"}, nil)
	t1, t2 := mcp.NewInMemoryTransports()
	ss, err := s.Connect(ctx, t1, nil)
	if err != nil {
		t.Fatalf("server connect: %v", err)
	}
	cs, err := c.Connect(ctx, t2, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	if _, err := cs.CallTool(ctx, &mcp.CallToolParams{Name: "heroku_cli_status", Arguments: map[string]any{}}); err != nil {
		t.Fatalf("CallTool() error = %v", err)
	}
	_ = cs.Close()
	_ = ss.Wait()
}

func TestHTTPHandlerHealthz(t *testing.T) {
	h := NewHTTPHandler(newTestCore(t, &fakePlatform{}, nil), nil, prometheus.NewRegistry())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if got, want := rec.Code, http.StatusOK; got != want {
		t.Fatalf("status = %d, want %d", got, want)
	}
	if got, want := rec.Body.String(), `{"status":"ok"}`; got != want {
		t.Fatalf("body = %q, want %q", got, want)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/healthz", nil))
	if got, want := rec.Code, http.StatusMethodNotAllowed; got != want {
		t.Fatalf("POST status = %d, want %d", got, want)
	}
}

func TestHTTPHandlerMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(reg)
	core := newTestCore(t, &fakePlatform{}, nil, WithMetrics(metrics))
	if _, err := core.ListApps(t.Context(), ListAppsInput{}); err != nil {
		t.Fatalf("ListApps() error = %v", err)
	}

	h := NewHTTPHandler(core, nil, reg)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if got, want := rec.Code, http.StatusOK; got != want {
		t.Fatalf("status = %d, want %d", got, want)
	}
	if !strings.Contains(rec.Body.String(), `herokumcp_tool_calls_total{outcome="success",tool="list_heroku_apps"} 1`) {
		t.Fatalf("metrics body missing tool counter:\n%s", rec.Body.String())
	}
}

func TestHTTPHandlerUnknownPath(t *testing.T) {
	h := NewHTTPHandler(newTestCore(t, &fakePlatform{}, nil), nil, prometheus.NewRegistry())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin", nil))
	if got, want := rec.Code, http.StatusNotFound; got != want {
		t.Fatalf("status = %d, want %d", got, want)
	}
}
