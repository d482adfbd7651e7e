package server

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/netintel/herokumcp/catalog"
	"github.com/netintel/herokumcp/telemetry"
	"github.com/netintel/herokumcp/toolkit"
	"github.com/netintel/herokumcp/validator"
)

type fakePlatform struct {
	mu       sync.Mutex
	calls    []string
	deadline time.Duration
	err      error
	apps     any
	pipeErr  error
}

func (f *fakePlatform) record(ctx context.Context, call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	if d, ok := ctx.Deadline(); ok {
		f.deadline = time.Until(d)
	}
}

func (f *fakePlatform) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakePlatform) ListApps(ctx context.Context, all bool) (string, error) {
	f.record(ctx, "apps")
	if f.err != nil {
		return "", f.err
	}
	if all {
		return "Found 2 Heroku apps:", nil
	}
	return "Found 1 Heroku apps:", nil
}

func (f *fakePlatform) AppInfo(ctx context.Context, app string) (string, error) {
	f.record(ctx, "info "+app)
	if f.err != nil {
		return "", f.err
	}
	return "App: " + app, nil
}

func (f *fakePlatform) Deploy(ctx context.Context, app, environment string) (string, error) {
	f.record(ctx, "deploy "+app+" "+environment)
	return "deployed " + app, f.err
}

func (f *fakePlatform) Scale(ctx context.Context, app, dynoType string, quantity int, size string) (string, error) {
	f.record(ctx, "scale "+app+" "+dynoType)
	return "Successfully scaled " + app, f.err
}

func (f *fakePlatform) AppsResource(ctx context.Context) (any, error) {
	f.record(ctx, "apps resource")
	return f.apps, f.err
}

func (f *fakePlatform) PipelineResource(ctx context.Context) (any, error) {
	f.record(ctx, "pipeline resource")
	if f.pipeErr != nil {
		return nil, f.pipeErr
	}
	return map[string]any{}, nil
}

func (f *fakePlatform) Status(ctx context.Context) toolkit.Status {
	f.record(ctx, "status")
	return toolkit.Status{Version: "heroku/9.0.0 linux-x64", Account: "dev@example.com"}
}

type fakeDatabase struct {
	app, query string
}

func (f *fakeDatabase) Query(_ context.Context, app, query string) (string, error) {
	f.app, f.query = app, query
	return "Database query executed on " + app, nil
}

type fakeIntel struct {
	status string
}

func (f *fakeIntel) Infer(_ context.Context, app, model string, _ map[string]any) (string, error) {
	return "inference " + app + " " + model, nil
}

func (f *fakeIntel) BatchInfer(_ context.Context, app string, requests []map[string]any) (string, error) {
	return "batch " + app, nil
}

func (f *fakeIntel) AnalyzeTraffic(_ context.Context, app string, _ map[string]any) (string, error) {
	return "traffic " + app, nil
}

func (f *fakeIntel) ListModels(context.Context) (string, error) {
	return "Available AI Models:", nil
}

func (f *fakeIntel) ModelsResource(context.Context) (any, error) {
	return map[string]any{"models": []string{"threat_detection"}}, nil
}

func (f *fakeIntel) NetworkStatus(_ context.Context, app string) (string, error) {
	return "status " + app, nil
}

func (f *fakeIntel) SecurityAlerts(_ context.Context, app, status string) (string, error) {
	f.status = status
	return "alerts " + app, nil
}

func (f *fakeIntel) ThreatIntelligence(_ context.Context, app string) (string, error) {
	return "indicators " + app, nil
}

func (f *fakeIntel) Analytics(_ context.Context, app, metricName string) (string, error) {
	return "metrics " + app + " " + metricName, nil
}

func embeddedCatalog(t *testing.T) catalog.Catalog {
	t.Helper()
	cat, err := catalog.LoadEmbedded()
	if err != nil {
		t.Fatalf("LoadEmbedded() error = %v", err)
	}
	return cat
}

func newTestCore(t *testing.T, platform *fakePlatform, logger *slog.Logger, opts ...CoreOption) *Core {
	t.Helper()
	core, err := NewCore(embeddedCatalog(t), platform, &fakeDatabase{}, &fakeIntel{}, logger, opts...)
	if err != nil {
		t.Fatalf("NewCore() error = %v", err)
	}
	return core
}

func TestNewCoreDefaults(t *testing.T) {
	core := newTestCore(t, &fakePlatform{}, nil)
	if got, want := core.DefaultTimeout, 30*time.Second; got != want {
		t.Fatalf("DefaultTimeout = %v, want %v", got, want)
	}
	if core.logger == nil {
		t.Fatal("expected discard logger, got nil")
	}
}

func TestNewCoreWithOptions(t *testing.T) {
	core := newTestCore(t, &fakePlatform{}, nil, WithDefaultTimeout(5*time.Second), WithDefaultTimeout(0))
	if got, want := core.DefaultTimeout, 5*time.Second; got != want {
		t.Fatalf("DefaultTimeout = %v, want %v", got, want)
	}
}

func TestCoreValidationStopsBeforeBackend(t *testing.T) {
	platform := &fakePlatform{}
	core := newTestCore(t, platform, nil)

	_, err := core.Scale(t.Context(), ScaleInput{App: "Bad_App", DynoType: "web", Quantity: 1})
	var verr *validator.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Scale() error = %v, want *validator.ValidationError", err)
	}
	if got := platform.callCount(); got != 0 {
		t.Fatalf("platform calls = %d, want 0", got)
	}
}

func TestCoreDeployRejectsUnknownEnvironment(t *testing.T) {
	core := newTestCore(t, &fakePlatform{}, nil)
	_, err := core.Deploy(t.Context(), DeployInput{App: "my-app", Environment: "qa"})
	if err == nil {
		t.Fatal("expected error for unknown environment")
	}
	if got, want := err.Error(), "environment must be one of: development staging production"; got != want {
		t.Fatalf("error = %q, want %q", got, want)
	}
}

func TestCoreAppliesCatalogTimeout(t *testing.T) {
	platform := &fakePlatform{}
	core := newTestCore(t, platform, nil)

	if _, err := core.Deploy(t.Context(), DeployInput{App: "my-app", Environment: "staging"}); err != nil {
		t.Fatalf("Deploy() error = %v", err)
	}
	want := time.Duration(core.Catalog.Lookup("deploy_to_heroku").Timeout) * time.Second
	if platform.deadline <= want-5*time.Second || platform.deadline > want {
		t.Fatalf("deadline = %v, want close to %v", platform.deadline, want)
	}
}

func TestCoreWrapsTimeout(t *testing.T) {
	cat := embeddedCatalog(t)
	cat["get_network_status"].Timeout = 1
	core, err := NewCore(cat, &fakePlatform{}, &fakeDatabase{}, &slowIntel{}, nil)
	if err != nil {
		t.Fatalf("NewCore() error = %v", err)
	}
	_, err = core.NetworkStatus(t.Context(), AppInput{App: "my-app"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("error = %v, want deadline exceeded", err)
	}
	if !strings.Contains(err.Error(), "get_network_status timed out after 1s") {
		t.Fatalf("error = %q, want timeout message", err)
	}
}

type slowIntel struct{ fakeIntel }

func (s *slowIntel) NetworkStatus(ctx context.Context, _ string) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func TestCoreDeniedToolIsUnknown(t *testing.T) {
	cat := embeddedCatalog(t)
	cat["list_heroku_apps"].Deny = true
	platform := &fakePlatform{}
	core, err := NewCore(cat, platform, &fakeDatabase{}, &fakeIntel{}, nil)
	if err != nil {
		t.Fatalf("NewCore() error = %v", err)
	}

	_, err = core.ListApps(t.Context(), ListAppsInput{})
	var uerr *UnknownToolError
	if !errors.As(err, &uerr) {
		t.Fatalf("ListApps() error = %v, want *UnknownToolError", err)
	}
	if got, want := err.Error(), "Unknown tool: list_heroku_apps"; got != want {
		t.Fatalf("error = %q, want %q", got, want)
	}
	if got := platform.callCount(); got != 0 {
		t.Fatalf("platform calls = %d, want 0", got)
	}
}

func TestCorePassesArguments(t *testing.T) {
	db := &fakeDatabase{}
	intel := &fakeIntel{}
	core, err := NewCore(embeddedCatalog(t), &fakePlatform{}, db, intel, nil)
	if err != nil {
		t.Fatalf("NewCore() error = %v", err)
	}

	if _, err := core.QueryDatabase(t.Context(), QueryInput{App: "my-app", Query: "SELECT 1"}); err != nil {
		t.Fatalf("QueryDatabase() error = %v", err)
	}
	if db.app != "my-app" || db.query != "SELECT 1" {
		t.Fatalf("database got (%q, %q)", db.app, db.query)
	}

	if _, err := core.SecurityAlerts(t.Context(), AlertsInput{App: "my-app", Status: "active"}); err != nil {
		t.Fatalf("SecurityAlerts() error = %v", err)
	}
	if got, want := intel.status, "active"; got != want {
		t.Fatalf("alerts status = %q, want %q", got, want)
	}

	text, err := core.Analytics(t.Context(), AnalyticsInput{App: "my-app", MetricName: "latency"})
	if err != nil {
		t.Fatalf("Analytics() error = %v", err)
	}
	if got, want := text, "metrics my-app latency"; got != want {
		t.Fatalf("Analytics() = %q, want %q", got, want)
	}
}

func TestCoreBatchRequiresRequests(t *testing.T) {
	core := newTestCore(t, &fakePlatform{}, nil)
	_, err := core.BatchInference(t.Context(), BatchInferenceInput{App: "my-app", Requests: []map[string]any{}})
	if err == nil {
		t.Fatal("expected error for empty requests")
	}
	if !strings.Contains(err.Error(), "requests") {
		t.Fatalf("error = %q, want it to name requests", err)
	}
}

func TestCoreCLIStatus(t *testing.T) {
	core := newTestCore(t, &fakePlatform{}, nil)
	text, err := core.CLIStatus(t.Context(), EmptyInput{})
	if err != nil {
		t.Fatalf("CLIStatus() error = %v", err)
	}
	for _, want := range []string{"Heroku CLI Status:", "heroku/9.0.0", "dev@example.com"} {
		if !strings.Contains(text, want) {
			t.Fatalf("CLIStatus() = %q, missing %q", text, want)
		}
	}
}

func TestCoreLogsSuccess(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	core := newTestCore(t, &fakePlatform{}, logger)

	if _, err := core.AppInfo(t.Context(), AppInput{App: "my-app"}); err != nil {
		t.Fatalf("AppInfo() error = %v", err)
	}

	logged := buf.String()
	for _, want := range []string{`"tool":"get_heroku_app_info"`, `"app":"my-app"`, `"call_id"`, `"outcome":"success"`, `"duration_ms"`} {
		if !strings.Contains(logged, want) {
			t.Errorf("log output missing %s:\n%s", want, logged)
		}
	}
}

func TestCoreLogsRejection(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	core := newTestCore(t, &fakePlatform{}, logger)

	_, _ = core.AppInfo(t.Context(), AppInput{App: ""})

	logged := buf.String()
	for _, want := range []string{`"outcome":"rejected"`, `"stage":"validate"`, `"error":"app is required"`} {
		if !strings.Contains(logged, want) {
			t.Errorf("log output missing %s:\n%s", want, logged)
		}
	}
}

func TestCoreLogsBackendError(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	core := newTestCore(t, &fakePlatform{err: errors.New("boom")}, logger)

	_, err := core.AppInfo(t.Context(), AppInput{App: "my-app"})
	if err == nil {
		t.Fatal("expected backend error")
	}

	logged := buf.String()
	for _, want := range []string{`"outcome":"error"`, `"stage":"run"`, `"error":"boom"`} {
		if !strings.Contains(logged, want) {
			t.Errorf("log output missing %s:\n%s", want, logged)
		}
	}
}

func TestCoreCountsOutcomes(t *testing.T) {
	metrics := telemetry.NewMetrics(prometheus.NewRegistry())
	core := newTestCore(t, &fakePlatform{}, nil, WithMetrics(metrics))

	_, _ = core.ListApps(t.Context(), ListAppsInput{All: true})
	_, _ = core.AppInfo(t.Context(), AppInput{App: "x"})

	if got, want := testutil.ToFloat64(metrics.ToolCalls.WithLabelValues("list_heroku_apps", telemetry.OutcomeSuccess)), 1.0; got != want {
		t.Fatalf("list success = %v, want %v", got, want)
	}
	if got, want := testutil.ToFloat64(metrics.ToolCalls.WithLabelValues("get_heroku_app_info", telemetry.OutcomeRejected)), 1.0; got != want {
		t.Fatalf("info rejected = %v, want %v", got, want)
	}
}
