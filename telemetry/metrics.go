// Package telemetry holds the Prometheus metrics and OpenTelemetry tracing
// shared by the server, the CLI runner and the API client.
package telemetry

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/netintel/herokumcp/runner"
)

const namespace = "herokumcp"

const (
	OutcomeSuccess  = "success"
	OutcomeError    = "error"
	OutcomeUnknown  = "unknown"
	OutcomeRejected = "rejected"
)

// Metrics holds all Prometheus metrics. A nil *Metrics records nothing.
type Metrics struct {
	ToolCalls     *prometheus.CounterVec
	ToolDuration  *prometheus.HistogramVec
	ResourceReads *prometheus.CounterVec
	BackendCalls  *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics with the given registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		ToolCalls: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tool_calls_total",
				Help:      "Total MCP tool calls",
			},
			[]string{"tool", "outcome"}, // outcome=success/error/unknown
		),
		ToolDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "tool_duration_seconds",
				Help:      "MCP tool call duration in seconds",
				Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"tool"},
		),
		ResourceReads: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "resource_reads_total",
				Help:      "Total MCP resource reads",
			},
			[]string{"uri", "outcome"},
		),
		BackendCalls: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "backend_calls_total",
				Help:      "Total calls to the Heroku CLI and the Network Intelligence API",
			},
			[]string{"backend", "outcome"}, // backend=heroku_cli/netintel
		),
	}
}

func (m *Metrics) ObserveTool(tool, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.ToolCalls.WithLabelValues(tool, outcome).Inc()
	m.ToolDuration.WithLabelValues(tool).Observe(d.Seconds())
}

func (m *Metrics) ObserveResource(uri, outcome string) {
	if m == nil {
		return
	}
	m.ResourceReads.WithLabelValues(uri, outcome).Inc()
}

func (m *Metrics) observeBackend(backend, outcome string) {
	if m == nil {
		return
	}
	m.BackendCalls.WithLabelValues(backend, outcome).Inc()
}

// InstrumentExecutor counts CLI invocations. A non-zero exit counts as an error.
func (m *Metrics) InstrumentExecutor(e runner.Executor) runner.Executor {
	if m == nil {
		return e
	}
	return &countingExecutor{next: e, metrics: m}
}

type countingExecutor struct {
	next    runner.Executor
	metrics *Metrics
}

func (c *countingExecutor) Run(ctx context.Context, cmd runner.Command) (runner.ExecResult, error) {
	res, err := c.next.Run(ctx, cmd)
	outcome := OutcomeSuccess
	if err != nil || res.ExitCode != 0 {
		outcome = OutcomeError
	}
	c.metrics.observeBackend("heroku_cli", outcome)
	return res, err
}

// InstrumentTransport counts API requests. Non-2xx responses count as errors.
func (m *Metrics) InstrumentTransport(rt http.RoundTripper) http.RoundTripper {
	if m == nil {
		return rt
	}
	if rt == nil {
		rt = http.DefaultTransport
	}
	return roundTripFunc(func(req *http.Request) (*http.Response, error) {
		resp, err := rt.RoundTrip(req)
		outcome := OutcomeSuccess
		if err != nil {
			outcome = OutcomeError
		} else if resp.StatusCode < 200 || resp.StatusCode > 299 {
			outcome = OutcomeError + "_" + strconv.Itoa(resp.StatusCode/100) + "xx"
		}
		m.observeBackend("netintel", outcome)
		return resp, err
	})
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}
