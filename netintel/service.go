package netintel

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

const trafficAnalysisType = "traffic_analysis"

// Infer runs one inference of type model over input.
func (c *Client) Infer(ctx context.Context, app, model string, input map[string]any) (string, error) {
	var res InferenceResult
	if err := c.do(ctx, http.MethodPost, "/api/ai-inference", nil, InferenceRequest{Type: model, Data: input}, &res); err != nil {
		return "", fmt.Errorf("perform AI inference for %s: %w", app, err)
	}
	return FormatInference(app, model, res), nil
}

// BatchInfer submits several inference requests in one call.
func (c *Client) BatchInfer(ctx context.Context, app string, requests []map[string]any) (string, error) {
	var res BatchResult
	if err := c.do(ctx, http.MethodPost, "/api/ai-inference/batch", nil, BatchRequest{Requests: requests}, &res); err != nil {
		return "", fmt.Errorf("perform batch AI inference for %s: %w", app, err)
	}
	return FormatBatch(app, res), nil
}

// AnalyzeTraffic runs the rule-based analysis and a traffic_analysis
// inference over the same data and merges both into one report.
func (c *Client) AnalyzeTraffic(ctx context.Context, app string, traffic map[string]any) (string, error) {
	var analysis TrafficAnalysis
	if err := c.do(ctx, http.MethodPost, "/api/network/analyze", nil, traffic, &analysis); err != nil {
		return "", fmt.Errorf("analyze traffic for %s: %w", app, err)
	}
	var ai InferenceResult
	if err := c.do(ctx, http.MethodPost, "/api/ai-inference", nil, InferenceRequest{Type: trafficAnalysisType, Data: traffic}, &ai); err != nil {
		return "", fmt.Errorf("analyze traffic for %s: %w", app, err)
	}
	return FormatTrafficAnalysis(app, analysis, ai), nil
}

func (c *Client) models(ctx context.Context) (ModelList, error) {
	var list ModelList
	err := c.do(ctx, http.MethodGet, "/api/ai-inference/models", nil, nil, &list)
	return list, err
}

func (c *Client) ListModels(ctx context.Context) (string, error) {
	list, err := c.models(ctx)
	if err != nil {
		return "", fmt.Errorf("list AI models: %w", err)
	}
	return FormatModels(list), nil
}

// ModelsResource returns the raw model catalog document.
func (c *Client) ModelsResource(ctx context.Context) (any, error) {
	var doc map[string]any
	if err := c.do(ctx, http.MethodGet, "/api/ai-inference/models", nil, nil, &doc); err != nil {
		return nil, fmt.Errorf("get AI models resource: %w", err)
	}
	return doc, nil
}

func (c *Client) NetworkStatus(ctx context.Context, app string) (string, error) {
	var st NetworkStatus
	if err := c.do(ctx, http.MethodGet, "/api/network/status", nil, nil, &st); err != nil {
		return "", fmt.Errorf("get network status for %s: %w", app, err)
	}
	return FormatNetworkStatus(app, st), nil
}

// SecurityAlerts lists alerts. status is "all" (default) or "active".
func (c *Client) SecurityAlerts(ctx context.Context, app, status string) (string, error) {
	var q url.Values
	if status != "" {
		q = url.Values{"status": {status}}
	}
	var list AlertList
	if err := c.do(ctx, http.MethodGet, "/api/alerts", q, nil, &list); err != nil {
		return "", fmt.Errorf("get security alerts for %s: %w", app, err)
	}
	return FormatAlerts(app, list), nil
}

func (c *Client) ThreatIntelligence(ctx context.Context, app string) (string, error) {
	var list IndicatorList
	if err := c.do(ctx, http.MethodGet, "/api/threats/indicators", nil, nil, &list); err != nil {
		return "", fmt.Errorf("get threat intelligence for %s: %w", app, err)
	}
	return FormatIndicators(app, list), nil
}

// Analytics lists recorded metrics, filtered by metricName when set.
func (c *Client) Analytics(ctx context.Context, app, metricName string) (string, error) {
	var q url.Values
	if metricName != "" {
		q = url.Values{"metric_name": {metricName}}
	}
	var list MetricList
	if err := c.do(ctx, http.MethodGet, "/api/analytics/metrics", q, nil, &list); err != nil {
		return "", fmt.Errorf("get analytics for %s: %w", app, err)
	}
	return FormatAnalytics(app, list), nil
}
