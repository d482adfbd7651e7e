package netintel

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/netintel/herokumcp/output"
)

func num(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// present reports whether an optional number should be shown. Zero counts as absent.
func present(v *float64) bool {
	return v != nil && *v != 0
}

func FormatInference(app, model string, r InferenceResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "AI Inference for %s using %s:\n\n", app, model)
	fmt.Fprintf(&b, "Inference Type: %s\n", output.Or(r.InferenceType, model))
	fmt.Fprintf(&b, "Processing Time: %sms\n", num(r.ProcessingTimeMs))
	fmt.Fprintf(&b, "Model Version: %s\n\n", output.Or(r.ModelVersion, "unknown"))

	b.WriteString("Results:\n")
	if r.Message != "" {
		fmt.Fprintf(&b, "- Message: %s\n", r.Message)
	}
	if present(r.RiskScore) {
		fmt.Fprintf(&b, "- Risk Score: %s\n", num(*r.RiskScore))
	}
	if present(r.ThreatProbability) {
		fmt.Fprintf(&b, "- Threat Probability: %s\n", num(*r.ThreatProbability))
	}
	if present(r.Confidence) {
		fmt.Fprintf(&b, "- Confidence: %s\n", num(*r.Confidence))
	}
	if present(r.AIConfidence) {
		fmt.Fprintf(&b, "- AI Confidence: %s\n", num(*r.AIConfidence))
	}
	if r.ThreatType != "" {
		fmt.Fprintf(&b, "- Threat Type: %s\n", r.ThreatType)
	}
	if r.Severity != "" {
		fmt.Fprintf(&b, "- Severity: %s\n", r.Severity)
	}
	if r.MitigationStrategy != "" {
		fmt.Fprintf(&b, "- Mitigation: %s\n", r.MitigationStrategy)
	}

	b.WriteString("\nRecommendations:\n")
	b.WriteString(output.Bullets(r.Recommendations, "None"))
	return b.String()
}

func FormatBatch(app string, r BatchResult) string {
	items := make([]string, len(r.Results))
	for i, item := range r.Results {
		items[i] = fmt.Sprintf("Request %d: %s\n  Risk Score: %s\n  Confidence: %s\n  Processing Time: %sms\n",
			item.RequestID, item.InferenceType,
			num(item.Result.RiskScore), num(item.Result.Confidence), num(item.Result.ProcessingTimeMs))
	}
	return fmt.Sprintf("Batch AI Inference for %s:\n\nBatch ID: %s\nTotal Requests: %d\nTotal Processing Time: %sms\n\nResults:\n%s",
		app, r.BatchID, r.TotalRequests, num(r.ProcessingTimeMs), strings.Join(items, "\n"))
}

func FormatTrafficAnalysis(app string, a TrafficAnalysis, ai InferenceResult) string {
	confidence := "unknown"
	if ai.AIConfidence != nil {
		confidence = num(*ai.AIConfidence)
	}
	return fmt.Sprintf("Network Traffic Analysis for %s:\n\n"+
		"Risk Score: %s\n"+
		"Threats Detected: %d\n"+
		"AI Confidence: %s\n\n"+
		"Threats:\n%s\n\n"+
		"Recommendations:\n%s\n\n"+
		"AI Recommendations:\n%s",
		app,
		num(a.RiskScore),
		len(a.ThreatsDetected),
		confidence,
		output.Bullets(a.ThreatsDetected, "None"),
		output.Bullets(a.Recommendations, "None"),
		output.Bullets(ai.Recommendations, "None"),
	)
}

func FormatModels(list ModelList) string {
	entries := make([]string, len(list.Models))
	for i, m := range list.Models {
		entries[i] = fmt.Sprintf("%s (%s)\nVersion: %s\nDescription: %s\nSupported Types: %s\nStatus: %s\n",
			m.Name, m.ID, m.Version, m.Description, strings.Join(m.SupportedTypes, ", "), m.Status)
	}
	return "Available AI Models:\n\n" + strings.Join(entries, "\n")
}

func FormatNetworkStatus(app string, s NetworkStatus) string {
	return fmt.Sprintf("Network Status for %s:\n\n"+
		"Status: %s\n"+
		"Total Connections: %d\n"+
		"Suspicious Connections: %d\n"+
		"Blocked Attempts: %d\n"+
		"Active Alerts: %d\n"+
		"Last Updated: %s",
		app, s.Status,
		s.Stats.TotalConnections, s.Stats.SuspiciousConnections, s.Stats.BlockedAttempts,
		s.ActiveAlerts, s.LastUpdated)
}

func FormatAlerts(app string, list AlertList) string {
	entries := make([]string, len(list.Alerts))
	for i, a := range list.Alerts {
		entries[i] = fmt.Sprintf("[%s] %s: %s\nSource: %s → %s\nTime: %s\n",
			strings.ToUpper(a.Severity), a.Type, a.Description, a.SourceIP, a.DestinationIP, a.Timestamp)
	}
	return fmt.Sprintf("Security Alerts for %s:\n\nTotal Alerts: %d\nActive Alerts: %d\n\n%s",
		app, list.Total, list.Active, strings.Join(entries, "\n"))
}

func FormatIndicators(app string, list IndicatorList) string {
	entries := make([]string, len(list.Indicators))
	for i, ind := range list.Indicators {
		entries[i] = fmt.Sprintf("[%s] %s: %s\nDescription: %s\nTime: %s\n",
			strings.ToUpper(ind.Confidence), ind.Type, ind.Value, ind.Description, ind.Timestamp)
	}
	return fmt.Sprintf("Threat Intelligence for %s:\n\nTotal Indicators: %d\n\n%s", app, list.Total, strings.Join(entries, "\n"))
}

func FormatAnalytics(app string, list MetricList) string {
	entries := make([]string, len(list.Metrics))
	for i, m := range list.Metrics {
		entries[i] = fmt.Sprintf("%s: %s %s\nSource: %s\nTime: %s\n", m.MetricName, num(m.MetricValue), m.MetricUnit, m.Source, m.Timestamp)
	}
	return fmt.Sprintf("Analytics for %s:\n\nTotal Metrics: %d\n\n%s", app, list.Total, strings.Join(entries, "\n"))
}
