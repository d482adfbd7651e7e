package netintel

// InferenceRequest is the body of POST /api/ai-inference.
type InferenceRequest struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// InferenceResult holds the fields of every inference type. Optional
// numbers are pointers so absent and zero can be told apart.
type InferenceResult struct {
	InferenceType      string   `json:"inference_type"`
	Status             string   `json:"status"`
	Message            string   `json:"message"`
	ProcessingTimeMs   float64  `json:"processing_time_ms"`
	ModelVersion       string   `json:"model_version"`
	RiskScore          *float64 `json:"risk_score"`
	ThreatProbability  *float64 `json:"threat_probability"`
	Confidence         *float64 `json:"confidence"`
	AIConfidence       *float64 `json:"ai_confidence"`
	ThreatType         string   `json:"threat_type"`
	Severity           string   `json:"severity"`
	MitigationStrategy string   `json:"mitigation_strategy"`
	Recommendations    []string `json:"recommendations"`
}

type BatchRequest struct {
	Requests []map[string]any `json:"requests"`
}

type BatchResult struct {
	BatchID          string      `json:"batch_id"`
	TotalRequests    int         `json:"total_requests"`
	ProcessingTimeMs float64     `json:"processing_time_ms"`
	Results          []BatchItem `json:"results"`
}

type BatchItem struct {
	RequestID     int    `json:"request_id"`
	InferenceType string `json:"inference_type"`
	Status        string `json:"status"`
	Result        struct {
		RiskScore        float64 `json:"risk_score"`
		Confidence       float64 `json:"confidence"`
		ProcessingTimeMs float64 `json:"processing_time_ms"`
	} `json:"result"`
}

type Model struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Version        string   `json:"version"`
	Description    string   `json:"description"`
	SupportedTypes []string `json:"supported_types"`
	Status         string   `json:"status"`
}

type ModelList struct {
	Models []Model `json:"models"`
	Total  int     `json:"total"`
}

type TrafficAnalysis struct {
	RiskScore       float64  `json:"risk_score"`
	ThreatsDetected []string `json:"threats_detected"`
	Recommendations []string `json:"recommendations"`
	AnalysisID      string   `json:"analysis_id"`
}

type NetworkStatus struct {
	Status string `json:"status"`
	Stats  struct {
		TotalConnections      int `json:"total_connections"`
		SuspiciousConnections int `json:"suspicious_connections"`
		BlockedAttempts       int `json:"blocked_attempts"`
	} `json:"stats"`
	ActiveAlerts int    `json:"active_alerts"`
	LastUpdated  string `json:"last_updated"`
}

type Alert struct {
	ID            int    `json:"id"`
	Severity      string `json:"severity"`
	Type          string `json:"type"`
	Description   string `json:"description"`
	SourceIP      string `json:"source_ip"`
	DestinationIP string `json:"destination_ip"`
	Timestamp     string `json:"timestamp"`
	Status        string `json:"status"`
}

type AlertList struct {
	Alerts []Alert `json:"alerts"`
	Total  int     `json:"total"`
	Active int     `json:"active"`
}

type Indicator struct {
	Type        string `json:"type"`
	Value       string `json:"value"`
	Confidence  string `json:"confidence"`
	Description string `json:"description"`
	Timestamp   string `json:"timestamp"`
}

type IndicatorList struct {
	Indicators []Indicator `json:"indicators"`
	Total      int         `json:"total"`
}

type Metric struct {
	MetricName  string  `json:"metric_name"`
	MetricValue float64 `json:"metric_value"`
	MetricUnit  string  `json:"metric_unit"`
	Source      string  `json:"source"`
	Timestamp   string  `json:"timestamp"`
}

type MetricList struct {
	Metrics []Metric `json:"metrics"`
	Total   int      `json:"total"`
}
