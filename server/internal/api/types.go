package api

// HealthResponse is the payload for GET /api/v1/health.
type HealthResponse struct {
	State       string `json:"state"` // ok | empty
	SeriesCount int    `json:"series_count"`
	LastWrite   string `json:"last_write,omitempty"` // RFC3339
}

// NamespaceResponse is one entry in GET /api/v1/namespaces.
type NamespaceResponse struct {
	Namespace   string        `json:"namespace"`
	SeriesCount int           `json:"series_count"`
	Metrics     []MetricCount `json:"metrics"`
}

// MetricCount is the number of live series of one metric.
type MetricCount struct {
	MetricName  string `json:"metric_name"`
	SeriesCount int    `json:"series_count"`
}

// SeriesResponse is one series in GET /api/v1/series.
type SeriesResponse struct {
	Namespace  string            `json:"namespace"`
	MetricName string            `json:"metric_name"`
	Dimensions map[string]string `json:"dimensions"`
	Unit       string            `json:"unit"`
	Samples    []SampleResponse  `json:"samples"`
	LastSeen   string            `json:"last_seen"` // RFC3339
}

// SampleResponse is one sample of a series.
type SampleResponse struct {
	Timestamp string  `json:"timestamp"` // RFC3339Nano
	Value     float64 `json:"value"`
}

type errorResponse struct {
	Error string `json:"error"`
}
