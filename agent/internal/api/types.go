package api

// HealthResponse is the payload for GET /api/v1/health.
type HealthResponse struct {
	State             string `json:"state"` // ok | alarm | degraded | unknown
	LastCycleOK       *bool  `json:"last_cycle_ok,omitempty"`
	LastCycleAt       string `json:"last_cycle_at,omitempty"` // RFC3339
	TargetCount       int    `json:"target_count"`
	RuleCount         int    `json:"rule_count"`
	OKCount           int    `json:"ok_count"`
	AlarmCount        int    `json:"alarm_count"`
	InsufficientCount int    `json:"insufficient_data_count"`
}

// AlarmResponse is one rule in GET /api/v1/alarms.
type AlarmResponse struct {
	RuleID      string  `json:"rule_id"`
	AlarmName   string  `json:"alarm_name"`
	Target      string  `json:"target"`
	MetricKind  string  `json:"metric_kind"`
	Threshold   float64 `json:"threshold"`
	Comparison  string  `json:"comparison"`
	WindowSecs  float64 `json:"evaluation_window_seconds"`
	MissingData string  `json:"missing_data_policy"`
	State       string  `json:"state"`
}

// LoggedResponse is returned by POST /api/v1/alarm-log.
type LoggedResponse struct {
	EventID   string `json:"event_id"`
	Partition string `json:"partition"`
	SortKey   string `json:"sort_key"`
}

type errorResponse struct {
	Error string `json:"error"`
}
