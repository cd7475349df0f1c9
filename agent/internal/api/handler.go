package api

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/webhealth/canary/agent/internal/alarm"
	"github.com/webhealth/canary/agent/internal/alarmlog"
	"github.com/webhealth/canary/agent/internal/pipeline"
)

// maxMessageBytes bounds the body accepted by POST /api/v1/alarm-log.
const maxMessageBytes = 64 << 10

// CycleSource reports the most recent tick result.
type CycleSource interface {
	Last() (pipeline.Result, bool)
}

// StateSource reports the current state of every known rule.
type StateSource interface {
	States(ctx context.Context) ([]alarm.RuleState, error)
}

// EventLogger writes one alarm event to the durable log.
type EventLogger interface {
	Log(ctx context.Context, ev alarm.Event) error
}

// Handler is the HTTP handler for all /api/v1/* endpoints.
type Handler struct {
	cycles CycleSource
	states StateSource
	table  alarmlog.Table
	logger EventLogger
	mux    *http.ServeMux
	now    func() time.Time
}

// New creates a Handler and registers all routes. table and logger may be nil
// when no alarm log is configured; the alarm-log routes then return 503.
func New(cycles CycleSource, states StateSource, table alarmlog.Table, logger EventLogger) http.Handler {
	h := &Handler{
		cycles: cycles,
		states: states,
		table:  table,
		logger: logger,
		mux:    http.NewServeMux(),
		now:    time.Now,
	}

	h.mux.HandleFunc("/api/v1/health", h.health)
	h.mux.HandleFunc("/api/v1/alarms", h.alarms)
	h.mux.HandleFunc("/api/v1/cycle", h.cycle)
	h.mux.HandleFunc("/api/v1/alarm-log", h.alarmLog)

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// --- route handlers ---------------------------------------------------------

// health returns GET /api/v1/health: last tick outcome and alarm counts.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	resp := HealthResponse{State: "unknown"}
	if last, ok := h.cycles.Last(); ok {
		resp.LastCycleOK = &last.OK
		resp.LastCycleAt = last.StartedAt.UTC().Format(time.RFC3339)
		resp.TargetCount = last.Count
	}

	rs, err := h.states.States(r.Context())
	if err != nil {
		jsonErr(w, http.StatusServiceUnavailable, "alarm state unavailable: "+err.Error())
		return
	}
	resp.RuleCount = len(rs)
	for _, s := range rs {
		switch s.State {
		case alarm.OK:
			resp.OKCount++
		case alarm.Alarm:
			resp.AlarmCount++
		default:
			resp.InsufficientCount++
		}
	}

	switch {
	case resp.LastCycleOK != nil && !*resp.LastCycleOK:
		resp.State = "degraded"
	case resp.AlarmCount > 0:
		resp.State = "alarm"
	case resp.LastCycleOK != nil:
		resp.State = "ok"
	}
	jsonResp(w, http.StatusOK, resp)
}

// alarms returns GET /api/v1/alarms: every rule with its current state.
func (h *Handler) alarms(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	rs, err := h.states.States(r.Context())
	if err != nil {
		jsonErr(w, http.StatusServiceUnavailable, "alarm state unavailable: "+err.Error())
		return
	}
	out := make([]AlarmResponse, 0, len(rs))
	for _, s := range rs {
		out = append(out, AlarmResponse{
			RuleID:      s.Rule.ID,
			AlarmName:   s.Rule.Name,
			Target:      string(s.Rule.Target),
			MetricKind:  string(s.Rule.Kind),
			Threshold:   s.Rule.Threshold,
			Comparison:  string(s.Rule.Comparison),
			WindowSecs:  s.Rule.Window.Seconds(),
			MissingData: string(s.Rule.MissingData),
			State:       string(s.State),
		})
	}
	jsonResp(w, http.StatusOK, out)
}

// cycle returns GET /api/v1/cycle: the most recent tick result, 404 before
// the first tick completes.
func (h *Handler) cycle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	last, ok := h.cycles.Last()
	if !ok {
		jsonErr(w, http.StatusNotFound, "no cycle has completed yet")
		return
	}
	jsonResp(w, http.StatusOK, last)
}

// alarmLog serves GET (query) and POST (append) on /api/v1/alarm-log.
func (h *Handler) alarmLog(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.listAlarmLog(w, r)
	case http.MethodPost:
		h.appendAlarmLog(w, r)
	default:
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (h *Handler) listAlarmLog(w http.ResponseWriter, r *http.Request) {
	if h.table == nil {
		jsonErr(w, http.StatusServiceUnavailable, "alarm log not configured")
		return
	}

	q := alarmlog.Query{Partition: r.URL.Query().Get("partition")}
	if v := r.URL.Query().Get("since"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			jsonErr(w, http.StatusBadRequest, "since: want RFC3339 timestamp")
			return
		}
		q.Since = ts
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			jsonErr(w, http.StatusBadRequest, "limit: want positive integer")
			return
		}
		q.Limit = n
	}

	entries, err := h.table.List(r.Context(), q)
	if err != nil {
		jsonErr(w, http.StatusInternalServerError, "alarm log query failed")
		return
	}
	if entries == nil {
		entries = []alarmlog.Entry{}
	}
	jsonResp(w, http.StatusOK, entries)
}

// appendAlarmLog accepts an externally produced alarm message (agent event
// JSON, a CloudWatch-style notification or raw text) and logs it.
func (h *Handler) appendAlarmLog(w http.ResponseWriter, r *http.Request) {
	if h.logger == nil {
		jsonErr(w, http.StatusServiceUnavailable, "alarm log not configured")
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxMessageBytes))
	if err != nil {
		jsonErr(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}
	ev, err := alarmlog.DecodeEvent(body, h.now())
	if err != nil {
		jsonErr(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.logger.Log(r.Context(), ev); err != nil {
		jsonErr(w, http.StatusInternalServerError, "alarm log write failed")
		return
	}
	jsonResp(w, http.StatusAccepted, LoggedResponse{
		EventID:   ev.ID,
		Partition: alarmlog.PartitionKey(ev),
		SortKey:   alarmlog.SortKey(ev.Timestamp),
	})
}

// --- helpers ----------------------------------------------------------------

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}
