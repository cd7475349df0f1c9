package api

import (
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/webhealth/canary/server/internal/store"
)

// Handler is the HTTP handler for all /api/v1/* endpoints.
// It reads series from the store and returns JSON responses.
type Handler struct {
	store *store.Store
	mux   *http.ServeMux
}

// New creates a Handler wired to the given series store and registers all routes.
func New(st *store.Store) http.Handler {
	h := &Handler{store: st, mux: http.NewServeMux()}

	h.mux.HandleFunc("/api/v1/health", h.health)
	h.mux.HandleFunc("/api/v1/namespaces", h.namespaces)
	h.mux.HandleFunc("/api/v1/series", h.series)

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// --- route handlers ---------------------------------------------------------

// health returns GET /api/v1/health: live series count and newest write.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	live := h.store.List(store.Filter{})
	resp := HealthResponse{State: "ok", SeriesCount: len(live)}
	var newest time.Time
	for _, s := range live {
		if s.UpdatedAt.After(newest) {
			newest = s.UpdatedAt
		}
	}
	if newest.IsZero() {
		resp.State = "empty"
	} else {
		resp.LastWrite = newest.UTC().Format(time.RFC3339)
	}
	jsonResp(w, http.StatusOK, resp)
}

// namespaces returns GET /api/v1/namespaces: each namespace with its metrics.
func (h *Handler) namespaces(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	byNS := map[string]map[string]int{}
	for _, s := range h.store.List(store.Filter{}) {
		m, ok := byNS[s.Namespace]
		if !ok {
			m = map[string]int{}
			byNS[s.Namespace] = m
		}
		m[s.MetricName]++
	}

	out := make([]NamespaceResponse, 0, len(byNS))
	for ns, metrics := range byNS {
		n := NamespaceResponse{Namespace: ns, Metrics: make([]MetricCount, 0, len(metrics))}
		for name, count := range metrics {
			n.Metrics = append(n.Metrics, MetricCount{MetricName: name, SeriesCount: count})
			n.SeriesCount += count
		}
		sort.Slice(n.Metrics, func(i, j int) bool { return n.Metrics[i].MetricName < n.Metrics[j].MetricName })
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Namespace < out[j].Namespace })
	jsonResp(w, http.StatusOK, out)
}

// series returns GET /api/v1/series. Query parameters:
//
//	namespace, metric   exact match
//	dim=Name:Value      dimension match, repeatable
//	site=URL            shorthand for dim=Site:URL
//	since=RFC3339       drop older samples
//	latest=true         keep only the newest sample per series
func (h *Handler) series(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	q := r.URL.Query()
	f := store.Filter{
		Namespace:  q.Get("namespace"),
		MetricName: q.Get("metric"),
		Dimensions: map[string]string{},
	}
	for _, d := range q["dim"] {
		name, value, ok := strings.Cut(d, ":")
		if !ok || name == "" {
			jsonErr(w, http.StatusBadRequest, "dim: want Name:Value")
			return
		}
		f.Dimensions[name] = value
	}
	if site := q.Get("site"); site != "" {
		f.Dimensions["Site"] = site
	}

	var since time.Time
	if v := q.Get("since"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			jsonErr(w, http.StatusBadRequest, "since: want RFC3339 timestamp")
			return
		}
		since = ts
	}
	latest := false
	if v := q.Get("latest"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			jsonErr(w, http.StatusBadRequest, "latest: want true or false")
			return
		}
		latest = b
	}

	list := h.store.List(f)
	out := make([]SeriesResponse, 0, len(list))
	for _, s := range list {
		out = append(out, toSeriesResponse(s, since, latest))
	}
	jsonResp(w, http.StatusOK, out)
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

func toSeriesResponse(s *store.Series, since time.Time, latest bool) SeriesResponse {
	samples := s.Samples
	if !since.IsZero() {
		i := sort.Search(len(samples), func(i int) bool { return !samples[i].Timestamp.Before(since) })
		samples = samples[i:]
	}
	if latest && len(samples) > 1 {
		samples = samples[len(samples)-1:]
	}
	out := make([]SampleResponse, 0, len(samples))
	for _, smp := range samples {
		out = append(out, SampleResponse{Timestamp: smp.Timestamp.UTC().Format(time.RFC3339Nano), Value: smp.Value})
	}
	return SeriesResponse{
		Namespace:  s.Namespace,
		MetricName: s.MetricName,
		Dimensions: s.Dimensions,
		Unit:       s.Unit,
		Samples:    out,
		LastSeen:   s.UpdatedAt.UTC().Format(time.RFC3339),
	}
}
