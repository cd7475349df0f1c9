package sink

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/webhealth/canary/pkg/types"
)

// PromStore keeps the latest value of every series in a Prometheus gauge,
// exposed on the agent's /metrics endpoint.
type PromStore struct {
	gauge *prometheus.GaugeVec
}

// NewPromStore registers the site gauge on reg.
func NewPromStore(reg prometheus.Registerer) *PromStore {
	g := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "canary",
		Name:      "site_metric",
		Help:      "Latest probe value per namespace, metric and site.",
	}, []string{"namespace", "metric", "site", "unit"})
	reg.MustRegister(g)
	return &PromStore{gauge: g}
}

func (p *PromStore) Name() string { return "prometheus" }

// PutMetricData sets the gauge of each point's series to its value.
func (p *PromStore) PutMetricData(_ context.Context, points []types.Point) error {
	for _, pt := range points {
		if pt.Namespace == "" || pt.MetricName == "" {
			return errors.New("sink: prometheus: point without namespace or metric name")
		}
	}
	for _, pt := range points {
		p.gauge.WithLabelValues(pt.Namespace, pt.MetricName, pt.Dimensions[types.SiteDimension], pt.Unit).Set(pt.Value)
	}
	return nil
}

// Forget drops every series of site, for targets removed from the list.
func (p *PromStore) Forget(site types.Target) int {
	return p.gauge.DeletePartialMatch(prometheus.Labels{"site": string(site)})
}
