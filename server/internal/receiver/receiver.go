package receiver

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/webhealth/canary/pkg/wire"
	"github.com/webhealth/canary/server/internal/store"
)

// Receiver implements wire.MetricServiceServer.
// It validates each incoming batch and appends its points to the series store.
type Receiver struct {
	store    *store.Store
	points   prometheus.Counter
	rejected *prometheus.CounterVec
}

// New creates a Receiver that writes accepted points to st and registers its
// counters with reg.
func New(st *store.Store, reg prometheus.Registerer) *Receiver {
	r := &Receiver{
		store: st,
		points: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "canary_receiver",
			Name:      "points_total",
			Help:      "Points accepted by PutMetricData.",
		}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "canary_receiver",
			Name:      "rejected_batches_total",
			Help:      "PutMetricData batches rejected by validation.",
		}, []string{"reason"}),
	}
	reg.MustRegister(r.points, r.rejected)
	return r
}

// PutMetricData is the unary RPC called by canary agents. A batch is
// accepted or rejected as a whole.
// Authentication is enforced by the gRPC server interceptor before this is called.
func (r *Receiver) PutMetricData(ctx context.Context, req *wire.PutMetricDataRequest) (*wire.PutMetricDataResponse, error) {
	if len(req.Points) == 0 {
		r.rejected.WithLabelValues("empty").Inc()
		return nil, status.Error(codes.InvalidArgument, "at least one point is required")
	}
	for i, p := range req.Points {
		if reason, err := validate(i, p.Namespace, p.MetricName, p.Value); err != nil {
			r.rejected.WithLabelValues(reason).Inc()
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
	}

	r.store.Put(req.Points...)
	r.points.Add(float64(len(req.Points)))

	slog.Debug("receiver: points stored",
		"count", len(req.Points),
		"namespace", req.Points[0].Namespace,
	)

	return &wire.PutMetricDataResponse{Ok: true, Accepted: len(req.Points)}, nil
}

func validate(i int, namespace, metric string, v float64) (string, error) {
	switch {
	case namespace == "":
		return "namespace", fmt.Errorf("points[%d]: namespace is required", i)
	case metric == "":
		return "metric_name", fmt.Errorf("points[%d]: metric_name is required", i)
	case math.IsNaN(v) || math.IsInf(v, 0):
		return "value", fmt.Errorf("points[%d]: value must be finite", i)
	}
	return "", nil
}
