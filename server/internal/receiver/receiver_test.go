package receiver_test

import (
	"context"
	"math"
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/webhealth/canary/pkg/types"
	"github.com/webhealth/canary/pkg/wire"
	"github.com/webhealth/canary/server/internal/auth"
	"github.com/webhealth/canary/server/internal/config"
	"github.com/webhealth/canary/server/internal/receiver"
	"github.com/webhealth/canary/server/internal/store"
)

// startServer starts a gRPC server with the given interceptor on a random
// port and returns a connected client, the backing store and the registry.
func startServer(t *testing.T, interceptor grpc.UnaryServerInterceptor) (wire.MetricServiceClient, *store.Store, *prometheus.Registry) {
	t.Helper()

	st := store.New(time.Hour, 100)
	reg := prometheus.NewRegistry()
	rec := receiver.New(st, reg)

	srv := grpc.NewServer(grpc.UnaryInterceptor(interceptor))
	wire.RegisterMetricServiceServer(srv, rec)

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	go srv.Serve(lis) //nolint:errcheck

	t.Cleanup(func() {
		srv.Stop()
		lis.Close()
	})

	conn, err := grpc.Dial(lis.Addr().String(),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	) //nolint:staticcheck
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	return wire.NewMetricServiceClient(conn), st, reg
}

// allowAll is a no-op interceptor that passes every call through.
func allowAll(ctx context.Context, req interface{}, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	return handler(ctx, req)
}

func measurementPoints(site string, avail int, latency float64) []types.Point {
	m := types.Measurement{
		Target:       types.Target(site),
		Timestamp:    time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC),
		Availability: avail,
		LatencyMs:    &latency,
	}
	return m.Points("WebHealth")
}

func siteKey(metric, site string) string {
	return store.Key("WebHealth", metric, map[string]string{types.SiteDimension: site})
}

func TestPutMetricData_StoresPoints(t *testing.T) {
	client, st, reg := startServer(t, allowAll)

	resp, err := client.PutMetricData(context.Background(), &wire.PutMetricDataRequest{
		Points: measurementPoints("https://ok.example", 1, 50),
	})
	if err != nil {
		t.Fatalf("PutMetricData: %v", err)
	}
	if !resp.Ok || resp.Accepted != 2 {
		t.Errorf("response: got %+v, want ok with 2 accepted", resp)
	}

	ser, ok := st.Get(siteKey("Latency", "https://ok.example"))
	if !ok {
		t.Fatal("store.Get: expected latency series, got none")
	}
	if v, _ := ser.Latest(); v.Value != 50 {
		t.Errorf("latency: got %v, want 50", v.Value)
	}
	if ser.Unit != "Milliseconds" {
		t.Errorf("unit: got %q, want Milliseconds", ser.Unit)
	}

	if got := gatherValue(t, reg, "canary_receiver_points_total"); got != 2 {
		t.Errorf("points_total: got %v, want 2", got)
	}
}

func TestPutMetricData_Validation(t *testing.T) {
	noNamespace := measurementPoints("https://ok.example", 1, 50)
	noNamespace[1].Namespace = ""
	noMetric := measurementPoints("https://ok.example", 1, 50)
	noMetric[0].MetricName = ""

	cases := map[string][]types.Point{
		"empty batch":  nil,
		"no namespace": noNamespace,
		"no metric":    noMetric,
	}
	for name, pts := range cases {
		t.Run(name, func(t *testing.T) {
			client, st, _ := startServer(t, allowAll)
			_, err := client.PutMetricData(context.Background(), &wire.PutMetricDataRequest{Points: pts})
			if code := status.Code(err); code != codes.InvalidArgument {
				t.Errorf("code: got %v, want InvalidArgument", code)
			}
			if n := st.Count(); n != 0 {
				t.Errorf("store.Count: got %d, want 0 (batch rejected whole)", n)
			}
		})
	}
}

// NaN cannot cross the JSON codec, so the handler is called directly.
func TestPutMetricData_NonFiniteValue(t *testing.T) {
	st := store.New(time.Hour, 100)
	reg := prometheus.NewRegistry()
	rec := receiver.New(st, reg)

	for _, v := range []float64{math.NaN(), math.Inf(1)} {
		_, err := rec.PutMetricData(context.Background(), &wire.PutMetricDataRequest{
			Points: measurementPoints("https://ok.example", 1, v),
		})
		if code := status.Code(err); code != codes.InvalidArgument {
			t.Errorf("value %v: code got %v, want InvalidArgument", v, code)
		}
	}
	if n := st.Count(); n != 0 {
		t.Errorf("store.Count: got %d, want 0", n)
	}
	if got := gatherValue(t, reg, "canary_receiver_rejected_batches_total"); got != 2 {
		t.Errorf("rejected_batches_total: got %v, want 2", got)
	}
}

func TestPutMetricData_RepeatedCyclesAppend(t *testing.T) {
	client, st, _ := startServer(t, allowAll)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		pts := measurementPoints("https://ok.example", 1, float64(10*(i+1)))
		for j := range pts {
			pts[j].Timestamp = pts[j].Timestamp.Add(time.Duration(i) * 5 * time.Minute)
		}
		if _, err := client.PutMetricData(ctx, &wire.PutMetricDataRequest{Points: pts}); err != nil {
			t.Fatalf("PutMetricData %d: %v", i, err)
		}
	}

	if n := st.Count(); n != 2 {
		t.Errorf("store.Count: got %d series, want 2", n)
	}
	ser, _ := st.Get(siteKey("Latency", "https://ok.example"))
	if len(ser.Samples) != 3 {
		t.Errorf("samples: got %d, want 3", len(ser.Samples))
	}
}

func TestPutMetricData_WithAPIKeyInterceptor(t *testing.T) {
	t.Setenv("CANARY_TEST_KEY", "testkey")
	i := auth.APIKeyInterceptor(config.AuthConfig{Mode: "apikey", KeyEnv: "CANARY_TEST_KEY"})

	cases := []struct {
		name string
		key  string
		want codes.Code
	}{
		{"correct key", "testkey", codes.OK},
		{"wrong key", "wrongkey", codes.Unauthenticated},
		{"missing key", "", codes.Unauthenticated},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client, st, _ := startServer(t, i)
			ctx := context.Background()
			if tc.key != "" {
				ctx = metadata.AppendToOutgoingContext(ctx, "x-api-key", tc.key)
			}
			_, err := client.PutMetricData(ctx, &wire.PutMetricDataRequest{
				Points: measurementPoints("https://ok.example", 1, 50),
			})
			if code := status.Code(err); code != tc.want {
				t.Errorf("code: got %v, want %v", code, tc.want)
			}
			wantSeries := 0
			if tc.want == codes.OK {
				wantSeries = 2
			}
			if n := st.Count(); n != wantSeries {
				t.Errorf("store.Count: got %d, want %d", n, wantSeries)
			}
		})
	}
}

// gatherValue sums every sample of the named counter family.
func gatherValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		var sum float64
		for _, m := range mf.GetMetric() {
			sum += m.GetCounter().GetValue()
		}
		return sum
	}
	t.Fatalf("metric %s not registered", name)
	return 0
}
