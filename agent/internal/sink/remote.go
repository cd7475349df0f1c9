package sink

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/webhealth/canary/agent/internal/config"
	"github.com/webhealth/canary/agent/internal/stats"
	"github.com/webhealth/canary/pkg/types"
	"github.com/webhealth/canary/pkg/wire"
)

const (
	backoffInitial    = 1 * time.Second
	backoffMax        = 60 * time.Second
	backoffMultiplier = 2.0
	sendTimeout       = 10 * time.Second
)

// RemoteStore ships points to the metric server over gRPC.
// PutMetricData is non-blocking; when the buffer is full the oldest batch is
// evicted and counted as a publish failure. Run drains the buffer and must
// be started in its own goroutine.
type RemoteStore struct {
	cfg    config.RemoteConfig
	buf    chan []types.Point
	stats  *stats.Stats
	dialFn dialFunc // injectable for tests
}

// dialFunc opens a gRPC connection. Tests swap it for a local listener.
type dialFunc func(ctx context.Context, endpoint string, cfg config.RemoteConfig) (*grpc.ClientConn, error)

// NewRemoteStore returns a RemoteStore for cfg.
func NewRemoteStore(cfg config.RemoteConfig, st *stats.Stats) *RemoteStore {
	size := cfg.BufferSize
	if size <= 0 {
		size = config.DefaultBufferSize
	}
	return &RemoteStore{
		cfg:    cfg,
		buf:    make(chan []types.Point, size),
		stats:  st,
		dialFn: defaultDial,
	}
}

func (r *RemoteStore) Name() string { return "remote" }

// PutMetricData enqueues one batch for delivery.
func (r *RemoteStore) PutMetricData(_ context.Context, points []types.Point) error {
	batch := make([]types.Point, len(points))
	copy(batch, points)

	select {
	case r.buf <- batch:
	default:
		select {
		case old := <-r.buf:
			r.stats.RemoteBufferEvictTotal.Inc()
			r.stats.PublishFailuresTotal.WithLabelValues(r.Name()).Inc()
			slog.Warn("sink: remote buffer full, evicted oldest batch",
				"points", len(old), "buffer_cap", cap(r.buf))
		default:
		}
		select {
		case r.buf <- batch:
		default:
			return fmt.Errorf("sink: remote: buffer full")
		}
	}
	return nil
}

// Pending returns the number of batches waiting to be sent.
func (r *RemoteStore) Pending() int { return len(r.buf) }

// Run drains the buffer, reconnecting with exponential backoff when the
// connection is lost. It blocks until ctx is cancelled.
func (r *RemoteStore) Run(ctx context.Context) {
	bo := newBackoff()

	for {
		if ctx.Err() != nil {
			return
		}

		conn, err := r.dialFn(ctx, r.cfg.Endpoint, r.cfg)
		if err != nil {
			wait := bo.next()
			slog.Error("sink: remote dial failed, will retry",
				"endpoint", r.cfg.Endpoint, "err", err, "retry_in", wait)
			if !sleep(ctx, wait) {
				return
			}
			continue
		}

		slog.Info("sink: remote connected", "endpoint", r.cfg.Endpoint)
		bo.reset()

		err = r.drain(ctx, conn)
		conn.Close()
		if ctx.Err() != nil {
			return
		}

		wait := bo.next()
		slog.Warn("sink: remote connection lost, will reconnect",
			"endpoint", r.cfg.Endpoint, "err", err, "retry_in", wait)
		if !sleep(ctx, wait) {
			return
		}
	}
}

func (r *RemoteStore) drain(ctx context.Context, conn *grpc.ClientConn) error {
	client := wire.NewMetricServiceClient(conn)

	for {
		select {
		case <-ctx.Done():
			return nil

		case batch := <-r.buf:
			sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
			if r.cfg.Auth.Mode == "apikey" && r.cfg.Auth.KeyEnv != "" {
				sendCtx = metadata.AppendToOutgoingContext(sendCtx,
					r.cfg.Auth.EffectiveHeader(), r.cfg.Auth.Key())
			}

			resp, err := client.PutMetricData(sendCtx, &wire.PutMetricDataRequest{Points: batch})
			cancel()

			if err != nil {
				if isPermanentError(err) {
					r.stats.PublishFailuresTotal.WithLabelValues(r.Name()).Inc()
					slog.Error("sink: remote permanent error, discarding batch",
						"points", len(batch), "err", err)
					continue
				}
				// Requeue if there is room; otherwise newer batches win.
				select {
				case r.buf <- batch:
				default:
					r.stats.PublishFailuresTotal.WithLabelValues(r.Name()).Inc()
				}
				return fmt.Errorf("send: %w", err)
			}

			if !resp.Ok {
				r.stats.PublishFailuresTotal.WithLabelValues(r.Name()).Inc()
				slog.Warn("sink: remote rejected batch", "points", len(batch), "message", resp.Message)
			} else {
				slog.Debug("sink: remote batch delivered", "points", resp.Accepted)
			}
		}
	}
}

// isPermanentError reports gRPC codes for which retrying the same batch
// cannot succeed.
func isPermanentError(err error) bool {
	switch status.Code(err) {
	case codes.InvalidArgument, codes.Unauthenticated, codes.PermissionDenied:
		return true
	}
	return false
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func defaultDial(ctx context.Context, endpoint string, cfg config.RemoteConfig) (*grpc.ClientConn, error) {
	opts, err := dialOptions(cfg.Auth)
	if err != nil {
		return nil, err
	}
	return grpc.DialContext(ctx, endpoint, opts...) //nolint:staticcheck // DialContext kept for grpc 1.62
}

func dialOptions(auth config.AuthConfig) ([]grpc.DialOption, error) {
	if auth.Mode != "mtls" {
		return []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, nil
	}
	creds, err := buildMTLSCreds(auth)
	if err != nil {
		return nil, fmt.Errorf("sink: build mtls creds: %w", err)
	}
	return []grpc.DialOption{grpc.WithTransportCredentials(creds)}, nil
}

func buildMTLSCreds(auth config.AuthConfig) (credentials.TransportCredentials, error) {
	cert, err := tls.LoadX509KeyPair(auth.CertFile, auth.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load client cert: %w", err)
	}
	tlsCfg := &tls.Config{Certificates: []tls.Certificate{cert}}

	if auth.CAFile != "" {
		caPEM, err := os.ReadFile(auth.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read ca file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, fmt.Errorf("no valid certs in ca file %q", auth.CAFile)
		}
		tlsCfg.RootCAs = pool
	}
	return credentials.NewTLS(tlsCfg), nil
}

// backoff is truncated exponential backoff with ±25% jitter.
type backoff struct {
	current time.Duration
}

func newBackoff() *backoff {
	return &backoff{current: backoffInitial}
}

func (b *backoff) next() time.Duration {
	d := b.current
	d += time.Duration(float64(b.current) * 0.25 * (rand.Float64()*2 - 1)) //nolint:gosec // not crypto
	if d < 0 {
		d = 0
	}
	b.current = time.Duration(float64(b.current) * backoffMultiplier)
	if b.current > backoffMax {
		b.current = backoffMax
	}
	return d
}

func (b *backoff) reset() {
	b.current = backoffInitial
}
