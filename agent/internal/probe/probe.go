package probe

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/webhealth/canary/pkg/types"
)

// MaxRedirects bounds how many redirects a probe follows.
const MaxRedirects = 10

// ErrTooManyRedirects is reported when a target redirects more than MaxRedirects times.
var ErrTooManyRedirects = errors.New("too many redirects")

// Options configures a Prober.
type Options struct {
	UserAgent          string
	InsecureSkipVerify bool
}

// Prober performs one HTTP GET per target and scores it.
// It is safe for concurrent use.
type Prober struct {
	client    *http.Client
	userAgent string
	now       func() time.Time
}

// New returns a Prober with its own transport. Keep-alives are disabled so
// every probe measures a fresh connection.
func New(opts Options) *Prober {
	transport := &http.Transport{
		Proxy:             http.ProxyFromEnvironment,
		DisableKeepAlives: true,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: opts.InsecureSkipVerify, //nolint:gosec // user-configured
		},
	}
	return &Prober{
		client: &http.Client{
			Transport: transport,
			CheckRedirect: func(_ *http.Request, via []*http.Request) error {
				if len(via) > MaxRedirects {
					return ErrTooManyRedirects
				}
				return nil
			},
		},
		userAgent: opts.UserAgent,
		now:       time.Now,
	}
}

// Probe issues a GET to target bounded by timeout and returns the scored
// Measurement. It never fails: every transport error is folded into an
// unavailable Measurement with Error set.
//
// Latency covers dispatch until response headers arrive, or until the
// failure. The response body is closed without being read.
func (p *Prober) Probe(ctx context.Context, target types.Target, timeout time.Duration) types.Measurement {
	start := p.now()
	m := types.Measurement{
		Target:    target,
		Timestamp: start.UTC(),
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := newRequest(ctx, target)
	if err != nil {
		m.Error = err.Error()
		setLatency(&m, p.now().Sub(start))
		return m
	}
	if p.userAgent != "" {
		req.Header.Set("User-Agent", p.userAgent)
	}

	resp, err := p.client.Do(req)
	setLatency(&m, p.now().Sub(start))
	if err != nil {
		m.Error = describe(ctx, err)
		return m
	}
	resp.Body.Close()

	code := resp.StatusCode
	m.StatusCode = &code
	if code < 400 {
		m.Availability = 1
	} else {
		m.Error = fmt.Sprintf("unexpected status %d", code)
	}
	return m
}

func newRequest(ctx context.Context, target types.Target) (*http.Request, error) {
	u, err := url.Parse(string(target))
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid url: unsupported scheme %q", u.Scheme)
	}
	if u.Hostname() == "" {
		return nil, errors.New("invalid url: missing host")
	}
	return http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
}

func setLatency(m *types.Measurement, d time.Duration) {
	ms := types.RoundMs(d)
	m.LatencyMs = &ms
}

// describe turns a client error into the short text stored on the
// Measurement. Deadline errors always read "timeout".
func describe(ctx context.Context, err error) string {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout"
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		return "probe aborted"
	}
	if errors.Is(err, ErrTooManyRedirects) {
		return ErrTooManyRedirects.Error()
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsNotFound {
			return fmt.Sprintf("dns: %s: no such host", dnsErr.Name)
		}
		return fmt.Sprintf("dns: %s: %s", dnsErr.Name, dnsErr.Err)
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return fmt.Sprintf("%s: connection refused", opErr.Addr)
	}

	var certErr *tls.CertificateVerificationError
	if errors.As(err, &certErr) {
		return fmt.Sprintf("tls: %s", certErr.Err)
	}
	var recordErr tls.RecordHeaderError
	if errors.As(err, &recordErr) {
		return "tls: " + recordErr.Msg
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return urlErr.Err.Error()
	}
	return err.Error()
}
