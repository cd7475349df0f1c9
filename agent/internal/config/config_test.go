package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/webhealth/canary/pkg/types"
)

func TestLoad_Valid(t *testing.T) {
	yaml := `
canary:
  namespace: Prod
  targets_file: /etc/canary/sites.json
  schedule: "*/5 * * * *"
  probe_timeout: 3s
  latency_threshold_ms: 250
  concurrency: 4
  missing_data: breaching
sink:
  prometheus:
    enabled: false
  remote:
    endpoint: "localhost:50051"
    auth:
      mode: apikey
      key_env: CANARY_KEY
notify:
  redis:
    address: "localhost:6379"
  queues:
    - name: oncall
      categories: [availability]
  webhooks:
    - type: slack
      url_env: SLACK_URL
alarm_log:
  driver: postgres
  dsn: "host=db user=canary"
`
	cfg := loadFromString(t, yaml)

	if cfg.Canary.Namespace != "Prod" {
		t.Errorf("namespace: got %q", cfg.Canary.Namespace)
	}
	if cfg.Canary.Schedule != "*/5 * * * *" {
		t.Errorf("schedule: got %q", cfg.Canary.Schedule)
	}
	if cfg.Canary.ProbeTimeout != 3*time.Second {
		t.Errorf("probe_timeout: got %v", cfg.Canary.ProbeTimeout)
	}
	if cfg.Canary.LatencyThresholdMs != 250 {
		t.Errorf("latency_threshold_ms: got %v", cfg.Canary.LatencyThresholdMs)
	}
	if cfg.Sink.Prometheus.Enabled {
		t.Error("sink.prometheus.enabled: got true, want false")
	}
	if cfg.Sink.Remote.BufferSize != DefaultBufferSize {
		t.Errorf("buffer_size: got %d, want default %d", cfg.Sink.Remote.BufferSize, DefaultBufferSize)
	}
	if len(cfg.Notify.Queues) != 1 || cfg.Notify.Queues[0].Name != "oncall" {
		t.Fatalf("queues: got %+v", cfg.Notify.Queues)
	}
	if cfg.AlarmLog.Driver != "postgres" {
		t.Errorf("alarm_log.driver: got %q", cfg.AlarmLog.Driver)
	}
	if cfg.AlarmLog.ReasonMaxLen != DefaultReasonMaxLen {
		t.Errorf("reason_max_len: got %d, want %d", cfg.AlarmLog.ReasonMaxLen, DefaultReasonMaxLen)
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg := loadFromString(t, "canary: {}\n")

	if cfg.Canary.Namespace != DefaultNamespace {
		t.Errorf("default namespace: got %q, want %q", cfg.Canary.Namespace, DefaultNamespace)
	}
	if cfg.Canary.Schedule != DefaultSchedule {
		t.Errorf("default schedule: got %q, want %q", cfg.Canary.Schedule, DefaultSchedule)
	}
	if cfg.Canary.ProbeTimeout != DefaultProbeTimeout {
		t.Errorf("default probe_timeout: got %v, want %v", cfg.Canary.ProbeTimeout, DefaultProbeTimeout)
	}
	if cfg.Canary.LatencyThresholdMs != DefaultLatencyThresholdMs {
		t.Errorf("default latency_threshold_ms: got %v", cfg.Canary.LatencyThresholdMs)
	}
	if cfg.Canary.MissingData != DefaultMissingData {
		t.Errorf("default missing_data: got %q", cfg.Canary.MissingData)
	}
	if !cfg.Sink.Prometheus.Enabled {
		t.Error("default sink.prometheus.enabled: got false, want true")
	}
	if cfg.AlarmLog.Driver != DefaultAlarmLogDriver {
		t.Errorf("default alarm_log.driver: got %q", cfg.AlarmLog.Driver)
	}
	if cfg.Notify.Redis.StateKey != DefaultStateKey {
		t.Errorf("default state_key: got %q", cfg.Notify.Redis.StateKey)
	}
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]struct {
		yaml string
		want string
	}{
		"missing data policy": {
			yaml: "canary:\n  missing_data: sometimes\n",
			want: "missing_data",
		},
		"negative threshold": {
			yaml: "canary:\n  latency_threshold_ms: -1\n",
			want: "latency_threshold_ms",
		},
		"zero timeout": {
			yaml: "canary:\n  probe_timeout: 0s\n",
			want: "probe_timeout",
		},
		"queue without redis": {
			yaml: "notify:\n  queues:\n    - name: q\n",
			want: "notify.redis.address",
		},
		"unknown category": {
			yaml: "notify:\n  redis: {address: x}\n  queues:\n    - name: q\n      categories: [throughput]\n",
			want: "throughput",
		},
		"duplicate queue": {
			yaml: "notify:\n  redis: {address: x}\n  queues:\n    - name: q\n    - name: q\n",
			want: "duplicate",
		},
		"unknown webhook type": {
			yaml: "notify:\n  webhooks:\n    - type: pager\n",
			want: "unknown type",
		},
		"unknown auth mode": {
			yaml: "sink:\n  remote:\n    endpoint: x:1\n    auth: {mode: basic}\n",
			want: "auth.mode",
		},
		"unknown driver": {
			yaml: "alarm_log:\n  driver: oracle\n",
			want: "alarm_log.driver",
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := loadStringErr(t, tc.yaml)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestAuthConfig_Key(t *testing.T) {
	t.Setenv("TEST_CANARY_KEY", "secret-123")
	a := AuthConfig{KeyEnv: "TEST_CANARY_KEY"}
	if got := a.Key(); got != "secret-123" {
		t.Errorf("Key(): got %q, want %q", got, "secret-123")
	}
	if got := (AuthConfig{}).Key(); got != "" {
		t.Errorf("Key() with no env: got %q, want empty", got)
	}
}

func TestAuthConfig_EffectiveHeader(t *testing.T) {
	if got := (AuthConfig{}).EffectiveHeader(); got != "x-api-key" {
		t.Errorf("default header: got %q", got)
	}
	if got := (AuthConfig{Header: "x-token"}).EffectiveHeader(); got != "x-token" {
		t.Errorf("custom header: got %q", got)
	}
}

func TestWebhookConfig_URL(t *testing.T) {
	t.Setenv("TEST_WEBHOOK_URL", "https://hooks.example.com/abc")
	wh := WebhookConfig{Type: "slack", URLEnv: "TEST_WEBHOOK_URL"}
	if got := wh.URL(); got != "https://hooks.example.com/abc" {
		t.Errorf("URL(): got %q", got)
	}
}

func TestKinds(t *testing.T) {
	if got := Kinds(nil); len(got) != len(types.MetricKinds) {
		t.Errorf("Kinds(nil): got %v, want all kinds", got)
	}
	got := Kinds([]string{"latency"})
	if len(got) != 1 || got[0] != types.Latency {
		t.Errorf("Kinds([latency]): got %v", got)
	}
}

func TestHolder(t *testing.T) {
	a, b := Default(), Default()
	b.Canary.Namespace = "Other"

	h := NewHolder(a)
	if h.Load() != a {
		t.Fatal("Load() did not return initial config")
	}
	h.Store(b)
	if h.Load().Canary.Namespace != "Other" {
		t.Errorf("after Store: got namespace %q", h.Load().Canary.Namespace)
	}
}

func loadFromString(t *testing.T, content string) *Config {
	t.Helper()
	cfg, err := loadStringErr(t, content)
	if err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}
	return cfg
}

// loadStringErr writes yaml to a temp file and calls Load, returning any error.
func loadStringErr(t *testing.T, content string) (*Config, error) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return Load(path)
}
