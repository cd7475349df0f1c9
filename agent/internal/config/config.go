package config

import (
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/webhealth/canary/pkg/types"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultNamespace          = "WebHealth"
	DefaultTargetsFile        = "sites.json"
	DefaultSchedule           = "@every 5m"
	DefaultProbeTimeout       = 10 * time.Second
	DefaultLatencyThresholdMs = 1000.0
	DefaultConcurrency        = 8
	DefaultEvaluationWindow   = 5 * time.Minute
	DefaultMissingData        = "notBreaching"
	DefaultUserAgent          = "webhealth-canary"
	DefaultHTTPPort           = 8080
	DefaultBufferSize         = 1000
	DefaultStateKey           = "canary:alarm_state"
	DefaultAlarmLogDriver     = "sqlite"
	DefaultAlarmLogDSN        = "alarm_log.db"
	DefaultReasonMaxLen       = 500
)

// Config is the top-level agent configuration. Fields map 1:1 to
// config.example.yaml.
type Config struct {
	Canary   CanaryConfig   `yaml:"canary"`
	Sink     SinkConfig     `yaml:"sink"`
	Notify   NotifyConfig   `yaml:"notify"`
	AlarmLog AlarmLogConfig `yaml:"alarm_log"`
}

// CanaryConfig holds probe, schedule and alarm settings.
type CanaryConfig struct {
	// Namespace is the time-series namespace metric points are written to.
	// METRIC_NAMESPACE overrides it at cycle start.
	Namespace string `yaml:"namespace"`

	// TargetsFile is the path of the JSON array of URLs, re-read every cycle.
	TargetsFile string `yaml:"targets_file"`

	// Schedule is a cron spec or "@every <duration>" for the cycle trigger.
	Schedule string `yaml:"schedule"`

	// ProbeTimeout bounds each probe. PROBE_TIMEOUT_SECONDS overrides it.
	ProbeTimeout time.Duration `yaml:"probe_timeout"`

	// LatencyThresholdMs is the latency alarm threshold.
	// LATENCY_THRESHOLD_MS overrides it.
	LatencyThresholdMs float64 `yaml:"latency_threshold_ms"`

	// Concurrency caps the number of probes in flight within one cycle.
	Concurrency int `yaml:"concurrency"`

	// EvaluationWindow is the trailing span each alarm averages over.
	EvaluationWindow time.Duration `yaml:"evaluation_window"`

	// MissingData is one of: notBreaching | breaching | ignore | missing.
	MissingData string `yaml:"missing_data"`

	// UserAgent is sent with every probe request.
	UserAgent string `yaml:"user_agent"`

	// InsecureSkipVerify disables TLS verification for probes.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`

	// HTTPPort serves /metrics, /api/v1/* and /ws/alarms.
	HTTPPort int `yaml:"http_port"`
}

// SinkConfig selects the time-series stores measurements are published to.
type SinkConfig struct {
	Prometheus PrometheusConfig `yaml:"prometheus"`
	Remote     RemoteConfig     `yaml:"remote"`
}

// PrometheusConfig controls the local gauge store served on /metrics.
type PrometheusConfig struct {
	Enabled bool `yaml:"enabled"`
}

// RemoteConfig configures shipping points to the metric server over gRPC.
// An empty Endpoint disables the remote store.
type RemoteConfig struct {
	Endpoint   string     `yaml:"endpoint"`
	BufferSize int        `yaml:"buffer_size"`
	Auth       AuthConfig `yaml:"auth"`
}

// AuthConfig specifies how the agent authenticates to the metric server.
type AuthConfig struct {
	// Mode is one of: mtls | apikey | none.
	Mode string `yaml:"mode"`

	// mTLS fields, used when Mode == "mtls".
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
	CAFile   string `yaml:"ca_file"`

	// Header is the gRPC metadata key carrying the API key.
	Header string `yaml:"header"`
	// KeyEnv names the environment variable holding the API key.
	KeyEnv string `yaml:"key_env"`
}

// Key returns the API key resolved from the environment.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// EffectiveHeader returns the configured header name, or "x-api-key".
func (a AuthConfig) EffectiveHeader() string {
	if a.Header != "" {
		return a.Header
	}
	return "x-api-key"
}

// NotifyConfig holds delivery channels for alarm transitions.
type NotifyConfig struct {
	Redis    RedisConfig     `yaml:"redis"`
	Queues   []QueueConfig   `yaml:"queues"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// RedisConfig locates the Redis server backing queues and alarm state.
// An empty Address keeps alarm state in memory and disables queues.
type RedisConfig struct {
	Address     string `yaml:"address"`
	DB          int    `yaml:"db"`
	PasswordEnv string `yaml:"password_env"`
	// StateKey is the hash holding the last state of every alarm rule.
	StateKey string `yaml:"state_key"`
}

// Password returns the Redis password resolved from the environment.
func (r RedisConfig) Password() string {
	if r.PasswordEnv == "" {
		return ""
	}
	return os.Getenv(r.PasswordEnv)
}

// QueueConfig declares one point-to-point queue subscriber.
type QueueConfig struct {
	Name string `yaml:"name"`
	// Categories restricts the metric kinds routed to this queue; empty means all.
	Categories []string `yaml:"categories"`
}

// WebhookConfig defines one webhook delivery target.
type WebhookConfig struct {
	// Type is one of: teams | slack | http.
	Type string `yaml:"type"`

	// URLEnv is the name of the environment variable holding the webhook URL.
	URLEnv string `yaml:"url_env"`

	Categories []string `yaml:"categories"`
}

// URL returns the webhook URL resolved from the environment.
func (w WebhookConfig) URL() string {
	if w.URLEnv == "" {
		return ""
	}
	return os.Getenv(w.URLEnv)
}

// AlarmLogConfig configures the durable alarm log table.
type AlarmLogConfig struct {
	// Driver is one of: sqlite | postgres | mysql.
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
	// ReasonMaxLen caps the stored reason text, in characters.
	ReasonMaxLen int `yaml:"reason_max_len"`
}

// Load reads and parses the YAML config file at path.
// Missing optional fields are filled with defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file: %w", err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return defaults()
}

func defaults() *Config {
	return &Config{
		Canary: CanaryConfig{
			Namespace:          DefaultNamespace,
			TargetsFile:        DefaultTargetsFile,
			Schedule:           DefaultSchedule,
			ProbeTimeout:       DefaultProbeTimeout,
			LatencyThresholdMs: DefaultLatencyThresholdMs,
			Concurrency:        DefaultConcurrency,
			EvaluationWindow:   DefaultEvaluationWindow,
			MissingData:        DefaultMissingData,
			UserAgent:          DefaultUserAgent,
			HTTPPort:           DefaultHTTPPort,
		},
		Sink: SinkConfig{
			Prometheus: PrometheusConfig{Enabled: true},
			Remote:     RemoteConfig{BufferSize: DefaultBufferSize},
		},
		Notify: NotifyConfig{
			Redis: RedisConfig{StateKey: DefaultStateKey},
		},
		AlarmLog: AlarmLogConfig{
			Driver:       DefaultAlarmLogDriver,
			DSN:          DefaultAlarmLogDSN,
			ReasonMaxLen: DefaultReasonMaxLen,
		},
	}
}

func validate(cfg *Config) error {
	c := cfg.Canary
	if c.Namespace == "" {
		return fmt.Errorf("canary.namespace is required")
	}
	if c.TargetsFile == "" {
		return fmt.Errorf("canary.targets_file is required")
	}
	if c.Schedule == "" {
		return fmt.Errorf("canary.schedule is required")
	}
	if c.ProbeTimeout <= 0 {
		return fmt.Errorf("canary.probe_timeout must be positive")
	}
	if c.LatencyThresholdMs < 0 {
		return fmt.Errorf("canary.latency_threshold_ms must not be negative")
	}
	if c.Concurrency <= 0 {
		return fmt.Errorf("canary.concurrency must be positive")
	}
	if c.EvaluationWindow <= 0 {
		return fmt.Errorf("canary.evaluation_window must be positive")
	}
	switch c.MissingData {
	case "notBreaching", "breaching", "ignore", "missing":
	default:
		return fmt.Errorf("canary.missing_data %q unknown: want notBreaching|breaching|ignore|missing", c.MissingData)
	}
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("canary.http_port %d is out of range [1, 65535]", c.HTTPPort)
	}

	if cfg.Sink.Remote.Endpoint != "" {
		if cfg.Sink.Remote.BufferSize <= 0 {
			return fmt.Errorf("sink.remote.buffer_size must be positive")
		}
		switch cfg.Sink.Remote.Auth.Mode {
		case "mtls", "apikey", "none", "":
		default:
			return fmt.Errorf("sink.remote.auth.mode %q unknown: want mtls|apikey|none", cfg.Sink.Remote.Auth.Mode)
		}
	}

	if len(cfg.Notify.Queues) > 0 && cfg.Notify.Redis.Address == "" {
		return fmt.Errorf("notify.queues require notify.redis.address")
	}
	seen := make(map[string]bool)
	for i, q := range cfg.Notify.Queues {
		if q.Name == "" {
			return fmt.Errorf("notify.queues[%d]: name is required", i)
		}
		if seen[q.Name] {
			return fmt.Errorf("notify.queues[%d]: duplicate name %q", i, q.Name)
		}
		seen[q.Name] = true
		if err := validateCategories(q.Categories); err != nil {
			return fmt.Errorf("notify.queues[%d] %q: %w", i, q.Name, err)
		}
	}
	for i, wh := range cfg.Notify.Webhooks {
		switch wh.Type {
		case "teams", "slack", "http":
		default:
			return fmt.Errorf("notify.webhooks[%d]: unknown type %q", i, wh.Type)
		}
		if err := validateCategories(wh.Categories); err != nil {
			return fmt.Errorf("notify.webhooks[%d]: %w", i, err)
		}
	}

	switch cfg.AlarmLog.Driver {
	case "sqlite", "postgres", "mysql":
	default:
		return fmt.Errorf("alarm_log.driver %q unknown: want sqlite|postgres|mysql", cfg.AlarmLog.Driver)
	}
	if cfg.AlarmLog.DSN == "" {
		return fmt.Errorf("alarm_log.dsn is required")
	}
	if cfg.AlarmLog.ReasonMaxLen <= 0 {
		return fmt.Errorf("alarm_log.reason_max_len must be positive")
	}
	return nil
}

func validateCategories(cats []string) error {
	for _, c := range cats {
		switch types.MetricKind(c) {
		case types.Availability, types.Latency:
		default:
			return fmt.Errorf("unknown category %q", c)
		}
	}
	return nil
}

// Kinds converts category names to metric kinds; empty means every kind.
func Kinds(categories []string) []types.MetricKind {
	if len(categories) == 0 {
		return types.MetricKinds
	}
	out := make([]types.MetricKind, 0, len(categories))
	for _, c := range categories {
		out = append(out, types.MetricKind(c))
	}
	return out
}

// Holder publishes the current Config to concurrent readers. The watcher
// stores reloaded configs; each cycle loads the latest one at its start.
type Holder struct {
	p atomic.Pointer[Config]
}

// NewHolder returns a Holder initialised with cfg.
func NewHolder(cfg *Config) *Holder {
	h := &Holder{}
	h.p.Store(cfg)
	return h
}

// Load returns the current Config.
func (h *Holder) Load() *Config { return h.p.Load() }

// Store replaces the current Config.
func (h *Holder) Store(cfg *Config) { h.p.Store(cfg) }
