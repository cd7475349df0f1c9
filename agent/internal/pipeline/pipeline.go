package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/webhealth/canary/agent/internal/alarm"
	"github.com/webhealth/canary/agent/internal/config"
	"github.com/webhealth/canary/agent/internal/cycle"
	"github.com/webhealth/canary/agent/internal/probe"
	"github.com/webhealth/canary/agent/internal/sink"
	"github.com/webhealth/canary/agent/internal/stats"
	"github.com/webhealth/canary/pkg/types"
)

// retentionSlack keeps measurements a little past the evaluation window so
// an evaluation that runs late still sees the full window.
const retentionSlack = time.Minute

// Result is the outcome of one tick. A configuration error yields
// {"ok":false,"error":...}; otherwise Count and Results hold the cycle's
// measurements.
type Result struct {
	OK              bool                   `json:"ok"`
	Count           int                    `json:"count"`
	Results         []types.Measurement    `json:"results,omitempty"`
	Error           string                 `json:"error,omitempty"`
	PublishFailures map[string]string      `json:"publish_failures,omitempty"`
	Alarms          map[string]alarm.State `json:"alarms,omitempty"`
	StartedAt       time.Time              `json:"started_at"`
	Duration        time.Duration          `json:"duration_ns"`
}

// Forgetter drops the series of targets removed from the target list.
// *sink.PromStore implements it.
type Forgetter interface {
	Forget(site types.Target) int
}

// Pipeline runs one scheduling tick: resolve parameters, load targets, probe,
// publish, then evaluate alarms (which route their own transitions).
type Pipeline struct {
	cfg        *config.Holder
	runner     *cycle.Runner
	sink       *sink.Sink
	window     *alarm.Window
	eval       *alarm.Evaluator
	forgetters []Forgetter
	stats      *stats.Stats

	loadTargets func(path string) ([]types.Target, error)
	resolve     func(c config.CanaryConfig) config.Params
	now         func() time.Time

	// ticking serialises whole ticks, evaluation included.
	ticking sync.Mutex

	mu        sync.Mutex
	probeOpts probe.Options
	known     map[types.Target]bool
	last      *Result
}

// New assembles a Pipeline. The runner's prober is rebuilt whenever the
// probe options in the config change.
func New(cfg *config.Holder, runner *cycle.Runner, sk *sink.Sink, window *alarm.Window,
	eval *alarm.Evaluator, st *stats.Stats, forgetters ...Forgetter) *Pipeline {
	return &Pipeline{
		cfg:         cfg,
		runner:      runner,
		sink:        sk,
		window:      window,
		eval:        eval,
		forgetters:  forgetters,
		stats:       st,
		loadTargets: config.LoadTargets,
		resolve:     config.ResolveParams,
		now:         time.Now,
		known:       make(map[types.Target]bool),
	}
}

// Tick runs one full cycle. It never returns an error: configuration
// problems are reported in the Result and only affect this tick. A tick that
// starts while another is still running is skipped.
func (p *Pipeline) Tick(ctx context.Context) Result {
	start := p.now()
	if !p.ticking.TryLock() {
		p.stats.CyclesSkippedTotal.Inc()
		slog.Warn("pipeline: previous tick still running, tick skipped")
		return Result{OK: false, Error: cycle.ErrCycleInFlight.Error(), StartedAt: start.UTC()}
	}
	defer p.ticking.Unlock()
	cfg := p.cfg.Load()
	params := p.resolve(cfg.Canary)

	targets, err := p.loadTargets(cfg.Canary.TargetsFile)
	if err != nil {
		p.stats.ConfigErrorsTotal.Inc()
		slog.Error("pipeline: configuration error, skipping cycle", "targets_file", cfg.Canary.TargetsFile, "err", err)
		res := Result{OK: false, Error: err.Error(), StartedAt: start.UTC(), Duration: p.now().Sub(start)}
		p.setLast(res)
		return res
	}

	p.applyProbeOptions(cfg.Canary)
	p.runner.SetConcurrency(cfg.Canary.Concurrency)

	ms, err := p.runner.RunCycle(ctx, targets, params.ProbeTimeout)
	if errors.Is(err, cycle.ErrCycleInFlight) {
		slog.Warn("pipeline: previous cycle still running, tick skipped")
		return Result{OK: false, Error: err.Error(), StartedAt: start.UTC()}
	}

	pub := p.sink.Publish(ctx, params.Namespace, ms)

	p.window.SetRetention(cfg.Canary.EvaluationWindow + retentionSlack)
	p.window.Add(ms...)

	rules := alarm.DeriveRules(targets, alarm.RuleParams{
		LatencyThresholdMs: params.LatencyThresholdMs,
		Window:             cfg.Canary.EvaluationWindow,
		MissingData:        alarm.ParseMissingDataPolicy(cfg.Canary.MissingData),
	})
	p.eval.Retain(ctx, rules)
	p.forgetRemoved(targets)
	states := p.eval.EvaluateAll(ctx, rules, p.window)

	res := Result{
		OK:        true,
		Count:     len(ms),
		Results:   ms,
		Alarms:    states,
		StartedAt: start.UTC(),
		Duration:  p.now().Sub(start),
	}
	if !pub.OK() {
		res.PublishFailures = make(map[string]string, len(pub.Failures))
		for name, err := range pub.Failures {
			res.PublishFailures[name] = err.Error()
		}
	}
	p.setLast(res)

	slog.Info("pipeline: tick complete",
		"namespace", params.Namespace,
		"count", res.Count,
		"points", pub.Points,
		"rules", len(rules),
		"duration", res.Duration)
	return res
}

// Last returns the result of the most recent completed tick.
func (p *Pipeline) Last() (Result, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last == nil {
		return Result{}, false
	}
	return *p.last, true
}

func (p *Pipeline) setLast(r Result) {
	p.mu.Lock()
	p.last = &r
	p.mu.Unlock()
}

func (p *Pipeline) applyProbeOptions(c config.CanaryConfig) {
	opts := probe.Options{UserAgent: c.UserAgent, InsecureSkipVerify: c.InsecureSkipVerify}
	p.mu.Lock()
	changed := opts != p.probeOpts
	p.probeOpts = opts
	p.mu.Unlock()
	if changed {
		p.runner.SetProber(probe.New(opts))
	}
}

func (p *Pipeline) forgetRemoved(targets []types.Target) {
	current := make(map[types.Target]bool, len(targets))
	for _, t := range targets {
		if t.Valid() {
			current[t] = true
		}
	}

	p.mu.Lock()
	var removed []types.Target
	for t := range p.known {
		if !current[t] {
			removed = append(removed, t)
		}
	}
	p.known = current
	p.mu.Unlock()

	for _, t := range removed {
		for _, f := range p.forgetters {
			f.Forget(t)
		}
		slog.Info("pipeline: target removed", "target", t)
	}
}
