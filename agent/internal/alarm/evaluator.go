package alarm

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/webhealth/canary/agent/internal/stats"
	"github.com/webhealth/canary/pkg/types"
)

// Emitter receives every state transition. notify.Router implements it.
type Emitter interface {
	Route(ctx context.Context, ev Event) error
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(ctx context.Context, ev Event) error

func (f EmitterFunc) Route(ctx context.Context, ev Event) error { return f(ctx, ev) }

// Evaluator turns measurement windows into alarm states and emits an Event
// on every transition.
//
// Evaluations of the same rule are serialised by a per-rule lock held across
// read, compare, write and emit, so a transition is emitted exactly once and
// in order. Different rules evaluate concurrently.
//
// A transition is emitted only after the new state was stored. While the
// store is unreachable the evaluator falls back to the last state it read or
// wrote for the rule, and skips rules it has never seen.
type Evaluator struct {
	states StateStore
	emit   Emitter
	stats  *stats.Stats
	now    func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
	rules map[string]Rule
	known map[string]State
}

// NewEvaluator returns an Evaluator that persists states in states and sends
// transitions to emit.
func NewEvaluator(states StateStore, emit Emitter, st *stats.Stats) *Evaluator {
	return &Evaluator{
		states: states,
		emit:   emit,
		stats:  st,
		now:    time.Now,
		locks:  make(map[string]*sync.Mutex),
		rules:  make(map[string]Rule),
		known:  make(map[string]State),
	}
}

func (e *Evaluator) lockFor(rule Rule) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules[rule.ID] = rule
	l, ok := e.locks[rule.ID]
	if !ok {
		l = &sync.Mutex{}
		e.locks[rule.ID] = l
	}
	return l
}

func (e *Evaluator) lastKnown(id string) (State, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.known[id]
	return s, ok
}

func (e *Evaluator) remember(id string, s State) {
	e.mu.Lock()
	e.known[id] = s
	e.mu.Unlock()
}

// Evaluate computes the rule's state from recent and returns it. When the
// state differs from the stored one, the new state is stored and an Event is
// emitted before the rule lock is released. Measurements of other targets
// and datapoints outside (now-window, now] are ignored.
func (e *Evaluator) Evaluate(ctx context.Context, rule Rule, recent []types.Measurement) State {
	l := e.lockFor(rule)
	l.Lock()
	defer l.Unlock()

	prev, ok, err := e.states.Get(ctx, rule.ID)
	switch {
	case err != nil:
		e.stats.StateErrorsTotal.WithLabelValues("get").Inc()
		cached, seen := e.lastKnown(rule.ID)
		if !seen {
			slog.Warn("alarm: read state failed, skipping evaluation", "rule", rule.ID, "err", err)
			return InsufficientData
		}
		slog.Warn("alarm: read state failed, using last known state", "rule", rule.ID, "state", cached, "err", err)
		prev = cached
	case !ok:
		prev = InsufficientData
	default:
		e.remember(rule.ID, prev)
	}

	now := e.now()
	next, reason := decide(rule, prev, recent, now)
	if next == prev {
		return prev
	}

	// An unstored transition is retried on the next evaluation.
	if err := e.states.Set(ctx, rule.ID, next); err != nil {
		e.stats.StateErrorsTotal.WithLabelValues("set").Inc()
		slog.Error("alarm: write state failed, transition not emitted", "rule", rule.ID, "state", next, "err", err)
		return prev
	}
	e.remember(rule.ID, next)

	ts := now.UTC()
	ev := Event{
		ID:            EventID(rule.ID, ts),
		RuleID:        rule.ID,
		AlarmName:     rule.Name,
		Target:        rule.Target,
		MetricKind:    rule.Kind,
		PreviousState: prev,
		NewState:      next,
		Reason:        reason,
		Timestamp:     ts,
	}
	e.stats.AlarmTransitionsTotal.WithLabelValues(string(rule.Kind), string(next)).Inc()
	slog.Info("alarm: state changed", "rule", rule.ID, "from", prev, "to", next, "reason", reason)

	if e.emit != nil {
		if err := e.emit.Route(ctx, ev); err != nil {
			slog.Warn("alarm: event delivery incomplete", "rule", rule.ID, "event", ev.ID, "err", err)
		}
	}
	return next
}

// decide is the pure state function of one evaluation.
func decide(rule Rule, prev State, recent []types.Measurement, now time.Time) (State, string) {
	from := now.Add(-rule.Window)
	var sum float64
	n := 0
	for _, m := range recent {
		if m.Target != rule.Target {
			continue
		}
		if !m.Timestamp.After(from) || m.Timestamp.After(now) {
			continue
		}
		v, ok := m.Value(rule.Kind)
		if !ok {
			continue
		}
		sum += v
		n++
	}

	if n == 0 {
		reason := fmt.Sprintf("no datapoints in the last %s (missing data treated as %s)", rule.Window, rule.MissingData)
		switch rule.MissingData {
		case Breaching:
			return Alarm, reason
		case Ignore:
			return prev, reason
		case Missing:
			return InsufficientData, reason
		default:
			return OK, reason
		}
	}

	mean := sum / float64(n)
	if rule.Comparison.Breaches(mean, rule.Threshold) {
		return Alarm, fmt.Sprintf("threshold crossed: mean %g of %d datapoint(s) in the last %s was %s the threshold (%g)",
			mean, n, rule.Window, rule.Comparison.phrase(), rule.Threshold)
	}
	return OK, fmt.Sprintf("mean %g of %d datapoint(s) in the last %s was not %s the threshold (%g)",
		mean, n, rule.Window, rule.Comparison.phrase(), rule.Threshold)
}

// Source provides recent measurements per target. *Window implements it.
type Source interface {
	Recent(target types.Target) []types.Measurement
}

// EvaluateAll evaluates every rule against src, with different rules running
// concurrently, and returns the resulting state per rule ID.
func (e *Evaluator) EvaluateAll(ctx context.Context, rules []Rule, src Source) map[string]State {
	var mu sync.Mutex
	out := make(map[string]State, len(rules))

	g := new(errgroup.Group)
	g.SetLimit(16)
	for _, r := range rules {
		g.Go(func() error {
			s := e.Evaluate(ctx, r, src.Recent(r.Target))
			mu.Lock()
			out[r.ID] = s
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// RuleState pairs a rule with its current state.
type RuleState struct {
	Rule  Rule  `json:"rule"`
	State State `json:"state"`
}

// States reports the current state of every rule evaluated by this process,
// sorted by rule ID. Rules without a stored state read INSUFFICIENT_DATA.
func (e *Evaluator) States(ctx context.Context) ([]RuleState, error) {
	stored, err := e.states.All(ctx)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	out := make([]RuleState, 0, len(e.rules))
	for id, r := range e.rules {
		s, ok := stored[id]
		if !ok {
			s = InsufficientData
		}
		out = append(out, RuleState{Rule: r, State: s})
	}
	e.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Rule.ID < out[j].Rule.ID })
	return out, nil
}

// Pruner is implemented by state stores that can drop states of removed rules.
type Pruner interface {
	Prune(ctx context.Context, keep map[string]bool) (int, error)
}

// Retain forgets every rule not in rules, including its stored state when the
// store supports pruning. Rule locks are kept so an evaluation still running
// for a removed rule and a later one for the same ID share a lock.
func (e *Evaluator) Retain(ctx context.Context, rules []Rule) {
	keep := make(map[string]bool, len(rules))
	for _, r := range rules {
		keep[r.ID] = true
	}

	e.mu.Lock()
	for id := range e.rules {
		if !keep[id] {
			delete(e.rules, id)
			delete(e.locks, id)
		}
	}
	e.mu.Unlock()

	if p, ok := e.states.(Pruner); ok {
		n, err := p.Prune(ctx, keep)
		if err != nil {
			slog.Warn("alarm: prune states failed", "err", err)
		} else if n > 0 {
			slog.Info("alarm: pruned states of removed rules", "count", n)
		}
	}
}
