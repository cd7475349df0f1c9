package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/webhealth/canary/agent/internal/alarm"
	"github.com/webhealth/canary/agent/internal/stats"
	"github.com/webhealth/canary/pkg/types"
)

// Subscriber consumes alarm events from a Topic.
type Subscriber interface {
	// Name labels the subscriber in logs, errors and canary_notify_*_total.
	Name() string
	Deliver(ctx context.Context, ev alarm.Event) error
}

// DeliveryError records one subscriber's failure to take an event.
type DeliveryError struct {
	Subscriber string
	EventID    string
	Err        error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("notify: deliver %s to %s: %v", e.EventID, e.Subscriber, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Topic is the broadcast channel for one metric kind. Every subscriber
// receives a copy of every event.
type Topic struct {
	Kind        types.MetricKind
	subscribers []Subscriber
}

// Subscribers returns the subscriber names in subscription order.
func (t *Topic) Subscribers() []string {
	out := make([]string, len(t.subscribers))
	for i, s := range t.subscribers {
		out[i] = s.Name()
	}
	return out
}

// Router dispatches alarm events to the Topic of their metric kind.
// It does not retry; retries belong to the subscriber.
type Router struct {
	mu     sync.RWMutex
	topics map[types.MetricKind]*Topic
	stats  *stats.Stats
}

// NewRouter returns a Router with one empty Topic per metric kind.
func NewRouter(st *stats.Stats) *Router {
	r := &Router{topics: make(map[types.MetricKind]*Topic, len(types.MetricKinds)), stats: st}
	for _, k := range types.MetricKinds {
		r.topics[k] = &Topic{Kind: k}
	}
	return r
}

// Subscribe appends s to the topics of kinds, or of every kind when none
// are given.
func (r *Router) Subscribe(s Subscriber, kinds ...types.MetricKind) {
	if len(kinds) == 0 {
		kinds = types.MetricKinds
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, k := range kinds {
		t, ok := r.topics[k]
		if !ok {
			t = &Topic{Kind: k}
			r.topics[k] = t
		}
		t.subscribers = append(t.subscribers, s)
	}
}

// Topic returns the topic for kind, or nil.
func (r *Router) Topic(kind types.MetricKind) *Topic {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.topics[kind]
}

// Route delivers ev to every subscriber of its topic concurrently and waits
// for all of them. One subscriber failing does not affect the others; the
// failures are returned joined, each as a *DeliveryError.
func (r *Router) Route(ctx context.Context, ev alarm.Event) error {
	r.mu.RLock()
	t, ok := r.topics[ev.MetricKind]
	var subs []Subscriber
	if ok {
		subs = append(subs, t.subscribers...)
	}
	r.mu.RUnlock()

	if !ok {
		return fmt.Errorf("notify: no topic for metric kind %q", ev.MetricKind)
	}
	if len(subs) == 0 {
		slog.Debug("notify: topic has no subscribers", "kind", ev.MetricKind, "event", ev.ID)
		return nil
	}

	errs := make([]error, len(subs))
	var wg sync.WaitGroup
	for i, s := range subs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.Deliver(ctx, ev); err != nil {
				r.stats.NotifyErrorsTotal.WithLabelValues(s.Name()).Inc()
				slog.Error("notify: delivery failed",
					"subscriber", s.Name(), "event", ev.ID, "rule", ev.RuleID, "err", err)
				errs[i] = &DeliveryError{Subscriber: s.Name(), EventID: ev.ID, Err: err}
				return
			}
			r.stats.NotifyTotal.WithLabelValues(s.Name()).Inc()
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}

// SubscriberFunc adapts a function to Subscriber.
type SubscriberFunc struct {
	ID string
	Fn func(ctx context.Context, ev alarm.Event) error
}

func (f SubscriberFunc) Name() string { return f.ID }

func (f SubscriberFunc) Deliver(ctx context.Context, ev alarm.Event) error { return f.Fn(ctx, ev) }
