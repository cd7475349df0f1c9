package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/webhealth/canary/agent/internal/alarm"
	"github.com/webhealth/canary/agent/internal/stats"
)

const (
	queueKeyPrefix = "canary:queue:"
	popTimeout     = time.Second

	defaultRetryDelay = 2 * time.Second
)

// Queue is a point-to-point channel backed by a Redis list. Deliver pushes
// the JSON event; Consume hands each message to exactly one consumer and
// parks it in a processing list until the handler succeeds, so a crashed
// consumer's messages can be redriven (at-least-once).
type Queue struct {
	client     redis.UniversalClient
	name       string
	stats      *stats.Stats
	retryDelay time.Duration
}

// NewQueue returns the queue called name.
func NewQueue(client redis.UniversalClient, name string, st *stats.Stats) *Queue {
	return &Queue{client: client, name: name, stats: st, retryDelay: defaultRetryDelay}
}

// SetRetryDelay sets the pause between attempts at a message whose handler
// failed.
func (q *Queue) SetRetryDelay(d time.Duration) {
	if d > 0 {
		q.retryDelay = d
	}
}

func (q *Queue) Name() string { return "queue:" + q.name }

func (q *Queue) key() string           { return queueKeyPrefix + q.name }
func (q *Queue) processingKey() string { return queueKeyPrefix + q.name + ":processing" }

// Deliver enqueues ev.
func (q *Queue) Deliver(ctx context.Context, ev alarm.Event) error {
	payload, err := alarm.Encode(ev)
	if err != nil {
		return err
	}
	if err := q.client.LPush(ctx, q.key(), payload).Err(); err != nil {
		return fmt.Errorf("notify: queue %s: lpush: %w", q.name, err)
	}
	return nil
}

// Len returns the number of messages waiting to be consumed.
func (q *Queue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.key()).Result()
}

// Consume pops messages in FIFO order and calls handle for each until ctx is
// cancelled. A message is acknowledged (removed from the processing list)
// only when handle returns nil. A failed message is retried in place and
// blocks the messages behind it; if ctx ends first it stays in the
// processing list for Redrive. Payloads that do not decode are dropped.
func (q *Queue) Consume(ctx context.Context, handle func(context.Context, alarm.Event) error) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		payload, err := q.client.BRPopLPush(ctx, q.key(), q.processingKey(), popTimeout).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("notify: queue %s: brpoplpush: %w", q.name, err)
		}

		ev, err := alarm.Decode([]byte(payload))
		if err != nil {
			slog.Warn("notify: dropping malformed queue message", "queue", q.name, "err", err)
			q.ack(ctx, payload)
			continue
		}

		if !q.handleUntilDone(ctx, ev, handle) {
			return nil
		}
		q.ack(ctx, payload)
	}
}

// handleUntilDone calls handle until it succeeds or ctx ends, and reports
// whether it succeeded.
func (q *Queue) handleUntilDone(ctx context.Context, ev alarm.Event, handle func(context.Context, alarm.Event) error) bool {
	for attempt := 1; ; attempt++ {
		err := handle(ctx, ev)
		if err == nil {
			return true
		}
		slog.Warn("notify: queue handler failed, retrying",
			"queue", q.name, "event", ev.ID, "attempt", attempt, "err", err)

		t := time.NewTimer(q.retryDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			slog.Info("notify: consumer stopped, message left for redrive", "queue", q.name, "event", ev.ID)
			return false
		case <-t.C:
		}
	}
}

// ack runs even after ctx was cancelled so a handled message is not redriven.
func (q *Queue) ack(ctx context.Context, payload string) {
	if err := q.client.LRem(context.WithoutCancel(ctx), q.processingKey(), 1, payload).Err(); err != nil {
		slog.Error("notify: queue ack failed", "queue", q.name, "err", err)
	}
}

// Redrive moves every unacknowledged message back onto the consuming end of
// the queue, oldest last so it is popped first, and returns how many were
// moved.
func (q *Queue) Redrive(ctx context.Context) (int, error) {
	n := 0
	for {
		err := q.client.LMove(ctx, q.processingKey(), q.key(), "LEFT", "RIGHT").Err()
		if errors.Is(err, redis.Nil) {
			break
		}
		if err != nil {
			return n, fmt.Errorf("notify: queue %s: redrive: %w", q.name, err)
		}
		n++
	}
	if n > 0 {
		q.stats.QueueRedrivesTotal.WithLabelValues(q.name).Add(float64(n))
		slog.Info("notify: redrove unacknowledged messages", "queue", q.name, "count", n)
	}
	return n, nil
}
