package notify_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webhealth/canary/agent/internal/alarm"
	"github.com/webhealth/canary/agent/internal/alarmlog"
	"github.com/webhealth/canary/agent/internal/config"
	"github.com/webhealth/canary/agent/internal/notify"
	"github.com/webhealth/canary/agent/internal/stats"
	"github.com/webhealth/canary/pkg/types"
)

// An availability alarm reaches both the queue and the log; replaying the
// queued copy into the log, after a failed first attempt, leaves exactly
// one entry.
func TestRoute_QueueAndLogConverge(t *testing.T) {
	ctx := context.Background()
	st := stats.Discard()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	queue := notify.NewQueue(client, "alarm-log", st)

	tbl, err := alarmlog.Open(config.AlarmLogConfig{
		Driver: "sqlite",
		DSN:    filepath.Join(t.TempDir(), "alarm_log.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = tbl.Close() })
	writer := alarmlog.NewWriter(tbl, 500, st)

	router := notify.NewRouter(st)
	router.Subscribe(queue, types.Availability)
	router.Subscribe(writer)

	target := types.Target("https://down.example")
	rid := alarm.RuleID(target, types.Availability)
	ts := time.Date(2024, 6, 1, 10, 5, 0, 0, time.UTC)
	ev := alarm.Event{
		ID: alarm.EventID(rid, ts), RuleID: rid, AlarmName: "Availability-https://down.example",
		Target: target, MetricKind: types.Availability,
		PreviousState: alarm.OK, NewState: alarm.Alarm, Reason: "probe failed", Timestamp: ts,
	}
	require.NoError(t, router.Route(ctx, ev))

	n, err := queue.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	// The first consumer attempt fails; the message is retried in place and
	// delivered again into the same log.
	queue.SetRetryDelay(10 * time.Millisecond)
	var attempts atomic.Int32
	cctx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() {
		done <- queue.Consume(cctx, func(ctx context.Context, got alarm.Event) error {
			if attempts.Add(1) == 1 {
				return errors.New("consumer crashed")
			}
			defer cancel()
			return writer.Log(ctx, got)
		})
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		cancel()
		t.Fatal("consumer did not finish")
	}
	assert.Equal(t, int32(2), attempts.Load())
	n, err = queue.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	entries, err := tbl.List(ctx, alarmlog.Query{Partition: "https://down.example#Availability"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, ev.ID, entries[0].EventID)
	assert.Equal(t, "ALARM", entries[0].NewState)
}
