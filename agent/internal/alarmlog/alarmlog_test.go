package alarmlog

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webhealth/canary/agent/internal/alarm"
	"github.com/webhealth/canary/agent/internal/config"
	"github.com/webhealth/canary/agent/internal/stats"
	"github.com/webhealth/canary/pkg/types"
)

var ts = time.Date(2024, 6, 1, 10, 0, 0, 120000000, time.UTC)

func openTable(t *testing.T) *GormTable {
	t.Helper()
	tbl, err := Open(config.AlarmLogConfig{
		Driver: "sqlite",
		DSN:    filepath.Join(t.TempDir(), "alarm_log.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = tbl.Close() })
	return tbl
}

func testEvent(reason string) alarm.Event {
	rid := alarm.RuleID("https://ok.example", types.Latency)
	return alarm.Event{
		ID: alarm.EventID(rid, ts), RuleID: rid, AlarmName: "Latency-https://ok.example",
		Target: "https://ok.example", MetricKind: types.Latency,
		PreviousState: alarm.OK, NewState: alarm.Alarm, Reason: reason, Timestamp: ts,
	}
}

func TestNewEntry_Keys(t *testing.T) {
	e := NewEntry(testEvent("slow"), 500)
	assert.Equal(t, "https://ok.example#Latency", e.Partition)
	assert.Equal(t, "2024-06-01T10:00:00.120000000Z", e.SortKey)
	assert.Equal(t, "ALARM", e.NewState)
}

func TestNewEntry_TruncatesByCharacter(t *testing.T) {
	long := strings.Repeat("é", 600)
	e := NewEntry(testEvent(long), 500)
	assert.Equal(t, 500, len([]rune(e.Reason)))

	short := NewEntry(testEvent("fine"), 500)
	assert.Equal(t, "fine", short.Reason)
}

func TestSortKey_OrdersChronologically(t *testing.T) {
	a := SortKey(ts)
	b := SortKey(ts.Add(time.Millisecond))
	c := SortKey(ts.Add(time.Second))
	assert.Less(t, a, b)
	assert.Less(t, b, c)
}

func TestWriter_ReplayIsIdempotent(t *testing.T) {
	tbl := openTable(t)
	w := NewWriter(tbl, 500, stats.Discard())
	ctx := context.Background()

	ev := testEvent("threshold crossed")
	require.NoError(t, w.Log(ctx, ev))
	require.NoError(t, w.Log(ctx, ev))
	require.NoError(t, w.Deliver(ctx, ev))

	entries, err := tbl.List(ctx, Query{Partition: "https://ok.example#Latency"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, ev.ID, entries[0].EventID)
	assert.Equal(t, "threshold crossed", entries[0].Reason)
	assert.True(t, entries[0].Timestamp.Equal(ts))

	got, ok, err := tbl.Get(ctx, entries[0].Partition, entries[0].SortKey)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, ev.RuleID, got.RuleID)
}

func TestGormTable_UpsertOverwrites(t *testing.T) {
	tbl := openTable(t)
	ctx := context.Background()

	e := NewEntry(testEvent("first"), 500)
	require.NoError(t, tbl.Upsert(ctx, e))
	e.Reason = "second"
	require.NoError(t, tbl.Upsert(ctx, e))

	got, ok, err := tbl.Get(ctx, e.Partition, e.SortKey)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "second", got.Reason)

	_, ok, err = tbl.Get(ctx, e.Partition, "nope")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGormTable_ListNewestFirst(t *testing.T) {
	tbl := openTable(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		ev := testEvent("r")
		ev.Timestamp = ts.Add(time.Duration(i) * time.Minute)
		require.NoError(t, tbl.Upsert(ctx, NewEntry(ev, 500)))
	}

	all, err := tbl.List(ctx, Query{Limit: 3})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.True(t, all[0].Timestamp.Equal(ts.Add(4*time.Minute)))

	since, err := tbl.List(ctx, Query{Since: ts.Add(3 * time.Minute)})
	require.NoError(t, err)
	assert.Len(t, since, 2)
}

type failingTable struct{ Table }

func (failingTable) Upsert(context.Context, Entry) error { return errors.New("table unavailable") }

func TestWriter_FailureCountedAndReturned(t *testing.T) {
	st := stats.Discard()
	w := NewWriter(failingTable{}, 500, st)

	err := w.Log(context.Background(), testEvent("x"))
	assert.Error(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(st.AlarmLogFailuresTotal))
}

func TestDecodeEvent(t *testing.T) {
	recv := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)

	t.Run("agent event", func(t *testing.T) {
		b, err := alarm.Encode(testEvent("slow"))
		require.NoError(t, err)
		ev, err := DecodeEvent(b, recv)
		require.NoError(t, err)
		assert.Equal(t, testEvent("slow"), ev)
	})

	t.Run("cloudwatch style", func(t *testing.T) {
		msg := `{"AlarmName":"site-down","NewStateValue":"ALARM","OldStateValue":"OK","NewStateReason":"Threshold Crossed","StateChangeTime":"2024-06-01T10:00:00.000+0000"}`
		ev, err := DecodeEvent([]byte(msg), recv)
		require.NoError(t, err)
		assert.Equal(t, "site-down", ev.AlarmName)
		assert.Equal(t, alarm.Alarm, ev.NewState)
		assert.Equal(t, alarm.OK, ev.PreviousState)
		assert.Equal(t, "Threshold Crossed", ev.Reason)
		assert.True(t, ev.Timestamp.Equal(time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)))
		assert.NotEmpty(t, ev.ID)
		assert.Equal(t, "site-down", PartitionKey(ev))
	})

	t.Run("raw text", func(t *testing.T) {
		ev, err := DecodeEvent([]byte("  disk almost full  "), recv)
		require.NoError(t, err)
		assert.Equal(t, "Unknown", ev.AlarmName)
		assert.Equal(t, UnknownState, ev.NewState)
		assert.Equal(t, "disk almost full", ev.Reason)
		assert.True(t, ev.Timestamp.Equal(recv))
	})

	t.Run("malformed json", func(t *testing.T) {
		_, err := DecodeEvent([]byte(`{"AlarmName":`), recv)
		assert.Error(t, err)
	})
}

func TestWriter_LogMessage(t *testing.T) {
	tbl := openTable(t)
	w := NewWriter(tbl, 10, stats.Discard())
	w.now = func() time.Time { return ts }
	ctx := context.Background()

	ev, err := w.LogMessage(ctx, []byte("a raw message that is long"))
	require.NoError(t, err)

	got, ok, err := tbl.Get(ctx, PartitionKey(ev), SortKey(ev.Timestamp))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "a raw mess", got.Reason)

	_, err = w.LogMessage(ctx, []byte(`{broken`))
	assert.Error(t, err)
}
