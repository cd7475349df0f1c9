package alarmlog

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/goccy/go-json"

	"github.com/webhealth/canary/agent/internal/alarm"
	"github.com/webhealth/canary/agent/internal/stats"
)

// UnknownState marks log entries decoded from messages that carried no state.
const UnknownState alarm.State = "UNKNOWN"

// Writer appends alarm events to the log table. It is a notify.Subscriber.
type Writer struct {
	table     Table
	maxReason int
	stats     *stats.Stats
	now       func() time.Time
}

// NewWriter returns a Writer that truncates reasons to maxReason characters.
func NewWriter(table Table, maxReason int, st *stats.Stats) *Writer {
	return &Writer{table: table, maxReason: maxReason, stats: st, now: time.Now}
}

func (w *Writer) Name() string { return "alarm_log" }

// Deliver logs ev.
func (w *Writer) Deliver(ctx context.Context, ev alarm.Event) error { return w.Log(ctx, ev) }

// Log upserts the entry for ev. Replaying an event overwrites its row with
// identical content. A failed write is logged, counted and returned.
func (w *Writer) Log(ctx context.Context, ev alarm.Event) error {
	e := NewEntry(ev, w.maxReason)
	if err := w.table.Upsert(ctx, e); err != nil {
		w.stats.AlarmLogFailuresTotal.Inc()
		slog.Error("alarmlog: write failed", "partition", e.Partition, "sort_key", e.SortKey, "err", err)
		return err
	}
	slog.Info("alarmlog: logged", "alarm", e.AlarmName, "state", e.NewState, "partition", e.Partition)
	return nil
}

// LogMessage decodes an externally produced message with DecodeEvent and
// logs it. Messages that cannot be decoded are reported and not written.
func (w *Writer) LogMessage(ctx context.Context, data []byte) (alarm.Event, error) {
	ev, err := DecodeEvent(data, w.now())
	if err != nil {
		slog.Warn("alarmlog: skipping undecodable message", "err", err)
		return alarm.Event{}, err
	}
	return ev, w.Log(ctx, ev)
}

// message accepts both the agent's event JSON and CloudWatch-style alarm
// notifications.
type message struct {
	alarm.Event

	CWAlarmName      string `json:"AlarmName"`
	CWNewStateValue  string `json:"NewStateValue"`
	CWOldStateValue  string `json:"OldStateValue"`
	CWNewStateReason string `json:"NewStateReason"`
	CWStateChange    string `json:"StateChangeTime"`
}

// DecodeEvent parses a message into an Event. A message starting with "{"
// must be a JSON object; anything else is taken as raw text and becomes the
// reason of an event named "Unknown" in state UNKNOWN. Missing timestamps
// default to received.
func DecodeEvent(data []byte, received time.Time) (alarm.Event, error) {
	trimmed := bytes.TrimSpace(data)
	if !bytes.HasPrefix(trimmed, []byte("{")) {
		ts := received.UTC()
		return alarm.Event{
			ID:        alarm.EventID("raw", ts),
			AlarmName: "Unknown",
			NewState:  UnknownState,
			Reason:    string(trimmed),
			Timestamp: ts,
		}, nil
	}

	var m message
	if err := json.Unmarshal(trimmed, &m); err != nil {
		return alarm.Event{}, fmt.Errorf("alarmlog: decode message: %w", err)
	}

	ev := m.Event
	if ev.AlarmName == "" {
		ev.AlarmName = m.CWAlarmName
	}
	if ev.AlarmName == "" {
		ev.AlarmName = "Unknown"
	}
	if ev.NewState == "" {
		ev.NewState = alarm.State(m.CWNewStateValue)
	}
	if ev.NewState == "" {
		ev.NewState = UnknownState
	}
	if ev.PreviousState == "" && m.CWOldStateValue != "" {
		ev.PreviousState = alarm.State(m.CWOldStateValue)
	}
	if ev.Reason == "" {
		ev.Reason = m.CWNewStateReason
	}
	if ev.Timestamp.IsZero() && m.CWStateChange != "" {
		if ts, err := parseStateChangeTime(m.CWStateChange); err == nil {
			ev.Timestamp = ts
		}
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = received
	}
	ev.Timestamp = ev.Timestamp.UTC()
	if ev.RuleID == "" && ev.Target != "" && ev.MetricKind != "" {
		ev.RuleID = alarm.RuleID(ev.Target, ev.MetricKind)
	}
	if ev.ID == "" {
		key := ev.RuleID
		if key == "" {
			key = ev.AlarmName
		}
		ev.ID = alarm.EventID(key, ev.Timestamp)
	}
	return ev, nil
}

// parseStateChangeTime accepts RFC3339 and CloudWatch's
// "2006-01-02T15:04:05.000+0000".
func parseStateChangeTime(s string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return ts, nil
	}
	return time.Parse("2006-01-02T15:04:05.000-0700", s)
}
