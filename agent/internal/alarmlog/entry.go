package alarmlog

import (
	"time"

	"github.com/webhealth/canary/agent/internal/alarm"
)

// Entry is one row of the alarm log. (Partition, SortKey) is the primary
// key; every other column is derived from the event, so writing the same
// event twice leaves the row unchanged.
type Entry struct {
	Partition     string    `gorm:"column:pk;primaryKey;size:512" json:"partition"`
	SortKey       string    `gorm:"column:sk;primaryKey;size:64" json:"sort_key"`
	EventID       string    `gorm:"column:event_id;size:36;index" json:"event_id"`
	RuleID        string    `gorm:"column:rule_id;size:512" json:"rule_id"`
	AlarmName     string    `gorm:"column:alarm_name;size:512" json:"alarm_name"`
	Target        string    `gorm:"column:target;size:512" json:"target"`
	MetricKind    string    `gorm:"column:metric_kind;size:32" json:"metric_kind"`
	PreviousState string    `gorm:"column:previous_state;size:32" json:"previous_state"`
	NewState      string    `gorm:"column:new_state;size:32" json:"new_state"`
	Reason        string    `gorm:"column:reason;type:text" json:"reason"`
	Timestamp     time.Time `gorm:"column:ts" json:"timestamp"`
}

func (Entry) TableName() string { return "alarm_log" }

// PartitionKey returns target#metric_kind, or the alarm name for events
// that arrived without a target.
func PartitionKey(ev alarm.Event) string {
	if ev.Target == "" {
		return ev.AlarmName
	}
	return string(ev.Target) + "#" + string(ev.MetricKind)
}

// SortKey renders the event time as RFC3339 with nanoseconds, in UTC, so
// keys order chronologically as strings.
func SortKey(ts time.Time) string {
	return ts.UTC().Format("2006-01-02T15:04:05.000000000Z07:00")
}

// NewEntry builds the log row for ev, truncating the reason to maxReason
// characters.
func NewEntry(ev alarm.Event, maxReason int) Entry {
	return Entry{
		Partition:     PartitionKey(ev),
		SortKey:       SortKey(ev.Timestamp),
		EventID:       ev.ID,
		RuleID:        ev.RuleID,
		AlarmName:     ev.AlarmName,
		Target:        string(ev.Target),
		MetricKind:    string(ev.MetricKind),
		PreviousState: string(ev.PreviousState),
		NewState:      string(ev.NewState),
		Reason:        truncate(ev.Reason, maxReason),
		Timestamp:     ev.Timestamp.UTC(),
	}
}

func truncate(s string, n int) string {
	if n <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
