package alarm

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/webhealth/canary/pkg/types"
)

// State is the evaluated condition of one alarm rule.
type State string

const (
	OK               State = "OK"
	Alarm            State = "ALARM"
	InsufficientData State = "INSUFFICIENT_DATA"
)

// Comparison is the operator applied as `mean <op> threshold`.
type Comparison string

const (
	LessThan    Comparison = "LessThan"
	GreaterThan Comparison = "GreaterThan"
)

// Breaches reports whether v crosses threshold under c.
func (c Comparison) Breaches(v, threshold float64) bool {
	switch c {
	case LessThan:
		return v < threshold
	case GreaterThan:
		return v > threshold
	default:
		return false
	}
}

func (c Comparison) phrase() string {
	switch c {
	case LessThan:
		return "less than"
	case GreaterThan:
		return "greater than"
	default:
		return string(c)
	}
}

// MissingDataPolicy decides the state of a window with no datapoints.
type MissingDataPolicy string

const (
	NotBreaching MissingDataPolicy = "notBreaching" // OK
	Breaching    MissingDataPolicy = "breaching"    // ALARM
	Ignore       MissingDataPolicy = "ignore"       // keep previous state
	Missing      MissingDataPolicy = "missing"      // INSUFFICIENT_DATA
)

// ParseMissingDataPolicy converts a config value. Unknown values fall back
// to NotBreaching.
func ParseMissingDataPolicy(s string) MissingDataPolicy {
	switch p := MissingDataPolicy(s); p {
	case NotBreaching, Breaching, Ignore, Missing:
		return p
	default:
		return NotBreaching
	}
}

// Rule is one threshold alarm on one target's metric.
type Rule struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Target      types.Target      `json:"target"`
	Kind        types.MetricKind  `json:"metric_kind"`
	Threshold   float64           `json:"threshold"`
	Comparison  Comparison        `json:"comparison"`
	Window      time.Duration     `json:"evaluation_window"`
	MissingData MissingDataPolicy `json:"missing_data_policy"`
}

// RuleID is the identity shared by a rule and the log partition of its events.
func RuleID(target types.Target, kind types.MetricKind) string {
	return string(target) + "#" + string(kind)
}

// Event records one state transition of a rule.
type Event struct {
	ID            string           `json:"id"`
	RuleID        string           `json:"rule_id"`
	AlarmName     string           `json:"alarm_name"`
	Target        types.Target     `json:"target"`
	MetricKind    types.MetricKind `json:"metric_kind"`
	PreviousState State            `json:"previous_state"`
	NewState      State            `json:"new_state"`
	Reason        string           `json:"reason"`
	Timestamp     time.Time        `json:"timestamp"`
}

// eventNamespace scopes event IDs so they cannot collide with other UUIDv5 users.
var eventNamespace = uuid.MustParse("4d1b3f4e-7a43-5d0c-9a55-2f0b8f6b1c7e")

// EventID derives a stable identifier from the rule and transition time, so a
// redelivered event keeps its identity.
func EventID(ruleID string, ts time.Time) string {
	return uuid.NewSHA1(eventNamespace, []byte(ruleID+"|"+ts.UTC().Format(time.RFC3339Nano))).String()
}

// Recovered reports whether the event returns the rule to OK from ALARM.
func (e Event) Recovered() bool {
	return e.PreviousState == Alarm && e.NewState == OK
}

func (e Event) String() string {
	return fmt.Sprintf("%s: %s -> %s", e.AlarmName, e.PreviousState, e.NewState)
}
