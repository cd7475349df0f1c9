package alarm

import (
	"fmt"
	"time"

	"github.com/webhealth/canary/pkg/types"
)

// RuleParams are the inputs DeriveRules applies to every target.
type RuleParams struct {
	LatencyThresholdMs float64
	Window             time.Duration
	MissingData        MissingDataPolicy
}

// DeriveRules returns one Availability rule and one Latency rule per unique
// valid target, in target order. It has no side effects; callers diff its
// output against the current rule set if they need to apply changes.
//
// Availability alarms when the window mean drops below 1, i.e. when any
// probe in the window failed. Latency alarms when the mean exceeds the
// threshold.
func DeriveRules(targets []types.Target, p RuleParams) []Rule {
	seen := make(map[types.Target]bool, len(targets))
	out := make([]Rule, 0, 2*len(targets))
	for _, t := range targets {
		if !t.Valid() || seen[t] {
			continue
		}
		seen[t] = true

		out = append(out,
			Rule{
				ID:          RuleID(t, types.Availability),
				Name:        alarmName(t, types.Availability),
				Target:      t,
				Kind:        types.Availability,
				Threshold:   1,
				Comparison:  LessThan,
				Window:      p.Window,
				MissingData: p.MissingData,
			},
			Rule{
				ID:          RuleID(t, types.Latency),
				Name:        alarmName(t, types.Latency),
				Target:      t,
				Kind:        types.Latency,
				Threshold:   p.LatencyThresholdMs,
				Comparison:  GreaterThan,
				Window:      p.Window,
				MissingData: p.MissingData,
			},
		)
	}
	return out
}

func alarmName(t types.Target, kind types.MetricKind) string {
	return fmt.Sprintf("%s-%s", kind, t)
}
