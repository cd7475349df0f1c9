package alarm

import (
	"errors"
	"fmt"

	"github.com/goccy/go-json"
)

// Encode returns the JSON payload carried by broadcast and queue channels.
func Encode(ev Event) ([]byte, error) {
	b, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("alarm: encode event: %w", err)
	}
	return b, nil
}

// Decode parses a payload produced by Encode. The payload must name a rule
// and a new state.
func Decode(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, fmt.Errorf("alarm: decode event: %w", err)
	}
	if ev.RuleID == "" || ev.NewState == "" {
		return Event{}, errors.New("alarm: decode event: missing rule_id or new_state")
	}
	return ev, nil
}
