package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/goccy/go-json"

	"github.com/webhealth/canary/pkg/types"
)

// ErrTargetsNotArray is returned when the targets file is valid JSON but not
// an array.
var ErrTargetsNotArray = errors.New("targets file must be a JSON array of URLs")

// LoadTargets reads the target list at path. A missing, unreadable or
// malformed file is a configuration error for the current cycle.
func LoadTargets(path string) ([]types.Target, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: load targets: %w", err)
	}
	targets, err := ParseTargets(data)
	if err != nil {
		return nil, fmt.Errorf("config: load targets %q: %w", path, err)
	}
	return targets, nil
}

// ParseTargets decodes a JSON array of URLs. Entries that are not strings or
// are blank are skipped; the rest are trimmed.
func ParseTargets(data []byte) ([]types.Target, error) {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse json: %w", err)
	}
	items, ok := raw.([]any)
	if !ok {
		return nil, ErrTargetsNotArray
	}

	out := make([]types.Target, 0, len(items))
	for _, it := range items {
		s, ok := it.(string)
		if !ok {
			continue
		}
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		out = append(out, types.Target(s))
	}
	return out, nil
}
