// Package timex provides time helpers shared across sessionguard: a
// JSON-friendly Duration and a Clock abstraction that lets timer-driven
// managers run against a deterministic fake in tests.
package timex

import (
	"encoding/json"
	"errors"
	"time"
)

// Duration is a wrapper around time.Duration that supports JSON
// unmarshalling from both string values such as "5m" and integer
// nanoseconds. It is used in configuration DTOs.
type Duration struct {
	Duration time.Duration
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Duration.String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		d.Duration = time.Duration(value)
	case string:
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		d.Duration = parsed
	default:
		return errors.New("invalid duration")
	}
	return nil
}
