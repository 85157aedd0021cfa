package main

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"iotdrone-monitor/internal/modules/sensors/types"
)

type record struct {
	Timestamp   string  `json:"timestamp"`
	Temperature float64 `json:"temperature"`
	Humidity    float64 `json:"humidity"`
}

type entry struct {
	key string
	rec record
}

// snapshot is a bounded keyed collection that encodes its keys in insertion
// order; encoding/json would sort a map's keys.
type snapshot struct {
	limit   int
	entries []entry
}

func newSnapshot(limit int) *snapshot {
	return &snapshot{limit: max(limit, 1)}
}

// add appends r under a time-ordered key and drops the oldest entries past
// the limit.
func (s *snapshot) add(r types.Reading) error {
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("push key: %w", err)
	}
	s.entries = append(s.entries, entry{
		key: id.String(),
		rec: record{Timestamp: r.Timestamp, Temperature: r.Temperature, Humidity: r.Humidity},
	})
	if over := len(s.entries) - s.limit; over > 0 {
		s.entries = append(s.entries[:0], s.entries[over:]...)
	}
	return nil
}

func (s *snapshot) len() int { return len(s.entries) }

func (s *snapshot) encode() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range s.entries {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(e.key)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(e.rec)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
