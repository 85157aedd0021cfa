package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"iotdrone-monitor/internal/modules/sensors/source"
	"iotdrone-monitor/internal/modules/sensors/types"
)

type bytesRemote []byte

func (b bytesRemote) Snapshot(context.Context) ([]byte, error) { return b, nil }

func TestSnapshot_BoundedAndOrdered(t *testing.T) {
	s := newSnapshot(3)
	for i := 1; i <= 5; i++ {
		if err := s.add(types.Reading{Timestamp: fmt.Sprintf("t%d", i), Temperature: float64(i)}); err != nil {
			t.Fatalf("add: %v", err)
		}
	}
	if s.len() != 3 {
		t.Fatalf("len() = %d; want 3", s.len())
	}

	payload, err := s.encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var decoded map[string]record
	if err := json.Unmarshal(payload, &decoded); err != nil {
		t.Fatalf("payload is not a JSON object: %v", err)
	}
	if len(decoded) != 3 {
		t.Errorf("decoded %d records; want 3", len(decoded))
	}

	// The monitor's feed adapter must pick the last pushed record.
	r, ok, err := source.NewFeed(bytesRemote(payload), slog.New(slog.NewTextHandler(io.Discard, nil))).Next(context.Background())
	if err != nil || !ok {
		t.Fatalf("feed Next() = (_, %v, %v)", ok, err)
	}
	if r.Temperature != 5 || r.Timestamp != "t5" {
		t.Errorf("feed selected %+v; want the fifth reading", r)
	}
}

func TestSnapshot_EmptyEncodesEmptyObject(t *testing.T) {
	payload, err := newSnapshot(0).encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if string(payload) != "{}" {
		t.Errorf("encode() = %s; want {}", payload)
	}
}
