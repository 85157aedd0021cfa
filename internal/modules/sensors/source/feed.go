package source

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"iotdrone-monitor/internal/modules/sensors/types"
)

// Remote returns the current document stored at the feed's path.
type Remote interface {
	Snapshot(ctx context.Context) ([]byte, error)
}

// Feed adapts the latest record of a remote collection into a Reading.
type Feed struct {
	remote Remote
	logger *slog.Logger
	now    func() time.Time
	newID  func() string
}

func NewFeed(remote Remote, logger *slog.Logger) *Feed {
	if logger == nil {
		logger = slog.Default()
	}
	return &Feed{
		remote: remote,
		logger: logger,
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

func (f *Feed) Name() string { return "feed" }

func (f *Feed) Next(ctx context.Context) (types.Reading, bool, error) {
	data, err := f.remote.Snapshot(ctx)
	if err != nil {
		return types.Reading{}, false, newSourceError(ErrUnreachable, err)
	}

	snap, err := decodeSnapshot(data)
	if err != nil {
		return types.Reading{}, false, err
	}
	raw, err := snap.latest()
	if err != nil {
		return types.Reading{}, false, err
	}
	if raw == nil {
		f.logger.Debug("feed snapshot has no records")
		return types.Reading{}, false, nil
	}

	r, err := normalize(raw, f.now)
	if err != nil {
		return types.Reading{}, false, err
	}
	// Every poll is a new entity, even when the remote has not changed.
	r.ID = f.newID()

	f.logger.Debug("feed record normalized",
		"shape", snap.shape.String(),
		"records", len(snap.records),
		"id", r.ID,
	)
	return r, true, nil
}

// normalize turns one raw record into a Reading. Missing or null fields get
// defaults; the ID is left for the caller.
func normalize(raw json.RawMessage, now func() time.Time) (types.Reading, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return types.Reading{}, newSourceError(ErrUnexpectedShape, fmt.Errorf("record is not an object: %.40s", trimmed))
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return types.Reading{}, newSourceError(ErrUnexpectedShape, err)
	}

	ts, err := timestampField(fields["timestamp"])
	if err != nil {
		return types.Reading{}, err
	}
	if ts == "" {
		ts = now().Format(types.TimestampLayout)
	}
	temperature, err := numberField("temperature", fields["temperature"])
	if err != nil {
		return types.Reading{}, err
	}
	humidity, err := numberField("humidity", fields["humidity"])
	if err != nil {
		return types.Reading{}, err
	}

	return types.Reading{
		Timestamp:   ts,
		Temperature: temperature,
		Humidity:    humidity,
	}, nil
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(bytes.TrimSpace(raw)) == "null"
}

// timestampField returns "" when the field should be backfilled. Numbers are
// kept as their literal text.
func timestampField(raw json.RawMessage) (string, error) {
	if isNull(raw) {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s), nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String(), nil
	}
	return "", newSourceError(ErrInvalidRecord, fmt.Errorf("timestamp: unsupported value %s", raw))
}

func numberField(name string, raw json.RawMessage) (float64, error) {
	if isNull(raw) {
		return 0.0, nil
	}

	var v float64
	var s string
	switch {
	case json.Unmarshal(raw, &v) == nil:
	case json.Unmarshal(raw, &s) == nil:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return 0, newSourceError(ErrInvalidRecord, fmt.Errorf("%s: %w", name, errors.Unwrap(err)))
		}
		v = parsed
	default:
		return 0, newSourceError(ErrInvalidRecord, fmt.Errorf("%s: unsupported value %s", name, raw))
	}

	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, newSourceError(ErrInvalidRecord, fmt.Errorf("%s: not a finite number", name))
	}
	return v, nil
}
