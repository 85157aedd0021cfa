package source

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

type shape int

const (
	shapeEmpty shape = iota
	shapeSequence
	shapeMapping
	shapeOther
)

func (s shape) String() string {
	switch s {
	case shapeEmpty:
		return "empty"
	case shapeSequence:
		return "sequence"
	case shapeMapping:
		return "mapping"
	default:
		return "other"
	}
}

// snapshot is a feed document resolved once into its shape. records holds the
// elements of a sequence, or the values of a mapping in document order.
type snapshot struct {
	shape   shape
	keys    []string
	records []json.RawMessage
}

// latest returns the record a reading is built from: the last element of a
// sequence, or the value of the last inserted key of a mapping.
func (s snapshot) latest() (json.RawMessage, error) {
	switch s.shape {
	case shapeSequence, shapeMapping:
		if len(s.records) == 0 {
			return nil, nil
		}
		return s.records[len(s.records)-1], nil
	case shapeEmpty:
		return nil, nil
	default:
		return nil, newSourceError(ErrUnexpectedShape, fmt.Errorf("snapshot is a %s, want a sequence or mapping", s.shape))
	}
}

// decodeSnapshot walks the top level with a token decoder because
// map[string]any would lose the key order a mapping's selection depends on.
func decodeSnapshot(data []byte) (snapshot, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return snapshot{shape: shapeEmpty}, nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return snapshot{}, newSourceError(ErrUnexpectedShape, err)
	}

	var snap snapshot
	switch tok {
	case json.Delim('['):
		snap.shape = shapeSequence
		for dec.More() {
			var raw json.RawMessage
			if err := dec.Decode(&raw); err != nil {
				return snapshot{}, newSourceError(ErrUnexpectedShape, err)
			}
			snap.records = append(snap.records, raw)
		}
	case json.Delim('{'):
		snap.shape = shapeMapping
		// A repeated key keeps its first position and takes the later value.
		index := map[string]int{}
		for dec.More() {
			keyTok, err := dec.Token()
			if err != nil {
				return snapshot{}, newSourceError(ErrUnexpectedShape, err)
			}
			key, _ := keyTok.(string)
			var raw json.RawMessage
			if err := dec.Decode(&raw); err != nil {
				return snapshot{}, newSourceError(ErrUnexpectedShape, err)
			}
			if i, seen := index[key]; seen {
				snap.records[i] = raw
				continue
			}
			index[key] = len(snap.keys)
			snap.keys = append(snap.keys, key)
			snap.records = append(snap.records, raw)
		}
	case nil:
		snap.shape = shapeEmpty
	default:
		snap.shape = shapeOther
	}

	if snap.shape == shapeSequence || snap.shape == shapeMapping {
		// closing delimiter
		if _, err := dec.Token(); err != nil {
			return snapshot{}, newSourceError(ErrUnexpectedShape, err)
		}
		if len(snap.records) == 0 {
			snap.shape = shapeEmpty
		}
	}

	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return snapshot{}, newSourceError(ErrUnexpectedShape, errors.New("trailing data after snapshot"))
	}
	return snap, nil
}
