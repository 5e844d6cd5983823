package dailyroot

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/gosuda/timeproof/internal/domain"
	"github.com/gosuda/timeproof/internal/merkle"
)

// leafRecord fixes the field order and encoding of a serialized event.
// Changing it changes every root ever computed.
type leafRecord struct {
	ID         string `json:"id"`
	EmployeeID string `json:"employee_id"`
	EventType  string `json:"event_type"`
	Timestamp  string `json:"timestamp"`
	Source     string `json:"source"`
}

// SerializeEvent returns the canonical bytes hashed into a leaf.
func SerializeEvent(e *domain.TimeEvent) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	err := enc.Encode(leafRecord{
		ID:         e.ID.String(),
		EmployeeID: e.EmployeeID.String(),
		EventType:  string(e.EventType),
		Timestamp:  e.Timestamp.UTC().Format(time.RFC3339Nano),
		Source:     e.Source,
	})
	if err != nil {
		return nil, fmt.Errorf("dailyroot.SerializeEvent: %w", err)
	}

	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// SortEvents orders events canonically: timestamp, employee, type, source, id.
// The input slice is not modified.
func SortEvents(events []*domain.TimeEvent) []*domain.TimeEvent {
	sorted := slices.Clone(events)
	slices.SortStableFunc(sorted, func(a, b *domain.TimeEvent) int {
		if c := a.Timestamp.Compare(b.Timestamp); c != 0 {
			return c
		}
		if c := strings.Compare(a.EmployeeID.String(), b.EmployeeID.String()); c != 0 {
			return c
		}
		if c := strings.Compare(string(a.EventType), string(b.EventType)); c != 0 {
			return c
		}
		if c := strings.Compare(a.Source, b.Source); c != 0 {
			return c
		}
		return strings.Compare(a.ID.String(), b.ID.String())
	})
	return sorted
}

// ComputeRoot returns the hex Merkle root and the event count for a day.
// It returns domain.ErrEmptyDay when events is empty.
func ComputeRoot(events []*domain.TimeEvent) (string, int, error) {
	if len(events) == 0 {
		return "", 0, domain.ErrEmptyDay
	}

	leaves := make([][]byte, 0, len(events))
	for _, e := range SortEvents(events) {
		data, err := SerializeEvent(e)
		if err != nil {
			return "", 0, err
		}
		leaves = append(leaves, merkle.HashLeaf(data))
	}

	root, err := merkle.RootHex(leaves)
	if err != nil {
		return "", 0, fmt.Errorf("dailyroot.ComputeRoot: %w", err)
	}

	return root, len(events), nil
}
