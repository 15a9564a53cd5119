// Package events defines the canonical change-event schema consumed by the
// index syncer. All producers MUST use these types for event publication.
package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// OperationType represents the type of change operation.
type OperationType string

const (
	OperationCreate OperationType = "create"
	OperationUpdate OperationType = "update"
	OperationDelete OperationType = "delete"
)

// IsValid checks if the operation type is a known valid type.
func (o OperationType) IsValid() bool {
	switch o {
	case OperationCreate, OperationUpdate, OperationDelete:
		return true
	default:
		return false
	}
}

// ChangeEvent is published whenever a catalog record is mutated. The event
// carries only the identity of the changed record; the syncer fetches the
// current snapshot from the catalog at apply time, so a replayed event is
// always safe to process.
type ChangeEvent struct {
	EventID   string        `json:"eventId"`
	Type      OperationType `json:"operationType"`
	Family    string        `json:"family"`
	EntityID  string        `json:"entityId"`
	Timestamp int64         `json:"timestamp"` // Unix milliseconds
}

// NewChangeEvent creates a ChangeEvent with a fresh event ID and the current
// timestamp.
func NewChangeEvent(opType OperationType, family, entityID string) *ChangeEvent {
	return &ChangeEvent{
		EventID:   uuid.New().String(),
		Type:      opType,
		Family:    family,
		EntityID:  entityID,
		Timestamp: time.Now().UnixMilli(),
	}
}

// Marshal encodes the event for transport.
func (e *ChangeEvent) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// UnmarshalChangeEvent decodes an event received from transport.
func UnmarshalChangeEvent(data []byte) (*ChangeEvent, error) {
	var evt ChangeEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		return nil, err
	}
	return &evt, nil
}

// Subject returns the pubsub subject for this event, partitioned by family.
func (e *ChangeEvent) Subject() string {
	return "changes." + e.Family
}
