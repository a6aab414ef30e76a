package events

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventEnvelope is the shared wrapper every service puts around event payloads.
type EventEnvelope[T any] struct {
	EventName     string    `json:"eventName"`
	EventVersion  int       `json:"eventVersion"`
	EventID       string    `json:"eventId"`
	CorrelationID string    `json:"correlationId,omitempty"`
	CausationID   string    `json:"causationId,omitempty"`
	Producer      string    `json:"producer"`
	PartitionKey  string    `json:"partitionKey"`
	Sequence      *int64    `json:"sequence,omitempty"`
	OccurredAt    time.Time `json:"occurredAt"`
	Schema        string    `json:"schema"`
	Payload       T         `json:"payload"`
}

type EnvelopeMetadata struct {
	CorrelationID string
	CausationID   string
}

func newEnvelope[T any](name string, version int, schema, producer, partitionKey string, seq int64, meta EnvelopeMetadata, occurredAt time.Time, payload T) EventEnvelope[T] {
	if meta.CorrelationID == "" {
		meta.CorrelationID = uuid.NewString()
	}
	return EventEnvelope[T]{
		EventName:     name,
		EventVersion:  version,
		EventID:       uuid.NewString(),
		CorrelationID: meta.CorrelationID,
		CausationID:   meta.CausationID,
		Producer:      producer,
		PartitionKey:  partitionKey,
		Sequence:      &seq,
		OccurredAt:    occurredAt,
		Schema:        schema,
		Payload:       payload,
	}
}

// Validate checks the envelope identity against what the consumer expects.
func (e EventEnvelope[T]) Validate(expectedName string, expectedVersion int) error {
	if e.EventName != expectedName {
		return fmt.Errorf("unexpected eventName: %s", e.EventName)
	}
	if e.EventVersion != expectedVersion {
		return fmt.Errorf("unexpected eventVersion: %d", e.EventVersion)
	}
	if e.PartitionKey == "" {
		return fmt.Errorf("missing partitionKey")
	}
	return nil
}
