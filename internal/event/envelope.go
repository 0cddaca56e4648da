package event

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType discriminator for event payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeOraclePriceUpdate
	EventTypeAccountLiquidatable
	EventTypeAccountBankrupt
	EventTypeAccountRecovered
)

// EventEnvelope wraps every outbound event.
type EventEnvelope struct {
	// Monotonic per publisher
	Sequence int64 `json:"sequence"`

	// Stable dedup key, also used as the NATS message ID
	IdempotencyKey string `json:"idempotency_key"`

	EventType EventType `json:"event_type"`

	// Slot the payload was computed at
	Slot uint64 `json:"slot"`

	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// Event is the interface all event payloads implement
type Event interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	// EventType returns the discriminator
	EventType() EventType

	// SourceSequence returns upstream ordering key
	SourceSequence() int64
}

// Wrap encodes evt into an envelope.
func Wrap(sequence int64, slot uint64, ts time.Time, evt Event) (EventEnvelope, error) {
	payload, err := json.Marshal(evt)
	if err != nil {
		return EventEnvelope{}, fmt.Errorf("marshal %s: %w", evt.EventType(), err)
	}
	return EventEnvelope{
		Sequence:       sequence,
		IdempotencyKey: evt.IdempotencyKey(),
		EventType:      evt.EventType(),
		Slot:           slot,
		Timestamp:      ts,
		Payload:        payload,
	}, nil
}

func (et EventType) String() string {
	switch et {
	case EventTypeOraclePriceUpdate:
		return "OraclePriceUpdate"
	case EventTypeAccountLiquidatable:
		return "AccountLiquidatable"
	case EventTypeAccountBankrupt:
		return "AccountBankrupt"
	case EventTypeAccountRecovered:
		return "AccountRecovered"
	default:
		return "Unknown"
	}
}

// Subject is the lower-case token used in NATS subjects.
func (et EventType) Subject() string {
	switch et {
	case EventTypeOraclePriceUpdate:
		return "price"
	case EventTypeAccountLiquidatable:
		return "liquidatable"
	case EventTypeAccountBankrupt:
		return "bankrupt"
	case EventTypeAccountRecovered:
		return "recovered"
	default:
		return "unknown"
	}
}
