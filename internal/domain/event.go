package domain

import (
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
)

// EventKind names a durable notification written to the outbox.
type EventKind string

const (
	EventPaymentConfirmed  EventKind = "payment.confirmed"
	EventDispatchCompleted EventKind = "dispatch.completed"
	EventRefundDispatched  EventKind = "refund.dispatched"
	EventBudgetReleased    EventKind = "budget.released"
	EventBudgetConsumed    EventKind = "budget.consumed"
	EventPartialEligible   EventKind = "request.partial_eligible"
)

// Event is an outbox row. Payload is deterministic CBOR of EventPayload.
type Event struct {
	ID          uuid.UUID
	RequestID   RequestID
	Kind        EventKind
	Payload     []byte
	CreatedAt   time.Time
	PublishedAt *time.Time
}

// EventPayload is the body shared by all event kinds.
type EventPayload struct {
	RequestID RequestID      `cbor:"1,keyasint"`
	Payee     string         `cbor:"2,keyasint,omitempty"`
	Domain    string         `cbor:"3,keyasint,omitempty"`
	Amount    Amount         `cbor:"4,keyasint"`
	Handle    TransferHandle `cbor:"5,keyasint,omitempty"`
	Detail    string         `cbor:"6,keyasint,omitempty"`
}

var (
	eventEncMode cbor.EncMode
	eventDecMode cbor.DecMode
)

func init() {
	var err error

	encOptions := cbor.CoreDetEncOptions()
	encOptions.TextMarshaler = cbor.TextMarshalerTextString
	eventEncMode, err = encOptions.EncMode()
	if err != nil {
		panic("domain: CBOR encoder initialization failed: " + err.Error())
	}

	eventDecMode, err = cbor.DecOptions{
		TextUnmarshaler: cbor.TextUnmarshalerTextString,
	}.DecMode()
	if err != nil {
		panic("domain: CBOR decoder initialization failed: " + err.Error())
	}
}

// NewEvent builds an outbox event with an encoded payload.
func NewEvent(kind EventKind, payload EventPayload, now time.Time) (*Event, error) {
	data, err := eventEncMode.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s event: %w", kind, err)
	}
	return &Event{
		ID:        uuid.New(),
		RequestID: payload.RequestID,
		Kind:      kind,
		Payload:   data,
		CreatedAt: now,
	}, nil
}

// DecodePayload decodes the event body.
func (e *Event) DecodePayload() (EventPayload, error) {
	var p EventPayload
	if err := eventDecMode.Unmarshal(e.Payload, &p); err != nil {
		return p, fmt.Errorf("decode %s event: %w", e.Kind, err)
	}
	return p, nil
}
