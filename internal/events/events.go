// Package events announces changes to groups and receipts.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Type names a kind of change. It doubles as the AMQP routing key.
type Type string

const (
	ReceiptCreated  Type = "receipt.created"
	ReceiptUpdated  Type = "receipt.updated"
	ReceiptDeleted  Type = "receipt.deleted"
	PaymentRecorded Type = "payment.recorded"
	GroupUpdated    Type = "group.updated"
)

// Event describes one change within a group.
type Event struct {
	Type       Type      `json:"type"`
	GroupID    string    `json:"group_id"`
	ReceiptID  string    `json:"receipt_id,omitempty"`
	PaymentID  string    `json:"payment_id,omitempty"`
	ActorID    string    `json:"actor_id,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// New creates an event stamped with the current time.
func New(t Type, groupID string) Event {
	return Event{Type: t, GroupID: groupID, OccurredAt: time.Now().UTC()}
}

func (e Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// FromJSON decodes an event produced by ToJSON.
func FromJSON(data []byte) (Event, error) {
	var e Event
	err := json.Unmarshal(data, &e)
	return e, err
}

// Publisher delivers events to interested parties.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// Multi publishes to every publisher and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, e Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
