// Package store tracks in-flight QoS > 0 deliveries. The Store
// interface is the pluggable persistence contract; Tracker drives the
// per-message delivery state machine on top of it.
package store

import (
	"errors"
	"time"

	"github.com/mqwire/mqwire/mqtt"
)

// ErrNotFound is returned by Get and Delete for unknown keys.
var ErrNotFound = errors.New("store: entry not found")

// Direction distinguishes the two identifier spaces in-flight on a
// connection: messages this client sent and messages the broker sent.
type Direction uint8

const (
	Outbound Direction = iota
	Inbound
)

func (d Direction) String() string {
	if d == Inbound {
		return "inbound"
	}
	return "outbound"
}

// State of a pending delivery, per the QoS handshake.
type State uint8

const (
	// StateSent: publish sent, awaiting the first acknowledgment
	// (PubAck for QoS 1, PubRec for QoS 2).
	StateSent State = iota
	// StateReceived: QoS 2 receipt confirmed. Outbound: PubRec
	// seen, awaiting PubComp. Inbound: publish delivered, awaiting
	// PubRel.
	StateReceived
	// StateAcknowledged: QoS 1 delivery complete.
	StateAcknowledged
	// StateCompleted: QoS 2 delivery complete.
	StateCompleted
)

func (s State) String() string {
	switch s {
	case StateSent:
		return "sent"
	case StateReceived:
		return "received"
	case StateAcknowledged:
		return "acknowledged"
	case StateCompleted:
		return "completed"
	}
	return "unknown"
}

// Key identifies a pending delivery. Packet identifiers are unique per
// direction, not across directions.
type Key struct {
	Direction Direction
	ID        uint16
}

// PendingDelivery is one in-flight QoS > 0 message awaiting the
// completion of its delivery handshake.
type PendingDelivery struct {
	ID        uint16
	Direction Direction

	Topic   string
	Payload []byte
	QoS     mqtt.QoS
	Retain  bool

	State      State
	RetryCount int
	SentAt     time.Time
}

// Key returns the delivery's store key.
func (p *PendingDelivery) Key() Key {
	return Key{Direction: p.Direction, ID: p.ID}
}

// Message reconstructs the application message for retransmission.
// Retransmissions always carry the duplicate flag.
func (p *PendingDelivery) Message() *mqtt.Message {
	return &mqtt.Message{
		Topic:     p.Topic,
		Payload:   p.Payload,
		QoS:       p.QoS,
		Retain:    p.Retain,
		Duplicate: true,
		ID:        p.ID,
	}
}

// Store is the pluggable persistence backend for pending deliveries.
// Durable backends let a non-clean session resume its handshakes after
// a process restart. Implementations must be safe for concurrent use.
type Store interface {
	// Put inserts or replaces the entry under its key.
	Put(entry *PendingDelivery) error
	// Get returns the entry for the key, or ErrNotFound.
	Get(key Key) (*PendingDelivery, error)
	// Delete removes the entry for the key, or returns ErrNotFound.
	Delete(key Key) error
	// List returns all entries in unspecified order.
	List() ([]*PendingDelivery, error)
	// Close releases backend resources.
	Close() error
}
