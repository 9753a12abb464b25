package store

import (
	"time"

	"github.com/mqwire/mqwire/mqtt"
)

// Tracker drives the per-message delivery state machine over a Store.
// It owns all read-modify-write access to the store; callers never
// mutate entries directly.
type Tracker struct {
	// mutex serializes state transitions across the backend.
	mutex chan struct{}

	store         Store
	retryInterval time.Duration
	maxRetries    int
}

// NewTracker initializes a tracker over the given backend. Entries in
// StateSent or outbound StateReceived are resent every retryInterval
// until acknowledged, and abandoned after maxRetries retransmissions.
func NewTracker(s Store, retryInterval time.Duration, maxRetries int) *Tracker {
	return &Tracker{
		mutex:         make(chan struct{}, 1),
		store:         s,
		retryInterval: retryInterval,
		maxRetries:    maxRetries,
	}
}

func (t *Tracker) lock()   { t.mutex <- struct{}{} }
func (t *Tracker) unlock() { <-t.mutex }

// TrackSend records an outbound QoS > 0 message as sent and awaiting
// its first acknowledgment.
func (t *Tracker) TrackSend(msg *mqtt.Message) error {
	t.lock()
	defer t.unlock()
	return t.store.Put(&PendingDelivery{
		ID:        msg.ID,
		Direction: Outbound,
		Topic:     msg.Topic,
		Payload:   msg.Payload,
		QoS:       msg.QoS,
		Retain:    msg.Retain,
		State:     StateSent,
		SentAt:    time.Now(),
	})
}

// TrackReceive records an inbound QoS 2 publish awaiting its release.
// Returns false if the identifier is already pending, i.e. the publish
// is a retransmission and must not be delivered to handlers again.
func (t *Tracker) TrackReceive(msg *mqtt.Message) (first bool, err error) {
	t.lock()
	defer t.unlock()
	key := Key{Direction: Inbound, ID: msg.ID}
	if _, err := t.store.Get(key); err == nil {
		return false, nil
	} else if err != ErrNotFound {
		return false, err
	}
	err = t.store.Put(&PendingDelivery{
		ID:        msg.ID,
		Direction: Inbound,
		Topic:     msg.Topic,
		Payload:   msg.Payload,
		QoS:       msg.QoS,
		Retain:    msg.Retain,
		State:     StateReceived,
		SentAt:    time.Now(),
	})
	return err == nil, err
}

// Acknowledge completes a QoS 1 outbound delivery. Returns false if
// the identifier is not tracked (stale or duplicate ack).
func (t *Tracker) Acknowledge(id uint16) (bool, error) {
	return t.retire(Key{Direction: Outbound, ID: id})
}

// ReceiptConfirmed advances a QoS 2 outbound delivery from Sent to
// Received, resetting its retry budget for the release step.
func (t *Tracker) ReceiptConfirmed(id uint16) (bool, error) {
	t.lock()
	defer t.unlock()
	entry, err := t.store.Get(Key{Direction: Outbound, ID: id})
	if err == ErrNotFound {
		return false, nil
	} else if err != nil {
		return false, err
	}
	if entry.State != StateSent {
		// Duplicate receipt confirmation; release step already
		// in flight.
		return true, nil
	}
	entry.State = StateReceived
	entry.RetryCount = 0
	entry.SentAt = time.Now()
	return true, t.store.Put(entry)
}

// Complete retires a QoS 2 outbound delivery on the final handshake
// acknowledgment.
func (t *Tracker) Complete(id uint16) (bool, error) {
	return t.retire(Key{Direction: Outbound, ID: id})
}

// Release retires an inbound QoS 2 delivery when the sender releases
// it. Returns the retired entry, or nil for unknown identifiers (the
// completion acknowledgment is resent either way).
func (t *Tracker) Release(id uint16) (*PendingDelivery, error) {
	t.lock()
	defer t.unlock()
	key := Key{Direction: Inbound, ID: id}
	entry, err := t.store.Get(key)
	if err == ErrNotFound {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	if err := t.store.Delete(key); err != nil && err != ErrNotFound {
		return nil, err
	}
	return entry, nil
}

func (t *Tracker) retire(key Key) (bool, error) {
	t.lock()
	defer t.unlock()
	err := t.store.Delete(key)
	if err == ErrNotFound {
		return false, nil
	}
	return err == nil, err
}

// InUse reports whether the outbound identifier still has an active
// delivery. Identifiers are only reused after their lifecycle
// completes.
func (t *Tracker) InUse(id uint16) bool {
	t.lock()
	defer t.unlock()
	_, err := t.store.Get(Key{Direction: Outbound, ID: id})
	return err == nil
}

// Outbound returns all outbound in-flight deliveries, e.g. for
// retransmission after a reconnect or a process restart.
func (t *Tracker) Outbound() ([]*PendingDelivery, error) {
	t.lock()
	defer t.unlock()
	entries, err := t.store.List()
	if err != nil {
		return nil, err
	}
	out := entries[:0]
	for _, entry := range entries {
		if entry.Direction == Outbound {
			out = append(out, entry)
		}
	}
	return out, nil
}

// CollectRetries returns the outbound deliveries due for
// retransmission at now, advancing their retry counts, along with the
// deliveries whose retry budget is exhausted. Abandoned deliveries are
// removed from the store; reporting them is the caller's concern.
func (t *Tracker) CollectRetries(now time.Time) (due, abandoned []*PendingDelivery, err error) {
	t.lock()
	defer t.unlock()
	entries, err := t.store.List()
	if err != nil {
		return nil, nil, err
	}
	for _, entry := range entries {
		if entry.Direction != Outbound {
			continue
		}
		if now.Sub(entry.SentAt) < t.retryInterval {
			continue
		}
		if entry.RetryCount >= t.maxRetries {
			if err := t.store.Delete(entry.Key()); err != nil && err != ErrNotFound {
				return due, abandoned, err
			}
			abandoned = append(abandoned, entry)
			continue
		}
		entry.RetryCount++
		entry.SentAt = now
		if err := t.store.Put(entry); err != nil {
			return due, abandoned, err
		}
		due = append(due, entry)
	}
	return due, abandoned, nil
}

// Pending returns the number of tracked deliveries in both directions.
func (t *Tracker) Pending() int {
	t.lock()
	defer t.unlock()
	entries, err := t.store.List()
	if err != nil {
		return 0
	}
	return len(entries)
}

// Clear drops all tracked deliveries, e.g. on clean-session teardown.
func (t *Tracker) Clear() error {
	t.lock()
	defer t.unlock()
	entries, err := t.store.List()
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if err := t.store.Delete(entry.Key()); err != nil && err != ErrNotFound {
			return err
		}
	}
	return nil
}
