// Package session holds per-client state: the subscription set with
// granted QoS and handlers, the clean/persistent flag and the pending
// delivery tracker. All mutation is serialized; matching observes a
// consistent snapshot of the subscription set.
package session

import (
	"sync"

	"github.com/mqwire/mqwire/mqtt"
	"github.com/mqwire/mqwire/store"
	"github.com/mqwire/mqwire/topics"
)

// Subscription is one registered topic filter. Owned exclusively by
// the session; callers receive read-only references.
type Subscription struct {
	// Filter is the topic pattern, validated at subscribe time.
	Filter string
	// RequestedQoS is the QoS asked for in the subscribe request.
	RequestedQoS mqtt.QoS
	// GrantedQoS is the QoS the broker actually granted; it caps
	// the effective QoS of deliveries to this subscription.
	GrantedQoS mqtt.QoS
	// Handler consumes messages matching the filter.
	Handler mqtt.Handler
}

// Match pairs a matched subscription with the effective delivery QoS
// for one message: min(granted QoS, message QoS).
type Match struct {
	Subscription *Subscription
	QoS          mqtt.QoS
}

// Session is the per-client state shared between the caller-facing
// API and the dispatch loop.
type Session struct {
	mu sync.RWMutex

	clientID string
	clean    bool
	policy   topics.Policy

	subscriptions map[string]*Subscription

	pending *store.Tracker
}

// New initializes a session. If clean is true, subscriptions and
// pending deliveries are discarded on disconnect; otherwise they
// persist for the next connect.
func New(clientID string, clean bool, policy topics.Policy, pending *store.Tracker) *Session {
	return &Session{
		clientID:      clientID,
		clean:         clean,
		policy:        policy,
		subscriptions: make(map[string]*Subscription),
		pending:       pending,
	}
}

// ClientID returns the client identifier the session belongs to.
func (s *Session) ClientID() string {
	return s.clientID
}

// Clean reports whether the session is discarded on disconnect.
func (s *Session) Clean() bool {
	return s.clean
}

// Pending returns the session's delivery tracker.
func (s *Session) Pending() *store.Tracker {
	return s.pending
}

// Subscribe registers a subscription, replacing any previous one for
// the same filter. The change is visible to the next Matches call.
func (s *Session) Subscribe(filter string, requested mqtt.QoS, handler mqtt.Handler) *Subscription {
	sub := &Subscription{
		Filter:       filter,
		RequestedQoS: requested,
		GrantedQoS:   requested,
		Handler:      handler,
	}
	s.mu.Lock()
	s.subscriptions[filter] = sub
	s.mu.Unlock()
	return sub
}

// SetGranted records the QoS the broker granted for the filter. The
// granted value is stored, not the requested one.
func (s *Session) SetGranted(filter string, granted mqtt.QoS) {
	s.mu.Lock()
	if sub, ok := s.subscriptions[filter]; ok {
		sub.GrantedQoS = granted
	}
	s.mu.Unlock()
}

// Unsubscribe removes the subscription for the filter, if present.
// Dispatches already in flight complete; frames received after the
// removal no longer reach the handler.
func (s *Session) Unsubscribe(filter string) (*Subscription, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subscriptions[filter]
	if ok {
		delete(s.subscriptions, filter)
	}
	return sub, ok
}

// Active reports whether sub is the current registration for its
// filter. A subscription replaced by a later Subscribe, or removed by
// Unsubscribe or Reset, is no longer active.
func (s *Session) Active(sub *Subscription) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.subscriptions[sub.Filter] == sub
}

// Subscriptions returns a snapshot of the current subscription set,
// e.g. for re-subscribing after a reconnect.
func (s *Session) Subscriptions() []*Subscription {
	s.mu.RLock()
	defer s.mu.RUnlock()
	subs := make([]*Subscription, 0, len(s.subscriptions))
	for _, sub := range s.subscriptions {
		subs = append(subs, sub)
	}
	return subs
}

// Matches returns every subscription whose filter matches the topic,
// each paired with the effective QoS for a message published at
// msgQoS. A topic matching several filters yields one entry per
// filter.
func (s *Session) Matches(topic string, msgQoS mqtt.QoS) []Match {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var matches []Match
	for _, sub := range s.subscriptions {
		if s.policy.Match(sub.Filter, topic) {
			matches = append(matches, Match{
				Subscription: sub,
				QoS:          sub.GrantedQoS.Min(msgQoS),
			})
		}
	}
	return matches
}

// Reset discards the subscription set and, for clean sessions, all
// pending deliveries. Called on disconnect when clean, and on session
// teardown.
func (s *Session) Reset() error {
	s.mu.Lock()
	s.subscriptions = make(map[string]*Subscription)
	s.mu.Unlock()
	return s.pending.Clear()
}
