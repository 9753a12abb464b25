package client

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/mqwire/mqwire/mqtt"
	"github.com/mqwire/mqwire/session"
	"github.com/mqwire/mqwire/store"
	"github.com/mqwire/mqwire/topics"
)

func newTestSession() *session.Session {
	tracker := store.NewTracker(store.NewMemoryStore(), time.Second, 1)
	return session.New("tester", true, topics.Policy{}, tracker)
}

func TestDispatcherIgnoresRemovedSubscription(t *testing.T) {
	sess := newTestSession()
	d := newDispatcher(func(err error) {
		t.Errorf("dispatch error: %s", err)
	}, sess.Active)
	defer d.Close()

	handler, msgs := collectHandler(4)
	sub := sess.Subscribe("a/+", mqtt.AtMostOnce, handler)

	d.Enqueue(sub, &mqtt.Message{Topic: "a/b", Payload: []byte("one")})
	awaitMessage(t, msgs)

	sess.Unsubscribe(sub.Filter)
	d.Remove(sub)

	// A frame racing the removal must neither reach the handler nor
	// leave a fresh queue and worker behind.
	d.Enqueue(sub, &mqtt.Message{Topic: "a/b", Payload: []byte("two")})
	assertNoMessage(t, msgs)

	d.mu.Lock()
	assert.Empty(t, d.queues)
	d.mu.Unlock()
}

func TestDispatcherEnqueueAfterClose(t *testing.T) {
	sess := newTestSession()
	d := newDispatcher(func(err error) {
		t.Errorf("dispatch error: %s", err)
	}, sess.Active)

	handler, msgs := collectHandler(4)
	sub := sess.Subscribe("a/+", mqtt.AtMostOnce, handler)

	d.Close()
	d.Enqueue(sub, &mqtt.Message{Topic: "a/b", Payload: []byte("late")})
	assertNoMessage(t, msgs)
}
