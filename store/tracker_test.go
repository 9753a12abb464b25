package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mqwire/mqwire/mqtt"
)

func newTestTracker(t *testing.T, maxRetries int) *Tracker {
	t.Helper()
	return NewTracker(NewMemoryStore(), 100*time.Millisecond, maxRetries)
}

func TestTrackerQoS1Lifecycle(t *testing.T) {
	tracker := newTestTracker(t, 3)
	msg := &mqtt.Message{Topic: "a/b", Payload: []byte("x"), QoS: mqtt.AtLeastOnce, ID: 1}

	require.NoError(t, tracker.TrackSend(msg))
	assert.True(t, tracker.InUse(1))
	assert.Equal(t, 1, tracker.Pending())

	ok, err := tracker.Acknowledge(1)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.False(t, tracker.InUse(1))
	assert.Zero(t, tracker.Pending())

	// Duplicate ack for a retired identifier is not an error.
	ok, err = tracker.Acknowledge(1)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTrackerQoS2SenderLifecycle(t *testing.T) {
	tracker := newTestTracker(t, 3)
	msg := &mqtt.Message{Topic: "a/b", QoS: mqtt.ExactlyOnce, ID: 2}

	require.NoError(t, tracker.TrackSend(msg))

	ok, err := tracker.ReceiptConfirmed(2)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, tracker.InUse(2), "entry survives until completion")

	// Duplicate receipt confirmation keeps the entry in the
	// release step.
	ok, err = tracker.ReceiptConfirmed(2)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = tracker.Complete(2)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.False(t, tracker.InUse(2))
}

func TestTrackerQoS2ReceiverDeduplicates(t *testing.T) {
	tracker := newTestTracker(t, 3)
	msg := &mqtt.Message{Topic: "x/y", Payload: []byte("p"), QoS: mqtt.ExactlyOnce, ID: 9}

	first, err := tracker.TrackReceive(msg)
	require.NoError(t, err)
	assert.True(t, first)

	// Retransmission of the same identifier is not "first" again.
	first, err = tracker.TrackReceive(msg)
	require.NoError(t, err)
	assert.False(t, first)

	entry, err := tracker.Release(9)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "x/y", entry.Topic)

	// After release, the identifier is forgotten.
	entry, err = tracker.Release(9)
	require.NoError(t, err)
	assert.Nil(t, entry)

	first, err = tracker.TrackReceive(msg)
	require.NoError(t, err)
	assert.True(t, first, "identifier reusable after release")
}

func TestTrackerCollectRetries(t *testing.T) {
	tracker := newTestTracker(t, 2)
	msg := &mqtt.Message{Topic: "a", QoS: mqtt.AtLeastOnce, ID: 5}
	require.NoError(t, tracker.TrackSend(msg))

	// Not due yet.
	due, abandoned, err := tracker.CollectRetries(time.Now())
	require.NoError(t, err)
	assert.Empty(t, due)
	assert.Empty(t, abandoned)

	// First and second retries.
	now := time.Now()
	for i := 1; i <= 2; i++ {
		now = now.Add(time.Second)
		due, abandoned, err = tracker.CollectRetries(now)
		require.NoError(t, err)
		require.Len(t, due, 1)
		assert.Empty(t, abandoned)
		assert.Equal(t, i, due[0].RetryCount)
		assert.True(t, due[0].Message().Duplicate)
	}

	// Budget exhausted: abandoned and dropped from tracking.
	now = now.Add(time.Second)
	due, abandoned, err = tracker.CollectRetries(now)
	require.NoError(t, err)
	assert.Empty(t, due)
	require.Len(t, abandoned, 1)
	assert.Equal(t, uint16(5), abandoned[0].ID)
	assert.False(t, tracker.InUse(5))
}

func TestTrackerInboundNotRetried(t *testing.T) {
	tracker := newTestTracker(t, 1)
	msg := &mqtt.Message{Topic: "a", QoS: mqtt.ExactlyOnce, ID: 7}
	first, err := tracker.TrackReceive(msg)
	require.NoError(t, err)
	require.True(t, first)

	// The receiver side never retransmits; it re-acks when the
	// sender retries.
	due, abandoned, err := tracker.CollectRetries(time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, due)
	assert.Empty(t, abandoned)
	assert.Equal(t, 1, tracker.Pending())
}

func TestTrackerClear(t *testing.T) {
	tracker := newTestTracker(t, 3)
	require.NoError(t, tracker.TrackSend(&mqtt.Message{Topic: "a", QoS: mqtt.AtLeastOnce, ID: 1}))
	_, err := tracker.TrackReceive(&mqtt.Message{Topic: "b", QoS: mqtt.ExactlyOnce, ID: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, tracker.Pending(), "identifier spaces are per direction")

	require.NoError(t, tracker.Clear())
	assert.Zero(t, tracker.Pending())
}

func TestTrackerOutbound(t *testing.T) {
	tracker := newTestTracker(t, 3)
	require.NoError(t, tracker.TrackSend(&mqtt.Message{Topic: "a", QoS: mqtt.AtLeastOnce, ID: 1}))
	require.NoError(t, tracker.TrackSend(&mqtt.Message{Topic: "b", QoS: mqtt.ExactlyOnce, ID: 2}))
	_, err := tracker.TrackReceive(&mqtt.Message{Topic: "c", QoS: mqtt.ExactlyOnce, ID: 3})
	require.NoError(t, err)

	outbound, err := tracker.Outbound()
	require.NoError(t, err)
	assert.Len(t, outbound, 2)
	for _, entry := range outbound {
		assert.Equal(t, Outbound, entry.Direction)
	}
}
