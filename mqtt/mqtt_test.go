package mqtt

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQoS(t *testing.T) {
	assert.True(t, AtMostOnce.Valid())
	assert.True(t, AtLeastOnce.Valid())
	assert.True(t, ExactlyOnce.Valid())
	assert.False(t, QoS(3).Valid())

	assert.Equal(t, AtLeastOnce, ExactlyOnce.Min(AtLeastOnce))
	assert.Equal(t, AtLeastOnce, AtLeastOnce.Min(ExactlyOnce))
	assert.Equal(t, AtMostOnce, AtMostOnce.Min(AtMostOnce))

	assert.Equal(t, "at-most-once", AtMostOnce.String())
	assert.Equal(t, "exactly-once", ExactlyOnce.String())
	assert.Equal(t, "invalid", QoS(7).String())
}

func TestErrorClassification(t *testing.T) {
	assert.ErrorIs(t, ErrConnectBadVersion, ErrConnection)
	assert.ErrorIs(t, ErrConnectUnauthorized, ErrConnection)

	subErr := &SubscriptionError{Failures: map[string]uint8{"a/#": 0x80}}
	assert.ErrorIs(t, subErr, ErrSubscription)

	var target *SubscriptionError
	assert.True(t, errors.As(error(subErr), &target))
	assert.Len(t, target.Failures, 1)
}

func TestDeliveryErrorMessage(t *testing.T) {
	err := &DeliveryError{ID: 42, Topic: "a/b", QoS: AtLeastOnce, Attempts: 3}
	assert.Contains(t, err.Error(), "42")
	assert.Contains(t, err.Error(), "a/b")
	assert.Contains(t, err.Error(), "3 attempts")
}
