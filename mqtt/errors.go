package mqtt

import (
	"errors"
	"fmt"
)

// Error taxonomy. Callers classify failures with errors.Is against
// these sentinels; richer failures wrap them.
var (
	// ErrTransport covers lower-layer I/O failures (dial, read,
	// write). Retryable when auto-reconnect is enabled.
	ErrTransport = errors.New("mqtt: transport failure")

	// ErrConnection covers handshake rejections. Fatal for the
	// connect attempt; never retried automatically.
	ErrConnection = errors.New("mqtt: connection rejected")

	// ErrTimeout is returned when an operation sees no response
	// within its deadline. The caller may retry.
	ErrTimeout = errors.New("mqtt: operation timed out")

	// ErrSubscription is returned when the broker rejects one or
	// more topic filters. Use errors.As with *SubscriptionError to
	// inspect per-topic results.
	ErrSubscription = errors.New("mqtt: subscription rejected")

	// ErrPublish covers malformed publish requests, e.g. a wildcard
	// in the topic name. Fatal, never retried.
	ErrPublish = errors.New("mqtt: invalid publish")

	// ErrConnectionClosed resolves any operation still pending when
	// the connection goes away.
	ErrConnectionClosed = errors.New("mqtt: connection closed")

	// ErrNotConnected is returned for operations that require an
	// established connection.
	ErrNotConnected = errors.New("mqtt: client not connected")

	// ErrIllegalQoS is returned for QoS values outside 0..2.
	ErrIllegalQoS = errors.New("mqtt: illegal QoS value")
)

// Handshake rejection reasons, all classified under ErrConnection.
var (
	ErrConnectBadVersion   = fmt.Errorf("%w: unacceptable protocol version", ErrConnection)
	ErrConnectIDNotAllowed = fmt.Errorf("%w: client identifier not allowed", ErrConnection)
	ErrConnectUnavailable  = fmt.Errorf("%w: server unavailable", ErrConnection)
	ErrConnectCredentials  = fmt.Errorf("%w: bad username or password", ErrConnection)
	ErrConnectUnauthorized = fmt.Errorf("%w: client not authorized", ErrConnection)
)

// SubscriptionError carries the per-topic failure codes returned by
// the broker for a partially or wholly rejected subscribe request.
type SubscriptionError struct {
	// Failures maps topic filters to the broker's failure code.
	// Filters granted successfully are absent.
	Failures map[string]uint8
}

func (e *SubscriptionError) Error() string {
	return fmt.Sprintf("%v: %d topic(s) rejected", ErrSubscription, len(e.Failures))
}

func (e *SubscriptionError) Unwrap() error {
	return ErrSubscription
}

// DeliveryError reports a QoS > 0 message whose retry budget was
// exhausted before the delivery handshake completed. It is passed to
// the error observer and resolves any caller still waiting on the
// publish.
type DeliveryError struct {
	ID       uint16
	Topic    string
	QoS      QoS
	Attempts int
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("mqtt: delivery of message %d (%s, %s) abandoned after %d attempts",
		e.ID, e.Topic, e.QoS, e.Attempts)
}
