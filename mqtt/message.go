package mqtt

// Message is a single application message travelling in either
// direction. ID is only meaningful for QoS > AtMostOnce, where it is
// unique among in-flight messages on the connection and reused only
// after the delivery completes or is abandoned.
type Message struct {
	// Topic is the topic the message was published to. Never
	// contains wildcard tokens.
	Topic string
	// Payload is the opaque application payload.
	Payload []byte
	// QoS is the delivery guarantee the message travels under.
	QoS QoS
	// Retain marks the message for broker-side retention.
	Retain bool
	// Duplicate is set on retransmissions of QoS > 0 messages.
	Duplicate bool
	// ID is the packet identifier, present iff QoS > AtMostOnce.
	ID uint16
}
