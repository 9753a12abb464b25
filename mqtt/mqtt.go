package mqtt

const (
	// QoS levels in increasing order of delivery guarantee.
	AtMostOnce  QoS = 0
	AtLeastOnce QoS = 1
	ExactlyOnce QoS = 2

	// Version definitions
	ProtocolV1 Version = 0x01
)

// Version identifies the wire protocol revision negotiated on connect.
type Version uint8

// QoS is the quality of service level attached to a message or
// subscription.
type QoS uint8

// Valid returns true if the QoS is one of the three defined levels.
func (q QoS) Valid() bool {
	return q <= ExactlyOnce
}

// Min returns the lower of the two QoS levels. The effective delivery
// guarantee for a message is the minimum of the publisher's and the
// subscriber's QoS.
func (q QoS) Min(o QoS) QoS {
	if o < q {
		return o
	}
	return q
}

func (q QoS) String() string {
	switch q {
	case AtMostOnce:
		return "at-most-once"
	case AtLeastOnce:
		return "at-least-once"
	case ExactlyOnce:
		return "exactly-once"
	}
	return "invalid"
}

// Topic couples a topic filter with the QoS requested for it in a
// subscribe request.
type Topic struct {
	// Name is the topic filter, which may contain the wildcard
	// tokens "+" and "#".
	Name string
	// QoS is the maximum QoS requested for the subscription.
	QoS QoS
}

// Handler consumes messages delivered to a subscription. An error
// returned by the handler is reported to the client's error observer
// and never affects acknowledgment of the message.
type Handler interface {
	HandleMessage(msg *Message) error
}

// HandlerFunc adapts a plain function to the Handler interface.
type HandlerFunc func(msg *Message) error

func (f HandlerFunc) HandleMessage(msg *Message) error {
	return f(msg)
}
