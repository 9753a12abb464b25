package packets

import (
	"io"

	"github.com/mqwire/mqwire/mqtt"
)

// SubAck return codes 0..2 grant the corresponding QoS; SubAckFailure
// rejects the topic filter.
const (
	SubAckFailure uint8 = 0x80
)

// Subscribe requests one or more subscriptions.
type Subscribe struct {
	PacketIdentifier uint16

	Topics []mqtt.Topic
}

// SubAck carries one return code per requested topic filter, in
// request order.
type SubAck struct {
	PacketIdentifier uint16

	ReturnCodes []uint8
}

// Unsubscribe removes subscriptions by topic filter.
type Unsubscribe struct {
	PacketIdentifier uint16

	Topics []string
}

// UnsubAck acknowledges an Unsubscribe.
type UnsubAck struct {
	PacketIdentifier uint16
}

func (s *Subscribe) WriteTo(w io.Writer) (int64, error) {
	body := appendUint16(nil, s.PacketIdentifier)
	for _, topic := range s.Topics {
		if !topic.QoS.Valid() {
			return 0, mqtt.ErrIllegalQoS
		}
		if err := checkFieldLen(len(topic.Name)); err != nil {
			return 0, err
		}
		body = appendString(body, topic.Name)
		body = append(body, uint8(topic.QoS))
	}
	return frame(w, cmdSubscribe, body)
}

func (s *Subscribe) decodeBody(_ uint8, body []byte) error {
	r := &bodyReader{buf: body}
	s.PacketIdentifier = r.u16()
	for r.err == nil && r.remaining() > 0 {
		name := r.str()
		qos := mqtt.QoS(r.u8())
		if r.err != nil {
			break
		}
		if !qos.Valid() {
			return mqtt.ErrIllegalQoS
		}
		s.Topics = append(s.Topics, mqtt.Topic{Name: name, QoS: qos})
	}
	return r.err
}

func (s *SubAck) WriteTo(w io.Writer) (int64, error) {
	body := appendUint16(nil, s.PacketIdentifier)
	body = append(body, s.ReturnCodes...)
	return frame(w, cmdSubAck, body)
}

func (s *SubAck) decodeBody(_ uint8, body []byte) error {
	r := &bodyReader{buf: body}
	s.PacketIdentifier = r.u16()
	s.ReturnCodes = r.rest()
	return r.err
}

func (u *Unsubscribe) WriteTo(w io.Writer) (int64, error) {
	body := appendUint16(nil, u.PacketIdentifier)
	for _, topic := range u.Topics {
		if err := checkFieldLen(len(topic)); err != nil {
			return 0, err
		}
		body = appendString(body, topic)
	}
	return frame(w, cmdUnsubscribe, body)
}

func (u *Unsubscribe) decodeBody(_ uint8, body []byte) error {
	r := &bodyReader{buf: body}
	u.PacketIdentifier = r.u16()
	for r.err == nil && r.remaining() > 0 {
		u.Topics = append(u.Topics, r.str())
	}
	return r.err
}

func (u *UnsubAck) WriteTo(w io.Writer) (int64, error) {
	return writeAck(w, cmdUnsubAck, u.PacketIdentifier)
}

func (u *UnsubAck) decodeBody(_ uint8, body []byte) (err error) {
	u.PacketIdentifier, err = readAck(body)
	return err
}
