package packets

import (
	"io"

	"github.com/mqwire/mqwire/mqtt"
)

// Publish carries an application message. QoS and the duplicate/retain
// flags travel in the command byte's low nibble.
type Publish struct {
	Duplicate bool
	Retain    bool
	QoS       mqtt.QoS

	Topic            string
	PacketIdentifier uint16

	Payload []byte
}

// PubAck acknowledges a QoS 1 publish.
type PubAck struct {
	PacketIdentifier uint16
}

// PubRec acknowledges receipt of a QoS 2 publish (first handshake
// step).
type PubRec struct {
	PacketIdentifier uint16
}

// PubRel releases a QoS 2 publish (second handshake step).
type PubRel struct {
	PacketIdentifier uint16
}

// PubComp completes a QoS 2 delivery (final handshake step).
type PubComp struct {
	PacketIdentifier uint16
}

// Message converts the packet into an application message.
func (p *Publish) Message() *mqtt.Message {
	return &mqtt.Message{
		Topic:     p.Topic,
		Payload:   p.Payload,
		QoS:       p.QoS,
		Retain:    p.Retain,
		Duplicate: p.Duplicate,
		ID:        p.PacketIdentifier,
	}
}

func (p *Publish) WriteTo(w io.Writer) (int64, error) {
	if !p.QoS.Valid() {
		return 0, mqtt.ErrIllegalQoS
	}
	if err := checkFieldLen(len(p.Topic)); err != nil {
		return 0, err
	}
	cmdByte := cmdPublish | uint8(p.QoS)<<1
	if p.Duplicate {
		cmdByte |= PublishFlagDuplicate
	}
	if p.Retain {
		cmdByte |= PublishFlagRetain
	}
	body := appendString(nil, p.Topic)
	if p.QoS > mqtt.AtMostOnce {
		body = appendUint16(body, p.PacketIdentifier)
	}
	body = append(body, p.Payload...)
	return frame(w, cmdByte, body)
}

func (p *Publish) decodeBody(flags uint8, body []byte) error {
	p.Duplicate = flags&PublishFlagDuplicate > 0
	p.Retain = flags&PublishFlagRetain > 0
	p.QoS = mqtt.QoS((flags >> 1) & 0x03)
	if !p.QoS.Valid() {
		return mqtt.ErrIllegalQoS
	}
	r := &bodyReader{buf: body}
	p.Topic = r.str()
	if p.QoS > mqtt.AtMostOnce {
		p.PacketIdentifier = r.u16()
	}
	p.Payload = r.rest()
	return r.err
}

func writeAck(w io.Writer, cmdByte uint8, id uint16) (int64, error) {
	return frame(w, cmdByte, appendUint16(nil, id))
}

func readAck(body []byte) (uint16, error) {
	r := &bodyReader{buf: body}
	id := r.u16()
	if r.err == nil && r.remaining() > 0 {
		r.err = ErrPacketLong
	}
	return id, r.err
}

func (p *PubAck) WriteTo(w io.Writer) (int64, error) {
	return writeAck(w, cmdPubAck, p.PacketIdentifier)
}

func (p *PubAck) decodeBody(_ uint8, body []byte) (err error) {
	p.PacketIdentifier, err = readAck(body)
	return err
}

func (p *PubRec) WriteTo(w io.Writer) (int64, error) {
	return writeAck(w, cmdPubRec, p.PacketIdentifier)
}

func (p *PubRec) decodeBody(_ uint8, body []byte) (err error) {
	p.PacketIdentifier, err = readAck(body)
	return err
}

func (p *PubRel) WriteTo(w io.Writer) (int64, error) {
	return writeAck(w, cmdPubRel, p.PacketIdentifier)
}

func (p *PubRel) decodeBody(_ uint8, body []byte) (err error) {
	p.PacketIdentifier, err = readAck(body)
	return err
}

func (p *PubComp) WriteTo(w io.Writer) (int64, error) {
	return writeAck(w, cmdPubComp, p.PacketIdentifier)
}

func (p *PubComp) decodeBody(_ uint8, body []byte) (err error) {
	p.PacketIdentifier, err = readAck(body)
	return err
}
