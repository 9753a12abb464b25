// Package packets implements the framing used between client and
// broker: a command byte, a uvarint body length and a packet-specific
// body. The layout is deliberately compact; delivery semantics live in
// the client engine, not in the codec.
package packets

import (
	"errors"
	"fmt"
	"io"
	"net"
	"time"
)

// Command bytes. Publish carries its flags in the low nibble.
const (
	cmdConnect     uint8 = 0x10
	cmdConnAck     uint8 = 0x20
	cmdPublish     uint8 = 0x30
	cmdPubAck      uint8 = 0x40
	cmdPubRec      uint8 = 0x50
	cmdPubRel      uint8 = 0x60
	cmdPubComp     uint8 = 0x70
	cmdSubscribe   uint8 = 0x80
	cmdSubAck      uint8 = 0x90
	cmdUnsubscribe uint8 = 0xA0
	cmdUnsubAck    uint8 = 0xB0
	cmdPingReq     uint8 = 0xC0
	cmdPingResp    uint8 = 0xD0
	cmdDisconnect  uint8 = 0xE0
)

// Publish flag bits (low nibble of the command byte).
const (
	PublishFlagRetain    uint8 = 0x01
	PublishFlagDuplicate uint8 = 0x08
)

// maxBodyLen bounds the size of a single frame body.
const maxBodyLen = 1 << 28

var (
	ErrPacketShort = errors.New("packets: malformed packet: body too short")
	ErrPacketLong  = errors.New("packets: malformed packet: body too long")

	// ErrFieldTooLong is returned at encode time for length-prefixed
	// fields exceeding 64KiB - 1 bytes.
	ErrFieldTooLong = errors.New("packets: length-prefixed field too long")
)

// Packet is a single frame travelling in either direction.
type Packet interface {
	// WriteTo frames and writes the packet to the given writer,
	// returning the number of bytes written.
	WriteTo(w io.Writer) (n int64, err error)
	// decodeBody parses the packet from its framed body.
	decodeBody(flags uint8, body []byte) error
}

// Send frames and writes a single packet to w.
func Send(w io.Writer, p Packet) error {
	_, err := p.WriteTo(w)
	return err
}

// Recv reads a single packet from the stream.
func Recv(r io.Reader) (Packet, error) {
	var buf [1]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return nil, err
	}
	cmdByte := buf[0]
	cmd := cmdByte & 0xF0
	flags := cmdByte & 0x0F

	length, err := readUvarint(r)
	if err != nil {
		return nil, err
	}
	if length > maxBodyLen {
		return nil, ErrPacketLong
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}

	var p Packet
	switch cmd {
	case cmdConnect:
		p = &Connect{}
	case cmdConnAck:
		p = &ConnAck{}
	case cmdPublish:
		p = &Publish{}
	case cmdPubAck:
		p = &PubAck{}
	case cmdPubRec:
		p = &PubRec{}
	case cmdPubRel:
		p = &PubRel{}
	case cmdPubComp:
		p = &PubComp{}
	case cmdSubscribe:
		p = &Subscribe{}
	case cmdSubAck:
		p = &SubAck{}
	case cmdUnsubscribe:
		p = &Unsubscribe{}
	case cmdUnsubAck:
		p = &UnsubAck{}
	case cmdPingReq:
		p = &PingReq{}
	case cmdPingResp:
		p = &PingResp{}
	case cmdDisconnect:
		p = &Disconnect{}
	default:
		return nil, fmt.Errorf("packets: invalid command byte: 0x%02X", cmdByte)
	}
	if err := p.decodeBody(flags, body); err != nil {
		return nil, err
	}
	return p, nil
}

// PacketIO provides serialized packet exchange over a connection with
// optional I/O deadlines.
type PacketIO struct {
	timeout   time.Duration
	conn      net.Conn
	sendMutex chan struct{}
	recvMutex chan struct{}
}

// NewPacketIO initializes a new PacketIO struct. A zero timeout means
// block indefinitely.
func NewPacketIO(conn net.Conn, timeout time.Duration) *PacketIO {
	return &PacketIO{
		timeout:   timeout,
		conn:      conn,
		sendMutex: make(chan struct{}, 1),
		recvMutex: make(chan struct{}, 1),
	}
}

// Send writes the packet to the connection, ensuring mutually
// exclusive access to the writer side.
func (p *PacketIO) Send(pkt Packet) (err error) {
	p.sendMutex <- struct{}{}
	defer func() { <-p.sendMutex }()
	if p.timeout > 0 {
		if err := p.conn.SetWriteDeadline(
			time.Now().Add(p.timeout),
		); err != nil {
			return err
		}
	}
	return Send(p.conn, pkt)
}

// Recv reads a single packet from the connection. Protected by a
// mutex, but intended to be driven by a single goroutine.
func (p *PacketIO) Recv() (Packet, error) {
	p.recvMutex <- struct{}{}
	defer func() { <-p.recvMutex }()
	return Recv(p.conn)
}

// SetRecvDeadline sets an absolute deadline for the next Recv,
// overriding the configured timeout. A zero time clears it.
func (p *PacketIO) SetRecvDeadline(t time.Time) error {
	return p.conn.SetReadDeadline(t)
}

// Close closes the underlying connection.
func (p *PacketIO) Close() error {
	return p.conn.Close()
}
