package packets

import (
	"fmt"
	"io"

	"github.com/mqwire/mqwire/mqtt"
)

// Connect flag bits.
const (
	ConnectFlagCleanSession uint8 = 0x02
	ConnectFlagWill         uint8 = 0x04
	ConnectFlagWillRetain   uint8 = 0x20
	ConnectFlagPassword     uint8 = 0x40
	ConnectFlagUsername     uint8 = 0x80
)

// ConnAck flag bits.
const (
	ConnAckFlagSessionPresent uint8 = 0x01
)

// ConnAck return codes.
const (
	ConnAckAccepted       uint8 = 0
	ConnAckBadVersion     uint8 = 1
	ConnAckIDNotAllowed   uint8 = 2
	ConnAckServerUnavail  uint8 = 3
	ConnAckBadCredentials uint8 = 4
	ConnAckUnauthorized   uint8 = 5
)

// Connect initiates the session handshake.
type Connect struct {
	Version      mqtt.Version
	CleanSession bool
	KeepAlive    uint16

	ClientID string

	WillTopic   string
	WillMessage []byte
	WillQoS     mqtt.QoS
	WillRetain  bool

	Username string
	Password string
}

// ConnAck is the broker's reply to Connect.
type ConnAck struct {
	SessionPresent bool
	ReturnCode     uint8
}

// Disconnect announces a graceful teardown. It has no body.
type Disconnect struct{}

func (c *Connect) WriteTo(w io.Writer) (int64, error) {
	var flags uint8
	if !c.WillQoS.Valid() {
		return 0, mqtt.ErrIllegalQoS
	}
	for _, l := range []int{
		len(c.ClientID), len(c.WillTopic), len(c.WillMessage),
		len(c.Username), len(c.Password),
	} {
		if err := checkFieldLen(l); err != nil {
			return 0, err
		}
	}
	if c.CleanSession {
		flags |= ConnectFlagCleanSession
	}
	if c.WillTopic != "" {
		flags |= ConnectFlagWill | uint8(c.WillQoS)<<3
		if c.WillRetain {
			flags |= ConnectFlagWillRetain
		}
	}
	if c.Username != "" {
		flags |= ConnectFlagUsername
		if c.Password != "" {
			flags |= ConnectFlagPassword
		}
	}

	body := []byte{uint8(c.Version), flags}
	body = appendUint16(body, c.KeepAlive)
	body = appendString(body, c.ClientID)
	if c.WillTopic != "" {
		body = appendString(body, c.WillTopic)
		body = appendBytes(body, c.WillMessage)
	}
	if c.Username != "" {
		body = appendString(body, c.Username)
		if c.Password != "" {
			body = appendString(body, c.Password)
		}
	}
	return frame(w, cmdConnect, body)
}

func (c *Connect) decodeBody(_ uint8, body []byte) error {
	r := &bodyReader{buf: body}
	c.Version = mqtt.Version(r.u8())
	flags := r.u8()
	c.KeepAlive = r.u16()
	c.ClientID = r.str()
	c.CleanSession = flags&ConnectFlagCleanSession > 0
	if flags&ConnectFlagWill > 0 {
		c.WillTopic = r.str()
		c.WillMessage = r.bytes()
		c.WillQoS = mqtt.QoS((flags >> 3) & 0x03)
		c.WillRetain = flags&ConnectFlagWillRetain > 0
	}
	if flags&ConnectFlagUsername > 0 {
		c.Username = r.str()
		if flags&ConnectFlagPassword > 0 {
			c.Password = r.str()
		}
	}
	return r.err
}

func (c *ConnAck) WriteTo(w io.Writer) (int64, error) {
	var flags uint8
	if c.SessionPresent {
		flags |= ConnAckFlagSessionPresent
	}
	return frame(w, cmdConnAck, []byte{flags, c.ReturnCode})
}

func (c *ConnAck) decodeBody(_ uint8, body []byte) error {
	r := &bodyReader{buf: body}
	flags := r.u8()
	c.ReturnCode = r.u8()
	if r.err != nil {
		return r.err
	}
	if flags > ConnAckFlagSessionPresent {
		return fmt.Errorf("packets: connack: illegal flags: 0x%02X", flags)
	}
	c.SessionPresent = flags&ConnAckFlagSessionPresent > 0
	return nil
}

func (d *Disconnect) WriteTo(w io.Writer) (int64, error) {
	return frame(w, cmdDisconnect, nil)
}

func (d *Disconnect) decodeBody(_ uint8, body []byte) error {
	if len(body) != 0 {
		return ErrPacketLong
	}
	return nil
}
