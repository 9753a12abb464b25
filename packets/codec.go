package packets

import (
	"encoding/binary"
	"io"
)

// frame writes the command byte, the uvarint body length and the body.
// Bodyless packets must not hit the writer a second time: a zero-byte
// write blocks on synchronous transports like net.Pipe, whose reader
// side never performs the matching zero-byte read.
func frame(w io.Writer, cmdByte uint8, body []byte) (int64, error) {
	var hdr [1 + binary.MaxVarintLen32]byte
	hdr[0] = cmdByte
	n := 1 + binary.PutUvarint(hdr[1:], uint64(len(body)))
	N, err := w.Write(hdr[:n])
	written := int64(N)
	if err != nil || len(body) == 0 {
		return written, err
	}
	N, err = w.Write(body)
	written += int64(N)
	if err == nil && N < len(body) {
		err = io.ErrShortWrite
	}
	return written, err
}

func readUvarint(r io.Reader) (int, error) {
	var b [1]byte
	var v uint64
	for i := 0; i < 28; i += 7 {
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return 0, err
		}
		v |= uint64(b[0]&0x7F) << i
		if b[0]&0x80 == 0 {
			return int(v), nil
		}
	}
	return 0, ErrPacketLong
}

func appendUint16(b []byte, v uint16) []byte {
	return append(b, byte(v>>8), byte(v))
}

// maxFieldLen is the largest value the uint16 length prefix can carry.
// Encoders reject longer fields up front; silent truncation would
// desynchronize the peer's decoder.
const maxFieldLen = int(^uint16(0))

func checkFieldLen(n int) error {
	if n > maxFieldLen {
		return ErrFieldTooLong
	}
	return nil
}

// appendString appends a length-prefixed string. The caller must have
// verified the length with checkFieldLen.
func appendString(b []byte, s string) []byte {
	b = appendUint16(b, uint16(len(s)))
	return append(b, s...)
}

func appendBytes(b, data []byte) []byte {
	b = appendUint16(b, uint16(len(data)))
	return append(b, data...)
}

// bodyReader decodes packet bodies with a sticky error, so packet
// decoders can read fields unconditionally and check once.
type bodyReader struct {
	buf []byte
	err error
}

func (r *bodyReader) u8() uint8 {
	if r.err != nil {
		return 0
	}
	if len(r.buf) < 1 {
		r.err = ErrPacketShort
		return 0
	}
	v := r.buf[0]
	r.buf = r.buf[1:]
	return v
}

func (r *bodyReader) u16() uint16 {
	if r.err != nil {
		return 0
	}
	if len(r.buf) < 2 {
		r.err = ErrPacketShort
		return 0
	}
	v := binary.BigEndian.Uint16(r.buf)
	r.buf = r.buf[2:]
	return v
}

func (r *bodyReader) str() string {
	return string(r.lenPrefixed())
}

func (r *bodyReader) bytes() []byte {
	b := r.lenPrefixed()
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func (r *bodyReader) lenPrefixed() []byte {
	l := int(r.u16())
	if r.err != nil {
		return nil
	}
	if len(r.buf) < l {
		r.err = ErrPacketShort
		return nil
	}
	v := r.buf[:l]
	r.buf = r.buf[l:]
	return v
}

// rest consumes and returns the remainder of the body.
func (r *bodyReader) rest() []byte {
	if r.err != nil {
		return nil
	}
	v := r.buf
	r.buf = nil
	if len(v) == 0 {
		return nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out
}

func (r *bodyReader) remaining() int {
	return len(r.buf)
}
