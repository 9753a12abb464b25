package packets

import (
	"io"
)

// PingReq probes connection liveness.
type PingReq struct{}

// PingResp answers a PingReq.
type PingResp struct{}

func (p *PingReq) WriteTo(w io.Writer) (int64, error) {
	return frame(w, cmdPingReq, nil)
}

func (p *PingReq) decodeBody(_ uint8, body []byte) error {
	if len(body) != 0 {
		return ErrPacketLong
	}
	return nil
}

func (p *PingResp) WriteTo(w io.Writer) (int64, error) {
	return frame(w, cmdPingResp, nil)
}

func (p *PingResp) decodeBody(_ uint8, body []byte) error {
	if len(body) != 0 {
		return ErrPacketLong
	}
	return nil
}
