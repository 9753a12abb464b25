package client

import (
	"github.com/mqwire/mqwire/packets"
)

// packetChanMap hands SubAck/UnsubAck packets from the dispatch loop
// to the goroutine waiting on the corresponding request.
type packetChanMap struct {
	chans map[uint16]chan packets.Packet
	mutex chan struct{}
}

func newPacketChanMap() *packetChanMap {
	return &packetChanMap{
		chans: make(map[uint16]chan packets.Packet),
		mutex: make(chan struct{}, 1),
	}
}

func (p *packetChanMap) New(packetID uint16) (chan packets.Packet, bool) {
	p.mutex <- struct{}{}
	defer func() { <-p.mutex }()
	if _, ok := p.chans[packetID]; ok {
		return nil, false
	}
	c := make(chan packets.Packet, 1)
	p.chans[packetID] = c
	return c, true
}

func (p *packetChanMap) Get(packetID uint16) (chan packets.Packet, bool) {
	p.mutex <- struct{}{}
	defer func() { <-p.mutex }()
	c, ok := p.chans[packetID]
	return c, ok
}

func (p *packetChanMap) Del(packetID uint16) {
	p.mutex <- struct{}{}
	delete(p.chans, packetID)
	<-p.mutex
}

// waiterMap resolves publish calls blocked on the completion of their
// delivery handshake. A waiter abandoned by its caller (timeout) is
// removed; later resolution becomes a no-op.
type waiterMap struct {
	waiters map[uint16]chan error
	mutex   chan struct{}
}

func newWaiterMap() *waiterMap {
	return &waiterMap{
		waiters: make(map[uint16]chan error),
		mutex:   make(chan struct{}, 1),
	}
}

func (w *waiterMap) New(packetID uint16) chan error {
	w.mutex <- struct{}{}
	defer func() { <-w.mutex }()
	c := make(chan error, 1)
	w.waiters[packetID] = c
	return c
}

func (w *waiterMap) Has(packetID uint16) bool {
	w.mutex <- struct{}{}
	defer func() { <-w.mutex }()
	_, ok := w.waiters[packetID]
	return ok
}

// Resolve completes the waiter for the packet ID, if still present.
func (w *waiterMap) Resolve(packetID uint16, err error) {
	w.mutex <- struct{}{}
	defer func() { <-w.mutex }()
	if c, ok := w.waiters[packetID]; ok {
		delete(w.waiters, packetID)
		c <- err
	}
}

func (w *waiterMap) Del(packetID uint16) {
	w.mutex <- struct{}{}
	delete(w.waiters, packetID)
	<-w.mutex
}

// FailAll resolves every outstanding waiter with the given error.
func (w *waiterMap) FailAll(err error) {
	w.mutex <- struct{}{}
	defer func() { <-w.mutex }()
	for id, c := range w.waiters {
		delete(w.waiters, id)
		c <- err
	}
}
