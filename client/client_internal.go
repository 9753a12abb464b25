package client

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/mqwire/mqwire/mqtt"
	"github.com/mqwire/mqwire/packets"
	"github.com/mqwire/mqwire/store"
)

// acquirePacketID reserves a packet identifier not currently bound to
// an in-flight delivery or a pending request.
func (c *Client) acquirePacketID() uint16 {
	for i := 0; i < int(^uint16(0)); i++ {
		newVal := atomic.AddUint32(&c.packetIDCounter, 1)
		ret := uint16(newVal)
		if ret == 0 {
			continue
		}
		if c.tracker.InUse(ret) {
			continue
		} else if _, ok := c.ackChan.Get(ret); ok {
			continue
		} else if c.waiters.Has(ret) {
			continue
		}
		return ret
	}
	panic("ran out of packet ids")
}

// send writes a packet on the current transport.
func (c *Client) send(pkt packets.Packet) error {
	io := c.currentIO()
	if io == nil {
		return mqtt.ErrNotConnected
	}
	if err := io.Send(pkt); err != nil {
		return transportError(err)
	}
	return nil
}

// recvRoutine is the inbound dispatch loop: it reads frames from the
// transport, drives the receiver side of the QoS handshakes and hands
// messages to the dispatcher. It never blocks on handler completion.
func (c *Client) recvRoutine() {
	defer c.wg.Done()
	for {
		io := c.currentIO()
		if io == nil {
			return
		}
		packet, err := io.Recv()
		if err != nil {
			switch c.State() {
			case StateDisconnecting, StateDisconnected:
				return
			}
			if !c.recover(err) {
				return
			}
			continue
		}
		switch p := packet.(type) {
		case *packets.ConnAck:
			select {
			case c.connAck <- p:
			default:
				log.Error("packet discarded: unsolicited CONNACK")
			}

		case *packets.PingResp:
			select {
			case c.pingResp <- p:
			default:
			}

		case *packets.SubAck:
			c.deliverAck(p.PacketIdentifier, p)

		case *packets.UnsubAck:
			c.deliverAck(p.PacketIdentifier, p)

		case *packets.Publish:
			c.handleInboundPublish(p)

		case *packets.PubAck:
			// QoS 1 delivery complete.
			if ok, err := c.tracker.Acknowledge(p.PacketIdentifier); err != nil {
				c.observe(err)
			} else if ok {
				c.waiters.Resolve(p.PacketIdentifier, nil)
			}

		case *packets.PubRec:
			// QoS 2 receipt confirmed; move to the release
			// step.
			ok, err := c.tracker.ReceiptConfirmed(p.PacketIdentifier)
			if err != nil {
				c.observe(err)
				continue
			}
			if !ok {
				log.Warnf("receipt for unknown packet id %d", p.PacketIdentifier)
			}
			if err := c.send(&packets.PubRel{
				PacketIdentifier: p.PacketIdentifier,
			}); err != nil {
				c.observe(err)
			}

		case *packets.PubComp:
			// QoS 2 delivery complete.
			if ok, err := c.tracker.Complete(p.PacketIdentifier); err != nil {
				c.observe(err)
			} else if ok {
				c.waiters.Resolve(p.PacketIdentifier, nil)
			}

		case *packets.PubRel:
			// Receiver side: forget the identifier and
			// complete the handshake. Completion is resent
			// even for unknown identifiers, since our
			// previous completion may have been lost.
			if _, err := c.tracker.Release(p.PacketIdentifier); err != nil {
				c.observe(err)
			}
			if err := c.send(&packets.PubComp{
				PacketIdentifier: p.PacketIdentifier,
			}); err != nil {
				c.observe(err)
			}

		default:
			log.Errorf("%s: %T", ErrIllegalResponse, packet)
			c.observe(fmt.Errorf("%w: %T", ErrIllegalResponse, packet))
		}
	}
}

func (c *Client) deliverAck(packetID uint16, packet packets.Packet) {
	if ch, ok := c.ackChan.Get(packetID); ok {
		// Non-blocking send on channel
		//  - May receive multiple copies.
		select {
		case ch <- packet:
		default:
		}
	} else {
		log.Errorf("packet lost: %T; packet id: %d", packet, packetID)
	}
}

// handleInboundPublish performs the receiver side of the QoS
// handshake, then routes the message to matching subscriptions.
func (c *Client) handleInboundPublish(p *packets.Publish) {
	msg := p.Message()
	switch p.QoS {
	case mqtt.AtMostOnce:
		c.dispatchMessage(msg)

	case mqtt.AtLeastOnce:
		// Deliver, then acknowledge. A retransmission reaches
		// the handler again; at-least-once permits duplicates.
		c.dispatchMessage(msg)
		if err := c.send(&packets.PubAck{
			PacketIdentifier: p.PacketIdentifier,
		}); err != nil {
			c.observe(err)
		}

	case mqtt.ExactlyOnce:
		// Deliver on first receipt only; always confirm, so a
		// sender that lost our confirmation gets it again
		// without a second handler invocation.
		first, err := c.tracker.TrackReceive(msg)
		if err != nil {
			// Without the dedup record an acknowledgment
			// would break exactly-once; let the sender
			// retry instead.
			c.observe(err)
			return
		}
		if first {
			c.dispatchMessage(msg)
		}
		if err := c.send(&packets.PubRec{
			PacketIdentifier: p.PacketIdentifier,
		}); err != nil {
			c.observe(err)
		}
	}
}

// dispatchMessage fans the message out to every matching
// subscription, each at its effective QoS.
func (c *Client) dispatchMessage(msg *mqtt.Message) {
	matches := c.sess.Matches(msg.Topic, msg.QoS)
	if len(matches) == 0 {
		log.Debugf("no subscription matches topic %s", msg.Topic)
		return
	}
	for _, match := range matches {
		delivery := *msg
		delivery.QoS = match.QoS
		c.dispatch.Enqueue(match.Subscription, &delivery)
	}
}

// retryLoop periodically retransmits unacknowledged deliveries and
// reports the ones whose budget ran out.
func (c *Client) retryLoop(done chan struct{}) {
	defer c.wg.Done()
	ticker := time.NewTicker(c.retryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case now := <-ticker.C:
			if c.State() != StateConnected {
				continue
			}
			due, abandoned, err := c.tracker.CollectRetries(now)
			if err != nil {
				c.observe(err)
				continue
			}
			for _, entry := range due {
				c.resend(entry)
			}
			for _, entry := range abandoned {
				failure := &mqtt.DeliveryError{
					ID:       entry.ID,
					Topic:    entry.Topic,
					QoS:      entry.QoS,
					Attempts: entry.RetryCount + 1,
				}
				c.waiters.Resolve(entry.ID, failure)
				c.observe(failure)
			}
		}
	}
}

// resend retransmits the frame appropriate for the delivery's
// handshake step, with the duplicate flag set.
func (c *Client) resend(entry *store.PendingDelivery) {
	var pkt packets.Packet
	switch entry.State {
	case store.StateSent:
		pkt = &packets.Publish{
			Duplicate:        true,
			Retain:           entry.Retain,
			QoS:              entry.QoS,
			Topic:            entry.Topic,
			PacketIdentifier: entry.ID,
			Payload:          entry.Payload,
		}
	case store.StateReceived:
		pkt = &packets.PubRel{PacketIdentifier: entry.ID}
	default:
		return
	}
	log.Debugf("retransmitting packet id %d (attempt %d)",
		entry.ID, entry.RetryCount+1)
	if err := c.send(pkt); err != nil {
		log.Debugf("retransmission of %d failed: %s", entry.ID, err)
	}
}

// retransmitPending resumes outbound handshakes found in the store,
// e.g. after a reconnect or a restart with a durable backend.
func (c *Client) retransmitPending() {
	entries, err := c.tracker.Outbound()
	if err != nil {
		c.observe(err)
		return
	}
	for _, entry := range entries {
		c.resend(entry)
	}
}

// keepAliveLoop pings the broker at the keep-alive interval. The
// response is consumed by the dispatch loop; a dead connection
// surfaces there as a read failure.
func (c *Client) keepAliveLoop(done chan struct{}, interval time.Duration) {
	defer c.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if c.State() != StateConnected {
				continue
			}
			if err := c.send(&packets.PingReq{}); err != nil {
				log.Debugf("keep-alive ping failed: %s", err)
			}
		}
	}
}

// recover attempts to re-establish the session after a transport
// failure. Returns true if the dispatch loop should resume reading.
func (c *Client) recover(cause error) bool {
	if !c.autoReconnect || c.dialer == nil {
		c.observe(transportError(cause))
		c.waiters.FailAll(mqtt.ErrConnectionClosed)
		if io := c.currentIO(); io != nil {
			io.Close()
		}
		c.setIO(nil)
		c.closeDone()
		// Stop delivery workers; a later Disconnect short-circuits
		// on the disconnected state and never reaches them.
		c.dispatch.Close()
		c.setState(StateDisconnected)
		return false
	}

	c.setState(StateReconnecting)
	c.observe(transportError(cause))
	if io := c.currentIO(); io != nil {
		io.Close()
	}
	c.setIO(nil)

	delay := c.retryInterval
	for attempt := 1; attempt <= c.maxRetryCount; attempt++ {
		select {
		case <-c.done:
			return false
		case <-time.After(delay):
		}
		if delay *= 2; delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}

		conn, err := c.dialer()
		if err != nil {
			log.Warnf("reconnect attempt %d/%d: %s",
				attempt, c.maxRetryCount, err)
			continue
		}
		io := packets.NewPacketIO(conn, 0)
		if err := c.handshake(context.Background(), io); err != nil {
			log.Warnf("reconnect attempt %d/%d: %s",
				attempt, c.maxRetryCount, err)
			io.Close()
			continue
		}
		c.setIO(io)
		c.setState(StateConnected)
		log.Infof("reconnected to broker after %d attempt(s)", attempt)
		c.resubscribe()
		c.retransmitPending()
		return true
	}

	// Reconnect budget exhausted: resolve everything and give up.
	c.observe(fmt.Errorf("%w: reconnect budget exhausted", mqtt.ErrConnectionClosed))
	c.waiters.FailAll(mqtt.ErrConnectionClosed)
	c.closeDone()
	c.dispatch.Close()
	c.setState(StateDisconnected)
	return false
}

// resubscribe re-issues the session's subscriptions after a
// reconnect. Acknowledgments are awaited out of band; granted QoS
// levels are refreshed as they arrive.
func (c *Client) resubscribe() {
	subs := c.sess.Subscriptions()
	if len(subs) == 0 {
		return
	}
	topicList := make([]mqtt.Topic, len(subs))
	for i, sub := range subs {
		topicList[i] = mqtt.Topic{Name: sub.Filter, QoS: sub.RequestedQoS}
	}
	packetID := c.acquirePacketID()
	ackChan, ok := c.ackChan.New(packetID)
	if !ok {
		c.observe(fmt.Errorf("client: packet id %d already in use", packetID))
		return
	}
	if err := c.send(&packets.Subscribe{
		PacketIdentifier: packetID,
		Topics:           topicList,
	}); err != nil {
		c.ackChan.Del(packetID)
		c.observe(err)
		return
	}
	go func() {
		defer c.ackChan.Del(packetID)
		select {
		case ack := <-ackChan:
			subAck, ok := ack.(*packets.SubAck)
			if !ok || len(subAck.ReturnCodes) != len(topicList) {
				c.observe(ErrIllegalResponse)
				return
			}
			for i, code := range subAck.ReturnCodes {
				if code == packets.SubAckFailure {
					c.observe(fmt.Errorf(
						"%w: %q lost on reconnect",
						mqtt.ErrSubscription,
						topicList[i].Name,
					))
					if sub, ok := c.sess.Unsubscribe(topicList[i].Name); ok {
						c.dispatch.Remove(sub)
					}
					continue
				}
				c.sess.SetGranted(topicList[i].Name, mqtt.QoS(code))
			}
		case <-c.done:
		case <-time.After(c.connectTimeout):
			c.observe(fmt.Errorf("%w: awaiting re-subscribe ack", mqtt.ErrTimeout))
		}
	}()
}
