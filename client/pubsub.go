package client

import (
	"context"
	"fmt"

	"github.com/mqwire/mqwire/mqtt"
	"github.com/mqwire/mqwire/packets"
	"github.com/mqwire/mqwire/topics"
)

// Publish sends payload to the given topic at the given QoS level. For
// QoS 0 the call returns as soon as the message is written; for higher
// levels it blocks until the delivery handshake completes, the retry
// budget runs out, or ctx expires. On ctx expiry the delivery stays
// in flight: the retry loop keeps working it and the error observer
// reports the final outcome.
func (c *Client) Publish(
	ctx context.Context,
	topic string,
	payload []byte,
	qos mqtt.QoS,
	retain bool,
) error {
	if !qos.Valid() {
		return fmt.Errorf("%w: %d", mqtt.ErrIllegalQoS, qos)
	}
	if err := topics.ValidateName(topic); err != nil {
		return fmt.Errorf("%w: %v", mqtt.ErrPublish, err)
	}
	if !c.IsConnected() {
		return mqtt.ErrNotConnected
	}

	publish := &packets.Publish{
		QoS:     qos,
		Topic:   topic,
		Payload: payload,
		Retain:  retain,
	}
	if qos == mqtt.AtMostOnce {
		// Fire and forget. No identifier, no delivery state.
		return c.send(publish)
	}

	packetID := c.acquirePacketID()
	publish.PacketIdentifier = packetID
	waiter := c.waiters.New(packetID)
	if err := c.tracker.TrackSend(publish.Message()); err != nil {
		c.waiters.Del(packetID)
		return err
	}
	if err := c.send(publish); err != nil {
		// The entry stays tracked; the retry loop picks it up if
		// the connection recovers.
		c.waiters.Del(packetID)
		return err
	}

	select {
	case err := <-waiter:
		return err
	case <-ctx.Done():
		c.waiters.Del(packetID)
		return fmt.Errorf("%w: %v", mqtt.ErrTimeout, ctx.Err())
	case <-c.done:
		c.waiters.Del(packetID)
		return mqtt.ErrConnectionClosed
	}
}

// Subscribe requests the given topic filters from the broker and binds
// handler to matching inbound messages. It blocks until the broker
// acknowledges, returning the granted QoS per filter in request order.
// Filters the broker rejects are not retained in the session; the
// returned error wraps a *mqtt.SubscriptionError listing them.
func (c *Client) Subscribe(
	ctx context.Context,
	topicList []mqtt.Topic,
	handler mqtt.Handler,
) ([]mqtt.QoS, error) {
	if len(topicList) == 0 {
		return nil, fmt.Errorf("%w: no topic filters", mqtt.ErrSubscription)
	}
	for _, topic := range topicList {
		if !topic.QoS.Valid() {
			return nil, fmt.Errorf("%w: %d", mqtt.ErrIllegalQoS, topic.QoS)
		}
		if err := topics.ValidateFilter(topic.Name); err != nil {
			return nil, fmt.Errorf("%w: %v", mqtt.ErrSubscription, err)
		}
	}
	if !c.IsConnected() {
		return nil, mqtt.ErrNotConnected
	}

	// Register before sending so a message racing the SubAck still
	// finds its subscription.
	for _, topic := range topicList {
		c.sess.Subscribe(topic.Name, topic.QoS, handler)
	}
	rollback := func() {
		for _, topic := range topicList {
			if sub, ok := c.sess.Unsubscribe(topic.Name); ok {
				c.dispatch.Remove(sub)
			}
		}
	}

	packetID := c.acquirePacketID()
	ackChan, ok := c.ackChan.New(packetID)
	if !ok {
		rollback()
		return nil, fmt.Errorf("client: packet id %d already in use", packetID)
	}
	defer c.ackChan.Del(packetID)

	if err := c.send(&packets.Subscribe{
		PacketIdentifier: packetID,
		Topics:           topicList,
	}); err != nil {
		rollback()
		return nil, err
	}

	var ack packets.Packet
	select {
	case ack = <-ackChan:
	case <-ctx.Done():
		rollback()
		return nil, fmt.Errorf("%w: %v", mqtt.ErrTimeout, ctx.Err())
	case <-c.done:
		rollback()
		return nil, mqtt.ErrConnectionClosed
	}
	subAck, ok := ack.(*packets.SubAck)
	if !ok {
		rollback()
		return nil, ErrIllegalResponse
	}
	if len(subAck.ReturnCodes) != len(topicList) {
		rollback()
		return nil, fmt.Errorf("%w: %d return codes for %d filters",
			ErrIllegalResponse, len(subAck.ReturnCodes), len(topicList))
	}

	granted := make([]mqtt.QoS, len(topicList))
	failures := make(map[string]uint8)
	for i, code := range subAck.ReturnCodes {
		if code == packets.SubAckFailure {
			failures[topicList[i].Name] = code
			if sub, ok := c.sess.Unsubscribe(topicList[i].Name); ok {
				c.dispatch.Remove(sub)
			}
			continue
		}
		granted[i] = mqtt.QoS(code)
		c.sess.SetGranted(topicList[i].Name, granted[i])
	}
	if len(failures) > 0 {
		return granted, &mqtt.SubscriptionError{Failures: failures}
	}
	return granted, nil
}

// Unsubscribe removes the given topic filters. Local delivery stops
// immediately; the call then blocks until the broker acknowledges.
// Messages already queued for a removed subscription are dropped.
func (c *Client) Unsubscribe(ctx context.Context, topicList ...string) error {
	if len(topicList) == 0 {
		return nil
	}
	if !c.IsConnected() {
		return mqtt.ErrNotConnected
	}

	// Stop local delivery first: frames that race the broker's
	// acknowledgment must not reach the handler.
	for _, filter := range topicList {
		if sub, ok := c.sess.Unsubscribe(filter); ok {
			c.dispatch.Remove(sub)
		}
	}

	packetID := c.acquirePacketID()
	ackChan, ok := c.ackChan.New(packetID)
	if !ok {
		return fmt.Errorf("client: packet id %d already in use", packetID)
	}
	defer c.ackChan.Del(packetID)

	if err := c.send(&packets.Unsubscribe{
		PacketIdentifier: packetID,
		Topics:           topicList,
	}); err != nil {
		return err
	}

	var ack packets.Packet
	select {
	case ack = <-ackChan:
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", mqtt.ErrTimeout, ctx.Err())
	case <-c.done:
		return mqtt.ErrConnectionClosed
	}
	if _, ok := ack.(*packets.UnsubAck); !ok {
		return ErrIllegalResponse
	}
	return nil
}
