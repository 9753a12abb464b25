package client

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mqwire/mqwire/mqtt"
	"github.com/mqwire/mqwire/packets"
)

const testTimeout = 5 * time.Second

// fakeBroker drives the server side of a net.Pipe transport so tests
// can script exact packet exchanges.
type fakeBroker struct {
	t  *testing.T
	io *packets.PacketIO
}

func newTestPair(t *testing.T, options ...ClientOptions) (*Client, *fakeBroker) {
	t.Helper()
	clientConn, brokerConn := net.Pipe()
	t.Cleanup(func() {
		brokerConn.Close()
		clientConn.Close()
	})
	c := NewClient(clientConn, options...)
	b := &fakeBroker{t: t, io: packets.NewPacketIO(brokerConn, 0)}
	return c, b
}

func (b *fakeBroker) recv() packets.Packet {
	b.io.SetRecvDeadline(time.Now().Add(testTimeout))
	pkt, err := b.io.Recv()
	if err != nil {
		b.t.Errorf("broker recv: %s", err)
		return nil
	}
	return pkt
}

func (b *fakeBroker) send(pkt packets.Packet) {
	if err := b.io.Send(pkt); err != nil {
		b.t.Errorf("broker send: %s", err)
	}
}

// acceptConnect consumes the connect request and replies with the
// given verdict.
func (b *fakeBroker) acceptConnect(code uint8, sessionPresent bool) {
	pkt := b.recv()
	if _, ok := pkt.(*packets.Connect); !ok {
		b.t.Errorf("broker: expected connect request, got %T", pkt)
		return
	}
	b.send(&packets.ConnAck{
		SessionPresent: sessionPresent,
		ReturnCode:     code,
	})
}

// drain keeps reading packets in the background so client writes on
// the synchronous pipe never block, e.g. around Disconnect.
func (b *fakeBroker) drain() {
	go func() {
		for {
			b.io.SetRecvDeadline(time.Now().Add(testTimeout))
			if _, err := b.io.Recv(); err != nil {
				return
			}
		}
	}()
}

// mustConnect establishes the session against the fake broker.
func mustConnect(t *testing.T, c *Client, b *fakeBroker, options ...ConnectOptions) {
	t.Helper()
	go b.acceptConnect(packets.ConnAckAccepted, false)
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	require.NoError(t, c.Connect(ctx, options...))
}

// mustSubscribe performs a subscribe handshake, granting the
// requested QoS per filter.
func mustSubscribe(
	t *testing.T,
	c *Client,
	b *fakeBroker,
	handler mqtt.Handler,
	topicList ...mqtt.Topic,
) []mqtt.QoS {
	t.Helper()
	ackSent := make(chan struct{})
	go func() {
		defer close(ackSent)
		pkt := b.recv()
		sub, ok := pkt.(*packets.Subscribe)
		if !ok {
			b.t.Errorf("broker: expected subscribe request, got %T", pkt)
			return
		}
		codes := make([]uint8, len(sub.Topics))
		for i, topic := range sub.Topics {
			codes[i] = uint8(topic.QoS)
		}
		b.send(&packets.SubAck{
			PacketIdentifier: sub.PacketIdentifier,
			ReturnCodes:      codes,
		})
	}()
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	granted, err := c.Subscribe(ctx, topicList, handler)
	require.NoError(t, err)
	<-ackSent
	return granted
}

// collectHandler funnels handled messages into a channel.
func collectHandler(buffer int) (mqtt.Handler, chan *mqtt.Message) {
	msgs := make(chan *mqtt.Message, buffer)
	handler := mqtt.HandlerFunc(func(msg *mqtt.Message) error {
		msgs <- msg
		return nil
	})
	return handler, msgs
}

func awaitMessage(t *testing.T, msgs chan *mqtt.Message) *mqtt.Message {
	t.Helper()
	select {
	case msg := <-msgs:
		return msg
	case <-time.After(testTimeout):
		t.Fatal("timed out awaiting message delivery")
		return nil
	}
}

func assertNoMessage(t *testing.T, msgs chan *mqtt.Message) {
	t.Helper()
	select {
	case msg := <-msgs:
		t.Fatalf("unexpected delivery on topic %s", msg.Topic)
	case <-time.After(100 * time.Millisecond):
	}
}
