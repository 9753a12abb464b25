package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	uuid "github.com/satori/go.uuid"
	log "github.com/sirupsen/logrus"

	"github.com/mqwire/mqwire/mqtt"
	"github.com/mqwire/mqwire/packets"
	"github.com/mqwire/mqwire/session"
	"github.com/mqwire/mqwire/store"
	"github.com/mqwire/mqwire/topics"
)

var (
	ErrIllegalResponse  = errors.New("client: illegal response received from server")
	ErrAlreadyConnected = errors.New("client: already connected")
)

// ConnState is the connection lifecycle state.
type ConnState int32

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateDisconnecting
	StateReconnecting
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	case StateReconnecting:
		return "reconnecting"
	}
	return "unknown"
}

// Client is a pub/sub client engine. It owns the connection after
// Connect: reads and writes bypassing the client lead to undefined
// behavior.
type Client struct {
	// ClientID is the identity communicated with the server on
	// connect.
	ClientID string
	version  mqtt.Version

	cleanSession   bool
	autoReconnect  bool
	maxRetryCount  int
	retryInterval  time.Duration
	connectTimeout time.Duration
	dialer         Dialer

	// connectPacket is the handshake request, kept for reconnects.
	connectPacket *packets.Connect

	ioMu sync.RWMutex
	io   *packets.PacketIO

	sess    *session.Session
	tracker *store.Tracker

	state int32

	packetIDCounter uint32

	// ackChan passes SubAck and UnsubAck responses to the caller
	// goroutine; the caller sets up the channel before sending the
	// request.
	ackChan *packetChanMap
	// waiters resolve Publish calls when their delivery handshake
	// completes or is abandoned.
	waiters *waiterMap
	// connAck and pingResp bypass handshake and ping responses to
	// the caller goroutine.
	connAck  chan *packets.ConnAck
	pingResp chan *packets.PingResp

	dispatch *dispatcher

	done     chan struct{}
	doneOnce *sync.Once
	wg       sync.WaitGroup

	observerMu  sync.RWMutex
	errObserver func(error)
}

// NewClient initializes a new client over the given connection. The
// connection may be nil if a Dialer option is provided, in which case
// Connect dials. After initializing the client, the user MUST call
// Connect before using the rest of the client API.
func NewClient(conn net.Conn, options ...ClientOptions) *Client {
	c := &Client{
		ClientID: uuid.NewV4().String(),
		version:  mqtt.ProtocolV1,

		cleanSession:   true,
		maxRetryCount:  defaultMaxRetryCount,
		retryInterval:  defaultRetryInterval,
		connectTimeout: defaultConnectTimeout,

		ackChan:  newPacketChanMap(),
		waiters:  newWaiterMap(),
		connAck:  make(chan *packets.ConnAck, 1),
		pingResp: make(chan *packets.PingResp, 1),
	}
	var backing store.Store
	policy := topics.Policy{}
	for _, opt := range options {
		if opt.Version != nil {
			c.version = *opt.Version
		}
		if opt.ClientID != nil {
			c.ClientID = *opt.ClientID
		}
		if opt.CleanSession != nil {
			c.cleanSession = *opt.CleanSession
		}
		if opt.AutoReconnect != nil {
			c.autoReconnect = *opt.AutoReconnect
		}
		if opt.MaxRetryCount != nil {
			c.maxRetryCount = *opt.MaxRetryCount
		}
		if opt.RetryInterval != nil {
			c.retryInterval = *opt.RetryInterval
		}
		if opt.ConnectTimeout != nil {
			c.connectTimeout = *opt.ConnectTimeout
		}
		if opt.Store != nil {
			backing = opt.Store
		}
		if opt.Dialer != nil {
			c.dialer = opt.Dialer
		}
		if opt.MatchReserved != nil {
			policy.MatchReserved = *opt.MatchReserved
		}
		if opt.ErrorObserver != nil {
			c.errObserver = opt.ErrorObserver
		}
	}
	if backing == nil {
		backing = store.NewMemoryStore()
	}
	c.tracker = store.NewTracker(backing, c.retryInterval, c.maxRetryCount)
	c.sess = session.New(c.ClientID, c.cleanSession, policy, c.tracker)
	c.dispatch = newDispatcher(c.observe, c.sess.Active)
	if conn != nil {
		c.io = packets.NewPacketIO(conn, 0)
	}
	return c
}

// SetErrorObserver replaces the asynchronous error callback.
func (c *Client) SetErrorObserver(observer func(error)) {
	c.observerMu.Lock()
	c.errObserver = observer
	c.observerMu.Unlock()
}

// Connect establishes the session with the broker: it dials if
// necessary, performs the handshake and starts the dispatch loop.
func (c *Client) Connect(ctx context.Context, options ...ConnectOptions) error {
	if !c.casState(StateDisconnected, StateConnecting) {
		return ErrAlreadyConnected
	}
	conn := &packets.Connect{
		Version:      c.version,
		ClientID:     c.ClientID,
		CleanSession: c.cleanSession,
	}
	for _, opt := range options {
		if opt.KeepAlive != nil {
			conn.KeepAlive = *opt.KeepAlive
		}
		if opt.Username != nil {
			conn.Username = *opt.Username
		}
		if opt.Password != nil {
			conn.Password = *opt.Password
		}
		if opt.WillTopic != nil {
			conn.WillTopic = opt.WillTopic.Name
			conn.WillQoS = opt.WillTopic.QoS
			conn.WillMessage = opt.WillMessage
		}
		if opt.WillRetain != nil {
			conn.WillRetain = *opt.WillRetain
		}
	}
	c.connectPacket = conn

	io := c.currentIO()
	if io == nil {
		if c.dialer == nil {
			c.setState(StateDisconnected)
			return mqtt.ErrNotConnected
		}
		transport, err := c.dialer()
		if err != nil {
			c.setState(StateDisconnected)
			return fmt.Errorf("%w: %v", mqtt.ErrTransport, err)
		}
		io = packets.NewPacketIO(transport, 0)
		c.setIO(io)
	}

	if err := c.handshake(ctx, io); err != nil {
		if c.dialer != nil {
			io.Close()
			c.setIO(nil)
		}
		c.setState(StateDisconnected)
		return err
	}

	c.dispatch = newDispatcher(c.observe, c.sess.Active)
	c.connAck = make(chan *packets.ConnAck, 1)
	c.pingResp = make(chan *packets.PingResp, 1)
	c.done = make(chan struct{})
	c.doneOnce = new(sync.Once)
	c.setState(StateConnected)

	c.wg.Add(2)
	go c.recvRoutine()
	go c.retryLoop(c.done)
	if conn.KeepAlive > 0 {
		c.wg.Add(1)
		go c.keepAliveLoop(c.done, time.Duration(conn.KeepAlive)*time.Second)
	}
	// A durable store may hold handshakes interrupted by a process
	// restart; resume them.
	c.retransmitPending()
	return nil
}

// handshake sends the connect request and awaits the broker's verdict
// within the connect timeout.
func (c *Client) handshake(ctx context.Context, io *packets.PacketIO) error {
	deadline := time.Now().Add(c.connectTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := io.SetRecvDeadline(deadline); err != nil {
		return fmt.Errorf("%w: %v", mqtt.ErrTransport, err)
	}
	defer io.SetRecvDeadline(time.Time{})

	if err := io.Send(c.connectPacket); err != nil {
		return transportError(err)
	}
	packet, err := io.Recv()
	if err != nil {
		return transportError(err)
	}
	connAck, ok := packet.(*packets.ConnAck)
	if !ok {
		return ErrIllegalResponse
	}
	if err := connAckError(connAck.ReturnCode); err != nil {
		return err
	}
	if !connAck.SessionPresent && !c.sess.Clean() {
		log.Debugf("broker holds no session state for %s", c.ClientID)
	}
	return nil
}

// Disconnect sends a graceful-disconnect notice if connected, closes
// the transport and resolves all pending operations. Calling it on a
// disconnected client is a no-op.
func (c *Client) Disconnect() error {
	for {
		state := c.State()
		if state == StateDisconnected || state == StateDisconnecting {
			return nil
		}
		if c.casState(state, StateDisconnecting) {
			break
		}
	}
	if io := c.currentIO(); io != nil {
		if err := io.Send(&packets.Disconnect{}); err != nil {
			log.Debugf("disconnect notice not sent: %s", err)
		}
		if err := io.Close(); err != nil {
			log.Debugf("closing transport: %s", err)
		}
	}
	c.closeDone()
	c.waiters.FailAll(mqtt.ErrConnectionClosed)
	c.wg.Wait()
	c.dispatch.Close()
	c.setIO(nil)
	if c.sess.Clean() {
		if err := c.sess.Reset(); err != nil {
			log.Errorf("discarding session state: %s", err)
		}
	}
	c.setState(StateDisconnected)
	return nil
}

// Ping sends a ping request to the server and blocks for the
// response.
func (c *Client) Ping(ctx context.Context) error {
	if !c.IsConnected() {
		return mqtt.ErrNotConnected
	}
	if err := c.send(&packets.PingReq{}); err != nil {
		return err
	}
	select {
	case <-c.pingResp:
		return nil
	case <-ctx.Done():
		return mqtt.ErrTimeout
	case <-c.done:
		return mqtt.ErrConnectionClosed
	}
}

// IsConnected returns current connection liveness without blocking.
func (c *Client) IsConnected() bool {
	return c.State() == StateConnected
}

// State returns the connection lifecycle state.
func (c *Client) State() ConnState {
	return ConnState(atomic.LoadInt32(&c.state))
}

func (c *Client) setState(s ConnState) {
	atomic.StoreInt32(&c.state, int32(s))
}

func (c *Client) casState(from, to ConnState) bool {
	return atomic.CompareAndSwapInt32(&c.state, int32(from), int32(to))
}

func (c *Client) currentIO() *packets.PacketIO {
	c.ioMu.RLock()
	defer c.ioMu.RUnlock()
	return c.io
}

func (c *Client) setIO(io *packets.PacketIO) {
	c.ioMu.Lock()
	c.io = io
	c.ioMu.Unlock()
}

func (c *Client) closeDone() {
	if c.doneOnce == nil {
		return
	}
	c.doneOnce.Do(func() { close(c.done) })
}

func (c *Client) observe(err error) {
	c.observerMu.RLock()
	observer := c.errObserver
	c.observerMu.RUnlock()
	if observer != nil {
		observer(err)
		return
	}
	log.Error(err)
}

// connAckError maps handshake return codes to the error taxonomy.
func connAckError(code uint8) error {
	switch code {
	case packets.ConnAckAccepted:
		return nil
	case packets.ConnAckBadVersion:
		return mqtt.ErrConnectBadVersion
	case packets.ConnAckIDNotAllowed:
		return mqtt.ErrConnectIDNotAllowed
	case packets.ConnAckServerUnavail:
		return mqtt.ErrConnectUnavailable
	case packets.ConnAckBadCredentials:
		return mqtt.ErrConnectCredentials
	case packets.ConnAckUnauthorized:
		return mqtt.ErrConnectUnauthorized
	}
	return ErrIllegalResponse
}

// transportError classifies a lower-layer failure as a timeout or a
// transport error.
func transportError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", mqtt.ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", mqtt.ErrTransport, err)
}
