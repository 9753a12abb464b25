package client

import (
	"net"
	"time"

	"github.com/mqwire/mqwire/mqtt"
	"github.com/mqwire/mqwire/store"
)

const (
	defaultRetryInterval  = 5 * time.Second
	defaultMaxRetryCount  = 5
	defaultConnectTimeout = 30 * time.Second

	// maxReconnectDelay caps the exponential backoff between
	// reconnect attempts.
	maxReconnectDelay = 2 * time.Minute
)

// Dialer opens a fresh transport connection to the broker. Required
// for auto-reconnect; optional otherwise.
type Dialer func() (net.Conn, error)

// ClientOptions holds configuration options to initialize a new Client.
type ClientOptions struct {
	// Version signifies the protocol version to be used.
	Version *mqtt.Version
	// The client identity communicated with the server. Defaults to
	// a random UUID (version 4).
	ClientID *string
	// CleanSession indicates whether subscriptions and pending
	// deliveries are discarded on disconnect. Defaults to true.
	CleanSession *bool
	// AutoReconnect enables transparent reconnection on transport
	// failure. Requires a Dialer. Defaults to false.
	AutoReconnect *bool
	// MaxRetryCount bounds QoS > 0 retransmissions per handshake
	// step, and reconnect attempts. Defaults to 5.
	MaxRetryCount *int
	// RetryInterval is the wait before retransmitting an
	// unacknowledged QoS > 0 message, and the initial reconnect
	// backoff. Defaults to 5 seconds.
	RetryInterval *time.Duration
	// ConnectTimeout bounds the wait for the handshake
	// acknowledgment. Defaults to 30 seconds.
	ConnectTimeout *time.Duration
	// Store backs the pending-delivery tracker. Defaults to an
	// in-memory store; pass a durable backend to let a non-clean
	// session survive a process restart.
	Store store.Store
	// Dialer opens transport connections. If set, Connect dials
	// through it when the client was created without a connection.
	Dialer Dialer
	// MatchReserved allows leading wildcards to match reserved
	// ("$"-prefixed) topics. Defaults to false.
	MatchReserved *bool
	// ErrorObserver receives asynchronous failures: abandoned
	// deliveries, handler errors and transport trouble the client
	// absorbs. Defaults to logging.
	ErrorObserver func(error)
}

// NewClientOptions initializes a new empty client options struct.
func NewClientOptions() *ClientOptions {
	return new(ClientOptions)
}

// SetVersion sets the protocol version used by this client.
func (opts *ClientOptions) SetVersion(version mqtt.Version) {
	opts.Version = &version
}

// SetClientID sets the client id communicated with the server.
func (opts *ClientOptions) SetClientID(id string) {
	opts.ClientID = &id
}

// SetCleanSession sets the clean-session flag.
func (opts *ClientOptions) SetCleanSession(cleanSession bool) {
	opts.CleanSession = &cleanSession
}

// SetAutoReconnect enables or disables automatic reconnection.
func (opts *ClientOptions) SetAutoReconnect(autoReconnect bool) {
	opts.AutoReconnect = &autoReconnect
}

// SetMaxRetryCount sets the retransmission budget per delivery.
func (opts *ClientOptions) SetMaxRetryCount(count int) {
	opts.MaxRetryCount = &count
}

// SetRetryInterval sets the retransmission interval.
func (opts *ClientOptions) SetRetryInterval(interval time.Duration) {
	opts.RetryInterval = &interval
}

// SetConnectTimeout sets the handshake deadline.
func (opts *ClientOptions) SetConnectTimeout(timeout time.Duration) {
	opts.ConnectTimeout = &timeout
}

// SetStore sets the pending-delivery store backend.
func (opts *ClientOptions) SetStore(s store.Store) {
	opts.Store = s
}

// SetDialer sets the transport dialer used for (re)connecting.
func (opts *ClientOptions) SetDialer(d Dialer) {
	opts.Dialer = d
}

// SetMatchReserved sets the reserved-topic wildcard policy.
func (opts *ClientOptions) SetMatchReserved(match bool) {
	opts.MatchReserved = &match
}

// SetErrorObserver sets the asynchronous error callback.
func (opts *ClientOptions) SetErrorObserver(observer func(error)) {
	opts.ErrorObserver = observer
}

// ConnectOptions holds configuration options for making a connect
// request.
type ConnectOptions struct {
	// KeepAlive is the keep-alive interval in seconds, defaults to
	// 0 ("infinite"). When set, the client pings the broker at this
	// interval.
	KeepAlive *uint16

	// Username credentials. (Defaults to none)
	Username *string
	// Password credentials. (Defaults to none)
	// NOTE: If Password is set Username MUST also be set.
	Password *string

	// WillTopic is the topic the broker publishes to on ungraceful
	// disconnect. Defaults to none.
	WillTopic *mqtt.Topic
	// WillMessage is the payload published to the will topic.
	WillMessage []byte
	// WillRetain marks the will message for broker-side retention.
	WillRetain *bool
}

// NewConnectOptions initializes a new connect options struct.
func NewConnectOptions() *ConnectOptions {
	return &ConnectOptions{}
}

// SetKeepAlive sets the keep alive to the given duration.
// NOTE: If the duration is longer than the maximum 18:12:15
// (hr:min:sec), the value will be truncated to this maximum.
func (opts *ConnectOptions) SetKeepAlive(duration time.Duration) {
	secs := int64(duration.Seconds())
	if secs > int64(^uint16(0)) {
		secs = int64(^uint16(0))
	}
	secsUint16 := uint16(secs)
	opts.KeepAlive = &secsUint16
}

// SetUsername sets the username credential.
func (opts *ConnectOptions) SetUsername(username string) {
	opts.Username = &username
}

// SetPassword sets the password credential.
func (opts *ConnectOptions) SetPassword(password string) {
	opts.Password = &password
}

// SetWillTopic sets the will topic to publish on ungraceful
// disconnect.
func (opts *ConnectOptions) SetWillTopic(topic mqtt.Topic, retain bool) {
	opts.WillTopic = &topic
	opts.WillRetain = &retain
}

// SetWillMessage sets the will message payload to the given buffer.
func (opts *ConnectOptions) SetWillMessage(message []byte) {
	opts.WillMessage = message
}
