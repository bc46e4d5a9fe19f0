package broker

import (
	"net"
	"sync"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/hashicorp/go-uuid"
	"github.com/nagamocha3000/go-mqtt-relay/internal/protocol"
	"github.com/nagamocha3000/go-mqtt-relay/internal/timer"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

var (
	// ErrUnexpectedPacket is returned by OnMessage for packets not valid
	// in the connection's current state. It is fatal to the connection.
	ErrUnexpectedPacket = errors.New("unexpected packet")

	// ErrUnacceptableProtocol is returned after refusing a CONNECT for
	// an unsupported protocol name or level
	ErrUnacceptableProtocol = errors.New("unacceptable protocol name or level")

	// ErrIdentifierRejected is returned after refusing a CONNECT with an
	// empty client id that asked to keep its session
	ErrIdentifierRejected = errors.New("client identifier rejected")

	// ErrSendQueueFull is returned by a session's Send when its outbound
	// queue has no room left
	ErrSendQueueFull = errors.New("send queue full")

	// ErrSessionClosed is returned by Send once a session has closed
	ErrSessionClosed = errors.New("session closed")

	// ErrBrokerClosed is returned by OnConnect once Close has been called
	ErrBrokerClosed = errors.New("broker closed")
)

// Defaults for the broker's options
const (
	DefaultRetryInterval  = 5 * time.Second
	DefaultSendQueueSize  = 256
	DefaultMaxPacketSize  = 1 << 20
	DefaultWriteTimeout   = 10 * time.Second
	DefaultConnectTimeout = 10 * time.Second
)

// Broker encapsulates all the functionality of a MQTT broker plus
// rules. It owns the registry of connections and subscriptions and
// the client sessions reading from the network.
type Broker struct {
	opts     options
	logger   *zap.Logger
	sched    timer.Scheduler
	stopCron func()
	reg      *Registry
	sessions *hashmap.Map[string, *clientSession]

	// closeMu orders session tracking against Close
	closeMu   sync.RWMutex
	clientsWg sync.WaitGroup
	onceClose sync.Once
	quitCh    chan struct{}
}

type options struct {
	logger         *zap.Logger
	sched          timer.Scheduler
	retryInterval  time.Duration
	sendQueueSize  int
	maxPacketSize  int
	writeTimeout   time.Duration
	connectTimeout time.Duration
	trace          SessionTrace
}

// Option configures a Broker
type Option func(*options)

// WithLogger sets the logger, a nop logger is used otherwise
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithScheduler replaces the cron backed scheduler, the caller stays
// responsible for stopping it
func WithScheduler(s timer.Scheduler) Option {
	return func(o *options) { o.sched = s }
}

// WithRetryInterval sets how often an unacknowledged QoS 1 publish is
// resent
func WithRetryInterval(d time.Duration) Option {
	return func(o *options) { o.retryInterval = d }
}

// WithSendQueueSize bounds the number of frames queued per session
func WithSendQueueSize(n int) Option {
	return func(o *options) { o.sendQueueSize = n }
}

// WithMaxPacketSize bounds the body of inbound packets
func WithMaxPacketSize(n int) Option {
	return func(o *options) { o.maxPacketSize = n }
}

// WithWriteTimeout bounds a single frame write, zero disables it
func WithWriteTimeout(d time.Duration) Option {
	return func(o *options) { o.writeTimeout = d }
}

// WithConnectTimeout bounds the wait for CONNECT on a new connection
func WithConnectTimeout(d time.Duration) Option {
	return func(o *options) { o.connectTimeout = d }
}

// WithSessionTrace adds hooks run around every client session
func WithSessionTrace(t SessionTrace) Option {
	return func(o *options) { o.trace = o.trace.Compose(t) }
}

// NewBroker returns a broker ready to be handed connections
func NewBroker(opts ...Option) *Broker {
	o := options{
		retryInterval:  DefaultRetryInterval,
		sendQueueSize:  DefaultSendQueueSize,
		maxPacketSize:  DefaultMaxPacketSize,
		writeTimeout:   DefaultWriteTimeout,
		connectTimeout: DefaultConnectTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	b := &Broker{
		opts:     o,
		logger:   o.logger,
		sched:    o.sched,
		sessions: hashmap.New[string, *clientSession](),
		quitCh:   make(chan struct{}),
	}
	if b.sched == nil {
		c := timer.NewCron(o.logger.Named("timer"))
		b.sched = c
		b.stopCron = c.Stop
	}
	b.reg = NewRegistry(b.sched, o.retryInterval, o.logger.Named("registry"))
	return b
}

// Registry exposes the broker's subscription registry
func (b *Broker) Registry() *Registry {
	return b.reg
}

// OnConn is an implementation of the server's ConnHandler.OnConn
// Should be called whenever there's a new connection. The connection is
// elevated into a client session which runs until either side closes it
// or a protocol violation occurs. OnConn blocks for that long.
func (b *Broker) OnConn(conn net.Conn) {
	id, err := uuid.GenerateUUID()
	if err != nil {
		b.logger.Error("generating session id", zap.Error(err))
		conn.Close()
		return
	}
	s := newClientSession(id, conn, b)
	if !b.track(s) {
		conn.Close()
		return
	}
	defer b.clientsWg.Done()
	defer b.sessions.Del(id)
	s.start()
}

// track adds s to the live sessions unless the broker is closing
func (b *Broker) track(s *clientSession) bool {
	b.closeMu.RLock()
	defer b.closeMu.RUnlock()
	if err := b.OnConnect(s); err != nil {
		return false
	}
	b.clientsWg.Add(1)
	b.sessions.Set(s.ID(), s)
	return true
}

// OnConnect is called once a transport connection is up, before any
// packet is read from it
func (b *Broker) OnConnect(c Conn) error {
	select {
	case <-b.quitCh:
		return ErrBrokerClosed
	default:
	}
	b.logger.Debug("connection opened", zap.String("conn", c.ID()))
	return nil
}

// OnClose is called once a transport connection is gone. Whatever the
// connection had registered is dropped.
func (b *Broker) OnClose(c Conn) {
	b.reg.DeregisterConnection(c.ID())
	b.logger.Debug("connection closed", zap.String("conn", c.ID()))
}

// OnMessage handles a single decoded packet from c. A returned error is
// a protocol violation, the caller should close the connection.
func (b *Broker) OnMessage(c Conn, pkt protocol.Packet) error {
	id := c.ID()
	connected := b.reg.IsRegistered(id)
	if connect, ok := pkt.(*protocol.ConnectPacket); ok {
		if connected {
			return errors.Wrap(ErrUnexpectedPacket, "second CONNECT")
		}
		return b.handleConnect(c, connect)
	}
	if !connected {
		return errors.Wrapf(ErrUnexpectedPacket, "%s before CONNECT", pkt.Type())
	}

	switch p := pkt.(type) {
	case *protocol.PublishPacket:
		return b.handlePublish(c, p)
	case *protocol.PubackPacket:
		b.reg.Ack(id, p.MessageID)
	case *protocol.SubscribePacket:
		ack := &protocol.SubackPacket{MessageID: p.MessageID}
		for _, t := range p.Topics {
			ack.AddCode(b.reg.Subscribe(id, t.Topic, t.QoS))
		}
		return b.send(c, ack)
	case *protocol.UnsubscribePacket:
		for _, topic := range p.Topics {
			b.reg.Unsubscribe(id, topic)
		}
		return b.send(c, &protocol.UnsubackPacket{MessageID: p.MessageID})
	case *protocol.PingreqPacket:
		return b.send(c, &protocol.PingrespPacket{})
	case *protocol.DisconnectPacket:
		b.reg.DeregisterConnection(id)
		return c.Close()
	case *protocol.PubrecPacket, *protocol.PubrelPacket, *protocol.PubcompPacket:
		// QoS 2 flows are not implemented
		b.logger.Debug("ignoring packet", zap.String("conn", id), zap.Stringer("type", pkt.Type()))
	default:
		// server to client packets
		return errors.Wrapf(ErrUnexpectedPacket, "%s from client", pkt.Type())
	}
	return nil
}

func (b *Broker) handleConnect(c Conn, p *protocol.ConnectPacket) error {
	if !isSupportedProtocol(p.ProtocolName, p.ProtocolLevel) {
		b.send(c, &protocol.ConnackPacket{ReturnCode: protocol.ConnRefusedUnacceptableProtocol})
		return errors.Wrapf(ErrUnacceptableProtocol, "%q level %d", p.ProtocolName, p.ProtocolLevel)
	}
	if p.ClientID == "" && !p.CleanSession {
		b.send(c, &protocol.ConnackPacket{ReturnCode: protocol.ConnRefusedIdentifierRejected})
		return ErrIdentifierRejected
	}
	b.reg.RegisterConnection(c)
	b.logger.Info("client connected",
		zap.String("conn", c.ID()),
		zap.String("client_id", p.ClientID),
		zap.Uint16("keepalive", p.KeepAlive))
	return b.send(c, &protocol.ConnackPacket{ReturnCode: protocol.ConnAccepted})
}

// isSupportedProtocol accepts MQTT 3.1.1 and its 3.1 predecessor
func isSupportedProtocol(name string, level byte) bool {
	return (name == protocol.ProtocolName && level == protocol.ProtocolLevel) ||
		(name == "MQIsdp" && level == 3)
}

// handlePublish fans the message out then acknowledges it to the
// publisher, whatever its QoS
func (b *Broker) handlePublish(c Conn, p *protocol.PublishPacket) error {
	if err := ValidateTopicName(p.Topic); err != nil {
		return err
	}
	n, err := b.reg.Publish(c.ID(), p)
	if err != nil {
		return err
	}
	b.logger.Debug("published",
		zap.String("conn", c.ID()),
		zap.String("topic", p.Topic),
		zap.Uint8("qos", p.QoS),
		zap.Uint16("message_id", p.MessageID),
		zap.Int("recipients", n))
	return b.send(c, &protocol.PubackPacket{MessageID: p.MessageID})
}

func (b *Broker) send(c Conn, pkt protocol.Packet) error {
	frame, err := protocol.Encode(pkt)
	if err != nil {
		return err
	}
	return errors.Wrapf(c.Send(frame), "sending %s", pkt.Type())
}

// Stats is a snapshot of the broker's state
type Stats struct {
	RegistryStats
	Sessions int
}

// Stats counts live sessions and the registry's contents
func (b *Broker) Stats() Stats {
	return Stats{
		RegistryStats: b.reg.Stats(),
		Sessions:      b.sessions.Len(),
	}
}

// Close is an implementation of the server's ConnHandler.Close. It's
// expected that the server instance will invoke Close when it too is closed
// however, Close is safe to call multiple times. Once closed, the broker will
// not accept any more connections. Live sessions are closed and waited on,
// then every pending delivery is cancelled.
func (b *Broker) Close() {
	b.onceClose.Do(func() {
		b.closeMu.Lock()
		close(b.quitCh)
		b.closeMu.Unlock()
		b.sessions.Range(func(_ string, s *clientSession) bool {
			s.Close()
			return true
		})
		b.clientsWg.Wait()
		b.reg.Close()
		if b.stopCron != nil {
			b.stopCron()
		}
	})
}
