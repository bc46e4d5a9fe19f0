package broker

import (
	"sort"
	"sync"
	"time"

	"github.com/nagamocha3000/go-mqtt-relay/internal/protocol"
	"github.com/nagamocha3000/go-mqtt-relay/internal/timer"
	"go.uber.org/zap"
)

// Conn is the broker's view of a transport connection
type Conn interface {
	ID() string
	// Send hands an encoded frame over to the transport. It must not
	// block, the registry calls it with its lock held.
	Send(frame []byte) error
	Close() error
}

// pendingDelivery is a QoS 1 publish awaiting the recipient's PUBACK.
// frame is resent as is until then.
type pendingDelivery struct {
	frame   []byte
	handle  timer.Handle
	seq     uint64
	resends int
}

// Registry holds connections, their subscriptions and the deliveries
// awaiting acknowledgement. A single mutex guards all of it, timer
// callbacks included.
type Registry struct {
	mu            sync.Mutex
	sched         timer.Scheduler
	retryInterval time.Duration
	logger        *zap.Logger

	conns map[string]Conn
	// topic -> conn id -> requested qos
	topics map[string]map[string]byte
	// conn id -> topics
	subs map[string]map[string]struct{}
	// conn id -> message id -> delivery
	pending map[string]map[uint16]*pendingDelivery
	seq     uint64
}

// NewRegistry returns an empty registry scheduling QoS 1 resends on
// sched every retryInterval
func NewRegistry(sched timer.Scheduler, retryInterval time.Duration, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		sched:         sched,
		retryInterval: retryInterval,
		logger:        logger,
		conns:         make(map[string]Conn),
		topics:        make(map[string]map[string]byte),
		subs:          make(map[string]map[string]struct{}),
		pending:       make(map[string]map[uint16]*pendingDelivery),
	}
}

// RegisterConnection adds c, reporting false if its id was already
// registered
func (r *Registry) RegisterConnection(c Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[c.ID()]; ok {
		return false
	}
	r.conns[c.ID()] = c
	return true
}

// IsRegistered reports whether id has been registered and not yet
// deregistered
func (r *Registry) IsRegistered(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.conns[id]
	return ok
}

// DeregisterConnection drops id's subscriptions and cancels every
// delivery addressed to it. Safe to call more than once.
func (r *Registry) DeregisterConnection(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, id)
	for topic := range r.subs[id] {
		r.removeSubscriber(topic, id)
	}
	delete(r.subs, id)
	for _, d := range r.pending[id] {
		r.sched.Cancel(d.handle)
	}
	delete(r.pending, id)
}

// Subscribe records id's interest in topic and returns the SUBACK
// return code: the granted QoS, or protocol.SubackFailure.
func (r *Registry) Subscribe(id, topic string, qos byte) byte {
	if qos > 2 {
		return protocol.SubackFailure
	}
	if err := ValidateTopicFilter(topic); err != nil {
		r.logger.Debug("subscription refused",
			zap.String("conn", id), zap.String("topic", topic), zap.Error(err))
		return protocol.SubackFailure
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[id]; !ok {
		return protocol.SubackFailure
	}
	subscribers, ok := r.topics[topic]
	if !ok {
		subscribers = make(map[string]byte)
		r.topics[topic] = subscribers
	}
	subscribers[id] = qos
	if r.subs[id] == nil {
		r.subs[id] = make(map[string]struct{})
	}
	r.subs[id][topic] = struct{}{}
	// QoS 2 isn't implemented, it's granted as 1
	if qos > 1 {
		return 1
	}
	return qos
}

// Unsubscribe removes id from topic, a no-op if it wasn't subscribed
func (r *Registry) Unsubscribe(id, topic string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeSubscriber(topic, id)
	if topics, ok := r.subs[id]; ok {
		delete(topics, topic)
		if len(topics) == 0 {
			delete(r.subs, id)
		}
	}
}

// removeSubscriber drops the topic entry once its last subscriber goes,
// r.mu must be held
func (r *Registry) removeSubscriber(topic, id string) {
	subscribers, ok := r.topics[topic]
	if !ok {
		return
	}
	delete(subscribers, id)
	if len(subscribers) == 0 {
		delete(r.topics, topic)
	}
}

// SubscribersOf returns a sorted snapshot of the ids subscribed to topic
func (r *Registry) SubscribersOf(topic string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.subscribersOf(topic)
}

func (r *Registry) subscribersOf(topic string) []string {
	subscribers := r.topics[topic]
	ids := make([]string, 0, len(subscribers))
	for id := range subscribers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Publish fans pkt out to the subscribers of its topic other than from.
// QoS 0 is sent once. Otherwise a delivery is created per recipient
// that doesn't already have one under pkt's message id; it's sent and
// resent every retry interval until acknowledged. Publish returns the
// number of recipients the frame was handed to.
func (r *Registry) Publish(from string, pkt *protocol.PublishPacket) (int, error) {
	frame, err := protocol.Encode(pkt)
	if err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var sent int
	for _, id := range r.subscribersOf(pkt.Topic) {
		if id == from {
			continue
		}
		conn := r.conns[id]
		if pkt.QoS == 0 {
			if r.send(conn, frame) {
				sent++
			}
			continue
		}
		if _, ok := r.pending[id][pkt.MessageID]; ok {
			r.logger.Debug("delivery already pending",
				zap.String("conn", id), zap.Uint16("message_id", pkt.MessageID))
			continue
		}
		r.seq++
		d := &pendingDelivery{frame: frame, seq: r.seq}
		if r.pending[id] == nil {
			r.pending[id] = make(map[uint16]*pendingDelivery)
		}
		r.pending[id][pkt.MessageID] = d
		// a failed first send is left to the retry timer
		if r.send(conn, frame) {
			sent++
		}
		d.handle = r.sched.After(r.retryInterval, true, r.resendFunc(id, pkt.MessageID, d.seq))
	}
	return sent, nil
}

// resendFunc returns the retry callback for a delivery. It captures the
// key and sequence number only, so a callback firing after its delivery
// was acknowledged or replaced does nothing.
func (r *Registry) resendFunc(id string, messageID uint16, seq uint64) func() {
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		d, ok := r.pending[id][messageID]
		if !ok || d.seq != seq {
			return
		}
		d.resends++
		r.logger.Debug("resending unacknowledged publish",
			zap.String("conn", id),
			zap.Uint16("message_id", messageID),
			zap.Int("attempt", d.resends))
		r.send(r.conns[id], d.frame)
	}
}

func (r *Registry) send(conn Conn, frame []byte) bool {
	if conn == nil {
		return false
	}
	if err := conn.Send(frame); err != nil {
		r.logger.Warn("send failed", zap.String("conn", conn.ID()), zap.Error(err))
		return false
	}
	return true
}

// Ack cancels the delivery of messageID to id, reporting whether one
// was pending
func (r *Registry) Ack(id string, messageID uint16) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.pending[id][messageID]
	if !ok {
		r.logger.Debug("puback without pending delivery",
			zap.String("conn", id), zap.Uint16("message_id", messageID))
		return false
	}
	r.sched.Cancel(d.handle)
	delete(r.pending[id], messageID)
	if len(r.pending[id]) == 0 {
		delete(r.pending, id)
	}
	return true
}

// RegistryStats is a point in time count of the registry's contents
type RegistryStats struct {
	Connections       int
	Topics            int
	Subscriptions     int
	PendingDeliveries int
}

// Stats counts what the registry currently holds
func (r *Registry) Stats() RegistryStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := RegistryStats{
		Connections: len(r.conns),
		Topics:      len(r.topics),
	}
	for _, topics := range r.subs {
		s.Subscriptions += len(topics)
	}
	for _, deliveries := range r.pending {
		s.PendingDeliveries += len(deliveries)
	}
	return s
}

// Close cancels every pending delivery
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, deliveries := range r.pending {
		for _, d := range deliveries {
			r.sched.Cancel(d.handle)
		}
		delete(r.pending, id)
	}
}
