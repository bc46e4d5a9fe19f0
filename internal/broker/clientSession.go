package broker

import (
	"bufio"
	"io"
	"net"
	"sync"
	"time"

	p "github.com/nagamocha3000/go-mqtt-relay/internal/protocol"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// clientSession is the Conn the broker sees for a network connection.
// The read loop runs on start's goroutine, writes go through outCh to a
// dedicated writer so Send never blocks.
type clientSession struct {
	id         string
	conn       net.Conn
	broker     *Broker
	logger     *zap.Logger
	outCh      chan []byte
	closeSigCh chan struct{}
	onceClose  sync.Once
}

func newClientSession(id string, conn net.Conn, b *Broker) *clientSession {
	return &clientSession{
		id:         id,
		conn:       conn,
		broker:     b,
		logger:     b.logger.With(zap.String("conn", id), zap.Stringer("remote", conn.RemoteAddr())),
		outCh:      make(chan []byte, b.opts.sendQueueSize),
		closeSigCh: make(chan struct{}),
	}
}

func (c *clientSession) ID() string { return c.id }

// Send queues frame for the writer, failing rather than waiting when the
// queue is full
func (c *clientSession) Send(frame []byte) error {
	select {
	case <-c.closeSigCh:
		return ErrSessionClosed
	default:
	}
	select {
	case c.outCh <- frame:
		return nil
	case <-c.closeSigCh:
		return ErrSessionClosed
	default:
		return ErrSendQueueFull
	}
}

// Close signals the writer to flush what's queued and close the
// connection, which in turn ends the read loop
func (c *clientSession) Close() error {
	c.onceClose.Do(func() {
		close(c.closeSigCh)
	})
	return nil
}

// start runs the session until the connection closes
func (c *clientSession) start() {
	done := c.broker.opts.trace.run(c.id)
	writerDone := make(chan struct{})
	go c.writeLoop(writerDone)

	err := c.readLoop()

	c.broker.OnClose(c)
	c.Close()
	<-writerDone
	done(err)
}

func (c *clientSession) readLoop() error {
	r := bufio.NewReader(c.conn)
	deadline := c.broker.opts.connectTimeout
	for {
		if deadline > 0 {
			c.conn.SetReadDeadline(time.Now().Add(deadline))
		} else {
			c.conn.SetReadDeadline(time.Time{})
		}
		pkt, err := p.ReadPacket(r, c.broker.opts.maxPacketSize)
		if err != nil {
			select {
			case <-c.closeSigCh:
				// closed from our side
				return nil
			default:
				return errors.Wrap(err, "reading packet")
			}
		}
		if err := c.broker.OnMessage(c, pkt); err != nil {
			return err
		}
		switch pkt := pkt.(type) {
		case *p.ConnectPacket:
			// a client silent for one and a half keep alive periods is
			// gone, zero turns the check off
			deadline = time.Duration(pkt.KeepAlive) * time.Second * 3 / 2
		case *p.DisconnectPacket:
			return nil
		}
	}
}

func (c *clientSession) writeLoop(done chan<- struct{}) {
	defer close(done)
	defer c.conn.Close()
	for {
		select {
		case frame := <-c.outCh:
			if err := c.write(frame); err != nil {
				c.logger.Debug("write failed", zap.Error(err))
				c.Close()
				return
			}
		case <-c.closeSigCh:
			// flush what was queued before the close
			for {
				select {
				case frame := <-c.outCh:
					if err := c.write(frame); err != nil {
						return
					}
				default:
					return
				}
			}
		}
	}
}

func (c *clientSession) write(frame []byte) error {
	if t := c.broker.opts.writeTimeout; t > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(t))
	}
	_, err := c.conn.Write(frame)
	return err
}

// closeCause names what ended a session for logging
func closeCause(err error) string {
	var netErr net.Error
	switch {
	case err == nil:
		return "disconnect"
	case errors.Is(err, io.EOF):
		return "client closed"
	case errors.As(err, &netErr) && netErr.Timeout():
		return "keepalive expired"
	case errors.Is(err, ErrUnexpectedPacket):
		return "protocol violation"
	case errors.Is(err, p.ErrMalformedLength), errors.Is(err, p.ErrTruncatedBuffer),
		errors.Is(err, p.ErrInvalidPacket), errors.Is(err, p.ErrUnknownCommand),
		errors.Is(err, p.ErrPacketTooLarge):
		return "malformed packet"
	default:
		return "error"
	}
}

// LogSessions is a SessionTrace logging each session's duration and the
// root cause of its end
func LogSessions(logger *zap.Logger) SessionTrace {
	return SessionTrace{
		OnRun: func(id string) func(error) {
			start := time.Now()
			return func(err error) {
				fields := []zap.Field{
					zap.String("conn", id),
					zap.Duration("duration", time.Since(start)),
					zap.String("cause", closeCause(err)),
				}
				if err != nil && !errors.Is(err, io.EOF) {
					fields = append(fields, zap.NamedError("error", errors.Cause(err)))
				}
				logger.Info("session closed", fields...)
			}
		},
	}
}
