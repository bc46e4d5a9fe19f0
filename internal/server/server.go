package server

import (
	"net"
	"sync"

	"go.uber.org/zap"
)

// ConnHandler is what the server hands accepted connections to.
// OnConn is called on its own goroutine per connection and may block
// for the connection's lifetime. Close is called once when the server
// stops, it must make pending OnConn calls return.
type ConnHandler interface {
	OnConn(conn net.Conn)
	Close()
}

// OnConn adapts a plain function into a ConnHandler with a no-op Close
type OnConn func(conn net.Conn)

func (f OnConn) OnConn(conn net.Conn) { f(conn) }

func (f OnConn) Close() {}

// Server handles network details such as receiving new connections.
// structuring credit: https://eli.thegreenplace.net/2020/graceful-shutdown-of-a-tcp-server-in-go/#
type Server struct {
	listener net.Listener
	quit     chan struct{}
	wg       sync.WaitGroup
	onceStop sync.Once
	handler  ConnHandler
	logger   *zap.Logger
}

// NewServer listens on the tcp address addr and serves it in a separate
// go routine. Callers should find a way to block
func NewServer(addr string, handler ConnHandler, logger *zap.Logger) (*Server, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return Serve(listener, handler, logger), nil
}

// Serve accepts connections from listener until Stop is called
func Serve(listener net.Listener, handler ConnHandler, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		listener: listener,
		quit:     make(chan struct{}),
		handler:  handler,
		logger:   logger.With(zap.Stringer("addr", listener.Addr())),
	}
	s.wg.Add(1)
	go s.receiveConnections()

	s.logger.Info("server started")
	return s
}

// Addr is the address the server is listening on
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

func (s *Server) receiveConnections() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			// check for quits first
			select {
			case <-s.quit:
				return
			default:
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				s.logger.Warn("accept error", zap.Error(err))
				continue
			}
			s.logger.Error("listener failed", zap.Error(err))
			return
		}
		if conn == nil {
			s.logger.Warn("accepted nil connection")
			continue
		}
		s.wg.Add(1) // add new client conn
		go func() {
			defer s.wg.Done() // indicate client done
			s.handler.OnConn(conn)
		}()
	}
}

// Stop shuts down server, closes the handler then waits for client
// sessions to return. Safe to call more than once
func (s *Server) Stop() {
	s.onceStop.Do(func() {
		close(s.quit) // broadcast quit
		s.listener.Close()
		s.handler.Close()
		s.wg.Wait()
		s.logger.Info("server closed")
	})
}
