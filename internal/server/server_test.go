package server

import (
	"bufio"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gorilla/websocket"
	"github.com/nagamocha3000/go-mqtt-relay/internal/broker"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// handleConnection echoes newline terminated messages back to the client
func handleConnection(conn net.Conn) {
	defer conn.Close()
	reader := bufio.NewReader(conn)
	for {
		bs, err := reader.ReadBytes('\n')
		if err != nil {
			return
		}
		conn.Write(bs)
	}
}

func TestServerStartStop(t *testing.T) {
	s, err := NewServer("127.0.0.1:0", OnConn(handleConnection), zaptest.NewLogger(t))
	require.NoError(t, err)
	s.Stop()
	s.Stop()
}

func TestServerSimpleHandleFastClients(t *testing.T) {
	var clientsConnected, clientsDisconnected sync.WaitGroup

	// clients connect to server, write trivial message then
	// wait for 100 milliseconds before disconnecting
	clientConnect := func(addr net.Addr) {
		defer clientsDisconnected.Done()
		conn, err := net.Dial(addr.Network(), addr.String())
		clientsConnected.Done()
		if err != nil {
			t.Error(err)
			return
		}
		defer conn.Close()
		io.WriteString(conn, "client conn msg")
		time.Sleep(100 * time.Millisecond)
	}

	// set up server
	s, err := NewServer("127.0.0.1:0", OnConn(handleConnection), zaptest.NewLogger(t))
	require.NoError(t, err)
	addr := s.Addr()

	// set up 2 clients
	clientsConnected.Add(2)
	clientsDisconnected.Add(2)
	go clientConnect(addr)
	go clientConnect(addr)

	// stop server before clients disconnect
	clientsConnected.Wait()
	s.Stop()
	clientsDisconnected.Wait()

	// should not be able to connect after stop
	_, err = net.Dial(addr.Network(), addr.String())
	require.Error(t, err, "expected connection error on client connect attempt after server stop")
}

func TestServerEcho(t *testing.T) {
	s, err := NewServer("127.0.0.1:0", OnConn(handleConnection), zaptest.NewLogger(t))
	require.NoError(t, err)
	defer s.Stop()

	conn, err := net.Dial("tcp", s.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	_, err = io.WriteString(conn, "hello\n")
	require.NoError(t, err)
	line, err := bufio.NewReader(conn).ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "hello\n", line)
}

func TestWebSocketListener(t *testing.T) {
	ln, err := ListenWebSocket("127.0.0.1:0", "/mqtt", zaptest.NewLogger(t))
	require.NoError(t, err)
	s := Serve(ln, OnConn(handleConnection), zaptest.NewLogger(t))
	defer s.Stop()

	dialer := websocket.Dialer{Subprotocols: []string{Subprotocol}}
	ws, _, err := dialer.Dial("ws://"+s.Addr().String()+"/mqtt", nil)
	require.NoError(t, err)
	defer ws.Close()
	require.Equal(t, Subprotocol, ws.Subprotocol())

	// a line split over two messages comes back whole
	require.NoError(t, ws.WriteMessage(websocket.BinaryMessage, []byte("hel")))
	require.NoError(t, ws.WriteMessage(websocket.BinaryMessage, []byte("lo\n")))

	var got []byte
	for len(got) < len("hello\n") {
		mt, data, err := ws.ReadMessage()
		require.NoError(t, err)
		require.Equal(t, websocket.BinaryMessage, mt)
		got = append(got, data...)
	}
	require.Equal(t, "hello\n", string(got))

	t.Run("other paths not upgraded", func(t *testing.T) {
		_, resp, err := dialer.Dial("ws://"+s.Addr().String()+"/other", nil)
		require.Error(t, err)
		if resp != nil {
			require.NotEqual(t, 101, resp.StatusCode)
		}
	})
}

func newPahoClient(t *testing.T, url, id string) mqtt.Client {
	t.Helper()
	opts := mqtt.NewClientOptions().
		AddBroker(url).
		SetClientID(id).
		SetCleanSession(true).
		SetProtocolVersion(4).
		SetAutoReconnect(false).
		SetConnectTimeout(5 * time.Second)
	c := mqtt.NewClient(opts)
	tok := c.Connect()
	require.True(t, tok.WaitTimeout(5*time.Second), "connect timed out")
	require.NoError(t, tok.Error())
	t.Cleanup(func() { c.Disconnect(100) })
	return c
}

// checkRelay subscribes one paho client, publishes from another and
// waits for the delivery to be acknowledged
func checkRelay(t *testing.T, b *broker.Broker, url string) {
	sub := newPahoClient(t, url, "subscriber")
	pub := newPahoClient(t, url, "publisher")

	received := make(chan mqtt.Message, 4)
	tok := sub.Subscribe("sensors/temp", 1, func(_ mqtt.Client, m mqtt.Message) {
		received <- m
	})
	require.True(t, tok.WaitTimeout(5*time.Second))
	require.NoError(t, tok.Error())
	require.Equal(t, byte(1), tok.(*mqtt.SubscribeToken).Result()["sensors/temp"])

	tok = pub.Publish("sensors/temp", 1, false, "21.5")
	require.True(t, tok.WaitTimeout(5*time.Second), "publish not acknowledged")
	require.NoError(t, tok.Error())

	select {
	case m := <-received:
		require.Equal(t, "sensors/temp", m.Topic())
		require.Equal(t, "21.5", string(m.Payload()))
		require.Equal(t, byte(1), m.Qos())
	case <-time.After(5 * time.Second):
		t.Fatal("message not delivered")
	}

	require.Eventually(t, func() bool {
		return b.Stats().PendingDeliveries == 0
	}, 5*time.Second, 10*time.Millisecond, "delivery should be acknowledged")
}

func TestPahoOverTCP(t *testing.T) {
	logger := zaptest.NewLogger(t)
	b := broker.NewBroker(broker.WithLogger(logger))
	s, err := NewServer("127.0.0.1:0", b, logger)
	require.NoError(t, err)
	defer s.Stop()

	checkRelay(t, b, "tcp://"+s.Addr().String())
}

func TestPahoOverWebSocket(t *testing.T) {
	logger := zaptest.NewLogger(t)
	b := broker.NewBroker(broker.WithLogger(logger))
	ln, err := ListenWebSocket("127.0.0.1:0", "/mqtt", logger)
	require.NoError(t, err)
	s := Serve(ln, b, logger)
	defer s.Stop()

	checkRelay(t, b, "ws://"+s.Addr().String()+"/mqtt")
}
