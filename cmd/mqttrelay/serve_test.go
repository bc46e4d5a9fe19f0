package main

import (
	"bytes"
	"context"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/nagamocha3000/go-mqtt-relay/internal/config"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Listeners.TCP.Addr = "127.0.0.1:0"
	cfg.Listeners.WebSocket.Addr = "127.0.0.1:0"
	cfg.Delivery.RetryInterval = 100 * time.Millisecond
	return cfg
}

func connect(t *testing.T, url, id string) mqtt.Client {
	t.Helper()
	c := mqtt.NewClient(mqtt.NewClientOptions().
		AddBroker(url).
		SetClientID(id).
		SetProtocolVersion(4).
		SetAutoReconnect(false))
	tok := c.Connect()
	require.True(t, tok.WaitTimeout(5*time.Second))
	require.NoError(t, tok.Error())
	return c
}

func TestRelayAcrossListeners(t *testing.T) {
	r, err := startRelay(testConfig(), zaptest.NewLogger(t))
	require.NoError(t, err)
	defer r.stop()
	require.Len(t, r.servers, 2)

	tcpURL := "tcp://" + r.servers[0].Addr().String()
	wsURL := "ws://" + r.servers[1].Addr().String() + "/mqtt"

	sub := connect(t, wsURL, "ws-sub")
	defer sub.Disconnect(50)
	pub := connect(t, tcpURL, "tcp-pub")
	defer pub.Disconnect(50)

	got := make(chan string, 1)
	tok := sub.Subscribe("lights/kitchen", 1, func(_ mqtt.Client, m mqtt.Message) {
		got <- string(m.Payload())
	})
	require.True(t, tok.WaitTimeout(5*time.Second))
	require.NoError(t, tok.Error())

	tok = pub.Publish("lights/kitchen", 1, false, "on")
	require.True(t, tok.WaitTimeout(5*time.Second))
	require.NoError(t, tok.Error())

	select {
	case payload := <-got:
		require.Equal(t, "on", payload)
	case <-time.After(5 * time.Second):
		t.Fatal("message not relayed from tcp to websocket")
	}
	require.Eventually(t, func() bool {
		return r.broker.Stats().PendingDeliveries == 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestStartRelayListenError(t *testing.T) {
	cfg := testConfig()
	cfg.Listeners.TCP.Addr = "256.0.0.1:0"
	_, err := startRelay(cfg, zaptest.NewLogger(t))
	require.Error(t, err)
}

func TestServeReturnsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, testConfig(), zaptest.NewLogger(t)) }()

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after cancel")
	}
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version"})
	require.NoError(t, rootCmd.Execute())
	require.Equal(t, "mqttrelay dev\n", out.String())
}
