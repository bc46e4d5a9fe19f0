package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/nagamocha3000/go-mqtt-relay/internal/broker"
	"github.com/nagamocha3000/go-mqtt-relay/internal/config"
	"github.com/nagamocha3000/go-mqtt-relay/internal/logging"
	"github.com/nagamocha3000/go-mqtt-relay/internal/server"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var configPath string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the broker and block until interrupted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		logger, err := logging.New(cfg.Logging)
		if err != nil {
			return err
		}
		defer logger.Sync()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg, logger)
	},
}

func init() {
	serveCmd.Flags().StringVarP(&configPath, "config", "c", "", "path to the YAML config file")
}

// relay is a broker plus the listeners feeding it
type relay struct {
	broker  *broker.Broker
	servers []*server.Server
	logger  *zap.Logger
}

func startRelay(cfg *config.Config, logger *zap.Logger) (*relay, error) {
	b := broker.NewBroker(
		broker.WithLogger(logger.Named("broker")),
		broker.WithRetryInterval(cfg.Delivery.RetryInterval),
		broker.WithSendQueueSize(cfg.Session.SendQueue),
		broker.WithMaxPacketSize(cfg.Session.MaxPacketSize),
		broker.WithWriteTimeout(cfg.Session.WriteTimeout),
		broker.WithConnectTimeout(cfg.Session.ConnectTimeout),
		broker.WithSessionTrace(broker.LogSessions(logger.Named("session"))),
	)
	r := &relay{broker: b, logger: logger}

	if addr := cfg.Listeners.TCP.Addr; addr != "" {
		s, err := server.NewServer(addr, b, logger.Named("tcp"))
		if err != nil {
			r.stop()
			return nil, errors.Wrapf(err, "listening on %s", addr)
		}
		r.servers = append(r.servers, s)
	}
	if ws := cfg.Listeners.WebSocket; ws.Addr != "" {
		ln, err := server.ListenWebSocket(ws.Addr, ws.Path, logger.Named("ws"))
		if err != nil {
			r.stop()
			return nil, errors.Wrapf(err, "listening for websockets on %s", ws.Addr)
		}
		r.servers = append(r.servers, server.Serve(ln, b, logger.Named("ws")))
	}
	return r, nil
}

func (r *relay) stop() {
	for _, s := range r.servers {
		s.Stop()
	}
	r.broker.Close()
	st := r.broker.Stats()
	r.logger.Info("broker stopped",
		zap.Int("connections", st.Connections),
		zap.Int("topics", st.Topics),
		zap.Int("pending_deliveries", st.PendingDeliveries),
	)
}

// serve runs the relay until ctx is done
func serve(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	r, err := startRelay(cfg, logger)
	if err != nil {
		return err
	}
	logger.Info("relay started",
		zap.String("tcp", cfg.Listeners.TCP.Addr),
		zap.String("ws", cfg.Listeners.WebSocket.Addr),
		zap.Duration("retry_interval", cfg.Delivery.RetryInterval),
	)
	<-ctx.Done()
	logger.Info("shutting down")
	r.stop()
	return nil
}
