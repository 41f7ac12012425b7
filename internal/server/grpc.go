package server

import (
	"fmt"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/keepalive"

	"github.com/VGCH/alpha-private-speaker-connector/internal/config"
	"github.com/VGCH/alpha-private-speaker-connector/internal/protocol"
)

// GRPCServer hosts the AlphaSpeakerService on the configured listener.
type GRPCServer struct {
	cfg     *config.Config
	logger  *slog.Logger
	service *Service
	server  *grpc.Server
}

// NewGRPCServer builds the gRPC server around the service implementation.
func NewGRPCServer(cfg *config.Config, logger *slog.Logger, service *Service) *GRPCServer {
	maxMsgSize := cfg.Server.MaxMessageSizeMB * 1024 * 1024

	server := grpc.NewServer(
		grpc.ForceServerCodec(protocol.Codec()),
		grpc.MaxRecvMsgSize(maxMsgSize),
		grpc.MaxSendMsgSize(maxMsgSize),
		grpc.MaxConcurrentStreams(uint32(cfg.Server.MaxConcurrentStreams)),
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    10 * time.Second,
			Timeout: 5 * time.Second,
		}),
	)
	protocol.RegisterAlphaSpeakerServiceServer(server, service)

	return &GRPCServer{
		cfg:     cfg,
		logger:  logger,
		service: service,
		server:  server,
	}
}

// Start begins serving speaker connections.
func (g *GRPCServer) Start() error {
	addr := fmt.Sprintf("%s:%d", g.cfg.Server.BindAddress, g.cfg.Server.GRPCPort)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	g.logger.Info("Starting gRPC speaker server",
		slog.String("address", addr),
		slog.Int("max_message_size_mb", g.cfg.Server.MaxMessageSizeMB),
		slog.Int("max_concurrent_streams", g.cfg.Server.MaxConcurrentStreams),
	)

	go func() {
		if err := g.server.Serve(listener); err != nil {
			g.logger.Error("gRPC server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop shuts the server down, waiting up to timeout for in-flight calls
// before forcing the close.
func (g *GRPCServer) Stop(timeout time.Duration) {
	g.logger.Info("Stopping gRPC speaker server...")

	// Stop stream loops first so GracefulStop does not wait on them.
	g.service.Shutdown()

	done := make(chan struct{})
	go func() {
		g.server.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		g.logger.Warn("Graceful stop timed out, forcing close")
		g.server.Stop()
	}
}
