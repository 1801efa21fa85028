package aesdlib

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/117503445/aesdsocket/internal/listener"
	"github.com/117503445/aesdsocket/internal/server"
	"github.com/117503445/aesdsocket/internal/types"
)

// internalServer is a wrapper around the internal server implementation
type internalServer struct {
	cfg *types.Config
	srv *server.Server

	mu   sync.Mutex
	addr net.Addr
}

func newServer(cfg *Config) *internalServer {
	internalCfg := types.DefaultConfig()
	internalCfg.ListenAddr = cfg.ListenAddr
	internalCfg.DataFile = cfg.DataFile
	internalCfg.ChunkSize = cfg.ChunkSize
	internalCfg.Backlog = cfg.Backlog
	internalCfg.PeerErrorsFatal = cfg.PeerErrorsFatal
	internalCfg.PIDFile = ""

	// No signal state: the embedding program owns its signals and calls Stop.
	return &internalServer{
		cfg: internalCfg,
		srv: server.NewServer(internalCfg, nil),
	}
}

// Start binds the listen address and serves until Stop or ctx is done
func (s *internalServer) Start(ctx context.Context) error {
	ln, err := listener.Listen(s.cfg.ListenAddr, s.cfg.Backlog)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.addr = ln.Addr()
	s.mu.Unlock()

	stop := context.AfterFunc(ctx, s.srv.Stop)
	defer stop()

	return s.srv.Serve(ctx, ln)
}

// Stop stops the server gracefully
func (s *internalServer) Stop() {
	s.srv.Stop()
}

func (s *internalServer) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// validateConfig validates the configuration
func validateConfig(c *Config) error {
	if c.ListenAddr == "" {
		c.ListenAddr = types.DefaultListenAddr
	}
	if c.DataFile == "" {
		c.DataFile = types.DefaultDataFile
	}
	if c.ChunkSize == 0 {
		c.ChunkSize = types.DefaultChunkSize
	}
	if c.Backlog == 0 {
		c.Backlog = types.DefaultBacklog
	}

	cfg := types.DefaultConfig()
	cfg.ListenAddr = c.ListenAddr
	cfg.DataFile = c.DataFile
	cfg.ChunkSize = c.ChunkSize
	cfg.Backlog = c.Backlog
	cfg.PIDFile = ""
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}
