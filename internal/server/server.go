package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/117503445/aesdsocket/internal/packet"
	"github.com/117503445/aesdsocket/internal/signals"
	"github.com/117503445/aesdsocket/internal/store"
	"github.com/117503445/aesdsocket/internal/types"
)

// Server represents the packet log server
type Server struct {
	cfg   *types.Config
	store *store.Store
	state *signals.State

	mu       sync.Mutex
	active   net.Conn // Connection being served, nil while accepting
	stopping bool     // Set by Stop; Serve no longer joins wg

	wg       sync.WaitGroup
	quit     chan struct{}
	quitOnce sync.Once
}

// NewServer creates a new server. A nil state means only Stop ends serving.
func NewServer(cfg *types.Config, state *signals.State) *Server {
	if state == nil {
		state = signals.NewState()
	}
	return &Server{
		cfg:   cfg,
		store: store.New(cfg.DataFile, cfg.ChunkSize),
		state: state,
		quit:  make(chan struct{}),
	}
}

// Store returns the server's packet log
func (s *Server) Store() *store.Store {
	return s.store
}

// Serve accepts connections on ln and serves them one at a time.
//
// It returns nil after a shutdown signal or Stop, having removed the packet
// log. Any other return is a failure and leaves the log in place.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if s.begin() {
		defer s.wg.Done()
	}

	stop := make(chan struct{})
	defer close(stop)
	go s.watchShutdown(ctx, ln, stop)

	log.Ctx(ctx).Info().Str("addr", ln.Addr().String()).Str("data_file", s.store.Path()).Msg("server listening")

	if err := s.acceptLoop(ctx, ln); err != nil {
		ln.Close()
		return err
	}

	if sig := s.state.Signal(); sig != 0 {
		log.Ctx(ctx).Info().Stringer("signal", sig).Msg("caught signal, exiting")
	} else {
		log.Ctx(ctx).Info().Msg("stop requested, exiting")
	}
	if err := s.store.Remove(); err != nil {
		return err
	}
	return nil
}

// begin registers a Serve call with wg unless Stop has already started waiting
func (s *Server) begin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopping {
		return false
	}
	s.wg.Add(1)
	return true
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) error {
	for {
		if s.shuttingDown() {
			return nil
		}

		conn, err := ln.Accept()
		if err != nil {
			if s.shuttingDown() {
				return nil
			}
			return fmt.Errorf("%w: %w", ErrAccept, err)
		}

		if err := s.handleConnection(ctx, conn); err != nil {
			if s.shuttingDown() {
				return nil
			}
			return err
		}
	}
}

// watchShutdown unblocks Accept and any in-flight connection I/O once shutdown begins
func (s *Server) watchShutdown(ctx context.Context, ln net.Listener, stop <-chan struct{}) {
	select {
	case <-s.state.Done():
	case <-s.quit:
	case <-stop:
		return
	}

	log.Ctx(ctx).Debug().Msg("shutdown requested, interrupting blocking calls")
	ln.Close()

	s.mu.Lock()
	if s.active != nil {
		s.active.SetDeadline(time.Now())
	}
	s.mu.Unlock()
}

func (s *Server) shuttingDown() bool {
	if s.state.Requested() {
		return true
	}
	select {
	case <-s.quit:
		return true
	default:
		return false
	}
}

func (s *Server) setActive(conn net.Conn) {
	s.mu.Lock()
	s.active = conn
	s.mu.Unlock()
}

// handleConnection runs receive, append, replay cycles until the peer closes.
//
// Store failures are returned. Peer failures are logged and swallowed unless
// PeerErrorsFatal is set.
func (s *Server) handleConnection(ctx context.Context, conn net.Conn) error {
	defer conn.Close()
	s.setActive(conn)
	defer s.setActive(nil)

	connCtx := log.Ctx(ctx).With().
		Str("remote", conn.RemoteAddr().String()).
		Logger().WithContext(ctx)

	log.Ctx(connCtx).Info().Msg("accepted connection")

	st := stateAccepted
	rc := packet.NewReceiver(conn, s.cfg.ChunkSize)

	for {
		if s.shuttingDown() {
			return nil
		}

		st = st.to(connCtx, stateReceiving)
		p, err := rc.Next()
		if errors.Is(err, io.EOF) {
			if rc.Pending() > 0 {
				log.Ctx(connCtx).Warn().Int("bytes", rc.Pending()).Msg("discarding unterminated packet")
			}
			st.to(connCtx, stateClosed)
			log.Ctx(connCtx).Info().Msg("closed connection")
			return nil
		}
		if err != nil {
			return s.peerError(connCtx, fmt.Errorf("%w: %w", ErrReceive, err))
		}

		if err := s.store.Append(p); err != nil {
			st.to(connCtx, stateAppendFailed)
			log.Ctx(connCtx).Error().Err(err).Msg("failed to append packet")
			return err
		}
		st = st.to(connCtx, stateAppended)

		st = st.to(connCtx, stateSending)
		n, err := s.store.Replay(conn)
		if err != nil {
			if errors.Is(err, store.ErrDeliver) {
				st.to(connCtx, stateSendFailed)
				return s.peerError(connCtx, err)
			}
			log.Ctx(connCtx).Error().Err(err).Msg("failed to replay store")
			return err
		}
		st = st.to(connCtx, stateDone)

		log.Ctx(connCtx).Debug().Int("packet", len(p)).Int64("replayed", n).Msg("packet stored")
	}
}

func (s *Server) peerError(ctx context.Context, err error) error {
	if s.shuttingDown() {
		return nil
	}
	log.Ctx(ctx).Error().Err(err).Msg("connection failed")
	if s.cfg.PeerErrorsFatal {
		return err
	}
	return nil
}

// Stop stops the server gracefully and waits for Serve to return
func (s *Server) Stop() {
	s.mu.Lock()
	s.stopping = true
	s.mu.Unlock()

	s.quitOnce.Do(func() { close(s.quit) })
	s.wg.Wait()
	log.Info().Msg("server stopped")
}
