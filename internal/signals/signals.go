package signals

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/rs/zerolog/log"
)

// ErrNoSignals is returned by Install when none of the requested signals could be watched
var ErrNoSignals = errors.New("no shutdown signal installed")

// ByName returns the syscall.Signal for a given signal name
func ByName(name string) syscall.Signal {
	switch name {
	case "SIGINT":
		return syscall.SIGINT
	case "SIGTERM":
		return syscall.SIGTERM
	case "SIGHUP":
		return syscall.SIGHUP
	case "SIGQUIT":
		return syscall.SIGQUIT
	case "SIGUSR1":
		return syscall.SIGUSR1
	case "SIGUSR2":
		return syscall.SIGUSR2
	default:
		return syscall.Signal(0) // Invalid signal
	}
}

// IsValid checks if the signal is valid (not zero).
// SIGKILL and SIGSTOP cannot be caught and are rejected by ByName.
func IsValid(sig syscall.Signal) bool {
	return sig != 0
}

// State is the process-wide shutdown state.
//
// Flags are written only from the signal goroutine and read by the serve loop.
// Done is closed once, on the first shutdown signal.
type State struct {
	interrupt atomic.Bool
	terminate atomic.Bool
	first     atomic.Int32
	done      chan struct{}
	once      sync.Once
}

// NewState creates an empty shutdown state
func NewState() *State {
	return &State{done: make(chan struct{})}
}

// Record marks a shutdown request for sig.
// SIGINT sets the interrupt flag, every other signal the terminate flag.
func (s *State) Record(sig os.Signal) {
	if sig == syscall.SIGINT {
		s.interrupt.Store(true)
	} else {
		s.terminate.Store(true)
	}
	if ss, ok := sig.(syscall.Signal); ok {
		s.first.CompareAndSwap(0, int32(ss))
	}
	s.once.Do(func() { close(s.done) })
}

// Interrupted reports whether an interrupt was requested
func (s *State) Interrupted() bool {
	return s.interrupt.Load()
}

// Terminated reports whether termination was requested
func (s *State) Terminated() bool {
	return s.terminate.Load()
}

// Requested reports whether any shutdown signal was observed
func (s *State) Requested() bool {
	return s.Interrupted() || s.Terminated()
}

// Signal returns the first shutdown signal received, or 0
func (s *State) Signal() syscall.Signal {
	return syscall.Signal(s.first.Load())
}

// Done returns a channel closed on the first shutdown signal
func (s *State) Done() <-chan struct{} {
	return s.done
}

// Install watches the named signals and records them into a new State.
//
// Names that do not resolve are logged and skipped; the process keeps running
// without them. ErrNoSignals is returned alongside a usable State when nothing
// could be installed. Watching stops when ctx is cancelled.
func Install(ctx context.Context, names ...string) (*State, error) {
	s := NewState()

	var sigs []os.Signal
	for _, name := range names {
		sig := ByName(name)
		if !IsValid(sig) {
			log.Ctx(ctx).Warn().Str("signal", name).Msg("cannot install handler for signal")
			continue
		}
		sigs = append(sigs, sig)
	}
	if len(sigs) == 0 {
		return s, ErrNoSignals
	}

	ch := make(chan os.Signal, len(sigs))
	signal.Notify(ch, sigs...)

	go func() {
		defer signal.Stop(ch)
		for {
			select {
			case sig := <-ch:
				s.Record(sig)
			case <-ctx.Done():
				return
			}
		}
	}()

	log.Ctx(ctx).Debug().Strs("signals", names).Msg("signal handlers installed")
	return s, nil
}
