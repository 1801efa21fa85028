package server

import (
	"context"

	"github.com/rs/zerolog/log"
)

// connState is a step in a connection's receive, append, replay cycle
type connState int

const (
	stateAccepted connState = iota
	stateReceiving
	stateAppendFailed
	stateAppended
	stateSending
	stateSendFailed
	stateDone
	stateClosed
)

func (s connState) String() string {
	switch s {
	case stateAccepted:
		return "accepted"
	case stateReceiving:
		return "receiving"
	case stateAppendFailed:
		return "append_failed"
	case stateAppended:
		return "appended"
	case stateSending:
		return "sending"
	case stateSendFailed:
		return "send_failed"
	case stateDone:
		return "done"
	case stateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// to logs the transition and returns next
func (s connState) to(ctx context.Context, next connState) connState {
	log.Ctx(ctx).Debug().Stringer("from", s).Stringer("to", next).Msg("connection state")
	return next
}
