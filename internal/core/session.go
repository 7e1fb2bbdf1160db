package core

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirerelay/internal/metrics"
	"github.com/vovakirdan/wirerelay/internal/proto"
)

// State is the lifecycle state of a session.
type State int

const (
	// StateConnecting is the initial state, before a successful IDENTIFY.
	StateConnecting State = iota
	// StateIdentified means the connection is bound to a user and registered.
	StateIdentified
	// StateClosed is terminal.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateIdentified:
		return "identified"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session is the per-connection state machine. It owns its Conn and the
// connection's registry entry.
type Session struct {
	conn       *Conn
	registry   *Registry
	oracle     MembershipOracle
	dispatcher *Dispatcher
	log        zerolog.Logger
	metrics    *metrics.Metrics

	mu     sync.Mutex
	state  State
	userID string
	// kicked is set once a forced close was requested; later frames are dropped.
	kicked bool

	closeOnce sync.Once
	onClose   func(*Session)
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// UserID returns the identified user, empty before IDENTIFY succeeds.
func (s *Session) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

// Conn returns the session's connection.
func (s *Session) Conn() *Conn {
	return s.conn
}

// Handle applies one decoded inbound frame.
func (s *Session) Handle(ctx context.Context, frame proto.Frame) {
	s.mu.Lock()
	state, userID, kicked := s.state, s.userID, s.kicked
	s.mu.Unlock()

	if state == StateClosed || kicked {
		return
	}

	switch frame.Kind {
	case proto.KindHeartbeat:
		s.reply(ctx, proto.AliveFrame())
	case proto.KindIdentify:
		s.identify(ctx, state, userID, frame.Identify)
	case proto.KindSendMessage:
		if state != StateIdentified {
			s.replyError(ctx, errUnauthenticated)
			return
		}
		if frame.Send == nil {
			s.replyError(ctx, errChannelRequired)
			return
		}
		if _, err := s.dispatcher.Send(ctx, userID, *frame.Send); err != nil {
			s.replyError(ctx, err)
		}
	default:
		s.log.Debug().Str("type", frame.Type).Msg("ignoring unrecognized frame")
	}
}

func (s *Session) identify(ctx context.Context, state State, current string, p *proto.IdentifyPayload) {
	if state == StateIdentified {
		if p == nil || p.Validate() != nil {
			// Keep the existing binding.
			s.replyError(ctx, errUserIDRequired)
			return
		}
		if p.UserID != current {
			s.replyError(ctx, errAlreadyIdentified)
			return
		}
		// Same user again: Register is idempotent.
		s.registry.Register(current, s.conn)
		s.reply(ctx, proto.SuccessFrame("Connected successfully"))
		return
	}

	if p == nil || p.Validate() != nil {
		s.reject(ctx, errUserIDRequired)
		return
	}

	exists, err := s.oracle.UserExists(ctx, p.UserID)
	if err != nil {
		s.log.Error().Err(err).Str("user_id", p.UserID).Msg("user lookup failed")
		s.replyError(ctx, errDatabase)
		return
	}
	if !exists {
		s.log.Info().Str("user_id", p.UserID).Msg("connection rejected: user does not exist")
		s.reject(ctx, errInvalidUser)
		return
	}

	s.mu.Lock()
	if s.state == StateClosed || s.kicked {
		s.mu.Unlock()
		return
	}
	s.userID = p.UserID
	s.state = StateIdentified
	s.mu.Unlock()
	s.metrics.Incr(metrics.Identified, 1)

	if !s.registry.Register(p.UserID, s.conn) {
		// Closed while identifying; Close already ran its cleanup.
		return
	}
	s.log.Info().
		Str("user_id", p.UserID).
		Int("devices", len(s.registry.ConnectionsFor(p.UserID))).
		Msg("user connected")

	s.reply(ctx, proto.SuccessFrame("Connected successfully"))
}

// reject sends an error and then asks the transport to close the connection.
// From then on the session handles no more frames.
func (s *Session) reject(ctx context.Context, err *CoreError) {
	s.mu.Lock()
	s.kicked = true
	s.mu.Unlock()

	s.replyError(ctx, err)
	s.conn.Kick()
}

func (s *Session) replyError(ctx context.Context, err error) {
	var coreErr *CoreError
	if !errors.As(err, &coreErr) {
		coreErr = errDatabase
	}
	s.reply(ctx, proto.ErrorFrame(coreErr.Code, coreErr.Message))
}

func (s *Session) reply(ctx context.Context, out proto.Outbound) {
	frame, err := proto.Encode(out)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to encode reply")
		return
	}
	if err := s.conn.Reply(ctx, frame); err != nil {
		s.log.Debug().Err(err).Str("type", out.Type).Msg("reply not queued")
	}
}

// Close ends the session. It runs once no matter how often or from where
// it is called: the connection is closed and, if the session was
// identified, removed from the registry.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		userID := s.userID
		s.state = StateClosed
		s.mu.Unlock()

		s.conn.Close()
		s.metrics.Decr(metrics.Connections, 1)

		if userID != "" {
			if s.registry.Unregister(userID, s.conn) == 0 {
				s.log.Info().Str("user_id", userID).Msg("user went offline")
			}
			s.metrics.Decr(metrics.Identified, 1)
		}

		if s.onClose != nil {
			s.onClose(s)
		}
	})
}
