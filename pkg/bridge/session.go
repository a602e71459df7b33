// Copyright 2024-2026 Aiku AI

package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// SessionState is the lifecycle manager's current view of the connection.
type SessionState int32

const (
	StateConnecting SessionState = iota
	StateAwaitingScan
	StateOpen
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAwaitingScan:
		return "awaitingScan"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ErrLoggedOut is returned by Run when the remote service invalidated the
// session credentials. The store must be wiped and the device re-paired;
// no reconnect is attempted.
var ErrLoggedOut = errors.New("logged out by remote service")

// ErrSessionClosed is returned for remote calls made while the session is
// not open.
var ErrSessionClosed = errors.New("session is not connected")

type closeReason int

const (
	closeTransient closeReason = iota
	closeLoggedOut
	closeCanceled
)

// Session supervises exactly one live transport session at a time. The
// reconnect policy is a single decision table: a logout close is terminal,
// any other close schedules a full re-establishment after a fixed delay,
// forever. Establishment failures are not retried here; they surface to
// the process entry point, which is fatal.
//
// Session also implements GroupSession by delegating to the currently open
// transport session, so the command surface survives reconnects.
type Session struct {
	transport  Transport
	relay      *Relay
	delay      time.Duration
	onPairCode func(code string)
	log        zerolog.Logger

	state atomic.Int32

	mu      sync.RWMutex
	current TransportSession
}

var _ GroupSession = (*Session)(nil)

// NewSession creates a supervisor that dials through transport and feeds
// inbound batches to relay. delay is the fixed wait before each reconnect.
func NewSession(transport Transport, relay *Relay, delay time.Duration, log zerolog.Logger) *Session {
	return &Session{
		transport: transport,
		relay:     relay,
		delay:     delay,
		log:       log.With().Str("component", "session").Logger(),
	}
}

// OnPairCode registers a callback invoked with each pairing code while the
// session is awaiting a scan. Must be set before Run.
func (s *Session) OnPairCode(fn func(code string)) {
	s.onPairCode = fn
}

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	return SessionState(s.state.Load())
}

func (s *Session) setState(state SessionState) {
	s.state.Store(int32(state))
}

func (s *Session) setCurrent(ts TransportSession) {
	s.mu.Lock()
	s.current = ts
	s.mu.Unlock()
}

func (s *Session) live() (TransportSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil || s.State() != StateOpen {
		return nil, ErrSessionClosed
	}
	return s.current, nil
}

// Run drives the session until the context is cancelled or the remote
// service logs the device out. It returns ErrLoggedOut for a logout close,
// the context error on cancellation, and the dial error verbatim when
// establishment fails.
func (s *Session) Run(ctx context.Context) error {
	for {
		s.setState(StateConnecting)
		s.log.Info().Msg("Establishing session")

		ts, err := s.transport.Dial(ctx)
		if err != nil {
			s.setState(StateClosed)
			return fmt.Errorf("session establishment failed: %w", err)
		}
		s.setCurrent(ts)

		// One drain task per session keeps inbound ordering explicit:
		// batches are relayed strictly in arrival order.
		stop := make(chan struct{})
		drained := make(chan struct{})
		go func() {
			defer close(drained)
			for {
				select {
				case <-stop:
					return
				case batch := <-ts.Batches():
					s.relay.HandleBatch(ctx, batch)
				}
			}
		}()

		reason := s.serve(ctx, ts)

		s.setCurrent(nil)
		s.setState(StateClosed)
		close(stop)
		ts.Close()
		<-drained

		switch reason {
		case closeLoggedOut:
			s.log.Error().Msg("Logged out by remote service, not reconnecting. Wipe the store and re-pair.")
			return ErrLoggedOut
		case closeCanceled:
			return ctx.Err()
		}

		s.log.Info().Dur("delay", s.delay).Msg("Connection closed, scheduling reconnect")
		timer := time.NewTimer(s.delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// serve consumes state events until the session closes and reports why.
func (s *Session) serve(ctx context.Context, ts TransportSession) closeReason {
	for {
		select {
		case <-ctx.Done():
			return closeCanceled
		case evt := <-ts.States():
			switch e := evt.(type) {
			case EventPairCode:
				s.setState(StateAwaitingScan)
				s.log.Info().Msg("Pairing code received, waiting for scan")
				if s.onPairCode != nil {
					s.onPairCode(e.Code)
				}
			case EventConnected:
				s.setState(StateOpen)
				s.log.Info().Str("self_jid", e.SelfJID).Msg("Connected")
			case EventLoggedOut:
				return closeLoggedOut
			case EventDisconnected:
				s.log.Warn().Str("reason", e.Reason).Msg("Connection closed")
				return closeTransient
			}
		}
	}
}

// JoinWithInvite implements GroupSession against the currently open session.
func (s *Session) JoinWithInvite(ctx context.Context, code string) (string, error) {
	ts, err := s.live()
	if err != nil {
		return "", err
	}
	return ts.JoinWithInvite(ctx, code)
}

// LeaveGroup implements GroupSession against the currently open session.
func (s *Session) LeaveGroup(ctx context.Context, groupJID string) error {
	ts, err := s.live()
	if err != nil {
		return err
	}
	return ts.LeaveGroup(ctx, groupJID)
}

// SendText implements GroupSession against the currently open session.
func (s *Session) SendText(ctx context.Context, groupJID, text string) error {
	ts, err := s.live()
	if err != nil {
		return err
	}
	return ts.SendText(ctx, groupJID, text)
}

// GroupInfo implements GroupSession against the currently open session.
func (s *Session) GroupInfo(ctx context.Context, groupJID string) (*GroupInfo, error) {
	ts, err := s.live()
	if err != nil {
		return nil, err
	}
	return ts.GroupInfo(ctx, groupJID)
}
