// Package server manages the write side of authenticated connections: a
// bounded outbound queue drained by one writer goroutine per session.
package server

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/tevino/abool"
)

// Session is the Outbound handle of an authenticated connection. Frames are
// queued by Enqueue and written in order by writePump; a recipient whose
// queue is full is treated as a failed write.
type Session struct {
	id           string
	username     string
	transport    Transport
	send         chan []byte
	done         chan struct{}
	closed       *abool.AtomicBool
	pingInterval time.Duration
	onWriteError func(id string)
	log          zerolog.Logger
}

func newSession(id, username string, t Transport, cfg Config, log zerolog.Logger, onWriteError func(string)) *Session {
	return &Session{
		id:           id,
		username:     username,
		transport:    t,
		send:         make(chan []byte, cfg.OutboundQueueSize),
		done:         make(chan struct{}),
		closed:       abool.New(),
		pingInterval: cfg.PingInterval,
		onWriteError: onWriteError,
		log:          log,
	}
}

// ID returns the connection ID the session is registered under.
func (s *Session) ID() string {
	return s.id
}

// Username returns the authenticated user name.
func (s *Session) Username() string {
	return s.username
}

// Enqueue queues frame for delivery without blocking.
func (s *Session) Enqueue(frame []byte) error {
	if s.closed.IsSet() {
		return ErrSessionClosed
	}
	select {
	case <-s.done:
		return ErrSessionClosed
	case s.send <- frame:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops the writer and closes the transport. Only the first call has
// an effect.
func (s *Session) Close() error {
	if !s.closed.SetToIf(false, true) {
		return nil
	}
	close(s.done)
	if err := s.transport.Close(); err != nil && !isExpectedCloseError(err) {
		return err
	}
	return nil
}

// Done is closed once the session is closed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) writePump() {
	var tick <-chan time.Time
	p, canPing := s.transport.(pinger)
	if canPing && s.pingInterval > 0 {
		ticker := time.NewTicker(s.pingInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-s.done:
			return
		case frame := <-s.send:
			if err := s.transport.WriteFrame(frame); err != nil {
				s.fail(err)
				return
			}
		case <-tick:
			if err := p.Ping(); err != nil {
				s.fail(err)
				return
			}
		}
	}
}

func (s *Session) fail(err error) {
	if s.closed.IsSet() || isExpectedCloseError(err) {
		s.log.Debug().Err(err).Msg("Writer stopped")
	} else {
		s.log.Warn().Err(err).Msg("Write to session failed")
	}
	if s.onWriteError != nil {
		s.onWriteError(s.id)
	}
	_ = s.Close()
}
