// Package server runs the per-connection state machine: login, the chat
// message loop, and teardown.
package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/Tyrowin/gorelay/internal/protocol"
)

type connState int

const (
	stateUnauthenticated connState = iota
	stateAuthenticated
	stateClosed
)

func (s connState) String() string {
	switch s {
	case stateUnauthenticated:
		return "unauthenticated"
	case stateAuthenticated:
		return "authenticated"
	case stateClosed:
		return "closed"
	default:
		return fmt.Sprintf("connState(%d)", int(s))
	}
}

// connection is owned by the goroutine running handle; only the session it
// creates is shared.
type connection struct {
	srv       *Server
	id        string
	transport Transport
	state     connState
	username  string
	session   *Session
	limiter   *rateLimiter
	log       zerolog.Logger
}

func (s *Server) newConnection(t Transport, kind string) *connection {
	id := uuid.NewString()
	return &connection{
		srv:       s,
		id:        id,
		transport: t,
		state:     stateUnauthenticated,
		limiter:   newConnLimiter(s.cfg.RateLimit),
		log: s.log.With().
			Str("session_id", id).
			Str("remote", t.RemoteAddr()).
			Str("transport", kind).
			Logger(),
	}
}

// handle drives one connection from accept to close. Errors end the
// connection and are logged here; they never reach the accept loop.
func (s *Server) handle(t Transport, kind string) {
	c := s.newConnection(t, kind)
	stop := context.AfterFunc(s.ctx, func() { _ = t.Close() })
	defer stop()
	defer c.close()

	c.log.Info().Msg("Connection accepted")

	if err := c.authenticate(s.ctx); err != nil {
		c.log.Info().Err(err).Msg("Login rejected")
		return
	}

	err := c.serve(s.ctx)
	switch {
	case errors.Is(err, ErrSpoofing):
		c.log.Warn().Err(err).Msg("Closing connection")
	case err == nil, errors.Is(err, protocol.ErrIO), s.ctx.Err() != nil:
		c.log.Info().Err(err).Msg("Connection closed")
	default:
		c.log.Error().Err(err).Msg("Connection failed")
	}
}

// authenticate runs the Unauthenticated state: exactly one Login datagram,
// answered with LoginOK or LoginFailed.
func (c *connection) authenticate(ctx context.Context) error {
	if err := c.armIdleDeadline(); err != nil {
		return fmt.Errorf("%w: %w", ErrLogin, err)
	}
	d, err := c.transport.ReadDatagram()
	if err != nil {
		return fmt.Errorf("%w: read login: %w", ErrLogin, err)
	}
	login, ok := d.(protocol.Login)
	if !ok {
		return fmt.Errorf("%w: first datagram is %T, not a login", ErrLogin, d)
	}

	log := c.log.With().Str("username", login.Username).Logger()
	authenticated, err := c.srv.store.Authenticate(ctx, login.Username, login.Password)
	if err != nil {
		c.srv.metrics.storeErrors.Inc()
		log.Error().Err(err).Msg("Credential check failed")
	}
	if err != nil || !authenticated {
		c.srv.metrics.logins.WithLabelValues("failed").Inc()
		if werr := c.respond(protocol.LoginFailed); werr != nil {
			log.Debug().Err(werr).Msg("Could not deliver login failure")
		}
		return fmt.Errorf("%w: bad credentials for %q", ErrLogin, login.Username)
	}

	if err := c.respond(protocol.LoginOK); err != nil {
		return fmt.Errorf("%w: %w", ErrLogin, err)
	}
	c.srv.metrics.logins.WithLabelValues("ok").Inc()

	c.username = login.Username
	c.log = log
	c.session = newSession(c.id, c.username, c.transport, c.srv.cfg, log, c.srv.registry.Remove)
	c.srv.wg.Add(1)
	go func() {
		defer c.srv.wg.Done()
		c.session.writePump()
	}()
	c.srv.registry.Add(c.id, c.username, c.session)
	c.state = stateAuthenticated

	log.Info().Msg("User logged in")
	return nil
}

// respond writes a server response directly; the writer pump is not running
// yet, so this is the only writer.
func (c *connection) respond(r protocol.ServerResponse) error {
	frame, err := protocol.EncodeFrame(r)
	if err != nil {
		return err
	}
	return c.transport.WriteFrame(frame)
}

// serve runs the Authenticated state until the transport fails or the
// client misbehaves.
func (c *connection) serve(ctx context.Context) error {
	for {
		if err := c.armIdleDeadline(); err != nil {
			return err
		}
		d, err := c.transport.ReadDatagram()
		if errors.Is(err, protocol.ErrMalformed) {
			c.srv.metrics.malformed.Inc()
			c.log.Warn().Err(err).Msg("Discarding malformed datagram")
			continue
		}
		if err != nil {
			return err
		}

		switch d := d.(type) {
		case protocol.Message:
			if err := c.relay(ctx, d.ChatMessage); err != nil {
				return err
			}
		case protocol.Login, protocol.ServerResponse:
			c.log.Warn().Str("datagram", fmt.Sprintf("%T", d)).Msg("Ignoring unexpected datagram")
		}
	}
}

// relay persists and broadcasts one chat message. Both are attempted even
// if the other fails; only spoofing ends the connection.
func (c *connection) relay(ctx context.Context, msg protocol.ChatMessage) error {
	if msg.Sender != c.username {
		return fmt.Errorf("%w: %q sent a message as %q", ErrSpoofing, c.username, msg.Sender)
	}
	if c.limiter != nil && !c.limiter.allow() {
		c.log.Warn().
			Int("burst", c.srv.cfg.RateLimit.Burst).
			Dur("interval", c.srv.cfg.RateLimit.RefillInterval).
			Msg("Rate limit exceeded; discarding message")
		return nil
	}

	kind := protocol.KindOf(msg.Content)
	c.srv.metrics.messages.WithLabelValues(kind).Inc()
	c.log.Debug().Str("type", kind).Msg("Relaying message")

	var g errgroup.Group
	g.Go(func() error {
		if err := c.srv.store.StoreMessage(ctx, msg); err != nil {
			c.srv.metrics.storeErrors.Inc()
			return fmt.Errorf("store message: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return c.srv.registry.Broadcast(c.id, msg)
	})
	if err := g.Wait(); err != nil {
		c.log.Error().Err(err).Msg("Relaying message failed")
	}
	return nil
}

func (c *connection) armIdleDeadline() error {
	if c.srv.cfg.IdleTimeout <= 0 {
		return nil
	}
	if err := c.transport.SetReadDeadline(time.Now().Add(c.srv.cfg.IdleTimeout)); err != nil {
		return fmt.Errorf("%w: set read deadline: %w", protocol.ErrIO, err)
	}
	return nil
}

func (c *connection) close() {
	prev := c.state
	c.state = stateClosed

	if prev == stateAuthenticated {
		c.srv.registry.Remove(c.id)
		if err := c.session.Close(); err != nil {
			c.log.Debug().Err(err).Msg("Error closing session")
		}
	} else if err := c.transport.Close(); err != nil && !isExpectedCloseError(err) {
		c.log.Debug().Err(err).Msg("Error closing connection")
	}
	c.log.Debug().Stringer("from", prev).Msg("Connection state closed")
}
