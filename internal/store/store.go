// Package store holds user credentials and the append-only message log.
//
// Store is the contract the relay server depends on. SQLite is the durable
// implementation; Memory keeps everything in process and is meant for tests
// and embedding.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/Tyrowin/gorelay/internal/protocol"
)

var (
	// ErrUserExists is returned by Register for a username that is taken.
	ErrUserExists = errors.New("store: user already exists")
	// ErrInvalidUsername is returned by Register for an empty username.
	ErrInvalidUsername = errors.New("store: username must not be empty")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("store: closed")
)

// Store authenticates users and records chat messages. Implementations are
// safe for concurrent use and may block the calling goroutine on I/O.
type Store interface {
	// Authenticate reports whether password matches the stored credential.
	// An unknown username is not an error; it simply does not authenticate.
	Authenticate(ctx context.Context, username, password string) (bool, error)
	// Register creates a credential record.
	Register(ctx context.Context, username, password string) error
	// StoreMessage appends msg to the message log.
	StoreMessage(ctx context.Context, msg protocol.ChatMessage) error
}

// History reads back the message log.
type History interface {
	// Messages returns up to limit of the most recent records, newest first.
	Messages(ctx context.Context, limit int) ([]Record, error)
}

// Record is one stored chat message.
type Record struct {
	ID        int64
	Message   protocol.ChatMessage
	CreatedAt time.Time
}

// Content type discriminators persisted with every message.
const (
	contentText  = 1
	contentImage = 2
	contentFile  = 3
)
