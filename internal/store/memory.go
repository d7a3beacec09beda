package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Tyrowin/gorelay/internal/protocol"
)

// Memory is an in-process Store. Passwords are hashed exactly as SQLite
// hashes them, with a salt generated when the store is created.
type Memory struct {
	mu       sync.Mutex
	hasher   *PasswordHasher
	users    map[string]string
	messages []Record
}

// NewMemory returns an empty in-memory store.
func NewMemory(opts ...Option) (*Memory, error) {
	o := buildOptions(opts)
	salt, err := GenerateSalt()
	if err != nil {
		return nil, err
	}
	hasher, err := NewPasswordHasher(salt, o.params)
	if err != nil {
		return nil, err
	}
	return &Memory{hasher: hasher, users: make(map[string]string)}, nil
}

// Authenticate implements Store.
func (m *Memory) Authenticate(_ context.Context, username, password string) (bool, error) {
	m.mu.Lock()
	hash, ok := m.users[username]
	m.mu.Unlock()
	if !ok {
		return false, nil
	}
	return VerifyPassword(hash, password)
}

// Register implements Store.
func (m *Memory) Register(_ context.Context, username, password string) error {
	if username == "" {
		return ErrInvalidUsername
	}
	hash := m.hasher.Hash(password)

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[username]; ok {
		return fmt.Errorf("%w: %q", ErrUserExists, username)
	}
	m.users[username] = hash
	return nil
}

// StoreMessage implements Store.
func (m *Memory) StoreMessage(_ context.Context, msg protocol.ChatMessage) error {
	switch msg.Content.(type) {
	case protocol.Text, protocol.Image, protocol.File:
	default:
		return fmt.Errorf("store: unsupported content %T", msg.Content)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, Record{
		ID:        int64(len(m.messages) + 1),
		Message:   msg,
		CreatedAt: time.Now(),
	})
	return nil
}

// Messages implements History.
func (m *Memory) Messages(_ context.Context, limit int) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var records []Record
	for i := len(m.messages) - 1; i >= 0 && len(records) < limit; i-- {
		records = append(records, m.messages[i])
	}
	return records, nil
}
