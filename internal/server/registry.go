// Package server coordinates session registration, message broadcast, and
// eviction of failed recipients through the Registry type.
package server

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/Tyrowin/gorelay/internal/protocol"
)

type registryEntry struct {
	username string
	out      Outbound
}

// Registry is the table of authenticated sessions keyed by connection ID.
// Add, Remove and Broadcast are serialized by one mutex, so a broadcast
// finishes its fan-out pass before the table changes.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]registryEntry
	log      zerolog.Logger
	metrics  *Metrics
}

// NewRegistry creates an empty Registry.
func NewRegistry(log zerolog.Logger, metrics *Metrics) *Registry {
	if metrics == nil {
		metrics = NewMetrics()
	}
	return &Registry{
		sessions: make(map[string]registryEntry),
		log:      log.With().Str("component", "registry").Logger(),
		metrics:  metrics,
	}
}

// Add inserts the session for id, replacing and closing any previous one.
func (r *Registry) Add(id, username string, out Outbound) {
	r.mu.Lock()
	prev, replaced := r.sessions[id]
	r.sessions[id] = registryEntry{username: username, out: out}
	count := r.countLocked()
	r.mu.Unlock()

	if replaced && prev.out != out {
		_ = prev.out.Close()
	}
	r.log.Info().Str("session", id).Str("user", username).Int("sessions", count).Msg("Session registered")
}

// Remove deletes the session for id. It is a no-op if id is not registered.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	entry, ok := r.removeLocked(id)
	count := r.countLocked()
	r.mu.Unlock()

	if ok {
		r.log.Info().Str("session", id).Str("user", entry.username).Int("sessions", count).Msg("Session unregistered")
	}
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Broadcast queues msg to every registered session except author. Sessions
// that fail to accept the frame are removed and closed once the pass over
// all recipients is complete. Recipient failures are not reported to the
// caller; only an encoding failure is.
func (r *Registry) Broadcast(author string, msg protocol.ChatMessage) error {
	frame, err := protocol.EncodeFrame(protocol.Message{ChatMessage: msg})
	if err != nil {
		return fmt.Errorf("broadcast from %s: %w", author, err)
	}

	r.mu.Lock()
	r.log.Debug().Str("session", author).Msg("Broadcasting a message")

	var failed []string
	delivered := 0
	for id, entry := range r.sessions {
		if id == author {
			continue
		}
		if err := entry.out.Enqueue(frame); err != nil {
			r.log.Warn().Err(err).Str("session", id).Str("user", entry.username).Msg("Write to session failed")
			failed = append(failed, id)
			continue
		}
		r.log.Debug().Str("session", id).Msg("Forwarded the message")
		delivered++
	}

	evicted := make([]registryEntry, 0, len(failed))
	for _, id := range failed {
		if entry, ok := r.removeLocked(id); ok {
			evicted = append(evicted, entry)
		}
	}
	count := r.countLocked()
	r.mu.Unlock()

	r.metrics.deliveries.Add(float64(delivered))
	r.metrics.evictions.Add(float64(len(evicted)))

	// Close handles after releasing the lock.
	for _, entry := range evicted {
		_ = entry.out.Close()
		r.log.Warn().Str("user", entry.username).Int("sessions", count).Msg("Session evicted")
	}
	return nil
}

// CloseAll removes and closes every session.
func (r *Registry) CloseAll() int {
	r.mu.Lock()
	entries := make([]registryEntry, 0, len(r.sessions))
	for id := range r.sessions {
		if entry, ok := r.removeLocked(id); ok {
			entries = append(entries, entry)
		}
	}
	r.countLocked()
	r.mu.Unlock()

	for _, entry := range entries {
		_ = entry.out.Close()
	}
	r.log.Info().Int("closed", len(entries)).Msg("Closed all sessions")
	return len(entries)
}

func (r *Registry) removeLocked(id string) (registryEntry, bool) {
	r.assertLocked()
	entry, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	return entry, ok
}

func (r *Registry) countLocked() int {
	r.assertLocked()
	n := len(r.sessions)
	r.metrics.sessions.Set(float64(n))
	return n
}

// assertLocked panics when the registry lock is not held; the table can no
// longer be trusted at that point.
func (r *Registry) assertLocked() {
	if r.mu.TryLock() {
		r.mu.Unlock()
		panic("server: registry accessed without holding its lock")
	}
}
