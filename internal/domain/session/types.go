// Package session tracks the single upstream session the bridge shares
// between all callers.
package session

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
)

// State is the lifecycle state of the upstream session slot.
type State string

const (
	// StateAbsent means no session is cached, including while a handshake
	// is in flight.
	StateAbsent State = "absent"
	// StateActive means a valid session is cached.
	StateActive State = "active"
)

// Session is a snapshot of the cached upstream session.
type Session struct {
	// ID is the upstream Mcp-Session-Id value. Empty for stateless upstreams
	// that did not assign one.
	ID string
	// CreatedAt is when the handshake completed (UTC).
	CreatedAt time.Time
	// LastUsedAt is the last successful round trip on this session (UTC).
	LastUsedAt time.Time
	// Valid is false once the upstream rejected the session.
	Valid bool
}

// Fingerprint returns a log-safe identifier for the session.
func (s Session) Fingerprint() string {
	return Fingerprint(s.ID)
}

// Fingerprint hashes a session id so it can appear in logs and health output
// without exposing the token itself.
func Fingerprint(id string) string {
	if id == "" {
		return "stateless"
	}
	return fmt.Sprintf("%016x", xxhash.Sum64String(id))
}

// entry is the cached slot value. Only lastUsed changes after creation.
type entry struct {
	id        string
	createdAt time.Time
	lastUsed  atomic.Int64
}

func newEntry(id string) *entry {
	now := time.Now().UTC()
	e := &entry{id: id, createdAt: now}
	e.lastUsed.Store(now.UnixNano())
	return e
}

func (e *entry) snapshot() Session {
	return Session{
		ID:         e.id,
		CreatedAt:  e.createdAt,
		LastUsedAt: time.Unix(0, e.lastUsed.Load()).UTC(),
		Valid:      true,
	}
}
