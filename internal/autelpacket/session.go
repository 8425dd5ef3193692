package autelpacket

import (
	"crypto/rand"
	"encoding/binary"
	"sync"
)

// Session tracks the per-conversation session_id and the monotonic
// message_counter used to build outbound frames. Both fields are
// instance-scoped: spec.md §9 is explicit that despite appearing
// module-level in the original implementation, counters must never be
// shared across sessions.
type Session struct {
	mu      sync.Mutex
	id      uint32
	counter uint32
}

// NewSession starts a session with a freshly randomized session_id.
func NewSession() *Session {
	s := &Session{}
	s.Regenerate()
	return s
}

// Regenerate assigns a new uniformly random 32-bit session_id, as happens
// at the start of each new logical conversation (spec.md §3).
func (s *Session) Regenerate() {
	var buf [4]byte
	_, _ = rand.Read(buf[:])
	s.mu.Lock()
	s.id = binary.LittleEndian.Uint32(buf[:])
	s.mu.Unlock()
}

// ID returns the current session_id.
func (s *Session) ID() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// Next increments the message counter (wrapping mod 2^32, which a plain
// uint32 increment already does) and returns the value to use for the
// next outbound frame.
func (s *Session) Next() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counter++
	return s.counter
}

// Counter returns the current counter value without advancing it.
func (s *Session) Counter() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counter
}
