// Package history keeps a bounded in-memory window of recent messages and
// chats. It exists so list/history queries do not depend on the transport's
// server-side history sync. Nothing here survives a restart.
package history

import (
	"sort"
	"sync"
)

// Message is one recorded message, inbound or an outbound echo.
type Message struct {
	ID            string
	ChatAddress   string
	SenderAddress string
	SenderName    string
	Text          string
	FromSelf      bool
	TimestampMs   int64
}

// ChatSummary is one entry per distinct chat ever observed.
type ChatSummary struct {
	ChatAddress    string
	DisplayName    string
	LastActivityMs int64
}

// Store is a fixed-capacity ring of recent messages plus a map of seen
// chats. The ring and map are owned exclusively by the store; accessors
// return copies.
type Store struct {
	mu       sync.RWMutex
	capacity int
	ring     []Message
	chats    map[string]ChatSummary
}

// NewStore creates a store with the given ring capacity.
func NewStore(capacity int) *Store {
	if capacity <= 0 {
		capacity = 1
	}
	return &Store{
		capacity: capacity,
		ring:     make([]Message, 0, capacity),
		chats:    make(map[string]ChatSummary),
	}
}

// RecordChat upserts a chat summary. Timestamp is last-write-wins; the
// display name is best-effort and an empty name never clobbers a known one.
func (s *Store) RecordChat(address, name string, tsMs int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := s.chats[address]
	entry.ChatAddress = address
	if name != "" {
		entry.DisplayName = name
	}
	entry.LastActivityMs = tsMs
	s.chats[address] = entry
}

// Append pushes a message onto the ring, evicting the oldest on overflow.
func (s *Store) Append(msg Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ring = append(s.ring, msg)
	if len(s.ring) > s.capacity {
		n := copy(s.ring, s.ring[len(s.ring)-s.capacity:])
		s.ring = s.ring[:n]
	}
}

// ListChats returns chats ordered by most-recent activity descending,
// truncated to limit.
func (s *Store) ListChats(limit int) []ChatSummary {
	s.mu.RLock()
	out := make([]ChatSummary, 0, len(s.chats))
	for _, c := range s.chats {
		out = append(out, c)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].LastActivityMs != out[j].LastActivityMs {
			return out[i].LastActivityMs > out[j].LastActivityMs
		}
		return out[i].ChatAddress < out[j].ChatAddress
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Messages returns the last limit stored messages for the given chat in
// chronological order.
func (s *Store) Messages(address string, limit int) []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Message
	for _, m := range s.ring {
		if m.ChatAddress == address {
			out = append(out, m)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// Len returns the number of messages currently held.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ring)
}
