package ledger

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore implements Store in process memory. It backs ephemeral
// conversations, such as the disposable sub-conversation the structured
// output fallback runs, and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string][]Entry
	updated map[string]time.Time
}

// NewMemoryStore creates an empty in-memory ledger store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string][]Entry),
		updated: make(map[string]time.Time),
	}
}

// Append adds entries to a conversation's ledger.
func (s *MemoryStore) Append(ctx context.Context, conversationID string, entries ...Entry) error {
	if len(entries) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing := s.entries[conversationID]
	if err := validateSequence(len(existing), entries); err != nil {
		return err
	}

	s.entries[conversationID] = append(existing, entries...)
	s.updated[conversationID] = time.Now()
	return nil
}

// Load retrieves all entries in order.
func (s *MemoryStore) Load(ctx context.Context, conversationID string) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, ok := s.entries[conversationID]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]Entry, len(entries))
	copy(out, entries)
	return out, nil
}

// Reset removes a conversation's ledger.
func (s *MemoryStore) Reset(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, conversationID)
	delete(s.updated, conversationID)
	return nil
}

// List returns summaries of all stored conversations, most recent first.
func (s *MemoryStore) List(ctx context.Context) ([]Info, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	infos := make([]Info, 0, len(s.entries))
	for id, entries := range s.entries {
		infos = append(infos, Info{
			ID:        id,
			Entries:   len(entries),
			UpdatedAt: s.updated[id],
		})
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].UpdatedAt.After(infos[j].UpdatedAt)
	})
	return infos, nil
}

// Close is a no-op for the memory store.
func (s *MemoryStore) Close() error {
	return nil
}
