// Package session keeps per-session conversations for the answerer between
// requests.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/brunobiangulo/lexgraph/rag"
)

// DefaultTTL is how long an idle session is kept.
const DefaultTTL = 30 * time.Minute

// Store loads and saves conversations by session id. A missing or expired
// session loads as found == false with a nil error.
type Store interface {
	Load(ctx context.Context, id string) (conv *rag.Conversation, found bool, err error)
	Save(ctx context.Context, id string, conv *rag.Conversation) error
	Delete(ctx context.Context, id string) error
}

type entry struct {
	exchanges []rag.Exchange
	expires   time.Time
}

// MemoryStore is an in-process Store. Every Save extends the session TTL.
type MemoryStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]entry
	now     func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns a MemoryStore. A non-positive ttl means DefaultTTL.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{ttl: ttl, entries: make(map[string]entry), now: time.Now}
}

func (s *MemoryStore) Load(ctx context.Context, id string) (*rag.Conversation, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return nil, false, nil
	}
	if !s.now().Before(e.expires) {
		delete(s.entries, id)
		return nil, false, nil
	}
	return rag.NewConversation(e.exchanges...), true, nil
}

func (s *MemoryStore) Save(ctx context.Context, id string, conv *rag.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[id] = entry{exchanges: conv.Exchanges(), expires: s.now().Add(s.ttl)}
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, id)
	return nil
}

// Sweep drops expired sessions and reports how many were removed.
func (s *MemoryStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	n := 0
	for id, e := range s.entries {
		if !now.Before(e.expires) {
			delete(s.entries, id)
			n++
		}
	}
	return n
}

// Len reports the number of stored sessions, expired or not.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
