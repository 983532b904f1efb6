package archive

import (
	"context"
	"sync"
	"time"
)

// TurnRecord is one archived conversation turn.
type TurnRecord struct {
	ID        string
	SessionID string
	Role      string
	Content   string
	CreatedAt time.Time
}

// Store receives finished turns for offline inspection. The bridge never
// reads archived turns back; writes are best effort.
type Store interface {
	SaveTurn(ctx context.Context, record TurnRecord) error
	RecentTurns(ctx context.Context, sessionID string, limit int) ([]TurnRecord, error)
	Close() error
}

// NewStore returns a Postgres-backed store when databaseURL is set and an
// in-memory store otherwise.
func NewStore(ctx context.Context, databaseURL string) (Store, error) {
	if databaseURL == "" {
		return NewInMemoryStore(), nil
	}
	return NewPostgresStore(ctx, databaseURL)
}

// InMemoryStore keeps turns in process memory. Used when no database is
// configured and in tests.
type InMemoryStore struct {
	mu    sync.Mutex
	turns []TurnRecord
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) SaveTurn(_ context.Context, record TurnRecord) error {
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = append(s.turns, record)
	return nil
}

func (s *InMemoryStore) RecentTurns(_ context.Context, sessionID string, limit int) ([]TurnRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	matched := make([]TurnRecord, 0, limit)
	for i := len(s.turns) - 1; i >= 0 && len(matched) < limit; i-- {
		if s.turns[i].SessionID == sessionID {
			matched = append(matched, s.turns[i])
		}
	}
	for i, j := 0, len(matched)-1; i < j; i, j = i+1, j-1 {
		matched[i], matched[j] = matched[j], matched[i]
	}
	return matched, nil
}

func (s *InMemoryStore) Close() error {
	return nil
}
