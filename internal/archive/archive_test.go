package archive

import (
	"context"
	"testing"
)

func TestInMemoryStoreSaveAndRecall(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	turns := []TurnRecord{
		{SessionID: "s1", Role: "user", Content: "hello"},
		{SessionID: "s1", Role: "assistant", Content: "hi there"},
		{SessionID: "s2", Role: "user", Content: "other session"},
	}
	for _, turn := range turns {
		if err := store.SaveTurn(ctx, turn); err != nil {
			t.Fatalf("SaveTurn() error = %v", err)
		}
	}

	got, err := store.RecentTurns(ctx, "s1", 10)
	if err != nil {
		t.Fatalf("RecentTurns() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("RecentTurns() returned %d turns, want 2", len(got))
	}
	if got[0].Content != "hello" || got[1].Content != "hi there" {
		t.Fatalf("turns out of chronological order: %+v", got)
	}
	for _, turn := range got {
		if turn.CreatedAt.IsZero() {
			t.Fatalf("CreatedAt not defaulted")
		}
	}
}

func TestInMemoryStoreLimit(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if err := store.SaveTurn(ctx, TurnRecord{SessionID: "s1", Role: "user", Content: "x"}); err != nil {
			t.Fatalf("SaveTurn() error = %v", err)
		}
	}
	got, err := store.RecentTurns(ctx, "s1", 3)
	if err != nil {
		t.Fatalf("RecentTurns() error = %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("RecentTurns(limit=3) returned %d turns", len(got))
	}
}

func TestNewStoreWithoutDatabaseURL(t *testing.T) {
	store, err := NewStore(context.Background(), "")
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	if _, ok := store.(*InMemoryStore); !ok {
		t.Fatalf("NewStore(\"\") = %T, want *InMemoryStore", store)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
}
