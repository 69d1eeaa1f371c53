package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func entry(kind Kind, index, tokens int) Entry {
	return Entry{
		Kind:   kind,
		Tokens: tokens,
		Index:  index,
		Data:   json.RawMessage(`{"payload":true}`),
	}
}

// storeTest exercises the Store contract shared by every backend.
func storeTest(t *testing.T, store Store) {
	ctx := context.Background()

	t.Run("load missing", func(t *testing.T) {
		_, err := store.Load(ctx, "nope")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("append and load", func(t *testing.T) {
		err := store.Append(ctx, "conv-1",
			entry(KindQuery, 1, 12),
			entry(KindResponse, 2, 30),
		)
		if err != nil {
			t.Fatalf("Append failed: %v", err)
		}

		entries, err := store.Load(ctx, "conv-1")
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if len(entries) != 2 {
			t.Fatalf("expected 2 entries, got %d", len(entries))
		}
		if entries[0].Kind != KindQuery || entries[0].Index != 1 {
			t.Errorf("unexpected first entry: %+v", entries[0])
		}
		if entries[1].Kind != KindResponse || entries[1].Tokens != 30 {
			t.Errorf("unexpected second entry: %+v", entries[1])
		}
	})

	t.Run("sequence continues", func(t *testing.T) {
		err := store.Append(ctx, "conv-1",
			entry(KindQuery, 3, 40),
			entry(KindResponse, 4, 25),
		)
		if err != nil {
			t.Fatalf("Append failed: %v", err)
		}
		entries, err := store.Load(ctx, "conv-1")
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if len(entries) != 4 {
			t.Errorf("expected 4 entries, got %d", len(entries))
		}
	})

	t.Run("index gap rejected", func(t *testing.T) {
		err := store.Append(ctx, "conv-1", entry(KindQuery, 7, 10))
		if !errors.Is(err, ErrIndexGap) {
			t.Errorf("expected ErrIndexGap, got %v", err)
		}
	})

	t.Run("list", func(t *testing.T) {
		time.Sleep(10 * time.Millisecond) // keep update times distinct
		if err := store.Append(ctx, "conv-2", entry(KindQuery, 1, 5)); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
		infos, err := store.List(ctx)
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		if len(infos) != 2 {
			t.Fatalf("expected 2 conversations, got %d", len(infos))
		}
		// Most recently updated first.
		if infos[0].ID != "conv-2" {
			t.Errorf("expected conv-2 first, got %s", infos[0].ID)
		}
	})

	t.Run("reset", func(t *testing.T) {
		if err := store.Reset(ctx, "conv-1"); err != nil {
			t.Fatalf("Reset failed: %v", err)
		}
		_, err := store.Load(ctx, "conv-1")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound after reset, got %v", err)
		}
		// Index sequence restarts after reset.
		if err := store.Append(ctx, "conv-1", entry(KindQuery, 1, 3)); err != nil {
			t.Errorf("Append after reset failed: %v", err)
		}
	})
}

func TestMemoryStore(t *testing.T) {
	storeTest(t, NewMemoryStore())
}

func TestFileStore(t *testing.T) {
	store, err := NewFileStore(t.TempDir(), "anthropic")
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	storeTest(t, store)
}

func TestFileStore_RejectsUnsafeIDs(t *testing.T) {
	store, err := NewFileStore(t.TempDir(), "anthropic")
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}

	ctx := context.Background()
	for _, id := range []string{"", "../escape", "a/b", `a\b`} {
		if err := store.Append(ctx, id, entry(KindQuery, 1, 1)); err == nil {
			t.Errorf("expected error for ID %q", id)
		}
	}
}

func TestFileStore_RejectsUnsafeProvider(t *testing.T) {
	if _, err := NewFileStore(t.TempDir(), "../evil"); err == nil {
		t.Error("expected error for traversal in provider name")
	}
}

func TestFileStore_Closed(t *testing.T) {
	store, err := NewFileStore(t.TempDir(), "anthropic")
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := store.Append(context.Background(), "c", entry(KindQuery, 1, 1)); !errors.Is(err, ErrStoreClosed) {
		t.Errorf("expected ErrStoreClosed, got %v", err)
	}
}

func TestFileStore_PersistsAcrossInstances(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store, err := NewFileStore(dir, "openai")
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	if err := store.Append(ctx, "durable", entry(KindQuery, 1, 8), entry(KindResponse, 2, 16)); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	store.Close()

	reopened, err := NewFileStore(dir, "openai")
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	entries, err := reopened.Load(ctx, "durable")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("expected 2 entries after reopen, got %d", len(entries))
	}
}

func TestLastPair(t *testing.T) {
	entries := []Entry{
		entry(KindQuery, 1, 10),
		entry(KindResponse, 2, 20),
		entry(KindQuery, 3, 30),
		entry(KindResponse, 4, 40),
	}
	q, r, err := LastPair(entries)
	if err != nil {
		t.Fatalf("LastPair failed: %v", err)
	}
	if q.Index != 3 || r.Index != 4 {
		t.Errorf("expected indices 3/4, got %d/%d", q.Index, r.Index)
	}

	if _, _, err := LastPair(nil); err == nil {
		t.Error("expected error for empty ledger")
	}
	if _, _, err := LastPair(entries[:1]); err == nil {
		t.Error("expected error for ledger without a response")
	}
}

func TestTotalTokens(t *testing.T) {
	entries := []Entry{
		entry(KindQuery, 1, 10),
		entry(KindResponse, 2, 20),
	}
	if got := TotalTokens(entries); got != 30 {
		t.Errorf("TotalTokens: got %d, want 30", got)
	}
}
