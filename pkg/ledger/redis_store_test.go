package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupMiniredis(t *testing.T) (*miniredis.Miniredis, *RedisStore) {
	t.Helper()

	mr := miniredis.RunT(t)

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	store := NewRedisStoreFromClient(client, "anthropic", 0)

	t.Cleanup(func() {
		_ = store.Close()
	})

	return mr, store
}

func TestRedisStore(t *testing.T) {
	_, store := setupMiniredis(t)
	storeTest(t, store)
}

func TestRedisStore_ProvidersIsolated(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	ctx := context.Background()

	anthropic := NewRedisStoreFromClient(client, "anthropic", 0)
	openai := NewRedisStoreFromClient(client, "openai", 0)

	if err := anthropic.Append(ctx, "shared-id", entry(KindQuery, 1, 5)); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	_, err := openai.Load(ctx, "shared-id")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound in other namespace, got %v", err)
	}
}

func TestRedisStore_TTLExpiry(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	ctx := context.Background()

	store := NewRedisStoreFromClient(client, "anthropic", time.Minute)
	if err := store.Append(ctx, "short-lived", entry(KindQuery, 1, 5)); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	mr.FastForward(2 * time.Minute)

	_, err := store.Load(ctx, "short-lived")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after TTL, got %v", err)
	}

	// List cleans up the dangling index member rather than reporting it.
	infos, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(infos) != 0 {
		t.Errorf("expected no conversations after expiry, got %d", len(infos))
	}
}

func TestRedisStore_Closed(t *testing.T) {
	_, store := setupMiniredis(t)
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := store.Append(context.Background(), "c", entry(KindQuery, 1, 1)); !errors.Is(err, ErrStoreClosed) {
		t.Errorf("expected ErrStoreClosed, got %v", err)
	}
}
