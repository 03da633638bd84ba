//go:build redis

package status

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"
)

func openRedisStoreForTest(t *testing.T) *RedisStore {
	t.Helper()
	addr := os.Getenv("CHIRPSTREAM_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("CHIRPSTREAM_TEST_REDIS_ADDR not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	store, err := NewRedisStore(ctx, RedisConfig{Addr: addr, KeyPrefix: "chirpstream-test:video-status:"})
	if err != nil {
		t.Fatalf("NewRedisStore: %v", err)
	}
	t.Cleanup(func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = store.Close(cleanupCtx)
	})
	return store
}

func TestRedisStoreLifecycle(t *testing.T) {
	store := openRedisStoreForTest(t)
	ctx := context.Background()
	name := fmt.Sprintf("job-%d", time.Now().UnixNano())

	record, err := store.Create(ctx, name)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if record.Status != StatusPending {
		t.Fatalf("expected pending, got %s", record.Status)
	}
	if _, err := store.Create(ctx, name); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	if _, err := store.MarkProcessing(ctx, name); err != nil {
		t.Fatalf("MarkProcessing: %v", err)
	}
	if _, err := store.MarkSuccessful(ctx, name); err != nil {
		t.Fatalf("MarkSuccessful: %v", err)
	}
	if _, err := store.MarkFailed(ctx, name, "late failure"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}

	record, err = store.Get(ctx, name)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if record.Status != StatusSuccessful {
		t.Fatalf("unexpected record %+v", record)
	}
}

func TestRedisStoreMissingJob(t *testing.T) {
	store := openRedisStoreForTest(t)

	if _, err := store.Get(context.Background(), "does-not-exist"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
