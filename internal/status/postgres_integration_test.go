//go:build postgres

package status

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"
)

func openPostgresStoreForTest(t *testing.T) *PostgresStore {
	t.Helper()
	dsn := os.Getenv("CHIRPSTREAM_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("CHIRPSTREAM_TEST_POSTGRES_DSN not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	store, err := NewPostgresStore(ctx, PostgresConfig{DSN: dsn, ApplicationName: "chirpstream-test"})
	if err != nil {
		t.Fatalf("NewPostgresStore: %v", err)
	}
	t.Cleanup(func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = store.Close(cleanupCtx)
	})
	return store
}

func TestPostgresStoreLifecycle(t *testing.T) {
	store := openPostgresStoreForTest(t)
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
	if _, err := store.MarkFailed(ctx, name, "encode failed"); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}
	if _, err := store.MarkSuccessful(ctx, name); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}

	record, err = store.Get(ctx, name)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if record.Status != StatusFailed || record.Message != "encode failed" {
		t.Fatalf("unexpected record %+v", record)
	}
}

func TestPostgresStoreMissingJob(t *testing.T) {
	store := openPostgresStoreForTest(t)
	ctx := context.Background()

	if _, err := store.Get(ctx, "does-not-exist"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := store.MarkProcessing(ctx, "does-not-exist"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
