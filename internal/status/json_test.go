package status

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func TestJSONStoreLifecycle(t *testing.T) {
	store, err := NewJSONStore("")
	if err != nil {
		t.Fatalf("NewJSONStore: %v", err)
	}
	ctx := context.Background()

	record, err := store.Create(ctx, "job-1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if record.Status != StatusPending {
		t.Fatalf("expected pending, got %s", record.Status)
	}
	if record.CreatedAt.IsZero() || record.UpdatedAt.IsZero() {
		t.Fatal("expected timestamps to be set")
	}

	if _, err := store.Create(ctx, "job-1"); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	record, err = store.MarkProcessing(ctx, "job-1")
	if err != nil {
		t.Fatalf("MarkProcessing: %v", err)
	}
	if record.Status != StatusProcessing {
		t.Fatalf("expected processing, got %s", record.Status)
	}

	record, err = store.MarkSuccessful(ctx, "job-1")
	if err != nil {
		t.Fatalf("MarkSuccessful: %v", err)
	}
	if record.Status != StatusSuccessful {
		t.Fatalf("expected successful, got %s", record.Status)
	}
}

func TestJSONStoreTerminalIsFinal(t *testing.T) {
	store, err := NewJSONStore("")
	if err != nil {
		t.Fatalf("NewJSONStore: %v", err)
	}
	ctx := context.Background()

	if _, err := store.Create(ctx, "job-1"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := store.MarkProcessing(ctx, "job-1"); err != nil {
		t.Fatalf("MarkProcessing: %v", err)
	}
	if _, err := store.MarkFailed(ctx, "job-1", "encode blew up"); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}

	if _, err := store.MarkSuccessful(ctx, "job-1"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if _, err := store.MarkProcessing(ctx, "job-1"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}

	record, err := store.Get(ctx, "job-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if record.Status != StatusFailed || record.Message != "encode blew up" {
		t.Fatalf("unexpected record %+v", record)
	}
}

func TestJSONStoreMissingJob(t *testing.T) {
	store, err := NewJSONStore("")
	if err != nil {
		t.Fatalf("NewJSONStore: %v", err)
	}
	ctx := context.Background()

	if _, err := store.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := store.MarkProcessing(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestJSONStoreSnapshotRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "status.json")
	ctx := context.Background()

	store, err := NewJSONStore(path)
	if err != nil {
		t.Fatalf("NewJSONStore: %v", err)
	}
	if _, err := store.Create(ctx, "job-1"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := store.MarkProcessing(ctx, "job-1"); err != nil {
		t.Fatalf("MarkProcessing: %v", err)
	}
	if _, err := store.MarkFailed(ctx, "job-1", "boom"); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}

	reloaded, err := NewJSONStore(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	record, err := reloaded.Get(ctx, "job-1")
	if err != nil {
		t.Fatalf("Get after reload: %v", err)
	}
	if record.Status != StatusFailed || record.Message != "boom" {
		t.Fatalf("unexpected record after reload %+v", record)
	}
}

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusProcessing, true},
		{StatusPending, StatusFailed, true},
		{StatusPending, StatusSuccessful, false},
		{StatusProcessing, StatusSuccessful, true},
		{StatusProcessing, StatusFailed, true},
		{StatusProcessing, StatusPending, false},
		{StatusSuccessful, StatusFailed, false},
		{StatusSuccessful, StatusProcessing, false},
		{StatusFailed, StatusProcessing, false},
		{StatusFailed, StatusSuccessful, false},
	}
	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}
