// Package status tracks the lifecycle of video transcode jobs. Each job has
// exactly one record, keyed by the job name, whose status moves through
// pending -> processing -> successful|failed and never leaves a terminal
// state.
package status

import (
	"context"
	"errors"
	"time"
)

// Status enumerates the lifecycle states of a transcode job.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusSuccessful Status = "successful"
	StatusFailed     Status = "failed"
)

var (
	// ErrNotFound indicates no record exists for the requested job name.
	ErrNotFound = errors.New("video status not found")
	// ErrDuplicate indicates a record already exists for the job name.
	// Create rejects collisions instead of overwriting; callers derive job
	// names from UUIDs, so a collision signals a caller bug.
	ErrDuplicate = errors.New("video status already exists")
	// ErrInvalidTransition indicates an attempt to move a record backwards
	// or out of a terminal state.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// CanTransition reports whether a record may move from one status to another.
// Terminal statuses never transition again.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusProcessing || to == StatusFailed
	case StatusProcessing:
		return to == StatusSuccessful || to == StatusFailed
	default:
		return false
	}
}

// Record is the durable state of a single transcode job.
type Record struct {
	Name      string    `json:"name"`
	Status    Status    `json:"status"`
	Message   string    `json:"message,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Store persists transcode job records. Implementations must enforce the
// transition rules expressed by CanTransition and must be safe for concurrent
// use.
type Store interface {
	// Create inserts a pending record for the given job name. It fails
	// with ErrDuplicate when a record for the name already exists.
	Create(ctx context.Context, name string) (Record, error)
	// MarkProcessing moves a pending record to processing.
	MarkProcessing(ctx context.Context, name string) (Record, error)
	// MarkSuccessful moves a processing record to its successful terminal
	// state.
	MarkSuccessful(ctx context.Context, name string) (Record, error)
	// MarkFailed moves a record to its failed terminal state and stores
	// the diagnostic message.
	MarkFailed(ctx context.Context, name, message string) (Record, error)
	// Get returns the record for the given job name or ErrNotFound.
	Get(ctx context.Context, name string) (Record, error)
	// Close releases any resources held by the store.
	Close(ctx context.Context) error
}
