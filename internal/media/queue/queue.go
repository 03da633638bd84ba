// Package queue serializes transcode jobs behind a single worker so at most
// one ffmpeg process runs at a time.
package queue

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"chirpstream/internal/media/hls"
	"chirpstream/internal/media/probe"
	"chirpstream/internal/observability/logging"
	"chirpstream/internal/observability/metrics"
	"chirpstream/internal/status"
)

var (
	// ErrQueueFull reports that the pending-job buffer has no capacity left.
	ErrQueueFull = errors.New("transcode queue is full")
	// ErrQueueClosed reports an enqueue attempted after Shutdown.
	ErrQueueClosed = errors.New("transcode queue is shut down")
)

// ProbeRunner inspects a staged source file.
type ProbeRunner interface {
	Probe(ctx context.Context, path string) (probe.Info, error)
}

// EncodeRunner renders an HLS ladder from a staged source file.
type EncodeRunner interface {
	Encode(ctx context.Context, source string, ladder hls.Ladder) error
}

type Config struct {
	Store         status.Store
	Prober        ProbeRunner
	Encoder       EncodeRunner
	QueueSize     int
	EncodeTimeout time.Duration
	Logger        *slog.Logger
	Metrics       *metrics.Recorder
}

// Queue owns the pending-job buffer and the single worker goroutine that
// drains it in FIFO order.
type Queue struct {
	store   status.Store
	prober  ProbeRunner
	encoder EncodeRunner
	timeout time.Duration
	logger  *slog.Logger
	metrics *metrics.Recorder

	ctx    context.Context
	cancel context.CancelFunc

	jobs chan job
	wg   sync.WaitGroup

	mu      sync.Mutex
	started bool
}

type job struct {
	name   string
	source string
}

const (
	defaultQueueSize     = 64
	defaultEncodeTimeout = 2 * time.Hour

	// Terminal status writes survive worker cancellation, so they run on a
	// detached context bounded by this deadline.
	statusWriteTimeout = 10 * time.Second
)

func New(cfg Config) *Queue {
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	timeout := cfg.EncodeTimeout
	if timeout <= 0 {
		timeout = defaultEncodeTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	recorder := cfg.Metrics
	if recorder == nil {
		recorder = metrics.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		store:   cfg.Store,
		prober:  cfg.Prober,
		encoder: cfg.Encoder,
		timeout: timeout,
		logger:  logger,
		metrics: recorder,
		ctx:     ctx,
		cancel:  cancel,
		jobs:    make(chan job, queueSize),
	}
}

// JobName derives the job identifier from a staged source path: the file
// name with its extension stripped.
func JobName(source string) string {
	base := filepath.Base(source)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Start launches the worker goroutine. Subsequent calls are no-ops.
func (q *Queue) Start() {
	if q == nil {
		return
	}
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return
	}
	q.started = true
	q.mu.Unlock()

	q.wg.Add(1)
	go q.worker()
}

// Shutdown stops accepting work, cancels any in-flight encode, and waits for
// the worker to exit or the provided context to expire.
func (q *Queue) Shutdown(ctx context.Context) error {
	if q == nil {
		return nil
	}
	q.cancel()
	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Enqueue registers a pending status record for the staged source file and
// adds it to the worker's buffer. A name collision surfaces as
// status.ErrDuplicate; a full buffer fails the job and returns ErrQueueFull;
// after Shutdown it returns ErrQueueClosed without creating a record.
func (q *Queue) Enqueue(ctx context.Context, source string) error {
	if q == nil {
		return errors.New("queue is not configured")
	}
	select {
	case <-q.ctx.Done():
		return ErrQueueClosed
	default:
	}
	trimmed := strings.TrimSpace(source)
	if trimmed == "" {
		return errors.New("source path is required")
	}
	name := JobName(trimmed)

	if _, err := q.store.Create(ctx, name); err != nil {
		return err
	}

	select {
	case q.jobs <- job{name: name, source: trimmed}:
		q.metrics.JobEnqueued()
		return nil
	default:
	}

	q.markFailed(name, ErrQueueFull)
	return ErrQueueFull
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for {
		select {
		case <-q.ctx.Done():
			return
		case item := <-q.jobs:
			q.process(item)
		}
	}
}

func (q *Queue) process(item job) {
	jobCtx := logging.ContextWithJobID(q.ctx, item.name)
	logger := logging.WithContext(jobCtx, q.logger)
	start := time.Now()
	q.metrics.EncodeStarted()

	if _, err := q.store.MarkProcessing(jobCtx, item.name); err != nil {
		logger.Error("failed to mark job processing", "error", err)
	}

	ctx, cancel := context.WithTimeout(jobCtx, q.timeout)
	defer cancel()

	info, err := q.prober.Probe(ctx, item.source)
	if err != nil {
		q.fail(logger, item, err)
		return
	}

	ladder, err := hls.BuildLadder(info)
	if err != nil {
		q.fail(logger, item, err)
		return
	}

	logger.Info("transcode started",
		"source", item.source,
		"rungs", len(ladder.Rungs),
		"has_audio", ladder.HasAudio)

	if err := q.encoder.Encode(ctx, item.source, ladder); err != nil {
		q.fail(logger, item, err)
		return
	}

	// The rendition set is complete; the staged original is no longer needed.
	if err := os.Remove(item.source); err != nil {
		logger.Warn("failed to remove source file", "source", item.source, "error", err)
	}

	q.metrics.EncodeSucceeded(time.Since(start))
	writeCtx, writeCancel := context.WithTimeout(context.Background(), statusWriteTimeout)
	defer writeCancel()
	if _, err := q.store.MarkSuccessful(writeCtx, item.name); err != nil {
		logger.Error("failed to mark job successful", "error", err)
	}
	logger.Info("transcode complete", "duration_ms", time.Since(start).Milliseconds())
}

func (q *Queue) fail(logger *slog.Logger, item job, cause error) {
	q.metrics.EncodeFailed()
	q.markFailed(item.name, cause)
	logger.Error("transcode failed", "source", item.source, "error", cause)
}

func (q *Queue) markFailed(name string, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), statusWriteTimeout)
	defer cancel()
	message := strings.TrimSpace(cause.Error())
	if _, err := q.store.MarkFailed(ctx, name, message); err != nil {
		q.logger.Error("failed to mark job failed", "job", name, "error", err, "failure", cause)
	}
}
