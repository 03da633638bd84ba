// Package ingest stages uploaded video files and hands them to the
// transcode queue.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// MaxUploadBytes is the default ceiling for accepted uploads.
const MaxUploadBytes int64 = 50 * 1024 * 1024

const (
	stagingSubdir = "videos-hls"
	MediaTypeHLS  = "HLS"
)

var (
	ErrFileTooLarge    = errors.New("uploaded file exceeds the size limit")
	ErrUnsupportedType = errors.New("uploaded file type is not supported")
)

var allowedExtensions = map[string]struct{}{
	".mp4": {},
	".mov": {},
}

var allowedContentTypes = map[string]struct{}{
	"video/mp4":       {},
	"video/quicktime": {},
}

// Enqueuer registers a staged source file for transcoding.
type Enqueuer interface {
	Enqueue(ctx context.Context, source string) error
}

type Config struct {
	StagingDir    string
	PublicBaseURL string
	MaxBytes      int64
	Queue         Enqueuer
	Logger        *slog.Logger
}

// Ingestor validates uploads, moves them into the staging tree, and enqueues
// a transcode job per accepted file.
type Ingestor struct {
	stagingDir string
	baseURL    string
	maxBytes   int64
	queue      Enqueuer
	logger     *slog.Logger
}

// Media is the playback descriptor returned to the uploader. The manifest it
// points at materializes once the transcode job completes.
type Media struct {
	URL  string `json:"url"`
	Type string `json:"type"`
}

func New(cfg Config) (*Ingestor, error) {
	stagingDir := strings.TrimSpace(cfg.StagingDir)
	if stagingDir == "" {
		return nil, errors.New("staging directory is required")
	}
	if cfg.Queue == nil {
		return nil, errors.New("transcode queue is required")
	}
	if err := os.MkdirAll(filepath.Join(stagingDir, stagingSubdir), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}
	maxBytes := cfg.MaxBytes
	if maxBytes <= 0 {
		maxBytes = MaxUploadBytes
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingestor{
		stagingDir: stagingDir,
		baseURL:    strings.TrimRight(strings.TrimSpace(cfg.PublicBaseURL), "/"),
		maxBytes:   maxBytes,
		queue:      cfg.Queue,
		logger:     logger,
	}, nil
}

// MaxBytes exposes the configured upload ceiling.
func (i *Ingestor) MaxBytes() int64 {
	return i.maxBytes
}

// AcceptVideo validates the received temp file, stages it under a fresh UUID
// name, and enqueues the transcode job. The returned Media URL points at the
// master playlist the encoder will produce.
func (i *Ingestor) AcceptVideo(ctx context.Context, tempPath, originalName, contentType string, size int64) (Media, error) {
	if size > i.maxBytes {
		return Media{}, fmt.Errorf("%w: %d bytes (limit %d)", ErrFileTooLarge, size, i.maxBytes)
	}

	ext := strings.ToLower(filepath.Ext(originalName))
	if _, ok := allowedExtensions[ext]; !ok {
		return Media{}, fmt.Errorf("%w: extension %q", ErrUnsupportedType, ext)
	}
	if _, ok := allowedContentTypes[normalizeContentType(contentType)]; !ok {
		return Media{}, fmt.Errorf("%w: content type %q", ErrUnsupportedType, contentType)
	}

	name := uuid.NewString()
	jobDir := filepath.Join(i.stagingDir, stagingSubdir, name)
	if err := os.MkdirAll(jobDir, 0o755); err != nil {
		return Media{}, fmt.Errorf("failed to create job directory: %w", err)
	}
	staged := filepath.Join(jobDir, name+ext)

	if err := moveFile(tempPath, staged); err != nil {
		_ = os.RemoveAll(jobDir)
		return Media{}, fmt.Errorf("failed to stage upload: %w", err)
	}

	if err := i.queue.Enqueue(ctx, staged); err != nil {
		_ = os.RemoveAll(jobDir)
		return Media{}, err
	}

	i.logger.Info("upload staged",
		"job", name,
		"original_name", originalName,
		"size_bytes", size)

	return Media{
		URL:  fmt.Sprintf("%s/static/%s/%s/master.m3u8", i.baseURL, stagingSubdir, name),
		Type: MediaTypeHLS,
	}, nil
}

func normalizeContentType(contentType string) string {
	value := strings.ToLower(strings.TrimSpace(contentType))
	if idx := strings.Index(value, ";"); idx >= 0 {
		value = strings.TrimSpace(value[:idx])
	}
	return value
}

// moveFile renames when possible and falls back to a copy when the temp file
// lives on another filesystem.
func moveFile(from, to string) error {
	if err := os.Rename(from, to); err == nil {
		return nil
	}
	src, err := os.Open(from)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.OpenFile(to, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		_ = os.Remove(to)
		return err
	}
	if err := dst.Close(); err != nil {
		_ = os.Remove(to)
		return err
	}
	return os.Remove(from)
}
