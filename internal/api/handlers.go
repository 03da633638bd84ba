// Package api exposes the upload and status-polling HTTP surface.
package api

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"strings"

	"chirpstream/internal/media/ingest"
	"chirpstream/internal/media/queue"
	"chirpstream/internal/observability/logging"
	"chirpstream/internal/status"
)

// Handler carries the dependencies shared by all HTTP endpoints.
type Handler struct {
	ingestor *ingest.Ingestor
	store    status.Store
	logger   *slog.Logger
}

type Config struct {
	Ingestor *ingest.Ingestor
	Store    status.Store
	Logger   *slog.Logger
}

func NewHandler(cfg Config) (*Handler, error) {
	if cfg.Ingestor == nil {
		return nil, errors.New("ingestor is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("status store is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{ingestor: cfg.Ingestor, store: cfg.Store, logger: logger}, nil
}

// requestLogger prefers the context logger installed by the request-ID
// middleware so handler logs carry the request ID.
func (h *Handler) requestLogger(r *http.Request) *slog.Logger {
	if ctxLogger := logging.LoggerFromContext(r.Context()); ctxLogger != nil {
		return ctxLogger
	}
	return h.logger
}

// Health reports process liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// UploadVideo accepts a multipart upload, stages the file, and enqueues a
// transcode job. The response is returned before the encode begins.
func (h *Handler) UploadVideo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}

	reader, err := r.MultipartReader()
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("multipart form is required: %w", err))
		return
	}

	part, err := nextFilePart(reader)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	defer part.Close()

	logger := h.requestLogger(r)

	temp, err := os.CreateTemp("", "chirpstream-upload-*")
	if err != nil {
		logger.Error("failed to create upload temp file", "error", err)
		writeError(w, http.StatusInternalServerError, errors.New("failed to receive upload"))
		return
	}
	staged := false
	defer func() {
		if !staged {
			_ = os.Remove(temp.Name())
		}
	}()

	// Read one byte past the cap so an oversized body is detected without
	// buffering the excess.
	limit := h.ingestor.MaxBytes()
	written, err := io.Copy(temp, io.LimitReader(part, limit+1))
	if closeErr := temp.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	if err != nil {
		logger.Error("failed to spool upload", "error", err)
		writeError(w, http.StatusInternalServerError, errors.New("failed to receive upload"))
		return
	}
	if written > limit {
		writeError(w, http.StatusRequestEntityTooLarge, ingest.ErrFileTooLarge)
		return
	}

	media, err := h.ingestor.AcceptVideo(r.Context(), temp.Name(), part.FileName(), part.Header.Get("Content-Type"), written)
	if err != nil {
		h.writeUploadError(w, logger, err)
		return
	}
	staged = true

	writeJSON(w, http.StatusCreated, media)
}

func (h *Handler) writeUploadError(w http.ResponseWriter, logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, ingest.ErrFileTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, err)
	case errors.Is(err, ingest.ErrUnsupportedType):
		writeError(w, http.StatusUnsupportedMediaType, err)
	case errors.Is(err, status.ErrDuplicate):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, queue.ErrQueueFull), errors.Is(err, queue.ErrQueueClosed):
		writeError(w, http.StatusServiceUnavailable, err)
	default:
		logger.Error("upload rejected", "error", err)
		writeError(w, http.StatusInternalServerError, errors.New("failed to process upload"))
	}
}

func nextFilePart(reader *multipart.Reader) (*multipart.Part, error) {
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			return nil, errors.New("multipart form has no file field")
		}
		if err != nil {
			return nil, fmt.Errorf("malformed multipart form: %w", err)
		}
		if part.FormName() == "file" {
			return part, nil
		}
		_ = part.Close()
	}
}

type videoStatusResponse struct {
	Name    string        `json:"name"`
	Status  status.Status `json:"status"`
	Message string        `json:"message,omitempty"`
}

// VideoStatus returns the lifecycle state of a transcode job by name.
func (h *Handler) VideoStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}

	name := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/medias/video-status/"), "/")
	if name == "" || strings.Contains(name, "/") {
		writeError(w, http.StatusNotFound, errors.New("video status not found"))
		return
	}

	record, err := h.store.Get(r.Context(), name)
	if err != nil {
		if errors.Is(err, status.ErrNotFound) {
			writeError(w, http.StatusNotFound, errors.New("video status not found"))
			return
		}
		h.requestLogger(r).Error("failed to load video status", "job", name, "error", err)
		writeError(w, http.StatusInternalServerError, errors.New("failed to load video status"))
		return
	}

	writeJSON(w, http.StatusOK, videoStatusResponse{
		Name:    record.Name,
		Status:  record.Status,
		Message: record.Message,
	})
}
