package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"

	"chirpstream/internal/media/ingest"
	"chirpstream/internal/status"
)

type stubQueue struct {
	sources []string
	err     error
}

func (s *stubQueue) Enqueue(_ context.Context, source string) error {
	if s.err != nil {
		return s.err
	}
	s.sources = append(s.sources, source)
	return nil
}

func newTestHandler(t *testing.T, queue ingest.Enqueuer, maxBytes int64) (*Handler, *status.JSONStore) {
	t.Helper()
	store, err := status.NewJSONStore("")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	ingestor, err := ingest.New(ingest.Config{
		StagingDir:    t.TempDir(),
		PublicBaseURL: "http://cdn.local",
		MaxBytes:      maxBytes,
		Queue:         queue,
	})
	if err != nil {
		t.Fatalf("failed to create ingestor: %v", err)
	}
	handler, err := NewHandler(Config{Ingestor: ingestor, Store: store})
	if err != nil {
		t.Fatalf("failed to create handler: %v", err)
	}
	return handler, store
}

func multipartUpload(t *testing.T, filename, contentType string, payload []byte) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", `form-data; name="file"; filename="`+filename+`"`)
	header.Set("Content-Type", contentType)
	part, err := writer.CreatePart(header)
	if err != nil {
		t.Fatalf("failed to create form part: %v", err)
	}
	if _, err := part.Write(payload); err != nil {
		t.Fatalf("failed to write form part: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close multipart writer: %v", err)
	}
	return &body, writer.FormDataContentType()
}

func TestUploadVideoAcceptsMultipart(t *testing.T) {
	queue := &stubQueue{}
	handler, store := newTestHandler(t, queue, 0)

	body, contentType := multipartUpload(t, "clip.mp4", "video/mp4", []byte("mp4 payload"))
	req := httptest.NewRequest(http.MethodPost, "/api/videos", body)
	req.Header.Set("Content-Type", contentType)
	rr := httptest.NewRecorder()

	handler.UploadVideo(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}

	var media ingest.Media
	if err := json.NewDecoder(rr.Body).Decode(&media); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if media.Type != ingest.MediaTypeHLS {
		t.Fatalf("unexpected media type: %s", media.Type)
	}
	if !strings.HasPrefix(media.URL, "http://cdn.local/static/videos-hls/") || !strings.HasSuffix(media.URL, "/master.m3u8") {
		t.Fatalf("unexpected media URL: %s", media.URL)
	}

	if len(queue.sources) != 1 {
		t.Fatalf("expected one enqueued job, got %d", len(queue.sources))
	}

	// The pending record is visible immediately via the status endpoint.
	name := strings.TrimSuffix(media.URL, "/master.m3u8")
	name = name[strings.LastIndex(name, "/")+1:]
	record, err := store.Get(context.Background(), name)
	if err != nil {
		t.Fatalf("expected status record for %s: %v", name, err)
	}
	if record.Status != status.StatusPending {
		t.Fatalf("expected pending record, got %s", record.Status)
	}
}

func TestUploadVideoRejectsUnsupportedType(t *testing.T) {
	handler, _ := newTestHandler(t, &stubQueue{}, 0)

	body, contentType := multipartUpload(t, "notes.txt", "text/plain", []byte("hello"))
	req := httptest.NewRequest(http.MethodPost, "/api/videos", body)
	req.Header.Set("Content-Type", contentType)
	rr := httptest.NewRecorder()

	handler.UploadVideo(rr, req)

	if rr.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("expected 415, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestUploadVideoRejectsOversizedBody(t *testing.T) {
	handler, _ := newTestHandler(t, &stubQueue{}, 16)

	body, contentType := multipartUpload(t, "clip.mp4", "video/mp4", bytes.Repeat([]byte("x"), 64))
	req := httptest.NewRequest(http.MethodPost, "/api/videos", body)
	req.Header.Set("Content-Type", contentType)
	rr := httptest.NewRecorder()

	handler.UploadVideo(rr, req)

	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestUploadVideoRequiresMultipart(t *testing.T) {
	handler, _ := newTestHandler(t, &stubQueue{}, 0)

	req := httptest.NewRequest(http.MethodPost, "/api/videos", strings.NewReader("{}"))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()

	handler.UploadVideo(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestUploadVideoRequiresFileField(t *testing.T) {
	handler, _ := newTestHandler(t, &stubQueue{}, 0)

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	if err := writer.WriteField("title", "no file here"); err != nil {
		t.Fatalf("failed to write field: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/videos", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	rr := httptest.NewRecorder()

	handler.UploadVideo(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestUploadVideoMethodNotAllowed(t *testing.T) {
	handler, _ := newTestHandler(t, &stubQueue{}, 0)

	rr := httptest.NewRecorder()
	handler.UploadVideo(rr, httptest.NewRequest(http.MethodGet, "/api/videos", nil))

	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rr.Code)
	}
}

func TestVideoStatusReturnsRecord(t *testing.T) {
	handler, store := newTestHandler(t, &stubQueue{}, 0)

	if _, err := store.Create(context.Background(), "job-1"); err != nil {
		t.Fatalf("failed to seed record: %v", err)
	}
	if _, err := store.MarkProcessing(context.Background(), "job-1"); err != nil {
		t.Fatalf("failed to advance record: %v", err)
	}
	if _, err := store.MarkFailed(context.Background(), "job-1", "ffmpeg exited with status 1"); err != nil {
		t.Fatalf("failed to fail record: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/medias/video-status/job-1", nil)
	rr := httptest.NewRecorder()
	handler.VideoStatus(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	var payload videoStatusResponse
	if err := json.NewDecoder(rr.Body).Decode(&payload); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if payload.Name != "job-1" || payload.Status != status.StatusFailed {
		t.Fatalf("unexpected payload: %+v", payload)
	}
	if !strings.Contains(payload.Message, "ffmpeg exited") {
		t.Fatalf("expected failure message, got %q", payload.Message)
	}
}

func TestVideoStatusOmitsEmptyMessage(t *testing.T) {
	handler, store := newTestHandler(t, &stubQueue{}, 0)

	if _, err := store.Create(context.Background(), "job-2"); err != nil {
		t.Fatalf("failed to seed record: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/medias/video-status/job-2", nil)
	rr := httptest.NewRecorder()
	handler.VideoStatus(rr, req)

	raw, err := io.ReadAll(rr.Body)
	if err != nil {
		t.Fatalf("failed to read response: %v", err)
	}
	if strings.Contains(string(raw), "message") {
		t.Fatalf("expected message to be omitted, got %s", raw)
	}
}

func TestVideoStatusNotFound(t *testing.T) {
	handler, _ := newTestHandler(t, &stubQueue{}, 0)

	cases := []string{
		"/api/medias/video-status/missing",
		"/api/medias/video-status/",
		"/api/medias/video-status/a/b",
	}
	for _, path := range cases {
		rr := httptest.NewRecorder()
		handler.VideoStatus(rr, httptest.NewRequest(http.MethodGet, path, nil))
		if rr.Code != http.StatusNotFound {
			t.Fatalf("expected 404 for %s, got %d", path, rr.Code)
		}
	}
}
