package hls

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

const (
	// MasterPlaylist is the top-level manifest name referencing every
	// variant.
	MasterPlaylist = "master.m3u8"
	// SegmentSeconds is the HLS segment duration. The playlist size is
	// unbounded: this is VOD output, not a live window.
	SegmentSeconds = 6

	segmentPattern  = "v%v/fileSequence%d.ts"
	variantPlaylist = "v%v/prog_index.m3u8"
)

var (
	// ErrFFmpegNotFound indicates the encoder binary could not be
	// resolved before spawning.
	ErrFFmpegNotFound = errors.New("ffmpeg not found in PATH")
	// ErrSourceMissing indicates the staged source file disappeared
	// before the encode started.
	ErrSourceMissing = errors.New("source file not found")
)

// EncodeError wraps a failed ffmpeg run with the diagnostic output captured
// from the tool.
type EncodeError struct {
	Output string
	Err    error
}

func (e *EncodeError) Error() string {
	msg := fmt.Sprintf("video encoding failed: %v", e.Err)
	if e.Output != "" {
		msg += ": " + e.Output
	}
	return msg
}

func (e *EncodeError) Unwrap() error { return e.Err }

type runFunc func(ctx context.Context, binary string, args []string) (output []byte, err error)

// Encoder runs one ffmpeg process per job, producing the full variant group
// beside the source file: <dir>/v0..vN-1 with segment files and per-variant
// playlists, plus <dir>/master.m3u8.
type Encoder struct {
	binary string
	logger *slog.Logger
	run    runFunc
}

// EncoderOption customises an Encoder.
type EncoderOption func(*Encoder)

// WithEncoderBinary overrides the ffmpeg binary path.
func WithEncoderBinary(path string) EncoderOption {
	return func(e *Encoder) {
		if strings.TrimSpace(path) != "" {
			e.binary = path
		}
	}
}

// WithEncoderLogger attaches a logger for per-invocation diagnostics.
func WithEncoderLogger(logger *slog.Logger) EncoderOption {
	return func(e *Encoder) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewEncoder constructs an Encoder that invokes ffmpeg from PATH unless
// overridden.
func NewEncoder(opts ...EncoderOption) *Encoder {
	e := &Encoder{binary: "ffmpeg", logger: slog.Default(), run: runFFmpeg}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func runFFmpeg(ctx context.Context, binary string, args []string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, binary, args...)
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output
	err := cmd.Run()
	return output.Bytes(), err
}

// Encode transcodes the source into every rung of the ladder with a single
// ffmpeg invocation. Output lands next to the source file, keyed by the
// job's staging directory.
func (e *Encoder) Encode(ctx context.Context, source string, ladder Ladder) error {
	if len(ladder.Rungs) == 0 {
		return fmt.Errorf("encode ladder is empty")
	}
	if _, err := exec.LookPath(e.binary); err != nil {
		return fmt.Errorf("%w: %v", ErrFFmpegNotFound, err)
	}
	if _, err := os.Stat(source); err != nil {
		return fmt.Errorf("%w: %s", ErrSourceMissing, source)
	}

	outputDir := filepath.Dir(source)
	for idx := range ladder.Rungs {
		variantDir := filepath.Join(outputDir, fmt.Sprintf("v%d", idx))
		if err := os.MkdirAll(variantDir, 0o755); err != nil {
			return fmt.Errorf("prepare variant dir: %w", err)
		}
	}

	args := buildEncodeArgs(
		source,
		ladder,
		filepath.ToSlash(filepath.Join(outputDir, segmentPattern)),
		filepath.ToSlash(filepath.Join(outputDir, variantPlaylist)),
	)

	e.logger.Info("starting encode",
		"source", source,
		"rungs", len(ladder.Rungs),
		"has_audio", ladder.HasAudio,
	)
	output, err := e.run(ctx, e.binary, args)
	if err != nil {
		return &EncodeError{Output: strings.TrimSpace(string(output)), Err: err}
	}
	e.logger.Info("encode completed", "source", source)
	return nil
}
