// Package probe inspects source video files with ffprobe. Each query shells
// out once and asks for a single fact in a minimal machine-parsable format,
// mirroring how the queue consumes them: a failed probe aborts the job rather
// than degrading to a default.
package probe

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"
)

// ErrFFprobeNotFound indicates the ffprobe binary could not be resolved on
// PATH before any probe subprocess was spawned.
var ErrFFprobeNotFound = fmt.Errorf("ffprobe not found in PATH")

// Resolution is a video stream's pixel dimensions.
type Resolution struct {
	Width  int
	Height int
}

// Info aggregates the facts the ladder planner needs about a source file.
type Info struct {
	// Bitrate is video stream 0's encoded bit rate in bits per second.
	Bitrate int
	// Resolution is video stream 0's pixel dimensions.
	Resolution Resolution
	// HasAudio reports whether the file carries an audio stream.
	HasAudio bool
}

// Error wraps a failed ffprobe invocation with the queried fact and the
// tool's diagnostic output.
type Error struct {
	Op     string
	Path   string
	Output string
	Err    error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("probe %s for %s: %v", e.Op, e.Path, e.Err)
	if e.Output != "" {
		msg += ": " + e.Output
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

type runFunc func(ctx context.Context, binary string, args ...string) ([]byte, error)

// Prober answers read-only questions about media files.
type Prober struct {
	binary string
	run    runFunc
}

// Option customises a Prober.
type Option func(*Prober)

// WithBinary overrides the ffprobe binary path.
func WithBinary(path string) Option {
	return func(p *Prober) {
		if strings.TrimSpace(path) != "" {
			p.binary = path
		}
	}
}

// New constructs a Prober that invokes ffprobe from PATH unless overridden.
func New(opts ...Option) *Prober {
	p := &Prober{binary: "ffprobe", run: runFFprobe}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func runFFprobe(ctx context.Context, binary string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, binary, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail != "" {
			return nil, fmt.Errorf("%s: %w", detail, err)
		}
		return nil, err
	}
	return stdout.Bytes(), nil
}

// Probe runs all three queries against the source file. Bitrate and
// resolution are fetched concurrently, matching the upstream pipeline where
// neither depends on the other.
func (p *Prober) Probe(ctx context.Context, path string) (Info, error) {
	if _, err := exec.LookPath(p.binary); err != nil {
		return Info{}, fmt.Errorf("%w: %v", ErrFFprobeNotFound, err)
	}

	var info Info
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		bitrate, err := p.Bitrate(groupCtx, path)
		if err != nil {
			return err
		}
		info.Bitrate = bitrate
		return nil
	})
	group.Go(func() error {
		resolution, err := p.Dimensions(groupCtx, path)
		if err != nil {
			return err
		}
		info.Resolution = resolution
		return nil
	})
	if err := group.Wait(); err != nil {
		return Info{}, err
	}

	hasAudio, err := p.HasAudio(ctx, path)
	if err != nil {
		return Info{}, err
	}
	info.HasAudio = hasAudio
	return info, nil
}

// Bitrate returns video stream 0's encoded bit rate in bits per second.
func (p *Prober) Bitrate(ctx context.Context, path string) (int, error) {
	out, err := p.run(ctx, p.binary,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=bit_rate",
		"-of", "default=nw=1:nk=1",
		path,
	)
	if err != nil {
		return 0, &Error{Op: "bitrate", Path: path, Err: err}
	}
	value := strings.TrimSpace(string(out))
	bitrate, parseErr := strconv.Atoi(value)
	if parseErr != nil || bitrate <= 0 {
		return 0, &Error{Op: "bitrate", Path: path, Output: value, Err: fmt.Errorf("unparsable bit rate")}
	}
	return bitrate, nil
}

// Dimensions returns video stream 0's pixel dimensions.
func (p *Prober) Dimensions(ctx context.Context, path string) (Resolution, error) {
	out, err := p.run(ctx, p.binary,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height",
		"-of", "csv=s=x:p=0",
		path,
	)
	if err != nil {
		return Resolution{}, &Error{Op: "resolution", Path: path, Err: err}
	}
	value := strings.TrimSpace(string(out))
	parts := strings.Split(value, "x")
	if len(parts) != 2 {
		return Resolution{}, &Error{Op: "resolution", Path: path, Output: value, Err: fmt.Errorf("unparsable resolution")}
	}
	width, widthErr := strconv.Atoi(strings.TrimSpace(parts[0]))
	height, heightErr := strconv.Atoi(strings.TrimSpace(parts[1]))
	if widthErr != nil || heightErr != nil || width <= 0 || height <= 0 {
		return Resolution{}, &Error{Op: "resolution", Path: path, Output: value, Err: fmt.Errorf("unparsable resolution")}
	}
	return Resolution{Width: width, Height: height}, nil
}

// HasAudio reports whether an audio stream exists in the file.
func (p *Prober) HasAudio(ctx context.Context, path string) (bool, error) {
	out, err := p.run(ctx, p.binary,
		"-v", "error",
		"-select_streams", "a:0",
		"-show_entries", "stream=codec_type",
		"-of", "default=nw=1:nk=1",
		path,
	)
	if err != nil {
		return false, &Error{Op: "audio", Path: path, Err: err}
	}
	return strings.TrimSpace(string(out)) == "audio", nil
}
