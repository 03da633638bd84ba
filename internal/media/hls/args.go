package hls

import (
	"fmt"
	"strconv"
	"strings"
)

// argList builds an ffmpeg argument vector from typed flag/value pairs. The
// slice is handed straight to exec, so values never pass through a shell and
// never need escaping.
type argList struct {
	args []string
}

func (a *argList) flag(name string) *argList {
	a.args = append(a.args, name)
	return a
}

func (a *argList) option(name, value string) *argList {
	a.args = append(a.args, name, value)
	return a
}

func (a *argList) intOption(name string, value int) *argList {
	return a.option(name, strconv.Itoa(value))
}

// streamOption appends a per-output-stream option such as -s:v:0 or -b:v:1.
func (a *argList) streamOption(name string, kind string, index int, value string) *argList {
	return a.option(fmt.Sprintf("%s:%s:%d", name, kind, index), value)
}

func (a *argList) positional(value string) *argList {
	a.args = append(a.args, value)
	return a
}

// buildEncodeArgs constructs the single ffmpeg invocation that emits every
// rung of the ladder as one HLS variant group. All rungs share one decode of
// the input: the video (and audio, when present) stream is mapped once per
// rung, then each mapped copy gets its own scale and bitrate.
func buildEncodeArgs(source string, ladder Ladder, segmentPattern, variantPlaylist string) []string {
	list := &argList{}
	list.flag("-y").
		option("-loglevel", "error").
		option("-i", source).
		option("-preset", "veryslow").
		option("-g", "48").
		option("-crf", "17").
		option("-sc_threshold", "0")

	for range ladder.Rungs {
		list.option("-map", "0:0")
		if ladder.HasAudio {
			list.option("-map", "0:1")
		}
	}

	for idx, rung := range ladder.Rungs {
		list.streamOption("-s", "v", idx, fmt.Sprintf("%dx%d", rung.Width, rung.Height))
		list.streamOption("-c", "v", idx, "libx264")
		list.streamOption("-b", "v", idx, strconv.Itoa(rung.Bitrate))
	}
	list.option("-c:a", "copy")

	variantMap := make([]string, 0, len(ladder.Rungs))
	for idx := range ladder.Rungs {
		if ladder.HasAudio {
			variantMap = append(variantMap, fmt.Sprintf("v:%d,a:%d", idx, idx))
		} else {
			variantMap = append(variantMap, fmt.Sprintf("v:%d", idx))
		}
	}
	list.option("-var_stream_map", strings.Join(variantMap, " ")).
		option("-master_pl_name", MasterPlaylist).
		option("-f", "hls").
		intOption("-hls_time", SegmentSeconds).
		intOption("-hls_list_size", 0).
		option("-hls_segment_filename", segmentPattern).
		positional(variantPlaylist)

	return list.args
}
