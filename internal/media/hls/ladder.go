// Package hls plans adaptive-bitrate encode ladders and drives ffmpeg to
// produce a multi-variant HLS output for a single source file.
package hls

import (
	"fmt"

	"chirpstream/internal/media/probe"
)

// Per-rung bitrate ceilings in bits per second. The original-resolution rung
// keeps the source bitrate uncapped.
const (
	MaxBitrate720  = 5_000_000
	MaxBitrate1080 = 8_000_000
	MaxBitrate1440 = 16_000_000
)

// Rung is one resolution/bitrate variant in the encode ladder.
type Rung struct {
	// Height is the target pixel height.
	Height int
	// Width is derived from the source aspect ratio and rounded to an
	// even value, as required by libx264.
	Width int
	// Bitrate is the target video bit rate in bits per second.
	Bitrate int
}

// Ladder is the encode plan for one job: the rungs to produce plus the
// source facts the invoker needs to build the ffmpeg argument list.
type Ladder struct {
	Rungs    []Rung
	HasAudio bool
	Source   probe.Resolution
}

// BuildLadder selects the rungs for a source video based on its height tier:
// at most 720 yields a single 720p rung, then each tier adds the next rung up
// to 1440p, and anything taller gets a native-resolution top rung instead.
func BuildLadder(info probe.Info) (Ladder, error) {
	if info.Resolution.Width <= 0 || info.Resolution.Height <= 0 {
		return Ladder{}, fmt.Errorf("invalid source resolution %dx%d", info.Resolution.Width, info.Resolution.Height)
	}
	if info.Bitrate <= 0 {
		return Ladder{}, fmt.Errorf("invalid source bitrate %d", info.Bitrate)
	}

	ladder := Ladder{HasAudio: info.HasAudio, Source: info.Resolution}
	ladder.Rungs = append(ladder.Rungs, scaledRung(720, MaxBitrate720, info))
	if info.Resolution.Height > 720 {
		ladder.Rungs = append(ladder.Rungs, scaledRung(1080, MaxBitrate1080, info))
	}
	if info.Resolution.Height > 1440 {
		ladder.Rungs = append(ladder.Rungs, Rung{
			Height:  info.Resolution.Height,
			Width:   info.Resolution.Width,
			Bitrate: info.Bitrate,
		})
	} else if info.Resolution.Height > 1080 {
		ladder.Rungs = append(ladder.Rungs, scaledRung(1440, MaxBitrate1440, info))
	}
	return ladder, nil
}

func scaledRung(height, ceiling int, info probe.Info) Rung {
	bitrate := info.Bitrate
	if bitrate > ceiling {
		bitrate = ceiling
	}
	return Rung{
		Height:  height,
		Width:   scaledWidth(height, info.Resolution),
		Bitrate: bitrate,
	}
}

// scaledWidth derives the width for a target height preserving the source
// aspect ratio. libx264 rejects odd dimensions, so an odd result rounds up.
func scaledWidth(height int, source probe.Resolution) int {
	width := (height*source.Width + source.Height/2) / source.Height
	if width%2 != 0 {
		width++
	}
	return width
}
