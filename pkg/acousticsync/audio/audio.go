// Package audio turns media files into PCM streams the fingerprinting
// pipeline can read, and exports aligned results.
package audio

import (
	"context"
	"errors"
	"fmt"
)

var ErrUnsupportedFormat = errors.New("unsupported media format")

// Format describes an uncompressed PCM stream.
type Format struct {
	SampleRate    int
	BitsPerSample int
	Channels      int
	// BlockAlign is the size in bytes of one frame (one sample per channel).
	BlockAlign int
}

func NewFormat(sampleRate, bitsPerSample, channels int) Format {
	return Format{
		SampleRate:    sampleRate,
		BitsPerSample: bitsPerSample,
		Channels:      channels,
		BlockAlign:    channels * ((bitsPerSample + 7) / 8),
	}
}

func (f Format) String() string {
	return fmt.Sprintf("%d Hz, %d-bit, %d ch", f.SampleRate, f.BitsPerSample, f.Channels)
}

// PCM is an open sample stream. ReadSamples returns samples of the first
// channel only; Len is the number of frames in the stream.
type PCM interface {
	Format() Format
	Len() int
	ReadSamples(dst []int32) (int, error)
	Path() string
	Close() error
}

// Loader opens path as PCM, resampled to target when target is non-nil
// and its rate differs from the source.
type Loader interface {
	Load(ctx context.Context, path string, target *Format) (PCM, error)
}

// NeedResample reports whether a source in format src must be converted
// before it can be analyzed against target.
func NeedResample(src Format, target *Format) bool {
	if src.Channels > 2 {
		return true
	}
	if target == nil {
		return false
	}
	return src.SampleRate != target.SampleRate
}
