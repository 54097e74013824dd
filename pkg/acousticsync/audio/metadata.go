package audio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"
)

type Metadata struct {
	Filename    string
	DurationSec float64
	SampleRate  int
	Channels    int
	BitDepth    int
	Format      string
	HasVideo    bool
}

type ffprobeOutput struct {
	Format struct {
		Filename string `json:"filename"`
		Duration string `json:"duration"`
		Format   string `json:"format_name"`
	} `json:"format"`
	Streams []ffprobeStream `json:"streams"`
}

type ffprobeStream struct {
	CodecType     string `json:"codec_type"`
	SampleRate    string `json:"sample_rate"`
	Channels      int    `json:"channels"`
	BitsPerSample int    `json:"bits_per_sample"`
}

func (p *ffprobeOutput) firstStream(codecType string) *ffprobeStream {
	for i := range p.Streams {
		if p.Streams[i].CodecType == codecType {
			return &p.Streams[i]
		}
	}
	return nil
}

// ReadMetadata probes path with ffprobe. Files without an audio stream
// fail with ErrUnsupportedFormat.
func ReadMetadata(ctx context.Context, ffprobe, path string) (*Metadata, error) {
	if ffprobe == "" {
		ffprobe = "ffprobe"
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
	}

	cmd := exec.CommandContext(
		ctx,
		ffprobe,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)

	out, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, exec.ErrNotFound) {
			return nil, fmt.Errorf("ffprobe not available: %w", err)
		}
		return nil, fmt.Errorf("%w: ffprobe could not read %s: %v", ErrUnsupportedFormat, path, err)
	}

	var probe ffprobeOutput
	if err := json.Unmarshal(out, &probe); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}
	return probe.metadata(path)
}

func (p *ffprobeOutput) metadata(path string) (*Metadata, error) {
	audioStream := p.firstStream("audio")
	if audioStream == nil {
		return nil, fmt.Errorf("%w: no audio stream found in %s", ErrUnsupportedFormat, path)
	}

	duration, _ := strconv.ParseFloat(p.Format.Duration, 64)
	sampleRate, _ := strconv.Atoi(audioStream.SampleRate)

	return &Metadata{
		Filename:    filepath.Base(path),
		DurationSec: duration,
		SampleRate:  sampleRate,
		Channels:    audioStream.Channels,
		BitDepth:    audioStream.BitsPerSample,
		Format:      p.Format.Format,
		HasVideo:    p.firstStream("video") != nil,
	}, nil
}
