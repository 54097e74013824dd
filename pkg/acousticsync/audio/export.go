package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const exportChunkFrames = 4096

// SaveMatch writes length frames of the WAV file src, starting at frame
// startIndex, to dst in the same format. A negative startIndex shortens
// the segment so that it still ends at startIndex+length.
func SaveMatch(src, dst string, startIndex, length int) error {
	if startIndex < 0 {
		length += startIndex
		startIndex = 0
	}
	if length <= 0 {
		return fmt.Errorf("nothing to export: segment ends before the start of %s", src)
	}

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	dec := wav.NewDecoder(in)
	if err := dec.FwdToPCM(); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrUnsupportedFormat, src, err)
	}
	format := NewFormat(int(dec.SampleRate), int(dec.BitDepth), int(dec.NumChans))
	total := int(dec.PCMLen() / int64(format.BlockAlign))
	if startIndex >= total {
		return fmt.Errorf("segment start %d is past the end of %s (%d frames)", startIndex, src, total)
	}
	length = min(length, total-startIndex)

	if _, err := in.Seek(int64(startIndex*format.BlockAlign), io.SeekCurrent); err != nil {
		return fmt.Errorf("failed to seek in %s: %w", src, err)
	}

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}
	enc := wav.NewEncoder(out, format.SampleRate, format.BitsPerSample, format.Channels, wavFormatPCM)

	werr := copyFrames(dec, enc, format, length)
	if err := enc.Close(); werr == nil {
		werr = err
	}
	if err := out.Close(); werr == nil {
		werr = err
	}
	if werr != nil {
		os.Remove(dst)
		return fmt.Errorf("failed to export %s: %w", dst, werr)
	}
	return nil
}

func copyFrames(dec *wav.Decoder, enc *wav.Encoder, format Format, frames int) error {
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: format.Channels, SampleRate: format.SampleRate},
		SourceBitDepth: format.BitsPerSample,
	}
	for frames > 0 {
		chunk := min(frames, exportChunkFrames)
		buf.Data = make([]int, chunk*format.Channels)
		n, err := dec.PCMBuffer(buf)
		if err != nil {
			return err
		}
		n -= n % format.Channels
		if n == 0 {
			return errors.New("unexpected end of audio data")
		}
		buf.Data = buf.Data[:n]
		if err := enc.Write(buf); err != nil {
			return err
		}
		frames -= n / format.Channels
	}
	return nil
}

// MuxVideo replaces the audio track of video with audio delayed by offset
// and writes the result to dst without re-encoding.
func MuxVideo(ctx context.Context, ffmpeg, video, audio string, offset time.Duration, dst string) error {
	if ffmpeg == "" {
		ffmpeg = "ffmpeg"
	}
	cmd := exec.CommandContext(
		ctx,
		ffmpeg,
		"-y",
		"-v", "quiet",
		"-i", video,
		"-ss", strconv.FormatFloat(offset.Seconds(), 'f', 3, 64),
		"-i", audio,
		"-c", "copy",
		"-map", "0:v:0",
		"-map", "1:a:0",
		"-shortest",
		dst,
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("ffmpeg mux failed: %v (%s)", err, out)
	}
	return nil
}
