package audio

import (
	"fmt"
	"io"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const (
	wavFormatPCM        = 1
	wavFormatExtensible = 0xFFFE
)

// WavFile reads the first channel of a PCM WAV file.
type WavFile struct {
	path   string
	file   *os.File
	dec    *wav.Decoder
	format Format
	frames int
	read   int

	buf   *goaudio.IntBuffer
	carry []int
	work  []int
}

func OpenWav(path string) (*WavFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}

	w, err := newWavFile(path, f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return w, nil
}

func newWavFile(path string, f *os.File) (*WavFile, error) {
	dec := wav.NewDecoder(f)
	dec.ReadInfo()
	if err := dec.Err(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnsupportedFormat, path, err)
	}
	if dec.WavAudioFormat != wavFormatPCM && dec.WavAudioFormat != wavFormatExtensible {
		return nil, fmt.Errorf("%w: %s: wav encoding %d is not integer PCM", ErrUnsupportedFormat, path, dec.WavAudioFormat)
	}
	switch dec.BitDepth {
	case 8, 16, 24, 32:
	default:
		return nil, fmt.Errorf("%w: %s: %d-bit samples", ErrUnsupportedFormat, path, dec.BitDepth)
	}
	if dec.NumChans < 1 {
		return nil, fmt.Errorf("%w: %s: no channels", ErrUnsupportedFormat, path)
	}
	if err := dec.FwdToPCM(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnsupportedFormat, path, err)
	}

	format := NewFormat(int(dec.SampleRate), int(dec.BitDepth), int(dec.NumChans))
	return &WavFile{
		path:   path,
		file:   f,
		dec:    dec,
		format: format,
		frames: int(dec.PCMLen() / int64(format.BlockAlign)),
		buf: &goaudio.IntBuffer{
			Format: &goaudio.Format{NumChannels: format.Channels, SampleRate: format.SampleRate},
		},
	}, nil
}

func (w *WavFile) Format() Format { return w.format }

func (w *WavFile) Len() int { return w.frames }

func (w *WavFile) Path() string { return w.path }

func (w *WavFile) Close() error {
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

// ReadSamples fills dst with the next first-channel samples and returns how
// many were read. It returns io.EOF once every frame has been delivered.
func (w *WavFile) ReadSamples(dst []int32) (int, error) {
	if w.file == nil {
		return 0, os.ErrClosed
	}
	want := min(len(dst), w.frames-w.read)
	if want <= 0 {
		if len(dst) == 0 {
			return 0, nil
		}
		return 0, io.EOF
	}

	ch := w.format.Channels
	samples := append(w.work[:0], w.carry...)
	for len(samples) < want*ch {
		need := want*ch - len(samples)
		if cap(w.buf.Data) < need {
			w.buf.Data = make([]int, need)
		}
		w.buf.Data = w.buf.Data[:need]

		n, err := w.dec.PCMBuffer(w.buf)
		samples = append(samples, w.buf.Data[:n]...)
		if err != nil {
			return 0, fmt.Errorf("failed to decode %s: %w", w.path, err)
		}
		if n == 0 {
			break
		}
	}
	w.work = samples

	frames := min(len(samples)/ch, want)
	for i := 0; i < frames; i++ {
		dst[i] = w.sample(samples[i*ch])
	}
	w.carry = append(w.carry[:0], samples[frames*ch:]...)
	w.read += frames

	if frames == 0 {
		w.read = w.frames
		return 0, io.EOF
	}
	return frames, nil
}

func (w *WavFile) sample(v int) int32 {
	if w.format.BitsPerSample == 8 {
		return int32(v - 128)
	}
	return int32(v)
}
