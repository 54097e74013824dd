// Package fingerprint reduces a PCM sample stream to one hash per
// fixed-length window.
package fingerprint

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/bits"
	"math/cmplx"

	"github.com/himanishpuri/AcousticSync/pkg/acousticsync/fourier"
)

// SampleReader yields samples of the analysis channel in order. It returns
// io.EOF once the stream is exhausted.
type SampleReader interface {
	ReadSamples(dst []int32) (int, error)
}

// Entry is a stored hash sequence together with the source and the
// analysis settings that produced it.
type Entry struct {
	Source       string
	WindowLength int
	BandStep     int
	Window       string
	Hashes       []uint32
}

// HashCache stores hash sequences by key.
type HashCache interface {
	GetHashes(key string) (Entry, bool, error)
	SetHashes(key string, entry Entry) error
}

// ProgressFunc is called with the number of windows processed so far.
type ProgressFunc func(done, total int)

type Extractor struct {
	cfg  Config
	plan *fourier.Plan

	// OnCacheError, when set, receives cache failures. They never fail
	// the extraction.
	OnCacheError func(op, key string, err error)
}

func NewExtractor(cfg Config) (*Extractor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	plan, err := fourier.NewPlan(cfg.WindowLength, fourier.Backward)
	if err != nil {
		return nil, fmt.Errorf("failed to build transform plan: %w", err)
	}
	return &Extractor{cfg: cfg, plan: plan}, nil
}

func (e *Extractor) Config() Config { return e.cfg }

// Extract hashes the first sampleCount samples of r. It returns
// sampleCount/WindowLength hashes, or ctx.Err() and no hashes if ctx is
// canceled before the last window.
func (e *Extractor) Extract(ctx context.Context, r SampleReader, sampleCount int, progress ProgressFunc) ([]uint32, error) {
	l := e.cfg.WindowLength
	total := e.cfg.Windows(sampleCount)
	hashes := make([]uint32, 0, total)

	samples := make([]int32, l)
	segment := make([]complex128, l)
	peaks := make([]int, e.cfg.Bands())

	for w := 0; w < total; w++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if err := readWindow(r, samples); err != nil {
			return nil, fmt.Errorf("failed to read window %d: %w", w, err)
		}
		for i, s := range samples {
			segment[i] = complex(float64(s), 0)
		}

		e.cfg.Window.Apply(segment)
		if err := e.plan.Execute(segment); err != nil {
			return nil, err
		}
		e.bandPeaks(segment, peaks)
		hashes = append(hashes, CombineHashes(peaks))

		if progress != nil {
			progress(w+1, total)
		}
	}
	return hashes, nil
}

// ExtractCached returns the hashes stored under key, or extracts and stores
// them. A stored entry is used only if it was computed from source with the
// extractor's settings and holds one hash per window; a cache hit reads
// nothing from r.
func (e *Extractor) ExtractCached(ctx context.Context, c HashCache, key, source string, r SampleReader, sampleCount int, progress ProgressFunc) ([]uint32, error) {
	if c == nil {
		return e.Extract(ctx, r, sampleCount, progress)
	}

	total := e.cfg.Windows(sampleCount)
	cached, ok, err := c.GetHashes(key)
	switch {
	case err != nil:
		e.cacheError("read", key, err)
	case ok && e.fits(cached, source, total):
		if progress != nil {
			progress(total, total)
		}
		return cached.Hashes, nil
	}

	hashes, err := e.Extract(ctx, r, sampleCount, progress)
	if err != nil {
		return nil, err
	}
	if err := c.SetHashes(key, e.entry(source, hashes)); err != nil {
		e.cacheError("write", key, err)
	}
	return hashes, nil
}

func (e *Extractor) entry(source string, hashes []uint32) Entry {
	return Entry{
		Source:       source,
		WindowLength: e.cfg.WindowLength,
		BandStep:     e.cfg.BandStep,
		Window:       e.cfg.Window.Name(),
		Hashes:       hashes,
	}
}

func (e *Extractor) fits(entry Entry, source string, windows int) bool {
	return entry.Source == source &&
		entry.WindowLength == e.cfg.WindowLength &&
		entry.BandStep == e.cfg.BandStep &&
		entry.Window == e.cfg.Window.Name() &&
		len(entry.Hashes) == windows
}

func (e *Extractor) cacheError(op, key string, err error) {
	if e.OnCacheError != nil {
		e.OnCacheError(op, key, err)
	}
}

// BandPeaks returns, for each band over the first half of a transformed
// segment, the bin with the greatest log-magnitude. Ties keep the lowest bin.
func (e *Extractor) BandPeaks(segment []complex128) []int {
	peaks := make([]int, e.cfg.Bands())
	e.bandPeaks(segment, peaks)
	return peaks
}

func (e *Extractor) bandPeaks(segment []complex128, peaks []int) {
	half := len(segment) / 2
	step := e.cfg.BandStep
	for b := range peaks {
		lo := b * step
		hi := min(lo+step, half)

		best := lo
		bestLevel := math.Log10(cmplx.Abs(segment[lo]))
		for k := lo + 1; k < hi; k++ {
			if level := math.Log10(cmplx.Abs(segment[k])); level > bestLevel {
				best, bestLevel = k, level
			}
		}
		peaks[b] = best
	}
}

// CombineHashes folds band indices into a single order-sensitive hash.
func CombineHashes(values []int) uint32 {
	if len(values) == 0 {
		return 0
	}
	acc := uint32(values[0])
	for _, v := range values[1:] {
		acc = bits.RotateLeft32(acc, 5) ^ uint32(v)
	}
	return acc
}

// readWindow fills dst from r. A stream that ends early leaves the rest
// of dst zeroed.
func readWindow(r SampleReader, dst []int32) error {
	filled := 0
	for filled < len(dst) {
		n, err := r.ReadSamples(dst[filled:])
		filled += n
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		if n == 0 {
			break
		}
	}
	clear(dst[filled:])
	return nil
}
