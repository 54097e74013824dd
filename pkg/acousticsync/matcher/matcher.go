// Package matcher finds the temporal offset at which two hash sequences
// agree the most.
package matcher

import (
	"context"
	"errors"
	"runtime"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

var ErrNotReady = errors.New("hash sequence has not been computed")

// Result is the best alignment found. Offset is measured in windows: the
// candidate's first window lines up with the master's window Offset.
type Result struct {
	Offset  int
	Matches int
}

type options struct {
	workers  int
	progress func(done, total int)
}

type Option func(*options)

// WithWorkers sets how many goroutines evaluate offsets. Values below one
// select runtime.NumCPU().
func WithWorkers(n int) Option {
	return func(o *options) { o.workers = n }
}

// WithProgress registers a callback receiving the number of offsets
// evaluated so far. It may be called from several goroutines at once.
func WithProgress(fn func(done, total int)) Option {
	return func(o *options) { o.progress = fn }
}

// OffsetRange returns the inclusive range of offsets searched for a master
// of h hashes and a candidate of c hashes.
func OffsetRange(h, c int) (lo, hi int) {
	return -(c - 1), h - 1
}

// Offsets returns how many offsets Match evaluates.
func Offsets(h, c int) int {
	if h == 0 || c == 0 {
		return 0
	}
	return h + c - 1
}

// Count returns the number of positions i where master[i] equals
// candidate[i-offset].
func Count(master, candidate []uint32, offset int) int {
	start := max(0, offset)
	end := min(len(master), offset+len(candidate))
	n := 0
	for i := start; i < end; i++ {
		if master[i] == candidate[i-offset] {
			n++
		}
	}
	return n
}

// better reports whether a beats b: more matches, then the offset closest
// to zero, then the smaller offset.
func better(a, b Result) bool {
	if a.Matches != b.Matches {
		return a.Matches > b.Matches
	}
	if abs(a.Offset) != abs(b.Offset) {
		return abs(a.Offset) < abs(b.Offset)
	}
	return a.Offset < b.Offset
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

// Match searches every offset at which master and candidate overlap and
// returns the one with the most equal hashes. The result does not depend
// on the number of workers.
func Match(ctx context.Context, master, candidate []uint32, opts ...Option) (Result, error) {
	if master == nil || candidate == nil {
		return Result{}, ErrNotReady
	}

	o := options{workers: runtime.NumCPU()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.workers < 1 {
		o.workers = runtime.NumCPU()
	}

	total := Offsets(len(master), len(candidate))
	if total == 0 {
		return Result{}, ctx.Err()
	}
	lo, hi := OffsetRange(len(master), len(candidate))
	workers := min(o.workers, total)

	var done atomic.Int64
	bests := make([]Result, workers)
	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		w := w
		g.Go(func() error {
			best := Result{Matches: -1}
			for offset := lo + w; offset <= hi; offset += workers {
				if err := gctx.Err(); err != nil {
					return err
				}
				r := Result{Offset: offset, Matches: Count(master, candidate, offset)}
				if better(r, best) {
					best = r
				}
				n := done.Add(1)
				if o.progress != nil {
					o.progress(int(n), total)
				}
			}
			bests[w] = best
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	best := bests[0]
	for _, r := range bests[1:] {
		if better(r, best) {
			best = r
		}
	}
	return best, nil
}
