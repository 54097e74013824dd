// Package fourier implements an in-place radix-2 FFT with cached plans.
package fourier

import (
	"errors"
	"fmt"
	"math"
	"math/bits"
	"sync"
)

type Direction int

const (
	// Forward scales every output by 1/N.
	Forward Direction = 1
	// Backward is the unnormalized transform.
	Backward Direction = -1
)

const (
	MaxBits   = 12
	MaxLength = 1 << MaxBits
)

var ErrInvalidLength = errors.New("length must be a power of two no greater than 4096")

func (d Direction) String() string {
	switch d {
	case Forward:
		return "forward"
	case Backward:
		return "backward"
	default:
		return fmt.Sprintf("Direction(%d)", int(d))
	}
}

// Plan holds the permutation and twiddle tables for one (size, direction)
// pair. A Plan is immutable once built and may be shared between goroutines.
type Plan struct {
	n        int
	dir      Direction
	reversed []int
	// twiddles[l] holds the M = 2^l factors used by the butterfly pass
	// combining blocks of size M into blocks of size 2M.
	twiddles [][]complex128
}

type planKey struct {
	n   int
	dir Direction
}

type planCache struct {
	mu    sync.RWMutex
	plans map[planKey]*Plan
}

var plans = &planCache{plans: make(map[planKey]*Plan)}

func (c *planCache) get(n int, dir Direction) *Plan {
	key := planKey{n: n, dir: dir}

	c.mu.RLock()
	p, ok := c.plans[key]
	c.mu.RUnlock()
	if ok {
		return p
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.plans[key]; ok {
		return p
	}
	p = buildPlan(n, dir)
	c.plans[key] = p
	return p
}

func IsPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}

func validLength(n int) bool {
	return IsPowerOfTwo(n) && n <= MaxLength
}

// NewPlan returns the shared plan for n points in the given direction.
func NewPlan(n int, dir Direction) (*Plan, error) {
	if !validLength(n) {
		return nil, fmt.Errorf("fourier: %d points: %w", n, ErrInvalidLength)
	}
	if dir != Forward && dir != Backward {
		return nil, fmt.Errorf("fourier: unknown direction %d", int(dir))
	}
	return plans.get(n, dir), nil
}

func buildPlan(n int, dir Direction) *Plan {
	levels := bits.TrailingZeros(uint(n))

	reversed := make([]int, n)
	for i := range reversed {
		reversed[i] = int(bits.Reverse(uint(i)) >> (bits.UintSize - levels))
	}

	twiddles := make([][]complex128, levels)
	for l := 0; l < levels; l++ {
		m := 1 << l
		row := make([]complex128, m)
		for j := 0; j < m; j++ {
			angle := math.Pi * float64(j) / float64(m) * float64(dir)
			row[j] = complex(math.Cos(angle), math.Sin(angle))
		}
		twiddles[l] = row
	}

	return &Plan{n: n, dir: dir, reversed: reversed, twiddles: twiddles}
}

func (p *Plan) Len() int { return p.n }

func (p *Plan) Direction() Direction { return p.dir }

// Execute transforms data in place. len(data) must equal p.Len().
func (p *Plan) Execute(data []complex128) error {
	if len(data) != p.n {
		return fmt.Errorf("fourier: plan for %d points given %d: %w", p.n, len(data), ErrInvalidLength)
	}

	for i, j := range p.reversed {
		if i < j {
			data[i], data[j] = data[j], data[i]
		}
	}

	for l, row := range p.twiddles {
		m := 1 << l
		for start := 0; start < p.n; start += 2 * m {
			for j := 0; j < m; j++ {
				even := start + j
				odd := even + m
				t := row[j] * data[odd]
				data[odd] = data[even] - t
				data[even] += t
			}
		}
	}

	if p.dir == Forward {
		scale := complex(1/float64(p.n), 0)
		for i := range data {
			data[i] *= scale
		}
	}
	return nil
}

// Transform runs the FFT of data in place using the cached plan for its length.
func Transform(data []complex128, dir Direction) error {
	p, err := NewPlan(len(data), dir)
	if err != nil {
		return err
	}
	return p.Execute(data)
}
