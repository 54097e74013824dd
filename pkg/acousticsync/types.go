package acousticsync

import (
	"errors"

	"github.com/himanishpuri/AcousticSync/pkg/acousticsync/audio"
	"github.com/himanishpuri/AcousticSync/pkg/acousticsync/matcher"
	"github.com/himanishpuri/AcousticSync/pkg/acousticsync/storage"
)

var (
	ErrNoMaster      = errors.New("no master clip is set")
	ErrSourceInCache = errors.New("source file lives inside the cache directory")
	ErrClosed        = errors.New("synchronizer is closed")
	ErrNotMatched    = errors.New("clip has not been matched")

	ErrUnsupportedSource = audio.ErrUnsupportedFormat
	ErrNotReady          = matcher.ErrNotReady
	ErrAlignmentNotFound = storage.ErrNotFound
)

type State int

const (
	StateCreated State = iota
	StateLoading
	StateLoaded
	StateHashing
	StateHashed
	StateMatching
	StateMatched
	StateFailed
	StateCanceled
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateLoading:
		return "loading"
	case StateLoaded:
		return "loaded"
	case StateHashing:
		return "hashing"
	case StateHashed:
		return "hashed"
	case StateMatching:
		return "matching"
	case StateMatched:
		return "matched"
	case StateFailed:
		return "failed"
	case StateCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool {
	return s == StateMatched || s == StateFailed || s == StateCanceled
}

type Phase int

const (
	PhaseIdle Phase = iota
	PhaseHashing
	PhaseMatching
)

func (p Phase) String() string {
	switch p {
	case PhaseHashing:
		return "hashing"
	case PhaseMatching:
		return "matching"
	default:
		return "idle"
	}
}

// Progress is a snapshot of a clip's work in its current phase.
type Progress struct {
	Phase Phase
	Value int
	Max   int
}

func (p Progress) Fraction() float64 {
	if p.Max <= 0 {
		return 0
	}
	return float64(p.Value) / float64(p.Max)
}
