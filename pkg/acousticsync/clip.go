package acousticsync

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/himanishpuri/AcousticSync/pkg/acousticsync/audio"
	"github.com/himanishpuri/AcousticSync/pkg/acousticsync/matcher"
)

// Clip is one recording taking part in a synchronization: either the
// master or a candidate aligned against it. All methods are safe for
// concurrent use.
type Clip struct {
	id       string
	path     string
	isMaster bool
	log      Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	state       State
	err         error
	pcm         audio.PCM
	format      audio.Format
	tempPath    string
	sampleCount int
	hashes      []uint32
	result      matcher.Result
	window      int
	busy        bool
	disposed    bool
	keepFiles   bool

	// onRelease removes the clip's cache entries when it is disposed.
	onRelease func(path string, format audio.Format)

	phase       atomic.Int32
	progress    atomic.Int64
	progressMax atomic.Int64

	loaded  chan struct{}
	hashed  chan struct{}
	matched chan struct{}
	done    chan struct{}

	loadedOnce  sync.Once
	hashedOnce  sync.Once
	matchedOnce sync.Once
	doneOnce    sync.Once
}

func newClip(path string, isMaster bool, log Logger) *Clip {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Clip{
		id:       uuid.NewString(),
		path:     path,
		isMaster: isMaster,
		ctx:      ctx,
		cancel:   cancel,
		state:    StateCreated,
		loaded:   make(chan struct{}),
		hashed:   make(chan struct{}),
		matched:  make(chan struct{}),
		done:     make(chan struct{}),
	}
	c.log = withPrefix(log, c.Name())
	return c
}

func (c *Clip) ID() string { return c.id }

func (c *Clip) Path() string { return c.path }

func (c *Clip) Name() string { return filepath.Base(c.path) }

func (c *Clip) IsMaster() bool { return c.isMaster }

func (c *Clip) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err returns why the clip failed or was canceled.
func (c *Clip) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Format is the PCM format the clip was analyzed in. It is zero until the
// clip is loaded.
func (c *Clip) Format() audio.Format {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.format
}

// TempPath is the extracted audio file the clip was analyzed from.
func (c *Clip) TempPath() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tempPath
}

func (c *Clip) SampleCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sampleCount
}

// Hashes returns the clip's hash sequence, or nil before it is hashed.
// The slice must not be modified.
func (c *Clip) Hashes() []uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hashes
}

// Matches returns the number of equal hashes at the matched offset.
func (c *Clip) Matches() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.result.Matches
}

// OffsetWindows returns the matched offset in analysis windows.
func (c *Clip) OffsetWindows() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.result.Offset
}

// StartIndex returns the matched offset in samples at the master's rate.
// Negative values mean the clip started before the master.
func (c *Clip) StartIndex() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.result.Offset * c.window
}

// Offset returns the matched offset as a duration.
func (c *Clip) Offset() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.format.SampleRate == 0 {
		return 0
	}
	samples := int64(c.result.Offset * c.window)
	return time.Duration(samples) * time.Second / time.Duration(c.format.SampleRate)
}

func (c *Clip) Progress() Progress {
	return Progress{
		Phase: Phase(c.phase.Load()),
		Value: int(c.progress.Load()),
		Max:   int(c.progressMax.Load()),
	}
}

// Loaded is closed once the clip's audio is open and its format known.
func (c *Clip) Loaded() <-chan struct{} { return c.loaded }

// Hashed is closed once the hash sequence is available.
func (c *Clip) Hashed() <-chan struct{} { return c.hashed }

// Matched is closed once a candidate's offset is known.
func (c *Clip) Matched() <-chan struct{} { return c.matched }

// Done is closed when the clip needs no further work: a master once
// hashed, a candidate once matched, and any clip that failed or was
// canceled.
func (c *Clip) Done() <-chan struct{} { return c.done }

func (c *Clip) startPhase(p Phase, max int) {
	c.progress.Store(0)
	c.progressMax.Store(int64(max))
	c.phase.Store(int32(p))
}

// advance raises the progress value to done. Workers may report out of
// order, so smaller values are ignored.
func (c *Clip) advance(done int) {
	v := int64(done)
	for {
		cur := c.progress.Load()
		if v <= cur || c.progress.CompareAndSwap(cur, v) {
			return
		}
	}
}

// begin marks the clip as running a job. It returns false when the clip
// was canceled and the job must not start.
func (c *Clip) begin(state State) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Terminal() || c.ctx.Err() != nil {
		return false
	}
	c.busy = true
	c.state = state
	return true
}

// end releases the clip after a job and disposes it if it was canceled
// meanwhile.
func (c *Clip) end() {
	c.mu.Lock()
	c.busy = false
	dispose := (c.state == StateCanceled || c.state == StateFailed) && !c.disposed
	c.mu.Unlock()
	if dispose {
		c.dispose()
	}
}

func (c *Clip) attach(pcm audio.PCM, window int) bool {
	c.mu.Lock()
	if c.state == StateCanceled {
		c.mu.Unlock()
		return false
	}
	c.pcm = pcm
	c.format = pcm.Format()
	c.tempPath = pcm.Path()
	c.sampleCount = pcm.Len()
	c.window = window
	c.state = StateLoaded
	c.mu.Unlock()

	c.loadedOnce.Do(func() { close(c.loaded) })
	return true
}

func (c *Clip) publishHashes(hashes []uint32) bool {
	c.mu.Lock()
	if c.state == StateCanceled {
		c.mu.Unlock()
		return false
	}
	c.hashes = hashes
	c.state = StateHashed
	c.mu.Unlock()

	c.hashedOnce.Do(func() { close(c.hashed) })
	if c.isMaster {
		c.finish()
	}
	return true
}

func (c *Clip) publishMatch(r matcher.Result) bool {
	c.mu.Lock()
	if c.state == StateCanceled {
		c.mu.Unlock()
		return false
	}
	c.result = r
	c.state = StateMatched
	c.mu.Unlock()

	c.matchedOnce.Do(func() { close(c.matched) })
	c.finish()
	return true
}

func (c *Clip) fail(err error) {
	c.mu.Lock()
	if c.state.Terminal() {
		c.mu.Unlock()
		return
	}
	c.state = StateFailed
	c.err = err
	c.keepFiles = true
	dispose := !c.busy
	c.mu.Unlock()

	c.cancel()
	c.finish()
	if dispose {
		c.dispose()
	}
}

// abort cancels the clip's work. Its resources are released as soon as
// no job is running; keepFiles leaves the cache entries on disk.
func (c *Clip) abort(keepFiles bool) {
	c.cancel()

	c.mu.Lock()
	if c.state == StateCanceled || c.disposed {
		c.mu.Unlock()
		return
	}
	if c.state != StateFailed {
		c.err = context.Canceled
	}
	c.state = StateCanceled
	c.keepFiles = keepFiles
	dispose := !c.busy
	c.mu.Unlock()

	c.finish()
	if dispose {
		c.dispose()
	}
}

func (c *Clip) finish() {
	c.doneOnce.Do(func() { close(c.done) })
}

func (c *Clip) dispose() {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	c.disposed = true
	pcm := c.pcm
	c.pcm = nil
	format := c.format
	keep := c.keepFiles
	c.mu.Unlock()

	if pcm != nil {
		if err := pcm.Close(); err != nil {
			c.log.Warnf("failed to close audio: %v", err)
		}
	}
	if !keep && c.onRelease != nil {
		c.onRelease(c.path, format)
	}
}
