// Package acousticsync aligns recordings of the same event in time by
// comparing spectral fingerprints against a master recording.
package acousticsync

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"sync"

	"github.com/himanishpuri/AcousticSync/pkg/acousticsync/audio"
	"github.com/himanishpuri/AcousticSync/pkg/acousticsync/cache"
	"github.com/himanishpuri/AcousticSync/pkg/acousticsync/fingerprint"
	"github.com/himanishpuri/AcousticSync/pkg/acousticsync/matcher"
	"github.com/himanishpuri/AcousticSync/pkg/logger"
	"github.com/himanishpuri/AcousticSync/pkg/models"
)

// Synchronizer owns one master clip and the candidates aligned against it.
type Synchronizer struct {
	cfg       *Config
	log       Logger
	cache     *cache.FileCache
	loader    audio.Loader
	extractor *fingerprint.Extractor
	store     ResultStore
	ownsStore bool
	pool      *pool

	mu         sync.Mutex
	master     *Clip
	candidates []*Clip
	clips      map[string]*Clip
	closed     bool
}

func New(opts ...Option) (*Synchronizer, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.Logger == nil {
		cfg.Logger = logger.GetLogger()
	}

	fc, err := cache.New(cfg.CacheDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache: %w", err)
	}

	extractor, err := fingerprint.NewExtractor(cfg.Sync)
	if err != nil {
		return nil, err
	}
	extractor.OnCacheError = func(op, key string, err error) {
		cfg.Logger.Warnf("cache %s failed for %s: %v", op, key, err)
	}

	loader := cfg.Loader
	if loader == nil {
		loader = audio.NewFileLoader(fc.Root(), cfg.FFmpegPath, cfg.FFprobePath)
	}

	s := &Synchronizer{
		cfg:       cfg,
		log:       cfg.Logger,
		cache:     fc,
		loader:    loader,
		extractor: extractor,
		store:     cfg.Store,
		clips:     make(map[string]*Clip),
	}

	if s.store == nil && cfg.DBPath != "" {
		s.store, err = NewSQLiteStore(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create storage: %w", err)
		}
		s.ownsStore = true
	}

	s.pool = newPool(cfg.Workers)
	return s, nil
}

func (s *Synchronizer) Config() Config { return *s.cfg }

func (s *Synchronizer) Cache() *cache.FileCache { return s.cache }

// Store returns the configured result store, or nil.
func (s *Synchronizer) Store() ResultStore { return s.store }

// SetMaster makes path the master recording. The previous master and all
// candidates are canceled, since candidates are resampled to the master's
// format.
func (s *Synchronizer) SetMaster(path string) (*Clip, error) {
	path, err := s.checkSource(path)
	if err != nil {
		return nil, err
	}

	c := s.newClip(path, true)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	old := s.detachAllLocked()
	s.master = c
	s.clips[c.id] = c
	s.mu.Unlock()

	for _, o := range old {
		o.abort(false)
	}

	s.log.Infof("Master set: %s", path)
	if err := s.pool.submit(func() { s.loadAndHash(c, nil) }); err != nil {
		s.drop(c)
		c.abort(true)
		return nil, err
	}
	return c, nil
}

// AddCandidate queues path for alignment against the current master.
func (s *Synchronizer) AddCandidate(path string) (*Clip, error) {
	path, err := s.checkSource(path)
	if err != nil {
		return nil, err
	}

	c := s.newClip(path, false)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	master := s.master
	if master == nil {
		s.mu.Unlock()
		return nil, ErrNoMaster
	}
	s.candidates = append(s.candidates, c)
	s.clips[c.id] = c
	s.mu.Unlock()

	c.log.Infof("Candidate added, waiting for master %s", master.Name())
	go s.awaitMasterLoaded(c, master)
	return c, nil
}

// Cancel stops c and releases its resources. Canceling the master cancels
// every candidate as well.
func (s *Synchronizer) Cancel(c *Clip) {
	if c == nil {
		return
	}

	var canceled []*Clip
	s.mu.Lock()
	if c == s.master {
		canceled = s.detachAllLocked()
	} else {
		s.removeLocked(c)
		canceled = []*Clip{c}
	}
	s.mu.Unlock()

	for _, cl := range canceled {
		cl.abort(false)
	}
	c.log.Infof("Canceled (%d clip(s) affected)", len(canceled))
}

func (s *Synchronizer) Master() *Clip {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.master
}

func (s *Synchronizer) Candidates() []*Clip {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.candidates)
}

// Clip looks up a live clip by ID.
func (s *Synchronizer) Clip(id string) (*Clip, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clips[id]
	return c, ok
}

// Wait blocks until every clip known when it was called is done.
func (s *Synchronizer) Wait(ctx context.Context) error {
	s.mu.Lock()
	var clips []*Clip
	if s.master != nil {
		clips = append(clips, s.master)
	}
	clips = append(clips, s.candidates...)
	s.mu.Unlock()

	for _, c := range clips {
		select {
		case <-c.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// ClearCache closes every clip and deletes all cached hashes and
// extracted audio.
func (s *Synchronizer) ClearCache() (int, error) {
	s.mu.Lock()
	clips := s.detachAllLocked()
	s.mu.Unlock()

	for _, c := range clips {
		c.abort(true)
	}

	hashes, err := s.cache.Clear(cache.TempExtension)
	if err != nil {
		return hashes, err
	}
	wavs, err := s.cache.Clear(cache.AudioExtension)
	s.log.Infof("Cache cleared: %d hash file(s), %d audio file(s)", hashes, wavs)
	return hashes + wavs, err
}

// Save writes the stretch of the master that lines up with c to dst.
func (s *Synchronizer) Save(c *Clip, dst string) error {
	if c == nil || c.IsMaster() {
		return errors.New("save needs a matched candidate")
	}
	if c.State() != StateMatched {
		return fmt.Errorf("%s: %w", c.Name(), ErrNotMatched)
	}

	master := s.Master()
	if master == nil {
		return ErrNoMaster
	}
	src := master.TempPath()
	if src == "" {
		return fmt.Errorf("master %s: %w", master.Name(), ErrNotReady)
	}

	if err := audio.SaveMatch(src, dst, c.StartIndex(), c.SampleCount()); err != nil {
		return fmt.Errorf("failed to save match for %s: %w", c.Name(), err)
	}
	c.log.Infof("Saved aligned master segment to %s", dst)
	return nil
}

// Close cancels outstanding work and releases every clip. Cached hashes
// and extracted audio stay on disk.
func (s *Synchronizer) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	clips := s.detachAllLocked()
	s.mu.Unlock()

	for _, c := range clips {
		c.abort(true)
	}
	s.pool.close()

	if s.ownsStore && s.store != nil {
		return s.store.Close()
	}
	return nil
}

func (s *Synchronizer) checkSource(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", path, err)
	}
	if s.cache.Owns(abs) {
		return "", fmt.Errorf("%s: %w", path, ErrSourceInCache)
	}
	return abs, nil
}

func (s *Synchronizer) newClip(path string, isMaster bool) *Clip {
	c := newClip(path, isMaster, s.log)
	c.onRelease = s.release
	return c
}

// release removes the cache entries derived from path.
func (s *Synchronizer) release(path string, format audio.Format) {
	if format.SampleRate > 0 {
		if err := s.cache.Remove(cache.HashKey(path, format.SampleRate)); err != nil {
			s.log.Warnf("%v", err)
		}
	}
	if err := s.cache.Remove(cache.AudioKey(path)); err != nil {
		s.log.Warnf("%v", err)
	}
}

// detachAllLocked forgets the master and all candidates and returns them.
func (s *Synchronizer) detachAllLocked() []*Clip {
	var out []*Clip
	if s.master != nil {
		out = append(out, s.master)
	}
	out = append(out, s.candidates...)
	s.master = nil
	s.candidates = nil
	clear(s.clips)
	return out
}

func (s *Synchronizer) removeLocked(c *Clip) {
	if i := slices.Index(s.candidates, c); i >= 0 {
		s.candidates = slices.Delete(s.candidates, i, i+1)
	}
	delete(s.clips, c.id)
}

// drop forgets a clip that failed.
func (s *Synchronizer) drop(c *Clip) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c == s.master {
		s.master = nil
		delete(s.clips, c.id)
		return
	}
	s.removeLocked(c)
}

func (s *Synchronizer) failClip(c *Clip, err error) {
	c.log.Errorf("%v", err)
	s.drop(c)
	c.fail(err)
}

func (s *Synchronizer) loadAndHash(c *Clip, target *audio.Format) {
	if !c.begin(StateLoading) {
		return
	}
	defer c.end()

	pcm, err := s.loader.Load(c.ctx, c.path, target)
	if err != nil {
		if c.ctx.Err() != nil {
			return
		}
		s.failClip(c, fmt.Errorf("failed to load %s: %w", c.path, err))
		return
	}
	if !c.attach(pcm, s.cfg.Sync.WindowLength) {
		pcm.Close()
		return
	}
	format := pcm.Format()
	c.log.Debugf("Loaded %d samples (%s)", pcm.Len(), format)

	if !c.begin(StateHashing) {
		return
	}
	windows := s.cfg.Sync.Windows(pcm.Len())
	c.startPhase(PhaseHashing, windows)

	key := cache.HashKey(c.path, format.SampleRate)
	hashes, err := s.extractor.ExtractCached(c.ctx, s.cache, key, c.path, pcm, pcm.Len(), func(done, total int) {
		c.advance(done)
	})
	if err != nil {
		if c.ctx.Err() != nil {
			return
		}
		s.failClip(c, fmt.Errorf("failed to hash %s: %w", c.path, err))
		return
	}
	if !c.publishHashes(hashes) {
		return
	}
	c.log.Infof("Hashed %d windows", len(hashes))

	if !c.isMaster {
		master := s.masterOf(c)
		if master == nil {
			return
		}
		go s.awaitMasterHashed(c, master)
	}
}

// masterOf returns the master c was added against, or nil if it has
// been replaced.
func (s *Synchronizer) masterOf(c *Clip) *Clip {
	s.mu.Lock()
	defer s.mu.Unlock()
	if slices.Contains(s.candidates, c) {
		return s.master
	}
	return nil
}

func (s *Synchronizer) awaitMasterLoaded(c, master *Clip) {
	select {
	case <-master.Loaded():
	case <-master.Done():
		select {
		case <-master.Loaded():
		default:
			if c.ctx.Err() != nil {
				return
			}
			s.failClip(c, fmt.Errorf("master %s: %w", master.Name(), ErrNoMaster))
			return
		}
	case <-c.ctx.Done():
		return
	}

	target := master.Format()
	if err := s.pool.submit(func() { s.loadAndHash(c, &target) }); err != nil {
		c.abort(true)
	}
}

func (s *Synchronizer) awaitMasterHashed(c, master *Clip) {
	select {
	case <-master.Hashed():
	case <-master.Done():
		select {
		case <-master.Hashed():
		default:
			if c.ctx.Err() != nil {
				return
			}
			s.failClip(c, fmt.Errorf("master %s: %w", master.Name(), ErrNoMaster))
			return
		}
	case <-c.ctx.Done():
		return
	}

	if err := s.pool.submit(func() { s.match(c, master) }); err != nil {
		c.abort(true)
	}
}

func (s *Synchronizer) match(c, master *Clip) {
	if !c.begin(StateMatching) {
		return
	}
	defer c.end()

	mh, ch := master.Hashes(), c.Hashes()
	c.startPhase(PhaseMatching, matcher.Offsets(len(mh), len(ch)))

	res, err := matcher.Match(c.ctx, mh, ch,
		matcher.WithWorkers(s.cfg.MatchWorkers),
		matcher.WithProgress(func(done, total int) { c.advance(done) }),
	)
	if err != nil {
		if c.ctx.Err() != nil {
			return
		}
		s.failClip(c, fmt.Errorf("failed to match %s: %w", c.path, err))
		return
	}
	if !c.publishMatch(res) {
		return
	}
	c.log.Infof("Matched at offset %v (%d windows, %d equal hashes)", c.Offset(), res.Offset, res.Matches)
	s.persist(c, master)
}

func (s *Synchronizer) persist(c, master *Clip) {
	if s.store == nil {
		return
	}
	a := models.Alignment{
		MasterPath:   master.Path(),
		ClipPath:     c.Path(),
		SampleRate:   c.Format().SampleRate,
		WindowLength: s.cfg.Sync.WindowLength,
		BandStep:     s.cfg.Sync.BandStep,
		OffsetWindow: c.OffsetWindows(),
		StartIndex:   int64(c.StartIndex()),
		OffsetMs:     c.Offset().Milliseconds(),
		MatchCount:   c.Matches(),
	}
	id, err := s.store.SaveAlignment(a)
	if err != nil {
		c.log.Warnf("failed to persist alignment: %v", err)
		return
	}
	c.log.Debugf("Alignment stored as %s", id)
}
