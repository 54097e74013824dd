package acousticsync

import (
	"context"
	"errors"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/himanishpuri/AcousticSync/pkg/acousticsync/audio"
	"github.com/himanishpuri/AcousticSync/pkg/acousticsync/cache"
	"github.com/himanishpuri/AcousticSync/pkg/acousticsync/fingerprint"
	"github.com/himanishpuri/AcousticSync/pkg/acousticsync/window"
	"github.com/himanishpuri/AcousticSync/pkg/models"
)

const testRate = 8000

type fakePCM struct {
	format audio.Format
	data   []int32
	path   string

	mu      sync.Mutex
	pos     int
	reads   int
	blockAt int
	release chan struct{}
	closed  atomic.Bool
}

func (p *fakePCM) Format() audio.Format { return p.format }
func (p *fakePCM) Len() int             { return len(p.data) }
func (p *fakePCM) Path() string         { return p.path }

func (p *fakePCM) Close() error {
	p.closed.Store(true)
	return nil
}

func (p *fakePCM) ReadSamples(dst []int32) (int, error) {
	p.mu.Lock()
	pos := p.pos
	p.mu.Unlock()
	if p.release != nil && pos >= p.blockAt {
		<-p.release
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.reads++
	if p.pos >= len(p.data) {
		return 0, io.EOF
	}
	n := copy(dst, p.data[p.pos:])
	p.pos += n
	return n, nil
}

type fakeSource struct {
	data    []int32
	blockAt int
	release chan struct{}
	err     error
}

// fakeLoader serves in-memory sources and writes each one as a real WAV
// file into the cache directory, where the file loader would put it.
type fakeLoader struct {
	t        *testing.T
	cacheDir string

	mu      sync.Mutex
	sources map[string]*fakeSource
	opened  map[string][]*fakePCM
	targets map[string]*audio.Format
}

func newFakeLoader(t *testing.T, cacheDir string) *fakeLoader {
	return &fakeLoader{
		t:        t,
		cacheDir: cacheDir,
		sources:  make(map[string]*fakeSource),
		opened:   make(map[string][]*fakePCM),
		targets:  make(map[string]*audio.Format),
	}
}

func (l *fakeLoader) add(path string, src *fakeSource) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sources[path] = src
}

func (l *fakeLoader) last(path string) *fakePCM {
	l.mu.Lock()
	defer l.mu.Unlock()
	pcms := l.opened[path]
	if len(pcms) == 0 {
		return nil
	}
	return pcms[len(pcms)-1]
}

func (l *fakeLoader) Load(ctx context.Context, path string, target *audio.Format) (audio.PCM, error) {
	l.mu.Lock()
	src, ok := l.sources[path]
	l.targets[path] = target
	l.mu.Unlock()
	if !ok {
		return nil, os.ErrNotExist
	}
	if src.err != nil {
		return nil, src.err
	}

	format := audio.NewFormat(testRate, 16, 1)
	if target != nil {
		format = audio.NewFormat(target.SampleRate, 16, 1)
	}
	tmp := filepath.Join(l.cacheDir, cache.AudioKey(path))
	writeTestWav(l.t, tmp, format.SampleRate, src.data)

	pcm := &fakePCM{format: format, data: src.data, path: tmp, blockAt: src.blockAt, release: src.release}
	l.mu.Lock()
	l.opened[path] = append(l.opened[path], pcm)
	l.mu.Unlock()
	return pcm, nil
}

func writeTestWav(t *testing.T, path string, rate int, data []int32) {
	f, err := os.Create(path)
	if err != nil {
		t.Error(err)
		return
	}
	defer f.Close()

	ints := make([]int, len(data))
	for i, v := range data {
		ints[i] = int(v)
	}
	enc := wav.NewEncoder(f, rate, 16, 1, 1)
	if err := enc.Write(&goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: rate},
		Data:           ints,
		SourceBitDepth: 16,
	}); err != nil {
		t.Error(err)
	}
	if err := enc.Close(); err != nil {
		t.Error(err)
	}
}

type memoryStore struct {
	mu    sync.Mutex
	saved []models.Alignment
	err   error
}

func (m *memoryStore) SaveAlignment(a models.Alignment) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	a.ID = "id-" + filepath.Base(a.ClipPath)
	m.saved = append(m.saved, a)
	return a.ID, nil
}

func (m *memoryStore) GetAlignment(id string) (models.Alignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.saved {
		if a.ID == id {
			return a, nil
		}
	}
	return models.Alignment{}, errors.New("not found")
}

func (m *memoryStore) ListAlignments(master string) ([]models.Alignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Alignment(nil), m.saved...), nil
}

func (m *memoryStore) DeleteAlignment(id string) error { return nil }
func (m *memoryStore) Close() error                    { return nil }

type discardLogger struct{}

func (discardLogger) Infof(string, ...any)  {}
func (discardLogger) Warnf(string, ...any)  {}
func (discardLogger) Errorf(string, ...any) {}
func (discardLogger) Debugf(string, ...any) {}

type harness struct {
	s      *Synchronizer
	loader *fakeLoader
	store  *memoryStore
	cache  string
	src    string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	root := t.TempDir()
	cacheDir := filepath.Join(root, "cache")
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		t.Fatal(err)
	}
	return newHarnessAt(t, cacheDir, filepath.Join(root, "media"))
}

func newHarnessAt(t *testing.T, cacheDir, srcDir string, extra ...Option) *harness {
	t.Helper()
	loader := newFakeLoader(t, cacheDir)
	store := &memoryStore{}
	opts := append([]Option{
		WithCacheDir(cacheDir),
		WithLoader(loader),
		WithStore(store),
		WithLogger(discardLogger{}),
		WithWorkers(2),
		WithMatchWorkers(3),
	}, extra...)
	s, err := New(opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return &harness{s: s, loader: loader, store: store, cache: cacheDir, src: srcDir}
}

func (h *harness) path(name string) string {
	return filepath.Join(h.src, name)
}

func noise(n int, seed int64) []int32 {
	rng := rand.New(rand.NewSource(seed))
	out := make([]int32, n)
	for i := range out {
		out[i] = int32(rng.Intn(60000) - 30000)
	}
	return out
}

func waitFor(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(10 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func TestSynchronizeCandidate(t *testing.T) {
	h := newHarness(t)
	master := noise(256*200, 1)
	h.loader.add(h.path("master.wav"), &fakeSource{data: master})
	h.loader.add(h.path("take1.mp4"), &fakeSource{data: master[2560 : 2560+256*60]})

	m, err := h.s.SetMaster(h.path("master.wav"))
	if err != nil {
		t.Fatal(err)
	}
	c, err := h.s.AddCandidate(h.path("take1.mp4"))
	if err != nil {
		t.Fatal(err)
	}

	waitFor(t, c.Matched(), "candidate match")

	if !isClosed(m.Hashed()) {
		t.Error("master hashed signal not published")
	}
	if got := len(m.Hashes()); got != 200 {
		t.Errorf("master has %d hashes, want 200", got)
	}
	if c.State() != StateMatched {
		t.Errorf("candidate state %s, want matched", c.State())
	}
	if c.OffsetWindows() != 10 || c.StartIndex() != 2560 || c.Matches() != 60 {
		t.Errorf("offset %d windows, start %d, %d matches; want 10, 2560, 60",
			c.OffsetWindows(), c.StartIndex(), c.Matches())
	}
	if c.Offset() != 320*time.Millisecond {
		t.Errorf("offset %v, want 320ms", c.Offset())
	}

	p := c.Progress()
	if p.Phase != PhaseMatching || p.Max != 259 || p.Value != 259 {
		t.Errorf("progress %+v, want 259/259 matching", p)
	}

	h.loader.mu.Lock()
	target := h.loader.targets[h.path("take1.mp4")]
	h.loader.mu.Unlock()
	if target == nil || target.SampleRate != testRate {
		t.Errorf("candidate loaded with target %v, want master format", target)
	}

	eventually(t, "alignment persisted", func() bool {
		h.store.mu.Lock()
		defer h.store.mu.Unlock()
		return len(h.store.saved) == 1
	})
	saved := h.store.saved[0]
	if saved.MasterPath != h.path("master.wav") || saved.StartIndex != 2560 || saved.OffsetMs != 320 {
		t.Errorf("unexpected stored alignment %+v", saved)
	}
}

func TestCandidateStartingBeforeMaster(t *testing.T) {
	h := newHarness(t)
	long := noise(256*120, 2)
	h.loader.add(h.path("master.wav"), &fakeSource{data: long[256*20:]})
	h.loader.add(h.path("early.wav"), &fakeSource{data: long[:256*50]})

	if _, err := h.s.SetMaster(h.path("master.wav")); err != nil {
		t.Fatal(err)
	}
	c, err := h.s.AddCandidate(h.path("early.wav"))
	if err != nil {
		t.Fatal(err)
	}
	waitFor(t, c.Matched(), "candidate match")

	if c.OffsetWindows() != -20 || c.StartIndex() != -5120 {
		t.Errorf("offset %d windows (%d samples), want -20 (-5120)", c.OffsetWindows(), c.StartIndex())
	}
}

func TestCancelMasterDuringHashing(t *testing.T) {
	h := newHarness(t)
	release := make(chan struct{})
	h.loader.add(h.path("master.wav"), &fakeSource{
		data:    noise(256*100, 3),
		blockAt: 256 * 40,
		release: release,
	})

	m, err := h.s.SetMaster(h.path("master.wav"))
	if err != nil {
		t.Fatal(err)
	}
	eventually(t, "40 windows hashed", func() bool { return m.Progress().Value == 40 })

	h.s.Cancel(m)
	close(release)

	waitFor(t, m.Done(), "master done")
	eventually(t, "extracted audio removed", func() bool {
		return !h.s.cache.Contains(cache.AudioKey(h.path("master.wav")))
	})
	if pcm := h.loader.last(h.path("master.wav")); !pcm.closed.Load() {
		t.Error("audio left open after cancel")
	}

	if isClosed(m.Hashed()) {
		t.Error("hashed signal published after cancel")
	}
	if m.Hashes() != nil {
		t.Error("canceled clip exposes a hash sequence")
	}
	if m.State() != StateCanceled || !errors.Is(m.Err(), context.Canceled) {
		t.Errorf("state %s err %v, want canceled", m.State(), m.Err())
	}
	if h.s.cache.Contains(cache.HashKey(h.path("master.wav"), testRate)) {
		t.Error("hash sequence cached for a canceled clip")
	}
	if h.s.Master() != nil {
		t.Error("canceled master still set")
	}
}

func TestReplacingMasterCancelsCandidates(t *testing.T) {
	h := newHarness(t)
	release := make(chan struct{})
	defer close(release)
	h.loader.add(h.path("a.wav"), &fakeSource{data: noise(256*50, 4), blockAt: 256 * 5, release: release})
	h.loader.add(h.path("b.wav"), &fakeSource{data: noise(256*50, 5)})
	h.loader.add(h.path("cand.wav"), &fakeSource{data: noise(256*10, 6)})

	a, err := h.s.SetMaster(h.path("a.wav"))
	if err != nil {
		t.Fatal(err)
	}
	c, err := h.s.AddCandidate(h.path("cand.wav"))
	if err != nil {
		t.Fatal(err)
	}

	b, err := h.s.SetMaster(h.path("b.wav"))
	if err != nil {
		t.Fatal(err)
	}

	waitFor(t, a.Done(), "old master done")
	waitFor(t, c.Done(), "candidate done")
	if a.State() != StateCanceled || c.State() != StateCanceled {
		t.Errorf("states %s and %s, want canceled", a.State(), c.State())
	}
	if len(h.s.Candidates()) != 0 {
		t.Errorf("candidates survived master replacement: %d", len(h.s.Candidates()))
	}
	if h.s.Master() != b {
		t.Error("new master not set")
	}
	waitFor(t, b.Hashed(), "new master hashed")
}

func TestCancelCandidateKeepsMaster(t *testing.T) {
	h := newHarness(t)
	release := make(chan struct{})
	h.loader.add(h.path("master.wav"), &fakeSource{data: noise(256*30, 7)})
	h.loader.add(h.path("cand.wav"), &fakeSource{data: noise(256*30, 8), blockAt: 256, release: release})

	m, _ := h.s.SetMaster(h.path("master.wav"))
	c, err := h.s.AddCandidate(h.path("cand.wav"))
	if err != nil {
		t.Fatal(err)
	}
	waitFor(t, c.Loaded(), "candidate loaded")

	h.s.Cancel(c)
	close(release)
	waitFor(t, c.Done(), "candidate done")

	if c.State() != StateCanceled {
		t.Errorf("candidate state %s, want canceled", c.State())
	}
	waitFor(t, m.Hashed(), "master hashed")
	if h.s.Master() != m || m.State() == StateCanceled {
		t.Error("canceling a candidate affected the master")
	}
	if len(h.s.Candidates()) != 0 {
		t.Error("canceled candidate still listed")
	}
}

func TestFailedLoadDropsClip(t *testing.T) {
	h := newHarness(t)
	h.loader.add(h.path("master.wav"), &fakeSource{data: noise(256*20, 9)})
	h.loader.add(h.path("broken.mp4"), &fakeSource{err: audio.ErrUnsupportedFormat})

	if _, err := h.s.SetMaster(h.path("master.wav")); err != nil {
		t.Fatal(err)
	}
	c, err := h.s.AddCandidate(h.path("broken.mp4"))
	if err != nil {
		t.Fatal(err)
	}
	waitFor(t, c.Done(), "candidate done")

	if c.State() != StateFailed {
		t.Errorf("state %s, want failed", c.State())
	}
	if !errors.Is(c.Err(), ErrUnsupportedSource) {
		t.Errorf("err %v, want ErrUnsupportedSource", c.Err())
	}
	if isClosed(c.Hashed()) || isClosed(c.Matched()) {
		t.Error("failed clip published observations")
	}
	if len(h.s.Candidates()) != 0 {
		t.Error("failed candidate still listed")
	}
	if _, ok := h.s.Clip(c.ID()); ok {
		t.Error("failed candidate still resolvable by ID")
	}
}

func TestFailedMasterFailsWaitingCandidates(t *testing.T) {
	h := newHarness(t)
	h.loader.add(h.path("missing-master.wav"), &fakeSource{err: errors.New("disk error")})
	h.loader.add(h.path("cand.wav"), &fakeSource{data: noise(256*10, 10)})

	m, err := h.s.SetMaster(h.path("missing-master.wav"))
	if err != nil {
		t.Fatal(err)
	}
	c, err := h.s.AddCandidate(h.path("cand.wav"))
	if err != nil && !errors.Is(err, ErrNoMaster) {
		t.Fatal(err)
	}
	waitFor(t, m.Done(), "master done")
	if m.State() != StateFailed {
		t.Errorf("master state %s, want failed", m.State())
	}
	if c != nil {
		waitFor(t, c.Done(), "candidate done")
		if !errors.Is(c.Err(), ErrNoMaster) {
			t.Errorf("candidate err %v, want ErrNoMaster", c.Err())
		}
	}
}

func TestAddCandidateWithoutMaster(t *testing.T) {
	h := newHarness(t)
	if _, err := h.s.AddCandidate(h.path("x.wav")); !errors.Is(err, ErrNoMaster) {
		t.Errorf("expected ErrNoMaster, got %v", err)
	}
}

func TestRejectsSourcesInsideCache(t *testing.T) {
	h := newHarness(t)
	if _, err := h.s.SetMaster(filepath.Join(h.cache, "x.wav.1234567.wav")); !errors.Is(err, ErrSourceInCache) {
		t.Errorf("expected ErrSourceInCache, got %v", err)
	}
}

func TestCachedHashesSkipReading(t *testing.T) {
	root := t.TempDir()
	cacheDir := filepath.Join(root, "cache")
	data := noise(256*40, 11)

	first := newHarnessAt(t, cacheDir, root)
	first.loader.add(first.path("master.wav"), &fakeSource{data: data})
	m, err := first.s.SetMaster(first.path("master.wav"))
	if err != nil {
		t.Fatal(err)
	}
	waitFor(t, m.Hashed(), "master hashed")
	want := m.Hashes()
	if err := first.s.Close(); err != nil {
		t.Fatal(err)
	}
	if !first.s.cache.Contains(cache.HashKey(first.path("master.wav"), testRate)) {
		t.Fatal("hash sequence not cached after Close")
	}

	second := newHarnessAt(t, cacheDir, root)
	second.loader.add(second.path("master.wav"), &fakeSource{data: data})
	m2, err := second.s.SetMaster(second.path("master.wav"))
	if err != nil {
		t.Fatal(err)
	}
	waitFor(t, m2.Hashed(), "master hashed from cache")

	pcm := second.loader.last(second.path("master.wav"))
	pcm.mu.Lock()
	reads := pcm.reads
	pcm.mu.Unlock()
	if reads != 0 {
		t.Errorf("cache hit read %d times from the audio", reads)
	}
	got := m2.Hashes()
	if len(got) != len(want) {
		t.Fatalf("got %d cached hashes, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("hash %d differs", i)
		}
	}
	if p := m2.Progress(); p.Value != 40 || p.Max != 40 {
		t.Errorf("progress %+v, want 40/40 on cache hit", p)
	}
}

func TestCachedHashesFromOtherSettingsAreRecomputed(t *testing.T) {
	root := t.TempDir()
	cacheDir := filepath.Join(root, "cache")
	data := noise(256*40, 11)

	first := newHarnessAt(t, cacheDir, root)
	first.loader.add(first.path("master.wav"), &fakeSource{data: data})
	m, err := first.s.SetMaster(first.path("master.wav"))
	if err != nil {
		t.Fatal(err)
	}
	waitFor(t, m.Hashed(), "master hashed")
	if err := first.s.Close(); err != nil {
		t.Fatal(err)
	}

	wide, err := fingerprint.NewConfig(512, 60, window.Hamming)
	if err != nil {
		t.Fatal(err)
	}
	second := newHarnessAt(t, cacheDir, root, WithSyncConfig(wide))
	second.loader.add(second.path("master.wav"), &fakeSource{data: data})
	m2, err := second.s.SetMaster(second.path("master.wav"))
	if err != nil {
		t.Fatal(err)
	}
	waitFor(t, m2.Hashed(), "master rehashed")

	pcm := second.loader.last(second.path("master.wav"))
	pcm.mu.Lock()
	reads := pcm.reads
	pcm.mu.Unlock()
	if reads == 0 {
		t.Error("hashes computed with 256-sample windows were reused for 512")
	}
	if got := len(m2.Hashes()); got != 20 {
		t.Errorf("got %d hashes, want 20", got)
	}
}

func TestSaveWritesAlignedMasterSegment(t *testing.T) {
	h := newHarness(t)
	master := noise(256*100, 12)
	h.loader.add(h.path("master.wav"), &fakeSource{data: master})
	h.loader.add(h.path("take.wav"), &fakeSource{data: master[256*30 : 256*50]})

	if _, err := h.s.SetMaster(h.path("master.wav")); err != nil {
		t.Fatal(err)
	}
	c, err := h.s.AddCandidate(h.path("take.wav"))
	if err != nil {
		t.Fatal(err)
	}
	waitFor(t, c.Matched(), "candidate match")

	dst := filepath.Join(t.TempDir(), "take.synced.wav")
	if err := h.s.Save(c, dst); err != nil {
		t.Fatal(err)
	}

	out, err := audio.OpenWav(dst)
	if err != nil {
		t.Fatal(err)
	}
	defer out.Close()
	if out.Len() != 256*20 {
		t.Errorf("saved %d frames, want %d", out.Len(), 256*20)
	}
	first := make([]int32, 1)
	if _, err := out.ReadSamples(first); err != nil {
		t.Fatal(err)
	}
	if first[0] != master[256*30] {
		t.Errorf("first saved sample %d, want %d", first[0], master[256*30])
	}
}

func TestSaveRequiresMatch(t *testing.T) {
	h := newHarness(t)
	h.loader.add(h.path("master.wav"), &fakeSource{data: noise(256*10, 13)})
	m, _ := h.s.SetMaster(h.path("master.wav"))
	if err := h.s.Save(m, filepath.Join(t.TempDir(), "x.wav")); err == nil {
		t.Error("expected error saving the master itself")
	}
}

func TestClearCache(t *testing.T) {
	h := newHarness(t)
	h.loader.add(h.path("master.wav"), &fakeSource{data: noise(256*10, 14)})
	m, err := h.s.SetMaster(h.path("master.wav"))
	if err != nil {
		t.Fatal(err)
	}
	waitFor(t, m.Hashed(), "master hashed")

	n, err := h.s.ClearCache()
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("cleared %d files, want 2", n)
	}
	if h.s.Master() != nil {
		t.Error("master survived cache reset")
	}
	entries, _ := os.ReadDir(h.cache)
	if len(entries) != 0 {
		t.Errorf("cache not empty: %d entries", len(entries))
	}
}

func TestStoreFailureIsNotFatal(t *testing.T) {
	h := newHarness(t)
	h.store.err = errors.New("database is locked")
	master := noise(256*30, 15)
	h.loader.add(h.path("master.wav"), &fakeSource{data: master})
	h.loader.add(h.path("take.wav"), &fakeSource{data: master[256*5 : 256*15]})

	h.s.SetMaster(h.path("master.wav"))
	c, err := h.s.AddCandidate(h.path("take.wav"))
	if err != nil {
		t.Fatal(err)
	}
	waitFor(t, c.Matched(), "candidate match")
	if c.State() != StateMatched || c.OffsetWindows() != 5 {
		t.Errorf("state %s offset %d", c.State(), c.OffsetWindows())
	}
}

func TestWaitAndClose(t *testing.T) {
	h := newHarness(t)
	master := noise(256*30, 16)
	h.loader.add(h.path("master.wav"), &fakeSource{data: master})
	for i, name := range []string{"a.wav", "b.wav", "c.wav"} {
		h.loader.add(h.path(name), &fakeSource{data: master[256*i : 256*(i+10)]})
	}

	h.s.SetMaster(h.path("master.wav"))
	var clips []*Clip
	for _, name := range []string{"a.wav", "b.wav", "c.wav"} {
		c, err := h.s.AddCandidate(h.path(name))
		if err != nil {
			t.Fatal(err)
		}
		clips = append(clips, c)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := h.s.Wait(ctx); err != nil {
		t.Fatal(err)
	}
	for i, c := range clips {
		if c.OffsetWindows() != i {
			t.Errorf("%s: offset %d, want %d", c.Name(), c.OffsetWindows(), i)
		}
	}

	if err := h.s.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := h.s.SetMaster(h.path("master.wav")); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed after Close, got %v", err)
	}
}
