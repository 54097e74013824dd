package cache

import (
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/himanishpuri/AcousticSync/pkg/acousticsync/fingerprint"
)

func newTestCache(t *testing.T) *FileCache {
	t.Helper()
	c, err := New(filepath.Join(t.TempDir(), "cache"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestNewCreatesRoot(t *testing.T) {
	c := newTestCache(t)
	info, err := os.Stat(c.Root())
	if err != nil {
		t.Fatalf("root not created: %v", err)
	}
	if !info.IsDir() {
		t.Error("root is not a directory")
	}
}

func TestKeys(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"hash key", HashKey("/music/take1.mp4", 44100), "take1.mp4.44100.tmp"},
		{"hash key relative", HashKey("clip.wav", 8000), "clip.wav.8000.tmp"},
		{"audio key", AudioKey("/music/take1.mp4"), "take1.mp4.a9efd76.wav"},
		{"short hash", ShortHash("clip.wav"), "1d88da2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestAudioKeySeparatesDirectories(t *testing.T) {
	a := AudioKey("/a/song.wav")
	b := AudioKey("/b/song.wav")
	if a == b {
		t.Fatalf("expected distinct keys, both %q", a)
	}
	if a != "song.wav.4862927.wav" || b != "song.wav.930051b.wav" {
		t.Errorf("got %q and %q", a, b)
	}
}

func TestSetGetRemove(t *testing.T) {
	c := newTestCache(t)

	if c.Contains("x.tmp") {
		t.Fatal("empty cache contains key")
	}
	if _, ok, err := c.Get("x.tmp"); ok || err != nil {
		t.Fatalf("Get on missing key: ok=%v err=%v", ok, err)
	}

	if err := c.Set("x.tmp", []byte("first")); err != nil {
		t.Fatal(err)
	}
	if err := c.Set("x.tmp", []byte("second")); err != nil {
		t.Fatal(err)
	}
	data, ok, err := c.Get("x.tmp")
	if err != nil || !ok || string(data) != "second" {
		t.Fatalf("Get: data=%q ok=%v err=%v", data, ok, err)
	}

	if err := c.Remove("x.tmp"); err != nil {
		t.Fatal(err)
	}
	if err := c.Remove("x.tmp"); err != nil {
		t.Errorf("second Remove: %v", err)
	}
	if c.Contains("x.tmp") {
		t.Error("key survived Remove")
	}
}

func TestSetLeavesNoPartialFiles(t *testing.T) {
	c := newTestCache(t)
	if err := c.Set("a.tmp", []byte("data")); err != nil {
		t.Fatal(err)
	}
	entries, err := os.ReadDir(c.Root())
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "a.tmp" {
		var names []string
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("unexpected directory contents: %v", names)
	}
}

func TestClearByExtension(t *testing.T) {
	c := newTestCache(t)
	for _, key := range []string{"a.mp4.44100.tmp", "b.wav.8000.tmp", "a.mp4.a9efd76.wav", "notes.txt"} {
		if err := c.Set(key, []byte(key)); err != nil {
			t.Fatal(err)
		}
	}

	n, err := c.Clear(TempExtension)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("cleared %d entries, want 2", n)
	}

	entries, _ := os.ReadDir(c.Root())
	var left []string
	for _, e := range entries {
		left = append(left, e.Name())
	}
	sort.Strings(left)
	if len(left) != 2 || left[0] != "a.mp4.a9efd76.wav" || left[1] != "notes.txt" {
		t.Errorf("remaining entries %v", left)
	}

	if n, _ := c.Clear(".wav"); n != 1 {
		t.Errorf("cleared %d wav entries, want 1", n)
	}
}

func TestHashesRoundTrip(t *testing.T) {
	c := newTestCache(t)
	tests := []struct {
		name   string
		hashes []uint32
	}{
		{"typical", []uint32{2040, 0, 0xFFFFFFFF, 17}},
		{"empty", []uint32{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := HashKey(tt.name, 8000)
			in := fingerprint.Entry{
				Source:       "/media/" + tt.name,
				WindowLength: 256,
				BandStep:     60,
				Window:       "hamming",
				Hashes:       tt.hashes,
			}
			if err := c.SetHashes(key, in); err != nil {
				t.Fatal(err)
			}
			entry, ok, err := c.GetHashes(key)
			if err != nil || !ok {
				t.Fatalf("GetHashes: ok=%v err=%v", ok, err)
			}
			if entry.Source != in.Source || entry.WindowLength != 256 || entry.BandStep != 60 || entry.Window != "hamming" {
				t.Errorf("settings not preserved: %+v", entry)
			}
			got := entry.Hashes
			if got == nil || len(got) != len(tt.hashes) {
				t.Fatalf("got %v, want %v", got, tt.hashes)
			}
			for i := range got {
				if got[i] != tt.hashes[i] {
					t.Fatalf("index %d: got %d, want %d", i, got[i], tt.hashes[i])
				}
			}
		})
	}
}

func TestGetHashesCorruptEntry(t *testing.T) {
	c := newTestCache(t)
	if err := c.Set("bad.tmp", []byte("not gob")); err != nil {
		t.Fatal(err)
	}
	if _, ok, err := c.GetHashes("bad.tmp"); err == nil || ok {
		t.Errorf("expected decode error, got ok=%v err=%v", ok, err)
	}
}

func TestOwns(t *testing.T) {
	c := newTestCache(t)
	if !c.Owns(c.Path("x.wav")) {
		t.Error("expected cache to own its entries")
	}
	if c.Owns(filepath.Join(filepath.Dir(c.Root()), "x.wav")) {
		t.Error("expected sibling path not to be owned")
	}
	if c.Owns(c.Root() + "-other/x.wav") {
		t.Error("expected prefix-sharing directory not to be owned")
	}
}

func TestStats(t *testing.T) {
	c := newTestCache(t)
	_ = c.Set("a.tmp", make([]byte, 10))
	_ = c.Set("b.wav", make([]byte, 32))

	s, err := c.Stats()
	if err != nil {
		t.Fatal(err)
	}
	if s.Files != 2 || s.Bytes != 42 {
		t.Errorf("got %+v, want 2 files and 42 bytes", s)
	}
}

func TestEntries(t *testing.T) {
	c := newTestCache(t)
	_ = c.Set("a.tmp", make([]byte, 10))
	_ = c.Set("b.wav", make([]byte, 32))

	entries, err := c.Entries()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	sizes := map[string]int64{}
	for _, e := range entries {
		sizes[e.Name] = e.Bytes
	}
	if sizes["a.tmp"] != 10 || sizes["b.wav"] != 32 {
		t.Errorf("unexpected entries %+v", entries)
	}
}
