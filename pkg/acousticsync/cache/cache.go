// Package cache stores derived artifacts (hash sequences, extracted audio)
// as flat files in a single directory.
package cache

import (
	"bytes"
	"crypto/sha1"
	"encoding/gob"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/himanishpuri/AcousticSync/pkg/acousticsync/fingerprint"
	"github.com/himanishpuri/AcousticSync/pkg/models"
	"github.com/himanishpuri/AcousticSync/pkg/utils"
)

const (
	TempExtension  = "tmp"
	AudioExtension = "wav"

	defaultDirName = "acousticsync_temp"
)

// FileCache maps keys to files under Root. Keys are file names; they must
// not contain path separators.
type FileCache struct {
	root string
}

type Stats struct {
	Files int
	Bytes int64
}

func DefaultRoot() string {
	return filepath.Join(os.TempDir(), defaultDirName)
}

// New returns a cache rooted at root, creating the directory if needed.
// An empty root selects DefaultRoot.
func New(root string) (*FileCache, error) {
	if root == "" {
		root = DefaultRoot()
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve cache directory: %w", err)
	}
	if err := utils.MakeDir(abs); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	return &FileCache{root: abs}, nil
}

func (c *FileCache) Root() string { return c.root }

// Path returns the file backing key.
func (c *FileCache) Path(key string) string {
	return filepath.Join(c.root, key)
}

// Owns reports whether path lies inside the cache directory.
func (c *FileCache) Owns(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(c.root, abs)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

func (c *FileCache) Contains(key string) bool {
	return utils.FileExists(c.Path(key))
}

func (c *FileCache) Get(key string) ([]byte, bool, error) {
	data, err := os.ReadFile(c.Path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read cache entry %s: %w", key, err)
	}
	return data, true, nil
}

// Set replaces the value stored under key. Readers never observe a
// partially written entry.
func (c *FileCache) Set(key string, value []byte) error {
	if err := utils.MakeDir(c.root); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}
	tmp, err := os.CreateTemp(c.root, "."+key+".*.part")
	if err != nil {
		return fmt.Errorf("failed to create cache entry %s: %w", key, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(value); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write cache entry %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write cache entry %s: %w", key, err)
	}
	return utils.MoveFile(tmp.Name(), c.Path(key))
}

// Remove deletes key. Removing a missing key is not an error.
func (c *FileCache) Remove(key string) error {
	err := os.Remove(c.Path(key))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove cache entry %s: %w", key, err)
	}
	return nil
}

// Clear removes every entry whose name ends in "."+ext and returns how many
// were removed.
func (c *FileCache) Clear(ext string) (int, error) {
	suffix := "." + strings.TrimPrefix(ext, ".")
	entries, err := os.ReadDir(c.root)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to list cache directory: %w", err)
	}

	removed := 0
	var errs []error
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), suffix) {
			continue
		}
		if err := c.Remove(entry.Name()); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}

// Entries lists the files in the cache directory.
func (c *FileCache) Entries() ([]models.CacheEntry, error) {
	entries, err := os.ReadDir(c.root)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list cache directory: %w", err)
	}

	out := make([]models.CacheEntry, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		out = append(out, models.CacheEntry{Name: entry.Name(), Bytes: info.Size()})
	}
	return out, nil
}

func (c *FileCache) Stats() (Stats, error) {
	var s Stats
	entries, err := c.Entries()
	if err != nil {
		return s, err
	}
	for _, e := range entries {
		s.Files++
		s.Bytes += e.Bytes
	}
	return s, nil
}

// GetHashes decodes the hash entry stored under key.
func (c *FileCache) GetHashes(key string) (fingerprint.Entry, bool, error) {
	data, ok, err := c.Get(key)
	if err != nil || !ok {
		return fingerprint.Entry{}, ok, err
	}
	var entry fingerprint.Entry
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&entry); err != nil {
		return fingerprint.Entry{}, false, fmt.Errorf("failed to decode cache entry %s: %w", key, err)
	}
	if entry.Hashes == nil {
		entry.Hashes = []uint32{}
	}
	return entry, true, nil
}

func (c *FileCache) SetHashes(key string, entry fingerprint.Entry) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(entry); err != nil {
		return fmt.Errorf("failed to encode cache entry %s: %w", key, err)
	}
	return c.Set(key, buf.Bytes())
}

// HashKey names the hash sequence of path analyzed at sampleRate. Files with
// the same base name share a key; the stored entry records the full path.
func HashKey(path string, sampleRate int) string {
	return filepath.Base(path) + "." + strconv.Itoa(sampleRate) + "." + TempExtension
}

// AudioKey names the audio extracted from path. The short hash keeps files
// with the same base name in different directories apart.
func AudioKey(path string) string {
	return filepath.Base(path) + "." + ShortHash(path) + "." + AudioExtension
}

// ShortHash returns the first 7 hex digits of the SHA-1 of path.
func ShortHash(path string) string {
	sum := sha1.Sum([]byte(path))
	return hex.EncodeToString(sum[:])[:7]
}
