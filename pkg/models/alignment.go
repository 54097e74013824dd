package models

import "time"

// Alignment is a persisted match between a master recording and one clip.
type Alignment struct {
	ID           string    // Database ID (UUID)
	MasterPath   string    // Source path of the master recording
	ClipPath     string    // Source path of the aligned clip
	SampleRate   int       // Rate both recordings were analyzed at
	WindowLength int       // Samples per analysis window
	BandStep     int       // Bins per frequency band
	OffsetWindow int       // Offset in windows, may be negative
	StartIndex   int64     // Offset in samples: OffsetWindow * WindowLength
	OffsetMs     int64     // Offset in milliseconds
	MatchCount   int       // Number of equal hashes at the offset
	CreatedAt    time.Time // Last time the pair was aligned
}

// CacheEntry describes one file in the fingerprint cache directory.
type CacheEntry struct {
	Name  string
	Bytes int64
}
