package main

import (
	"fmt"
	"time"

	"github.com/himanishpuri/AcousticSync/pkg/acousticsync"
	"github.com/himanishpuri/AcousticSync/pkg/models"
)

// MaxUploadBytes bounds multipart uploads of source recordings.
const MaxUploadBytes = 2 << 30

// SourceRequest is the JSON body for PUT /api/master and POST /api/clips.
// Paths refer to files on the server.
type SourceRequest struct {
	Path  string   `json:"path,omitempty"`
	Paths []string `json:"paths,omitempty"`
}

// Validate checks if the request is valid
func (r *SourceRequest) Validate() error {
	if r.Path == "" && len(r.Paths) == 0 {
		return fmt.Errorf("path or paths is required")
	}
	return nil
}

func (r *SourceRequest) All() []string {
	var out []string
	if r.Path != "" {
		out = append(out, r.Path)
	}
	return append(out, r.Paths...)
}

// SaveRequest is the body for POST /api/clips/{id}/save. Destination is a
// file name inside the server's synced directory.
type SaveRequest struct {
	Destination string `json:"destination"`
}

// ProgressDTO reports a clip's work in its current phase.
type ProgressDTO struct {
	Phase   string  `json:"phase"`
	Value   int     `json:"value"`
	Max     int     `json:"max"`
	Percent float64 `json:"percent"`
}

// ClipDTO represents a clip in API responses
type ClipDTO struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Path        string      `json:"path"`
	Master      bool        `json:"master"`
	State       string      `json:"state"`
	Error       string      `json:"error,omitempty"`
	Format      string      `json:"format,omitempty"`
	SampleCount int         `json:"sample_count,omitempty"`
	Windows     int         `json:"windows,omitempty"`
	Progress    ProgressDTO `json:"progress"`

	// Set once a candidate is matched
	OffsetWindows *int   `json:"offset_windows,omitempty"`
	StartIndex    *int   `json:"start_index,omitempty"`
	OffsetMs      *int64 `json:"offset_ms,omitempty"`
	Matches       *int   `json:"matches,omitempty"`
}

func newClipDTO(c *acousticsync.Clip) ClipDTO {
	p := c.Progress()
	dto := ClipDTO{
		ID:          c.ID(),
		Name:        c.Name(),
		Path:        c.Path(),
		Master:      c.IsMaster(),
		State:       c.State().String(),
		SampleCount: c.SampleCount(),
		Windows:     len(c.Hashes()),
		Progress: ProgressDTO{
			Phase:   p.Phase.String(),
			Value:   p.Value,
			Max:     p.Max,
			Percent: p.Fraction() * 100,
		},
	}
	if err := c.Err(); err != nil {
		dto.Error = err.Error()
	}
	if f := c.Format(); f.SampleRate > 0 {
		dto.Format = f.String()
	}
	if c.State() == acousticsync.StateMatched {
		offset, start, ms, matches := c.OffsetWindows(), c.StartIndex(), c.Offset().Milliseconds(), c.Matches()
		dto.OffsetWindows, dto.StartIndex, dto.OffsetMs, dto.Matches = &offset, &start, &ms, &matches
	}
	return dto
}

// ListClipsResponse is the response for GET /api/clips
type ListClipsResponse struct {
	Master     *ClipDTO  `json:"master"`
	Candidates []ClipDTO `json:"candidates"`
	Count      int       `json:"count"`
}

// AddClipsResponse is the response for POST /api/clips
type AddClipsResponse struct {
	Clips  []ClipDTO `json:"clips"`
	Errors []string  `json:"errors,omitempty"`
}

// AlignmentDTO represents a stored alignment
type AlignmentDTO struct {
	ID           string    `json:"id"`
	MasterPath   string    `json:"master_path"`
	ClipPath     string    `json:"clip_path"`
	SampleRate   int       `json:"sample_rate"`
	WindowLength int       `json:"window_length"`
	BandStep     int       `json:"band_step"`
	OffsetWindow int       `json:"offset_windows"`
	StartIndex   int64     `json:"start_index"`
	OffsetMs     int64     `json:"offset_ms"`
	Matches      int       `json:"matches"`
	CreatedAt    time.Time `json:"created_at"`
}

func newAlignmentDTO(a models.Alignment) AlignmentDTO {
	return AlignmentDTO{
		ID:           a.ID,
		MasterPath:   a.MasterPath,
		ClipPath:     a.ClipPath,
		SampleRate:   a.SampleRate,
		WindowLength: a.WindowLength,
		BandStep:     a.BandStep,
		OffsetWindow: a.OffsetWindow,
		StartIndex:   a.StartIndex,
		OffsetMs:     a.OffsetMs,
		Matches:      a.MatchCount,
		CreatedAt:    a.CreatedAt,
	}
}

// ListAlignmentsResponse is the response for GET /api/alignments
type ListAlignmentsResponse struct {
	Alignments []AlignmentDTO `json:"alignments"`
	Count      int            `json:"count"`
}

// CacheResponse is the response for GET /api/cache
type CacheResponse struct {
	Root    string              `json:"root"`
	Files   int                 `json:"files"`
	Bytes   int64               `json:"bytes"`
	Size    string              `json:"size"`
	Entries []models.CacheEntry `json:"entries"`
}

// ClearCacheResponse is the response for DELETE /api/cache
type ClearCacheResponse struct {
	Message string `json:"message"`
	Removed int    `json:"removed"`
}

// MetricsResponse provides server health and pipeline metrics
type MetricsResponse struct {
	Status         string `json:"status"`
	Uptime         string `json:"uptime"`
	DatabasePath   string `json:"database_path"`
	AlignmentCount int    `json:"alignment_count"`
	CacheFiles     int    `json:"cache_files"`
	CacheSize      string `json:"cache_size"`
	MasterSet      bool   `json:"master_set"`
	Candidates     int    `json:"candidates"`
	Analysis       string `json:"analysis"`
}

// ErrorResponse is the standard error response format
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code,omitempty"`
}
