package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/himanishpuri/AcousticSync/pkg/acousticsync"
	"github.com/himanishpuri/AcousticSync/pkg/logger"
	"github.com/himanishpuri/AcousticSync/pkg/utils"
)

// Server encapsulates the HTTP server and its dependencies
type Server struct {
	sync    *acousticsync.Synchronizer
	config  *ServerConfig
	log     acousticsync.Logger
	started time.Time
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port           int
	DBPath         string
	UploadDir      string
	AllowedOrigins []string
}

// NewServer creates a new server instance
func NewServer(s *acousticsync.Synchronizer, config *ServerConfig) *Server {
	return &Server{
		sync:    s,
		config:  config,
		log:     logger.GetLogger(),
		started: time.Now(),
	}
}

// respondJSON writes a JSON response
func (s *Server) respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Errorf("Failed to encode JSON response: %v", err)
	}
}

// respondError writes an error response
func (s *Server) respondError(w http.ResponseWriter, statusCode int, message string) {
	s.respondJSON(w, statusCode, ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	})
}

// statusFor maps synchronizer errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, acousticsync.ErrNoMaster), errors.Is(err, acousticsync.ErrNotMatched):
		return http.StatusConflict
	case errors.Is(err, acousticsync.ErrSourceInCache), errors.Is(err, os.ErrNotExist):
		return http.StatusBadRequest
	case errors.Is(err, acousticsync.ErrAlignmentNotFound):
		return http.StatusNotFound
	case errors.Is(err, acousticsync.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// handleRoot handles GET /
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]any{
		"service": "AcousticSync API",
		"version": "1.0.0",
		"endpoints": map[string]string{
			"health":          "GET /health",
			"metrics":         "GET /api/health/metrics",
			"getMaster":       "GET /api/master",
			"setMaster":       "PUT /api/master",
			"clips":           "GET /api/clips",
			"addClips":        "POST /api/clips",
			"getClip":         "GET /api/clips/{id}",
			"cancelClip":      "DELETE /api/clips/{id}",
			"saveClip":        "POST /api/clips/{id}/save",
			"cache":           "GET /api/cache",
			"clearCache":      "DELETE /api/cache",
			"alignments":      "GET /api/alignments",
			"deleteAlignment": "DELETE /api/alignments/{id}",
		},
	})
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
	})
}

// handleMetrics handles GET /api/health/metrics
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	stats, err := s.sync.Cache().Stats()
	if err != nil {
		s.log.Errorf("Failed to read cache stats: %v", err)
		s.respondError(w, http.StatusInternalServerError, "Failed to retrieve metrics")
		return
	}

	alignments := 0
	if store := s.sync.Store(); store != nil {
		list, err := store.ListAlignments("")
		if err != nil {
			s.log.Errorf("Failed to count alignments: %v", err)
			s.respondError(w, http.StatusInternalServerError, "Failed to retrieve metrics")
			return
		}
		alignments = len(list)
	}

	s.respondJSON(w, http.StatusOK, MetricsResponse{
		Status:         "healthy",
		Uptime:         humanize.RelTime(s.started, time.Now(), "", ""),
		DatabasePath:   s.config.DBPath,
		AlignmentCount: alignments,
		CacheFiles:     stats.Files,
		CacheSize:      humanize.Bytes(uint64(stats.Bytes)),
		MasterSet:      s.sync.Master() != nil,
		Candidates:     len(s.sync.Candidates()),
		Analysis:       s.sync.Config().Sync.String(),
	})
}

// handleMaster handles GET and PUT /api/master
func (s *Server) handleMaster(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		master := s.sync.Master()
		if master == nil {
			s.respondError(w, http.StatusNotFound, "No master clip is set")
			return
		}
		s.respondJSON(w, http.StatusOK, newClipDTO(master))
	case http.MethodPut, http.MethodPost:
		s.handleSetMaster(w, r)
	default:
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (s *Server) handleSetMaster(w http.ResponseWriter, r *http.Request) {
	paths, err := s.readSources(w, r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(paths) != 1 {
		s.respondError(w, http.StatusBadRequest, "exactly one master path is required")
		return
	}

	c, err := s.sync.SetMaster(paths[0])
	if err != nil {
		s.log.Errorf("Failed to set master: %v", err)
		s.respondError(w, statusFor(err), err.Error())
		return
	}

	s.log.Infof("Master set to %s (ID: %s)", c.Name(), c.ID())
	s.respondJSON(w, http.StatusAccepted, newClipDTO(c))
}

// handleClips routes requests to /api/clips
func (s *Server) handleClips(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleListClips(w, r)
	case http.MethodPost:
		s.handleAddClips(w, r)
	default:
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (s *Server) handleListClips(w http.ResponseWriter, r *http.Request) {
	resp := ListClipsResponse{Candidates: []ClipDTO{}}
	if master := s.sync.Master(); master != nil {
		dto := newClipDTO(master)
		resp.Master = &dto
	}
	for _, c := range s.sync.Candidates() {
		resp.Candidates = append(resp.Candidates, newClipDTO(c))
	}
	resp.Count = len(resp.Candidates)
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAddClips(w http.ResponseWriter, r *http.Request) {
	paths, err := s.readSources(w, r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp := AddClipsResponse{Clips: []ClipDTO{}}
	status := 0
	for _, p := range paths {
		c, err := s.sync.AddCandidate(p)
		if err != nil {
			s.log.Warnf("Failed to add candidate %s: %v", p, err)
			resp.Errors = append(resp.Errors, fmt.Sprintf("%s: %v", p, err))
			if status == 0 {
				status = statusFor(err)
			}
			continue
		}
		resp.Clips = append(resp.Clips, newClipDTO(c))
	}

	if len(resp.Clips) == 0 {
		s.respondError(w, status, strings.Join(resp.Errors, "; "))
		return
	}
	s.log.Infof("Queued %d candidate(s)", len(resp.Clips))
	s.respondJSON(w, http.StatusAccepted, resp)
}

// handleClip routes requests to /api/clips/{id} and /api/clips/{id}/save
func (s *Server) handleClip(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(r.URL.Path[len("/api/clips/"):], "/")
	if rest == "" {
		s.respondError(w, http.StatusBadRequest, "Clip ID required")
		return
	}
	id, action, _ := strings.Cut(rest, "/")

	c, ok := s.sync.Clip(id)
	if !ok {
		s.respondError(w, http.StatusNotFound, fmt.Sprintf("Clip with ID %s not found", id))
		return
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		s.respondJSON(w, http.StatusOK, newClipDTO(c))
	case action == "" && r.Method == http.MethodDelete:
		s.sync.Cancel(c)
		s.log.Infof("Canceled clip %s (ID: %s)", c.Name(), id)
		s.respondJSON(w, http.StatusOK, newClipDTO(c))
	case action == "save" && r.Method == http.MethodPost:
		s.handleSaveClip(w, r, c)
	case action == "" || action == "save":
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleSaveClip(w http.ResponseWriter, r *http.Request, c *acousticsync.Clip) {
	var req SaveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	name := req.Destination
	if name == "" {
		name = utils.TrimExt(c.Name()) + ".synced.wav"
	}
	if !validFileName(name) {
		s.respondError(w, http.StatusBadRequest, "destination must be a plain file name")
		return
	}
	dir := filepath.Join(s.config.UploadDir, "synced")
	if err := utils.MakeDir(dir); err != nil {
		s.respondError(w, http.StatusInternalServerError, "Failed to create destination directory")
		return
	}
	dst := filepath.Join(dir, name)

	if err := s.sync.Save(c, dst); err != nil {
		s.log.Errorf("Failed to save %s: %v", c.Name(), err)
		s.respondError(w, statusFor(err), err.Error())
		return
	}
	s.respondJSON(w, http.StatusCreated, map[string]string{
		"message":     "Aligned master segment saved",
		"destination": dst,
	})
}

// validFileName reports whether name is a single path element.
func validFileName(name string) bool {
	return name != "." && name != ".." && !strings.ContainsAny(name, `/\`) && filepath.Base(name) == name
}

// handleCache handles GET and DELETE /api/cache
func (s *Server) handleCache(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		fc := s.sync.Cache()
		entries, err := fc.Entries()
		if err != nil {
			s.log.Errorf("Failed to list cache: %v", err)
			s.respondError(w, http.StatusInternalServerError, "Failed to list cache")
			return
		}
		resp := CacheResponse{Root: fc.Root(), Entries: entries}
		for _, e := range entries {
			resp.Files++
			resp.Bytes += e.Bytes
		}
		resp.Size = humanize.Bytes(uint64(resp.Bytes))
		s.respondJSON(w, http.StatusOK, resp)
	case http.MethodDelete:
		n, err := s.sync.ClearCache()
		if err != nil {
			s.log.Errorf("Failed to clear cache: %v", err)
			s.respondError(w, http.StatusInternalServerError, "Failed to clear cache")
			return
		}
		s.respondJSON(w, http.StatusOK, ClearCacheResponse{
			Message: "Cache cleared",
			Removed: n,
		})
	default:
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// handleAlignments handles GET /api/alignments[?master=path]
func (s *Server) handleAlignments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	store := s.sync.Store()
	if store == nil {
		s.respondError(w, http.StatusServiceUnavailable, "Alignment storage is disabled")
		return
	}

	master := r.URL.Query().Get("master")
	if master != "" {
		if abs, err := filepath.Abs(master); err == nil {
			master = abs
		}
	}
	list, err := store.ListAlignments(master)
	if err != nil {
		s.log.Errorf("Failed to list alignments: %v", err)
		s.respondError(w, http.StatusInternalServerError, "Failed to retrieve alignments")
		return
	}

	dtos := make([]AlignmentDTO, len(list))
	for i, a := range list {
		dtos[i] = newAlignmentDTO(a)
	}
	s.respondJSON(w, http.StatusOK, ListAlignmentsResponse{
		Alignments: dtos,
		Count:      len(dtos),
	})
}

// handleAlignment handles GET and DELETE /api/alignments/{id}
func (s *Server) handleAlignment(w http.ResponseWriter, r *http.Request) {
	store := s.sync.Store()
	if store == nil {
		s.respondError(w, http.StatusServiceUnavailable, "Alignment storage is disabled")
		return
	}
	id := strings.Trim(r.URL.Path[len("/api/alignments/"):], "/")
	if id == "" {
		s.respondError(w, http.StatusBadRequest, "Alignment ID required")
		return
	}

	a, err := store.GetAlignment(id)
	if err != nil {
		s.log.Warnf("Alignment not found: %s", id)
		s.respondError(w, statusFor(err), fmt.Sprintf("Alignment with ID %s not found", id))
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.respondJSON(w, http.StatusOK, newAlignmentDTO(a))
	case http.MethodDelete:
		if err := store.DeleteAlignment(id); err != nil {
			s.log.Errorf("Failed to delete alignment %s: %v", id, err)
			s.respondError(w, statusFor(err), "Failed to delete alignment")
			return
		}
		s.log.Infof("Deleted alignment %s (%s)", id, filepath.Base(a.ClipPath))
		s.respondJSON(w, http.StatusOK, map[string]string{
			"message": "Alignment deleted successfully",
			"id":      id,
		})
	default:
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// readSources returns the source paths named by a JSON body or the files
// uploaded in a multipart form under "audio".
func (s *Server) readSources(w http.ResponseWriter, r *http.Request) ([]string, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		return s.saveUploads(w, r)
	}

	var req SourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, fmt.Errorf("invalid request body")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return req.All(), nil
}

func (s *Server) saveUploads(w http.ResponseWriter, r *http.Request) ([]string, error) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		s.log.Errorf("Failed to parse form: %v", err)
		return nil, fmt.Errorf("failed to parse form data")
	}
	files := r.MultipartForm.File["audio"]
	if len(files) == 0 {
		return nil, fmt.Errorf("audio file is required")
	}
	if err := utils.MakeDir(s.config.UploadDir); err != nil {
		return nil, fmt.Errorf("failed to prepare upload directory")
	}

	var paths []string
	for _, header := range files {
		dst := filepath.Join(s.config.UploadDir, fmt.Sprintf("upload_%d_%s", time.Now().UnixNano(), filepath.Base(header.Filename)))
		if err := saveUpload(header, dst); err != nil {
			s.log.Errorf("Failed to save upload %s: %v", header.Filename, err)
			return nil, fmt.Errorf("failed to save uploaded file %s", header.Filename)
		}
		paths = append(paths, dst)
	}
	return paths, nil
}

func saveUpload(header *multipart.FileHeader, dst string) error {
	src, err := header.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	return out.Close()
}
