package main

import (
	"flag"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"

	"github.com/himanishpuri/AcousticSync/pkg/acousticsync"
	"github.com/himanishpuri/AcousticSync/pkg/acousticsync/cache"
	"github.com/himanishpuri/AcousticSync/pkg/acousticsync/fingerprint"
	"github.com/himanishpuri/AcousticSync/pkg/acousticsync/window"
)

var (
	port           int
	dbPath         string
	cacheDir       string
	uploadDir      string
	ffmpegPath     string
	ffprobePath    string
	windowName     string
	allowedOrigins string
)

func init() {
	_ = godotenv.Load()

	flag.IntVar(&port, "port", 8080, "HTTP server port")
	flag.StringVar(&dbPath, "db", getEnvOrDefault("ACOUSTIC_DB_PATH", "acousticsync.sqlite3"), "Path to SQLite database")
	flag.StringVar(&cacheDir, "cache", getEnvOrDefault("ACOUSTIC_CACHE_DIR", cache.DefaultRoot()), "Cache directory")
	flag.StringVar(&uploadDir, "uploads", getEnvOrDefault("ACOUSTIC_UPLOAD_DIR", filepath.Join(os.TempDir(), "acousticsync_uploads")), "Directory for uploaded recordings")
	flag.StringVar(&ffmpegPath, "ffmpeg", getEnvOrDefault("ACOUSTIC_FFMPEG", "ffmpeg"), "ffmpeg binary")
	flag.StringVar(&ffprobePath, "ffprobe", getEnvOrDefault("ACOUSTIC_FFPROBE", "ffprobe"), "ffprobe binary")
	flag.StringVar(&windowName, "window", getEnvOrDefault("ACOUSTIC_WINDOW", "hamming"), "Window function applied before the FFT")
	flag.StringVar(&allowedOrigins, "origins", "*", "Comma-separated list of allowed CORS origins (use * for all)")
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	flag.Parse()

	// Parse allowed origins
	var origins []string
	if allowedOrigins == "*" {
		origins = []string{"*"}
	} else {
		origins = strings.Split(allowedOrigins, ",")
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
	}

	w, err := window.ByName(windowName)
	if err != nil {
		log.Fatalf("Invalid window: %v", err)
	}
	syncCfg := fingerprint.DefaultConfig()
	syncCfg.Window = w

	s, err := acousticsync.New(
		acousticsync.WithCacheDir(cacheDir),
		acousticsync.WithDBPath(dbPath),
		acousticsync.WithFFmpeg(ffmpegPath, ffprobePath),
		acousticsync.WithSyncConfig(syncCfg),
	)
	if err != nil {
		log.Fatalf("Failed to create synchronizer: %v", err)
	}
	defer s.Close()

	config := &ServerConfig{
		Port:           port,
		DBPath:         dbPath,
		UploadDir:      uploadDir,
		AllowedOrigins: origins,
	}

	server := NewServer(s, config)
	if err := server.Start(); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}
