package acousticsync

import (
	"runtime"

	"github.com/himanishpuri/AcousticSync/pkg/acousticsync/audio"
	"github.com/himanishpuri/AcousticSync/pkg/acousticsync/cache"
	"github.com/himanishpuri/AcousticSync/pkg/acousticsync/fingerprint"
)

type Config struct {
	// CacheDir holds extracted audio and hash sequences.
	CacheDir string
	// DBPath enables alignment persistence when non-empty and no Store is set.
	DBPath       string
	Workers      int
	MatchWorkers int
	Sync         fingerprint.Config
	FFmpegPath   string
	FFprobePath  string
	Logger       Logger
	Loader       audio.Loader
	Store        ResultStore
}

type Option func(*Config)

func WithCacheDir(dir string) Option {
	return func(c *Config) {
		c.CacheDir = dir
	}
}

func WithDBPath(path string) Option {
	return func(c *Config) {
		c.DBPath = path
	}
}

// WithWorkers sets the number of clips loaded, hashed or matched at once.
func WithWorkers(n int) Option {
	return func(c *Config) {
		c.Workers = n
	}
}

// WithMatchWorkers sets the goroutines used by a single offset search.
func WithMatchWorkers(n int) Option {
	return func(c *Config) {
		c.MatchWorkers = n
	}
}

func WithSyncConfig(cfg fingerprint.Config) Option {
	return func(c *Config) {
		c.Sync = cfg
	}
}

func WithFFmpeg(ffmpeg, ffprobe string) Option {
	return func(c *Config) {
		c.FFmpegPath = ffmpeg
		c.FFprobePath = ffprobe
	}
}

func WithLogger(log Logger) Option {
	return func(c *Config) {
		c.Logger = log
	}
}

func WithLoader(loader audio.Loader) Option {
	return func(c *Config) {
		c.Loader = loader
	}
}

func WithStore(store ResultStore) Option {
	return func(c *Config) {
		c.Store = store
	}
}

func defaultConfig() *Config {
	return &Config{
		CacheDir:     cache.DefaultRoot(),
		Workers:      runtime.NumCPU(),
		MatchWorkers: runtime.NumCPU(),
		Sync:         fingerprint.DefaultConfig(),
		FFmpegPath:   "ffmpeg",
		FFprobePath:  "ffprobe",
	}
}
