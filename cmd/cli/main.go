package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"

	"github.com/himanishpuri/AcousticSync/pkg/acousticsync"
	"github.com/himanishpuri/AcousticSync/pkg/acousticsync/audio"
	"github.com/himanishpuri/AcousticSync/pkg/acousticsync/cache"
	"github.com/himanishpuri/AcousticSync/pkg/acousticsync/fingerprint"
	"github.com/himanishpuri/AcousticSync/pkg/acousticsync/window"
	"github.com/himanishpuri/AcousticSync/pkg/logger"
	"github.com/himanishpuri/AcousticSync/pkg/utils"
)

// Global flags
var (
	dbPath       string
	cacheDir     string
	ffmpegPath   string
	ffprobePath  string
	windowName   string
	windowLength int
	bandStep     int
	workers      int
)

func init() {
	// .env must be loaded before the flag defaults read the environment
	_ = godotenv.Load()

	flag.StringVar(&dbPath, "db", getEnvOrDefault("ACOUSTIC_DB_PATH", "acousticsync.sqlite3"), "Path to the SQLite alignment database (empty disables storage)")
	flag.StringVar(&cacheDir, "cache", getEnvOrDefault("ACOUSTIC_CACHE_DIR", cache.DefaultRoot()), "Directory for extracted audio and cached hashes")
	flag.StringVar(&ffmpegPath, "ffmpeg", getEnvOrDefault("ACOUSTIC_FFMPEG", "ffmpeg"), "ffmpeg binary")
	flag.StringVar(&ffprobePath, "ffprobe", getEnvOrDefault("ACOUSTIC_FFPROBE", "ffprobe"), "ffprobe binary")
	flag.StringVar(&windowName, "window", getEnvOrDefault("ACOUSTIC_WINDOW", "hamming"), "Window function applied before the FFT")
	flag.IntVar(&windowLength, "length", fingerprint.DefaultWindowLength, "Samples per analysis window (power of two)")
	flag.IntVar(&bandStep, "step", fingerprint.DefaultBandStep, "Frequency band width in bins")
	flag.IntVar(&workers, "workers", 0, "Clips processed at once (0 = number of CPUs)")
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func syncConfig() (fingerprint.Config, error) {
	w, err := window.ByName(windowName)
	if err != nil {
		return fingerprint.Config{}, err
	}
	return fingerprint.NewConfig(windowLength, bandStep, w)
}

// createSynchronizer builds a synchronizer from the global flags.
// withStore controls whether matched alignments are written to the database.
func createSynchronizer(withStore bool) (*acousticsync.Synchronizer, error) {
	cfg, err := syncConfig()
	if err != nil {
		return nil, err
	}

	opts := []acousticsync.Option{
		acousticsync.WithCacheDir(cacheDir),
		acousticsync.WithFFmpeg(ffmpegPath, ffprobePath),
		acousticsync.WithSyncConfig(cfg),
	}
	if workers > 0 {
		opts = append(opts, acousticsync.WithWorkers(workers), acousticsync.WithMatchWorkers(workers))
	}
	if withStore {
		opts = append(opts, acousticsync.WithDBPath(dbPath))
	}
	return acousticsync.New(opts...)
}

func openStore() acousticsync.ResultStore {
	if dbPath == "" {
		fail("No database configured (set --db or ACOUSTIC_DB_PATH)", errors.New("empty database path"))
	}
	store, err := acousticsync.NewSQLiteStore(dbPath)
	if err != nil {
		fail("Failed to open database", err)
	}
	return store
}

func main() {
	log := logger.GetLogger()

	flag.Usage = printUsage
	flag.Parse()

	printBanner()

	if flag.NArg() < 1 {
		printUsage()
		os.Exit(1)
	}

	command := flag.Arg(0)
	args := flag.Args()[1:]
	log.Infof("Executing command: %s", command)

	switch command {
	case "sync":
		handleSync(args)
	case "hash":
		handleHash(args)
	case "list":
		handleList(args)
	case "delete":
		handleDelete(args)
	case "cache":
		handleCache()
	case "clear-cache":
		handleClearCache()
	case "mux":
		handleMux(args)
	case "spectrogram":
		handleSpectrogram(args)
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printBanner() {
	banner := `
    _                      _   _      ____
   / \   ___ ___  _   _ ___| |_(_) ___/ ___| _   _ _ __   ___
  / _ \ / __/ _ \| | | / __| __| |/ __\___ \| | | | '_ \ / __|
 / ___ \ (_| (_) | |_| \__ \ |_| | (__ ___) | |_| | | | | (__
/_/   \_\___\___/ \__,_|___/\__|_|\___|____/ \__, |_| |_|\___|
                                             |___/
           Audio Synchronization CLI Tool
`
	fmt.Println(banner)
}

// fail prints msg to the user, logs err and exits.
func fail(msg string, err error) {
	fmt.Printf("❌ %s: %v\n", msg, err)
	logger.GetLogger().Errorf("%s: %v", msg, err)
	os.Exit(1)
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt)
}

func handleSync(args []string) {
	log := logger.GetLogger()

	syncCmd := flag.NewFlagSet("sync", flag.ExitOnError)
	outDir := syncCmd.String("out", "", "Directory to save the master segment aligned with each clip")
	noStore := syncCmd.Bool("no-store", false, "Do not record alignments in the database")
	timeout := syncCmd.Duration("timeout", 30*time.Minute, "Give up after this long")
	syncCmd.Parse(args)

	if syncCmd.NArg() < 2 {
		fmt.Println("Usage: acousticsync sync [--out <dir>] [--no-store] <master> <clip>...")
		os.Exit(1)
	}
	masterPath := syncCmd.Arg(0)
	clipPaths := syncCmd.Args()[1:]

	fmt.Println("\n🔧 Initializing synchronizer...")
	s, err := createSynchronizer(!*noStore && dbPath != "")
	if err != nil {
		fail("Failed to create synchronizer", err)
	}
	defer s.Close()

	// Progress bars own the terminal while clips are processed.
	logger.SetLevel(logger.ERROR)

	master, err := s.SetMaster(masterPath)
	if err != nil {
		fail("Failed to set master", err)
	}

	clips := []*acousticsync.Clip{master}
	for _, p := range clipPaths {
		c, err := s.AddCandidate(p)
		if err != nil {
			fail(fmt.Sprintf("Failed to add %s", p), err)
		}
		clips = append(clips, c)
	}

	ctx, cancel := signalContext()
	defer cancel()
	ctx, cancelTimeout := context.WithTimeout(ctx, *timeout)
	defer cancelTimeout()

	fmt.Printf("🎧 Aligning %d clip(s) against %s\n\n", len(clipPaths), filepath.Base(masterPath))
	waitErr := trackClips(ctx, clips)
	if waitErr != nil {
		for _, c := range clips[1:] {
			s.Cancel(c)
		}
	}

	printResults(master, clips[1:])

	if waitErr != nil {
		fail("Synchronization interrupted", waitErr)
	}

	if *outDir != "" {
		if err := utils.MakeDir(*outDir); err != nil {
			fail("Failed to create output directory", err)
		}
		fmt.Println("\n💾 Saving aligned master segments...")
		for _, c := range clips[1:] {
			if c.State() != acousticsync.StateMatched {
				continue
			}
			dst := filepath.Join(*outDir, utils.TrimExt(c.Name())+".synced.wav")
			if err := s.Save(c, dst); err != nil {
				fmt.Printf("   ❌ %s: %v\n", c.Name(), err)
				log.Errorf("Save failed for %s: %v", c.Name(), err)
				continue
			}
			fmt.Printf("   ✅ %s\n", dst)
		}
	}
}

func printResults(master *acousticsync.Clip, clips []*acousticsync.Clip) {
	fmt.Printf("\n📋 Results (master: %s, %s)\n\n", master.Name(), master.Format())

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CLIP\tSTATE\tOFFSET\tSTART SAMPLE\tMATCHES")
	for _, c := range clips {
		switch c.State() {
		case acousticsync.StateMatched:
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d/%d\n",
				c.Name(), c.State(), formatOffset(c.Offset()), c.StartIndex(), c.Matches(), len(c.Hashes()))
		case acousticsync.StateFailed:
			fmt.Fprintf(tw, "%s\t%s\t-\t-\t%v\n", c.Name(), c.State(), c.Err())
		default:
			fmt.Fprintf(tw, "%s\t%s\t-\t-\t-\n", c.Name(), c.State())
		}
	}
	tw.Flush()
}

func formatOffset(d time.Duration) string {
	sign := "+"
	if d < 0 {
		sign = "-"
		d = -d
	}
	return sign + d.Round(time.Millisecond).String()
}

func handleHash(args []string) {
	if len(args) < 1 {
		fmt.Println("Usage: acousticsync hash <audio_file>")
		os.Exit(1)
	}

	s, err := createSynchronizer(false)
	if err != nil {
		fail("Failed to create synchronizer", err)
	}
	defer s.Close()

	fmt.Println("🔍 Hashing audio file...")
	c, err := s.SetMaster(args[0])
	if err != nil {
		fail("Failed to load file", err)
	}

	ctx, cancel := signalContext()
	defer cancel()
	select {
	case <-c.Done():
	case <-ctx.Done():
		s.Cancel(c)
		fail("Hashing interrupted", ctx.Err())
	}
	if c.State() != acousticsync.StateHashed {
		fail("Failed to hash file", c.Err())
	}

	format := c.Format()
	seconds := float64(c.SampleCount()) / float64(format.SampleRate)
	fmt.Println("\n✅ Hash sequence ready")
	fmt.Printf("   File:     %s\n", c.Path())
	fmt.Printf("   Format:   %s\n", format)
	fmt.Printf("   Duration: %s\n", time.Duration(seconds*float64(time.Second)).Round(time.Millisecond))
	fmt.Printf("   Windows:  %s\n", humanize.Comma(int64(len(c.Hashes()))))
	fmt.Printf("   Cache:    %s\n", s.Cache().Path(cache.HashKey(c.Path(), format.SampleRate)))
}

func handleList(args []string) {
	log := logger.GetLogger()

	store := openStore()
	defer store.Close()

	var master string
	if len(args) > 0 {
		abs, err := filepath.Abs(args[0])
		if err != nil {
			fail("Invalid master path", err)
		}
		master = abs
	}

	alignments, err := store.ListAlignments(master)
	if err != nil {
		fail("Failed to list alignments", err)
	}
	if len(alignments) == 0 {
		fmt.Println("\n📭 No alignments in database")
		log.Info("No alignments in database")
		return
	}

	fmt.Printf("\n📚 Found %d alignment(s):\n\n", len(alignments))
	current := ""
	for _, a := range alignments {
		if a.MasterPath != current {
			current = a.MasterPath
			fmt.Printf("🎼 %s\n", current)
		}
		fmt.Printf("   %s  %s  (%d Hz, %d matches, %s)\n",
			filepath.Base(a.ClipPath), formatOffset(time.Duration(a.OffsetMs)*time.Millisecond),
			a.SampleRate, a.MatchCount, humanize.Time(a.CreatedAt))
		fmt.Printf("   ID: %s\n", a.ID)
	}
	log.Infof("Listed %d alignments", len(alignments))
}

func handleDelete(args []string) {
	log := logger.GetLogger()

	if len(args) < 1 {
		fmt.Println("Usage: acousticsync delete <alignment_id>")
		os.Exit(1)
	}
	id := args[0]

	store := openStore()
	defer store.Close()

	a, err := store.GetAlignment(id)
	if err != nil {
		fmt.Printf("❌ Alignment not found (ID: %s)\n", id)
		log.Warnf("Alignment %s not found: %v", id, err)
		os.Exit(1)
	}
	if err := store.DeleteAlignment(id); err != nil {
		fail("Failed to delete alignment", err)
	}

	fmt.Printf("\n✅ Successfully deleted alignment:\n")
	fmt.Printf("   ID:     %s\n", a.ID)
	fmt.Printf("   Master: %s\n", a.MasterPath)
	fmt.Printf("   Clip:   %s\n", a.ClipPath)
	log.Infof("Deleted alignment %s", a.ID)
}

func handleCache() {
	fc, err := cache.New(cacheDir)
	if err != nil {
		fail("Failed to open cache", err)
	}
	stats, err := fc.Stats()
	if err != nil {
		fail("Failed to read cache", err)
	}

	fmt.Printf("\n🗂  Cache: %s\n", fc.Root())
	fmt.Printf("   Files: %s\n", humanize.Comma(int64(stats.Files)))
	fmt.Printf("   Size:  %s\n", humanize.Bytes(uint64(stats.Bytes)))
}

func handleClearCache() {
	s, err := createSynchronizer(false)
	if err != nil {
		fail("Failed to create synchronizer", err)
	}
	defer s.Close()

	n, err := s.ClearCache()
	if err != nil {
		fail("Failed to clear cache", err)
	}
	fmt.Printf("\n🧹 Removed %d cached file(s) from %s\n", n, s.Cache().Root())
}

func handleMux(args []string) {
	if len(args) < 4 {
		fmt.Println("Usage: acousticsync mux <video> <audio> <offset_ms> <output>")
		os.Exit(1)
	}
	offsetMs, err := strconv.ParseInt(strings.TrimPrefix(args[2], "+"), 10, 64)
	if err != nil {
		fail("Invalid offset", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	fmt.Println("🎬 Muxing audio into video...")
	offset := time.Duration(offsetMs) * time.Millisecond
	if err := audio.MuxVideo(ctx, ffmpegPath, args[0], args[1], offset, args[3]); err != nil {
		fail("Failed to mux video", err)
	}
	fmt.Printf("\n✅ Written %s\n", args[3])
}

func printUsage() {
	fmt.Println("AcousticSync - Audio Synchronization CLI")
	fmt.Println("\nGlobal Options:")
	fmt.Println("  --db <path>        SQLite alignment database (env: ACOUSTIC_DB_PATH, default: acousticsync.sqlite3)")
	fmt.Println("  --cache <dir>      Cache directory (env: ACOUSTIC_CACHE_DIR, default: $TMPDIR/acousticsync_temp)")
	fmt.Println("  --ffmpeg <path>    ffmpeg binary (env: ACOUSTIC_FFMPEG)")
	fmt.Println("  --ffprobe <path>   ffprobe binary (env: ACOUSTIC_FFPROBE)")
	fmt.Printf("  --window <name>    Window function (env: ACOUSTIC_WINDOW): %s\n", strings.Join(window.Names(), ", "))
	fmt.Println("  --length <n>       Samples per analysis window (default: 256)")
	fmt.Println("  --step <n>         Band width in bins (default: 60)")
	fmt.Println("  --workers <n>      Clips processed at once (default: number of CPUs)")
	fmt.Println("\nUsage:")
	fmt.Println("  acousticsync [global-options] sync [--out <dir>] [--no-store] <master> <clip>...")
	fmt.Println("  acousticsync [global-options] hash <audio_file>")
	fmt.Println("  acousticsync [global-options] list [master]")
	fmt.Println("  acousticsync [global-options] delete <alignment_id>")
	fmt.Println("  acousticsync [global-options] cache")
	fmt.Println("  acousticsync [global-options] clear-cache")
	fmt.Println("  acousticsync [global-options] mux <video> <audio> <offset_ms> <output>")
	fmt.Println("  acousticsync [global-options] spectrogram [--width <px>] [--height <px>] [--log] <audio_file> <output.png>")
	fmt.Println("\nExamples:")
	fmt.Println("  # Align two camera takes against the board recording")
	fmt.Println("  acousticsync sync board.wav cam1.mp4 cam2.mp4")
	fmt.Println()
	fmt.Println("  # Export the matching stretch of the master for each take")
	fmt.Println("  acousticsync sync --out synced/ board.wav cam1.mp4")
	fmt.Println()
	fmt.Println("  # Replace a camera's audio with the aligned master segment")
	fmt.Println("  acousticsync mux cam1.mp4 synced/cam1.synced.wav 0 cam1.final.mp4")
}
