package audio

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/himanishpuri/AcousticSync/pkg/acousticsync/cache"
	"github.com/himanishpuri/AcousticSync/pkg/utils"
)

// FileLoader extracts audio into CacheDir as a WAV file and opens it.
// WAV sources that need no conversion are copied; everything else goes
// through ffmpeg.
type FileLoader struct {
	CacheDir    string
	FFmpegPath  string
	FFprobePath string
}

func NewFileLoader(cacheDir, ffmpeg, ffprobe string) *FileLoader {
	if ffmpeg == "" {
		ffmpeg = "ffmpeg"
	}
	if ffprobe == "" {
		ffprobe = "ffprobe"
	}
	return &FileLoader{CacheDir: cacheDir, FFmpegPath: ffmpeg, FFprobePath: ffprobe}
}

// TempPath returns where the extracted audio of path is kept.
func (l *FileLoader) TempPath(path string) string {
	return filepath.Join(l.CacheDir, cache.AudioKey(path))
}

func (l *FileLoader) Load(ctx context.Context, path string, target *Format) (PCM, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("failed to access %s: %w", path, err)
	}
	if err := utils.MakeDir(l.CacheDir); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	tmp := l.TempPath(path)

	if w, err := OpenWav(tmp); err == nil {
		if !NeedResample(w.Format(), target) {
			return w, nil
		}
		w.Close()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if strings.EqualFold(filepath.Ext(path), ".wav") {
		if src, err := OpenWav(path); err == nil {
			format := src.Format()
			src.Close()
			if !NeedResample(format, target) {
				if err := utils.CopyFile(path, tmp); err != nil {
					return nil, err
				}
				return OpenWav(tmp)
			}
		}
	}

	if err := l.extract(ctx, path, tmp, target); err != nil {
		return nil, err
	}
	return OpenWav(tmp)
}

func (l *FileLoader) extract(ctx context.Context, src, dst string, target *Format) error {
	meta, err := ReadMetadata(ctx, l.FFprobePath, src)
	if err != nil {
		return err
	}

	args := []string{"-y", "-v", "quiet", "-i", src, "-vn"}
	if target != nil || meta.Channels > 2 {
		args = append(args, "-ac", "1")
	}
	if target != nil {
		args = append(args, "-ar", strconv.Itoa(target.SampleRate))
	}
	part := dst + ".part"
	args = append(args, "-c:a", "pcm_s16le", "-f", "wav", part)
	defer os.Remove(part)

	cmd := exec.CommandContext(ctx, l.FFmpegPath, args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, exec.ErrNotFound) {
			return fmt.Errorf("ffmpeg not available: %w", err)
		}
		return fmt.Errorf("%w: ffmpeg failed on %s: %v (%s)", ErrUnsupportedFormat, src, err, out)
	}

	return utils.MoveFile(part, dst)
}
