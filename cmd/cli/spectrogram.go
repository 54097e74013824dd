package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"image"
	"image/draw"
	"io"
	"os"
	"path/filepath"

	"github.com/eligwz/spectrogram"

	"github.com/himanishpuri/AcousticSync/pkg/acousticsync/audio"
	"github.com/himanishpuri/AcousticSync/pkg/logger"
	"github.com/himanishpuri/AcousticSync/pkg/utils"
)

// handleSpectrogram renders a PNG spectrogram of a recording, for checking
// by eye that two clips carry the same material.
func handleSpectrogram(args []string) {
	log := logger.GetLogger()

	specCmd := flag.NewFlagSet("spectrogram", flag.ExitOnError)
	width := specCmd.Int("width", 2048, "Image width in pixels")
	height := specCmd.Int("height", 512, "Image height in pixels (frequency bins)")
	logScale := specCmd.Bool("log", false, "Use a log10 magnitude scale")
	specCmd.Parse(args)

	if specCmd.NArg() < 2 {
		fmt.Println("Usage: acousticsync spectrogram [--width <px>] [--height <px>] <audio_file> <output.png>")
		os.Exit(1)
	}
	src, dst := specCmd.Arg(0), specCmd.Arg(1)

	ctx, cancel := signalContext()
	defer cancel()

	fmt.Println("🎨 Rendering spectrogram...")
	samples, rate, err := loadNormalized(ctx, src)
	if err != nil {
		fail("Failed to read audio", err)
	}
	log.Infof("Read %d samples at %d Hz from %s", len(samples), rate, src)

	img := spectrogram.NewImage128(image.Rect(0, 0, *width, *height))
	black := spectrogram.ParseColor("000000")
	draw.Draw(img, img.Bounds(), image.NewUniform(black), image.Point{}, draw.Src)

	// Hamming window, FFT, magnitude
	spectrogram.Drawfft(img, samples, uint32(rate), uint32(*height), false, false, true, *logScale)

	if err := spectrogram.SavePng(img, dst); err != nil {
		fail("Failed to save PNG", err)
	}
	fmt.Printf("\n✅ Saved spectrogram to %s\n", dst)
}

// loadNormalized reads the first channel of path scaled to [-1, 1]. Audio
// extracted into the cache for this read is removed afterwards; audio a
// sync run left there is kept.
func loadNormalized(ctx context.Context, path string) ([]float64, int, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, 0, err
	}
	loader := audio.NewFileLoader(cacheDir, ffmpegPath, ffprobePath)
	tmp := loader.TempPath(abs)
	created := !utils.FileExists(tmp)

	pcm, err := loader.Load(ctx, abs, nil)
	if err != nil {
		if created {
			utils.DeleteFile(tmp)
		}
		return nil, 0, err
	}
	defer func() {
		pcm.Close()
		if !created {
			return
		}
		if err := utils.DeleteFile(tmp); err != nil {
			logger.GetLogger().Warnf("Failed to remove %s: %v", tmp, err)
		}
	}()

	format := pcm.Format()
	scale := float64(int64(1) << (format.BitsPerSample - 1))

	samples := make([]float64, 0, pcm.Len())
	buf := make([]int32, 4096)
	for {
		n, err := pcm.ReadSamples(buf)
		for _, v := range buf[:n] {
			samples = append(samples, float64(v)/scale)
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, 0, err
		}
	}
	if len(samples) == 0 {
		return nil, 0, fmt.Errorf("%s: no samples", path)
	}
	return samples, format.SampleRate, nil
}
