package fingerprint

import (
	"errors"
	"fmt"

	"github.com/himanishpuri/AcousticSync/pkg/acousticsync/fourier"
	"github.com/himanishpuri/AcousticSync/pkg/acousticsync/window"
)

const (
	DefaultWindowLength = 256
	DefaultBandStep     = 60
)

var ErrInvalidConfiguration = errors.New("invalid sync configuration")

// Config controls how a sample stream is cut into windows and how each
// window's spectrum is reduced to a hash.
type Config struct {
	// WindowLength is the number of samples per analysis window.
	WindowLength int
	// BandStep is the width of a frequency band in bins.
	BandStep int
	Window   window.Func
}

func DefaultConfig() Config {
	return Config{
		WindowLength: DefaultWindowLength,
		BandStep:     DefaultBandStep,
		Window:       window.Hamming,
	}
}

func NewConfig(windowLength, bandStep int, w window.Func) (Config, error) {
	cfg := Config{WindowLength: windowLength, BandStep: bandStep, Window: w}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if !fourier.IsPowerOfTwo(c.WindowLength) || c.WindowLength < 2 || c.WindowLength > fourier.MaxLength {
		return fmt.Errorf("%w: window length %d must be a power of two between 2 and %d",
			ErrInvalidConfiguration, c.WindowLength, fourier.MaxLength)
	}
	if c.BandStep < 1 || c.BandStep > c.WindowLength/2 {
		return fmt.Errorf("%w: band step %d must be between 1 and %d",
			ErrInvalidConfiguration, c.BandStep, c.WindowLength/2)
	}
	if c.Window == nil {
		return fmt.Errorf("%w: window function is required", ErrInvalidConfiguration)
	}
	return nil
}

// Bands returns the number of frequency bands per window. The last band
// is shorter when BandStep does not divide WindowLength/2.
func (c Config) Bands() int {
	half := c.WindowLength / 2
	return (half + c.BandStep - 1) / c.BandStep
}

// Windows returns how many complete windows fit in sampleCount samples.
func (c Config) Windows(sampleCount int) int {
	if sampleCount <= 0 {
		return 0
	}
	return sampleCount / c.WindowLength
}

func (c Config) String() string {
	name := "<nil>"
	if c.Window != nil {
		name = c.Window.Name()
	}
	return fmt.Sprintf("L=%d step=%d window=%s", c.WindowLength, c.BandStep, name)
}
