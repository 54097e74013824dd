// Package window provides tapering functions applied to a segment before
// its spectrum is taken.
package window

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	gonumwindow "gonum.org/v1/gonum/dsp/window"
)

var ErrUnknownWindow = errors.New("unknown window function")

// Func tapers a segment in place. The real part is scaled by the window
// weight and the imaginary part is cleared.
type Func interface {
	Name() string
	Apply(data []complex128)
}

type hamming struct{}

func (hamming) Name() string { return "hamming" }

func (hamming) Apply(data []complex128) {
	n := len(data)
	if n < 2 {
		clearImag(data)
		return
	}
	k := 2 * math.Pi / float64(n-1)
	for i, v := range data {
		w := 0.54 - 0.46*math.Cos(k*float64(i))
		data[i] = complex(real(v)*w, 0)
	}
}

// weighted wraps a gonum real window and caches its weights per length.
type weighted struct {
	name   string
	fn     func([]float64) []float64
	values sync.Map // int -> gonumwindow.Values
}

func (w *weighted) Name() string { return w.name }

func (w *weighted) weights(n int) gonumwindow.Values {
	if v, ok := w.values.Load(n); ok {
		return v.(gonumwindow.Values)
	}
	v, _ := w.values.LoadOrStore(n, gonumwindow.NewValues(w.fn, n))
	return v.(gonumwindow.Values)
}

func (w *weighted) Apply(data []complex128) {
	n := len(data)
	if n < 2 {
		clearImag(data)
		return
	}
	weights := w.weights(n)
	for i, v := range data {
		data[i] = complex(real(v)*weights[i], 0)
	}
}

func clearImag(data []complex128) {
	for i, v := range data {
		data[i] = complex(real(v), 0)
	}
}

var (
	Hamming        Func = hamming{}
	Hann           Func = &weighted{name: "hann", fn: gonumwindow.Hann}
	Blackman       Func = &weighted{name: "blackman", fn: gonumwindow.Blackman}
	BlackmanHarris Func = &weighted{name: "blackman-harris", fn: gonumwindow.BlackmanHarris}
	Nuttall        Func = &weighted{name: "nuttall", fn: gonumwindow.Nuttall}
	FlatTop        Func = &weighted{name: "flat-top", fn: gonumwindow.FlatTop}
	Rectangular    Func = &weighted{name: "rectangular", fn: gonumwindow.Rectangular}
)

// Gaussian returns a Gaussian window with the given sigma (0 < sigma <= 0.5 is typical).
func Gaussian(sigma float64) Func {
	return &weighted{
		name: fmt.Sprintf("gaussian(%g)", sigma),
		fn:   gonumwindow.Gaussian{Sigma: sigma}.Transform,
	}
}

// Tukey returns a tapered cosine window. alpha 0 is rectangular, 1 is Hann.
func Tukey(alpha float64) Func {
	return &weighted{
		name: fmt.Sprintf("tukey(%g)", alpha),
		fn:   gonumwindow.Tukey{Alpha: alpha}.Transform,
	}
}

var named = map[string]Func{
	Hamming.Name():        Hamming,
	Hann.Name():           Hann,
	Blackman.Name():       Blackman,
	BlackmanHarris.Name(): BlackmanHarris,
	Nuttall.Name():        Nuttall,
	FlatTop.Name():        FlatTop,
	Rectangular.Name():    Rectangular,
	"none":                Rectangular,
}

// ByName resolves a window by its configuration name, case-insensitively.
func ByName(name string) (Func, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return Hamming, nil
	}
	if f, ok := named[key]; ok {
		return f, nil
	}
	return nil, fmt.Errorf("%w: %q (known: %s)", ErrUnknownWindow, name, strings.Join(Names(), ", "))
}

func Names() []string {
	names := make([]string, 0, len(named))
	for name := range named {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
