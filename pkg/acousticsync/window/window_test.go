package window

import (
	"errors"
	"math"
	"testing"

	gonumwindow "gonum.org/v1/gonum/dsp/window"
)

func ones(n int) []complex128 {
	data := make([]complex128, n)
	for i := range data {
		data[i] = complex(1, 1)
	}
	return data
}

func TestHammingWeights(t *testing.T) {
	const n = 8
	data := ones(n)
	Hamming.Apply(data)

	for i, v := range data {
		want := 0.54 - 0.46*math.Cos(2*math.Pi*float64(i)/float64(n-1))
		if math.Abs(real(v)-want) > 1e-12 {
			t.Errorf("index %d: got %f, want %f", i, real(v), want)
		}
		if imag(v) != 0 {
			t.Errorf("index %d: imaginary part not cleared: %f", i, imag(v))
		}
	}
	if math.Abs(real(data[0])-0.08) > 1e-12 {
		t.Errorf("edge weight %f, want 0.08", real(data[0]))
	}
}

func TestHammingMatchesGonum(t *testing.T) {
	a := ones(64)
	Hamming.Apply(a)

	b := ones(64)
	(&weighted{name: "gonum-hamming", fn: gonumwindow.Hamming}).Apply(b)

	for i := range a {
		if math.Abs(real(a[i])-real(b[i])) > 1e-12 {
			t.Fatalf("index %d: %f vs %f", i, real(a[i]), real(b[i]))
		}
	}
}

func TestWindowsClearImaginaryAndAreSymmetric(t *testing.T) {
	for _, f := range []Func{Hamming, Hann, Blackman, BlackmanHarris, Nuttall, Rectangular, Gaussian(0.4), Tukey(0.5)} {
		t.Run(f.Name(), func(t *testing.T) {
			data := ones(33)
			f.Apply(data)
			for i, v := range data {
				if imag(v) != 0 {
					t.Fatalf("index %d: imaginary part %f", i, imag(v))
				}
				mirror := real(data[len(data)-1-i])
				if math.Abs(real(v)-mirror) > 1e-9 {
					t.Fatalf("index %d: %f not symmetric with %f", i, real(v), mirror)
				}
			}
		})
	}
}

func TestShortSegments(t *testing.T) {
	for _, f := range []Func{Hamming, Hann} {
		data := []complex128{complex(3, 2)}
		f.Apply(data)
		if data[0] != complex(3, 0) {
			t.Errorf("%s: single sample got %v", f.Name(), data[0])
		}
		f.Apply(nil)
	}
}

func TestByName(t *testing.T) {
	tests := []struct {
		in      string
		want    Func
		wantErr bool
	}{
		{"hamming", Hamming, false},
		{"  HANN ", Hann, false},
		{"", Hamming, false},
		{"none", Rectangular, false},
		{"kaiser", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ByName(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrUnknownWindow) {
					t.Fatalf("expected ErrUnknownWindow, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("got %s, want %s", got.Name(), tt.want.Name())
			}
		})
	}
}
