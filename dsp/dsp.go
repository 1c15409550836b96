// Package dsp has the small filters used to condition analysis frames.
package dsp

import "math"

// Biquad is a second-order IIR section in transposed direct form II.
// Coefficients are normalized so that a0 == 1.
type Biquad struct {
	b0, b1, b2 float32
	a1, a2     float32

	s1, s2 float32
}

// NewBiquad returns a section with the given normalized coefficients.
func NewBiquad(b0, b1, b2, a1, a2 float32) *Biquad {
	return &Biquad{b0: b0, b1: b1, b2: b2, a1: a1, a2: a2}
}

// Process filters one sample.
func (b *Biquad) Process(x float32) float32 {
	y := b.b0*x + b.s1
	b.s1 = FlushDenormals(b.b1*x - b.a1*y + b.s2)
	b.s2 = FlushDenormals(b.b2*x - b.a2*y)
	return y
}

// ProcessBlock filters in into a new slice, leaving in untouched.
func (b *Biquad) ProcessBlock(in []float32) []float32 {
	out := make([]float32, len(in))
	for i, v := range in {
		out[i] = b.Process(v)
	}
	return out
}

// Reset clears the filter state.
func (b *Biquad) Reset() {
	b.s1, b.s2 = 0, 0
}

// NewLowpass creates an RBJ lowpass biquad.
func NewLowpass(cutoff, sampleRate, q float32) *Biquad {
	alpha, cosw0 := rbjTerms(cutoff, sampleRate, q)

	b0 := (1.0 - cosw0) / 2.0
	b1 := 1.0 - cosw0
	b2 := (1.0 - cosw0) / 2.0
	return normalize(b0, b1, b2, alpha, cosw0)
}

// NewHighpass creates an RBJ highpass biquad, used to strip DC before
// period estimation.
func NewHighpass(cutoff, sampleRate, q float32) *Biquad {
	alpha, cosw0 := rbjTerms(cutoff, sampleRate, q)

	b0 := (1.0 + cosw0) / 2.0
	b1 := -(1.0 + cosw0)
	b2 := (1.0 + cosw0) / 2.0
	return normalize(b0, b1, b2, alpha, cosw0)
}

func rbjTerms(cutoff, sampleRate, q float32) (alpha, cosw0 float64) {
	w0 := 2.0 * math.Pi * float64(cutoff) / float64(sampleRate)
	return math.Sin(w0) / (2.0 * float64(q)), math.Cos(w0)
}

func normalize(b0, b1, b2, alpha, cosw0 float64) *Biquad {
	a0 := 1.0 + alpha
	a1 := -2.0 * cosw0
	a2 := 1.0 - alpha
	return NewBiquad(
		float32(b0/a0),
		float32(b1/a0),
		float32(b2/a0),
		float32(a1/a0),
		float32(a2/a0),
	)
}

// FlushDenormals snaps values within 1e-30 of zero to zero.
func FlushDenormals(x float32) float32 {
	const epsilon = 1e-30
	if x > -epsilon && x < epsilon {
		return 0.0
	}
	return x
}
