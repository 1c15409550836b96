package render

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"

	"github.com/cwbudde/algo-dsp/dsp/effects/pitch"
	"github.com/cwbudde/algo-dsp/dsp/window"
)

// Algorithm selects the pitch processor behind a DSPShifter.
type Algorithm string

const (
	WSOLA    Algorithm = "wsola"
	Spectral Algorithm = "spectral"
)

const (
	// MaxSemitones is the largest shift the processors accept either way.
	MaxSemitones       = 24.0
	defaultCrossfadeMs = 20.0
	contextMs          = 100.0
	burstMs            = 40.0
)

// ParseAlgorithm maps a name to an Algorithm.
func ParseAlgorithm(name string) (Algorithm, error) {
	switch a := Algorithm(name); a {
	case WSOLA, Spectral:
		return a, nil
	case "":
		return WSOLA, nil
	}
	return "", fmt.Errorf("unknown shifter %q (want %q or %q)", name, WSOLA, Spectral)
}

// DSPShifter renders a piecewise constant shift with the algo-dsp pitch
// processors. Every span between events is processed with some surrounding
// context and joined to the previous span by a raised-cosine crossfade that
// starts at the scheduled time. Spans at zero shift are copied verbatim.
//
// Whatever delay the processor adds at a given shift is measured once and
// taken out again, so shifted material stays on the input's time line.
type DSPShifter struct {
	algorithm   Algorithm
	crossfadeMs float64

	mu     sync.Mutex
	delays map[delayKey]int
}

type delayKey struct {
	sampleRate int
	semitones  float64
}

// NewDSPShifter creates a shifter. crossfadeMs <= 0 selects the default.
func NewDSPShifter(alg Algorithm, crossfadeMs float64) (*DSPShifter, error) {
	if alg != WSOLA && alg != Spectral {
		return nil, fmt.Errorf("unknown shifter %q", alg)
	}
	if math.IsNaN(crossfadeMs) || math.IsInf(crossfadeMs, 0) {
		return nil, fmt.Errorf("crossfade must be finite: %f", crossfadeMs)
	}
	if crossfadeMs <= 0 {
		crossfadeMs = defaultCrossfadeMs
	}
	return &DSPShifter{algorithm: alg, crossfadeMs: crossfadeMs}, nil
}

// Algorithm returns the processor in use.
func (d *DSPShifter) Algorithm() Algorithm { return d.algorithm }

// Latency is half the crossfade: the point where a new shift reaches
// equal weight with the old one. Processor delay is already compensated.
func (d *DSPShifter) Latency(sampleRate int) int {
	return d.fadeLen(sampleRate) / 2
}

func (d *DSPShifter) fadeLen(sampleRate int) int {
	n := int(math.Round(d.crossfadeMs * 0.001 * float64(sampleRate)))
	if n < 2 {
		n = 2
	}
	return n
}

type span struct {
	start, end int
	semitones  float64
}

// Shift implements Shifter.
func (d *DSPShifter) Shift(ctx context.Context, samples []float32, sampleRate int, events []Event) ([]float32, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate: %d", sampleRate)
	}
	spans, err := spansFor(events, len(samples), sampleRate)
	if err != nil {
		return nil, err
	}
	out := make([]float32, len(samples))
	copy(out, samples)
	if len(spans) == 1 && spans[0].semitones == 0 {
		return out, nil
	}

	proc, err := d.newProcessor(sampleRate)
	if err != nil {
		return nil, err
	}
	fade := d.fadeLen(sampleRate)
	hann, err := window.Hann(2*fade, window.WithPeriodic())
	if err != nil {
		return nil, err
	}
	fadeIn := hann[:fade]
	pad := int(contextMs * 0.001 * float64(sampleRate))

	for i, s := range spans {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := min(len(samples), s.end+fade)
		lag := 0
		if s.semitones != 0 {
			if lag, err = d.delay(proc, sampleRate, s.semitones); err != nil {
				return nil, err
			}
			lag = max(-pad, min(pad, lag))
		}
		block, err := renderSpan(proc, samples, s.start, end, pad, s.semitones, lag)
		if err != nil {
			return nil, err
		}
		for j := s.start; j < end; j++ {
			v := block[j-s.start]
			if k := j - s.start; i > 0 && k < fade {
				prev := float64(out[j])
				v = prev + (v-prev)*fadeIn[k]
			}
			out[j] = float32(v)
		}
	}
	return out, nil
}

func (d *DSPShifter) newProcessor(sampleRate int) (pitch.PitchProcessor, error) {
	if d.algorithm == Spectral {
		return pitch.NewSpectralPitchShifter(float64(sampleRate))
	}
	return pitch.NewPitchShifter(float64(sampleRate))
}

// delay returns how many samples proc's output trails its input at the
// given rate and shift.
func (d *DSPShifter) delay(proc pitch.PitchProcessor, sampleRate int, semitones float64) (int, error) {
	key := delayKey{sampleRate, semitones}
	d.mu.Lock()
	v, ok := d.delays[key]
	d.mu.Unlock()
	if ok {
		return v, nil
	}
	v, err := measureDelay(proc, sampleRate, semitones)
	if err != nil {
		return 0, err
	}
	d.mu.Lock()
	if d.delays == nil {
		d.delays = make(map[delayKey]int)
	}
	d.delays[key] = v
	d.mu.Unlock()
	return v, nil
}

// measureDelay shifts a Hann-windowed noise burst and compares the energy
// centroids of input and output.
func measureDelay(proc pitch.PitchProcessor, sampleRate int, semitones float64) (int, error) {
	n := sampleRate / 4
	m := int(burstMs * 0.001 * float64(sampleRate))
	if m < 2 || m >= n {
		return 0, nil
	}
	w, err := window.Hann(m)
	if err != nil {
		return 0, err
	}
	rng := rand.New(rand.NewSource(1))
	in := make([]float64, n)
	at := (n - m) / 2
	for i, g := range w {
		in[at+i] = g * (2*rng.Float64() - 1)
	}
	if err := proc.SetPitchSemitones(semitones); err != nil {
		return 0, err
	}
	proc.Reset()
	out, ok := energyCentroid(proc.Process(in))
	if !ok {
		return 0, nil
	}
	ref, _ := energyCentroid(in)
	return int(math.Round(out - ref)), nil
}

func energyCentroid(x []float64) (float64, bool) {
	var sum, moment float64
	for i, v := range x {
		e := v * v
		sum += e
		moment += float64(i) * e
	}
	if sum <= 1e-12 || math.IsNaN(moment) {
		return 0, false
	}
	return moment / sum, true
}

// renderSpan returns samples[start:end] shifted by semitones, processed
// with up to pad samples of context on both sides. The processor output is
// read lag samples late to undo its delay.
func renderSpan(proc pitch.PitchProcessor, samples []float32, start, end, pad int, semitones float64, lag int) ([]float64, error) {
	if semitones == 0 {
		out := make([]float64, end-start)
		for i := range out {
			out[i] = float64(samples[start+i])
		}
		return out, nil
	}
	lo := max(0, start-pad)
	hi := min(len(samples), end+pad)
	in := make([]float64, hi-lo)
	for i := range in {
		in[i] = float64(samples[lo+i])
	}
	if err := proc.SetPitchSemitones(semitones); err != nil {
		return nil, err
	}
	proc.Reset()
	shifted := proc.Process(in)
	out := make([]float64, end-start)
	for i := range out {
		if k := start - lo + lag + i; k >= 0 && k < len(shifted) {
			out[i] = shifted[k]
		}
	}
	return out, nil
}

// spansFor converts events into contiguous spans covering [0,n). Events
// at the same sample collapse to the last one.
func spansFor(events []Event, n, sampleRate int) ([]span, error) {
	spans := []span{{start: 0, end: n}}
	for _, e := range events {
		if math.IsNaN(e.Semitones) || math.IsInf(e.Semitones, 0) || math.Abs(e.Semitones) > MaxSemitones {
			return nil, fmt.Errorf("shift %v semitones out of range [-%v, %v]", e.Semitones, MaxSemitones, MaxSemitones)
		}
		if math.IsNaN(e.Time) || math.IsInf(e.Time, 0) {
			return nil, fmt.Errorf("invalid event time %v", e.Time)
		}
		at := int(math.Round(e.Time * float64(sampleRate)))
		at = max(0, min(n, at))
		last := &spans[len(spans)-1]
		switch {
		case at < last.start:
			return nil, fmt.Errorf("events out of order at %v s", e.Time)
		case at == last.start:
			last.semitones = e.Semitones
		case at < n:
			last.end = at
			spans = append(spans, span{start: at, end: n, semitones: e.Semitones})
		}
	}
	// Neighbors at the same shift render as one span.
	merged := spans[:1]
	for _, s := range spans[1:] {
		if prev := &merged[len(merged)-1]; prev.semitones == s.semitones {
			prev.end = s.end
			continue
		}
		merged = append(merged, s)
	}
	return merged, nil
}
