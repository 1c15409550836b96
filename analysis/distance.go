// Package analysis measures how far a rendered buffer is from a reference:
// lag, waveform error, loudness envelope and spectral shape, plus a
// frame-by-frame pitch comparison.
package analysis

import (
	"fmt"
	"math"
	"math/cmplx"

	"github.com/cwbudde/algo-dsp/dsp/window"
	algofft "github.com/cwbudde/algo-fft"
	"github.com/cwbudde/algo-pitchedit/pcm"
)

const (
	normTarget   = 0.1
	envFrame     = 256
	envHop       = 128
	minAligned   = 256
	minSpecBlock = 512
	maxSpecBlock = 4096
	floorLin     = 1e-12
)

// Metrics contains distance and similarity measurements between two signals.
type Metrics struct {
	SampleRate int `json:"sample_rate"`

	ReferenceFrames int `json:"reference_frames"`
	CandidateFrames int `json:"candidate_frames"`
	AlignedFrames   int `json:"aligned_frames"`
	// LagSamples is positive when the candidate runs late.
	LagSamples int `json:"lag_samples"`

	TimeRMSE       float64 `json:"time_rmse"`
	EnvelopeRMSEDB float64 `json:"envelope_rmse_db"`
	SpectralRMSEDB float64 `json:"spectral_rmse_db"`

	// Score is 0 for identical signals and 1 for unrelated ones.
	Score      float64 `json:"score"`
	Similarity float64 `json:"similarity"`
}

// CompareBuffers compares channel 0 of two buffers at the same rate.
func CompareBuffers(reference, candidate *pcm.Buffer) (Metrics, error) {
	if reference == nil || candidate == nil || reference.NumChannels() == 0 || candidate.NumChannels() == 0 {
		return Metrics{}, fmt.Errorf("compare: empty buffer")
	}
	if reference.SampleRate != candidate.SampleRate {
		return Metrics{}, fmt.Errorf("compare: sample rate mismatch %d != %d", reference.SampleRate, candidate.SampleRate)
	}
	return Compare(widen(reference.Channel(0)), widen(candidate.Channel(0)), reference.SampleRate), nil
}

// Compare levels both signals to the same RMS, aligns the candidate to the
// reference and scores what is left.
func Compare(reference []float64, candidate []float64, sampleRate int) Metrics {
	m := Metrics{
		SampleRate:      sampleRate,
		ReferenceFrames: len(reference),
		CandidateFrames: len(candidate),
		Score:           1,
	}
	if sampleRate <= 0 || len(reference) == 0 || len(candidate) == 0 {
		return m
	}

	ref := scaledTo(reference, normTarget)
	cand := scaledTo(candidate, normTarget)
	maxLag := max(1, min(sampleRate/2, len(ref)-1, len(cand)-1))
	m.LagSamples = EstimateLag(cand, ref, maxLag)

	cand, ref = alignByLag(cand, ref, m.LagSamples)
	n := min(len(ref), len(cand))
	if n < minAligned {
		return m
	}
	ref, cand = ref[:n], cand[:n]
	m.AlignedFrames = n

	m.TimeRMSE = rmsDiff(ref, cand)
	m.EnvelopeRMSEDB = rmsDiff(envelopeDB(ref), envelopeDB(cand))
	m.SpectralRMSEDB = spectralRMSEDB(ref, cand)

	m.Score = clamp01(0.35*clamp01(m.TimeRMSE/0.25) +
		0.30*clamp01(m.EnvelopeRMSEDB/30) +
		0.35*clamp01(m.SpectralRMSEDB/30))
	m.Similarity = clamp01(math.Exp(-4 * m.Score))
	return m
}

// EstimateLag returns the lag in [-maxLag, maxLag] that maximizes
// sum a[i+lag]*b[i], computed as one FFT cross-correlation.
func EstimateLag(a []float64, b []float64, maxLag int) int {
	if len(a) == 0 || len(b) == 0 || maxLag < 0 {
		return 0
	}
	corr, err := crossCorrelate(a, b)
	if err != nil {
		return estimateLagDirect(a, b, maxLag)
	}
	size := len(corr)
	return argmaxLag(maxLag, func(lag int) float64 {
		idx := lag
		if idx < 0 {
			idx += size
		}
		if idx < 0 || idx >= size {
			return math.Inf(-1)
		}
		return real(corr[idx])
	})
}

// crossCorrelate returns the circular correlation of a and b, zero padded
// so that no lag wraps onto another.
func crossCorrelate(a []float64, b []float64) ([]complex128, error) {
	size := nextPow2(len(a) + len(b))
	plan, err := algofft.NewPlan64(size)
	if err != nil {
		return nil, err
	}
	fa, err := spectrum(plan, a, size)
	if err != nil {
		return nil, err
	}
	fb, err := spectrum(plan, b, size)
	if err != nil {
		return nil, err
	}
	for i := range fa {
		fa[i] *= cmplx.Conj(fb[i])
	}
	corr := make([]complex128, size)
	if err := plan.Inverse(corr, fa); err != nil {
		return nil, err
	}
	return corr, nil
}

func spectrum(plan *algofft.Plan[complex128], x []float64, size int) ([]complex128, error) {
	in := make([]complex128, size)
	for i, v := range x {
		in[i] = complex(v, 0)
	}
	out := make([]complex128, size)
	if err := plan.Forward(out, in); err != nil {
		return nil, err
	}
	return out, nil
}

func estimateLagDirect(a []float64, b []float64, maxLag int) int {
	return argmaxLag(maxLag, func(lag int) float64 { return dotAtLag(a, b, lag) })
}

func argmaxLag(maxLag int, score func(lag int) float64) int {
	bestLag := 0
	best := math.Inf(-1)
	for lag := -maxLag; lag <= maxLag; lag++ {
		if s := score(lag); s > best {
			best, bestLag = s, lag
		}
	}
	return bestLag
}

func dotAtLag(a []float64, b []float64, lag int) float64 {
	ai, bi := max(lag, 0), max(-lag, 0)
	n := min(len(a)-ai, len(b)-bi)
	var sum float64
	for i := range n {
		sum += a[ai+i] * b[bi+i]
	}
	return sum
}

// alignByLag drops the leading lag samples of a (or of b for negative lag).
func alignByLag(a []float64, b []float64, lag int) ([]float64, []float64) {
	if lag >= 0 {
		if lag >= len(a) {
			return nil, nil
		}
		return a[lag:], b
	}
	if -lag >= len(b) {
		return nil, nil
	}
	return a, b[-lag:]
}

// scaledTo returns a copy of x with RMS equal to target. Silent input is
// copied as is.
func scaledTo(x []float64, target float64) []float64 {
	out := append([]float64(nil), x...)
	r := rms(x)
	if r <= floorLin {
		return out
	}
	g := target / r
	for i := range out {
		out[i] *= g
	}
	return out
}

func rms(x []float64) float64 {
	if len(x) == 0 {
		return 0
	}
	var sum float64
	for _, v := range x {
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(x)))
}

// rmsDiff is the RMS of a-b over their common length.
func rmsDiff(a []float64, b []float64) float64 {
	n := min(len(a), len(b))
	if n == 0 {
		return 0
	}
	var sum float64
	for i := range n {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum / float64(n))
}

// envelopeDB is the short-term loudness of x in dB, one value per hop.
func envelopeDB(x []float64) []float64 {
	if len(x) < envFrame {
		return nil
	}
	out := make([]float64, 1+(len(x)-envFrame)/envHop)
	for i := range out {
		at := i * envHop
		out[i] = toDB(rms(x[at : at+envFrame]))
	}
	return out
}

// spectralRMSEDB compares Hann-windowed magnitude spectra of the first
// power-of-two block of a and b.
func spectralRMSEDB(a []float64, b []float64) float64 {
	n := min(len(a), len(b))
	if n < minSpecBlock {
		return 0
	}
	n = min(prevPow2(n), maxSpecBlock)
	plan, err := algofft.NewPlanReal64(n)
	if err != nil {
		return 0
	}
	w, err := window.Hann(n)
	if err != nil {
		return 0
	}
	transform := func(x []float64) []complex128 {
		in := make([]float64, n)
		for i := range in {
			in[i] = x[i] * w[i]
		}
		out := make([]complex128, n/2+1)
		plan.Forward(out, in)
		return out
	}
	sa, sb := transform(a), transform(b)

	bins := n / 2
	var sum float64
	for k := 1; k < bins; k++ {
		d := toDB(cmplx.Abs(sa[k])) - toDB(cmplx.Abs(sb[k]))
		sum += d * d
	}
	return math.Sqrt(sum / float64(bins-1))
}

func toDB(x float64) float64 {
	return 20 * math.Log10(max(x, floorLin))
}

func clamp01(x float64) float64 {
	return min(max(x, 0), 1)
}

func nextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

func prevPow2(n int) int {
	p := 1
	for p*2 <= n {
		p <<= 1
	}
	return p
}

func widen(in []float32) []float64 {
	out := make([]float64, len(in))
	for i, v := range in {
		out[i] = float64(v)
	}
	return out
}
