package pitchtrack

import (
	"math"

	algofft "github.com/cwbudde/algo-fft"
	"github.com/cwbudde/algo-pitchedit/dsp"
)

const (
	defaultYINThreshold  = 0.15
	defaultMinFrequency  = 40.0
	defaultMaxFrequency  = 2000.0
	defaultSilenceRMS    = 1e-3
	prefilterQ           = 0.707
	minPeriodSearchStart = 2
)

// YIN is a Detector based on the cumulative mean normalized difference
// function. The difference function is computed through an FFT correlation,
// so frames of several thousand samples stay cheap.
//
// A YIN value is read-only after construction and safe for concurrent use.
type YIN struct {
	// Threshold is the aperiodicity accepted for a candidate period.
	Threshold float64
	// MinFrequency and MaxFrequency bound the reported pitch in Hz.
	MinFrequency float64
	MaxFrequency float64
	// SilenceRMS gates frames that are too quiet to analyze.
	SilenceRMS float64
	// HighpassHz removes rumble below it before analysis when > 0.
	HighpassHz float64
	// PrefilterHz applies a low-pass before analysis when > 0.
	PrefilterHz float64
}

// NewYIN returns a detector with voice-range defaults.
func NewYIN() *YIN {
	return &YIN{
		Threshold:    defaultYINThreshold,
		MinFrequency: defaultMinFrequency,
		MaxFrequency: defaultMaxFrequency,
		SilenceRMS:   defaultSilenceRMS,
	}
}

// Detect implements Detector.
func (y *YIN) Detect(frame []float32, sampleRate int) (float64, bool) {
	if len(frame) < 2*minPeriodSearchStart+2 || sampleRate <= 0 {
		return 0, false
	}
	x := y.condition(frame, sampleRate)
	if rms(x) < y.SilenceRMS {
		return 0, false
	}

	sr := float64(sampleRate)
	window := len(x) / 2
	maxTau := window
	if y.MinFrequency > 0 {
		if lim := int(math.Ceil(sr / y.MinFrequency)); lim < maxTau {
			maxTau = lim
		}
	}
	minTau := minPeriodSearchStart
	if y.MaxFrequency > 0 {
		if lim := int(math.Floor(sr / y.MaxFrequency)); lim > minTau {
			minTau = lim
		}
	}
	if maxTau <= minTau+1 {
		return 0, false
	}

	d, ok := differenceFunction(x, window, maxTau)
	if !ok {
		return 0, false
	}
	cumulativeMeanNormalize(d)

	tau := absoluteThreshold(d, minTau, y.Threshold)
	if tau < 0 {
		return 0, false
	}
	period := parabolicInterpolation(d, tau)
	if period <= 0 {
		return 0, false
	}
	freq := sr / period
	if (y.MinFrequency > 0 && freq < y.MinFrequency) || (y.MaxFrequency > 0 && freq > y.MaxFrequency) {
		return 0, false
	}
	return freq, true
}

func (y *YIN) condition(frame []float32, sampleRate int) []float32 {
	var mean float64
	for _, v := range frame {
		mean += float64(v)
	}
	mean /= float64(len(frame))
	x := make([]float32, len(frame))
	for i, v := range frame {
		x[i] = v - float32(mean)
	}
	nyquist := float64(sampleRate) / 2
	if y.HighpassHz > 0 && y.HighpassHz < nyquist {
		x = dsp.NewHighpass(float32(y.HighpassHz), float32(sampleRate), prefilterQ).ProcessBlock(x)
	}
	if y.PrefilterHz > 0 && y.PrefilterHz < nyquist {
		x = dsp.NewLowpass(float32(y.PrefilterHz), float32(sampleRate), prefilterQ).ProcessBlock(x)
	}
	return x
}

// differenceFunction returns d(tau) = sum_j (x[j]-x[j+tau])^2 for j in
// [0,window) and tau in [0,maxTau), expanded into energy terms and a
// correlation taken from one real convolution.
func differenceFunction(x []float32, window, maxTau int) ([]float64, bool) {
	n := window + maxTau
	if n > len(x) {
		n = len(x)
		maxTau = n - window
	}
	rev := make([]float32, window)
	for i := range rev {
		rev[i] = x[window-1-i]
	}
	conv := make([]float32, window+n-1)
	if err := algofft.ConvolveReal(conv, rev, x[:n]); err != nil {
		return nil, false
	}

	prefix := make([]float64, n+1)
	for i := 0; i < n; i++ {
		v := float64(x[i])
		prefix[i+1] = prefix[i] + v*v
	}
	e0 := prefix[window]

	d := make([]float64, maxTau)
	for tau := 1; tau < maxTau; tau++ {
		eTau := prefix[tau+window] - prefix[tau]
		v := e0 + eTau - 2*float64(conv[window-1+tau])
		if v < 0 {
			v = 0
		}
		d[tau] = v
	}
	return d, true
}

func cumulativeMeanNormalize(d []float64) {
	d[0] = 1
	running := 0.0
	for tau := 1; tau < len(d); tau++ {
		running += d[tau]
		if running <= 0 {
			d[tau] = 1
			continue
		}
		d[tau] *= float64(tau) / running
	}
}

// absoluteThreshold returns the first dip below threshold, walked down to its
// local minimum, or -1.
func absoluteThreshold(d []float64, minTau int, threshold float64) int {
	for tau := minTau; tau < len(d); tau++ {
		if d[tau] < threshold {
			for tau+1 < len(d) && d[tau+1] < d[tau] {
				tau++
			}
			return tau
		}
	}
	return -1
}

func parabolicInterpolation(d []float64, tau int) float64 {
	if tau < 1 || tau+1 >= len(d) {
		return float64(tau)
	}
	s0, s1, s2 := d[tau-1], d[tau], d[tau+1]
	den := 2 * (2*s1 - s2 - s0)
	if math.Abs(den) < 1e-12 {
		return float64(tau)
	}
	return float64(tau) + (s2-s0)/den
}

func rms(x []float32) float64 {
	if len(x) == 0 {
		return 0
	}
	var sum float64
	for _, v := range x {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum / float64(len(x)))
}
