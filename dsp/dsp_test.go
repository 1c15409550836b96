package dsp

import (
	"math"
	"testing"
)

func sine(freq, sampleRate float64, n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(math.Sin(2 * math.Pi * freq * float64(i) / sampleRate))
	}
	return out
}

func rms(x []float32) float64 {
	var sum float64
	for _, v := range x {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum / float64(len(x)))
}

func TestLowpassAttenuatesHighFrequencies(t *testing.T) {
	const sr = 48000
	lp := NewLowpass(1000, sr, 0.707)
	low := lp.ProcessBlock(sine(200, sr, 9600))
	lp.Reset()
	high := lp.ProcessBlock(sine(12000, sr, 9600))

	lowRMS := rms(low[4800:])
	highRMS := rms(high[4800:])
	if lowRMS < 0.6 {
		t.Fatalf("passband rms too low: %f", lowRMS)
	}
	if highRMS > 0.05 {
		t.Fatalf("stopband rms too high: %f", highRMS)
	}
}

func TestHighpassRemovesDC(t *testing.T) {
	const sr = 44100
	hp := NewHighpass(20, sr, 0.707)
	in := make([]float32, sr)
	for i := range in {
		in[i] = 0.5
	}
	out := hp.ProcessBlock(in)
	if math.Abs(float64(out[len(out)-1])) > 1e-3 {
		t.Fatalf("DC not removed, last sample %f", out[len(out)-1])
	}
}

func TestResetClearsState(t *testing.T) {
	lp := NewLowpass(500, 48000, 0.707)
	_ = lp.ProcessBlock([]float32{1, 1, 1, 1})
	lp.Reset()
	if out := lp.Process(0); out != 0 {
		t.Fatalf("expected silence after reset, got %f", out)
	}
}

func TestFlushDenormals(t *testing.T) {
	if FlushDenormals(1e-35) != 0 {
		t.Fatalf("expected denormal flushed")
	}
	if FlushDenormals(0.25) != 0.25 {
		t.Fatalf("expected normal value preserved")
	}
}
