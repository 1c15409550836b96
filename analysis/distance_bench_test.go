package analysis

import (
	"math"
	"testing"

	"github.com/cwbudde/algo-pitchedit/pitchtrack"
)

// benchmarkPair is a two-partial tone and the same tone a semitone up,
// the kind of pair a transpose render is checked against.
func benchmarkPair(n int) ([]float64, []float64) {
	const sr = 44100.0
	up := math.Pow(2, 1.0/12)
	ref := make([]float64, n)
	cand := make([]float64, n)
	for i := range n {
		t := float64(i) / sr
		ref[i] = 0.6*math.Sin(2*math.Pi*220*t) + 0.2*math.Sin(2*math.Pi*440*t)
		cand[i] = 0.6*math.Sin(2*math.Pi*220*up*t) + 0.2*math.Sin(2*math.Pi*440*up*t)
	}
	return ref, cand
}

func BenchmarkCompare(b *testing.B) {
	ref, cand := benchmarkPair(44100 * 2)
	b.ReportAllocs()
	for b.Loop() {
		_ = Compare(ref, cand, 44100)
	}
}

func BenchmarkEstimateLag(b *testing.B) {
	ref, cand := benchmarkPair(44100)
	for _, bc := range []struct {
		name string
		fn   func([]float64, []float64, int) int
	}{
		{"fft", EstimateLag},
		{"direct", estimateLagDirect},
	} {
		b.Run(bc.name, func(b *testing.B) {
			b.ReportAllocs()
			for b.Loop() {
				_ = bc.fn(cand, ref, 1024)
			}
		})
	}
}

func BenchmarkSpectralRMSEDB(b *testing.B) {
	ref, cand := benchmarkPair(maxSpecBlock)
	b.ReportAllocs()
	for b.Loop() {
		_ = spectralRMSEDB(ref, cand)
	}
}

func BenchmarkComparePitch(b *testing.B) {
	ref := make([]pitchtrack.Sample, 4000)
	cand := make([]pitchtrack.Sample, len(ref))
	for i := range ref {
		ref[i].Frequency = 220 + float64(i%50)
		cand[i].Frequency = ref[i].Frequency * 1.01
		if i%7 == 0 {
			cand[i].Frequency = pitchtrack.Unvoiced
		}
	}
	b.ReportAllocs()
	for b.Loop() {
		_ = ComparePitch(ref, cand)
	}
}
