// Package pitchtrack turns a recording into a time-stamped sequence of
// fundamental frequency estimates, one per fixed-size analysis frame.
package pitchtrack

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"sync"

	"github.com/cwbudde/algo-pitchedit/pcm"
)

// Unvoiced is the frequency recorded for frames without a detectable pitch.
// It is never zero so that log-frequency math downstream stays defined.
const Unvoiced = 1.0

// Sample is the pitch estimate of one analysis frame. Start and End are in
// seconds; StartSample and EndSample index the analyzed buffer.
type Sample struct {
	Frequency   float64 `json:"frequency"`
	Start       float64 `json:"start"`
	End         float64 `json:"end"`
	StartSample int     `json:"start_sample"`
	EndSample   int     `json:"end_sample"`
}

// Voiced reports whether the frame had a detectable pitch.
func (s Sample) Voiced() bool { return s.Frequency != Unvoiced }

// Detector estimates the fundamental of a single frame. It must not keep
// state between calls; the extractor calls it from several goroutines.
type Detector interface {
	Detect(frame []float32, sampleRate int) (freq float64, ok bool)
}

// DetectorFunc adapts a plain function to Detector.
type DetectorFunc func(frame []float32, sampleRate int) (float64, bool)

// Detect calls f.
func (f DetectorFunc) Detect(frame []float32, sampleRate int) (float64, bool) {
	return f(frame, sampleRate)
}

// Extractor frames channel 0 of a buffer by tempo and quantization and runs
// the detector on every frame independently.
type Extractor struct {
	detector     Detector
	tempo        float64
	quantization float64
	workers      int
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithWorkers sets the number of concurrent detector calls; 0 uses
// GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(e *Extractor) { e.workers = n }
}

// NewExtractor creates an extractor. tempo is in BPM and quantization in
// frames per beat.
func NewExtractor(d Detector, tempo, quantization float64, opts ...Option) (*Extractor, error) {
	if d == nil {
		return nil, fmt.Errorf("nil detector")
	}
	if !isFinitePositive(tempo) {
		return nil, fmt.Errorf("tempo must be positive and finite: %f", tempo)
	}
	if !isFinitePositive(quantization) {
		return nil, fmt.Errorf("quantization must be positive and finite: %f", quantization)
	}
	e := &Extractor{detector: d, tempo: tempo, quantization: quantization}
	for _, opt := range opts {
		opt(e)
	}
	if e.workers < 0 {
		return nil, fmt.Errorf("workers must be >= 0: %d", e.workers)
	}
	return e, nil
}

// Tempo returns the configured tempo in BPM.
func (e *Extractor) Tempo() float64 { return e.tempo }

// Quantization returns the configured frames per beat.
func (e *Extractor) Quantization() float64 { return e.quantization }

// FrameLength returns the analysis frame length in samples:
// floor(sampleRate * 60 / (tempo * quantization)).
func FrameLength(sampleRate int, tempo, quantization float64) int {
	return int(math.Floor(float64(sampleRate) * 60 / (tempo * quantization)))
}

// Extract analyzes buf from its first sample.
func (e *Extractor) Extract(ctx context.Context, buf *pcm.Buffer) ([]Sample, error) {
	return e.ExtractFrom(ctx, buf, 0)
}

// ExtractFrom analyzes buf starting offset samples in. Reported times stay
// relative to the first analyzed frame, so a render that lags its schedule
// by offset samples lines up with the schedule again. Trailing samples that
// do not fill a frame are dropped.
func (e *Extractor) ExtractFrom(ctx context.Context, buf *pcm.Buffer, offset int) ([]Sample, error) {
	if buf == nil || buf.NumChannels() == 0 {
		return nil, fmt.Errorf("empty buffer")
	}
	if offset < 0 {
		return nil, fmt.Errorf("negative offset: %d", offset)
	}
	frameLen := FrameLength(buf.SampleRate, e.tempo, e.quantization)
	if frameLen < 1 {
		return nil, fmt.Errorf("frame length %d too short (rate=%d tempo=%f quantization=%f)",
			frameLen, buf.SampleRate, e.tempo, e.quantization)
	}
	data := buf.Channel(0)
	avail := len(data) - offset
	if avail < 0 {
		avail = 0
	}
	count := avail / frameLen
	out := make([]Sample, count)
	if count == 0 {
		return out, nil
	}

	sr := float64(buf.SampleRate)
	analyze := func(i int) {
		start := offset + i*frameLen
		end := start + frameLen
		freq, ok := e.detector.Detect(data[start:end], buf.SampleRate)
		if !ok || !isFinitePositive(freq) {
			freq = Unvoiced
		}
		out[i] = Sample{
			Frequency:   freq,
			Start:       float64(i*frameLen) / sr,
			End:         float64((i+1)*frameLen) / sr,
			StartSample: start,
			EndSample:   end,
		}
	}

	workers := e.workers
	if workers == 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if workers > count {
		workers = count
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				analyze(i)
			}
		}()
	}

	var err error
feed:
	for i := 0; i < count; i++ {
		select {
		case <-ctx.Done():
			err = ctx.Err()
			break feed
		case jobs <- i:
		}
	}
	close(jobs)
	wg.Wait()
	if err != nil {
		return nil, err
	}
	return out, nil
}

func isFinitePositive(v float64) bool {
	return v > 0 && !math.IsNaN(v) && !math.IsInf(v, 0)
}
