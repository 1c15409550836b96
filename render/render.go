// Package render re-synthesizes a recording with per-clip pitch shifts.
package render

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/cwbudde/algo-pitchedit/internal/log"
	"github.com/cwbudde/algo-pitchedit/pcm"
	"github.com/cwbudde/algo-pitchedit/segment"
)

// ErrRender marks a failed render. No partial buffer accompanies it.
var ErrRender = errors.New("render failed")

// Event changes the shift in effect from Time (seconds) on.
type Event struct {
	Time      float64 `json:"time"`
	Semitones float64 `json:"semitones"`
}

// Shifter is the pitch-shift oracle: it renders one channel against a
// schedule and returns a slice of the same length. The shift before the
// first event is zero and each event holds until the next one.
type Shifter interface {
	Shift(ctx context.Context, samples []float32, sampleRate int, events []Event) ([]float32, error)
	// Latency is the delay in samples between a scheduled change and the
	// point where the output reflects it.
	Latency(sampleRate int) int
}

// Schedule lists the shift events for clips in time order. Clips without a
// transpose are skipped unless all is set, so the previous shift carries
// through them.
func Schedule(clips []segment.Clip, all bool) []Event {
	events := make([]Event, 0, len(clips))
	for _, c := range clips {
		if c.Transpose == 0 && !all {
			continue
		}
		events = append(events, Event{Time: c.Start, Semitones: c.Transpose})
	}
	sort.SliceStable(events, func(i, j int) bool { return events[i].Time < events[j].Time })
	return events
}

// Result is a finished render.
type Result struct {
	Buffer  *pcm.Buffer
	Events  []Event
	Latency int
}

// Renderer drives a Shifter over every channel of a source buffer.
type Renderer struct {
	shifter     Shifter
	scheduleAll bool
}

// Option configures a Renderer.
type Option func(*Renderer)

// WithScheduleAll schedules every clip, zero transposes included, so each
// clip boundary resets the shift.
func WithScheduleAll(on bool) Option {
	return func(r *Renderer) { r.scheduleAll = on }
}

// New creates a renderer around shifter.
func New(shifter Shifter, opts ...Option) (*Renderer, error) {
	if shifter == nil {
		return nil, fmt.Errorf("nil shifter")
	}
	r := &Renderer{shifter: shifter}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Latency reports the shifter delay at sampleRate.
func (r *Renderer) Latency(sampleRate int) int { return r.shifter.Latency(sampleRate) }

// Render produces a new buffer with the source's duration, sample rate and
// channel count. src is never modified.
func (r *Renderer) Render(ctx context.Context, src *pcm.Buffer, clips []segment.Clip) (*Result, error) {
	if src == nil || src.NumChannels() == 0 || src.SampleRate <= 0 {
		return nil, fmt.Errorf("%w: empty source", ErrRender)
	}
	events := Schedule(clips, r.scheduleAll)
	log.Debugf("render: %d clips, %d events, %d channels", len(clips), len(events), src.NumChannels())

	chans := make([][]float32, src.NumChannels())
	for c, ch := range src.Channels {
		out, err := r.shifter.Shift(ctx, ch, src.SampleRate, events)
		if err != nil {
			return nil, fmt.Errorf("%w: channel %d: %w", ErrRender, c, err)
		}
		if len(out) != len(ch) {
			return nil, fmt.Errorf("%w: channel %d: shifter returned %d samples, want %d",
				ErrRender, c, len(out), len(ch))
		}
		chans[c] = out
	}
	buf, err := pcm.New(src.SampleRate, chans...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRender, err)
	}
	return &Result{
		Buffer:  buf,
		Events:  events,
		Latency: r.shifter.Latency(src.SampleRate),
	}, nil
}
