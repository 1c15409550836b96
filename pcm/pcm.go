// Package pcm holds decoded, de-interleaved audio in memory.
package pcm

import "fmt"

// Buffer is a decoded multi-channel recording. All channels have equal
// length. Buffers are treated as read-only once handed to the pipeline.
type Buffer struct {
	Channels   [][]float32
	SampleRate int
}

// New builds a buffer from one or more equally long channels.
func New(sampleRate int, channels ...[]float32) (*Buffer, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate: %d", sampleRate)
	}
	if len(channels) == 0 {
		return nil, fmt.Errorf("buffer needs at least one channel")
	}
	n := len(channels[0])
	for i, ch := range channels {
		if len(ch) != n {
			return nil, fmt.Errorf("channel %d length %d != %d", i, len(ch), n)
		}
	}
	return &Buffer{Channels: channels, SampleRate: sampleRate}, nil
}

// Mono wraps a single channel.
func Mono(samples []float32, sampleRate int) *Buffer {
	return &Buffer{Channels: [][]float32{samples}, SampleRate: sampleRate}
}

// NumChannels returns the channel count.
func (b *Buffer) NumChannels() int { return len(b.Channels) }

// Len returns the length in sample frames.
func (b *Buffer) Len() int {
	if b == nil || len(b.Channels) == 0 {
		return 0
	}
	return len(b.Channels[0])
}

// Duration returns the length in seconds.
func (b *Buffer) Duration() float64 {
	if b == nil || b.SampleRate <= 0 {
		return 0
	}
	return float64(b.Len()) / float64(b.SampleRate)
}

// Channel returns channel i, the one the analysis reads being channel 0.
func (b *Buffer) Channel(i int) []float32 {
	if i < 0 || i >= len(b.Channels) {
		return nil
	}
	return b.Channels[i]
}

// Clone returns a deep copy.
func (b *Buffer) Clone() *Buffer {
	out := &Buffer{SampleRate: b.SampleRate, Channels: make([][]float32, len(b.Channels))}
	for i, ch := range b.Channels {
		out.Channels[i] = append([]float32(nil), ch...)
	}
	return out
}

// Interleave returns the samples frame by frame, channel by channel.
func (b *Buffer) Interleave() []float32 {
	numCh := b.NumChannels()
	frames := b.Len()
	out := make([]float32, frames*numCh)
	for c, ch := range b.Channels {
		for i := range frames {
			out[i*numCh+c] = ch[i]
		}
	}
	return out
}

// Deinterleave splits frame-interleaved samples into a buffer.
func Deinterleave(data []float32, numChannels int, sampleRate int) (*Buffer, error) {
	if numChannels < 1 {
		return nil, fmt.Errorf("invalid channel count: %d", numChannels)
	}
	frames := len(data) / numChannels
	chans := make([][]float32, numChannels)
	for c := range chans {
		chans[c] = make([]float32, frames)
	}
	for i := range frames {
		for c := 0; c < numChannels; c++ {
			chans[c][i] = data[i*numChannels+c]
		}
	}
	return New(sampleRate, chans...)
}

// SecondsToSample converts a time to the nearest sample index.
func (b *Buffer) SecondsToSample(sec float64) int {
	return int(sec*float64(b.SampleRate) + 0.5)
}
