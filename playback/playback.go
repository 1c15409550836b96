// Package playback provides the transport shared by the views of an edit
// session: play state and playhead position over the current buffer.
// It keeps time only; audio output belongs to the caller.
package playback

import (
	"math"
	"sync"
	"time"

	"github.com/cwbudde/algo-pitchedit/pcm"
)

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Transport is safe for concurrent use.
type Transport struct {
	mu        sync.Mutex
	clock     Clock
	buf       *pcm.Buffer
	playing   bool
	startedAt time.Time
	offset    float64
}

// NewTransport creates a stopped transport. A nil clock uses wall time.
func NewTransport(clock Clock) *Transport {
	if clock == nil {
		clock = systemClock{}
	}
	return &Transport{clock: clock}
}

// SetBuffer swaps the buffer being played. The playhead keeps its time.
func (t *Transport) SetBuffer(buf *pcm.Buffer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = buf
}

// Buffer returns the buffer being played.
func (t *Transport) Buffer() *pcm.Buffer {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.buf
}

// Toggle starts or pauses playback and reports whether it is now playing.
// Without a buffer it stays stopped.
func (t *Transport) Toggle() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.playing {
		t.offset = t.positionLocked()
		t.playing = false
		return false
	}
	if t.buf == nil || t.buf.Len() == 0 {
		return false
	}
	t.startedAt = t.clock.Now()
	t.playing = true
	return true
}

// Playing reports the play state.
func (t *Transport) Playing() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.playing
}

// Seek moves the playhead to sec, wrapped into the buffer duration.
func (t *Transport) Seek(sec float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.offset = t.wrap(sec)
	t.startedAt = t.clock.Now()
}

// Position returns the playhead in seconds. Playback loops, so the value
// wraps modulo the buffer duration.
func (t *Transport) Position() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.positionLocked()
}

func (t *Transport) positionLocked() float64 {
	pos := t.offset
	if t.playing {
		pos += t.clock.Now().Sub(t.startedAt).Seconds()
	}
	return t.wrap(pos)
}

func (t *Transport) wrap(sec float64) float64 {
	d := t.buf.Duration()
	if d <= 0 || math.IsNaN(sec) {
		return 0
	}
	sec = math.Mod(sec, d)
	if sec < 0 {
		sec += d
	}
	return sec
}
