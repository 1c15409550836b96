// Package session implements the edit session controller: it owns the
// source recording, the current render and the clip layout, applies
// transpose edits and keeps at most one render in flight.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cwbudde/algo-pitchedit/clipstore"
	"github.com/cwbudde/algo-pitchedit/internal/log"
	"github.com/cwbudde/algo-pitchedit/pcm"
	"github.com/cwbudde/algo-pitchedit/pitchtrack"
	"github.com/cwbudde/algo-pitchedit/playback"
	"github.com/cwbudde/algo-pitchedit/segment"
)

var (
	// ErrClosed is returned by calls on a closed controller.
	ErrClosed = errors.New("session closed")
	// ErrBusy is returned when the source is replaced during a render.
	ErrBusy = errors.New("render in progress")
	// ErrNoTransport is returned by TogglePlayback without a transport.
	ErrNoTransport = errors.New("no playback transport")
)

// State is the controller state.
type State int

const (
	Idle State = iota
	Rendering
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Rendering:
		return "rendering"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Snapshot is a consistent view of the session. Buffer, Track and Clips
// always come from the same committed render, so while Rendering the clip
// transposes do not yet show the edits being rendered.
type Snapshot struct {
	Version int
	State   State
	Source  *pcm.Buffer
	Buffer  *pcm.Buffer
	Track   []pitchtrack.Sample
	Clips   []segment.Clip
	// Err is the failure of the last render, cleared by the next commit.
	Err error
}

// Controller is safe for concurrent use.
type Controller struct {
	pipeline  Pipeline
	transport *playback.Transport
	listeners []func(Snapshot)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	state     State
	pending   bool
	closed    bool
	idle      chan struct{}
	version   int
	source    *pcm.Buffer
	buffer    *pcm.Buffer
	track     []pitchtrack.Sample
	store     *clipstore.Store
	committed []segment.Clip
	lastErr   error
}

// Option configures a Controller.
type Option func(*Controller)

// WithListener registers fn to receive a snapshot after every commit and
// every failed render. fn runs on the render goroutine. Wait is released
// before fn sees an Idle snapshot, so fn may call Wait then; with a Rendering
// snapshot a follow-up render is queued behind fn and Wait would block it.
func WithListener(fn func(Snapshot)) Option {
	return func(c *Controller) { c.listeners = append(c.listeners, fn) }
}

// WithTransport connects a playback transport. It is handed every newly
// committed buffer.
func WithTransport(t *playback.Transport) Option {
	return func(c *Controller) { c.transport = t }
}

// New analyzes src and starts an idle session on it.
func New(ctx context.Context, src *pcm.Buffer, p Pipeline, opts ...Option) (*Controller, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	c := &Controller{pipeline: p}
	for _, opt := range opts {
		opt(c)
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.idle = make(chan struct{})
	close(c.idle)

	track, clips, err := c.analyze(ctx, src, 0)
	if err != nil {
		c.cancel()
		return nil, err
	}
	c.install(src, track, clips)
	return c, nil
}

// SetSource replaces the recording and starts over with a fresh layout.
// It fails with ErrBusy while a render is in flight.
func (c *Controller) SetSource(ctx context.Context, src *pcm.Buffer) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.state != Idle {
		c.mu.Unlock()
		return ErrBusy
	}
	c.mu.Unlock()

	track, clips, err := c.analyze(ctx, src, 0)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.state != Idle {
		c.mu.Unlock()
		return ErrBusy
	}
	c.install(src, track, clips)
	c.mu.Unlock()
	c.notify()
	return nil
}

// install must be called with mu held or before the controller is shared.
func (c *Controller) install(src *pcm.Buffer, track []pitchtrack.Sample, clips []segment.Clip) {
	c.source = src
	c.buffer = src
	c.track = track
	c.store = clipstore.New(clips, clipstore.WithPreservedIDs(c.pipeline.PreserveIDs))
	c.committed = c.store.Snapshot()
	c.lastErr = nil
	c.version++
	if c.transport != nil {
		c.transport.SetBuffer(src)
	}
}

// Transpose sets the transpose of clip id and schedules a render. While a
// render is running the request is folded into exactly one follow-up
// render using the latest amounts.
func (c *Controller) Transpose(id int, amount float64) (segment.Clip, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return segment.Clip{}, ErrClosed
	}
	clip, err := c.store.Transpose(id, amount)
	if err != nil {
		return segment.Clip{}, err
	}
	log.Debugf("session: clip %d -> %+.2f st", id, amount)
	c.scheduleLocked()
	return clip, nil
}

// TransposeAll applies several amounts at once. Either every id is known
// and one render is scheduled, or nothing changes.
func (c *Controller) TransposeAll(amounts map[int]float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if len(amounts) == 0 {
		return nil
	}
	before := c.store.Snapshot()
	for id, amount := range amounts {
		if _, err := c.store.Transpose(id, amount); err != nil {
			c.store.Restore(before)
			return err
		}
	}
	log.Debugf("session: %d clips transposed", len(amounts))
	c.scheduleLocked()
	return nil
}

// scheduleLocked starts the render goroutine, or marks a follow-up render
// when one is already running.
func (c *Controller) scheduleLocked() {
	if c.state == Rendering {
		c.pending = true
		log.Debugf("session: queued behind running render")
		return
	}
	c.state = Rendering
	c.idle = make(chan struct{})
	c.wg.Add(1)
	go c.renderLoop()
}

// Snapshot returns the current consistent view.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() Snapshot {
	return Snapshot{
		Version: c.version,
		State:   c.state,
		Source:  c.source,
		Buffer:  c.buffer,
		Track:   append([]pitchtrack.Sample(nil), c.track...),
		Clips:   append([]segment.Clip(nil), c.committed...),
		Err:     c.lastErr,
	}
}

// Wait blocks until no render is in flight and returns the resulting
// snapshot.
func (c *Controller) Wait(ctx context.Context) (Snapshot, error) {
	c.mu.Lock()
	idle := c.idle
	c.mu.Unlock()
	select {
	case <-idle:
		return c.Snapshot(), nil
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

// TogglePlayback forwards to the transport and reports the new play state.
func (c *Controller) TogglePlayback() (bool, error) {
	if c.transport == nil {
		return false, ErrNoTransport
	}
	return c.transport.Toggle(), nil
}

// Close cancels a running render and waits for it to wind down.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	c.cancel()
	c.wg.Wait()
	return nil
}

func (c *Controller) renderLoop() {
	defer c.wg.Done()
	for {
		c.mu.Lock()
		c.pending = false
		src := c.source
		clips := c.store.Snapshot()
		c.mu.Unlock()

		buf, track, next, err := c.renderOnce(src, clips)

		c.mu.Lock()
		if err != nil {
			// Edits made during the failed render are still queued.
			c.store.Revert(clips, c.committed)
			c.lastErr = err
			log.Warnf("session: %v; keeping previous render", err)
		} else {
			c.buffer = buf
			c.track = track
			c.committed = rendered(c.store.Replace(next), clips)
			c.lastErr = nil
			c.version++
			if c.transport != nil {
				c.transport.SetBuffer(buf)
			}
			log.Debugf("session: committed version %d with %d clips", c.version, len(c.committed))
		}
		if c.pending && !c.closed {
			c.mu.Unlock()
			c.notify()
			continue
		}
		c.state = Idle
		done := c.idle
		c.mu.Unlock()
		close(done)
		c.notify()
		return
	}
}

// rendered gives each clip of layout the transpose it was rendered with:
// that of the attempted clip it overlaps most.
func rendered(layout, attempted []segment.Clip) []segment.Clip {
	for i := range layout {
		var most float64
		for _, a := range attempted {
			if ov := layout[i].Overlap(a); ov > most {
				most = ov
				layout[i].Transpose = a.Transpose
			}
		}
	}
	return layout
}

func (c *Controller) renderOnce(src *pcm.Buffer, clips []segment.Clip) (*pcm.Buffer, []pitchtrack.Sample, []segment.Clip, error) {
	res, err := c.pipeline.Renderer.Render(c.ctx, src, clips)
	if err != nil {
		return nil, nil, nil, err
	}
	track, next, err := c.analyze(c.ctx, res.Buffer, res.Latency)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("analyze render: %w", err)
	}
	return res.Buffer, track, next, nil
}

func (c *Controller) analyze(ctx context.Context, buf *pcm.Buffer, offset int) ([]pitchtrack.Sample, []segment.Clip, error) {
	track, err := c.pipeline.Extractor.ExtractFrom(ctx, buf, offset)
	if err != nil {
		return nil, nil, err
	}
	clips, err := c.pipeline.Segmenter.Segment(track, buf)
	if err != nil {
		return nil, nil, err
	}
	return track, clips, nil
}

func (c *Controller) notify() {
	if len(c.listeners) == 0 {
		return
	}
	snap := c.Snapshot()
	for _, fn := range c.listeners {
		fn(snap)
	}
}
