package session

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/cwbudde/algo-pitchedit/clipstore"
	"github.com/cwbudde/algo-pitchedit/pcm"
	"github.com/cwbudde/algo-pitchedit/pitchtrack"
	"github.com/cwbudde/algo-pitchedit/playback"
	"github.com/cwbudde/algo-pitchedit/preset"
	"github.com/cwbudde/algo-pitchedit/render"
	"github.com/cwbudde/algo-pitchedit/segment"
)

const (
	testRate     = 44100
	testFrameLen = 2205
)

// gateShifter returns its input, optionally blocking until released, and
// records every call. With scale set it multiplies the painted frequencies
// by each event's ratio; with delay set it delays its output and reports
// that as latency.
type gateShifter struct {
	mu        sync.Mutex
	calls     [][]render.Event
	active    int
	maxActive int

	started chan struct{}
	release chan struct{}
	fail    error
	failIf  func([]render.Event) error
	scale   bool
	delay   int
}

func (g *gateShifter) Shift(ctx context.Context, samples []float32, rate int, events []render.Event) ([]float32, error) {
	g.mu.Lock()
	g.calls = append(g.calls, events)
	g.active++
	if g.active > g.maxActive {
		g.maxActive = g.active
	}
	g.mu.Unlock()
	defer func() {
		g.mu.Lock()
		g.active--
		g.mu.Unlock()
	}()

	if g.started != nil {
		g.started <- struct{}{}
	}
	if g.release != nil {
		select {
		case <-g.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if g.fail != nil {
		return nil, g.fail
	}
	if g.failIf != nil {
		if err := g.failIf(events); err != nil {
			return nil, err
		}
	}
	out := append([]float32(nil), samples...)
	if g.scale {
		for i, e := range events {
			from := int(math.Round(e.Time * float64(rate)))
			to := len(out)
			if i+1 < len(events) {
				to = int(math.Round(events[i+1].Time * float64(rate)))
			}
			ratio := float32(math.Pow(2, e.Semitones/12))
			for j := from; j < to; j++ {
				out[j] *= ratio
			}
		}
	}
	if g.delay > 0 {
		delayed := make([]float32, len(out))
		copy(delayed[g.delay:], out)
		out = delayed
	}
	return out, nil
}

func (g *gateShifter) Latency(int) int { return g.delay }

func (g *gateShifter) recorded() ([][]render.Event, int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([][]render.Event(nil), g.calls...), g.maxActive
}

// painted fills each analysis frame with its frequency value; the test
// detector reads it back.
func painted(freqs ...float32) *pcm.Buffer {
	data := make([]float32, len(freqs)*testFrameLen)
	for i, f := range freqs {
		for j := 0; j < testFrameLen; j++ {
			data[i*testFrameLen+j] = f
		}
	}
	return pcm.Mono(data, testRate)
}

func twoNotes() *pcm.Buffer {
	freqs := make([]float32, 40)
	for i := range freqs {
		freqs[i] = 440
		if i >= 20 {
			freqs[i] = 880
		}
	}
	return painted(freqs...)
}

func testPipeline(t *testing.T, sh render.Shifter) Pipeline {
	t.Helper()
	det := pitchtrack.DetectorFunc(func(frame []float32, _ int) (float64, bool) {
		return float64(frame[0]), frame[0] > 0
	})
	ex, err := pitchtrack.NewExtractor(det, 120, 10)
	if err != nil {
		t.Fatalf("NewExtractor: %v", err)
	}
	seg, err := segment.New(nil)
	if err != nil {
		t.Fatalf("segment.New: %v", err)
	}
	r, err := render.New(sh)
	if err != nil {
		t.Fatalf("render.New: %v", err)
	}
	return Pipeline{Extractor: ex, Segmenter: seg, Renderer: r, PreserveIDs: true}
}

func newTestController(t *testing.T, sh render.Shifter, opts ...Option) *Controller {
	t.Helper()
	c, err := New(context.Background(), twoNotes(), testPipeline(t, sh), opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func wait(t *testing.T, c *Controller) Snapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	snap, err := c.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	return snap
}

func TestNewAnalyzesSource(t *testing.T) {
	c := newTestController(t, &gateShifter{})
	snap := c.Snapshot()
	if snap.State != Idle || snap.Version != 1 || snap.Buffer != snap.Source {
		t.Fatalf("initial snapshot = %+v", snap)
	}
	if len(snap.Track) != 40 || len(snap.Clips) != 2 {
		t.Fatalf("track=%d clips=%d, want 40 and 2", len(snap.Track), len(snap.Clips))
	}
	if snap.Clips[0].Note.Name != "A4" || snap.Clips[1].Note.Name != "A5" {
		t.Fatalf("notes = %s, %s", snap.Clips[0].Note.Name, snap.Clips[1].Note.Name)
	}
}

func TestTransposeRendersAndCommits(t *testing.T) {
	sh := &gateShifter{}
	c := newTestController(t, sh)
	clip, err := c.Transpose(1, 12)
	if err != nil {
		t.Fatalf("Transpose: %v", err)
	}
	if clip.ID != 1 || clip.Transpose != 12 {
		t.Fatalf("returned clip = %+v", clip)
	}
	snap := wait(t, c)
	if snap.State != Idle || snap.Version != 2 || snap.Err != nil {
		t.Fatalf("snapshot after render = state %v version %d err %v", snap.State, snap.Version, snap.Err)
	}
	if snap.Buffer == snap.Source {
		t.Fatalf("current buffer not replaced")
	}
	if len(snap.Clips) != 2 || snap.Clips[1].ID != 1 || snap.Clips[1].Transpose != 12 {
		t.Fatalf("clips after render = %+v", snap.Clips)
	}
	calls, _ := sh.recorded()
	if len(calls) != 1 || len(calls[0]) != 1 || calls[0][0] != (render.Event{Time: 1, Semitones: 12}) {
		t.Fatalf("shifter calls = %+v", calls)
	}
}

func TestTransposeUnknownClip(t *testing.T) {
	sh := &gateShifter{}
	c := newTestController(t, sh)
	if _, err := c.Transpose(7, 1); !errors.Is(err, clipstore.ErrClipNotFound) {
		t.Fatalf("err = %v, want ErrClipNotFound", err)
	}
	if c.Snapshot().State != Idle {
		t.Fatalf("unknown clip started a render")
	}
	if calls, _ := sh.recorded(); len(calls) != 0 {
		t.Fatalf("shifter called %d times", len(calls))
	}
}

func TestTransposeAllSchedulesOneRender(t *testing.T) {
	sh := &gateShifter{}
	c := newTestController(t, sh)
	if err := c.TransposeAll(map[int]float64{0: -2, 1: 5}); err != nil {
		t.Fatalf("TransposeAll: %v", err)
	}
	snap := wait(t, c)
	if snap.Version != 2 || snap.Clips[0].Transpose != -2 || snap.Clips[1].Transpose != 5 {
		t.Fatalf("snapshot = version %d clips %+v", snap.Version, snap.Clips)
	}
	calls, _ := sh.recorded()
	if len(calls) != 1 || len(calls[0]) != 2 {
		t.Fatalf("shifter calls = %+v", calls)
	}
}

func TestTransposeAllUnknownClipChangesNothing(t *testing.T) {
	sh := &gateShifter{}
	c := newTestController(t, sh)
	err := c.TransposeAll(map[int]float64{0: 3, 9: 1})
	if !errors.Is(err, clipstore.ErrClipNotFound) {
		t.Fatalf("err = %v, want ErrClipNotFound", err)
	}
	snap := c.Snapshot()
	if snap.State != Idle || snap.Clips[0].Transpose != 0 {
		t.Fatalf("snapshot after failed batch = %+v", snap)
	}
}

func TestEditsDuringRenderCoalesce(t *testing.T) {
	sh := &gateShifter{started: make(chan struct{}, 4), release: make(chan struct{})}
	c := newTestController(t, sh)

	if _, err := c.Transpose(0, 1); err != nil {
		t.Fatalf("Transpose: %v", err)
	}
	<-sh.started

	during := c.Snapshot()
	if during.State != Rendering || during.Buffer != during.Source || during.Version != 1 {
		t.Fatalf("snapshot during render = state %v version %d", during.State, during.Version)
	}
	if _, err := c.Transpose(0, 2); err != nil {
		t.Fatalf("Transpose: %v", err)
	}
	if _, err := c.Transpose(1, 3); err != nil {
		t.Fatalf("Transpose: %v", err)
	}
	if clips := c.Snapshot().Clips; clips[0].Transpose != 0 || clips[1].Transpose != 0 {
		t.Fatalf("snapshot during render shows uncommitted transposes: %+v", clips)
	}

	sh.release <- struct{}{}
	<-sh.started
	between := c.Snapshot()
	if between.Version != 2 || between.Clips[0].Transpose != 1 || between.Clips[1].Transpose != 0 {
		t.Fatalf("snapshot between renders = version %d clips %+v, want what was rendered", between.Version, between.Clips)
	}
	sh.release <- struct{}{}
	snap := wait(t, c)

	calls, maxActive := sh.recorded()
	if len(calls) != 2 {
		t.Fatalf("renders = %d, want 2", len(calls))
	}
	if maxActive != 1 {
		t.Fatalf("max concurrent renders = %d, want 1", maxActive)
	}
	want := []render.Event{{Time: 0, Semitones: 2}, {Time: 1, Semitones: 3}}
	if len(calls[1]) != len(want) || calls[1][0] != want[0] || calls[1][1] != want[1] {
		t.Fatalf("second render events = %+v, want %+v", calls[1], want)
	}
	if snap.Version != 3 || snap.Clips[0].Transpose != 2 || snap.Clips[1].Transpose != 3 {
		t.Fatalf("final snapshot version=%d clips=%+v", snap.Version, snap.Clips)
	}
}

func TestRenderFailureKeepsPreviousState(t *testing.T) {
	seen := make(chan Snapshot, 4)
	sh := &gateShifter{fail: errors.New("oracle down")}
	c := newTestController(t, sh, WithListener(func(s Snapshot) { seen <- s }))

	if _, err := c.Transpose(1, 5); err != nil {
		t.Fatalf("Transpose: %v", err)
	}
	snap := wait(t, c)
	if !errors.Is(snap.Err, render.ErrRender) {
		t.Fatalf("snapshot err = %v, want ErrRender", snap.Err)
	}
	if snap.Buffer != snap.Source || snap.Version != 1 || snap.State != Idle {
		t.Fatalf("failed render changed state: version=%d state=%v", snap.Version, snap.State)
	}
	if snap.Clips[1].Transpose != 0 {
		t.Fatalf("clip transpose not reverted: %+v", snap.Clips[1])
	}
	if clip, _ := c.store.Get(1); clip.Transpose != 0 {
		t.Fatalf("stored transpose not reverted: %+v", clip)
	}

	c.Close()
	if len(seen) != 1 {
		t.Fatalf("listener saw %d snapshots, want 1", len(seen))
	}
	if s := <-seen; s.Err == nil {
		t.Fatalf("listener snapshot has no error")
	}
}

func TestRenderFailureKeepsQueuedEdits(t *testing.T) {
	sh := &gateShifter{
		started: make(chan struct{}, 4),
		release: make(chan struct{}),
		failIf: func(events []render.Event) error {
			for _, e := range events {
				if math.Abs(e.Semitones) > render.MaxSemitones {
					return errors.New("shift out of range")
				}
			}
			return nil
		},
	}
	c := newTestController(t, sh)

	if _, err := c.Transpose(0, 30); err != nil {
		t.Fatalf("Transpose: %v", err)
	}
	<-sh.started
	if _, err := c.Transpose(1, 5); err != nil {
		t.Fatalf("Transpose: %v", err)
	}
	sh.release <- struct{}{}
	<-sh.started
	sh.release <- struct{}{}
	snap := wait(t, c)

	calls, _ := sh.recorded()
	if len(calls) != 2 {
		t.Fatalf("renders = %d, want 2", len(calls))
	}
	if len(calls[1]) != 1 || calls[1][0] != (render.Event{Time: 1, Semitones: 5}) {
		t.Fatalf("second render events = %+v", calls[1])
	}
	if snap.Err != nil || snap.Version != 2 {
		t.Fatalf("final snapshot err=%v version=%d", snap.Err, snap.Version)
	}
	if snap.Clips[0].Transpose != 0 || snap.Clips[1].Transpose != 5 {
		t.Fatalf("final clips = %+v", snap.Clips)
	}
}

func TestMergedClipsKeepTheirTransposes(t *testing.T) {
	freqs := make([]float32, 40)
	for i := range freqs {
		freqs[i] = 440
		if i >= 20 {
			freqs[i] = 523.25
		}
	}
	sh := &gateShifter{scale: true}
	c, err := New(context.Background(), painted(freqs...), testPipeline(t, sh))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { c.Close() })

	// C5 down three semitones renders as one long A4.
	if _, err := c.Transpose(1, -3); err != nil {
		t.Fatalf("Transpose: %v", err)
	}
	snap := wait(t, c)
	if len(snap.Clips) != 2 {
		t.Fatalf("clips after merge = %+v", snap.Clips)
	}
	if got := snap.Clips[1]; got.ID != 1 || got.Start != 1 || got.Transpose != -3 || got.Note.Name != "A4" {
		t.Fatalf("second clip after merge = %+v", got)
	}

	if _, err := c.Transpose(0, 5); err != nil {
		t.Fatalf("Transpose: %v", err)
	}
	snap = wait(t, c)
	calls, _ := sh.recorded()
	want := []render.Event{{Time: 0, Semitones: 5}, {Time: 1, Semitones: -3}}
	if len(calls) != 2 || len(calls[1]) != len(want) || calls[1][0] != want[0] || calls[1][1] != want[1] {
		t.Fatalf("shifter calls = %+v, want second render %+v", calls, want)
	}
	if len(snap.Clips) != 2 || snap.Clips[0].Transpose != 5 || snap.Clips[1].Transpose != -3 {
		t.Fatalf("final clips = %+v", snap.Clips)
	}
	if snap.Clips[0].Note.Name != "D5" || snap.Clips[1].Note.Name != "A4" {
		t.Fatalf("final notes = %s, %s", snap.Clips[0].Note.Name, snap.Clips[1].Note.Name)
	}
}

func TestRenderLatencyKeepsClipsOnSchedule(t *testing.T) {
	const delay = 1000
	sh := &gateShifter{delay: delay}
	c := newTestController(t, sh)
	if _, err := c.Transpose(1, 12); err != nil {
		t.Fatalf("Transpose: %v", err)
	}
	snap := wait(t, c)
	if snap.Err != nil {
		t.Fatalf("render: %v", snap.Err)
	}
	if len(snap.Track) != 39 {
		t.Fatalf("track frames = %d, want 39", len(snap.Track))
	}
	if snap.Track[19].Frequency != 440 || snap.Track[20].Frequency != 880 {
		t.Fatalf("frames around the change = %v, %v", snap.Track[19].Frequency, snap.Track[20].Frequency)
	}
	if len(snap.Clips) != 2 {
		t.Fatalf("clips = %+v", snap.Clips)
	}
	tests := []struct {
		start       float64
		startSample int
		transpose   float64
	}{
		{0, delay, 0},
		{1, delay + 20*testFrameLen, 12},
	}
	for i, tt := range tests {
		got := snap.Clips[i]
		if got.Start != tt.start || got.StartSample != tt.startSample || got.Transpose != tt.transpose {
			t.Fatalf("clip %d = start %v sample %d transpose %v, want %v %d %v",
				i, got.Start, got.StartSample, got.Transpose, tt.start, tt.startSample, tt.transpose)
		}
	}
}

func TestListenerMayWaitOnIdleSnapshot(t *testing.T) {
	var c *Controller
	errs := make(chan error, 4)
	listener := func(s Snapshot) {
		if s.State != Idle {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, err := c.Wait(ctx)
		errs <- err
	}
	c = newTestController(t, &gateShifter{}, WithListener(listener))
	if _, err := c.Transpose(0, 1); err != nil {
		t.Fatalf("Transpose: %v", err)
	}
	select {
	case err := <-errs:
		if err != nil {
			t.Fatalf("Wait from listener: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("listener never returned")
	}
}

func TestTogglePlaybackUsesTransport(t *testing.T) {
	bare := newTestController(t, &gateShifter{})
	if _, err := bare.TogglePlayback(); !errors.Is(err, ErrNoTransport) {
		t.Fatalf("err = %v, want ErrNoTransport", err)
	}

	tr := playback.NewTransport(nil)
	c := newTestController(t, &gateShifter{}, WithTransport(tr))
	if tr.Buffer() != c.Snapshot().Source {
		t.Fatalf("transport not given the source buffer")
	}
	playing, err := c.TogglePlayback()
	if err != nil || !playing {
		t.Fatalf("TogglePlayback = %v, %v", playing, err)
	}
	c.Transpose(0, 1)
	snap := wait(t, c)
	if tr.Buffer() != snap.Buffer {
		t.Fatalf("transport not given the committed render")
	}
}

func TestSetSource(t *testing.T) {
	sh := &gateShifter{started: make(chan struct{}, 4), release: make(chan struct{})}
	c := newTestController(t, sh)

	c.Transpose(0, 1)
	<-sh.started
	if err := c.SetSource(context.Background(), painted(220, 440, 880)); !errors.Is(err, ErrBusy) {
		t.Fatalf("err = %v, want ErrBusy", err)
	}
	sh.release <- struct{}{}
	wait(t, c)

	if err := c.SetSource(context.Background(), painted(220, 440, 880)); err != nil {
		t.Fatalf("SetSource: %v", err)
	}
	snap := c.Snapshot()
	if len(snap.Clips) != 3 || snap.Buffer != snap.Source || snap.Clips[0].Transpose != 0 {
		t.Fatalf("snapshot after SetSource = %+v", snap.Clips)
	}
}

func TestCloseRejectsEdits(t *testing.T) {
	c := newTestController(t, &gateShifter{})
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := c.Transpose(0, 1); !errors.Is(err, ErrClosed) {
		t.Fatalf("err = %v, want ErrClosed", err)
	}
}

func TestNewPipeline(t *testing.T) {
	p, err := NewPipeline(nil)
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	if p.Extractor.Tempo() != 120 || p.Extractor.Quantization() != 10 || !p.PreserveIDs {
		t.Fatalf("default pipeline = %+v", p)
	}
	bad := preset.NewDefaultParams()
	bad.Shifter = "granular"
	if _, err := NewPipeline(bad); err == nil {
		t.Fatalf("expected error for unknown shifter")
	}
	if _, err := New(context.Background(), twoNotes(), Pipeline{}); err == nil {
		t.Fatalf("expected error for empty pipeline")
	}
}
