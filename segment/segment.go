// Package segment groups a pitch track into clips of one note each.
package segment

import (
	"fmt"
	"math"

	"github.com/cwbudde/algo-pitchedit/internal/log"
	"github.com/cwbudde/algo-pitchedit/notes"
	"github.com/cwbudde/algo-pitchedit/pcm"
	"github.com/cwbudde/algo-pitchedit/pitchtrack"
)

// DefaultThreshold is the note distance in semitones a sample may drift
// from the first note of its clip before a new clip starts.
const DefaultThreshold = 2.0

// Clip is a contiguous range of the analyzed buffer classified as one note.
//
// Start and End are seconds on the schedule's time line, measured from the
// first analyzed frame. StartSample and EndSample index the buffer itself.
// When the buffer was analyzed from a non-zero offset (a render's latency),
// samples [0, offset) belong to no clip: the first clip has Start 0 and
// StartSample equal to the offset.
//
// Samples aliases channel 0 of the buffer the clip was cut from and must be
// treated as read-only.
type Clip struct {
	ID          int         `json:"id"`
	Note        notes.Entry `json:"note"`
	Start       float64     `json:"start"`
	End         float64     `json:"end"`
	StartSample int         `json:"start_sample"`
	EndSample   int         `json:"end_sample"`
	Samples     []float32   `json:"-"`
	Transpose   float64     `json:"transpose"`
	Voiced      bool        `json:"voiced"`
}

// Duration returns End-Start in seconds.
func (c Clip) Duration() float64 { return c.End - c.Start }

// Overlap returns the length in seconds shared by c and o.
func (c Clip) Overlap(o Clip) float64 {
	return math.Max(0, math.Min(c.End, o.End)-math.Max(c.Start, o.Start))
}

// Segmenter splits pitch tracks into clips.
type Segmenter struct {
	table     *notes.Table
	threshold float64
	unvoiced  bool
}

// Option configures a Segmenter.
type Option func(*Segmenter)

// WithThreshold sets the split distance in semitones.
func WithThreshold(semitones float64) Option {
	return func(s *Segmenter) { s.threshold = semitones }
}

// WithUnvoicedClips keeps undetected frames in clips of their own, marked
// Voiced=false, instead of treating the sentinel as a very low note.
func WithUnvoicedClips(on bool) Option {
	return func(s *Segmenter) { s.unvoiced = on }
}

// New returns a segmenter classifying against table, or notes.Default when
// table is nil.
func New(table *notes.Table, opts ...Option) (*Segmenter, error) {
	if table == nil {
		table = notes.Default
	}
	s := &Segmenter{table: table, threshold: DefaultThreshold}
	for _, opt := range opts {
		opt(s)
	}
	if s.threshold < 0 || math.IsNaN(s.threshold) {
		return nil, fmt.Errorf("split threshold must be >= 0: %f", s.threshold)
	}
	return s, nil
}

// Segment walks track in time order and starts a new clip whenever the
// classified note is more than the threshold away from the note of the
// sample that opened the current clip. Clips are numbered from 0 in time
// order. The last clip absorbs trailing buffer samples that did not fill an
// analysis frame.
func (s *Segmenter) Segment(track []pitchtrack.Sample, buf *pcm.Buffer) ([]Clip, error) {
	if len(track) == 0 {
		return []Clip{}, nil
	}
	if buf == nil || buf.NumChannels() == 0 {
		return nil, fmt.Errorf("segment: empty buffer")
	}
	data := buf.Channel(0)

	var (
		clips []Clip
		cur   Clip
		open  bool
	)
	closeClip := func() {
		cur.Samples = sliceRange(data, cur.StartSample, cur.EndSample)
		clips = append(clips, cur)
	}
	for i, p := range track {
		note, err := s.table.Classify(p.Frequency)
		if err != nil {
			return nil, fmt.Errorf("segment: sample %d: %w", i, err)
		}
		voiced := p.Voiced()
		if open && !s.split(cur, note, voiced) {
			cur.End = p.End
			cur.EndSample = p.EndSample
			continue
		}
		if open {
			closeClip()
		}
		cur = Clip{
			ID:          len(clips),
			Note:        note,
			Start:       p.Start,
			End:         p.End,
			StartSample: p.StartSample,
			EndSample:   p.EndSample,
			Voiced:      voiced,
		}
		open = true
	}
	if tail := len(data) - cur.EndSample; tail > 0 {
		cur.EndSample = len(data)
		cur.End += float64(tail) / float64(buf.SampleRate)
	}
	closeClip()

	log.Debugf("segment: %d samples -> %d clips", len(track), len(clips))
	return clips, nil
}

func (s *Segmenter) split(cur Clip, note notes.Entry, voiced bool) bool {
	if s.unvoiced {
		if cur.Voiced != voiced {
			return true
		}
		if !voiced {
			return false
		}
	}
	dist := math.Abs(float64(cur.Note.Semitones(note)))
	return dist > s.threshold
}

func sliceRange(data []float32, start, end int) []float32 {
	if start < 0 {
		start = 0
	}
	if end > len(data) {
		end = len(data)
	}
	if start >= end {
		return nil
	}
	return data[start:end:end]
}
