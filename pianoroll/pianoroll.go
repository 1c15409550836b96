// Package pianoroll lays out clips, note rows and the pitch curve of a
// session snapshot in pixel space for drawing. Time runs along x on a linear
// scale and frequency along y on a log scale.
package pianoroll

import (
	"fmt"
	"math"

	"github.com/cwbudde/algo-approx"
	"github.com/cwbudde/algo-pitchedit/notes"
	"github.com/cwbudde/algo-pitchedit/pitchtrack"
	"github.com/cwbudde/algo-pitchedit/segment"
)

const (
	defaultFrom = "G2"
	defaultTo   = "A3"
)

// Layout is the drawing area in pixels.
type Layout struct {
	Width, Height                                    float64
	MarginTop, MarginRight, MarginBottom, MarginLeft float64
	// From and To pin the note range. When empty it spans one note below
	// the lowest clip to one above the highest voiced clip.
	From, To string
}

// DefaultLayout matches the editor canvas.
func DefaultLayout() Layout {
	return Layout{
		Width:        640,
		Height:       400,
		MarginTop:    20,
		MarginRight:  20,
		MarginBottom: 20,
		MarginLeft:   50,
	}
}

// Row is one horizontal note lane.
type Row struct {
	Note    notes.Entry `json:"note"`
	CenterY float64     `json:"center_y"`
	TopY    float64     `json:"top_y"`
	BottomY float64     `json:"bottom_y"`
}

// Rect is a clip drawn in the lane of its note.
type Rect struct {
	ClipID    int     `json:"clip_id"`
	Label     string  `json:"label"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	W         float64 `json:"w"`
	H         float64 `json:"h"`
	Transpose float64 `json:"transpose"`
	// TargetHz is where the clip lands after its transpose.
	TargetHz float64 `json:"target_hz"`
	TargetY  float64 `json:"target_y"`
	Voiced   bool    `json:"voiced"`
	// Peak is the largest absolute sample in the clip, for waveform scaling.
	Peak float32 `json:"peak"`
}

// Point is one pitch track sample on the curve.
type Point struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Voiced bool    `json:"voiced"`
}

// View is everything a renderer needs to draw one snapshot.
type View struct {
	Layout Layout  `json:"layout"`
	Rows   []Row   `json:"rows"`
	Rects  []Rect  `json:"rects"`
	Curve  []Point `json:"curve"`
	Peak   float32 `json:"peak"`
}

// Build computes the view of clips and track against table. duration is the
// time span on the x axis in seconds.
func Build(table *notes.Table, clips []segment.Clip, track []pitchtrack.Sample, duration float64, layout Layout) (*View, error) {
	if table == nil {
		table = notes.Default
	}
	if layout.Width <= layout.MarginLeft+layout.MarginRight || layout.Height <= layout.MarginTop+layout.MarginBottom {
		return nil, fmt.Errorf("layout %gx%g leaves no room inside margins", layout.Width, layout.Height)
	}
	if duration <= 0 {
		duration = span(clips, track)
	}
	if duration <= 0 {
		duration = 1
	}

	from, to := layout.From, layout.To
	if from == "" || to == "" {
		from, to = noteRange(clips)
	}
	rows, err := table.Between(from, to)
	if err != nil {
		return nil, err
	}

	x := linear(0, duration, layout.MarginLeft, layout.Width-layout.MarginRight)
	y := logScale(rows[0].Lower, rows[len(rows)-1].Upper, layout.Height-layout.MarginBottom, layout.MarginTop)

	v := &View{Layout: layout}
	v.Rows = make([]Row, len(rows))
	for i, e := range rows {
		v.Rows[i] = Row{Note: e, CenterY: y(e.Frequency), TopY: y(e.Upper), BottomY: y(e.Lower)}
	}

	v.Rects = make([]Rect, len(clips))
	for i, c := range clips {
		top, bottom := y(c.Note.Upper), y(c.Note.Lower)
		target := c.Note.Frequency * pow2Approx(c.Transpose/12)
		r := Rect{
			ClipID:    c.ID,
			Label:     c.Note.Name,
			X:         x(c.Start),
			Y:         top,
			W:         x(c.End) - x(c.Start),
			H:         bottom - top,
			Transpose: c.Transpose,
			TargetHz:  target,
			TargetY:   y(target),
			Voiced:    c.Voiced,
			Peak:      peak(c.Samples),
		}
		if r.Peak > v.Peak {
			v.Peak = r.Peak
		}
		v.Rects[i] = r
	}

	v.Curve = make([]Point, len(track))
	for i, s := range track {
		mid := (s.Start + s.End) / 2
		v.Curve[i] = Point{X: x(mid), Y: y(s.Frequency), Voiced: s.Voiced()}
	}
	return v, nil
}

// noteRange spans one note below the lowest clip to one above the highest
// voiced clip.
func noteRange(clips []segment.Clip) (string, string) {
	lo, hi := math.MaxInt, math.MinInt
	for _, c := range clips {
		if !c.Voiced {
			continue
		}
		lo = min(lo, c.Note.MIDI)
		hi = max(hi, c.Note.MIDI)
	}
	if lo > hi {
		return defaultFrom, defaultTo
	}
	return notes.Name(lo - 1), notes.Name(hi + 1)
}

func span(clips []segment.Clip, track []pitchtrack.Sample) float64 {
	var end float64
	for _, c := range clips {
		end = math.Max(end, c.End)
	}
	for _, s := range track {
		end = math.Max(end, s.End)
	}
	return end
}

func linear(d0, d1, r0, r1 float64) func(float64) float64 {
	return func(v float64) float64 {
		return r0 + (v-d0)/(d1-d0)*(r1-r0)
	}
}

func logScale(d0, d1, r0, r1 float64) func(float64) float64 {
	l0, l1 := math.Log(d0), math.Log(d1)
	return func(v float64) float64 {
		return r0 + (math.Log(v)-l0)/(l1-l0)*(r1-r0)
	}
}

// pow2Approx is accurate to well under a pixel for display use.
func pow2Approx(x float64) float64 {
	const ln2 = 0.69314718055994530942
	return float64(approx.FastExp(float32(x * ln2)))
}

func peak(samples []float32) float32 {
	var p float32
	for _, v := range samples {
		if v < 0 {
			v = -v
		}
		if v > p {
			p = v
		}
	}
	return p
}
