package analysis

import (
	"math"

	"github.com/cwbudde/algo-pitchedit/pitchtrack"
)

// PitchMetrics compares two pitch tracks frame by frame.
type PitchMetrics struct {
	Frames int `json:"frames"`
	// BothVoiced counts frames voiced in both tracks; the cent figures
	// are taken over those only.
	BothVoiced      int     `json:"both_voiced"`
	VoicingMismatch int     `json:"voicing_mismatch"`
	MeanCents       float64 `json:"mean_cents"`
	MeanAbsCents    float64 `json:"mean_abs_cents"`
	MaxAbsCents     float64 `json:"max_abs_cents"`
}

// ComparePitch measures how far candidate deviates from reference, in cents,
// over the frames both tracks share.
func ComparePitch(reference, candidate []pitchtrack.Sample) PitchMetrics {
	n := min(len(reference), len(candidate))
	m := PitchMetrics{Frames: n}
	var sum, sumAbs float64
	for i := 0; i < n; i++ {
		r, c := reference[i], candidate[i]
		if r.Voiced() != c.Voiced() {
			m.VoicingMismatch++
			continue
		}
		if !r.Voiced() {
			continue
		}
		cents := 1200 * math.Log2(c.Frequency/r.Frequency)
		sum += cents
		sumAbs += math.Abs(cents)
		m.MaxAbsCents = math.Max(m.MaxAbsCents, math.Abs(cents))
		m.BothVoiced++
	}
	if m.BothVoiced > 0 {
		m.MeanCents = sum / float64(m.BothVoiced)
		m.MeanAbsCents = sumAbs / float64(m.BothVoiced)
	}
	return m
}
