package preset

import (
	"fmt"
	"strconv"
	"strings"
)

// Params holds every tunable of an edit session.
type Params struct {
	// Framing.
	Tempo        float64
	Quantization float64

	// Classification and segmentation.
	ReferencePitch  float64
	SplitThreshold  float64
	UnvoicedClips   bool
	PreserveClipIDs bool

	// Detection.
	YINThreshold float64
	MinFrequency float64
	MaxFrequency float64
	HighpassHz   float64
	PrefilterHz  float64
	Workers      int

	// Rendering.
	Shifter     string
	CrossfadeMs float64
	ScheduleAll bool

	// ResampleTo converts input to this rate before analysis when > 0.
	ResampleTo int

	// Transposes are initial per-clip amounts keyed by clip id.
	Transposes map[int]float64
}

// NewDefaultParams returns the settings of the reference editor: 120 BPM,
// ten frames per beat, A4 = 440 Hz and a two semitone split threshold.
func NewDefaultParams() *Params {
	return &Params{
		Tempo:           120,
		Quantization:    10,
		ReferencePitch:  440,
		SplitThreshold:  2,
		PreserveClipIDs: true,
		YINThreshold:    0.15,
		MinFrequency:    40,
		MaxFrequency:    2000,
		Shifter:         "wsola",
		CrossfadeMs:     20,
	}
}

// ParseWorkers parses a worker count: an integer >= 1, or "auto" for 0.
func ParseWorkers(raw string) (int, error) {
	v := strings.ToLower(strings.TrimSpace(raw))
	if v == "" {
		return 0, fmt.Errorf("empty value (use integer >= 1 or 'auto')")
	}
	if v == "auto" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%q (use integer >= 1 or 'auto')", raw)
	}
	if n < 1 {
		return 0, fmt.Errorf("%d (must be >= 1 or 'auto')", n)
	}
	return n, nil
}
