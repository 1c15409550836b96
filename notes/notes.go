// Package notes maps frequencies to equal-tempered note names.
//
// Every note is addressed by its MIDI number (A4 = 69). The table tabulates
// C0..B8, but all lookups extrapolate with the same semitone spacing, so any
// strictly positive frequency classifies to some note.
package notes

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

const (
	// DefaultReference is the concert pitch of A4 in Hz.
	DefaultReference = 440.0

	referenceMIDI  = 69
	firstTabulated = 12  // C0
	lastTabulated  = 119 // B8
)

// ErrInvalidFrequency is returned when classifying a non-positive or
// non-finite frequency.
var ErrInvalidFrequency = errors.New("frequency must be positive")

var pitchClasses = [12]string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}

// Entry is one note of the table together with its half-step boundaries.
//
// Lower is a closed bound and Upper an open one; Upper of a note is
// bit-identical to Lower of the next.
type Entry struct {
	Name      string  `json:"name"`
	MIDI      int     `json:"midi"`
	Frequency float64 `json:"frequency"`
	Lower     float64 `json:"lower"`
	Upper     float64 `json:"upper"`
}

// Semitones returns the signed distance from e to other in semitones.
func (e Entry) Semitones(other Entry) int {
	return other.MIDI - e.MIDI
}

// Table is an immutable equal-tempered note table.
type Table struct {
	reference float64
	entries   []Entry
}

// NewTable builds a table tuned so that A4 sounds at reference Hz.
func NewTable(reference float64) (*Table, error) {
	if !isFinitePositive(reference) {
		return nil, fmt.Errorf("reference pitch must be positive and finite: %f", reference)
	}
	t := &Table{reference: reference}
	t.entries = make([]Entry, 0, lastTabulated-firstTabulated+1)
	for m := firstTabulated; m <= lastTabulated; m++ {
		t.entries = append(t.entries, t.At(m))
	}
	return t, nil
}

// Default is the table tuned to A4 = 440 Hz.
var Default = mustTable(DefaultReference)

func mustTable(reference float64) *Table {
	t, err := NewTable(reference)
	if err != nil {
		panic(err)
	}
	return t
}

// Reference returns the A4 frequency the table is tuned to.
func (t *Table) Reference() float64 { return t.reference }

// Entries returns a copy of the tabulated range C0..B8.
func (t *Table) Entries() []Entry {
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// At returns the entry for a MIDI number. Numbers outside the tabulated
// range are extrapolated.
func (t *Table) At(midi int) Entry {
	return Entry{
		Name:      Name(midi),
		MIDI:      midi,
		Frequency: t.center(midi),
		Lower:     t.boundary(midi - 1),
		Upper:     t.boundary(midi),
	}
}

// Classify returns the note nearest to freq in log-frequency space.
// A frequency exactly on a boundary belongs to the upper note.
func (t *Table) Classify(freq float64) (Entry, error) {
	if !isFinitePositive(freq) {
		return Entry{}, fmt.Errorf("%w: %v", ErrInvalidFrequency, freq)
	}
	x := referenceMIDI + 12*math.Log2(freq/t.reference)
	m := int(math.Floor(x + 0.5))
	// Rounding in log space can land one step off right at a boundary;
	// settle against the same boundary values the entries expose.
	for freq >= t.boundary(m) {
		m++
	}
	for freq < t.boundary(m-1) {
		m--
	}
	return t.At(m), nil
}

// Lookup returns the entry for a note name such as "A4", "C#3" or "Bb-1".
func (t *Table) Lookup(name string) (Entry, error) {
	m, err := ParseName(name)
	if err != nil {
		return Entry{}, err
	}
	return t.At(m), nil
}

// Between lists the entries from one note name to another, inclusive, in
// ascending order regardless of argument order.
func (t *Table) Between(from, to string) ([]Entry, error) {
	lo, err := ParseName(from)
	if err != nil {
		return nil, err
	}
	hi, err := ParseName(to)
	if err != nil {
		return nil, err
	}
	if lo > hi {
		lo, hi = hi, lo
	}
	out := make([]Entry, 0, hi-lo+1)
	for m := lo; m <= hi; m++ {
		out = append(out, t.At(m))
	}
	return out, nil
}

func (t *Table) center(midi int) float64 {
	if midi == referenceMIDI {
		return t.reference
	}
	return t.reference * math.Exp2(float64(midi-referenceMIDI)/12.0)
}

// boundary is the geometric mean between midi and midi+1.
func (t *Table) boundary(midi int) float64 {
	return math.Sqrt(t.center(midi)) * math.Sqrt(t.center(midi+1))
}

// Classify classifies freq against the Default table.
func Classify(freq float64) (Entry, error) {
	return Default.Classify(freq)
}

// Name formats a MIDI number as pitch class plus octave, e.g. 69 -> "A4".
func Name(midi int) string {
	pc := ((midi % 12) + 12) % 12
	octave := floorDiv(midi, 12) - 1
	return pitchClasses[pc] + strconv.Itoa(octave)
}

// ParseName parses a note name into its MIDI number. Sharps ('#') and
// flats ('b') are accepted; octaves may be negative.
func ParseName(name string) (int, error) {
	s := strings.TrimSpace(name)
	if s == "" {
		return 0, fmt.Errorf("empty note name")
	}
	pc := strings.IndexByte("C D EF G A B", strings.ToUpper(s[:1])[0])
	if pc < 0 {
		return 0, fmt.Errorf("invalid note name %q", name)
	}
	rest := s[1:]
	for len(rest) > 0 && (rest[0] == '#' || rest[0] == 'b') {
		if rest[0] == '#' {
			pc++
		} else {
			pc--
		}
		rest = rest[1:]
	}
	octave, err := strconv.Atoi(rest)
	if err != nil {
		return 0, fmt.Errorf("invalid octave in note name %q", name)
	}
	return (octave+1)*12 + pc, nil
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func isFinitePositive(v float64) bool {
	return v > 0 && !math.IsNaN(v) && !math.IsInf(v, 0)
}
