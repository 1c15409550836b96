package preset

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
)

// File is the JSON schema for session presets. Absent fields keep their
// defaults.
type File struct {
	Tempo           *float64           `json:"tempo"`
	Quantization    *float64           `json:"quantization"`
	ReferencePitch  *float64           `json:"reference_pitch"`
	SplitThreshold  *float64           `json:"split_threshold"`
	UnvoicedClips   *bool              `json:"unvoiced_clips"`
	PreserveClipIDs *bool              `json:"preserve_clip_ids"`
	YINThreshold    *float64           `json:"yin_threshold"`
	MinFrequency    *float64           `json:"min_frequency"`
	MaxFrequency    *float64           `json:"max_frequency"`
	HighpassHz      *float64           `json:"highpass_hz"`
	PrefilterHz     *float64           `json:"prefilter_hz"`
	Workers         *int               `json:"workers"`
	Shifter         string             `json:"shifter"`
	CrossfadeMs     *float64           `json:"crossfade_ms"`
	ScheduleAll     *bool              `json:"schedule_all"`
	ResampleTo      *int               `json:"resample_to"`
	Transposes      map[string]float64 `json:"transposes"`
}

// LoadJSON loads a preset JSON file and applies it on top of default params.
func LoadJSON(path string) (*Params, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var f File
	if err := json.Unmarshal(b, &f); err != nil {
		return nil, err
	}

	p := NewDefaultParams()
	if err := ApplyFile(p, &f); err != nil {
		return nil, err
	}
	return p, nil
}

// ApplyFile applies a parsed preset file onto an existing params object.
func ApplyFile(dst *Params, f *File) error {
	if dst == nil {
		return fmt.Errorf("nil destination params")
	}
	if f == nil {
		return nil
	}

	if f.Tempo != nil {
		if *f.Tempo <= 0 {
			return fmt.Errorf("tempo must be > 0")
		}
		dst.Tempo = *f.Tempo
	}
	if f.Quantization != nil {
		if *f.Quantization <= 0 {
			return fmt.Errorf("quantization must be > 0")
		}
		dst.Quantization = *f.Quantization
	}
	if f.ReferencePitch != nil {
		if *f.ReferencePitch <= 0 {
			return fmt.Errorf("reference_pitch must be > 0")
		}
		dst.ReferencePitch = *f.ReferencePitch
	}
	if f.SplitThreshold != nil {
		if *f.SplitThreshold < 0 {
			return fmt.Errorf("split_threshold must be >= 0")
		}
		dst.SplitThreshold = *f.SplitThreshold
	}
	if f.UnvoicedClips != nil {
		dst.UnvoicedClips = *f.UnvoicedClips
	}
	if f.PreserveClipIDs != nil {
		dst.PreserveClipIDs = *f.PreserveClipIDs
	}
	if f.YINThreshold != nil {
		if *f.YINThreshold <= 0 || *f.YINThreshold >= 1 {
			return fmt.Errorf("yin_threshold must be in (0,1)")
		}
		dst.YINThreshold = *f.YINThreshold
	}
	if f.MinFrequency != nil {
		if *f.MinFrequency <= 0 {
			return fmt.Errorf("min_frequency must be > 0")
		}
		dst.MinFrequency = *f.MinFrequency
	}
	if f.MaxFrequency != nil {
		if *f.MaxFrequency <= 0 {
			return fmt.Errorf("max_frequency must be > 0")
		}
		dst.MaxFrequency = *f.MaxFrequency
	}
	if dst.MinFrequency >= dst.MaxFrequency {
		return fmt.Errorf("min_frequency must be below max_frequency")
	}
	if f.HighpassHz != nil {
		if *f.HighpassHz < 0 {
			return fmt.Errorf("highpass_hz must be >= 0")
		}
		dst.HighpassHz = *f.HighpassHz
	}
	if f.PrefilterHz != nil {
		if *f.PrefilterHz < 0 {
			return fmt.Errorf("prefilter_hz must be >= 0")
		}
		dst.PrefilterHz = *f.PrefilterHz
	}
	if f.Workers != nil {
		if *f.Workers < 0 {
			return fmt.Errorf("workers must be >= 0")
		}
		dst.Workers = *f.Workers
	}
	if f.Shifter != "" {
		switch s := strings.ToLower(strings.TrimSpace(f.Shifter)); s {
		case "wsola", "spectral":
			dst.Shifter = s
		default:
			return fmt.Errorf("invalid shifter %q (expected wsola or spectral)", f.Shifter)
		}
	}
	if f.CrossfadeMs != nil {
		if *f.CrossfadeMs <= 0 {
			return fmt.Errorf("crossfade_ms must be > 0")
		}
		dst.CrossfadeMs = *f.CrossfadeMs
	}
	if f.ScheduleAll != nil {
		dst.ScheduleAll = *f.ScheduleAll
	}
	if f.ResampleTo != nil {
		if *f.ResampleTo < 0 {
			return fmt.Errorf("resample_to must be >= 0")
		}
		dst.ResampleTo = *f.ResampleTo
	}

	if len(f.Transposes) == 0 {
		return nil
	}
	if dst.Transposes == nil {
		dst.Transposes = make(map[int]float64)
	}

	keys := make([]string, 0, len(f.Transposes))
	for k := range f.Transposes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		id, err := strconv.Atoi(k)
		if err != nil || id < 0 {
			return fmt.Errorf("invalid transposes key %q (expected clip id >= 0)", k)
		}
		dst.Transposes[id] = f.Transposes[k]
	}
	return nil
}
