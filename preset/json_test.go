package preset

import (
	"os"
	"path/filepath"
	"testing"
)

func writePreset(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "preset.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write preset: %v", err)
	}
	return path
}

func TestLoadJSONAppliesGlobalAndTransposes(t *testing.T) {
	path := writePreset(t, `{
  "tempo": 90,
  "quantization": 8,
  "reference_pitch": 432,
  "split_threshold": 1.5,
  "unvoiced_clips": true,
  "preserve_clip_ids": false,
  "shifter": "Spectral",
  "crossfade_ms": 35,
  "workers": 3,
  "highpass_hz": 60,
  "transposes": {
    "2": 12,
    "0": -0.5
  }
}`)

	p, err := LoadJSON(path)
	if err != nil {
		t.Fatalf("LoadJSON: %v", err)
	}
	if p.Tempo != 90 || p.Quantization != 8 || p.ReferencePitch != 432 {
		t.Fatalf("framing fields mismatch: %+v", p)
	}
	if p.SplitThreshold != 1.5 || !p.UnvoicedClips || p.PreserveClipIDs {
		t.Fatalf("segmentation fields mismatch: %+v", p)
	}
	if p.Shifter != "spectral" || p.CrossfadeMs != 35 || p.Workers != 3 {
		t.Fatalf("render fields mismatch: %+v", p)
	}
	if p.Transposes[2] != 12 || p.Transposes[0] != -0.5 || len(p.Transposes) != 2 {
		t.Fatalf("transposes mismatch: %+v", p.Transposes)
	}
	if p.HighpassHz != 60 {
		t.Fatalf("highpass_hz = %v, want 60", p.HighpassHz)
	}
	if p.YINThreshold != 0.15 || p.MaxFrequency != 2000 {
		t.Fatalf("defaults not kept: %+v", p)
	}
}

func TestLoadJSONRejectsInvalidTransposeKey(t *testing.T) {
	path := writePreset(t, `{"transposes": {"x": 1}}`)
	if _, err := LoadJSON(path); err == nil {
		t.Fatalf("expected error for invalid clip id key")
	}
}

func TestLoadJSONRejectsInvalidRanges(t *testing.T) {
	for _, content := range []string{
		`{"tempo": 0}`,
		`{"quantization": -1}`,
		`{"yin_threshold": 1.5}`,
		`{"min_frequency": 3000}`,
		`{"shifter": "granular"}`,
		`{"crossfade_ms": 0}`,
		`{"highpass_hz": -5}`,
	} {
		if _, err := LoadJSON(writePreset(t, content)); err == nil {
			t.Fatalf("expected error for %s", content)
		}
	}
}

func TestParseWorkers(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{in: "auto", want: 0},
		{in: " AUTO ", want: 0},
		{in: "4", want: 4},
		{in: "0", wantErr: true},
		{in: "", wantErr: true},
		{in: "many", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseWorkers(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Fatalf("ParseWorkers(%q) = %d, %v", tt.in, got, err)
		}
	}
}
