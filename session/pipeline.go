package session

import (
	"fmt"

	"github.com/cwbudde/algo-pitchedit/notes"
	"github.com/cwbudde/algo-pitchedit/pitchtrack"
	"github.com/cwbudde/algo-pitchedit/preset"
	"github.com/cwbudde/algo-pitchedit/render"
	"github.com/cwbudde/algo-pitchedit/segment"
)

// Pipeline bundles the analysis and render stages a session runs.
type Pipeline struct {
	Extractor   *pitchtrack.Extractor
	Segmenter   *segment.Segmenter
	Renderer    *render.Renderer
	PreserveIDs bool
}

func (p Pipeline) validate() error {
	switch {
	case p.Extractor == nil:
		return fmt.Errorf("pipeline: nil extractor")
	case p.Segmenter == nil:
		return fmt.Errorf("pipeline: nil segmenter")
	case p.Renderer == nil:
		return fmt.Errorf("pipeline: nil renderer")
	}
	return nil
}

// NewPipeline builds the YIN, segmenter and algo-dsp shifter stages from p.
func NewPipeline(p *preset.Params) (Pipeline, error) {
	if p == nil {
		p = preset.NewDefaultParams()
	}
	table, err := notes.NewTable(p.ReferencePitch)
	if err != nil {
		return Pipeline{}, err
	}

	yin := pitchtrack.NewYIN()
	yin.Threshold = p.YINThreshold
	yin.MinFrequency = p.MinFrequency
	yin.MaxFrequency = p.MaxFrequency
	yin.HighpassHz = p.HighpassHz
	yin.PrefilterHz = p.PrefilterHz
	ex, err := pitchtrack.NewExtractor(yin, p.Tempo, p.Quantization, pitchtrack.WithWorkers(p.Workers))
	if err != nil {
		return Pipeline{}, err
	}

	seg, err := segment.New(table,
		segment.WithThreshold(p.SplitThreshold),
		segment.WithUnvoicedClips(p.UnvoicedClips),
	)
	if err != nil {
		return Pipeline{}, err
	}

	alg, err := render.ParseAlgorithm(p.Shifter)
	if err != nil {
		return Pipeline{}, err
	}
	shifter, err := render.NewDSPShifter(alg, p.CrossfadeMs)
	if err != nil {
		return Pipeline{}, err
	}
	r, err := render.New(shifter, render.WithScheduleAll(p.ScheduleAll))
	if err != nil {
		return Pipeline{}, err
	}

	return Pipeline{
		Extractor:   ex,
		Segmenter:   seg,
		Renderer:    r,
		PreserveIDs: p.PreserveClipIDs,
	}, nil
}
