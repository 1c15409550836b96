package main

import (
	"context"
	"strconv"
	"strings"

	"github.com/cwbudde/algo-pitchedit/internal/log"
	"github.com/cwbudde/algo-pitchedit/internal/wavio"
	"github.com/cwbudde/algo-pitchedit/pcm"
	"github.com/cwbudde/algo-pitchedit/preset"
	"github.com/cwbudde/algo-pitchedit/session"
	"github.com/pkg/errors"
	"github.com/urfave/cli"
	"github.com/xlab/closer"
)

var commonFlags = []cli.Flag{
	cli.StringFlag{
		Name:  "preset, p",
		Usage: `JSON preset file`,
	},
	cli.Float64Flag{
		Name:  "tempo, t",
		Usage: `Tempo in BPM used for analysis framing`,
	},
	cli.Float64Flag{
		Name:  "quantization, z",
		Usage: `Analysis frames per beat`,
	},
	cli.StringFlag{
		Name:  "workers, w",
		Usage: `Pitch detection workers (integer >= 1 or auto)`,
		Value: "auto",
	},
	cli.IntFlag{
		Name:  "resample, r",
		Usage: `Resample input to this rate before analysis (0: keep)`,
	},
	cli.BoolFlag{
		Name:  "debug, d",
		Usage: `Show debug messages`,
	},
	cli.BoolFlag{
		Name:  "quiet, q",
		Usage: `Suppress information messages`,
	},
	cli.BoolFlag{
		Name:  "silent, Q",
		Usage: `Do not output any messages`,
	},
}

func withCommon(flags ...cli.Flag) []cli.Flag {
	return append(append([]cli.Flag{}, commonFlags...), flags...)
}

func setLogLevel(ctx *cli.Context) {
	if ctx.Bool("debug") {
		log.Level = log.LogLevel_Debug
	} else if ctx.Bool("silent") {
		log.Level = log.LogLevel_None
	} else if ctx.Bool("quiet") {
		log.Level = log.LogLevel_Warn
	}
}

// loadParams reads the preset, if any, and lays explicit flags over it.
func loadParams(ctx *cli.Context) (*preset.Params, error) {
	p := preset.NewDefaultParams()
	if path := ctx.String("preset"); path != "" {
		var err error
		p, err = preset.LoadJSON(path)
		if err != nil {
			return nil, errors.Wrapf(err, "preset %s", path)
		}
	}
	if ctx.IsSet("tempo") {
		if v := ctx.Float64("tempo"); v > 0 {
			p.Tempo = v
		} else {
			return nil, errors.Errorf("tempo must be > 0, got %g", v)
		}
	}
	if ctx.IsSet("quantization") {
		if v := ctx.Float64("quantization"); v > 0 {
			p.Quantization = v
		} else {
			return nil, errors.Errorf("quantization must be > 0, got %g", v)
		}
	}
	if ctx.IsSet("workers") {
		n, err := preset.ParseWorkers(ctx.String("workers"))
		if err != nil {
			return nil, errors.Wrap(err, "workers")
		}
		p.Workers = n
	}
	if ctx.IsSet("resample") {
		if v := ctx.Int("resample"); v >= 0 {
			p.ResampleTo = v
		} else {
			return nil, errors.Errorf("resample must be >= 0, got %d", v)
		}
	}
	return p, nil
}

// parseShifts parses ID:SEMITONES pairs. A later pair for the same id wins.
func parseShifts(raw []string) (map[int]float64, error) {
	out := make(map[int]float64, len(raw))
	for _, r := range raw {
		id, amount, ok := strings.Cut(strings.TrimSpace(r), ":")
		if !ok {
			return nil, errors.Errorf("shift %q: want ID:SEMITONES", r)
		}
		n, err := strconv.Atoi(strings.TrimSpace(id))
		if err != nil {
			return nil, errors.Wrapf(err, "shift %q: clip id", r)
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(amount), 64)
		if err != nil {
			return nil, errors.Wrapf(err, "shift %q: semitones", r)
		}
		out[n] = v
	}
	return out, nil
}

// readInput decodes path and resamples it when p asks for it.
func readInput(path string, p *preset.Params) (*pcm.Buffer, error) {
	buf, err := wavio.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if p.ResampleTo > 0 && p.ResampleTo != buf.SampleRate {
		log.Debugf("resampling %s from %d Hz to %d Hz", path, buf.SampleRate, p.ResampleTo)
		buf, err = wavio.Resample(buf, p.ResampleTo)
		if err != nil {
			return nil, err
		}
	}
	log.Infof("%s: %d Hz, %d ch, %.3f s", path, buf.SampleRate, buf.NumChannels(), buf.Duration())
	return buf, nil
}

// openSession starts an edit session on path. The returned context is
// cancelled on SIGINT so a running render winds down.
func openSession(path string, p *preset.Params) (context.Context, *session.Controller, error) {
	ctx, cancel := context.WithCancel(context.Background())
	closer.Bind(cancel)

	buf, err := readInput(path, p)
	if err != nil {
		return nil, nil, err
	}
	pl, err := session.NewPipeline(p)
	if err != nil {
		return nil, nil, err
	}
	c, err := session.New(ctx, buf, pl)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "analyze %s", path)
	}
	closer.Bind(func() { c.Close() })
	return ctx, c, nil
}
