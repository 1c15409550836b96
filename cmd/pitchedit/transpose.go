package main

import (
	"os"
	"strings"

	"github.com/cwbudde/algo-pitchedit/internal/log"
	"github.com/cwbudde/algo-pitchedit/internal/wavio"
	"github.com/cwbudde/algo-pitchedit/preset"
	"github.com/cwbudde/algo-pitchedit/render"
	"github.com/pkg/errors"
	"github.com/urfave/cli"
)

var transposeCmd = cli.Command{
	Name:      "transpose",
	Aliases:   []string{"t"},
	Usage:     "Transposes note clips and writes the re-pitched WAV file",
	ArgsUsage: "<input.wav> <output.wav>",
	Flags: withCommon(
		cli.StringSliceFlag{
			Name:  "shift, s",
			Usage: `Clip transpose as ID:SEMITONES (repeatable)`,
		},
		cli.StringFlag{
			Name:  "shifter",
			Usage: `Pitch shift algorithm (wsola|spectral)`,
		},
		cli.Float64Flag{
			Name:  "crossfade",
			Usage: `Crossfade between clips in milliseconds`,
		},
	),
	Action: func(ctx *cli.Context) error {
		if ctx.NArg() < 2 {
			cli.ShowCommandHelp(ctx, "transpose")
			os.Exit(1)
		}
		setLogLevel(ctx)
		p, err := loadParams(ctx)
		if err != nil {
			return cli.NewExitError(err, 1)
		}
		if err := applyRenderFlags(ctx, p); err != nil {
			return cli.NewExitError(err, 1)
		}
		shifts, err := parseShifts(ctx.StringSlice("shift"))
		if err != nil {
			return cli.NewExitError(err, 1)
		}
		amounts := mergeShifts(p.Transposes, shifts)

		args := ctx.Args()
		rctx, c, err := openSession(args[0], p)
		if err != nil {
			return cli.NewExitError(err, 1)
		}
		defer c.Close()

		if len(amounts) == 0 {
			log.Warnf("no shifts given; writing the input unchanged")
		}
		if err := c.TransposeAll(amounts); err != nil {
			return cli.NewExitError(err, 1)
		}
		snap, err := c.Wait(rctx)
		if err != nil {
			return cli.NewExitError(err, 1)
		}
		if snap.Err != nil {
			return cli.NewExitError(snap.Err, 1)
		}
		if err := wavio.WriteFile(args[1], snap.Buffer); err != nil {
			return cli.NewExitError(errors.Wrapf(err, "export %s", args[1]), 1)
		}
		log.Infof("wrote %s (%d clips after re-segmentation)", args[1], len(snap.Clips))
		if log.Level >= log.LogLevel_Info {
			printClips(os.Stderr, snap.Clips)
		}
		return nil
	},
}

func applyRenderFlags(ctx *cli.Context, p *preset.Params) error {
	if ctx.IsSet("shifter") {
		name := strings.ToLower(ctx.String("shifter"))
		if _, err := render.ParseAlgorithm(name); err != nil {
			return err
		}
		p.Shifter = name
	}
	if ctx.IsSet("crossfade") {
		v := ctx.Float64("crossfade")
		if v <= 0 {
			return errors.Errorf("crossfade must be > 0, got %g", v)
		}
		p.CrossfadeMs = v
	}
	return nil
}

// mergeShifts lays explicit shifts over the preset ones.
func mergeShifts(base, over map[int]float64) map[int]float64 {
	out := make(map[int]float64, len(base)+len(over))
	for id, v := range base {
		out[id] = v
	}
	for id, v := range over {
		out[id] = v
	}
	return out
}
