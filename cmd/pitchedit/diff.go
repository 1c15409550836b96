package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/cwbudde/algo-pitchedit/analysis"
	"github.com/cwbudde/algo-pitchedit/internal/log"
	"github.com/cwbudde/algo-pitchedit/internal/wavio"
	"github.com/cwbudde/algo-pitchedit/session"
	"github.com/pkg/errors"
	"github.com/urfave/cli"
	"github.com/xlab/closer"
)

var diffCmd = cli.Command{
	Name:      "diff",
	Usage:     "Compares two WAV files by waveform, spectrum and pitch track",
	ArgsUsage: "<reference.wav> <candidate.wav>",
	Flags: withCommon(
		cli.BoolFlag{
			Name:  "json, j",
			Usage: `Output JSON`,
		},
	),
	Action: func(ctx *cli.Context) error {
		if ctx.NArg() < 2 {
			cli.ShowCommandHelp(ctx, "diff")
			os.Exit(1)
		}
		setLogLevel(ctx)
		p, err := loadParams(ctx)
		if err != nil {
			return cli.NewExitError(err, 1)
		}
		args := ctx.Args()
		ref, err := readInput(args[0], p)
		if err != nil {
			return cli.NewExitError(err, 1)
		}
		cand, err := readInput(args[1], p)
		if err != nil {
			return cli.NewExitError(err, 1)
		}
		if cand.SampleRate != ref.SampleRate {
			log.Debugf("resampling %s to %d Hz", args[1], ref.SampleRate)
			if cand, err = wavio.Resample(cand, ref.SampleRate); err != nil {
				return cli.NewExitError(err, 1)
			}
		}

		audio, err := analysis.CompareBuffers(ref, cand)
		if err != nil {
			return cli.NewExitError(err, 1)
		}

		pl, err := session.NewPipeline(p)
		if err != nil {
			return cli.NewExitError(err, 1)
		}
		rctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		closer.Bind(cancel)
		refTrack, err := pl.Extractor.Extract(rctx, ref)
		if err != nil {
			return cli.NewExitError(errors.Wrapf(err, "pitch track %s", args[0]), 1)
		}
		candTrack, err := pl.Extractor.Extract(rctx, cand)
		if err != nil {
			return cli.NewExitError(errors.Wrapf(err, "pitch track %s", args[1]), 1)
		}
		pitch := analysis.ComparePitch(refTrack, candTrack)

		if ctx.Bool("json") {
			j, err := json.MarshalIndent(struct {
				Audio analysis.Metrics      `json:"audio"`
				Pitch analysis.PitchMetrics `json:"pitch"`
			}{audio, pitch}, "", "  ")
			if err != nil {
				return cli.NewExitError(err, 1)
			}
			fmt.Println(string(j))
			return nil
		}
		fmt.Printf("lag          %d samples\n", audio.LagSamples)
		fmt.Printf("time rmse    %.5f\n", audio.TimeRMSE)
		fmt.Printf("envelope     %.2f dB\n", audio.EnvelopeRMSEDB)
		fmt.Printf("spectrum     %.2f dB\n", audio.SpectralRMSEDB)
		fmt.Printf("score        %.4f (similarity %.4f)\n", audio.Score, audio.Similarity)
		fmt.Printf("pitch frames %d voiced in both, %d voicing mismatches\n", pitch.BothVoiced, pitch.VoicingMismatch)
		fmt.Printf("pitch error  mean %+.1f, mean abs %.1f, max abs %.1f cents\n", pitch.MeanCents, pitch.MeanAbsCents, pitch.MaxAbsCents)
		return nil
	},
}
