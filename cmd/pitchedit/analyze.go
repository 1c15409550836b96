package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/cwbudde/algo-pitchedit/notes"
	"github.com/cwbudde/algo-pitchedit/pianoroll"
	"github.com/cwbudde/algo-pitchedit/pitchtrack"
	"github.com/cwbudde/algo-pitchedit/segment"
	"github.com/cwbudde/algo-pitchedit/session"
	"github.com/urfave/cli"
)

var analyzeCmd = cli.Command{
	Name:      "analyze",
	Aliases:   []string{"a"},
	Usage:     "Prints the pitch track and note clips of a WAV file",
	ArgsUsage: "<input.wav>",
	Flags: withCommon(
		cli.BoolFlag{
			Name:  "json, j",
			Usage: `Output JSON`,
		},
		cli.BoolFlag{
			Name:  "roll",
			Usage: `Include the piano roll layout in JSON output`,
		},
		cli.BoolFlag{
			Name:  "track",
			Usage: `List every pitch track frame`,
		},
	),
	Action: func(ctx *cli.Context) error {
		if ctx.NArg() < 1 {
			cli.ShowCommandHelp(ctx, "analyze")
			os.Exit(1)
		}
		setLogLevel(ctx)
		p, err := loadParams(ctx)
		if err != nil {
			return cli.NewExitError(err, 1)
		}
		_, c, err := openSession(ctx.Args()[0], p)
		if err != nil {
			return cli.NewExitError(err, 1)
		}
		defer c.Close()

		snap := c.Snapshot()
		if ctx.Bool("json") {
			table, err := notes.NewTable(p.ReferencePitch)
			if err != nil {
				return cli.NewExitError(err, 1)
			}
			rep, err := newReport(snap, table, ctx.Bool("roll"))
			if err != nil {
				return cli.NewExitError(err, 1)
			}
			j, err := json.MarshalIndent(rep, "", "  ")
			if err != nil {
				return cli.NewExitError(err, 1)
			}
			fmt.Println(string(j))
			return nil
		}
		if ctx.Bool("track") {
			printTrack(os.Stdout, snap.Track)
		}
		printClips(os.Stdout, snap.Clips)
		return nil
	},
}

type report struct {
	SampleRate int                 `json:"sample_rate"`
	Duration   float64             `json:"duration"`
	Track      []pitchtrack.Sample `json:"track"`
	Clips      []segment.Clip      `json:"clips"`
	Roll       *pianoroll.View     `json:"roll,omitempty"`
}

func newReport(snap session.Snapshot, table *notes.Table, roll bool) (*report, error) {
	rep := &report{
		SampleRate: snap.Buffer.SampleRate,
		Duration:   snap.Buffer.Duration(),
		Track:      snap.Track,
		Clips:      snap.Clips,
	}
	if roll {
		v, err := pianoroll.Build(table, snap.Clips, snap.Track, rep.Duration, pianoroll.DefaultLayout())
		if err != nil {
			return nil, err
		}
		rep.Roll = v
	}
	return rep, nil
}

func printTrack(w io.Writer, track []pitchtrack.Sample) {
	for _, s := range track {
		if !s.Voiced() {
			fmt.Fprintf(w, "%8.3f  -\n", s.Start)
			continue
		}
		fmt.Fprintf(w, "%8.3f  %8.2f Hz\n", s.Start, s.Frequency)
	}
}

func printClips(w io.Writer, clips []segment.Clip) {
	for _, c := range clips {
		voiced := ""
		if !c.Voiced {
			voiced = " (unvoiced)"
		}
		fmt.Fprintf(w, "%4d  %-4s %8.3f - %8.3f s  %+6.2f st%s\n",
			c.ID, c.Note.Name, c.Start, c.End, c.Transpose, voiced)
	}
}
