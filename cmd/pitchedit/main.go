package main

import (
	"os"

	"github.com/urfave/cli"
)

var version = "0.1.0"

func main() {
	app := cli.NewApp()
	app.Name = "pitchedit"
	app.Version = version
	app.Usage = "Detects notes in a recording and re-pitches them clip by clip"
	app.HelpName = "pitchedit"

	app.Commands = []cli.Command{
		analyzeCmd,
		transposeCmd,
		diffCmd,
	}

	app.Action = func(ctx *cli.Context) error {
		cli.ShowAppHelp(ctx)
		return nil
	}

	app.Run(os.Args)
}
