package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/monokrome/mkOS/internal/cmd"
	internalUtils "github.com/monokrome/mkOS/internal/utils"
	"github.com/monokrome/mkOS/internal/version"
)

// Declarative installs and lifecycle management for encrypted btrfs roots.
func main() {
	app := cli.NewApp()
	app.Name = "mkos"
	app.Usage = "declarative installer and lifecycle manager"
	app.Version = version.GetVersion()
	app.Authors = []*cli.Author{{Name: "mkOS authors"}}
	app.Copyright = "mkOS authors"
	app.Flags = []cli.Flag{
		&cli.BoolFlag{
			Name:    "debug",
			Usage:   "enable debug logging",
			EnvVars: []string{"MKOS_DEBUG"},
		},
	}
	app.Before = func(c *cli.Context) error {
		internalUtils.SetLogger(c.Bool("debug"))
		v := version.Get()
		internalUtils.Log.Debug().Str("commit", v.GitCommit).Str("compiled with", v.GoVersion).Str("version", v.Version).Msg("mkOS")
		return nil
	}
	app.Commands = cmd.Commands

	if err := app.Run(os.Args); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
