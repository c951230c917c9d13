// Command pimctl is a read-only administration CLI for a pimd deployment:
// it never talks the wire protocol to a running server (spec's non-goals
// exclude building that client here), it only inspects what a server
// leaves on disk.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v2"

	"github.com/pim-systems/pimd/config"
)

func main() {
	app := &cli.App{
		Name:  "pimctl",
		Usage: "inspect a pimd deployment's on-disk state",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config-dir",
				Usage:   "directory holding pimd.ini (defaults to " + config.EnvConfigDir + ")",
				EnvVars: []string{config.EnvConfigDir},
			},
		},
		Commands: []*cli.Command{
			subscribersCommand,
			treeCommand,
			statsCommand,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	dir := c.String("config-dir")
	if dir == "" {
		return config.Load()
	}
	return config.LoadFile(filepath.Join(dir, config.FileName))
}
