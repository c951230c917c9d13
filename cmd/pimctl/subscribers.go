package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/urfave/cli/v2"

	"github.com/pim-systems/pimd/config"
	"github.com/pim-systems/pimd/protocol"
)

var subscribersCommand = &cli.Command{
	Name:  "subscribers",
	Usage: "list subscribers from the most recent snapshot a running pimd wrote",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "config-dir",
			Usage:   "directory holding subscribers.json (defaults to " + config.EnvConfigDir + ")",
			EnvVars: []string{config.EnvConfigDir},
		},
	},
	Action: func(c *cli.Context) error {
		dir := c.String("config-dir")
		if dir == "" {
			dir = os.Getenv(config.EnvConfigDir)
		}
		if dir == "" {
			dir = "."
		}
		path := filepath.Join(dir, "subscribers.json")

		data, err := os.ReadFile(path)
		if err != nil {
			return cli.Exit(fmt.Sprintf("pimctl: %v (is pimd running with PIMD_CONFIG_DIR set?)", err), 1)
		}
		var snaps []protocol.SubscriberSnapshot
		if err := json.Unmarshal(data, &snaps); err != nil {
			return cli.Exit(fmt.Sprintf("pimctl: parse %s: %v", path, err), 1)
		}

		w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tALL\tCOLLECTIONS\tRESOURCES")
		for _, s := range snaps {
			fmt.Fprintf(w, "%s\t%v\t%v\t%v\n", s.Name, s.AllMonitored, s.Collections, s.Resources)
		}
		return w.Flush()
	},
}
