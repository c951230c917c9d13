package main

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/pim-systems/pimd/statscache"
	"github.com/pim-systems/pimd/store"
)

var statsCommand = &cli.Command{
	Name:  "stats",
	Usage: "recompute and print per-collection item counts and sizes",
	Flags: []cli.Flag{
		&cli.Int64Flag{
			Name:  "collection",
			Usage: "collection id to report; 0 reports every collection",
		},
	},
	Action: func(c *cli.Context) error {
		cfg, err := loadConfig(c)
		if err != nil {
			return cli.Exit(err, 1)
		}

		db, err := store.Open(cfg.Store.Path)
		if err != nil {
			return cli.Exit(fmt.Sprintf("pimctl: open store %s: %v", cfg.Store.Path, err), 1)
		}
		defer db.Close()

		tx, err := db.Begin()
		if err != nil {
			return cli.Exit(fmt.Sprintf("pimctl: begin tx: %v", err), 1)
		}
		defer tx.Rollback()

		cache := statscache.New()
		if err := cache.Prefetch(tx); err != nil {
			return cli.Exit(fmt.Sprintf("pimctl: prefetch: %v", err), 1)
		}

		colls, err := tx.AllCollections()
		if err != nil {
			return cli.Exit(fmt.Sprintf("pimctl: list collections: %v", err), 1)
		}

		target := c.Int64("collection")
		for _, coll := range colls {
			if target != 0 && coll.ID != target {
				continue
			}
			entry, err := cache.Get(tx, coll.ID, coll.Virtual)
			if err != nil {
				return cli.Exit(fmt.Sprintf("pimctl: stats for collection %d: %v", coll.ID, err), 1)
			}
			fmt.Printf("%s (id=%d): count=%d read=%d size=%d\n", coll.Name, coll.ID, entry.Count, entry.Read, entry.Size)
		}
		return nil
	},
}
