package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/pim-systems/pimd/model"
	"github.com/pim-systems/pimd/store"
	"github.com/pim-systems/pimd/tree"
)

var treeCommand = &cli.Command{
	Name:  "tree",
	Usage: "dump the collection tree hydrated from a pimd store",
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

		collTree := tree.New(db)
		if err := collTree.Hydrate(context.Background()); err != nil {
			return cli.Exit(fmt.Sprintf("pimctl: hydrate tree: %v", err), 1)
		}

		// ask for a depth deep enough to cover any realistic collection forest
		// (tree.Cache treats a negative depth as unbounded as well).
		colls, err := collTree.Retrieve(context.Background(), tree.ScopeSelector{ID: tree.Root}, 1<<20, 0)
		if err != nil {
			return cli.Exit(fmt.Sprintf("pimctl: retrieve tree: %v", err), 1)
		}

		byParent := map[int64][]*model.Collection{}
		for _, coll := range colls {
			byParent[coll.ParentID] = append(byParent[coll.ParentID], coll)
		}
		printSubtree(byParent, tree.Root, 0)
		return nil
	},
}

func printSubtree(byParent map[int64][]*model.Collection, parentID int64, depth int) {
	for _, coll := range byParent[parentID] {
		fmt.Printf("%s%s (id=%d, resource=%s)\n", strings.Repeat("  ", depth), coll.Name, coll.ID, coll.ResourceID)
		printSubtree(byParent, coll.ID, depth+1)
	}
}
