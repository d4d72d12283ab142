package clicommand

import (
	"fmt"
	"strings"

	"github.com/urfave/cli/v2"
)

// AutoRepoRemoveCommand is a thin one-shot client: it asks the running
// coordinator to drop a set of pkgbases from a target repo and exits with
// the result, rather than embedding any scheduling logic itself.
var AutoRepoRemoveCommand = &cli.Command{
	Name:      "auto-repo-remove",
	Usage:     "remove packages from a target repository",
	ArgsUsage: "<pkgbase> [pkgbase...]",
	Flags: append(busFlags,
		&cli.StringFlag{Name: "arch", EnvVars: []string{"ARCH"}, Required: true},
		&cli.StringFlag{Name: "repo", EnvVars: []string{"REPO"}, Required: true},
		&cli.StringFlag{Name: "builder-image", EnvVars: []string{"BUILDER_IMAGE"}},
	),
	Action: func(c *cli.Context) error {
		pkgbases := c.Args().Slice()
		if len(pkgbases) == 0 {
			return cli.Exit("at least one pkgbase is required", 1)
		}

		b := newBus(c)
		defer b.Close()

		var result struct {
			Success bool `json:"success"`
		}
		err := b.Call(c.Context, "coordinator", "AutoRepoRemove", map[string]any{
			"arch":          c.String("arch"),
			"repo":          c.String("repo"),
			"pkgbases":      pkgbases,
			"builder_image": c.String("builder-image"),
		}, &result)
		if err != nil {
			return cli.Exit(fmt.Sprintf("auto-repo-remove %s: %v", strings.Join(pkgbases, ","), err), 1)
		}
		return nil
	},
}
