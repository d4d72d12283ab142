// Command chaotic-manager runs the coordinator, builder, database, and log
// server roles of the build orchestrator described in the project's
// specification, each as a subcommand sharing the same bus configuration.
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/chaotic-cx/chaotic-manager-sub000/clicommand"
)

const version = "0.1.0"

func main() {
	app := &cli.App{
		Name:    "chaotic-manager",
		Usage:   "distributed package build orchestrator",
		Version: version,
		Commands: []*cli.Command{
			clicommand.ScheduleCommand,
			clicommand.BuilderCommand,
			clicommand.DatabaseCommand,
			clicommand.WebCommand,
			clicommand.AutoRepoRemoveCommand,
		},
		ErrWriter: os.Stderr,
		CommandNotFound: func(c *cli.Context, command string) {
			fmt.Fprintf(os.Stderr, "chaotic-manager: unknown subcommand %q\n", command)
			fmt.Fprintf(os.Stderr, "Run '%s --help' for usage.\n", c.App.Name)
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
