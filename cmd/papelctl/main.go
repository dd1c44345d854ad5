// Command papelctl runs ledger operations against the configured backend
// without going through the HTTP API.
package main

import (
	"context"
	"flag"
	"os"
	"path"

	"papelflow/internal/cli"

	"github.com/google/subcommands"
)

func main() {
	cli.LoadEnvFile()

	commander := subcommands.NewCommander(flag.CommandLine, path.Base(os.Args[0]))
	commander.Register(commander.HelpCommand(), "")
	commander.Register(commander.FlagsCommand(), "")
	commander.Register(commander.CommandsCommand(), "")
	register(commander)

	flag.Parse()
	os.Exit(int(commander.Execute(context.Background())))
}

func register(c *subcommands.Commander) {
	c.Register(&accountCmd{}, "ledger")
	c.Register(&postCmd{}, "ledger")
	c.Register(&deleteCmd{}, "ledger")
	c.Register(&repairCmd{}, "ledger")
	c.Register(&verifyCmd{}, "ledger")

	c.Register(&obligationCmd{}, "recurring")
	c.Register(&runSchedulerCmd{}, "recurring")
	c.Register(&remindersCmd{}, "recurring")
	c.Register(&pruneCmd{}, "recurring")

	c.Register(&statsCmd{}, "insights")
	c.Register(&adherenceCmd{}, "insights")
	c.Register(&forecastCmd{}, "insights")
	c.Register(&healthCmd{}, "insights")
}
