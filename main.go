package main

import (
	"context"
	"flag"
	"os"

	"github.com/google/subcommands"
)

func main() {
	commander := subcommands.NewCommander(flag.CommandLine, "crypto-market")
	commander.Register(commander.HelpCommand(), "")
	commander.Register(commander.FlagsCommand(), "")
	commander.Register(commander.CommandsCommand(), "")
	commander.Register(&serveCmd{}, "")
	commander.Register(&migrateCmd{}, "ledger")
	commander.Register(&clearCmd{}, "ledger")
	commander.Register(&seedCmd{}, "ledger")

	flag.Parse()
	if flag.NArg() == 0 {
		// Bare invocation starts the server.
		os.Exit(int((&serveCmd{}).Execute(context.Background(), flag.CommandLine)))
	}
	os.Exit(int(commander.Execute(context.Background())))
}
