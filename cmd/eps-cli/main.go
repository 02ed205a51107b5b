package main

import (
	"context"
	"flag"
	"os"
	"time"

	prompt "github.com/c-bata/go-prompt"
	"github.com/cubesat-eps/eps/helpers/cli"
	"github.com/cubesat-eps/eps/log2"
	telenet "github.com/cubesat-eps/eps/tele/net"
	"github.com/juju/errors"
)

const usage = `syntax: one command per line
- ping [N]         request telemetry N times (default 1), decode reply
- port P [XX...]   send hex payload to port P, show raw reply
- stat             client session counters
- log=yes          enable debug logging
- log=no           disable debug logging
- help
- exit
`

var log = log2.NewStderr(log2.LInfo)

func main() {
	cmdline := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	flagURL := cmdline.String("url", "tcp://127.0.0.1:7001", "node address, tcp://host:port or unix:///path")
	flagNode := cmdline.Uint("node", uint(telenet.AddrNode), "node address")
	flagSelf := cmdline.Uint("self", uint(telenet.AddrController), "own address")
	flagTimeout := cmdline.Duration("timeout", time.Second, "request timeout")
	cmdline.Parse(os.Args[1:])

	log.SetFlags(log2.LInteractiveFlags)
	if *flagNode > 0xff || *flagSelf > 0xff {
		log.Fatalf("address out of range node=%d self=%d", *flagNode, *flagSelf)
	}

	client, err := telenet.NewClient(telenet.ClientOptions{
		ConnOptions: telenet.ConnOptions{
			Log:            log,
			Node:           telenet.Addr(*flagSelf),
			NetworkTimeout: *flagTimeout,
		},
		URL: *flagURL,
	})
	if err != nil {
		log.Fatal(errors.ErrorStack(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := &session{
		client:  client,
		log:     log,
		node:    telenet.Addr(*flagNode),
		out:     os.Stdout,
		timeout: *flagTimeout,
	}
	cli.MainLoop("eps-cli", newExecutor(ctx, s), newCompleter(), func(os.Signal) {
		cancel()
		os.Exit(1)
	})
}

func newCompleter() cli.Completer {
	suggests := []prompt.Suggest{
		{Text: "ping", Description: "request telemetry"},
		{Text: "port", Description: "send to port, show raw reply"},
		{Text: "stat", Description: "client counters"},
		{Text: "log=yes", Description: "debug logging on"},
		{Text: "log=no", Description: "debug logging off"},
		{Text: "help"},
		{Text: "exit"},
	}
	return func(d prompt.Document) []prompt.Suggest {
		return prompt.FilterHasPrefix(suggests, d.GetWordBeforeCursor(), true)
	}
}

func newExecutor(ctx context.Context, s *session) cli.Executor {
	return func(line string) {
		if err := s.exec(ctx, line); err != nil {
			s.log.Error(err)
		}
	}
}
