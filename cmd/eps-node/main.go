package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/coreos/go-systemd/daemon"
	"github.com/cubesat-eps/eps/cmd/eps-node/subcmd"
	"github.com/cubesat-eps/eps/internal/state"
	"github.com/cubesat-eps/eps/log2"
	"github.com/juju/errors"
	"github.com/mattn/go-isatty"
)

var BuildVersion string = "unknown" // set by ldflags -X

var log = log2.NewStderr(log2.LDebug)

var modules = []subcmd.Mod{
	{Name: "node", Usage: "serve telemetry requests (default)", Main: NodeMain},
	{Name: "probe", Usage: "read sensor once and exit", Main: ProbeMain},
	{Name: "version", Usage: "print build version", Main: nil},
}

func main() {
	flagset := flag.NewFlagSet("eps-node", flag.ContinueOnError)
	flagConfig := flagset.String("config", "eps-node.hcl", "")
	flagset.Usage = func() {
		fmt.Fprintf(flagset.Output(), "Usage: eps-node [options] [command]\n\nOptions:\n")
		flagset.PrintDefaults()
		fmt.Fprintf(flagset.Output(), "\nCommands:\n")
		for _, m := range modules {
			fmt.Fprintf(flagset.Output(), "  %-8s %s\n", m.Name, m.Usage)
		}
	}
	if err := flagset.Parse(os.Args[1:]); err != nil {
		if err == flag.ErrHelp {
			os.Exit(0)
		}
		log.Fatal(err)
	}
	command := flagset.Arg(0)
	if command == "" {
		command = "node"
	}
	mod, err := subcmd.Parse(command, modules)
	if err != nil {
		log.Fatal(err)
	}
	if mod.Name == "version" {
		fmt.Printf("eps-node %s\n", BuildVersion)
		return
	}

	if subcmd.SdNotify("start") {
		// under systemd journal, it adds timestamps
		log.SetFlags(log2.LServiceFlags)
	} else if isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd()) {
		log.SetFlags(log2.LInteractiveFlags)
	} else {
		log.SetFlags(log2.LServiceFlags)
	}
	log.Infof("eps-node version=%s command=%s", BuildVersion, mod.Name)

	ctx, g := state.NewContext(log)
	g.BuildVersion = BuildVersion
	config := state.MustReadConfig(log, state.NewOsFullReader(), *flagConfig)
	log.Debugf("config=%+v", config)

	if err := mod.Main(ctx, config); err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
}

func NodeMain(ctx context.Context, config *state.Config) error {
	g := state.GetGlobal(ctx)
	g.MustInit(ctx, config)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1)
	go func() {
		for sig := range sigCh {
			if sig == syscall.SIGUSR1 {
				logStat(g)
				continue
			}
			g.Log.Infof("signal=%v, stopping", sig)
			subcmd.SdNotify(daemon.SdNotifyStopping)
			cancel()
			return
		}
	}()

	subcmd.SdNotify(daemon.SdNotifyReady)
	err := g.Run(ctx)
	signal.Stop(sigCh)
	logStat(g)
	g.Stop()
	return err
}

func logStat(g *state.Global) {
	g.Log.Infof("stat service %s pool inuse=%d/%d", g.Service.Stat().String(), g.Pool.InUse(), g.Pool.Cap())
	if bs := g.BusStat(); bs != nil {
		g.Log.Infof("stat spibus %s", bs.String())
	}
	if g.Mirror != nil {
		g.Log.Infof("stat mirror %s", g.Mirror.Stat().String())
	}
}

func ProbeMain(ctx context.Context, config *state.Config) error {
	g := state.GetGlobal(ctx)
	config.Mirror.Enable = false
	config.Sensor.Enable = true
	g.MustInit(ctx, config)
	defer g.Stop()
	if g.Assembler == nil {
		return errors.Errorf("sensor unavailable, see log")
	}

	id, err := g.Hardware.Sensor.ChipID()
	if err != nil {
		return errors.Annotate(err, "chip id")
	}
	raw, err := g.Hardware.Sensor.ReadRawSample()
	if err != nil {
		return errors.Annotate(err, "raw sample")
	}
	record, err := g.Assembler.Collect(ctx)
	if err != nil {
		return errors.Annotate(err, "collect")
	}
	g.Log.Infof("chip_id=%02x raw=%d record=%s", id, raw, record.String())
	return nil
}
