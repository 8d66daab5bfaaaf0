package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/funvibe/runevm/internal/config"
)

// Version is set at build time using: -ldflags "-X main.Version=..."
var Version = "dev"

var cliLog = commonlog.GetLogger("runevm.cli")

const usage = `Usage: runevm <command> [flags] unit.rnu...

Commands:
  run      run the entry function of each unit
  trace    run a single unit, printing every executed instruction
  dump     disassemble units
  check    validate units and link them against the standard natives
  version  print the version

Run 'runevm <command> -help' for the flags of a command.
`

// commonFlags are shared by run and trace.
type commonFlags struct {
	configPath string
	entry      string
	verbose    int
	realClock  bool
}

func (c *commonFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&c.configPath, "config", "", "configuration file (default: runevm.yaml/runevm.toml found upwards from the working directory)")
	fs.StringVar(&c.entry, "entry", config.DefaultEntry, "entry function")
	fs.IntVar(&c.verbose, "v", -1, "log verbosity 0-2 (overrides the configuration)")
	fs.BoolVar(&c.realClock, "real-clock", false, "wait on the wall clock for timers")
}

// loadConfig reads the configuration and applies command-line overrides.
func (c *commonFlags) loadConfig() (*config.Config, error) {
	var cfg *config.Config
	var err error
	if c.configPath != "" {
		cfg, err = config.Load(c.configPath)
	} else {
		cfg, err = config.FindAndLoad(".")
	}
	if err != nil {
		return nil, err
	}
	if c.verbose >= 0 {
		cfg.LogVerbosity = c.verbose
	}
	if c.realClock {
		cfg.Clock = config.ClockReal
	}
	return cfg, cfg.Validate()
}

func configureLogging(cfg *config.Config) {
	var path *string
	if cfg.LogFile != "" {
		path = &cfg.LogFile
	}
	commonlog.Configure(cfg.LogVerbosity, path)
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) < 1 {
		fmt.Fprint(os.Stderr, usage)
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "Internal error: %v\n", r)
			os.Exit(3)
		}
	}()

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "run":
		return cmdRun(ctx, rest, false)
	case "trace":
		return cmdRun(ctx, rest, true)
	case "dump":
		return cmdDump(rest)
	case "check":
		return cmdCheck(rest)
	case "version", "-version", "--version":
		fmt.Printf("runevm %s\n", Version)
		return 0
	case "help", "-help", "--help", "-h":
		fmt.Print(usage)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n%s", cmd, usage)
		return 2
	}
}
