package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/funvibe/runevm/internal/config"
	"github.com/funvibe/runevm/internal/modules"
	"github.com/funvibe/runevm/internal/vm"
)

// unitResult is the outcome of running one unit.
type unitResult struct {
	path   string
	value  vm.Value
	output bytes.Buffer
	err    error
}

func cmdRun(ctx context.Context, args []string, trace bool) int {
	name := "run"
	if trace {
		name = "trace"
	}
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	var cf commonFlags
	cf.register(fs)
	workers := fs.Int("workers", 0, "units run at once (overrides the configuration)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	paths := fs.Args()
	if len(paths) == 0 {
		fmt.Fprintf(os.Stderr, "Usage: runevm %s [flags] unit.rnu...\n", name)
		return 2
	}
	if trace && len(paths) > 1 {
		fmt.Fprintln(os.Stderr, "trace takes a single unit")
		return 2
	}

	cfg, err := cf.loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		return 1
	}
	if *workers > 0 {
		cfg.Workers = *workers
	}
	configureLogging(cfg)

	d := newDiagnostics(os.Stderr)

	// A single unit writes straight through; several units buffer their
	// output so it is printed in argument order.
	if len(paths) == 1 {
		res := &unitResult{path: paths[0]}
		var tracer vm.Tracer
		if trace {
			tracer = instructionPrinter(os.Stderr)
		}
		runUnit(ctx, *cfg, cf.entry, res, os.Stdout, tracer)
		return report(d, res, false)
	}

	results := make([]*unitResult, len(paths))
	g := new(errgroup.Group)
	g.SetLimit(cfg.Workers)
	for i, path := range paths {
		res := &unitResult{path: path}
		results[i] = res
		g.Go(func() error {
			runUnit(ctx, *cfg, cf.entry, res, &res.output, nil)
			return res.err
		})
	}
	// Failures are reported per unit below.
	_ = g.Wait()

	status := 0
	for _, res := range results {
		os.Stdout.Write(res.output.Bytes())
		if code := report(d, res, true); code != 0 {
			status = code
		}
	}
	return status
}

// runUnit loads a unit into a fresh VM with its own natives and calls the
// entry function.
func runUnit(ctx context.Context, cfg config.Config, entry string, res *unitResult, out io.Writer, tracer vm.Tracer) {
	u, err := vm.LoadUnitFile(res.path)
	if err != nil {
		res.err = err
		return
	}
	natives, err := modules.NewContext()
	if err != nil {
		res.err = err
		return
	}
	opts := []vm.Option{vm.WithContext(natives), vm.WithConfig(cfg), vm.WithOutput(out)}
	if tracer != nil {
		opts = append(opts, vm.WithTracer(tracer))
	}
	machine := vm.New(opts...)
	if err := machine.Load(u); err != nil {
		res.err = err
		return
	}
	cliLog.Infof("running %s::%s", config.TrimUnitExt(res.path), entry)
	res.value, res.err = machine.Call(ctx, entry)
}

// report prints the result or the diagnostic of one run and returns its
// exit status.
func report(d *diagnostics, res *unitResult, prefixed bool) int {
	if res.err != nil {
		d.runtimeError(res.path, res.err)
		return 1
	}
	if res.value.IsUnit() {
		return 0
	}
	if prefixed {
		fmt.Printf("%s: %s\n", config.TrimUnitExt(res.path), res.value.Inspect())
	} else {
		fmt.Println(res.value.Inspect())
	}
	return 0
}

func instructionPrinter(w io.Writer) vm.Tracer {
	return vm.TracerFunc(func(ev vm.TraceEvent) {
		fmt.Fprintf(w, "#%d %s%s %04d %-14s %s", ev.Task, strings.Repeat("  ", max(ev.Depth-1, 0)), ev.Function, ev.Offset, ev.Op, ev.Span)
		if len(ev.Locals) > 0 {
			fmt.Fprintf(w, " [%s]", strings.Join(ev.Locals, ", "))
		}
		fmt.Fprintln(w)
	})
}

func cmdDump(args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "Usage: runevm dump unit.rnu...")
		return 2
	}
	status := 0
	for _, path := range args {
		u, err := vm.LoadUnitFile(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
			status = 1
			continue
		}
		fmt.Print(vm.Disassemble(u))
	}
	return status
}

func cmdCheck(args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "Usage: runevm check unit.rnu...")
		return 2
	}
	d := newDiagnostics(os.Stderr)
	status := 0
	for _, path := range args {
		if err := checkUnit(path); err != nil {
			d.errorf(path, "%s", err)
			status = 1
			continue
		}
		d.okf(path, "ok")
	}
	return status
}

// checkUnit validates a unit and links it against the standard natives.
func checkUnit(path string) error {
	u, err := vm.LoadUnitFile(path)
	if err != nil {
		return err
	}
	natives, err := modules.NewContext()
	if err != nil {
		return err
	}
	return vm.New(vm.WithContext(natives)).Load(u)
}
