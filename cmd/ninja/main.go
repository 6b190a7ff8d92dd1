// Command ninja is a thin front end over the internal/ninja build engine:
// it parses a minimal manifest subset, scans the graph for dirty targets,
// and runs the scheduler. Flag parsing and manifest lexing are external
// collaborators by design (spec.md §1); this file wires them up end to
// end. Grounded on ninja-go/main.go and ninja-go/ninja.go's ReadFlags.
package main

import (
	"fmt"
	"math"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"git.sr.ht/~sircmpwn/getopt"
	"github.com/fatih/color"

	"majak-go/internal/history"
	"majak-go/internal/ninja"
)

func nowUnix() int64 { return time.Now().Unix() }

func main() {
	if err := run(os.Args); err != nil {
		color.New(color.FgRed).Fprintln(os.Stderr, "ninja: error: "+err.Error())
		os.Exit(1)
	}
}

func run(args []string) error {
	config := ninja.NewBuildConfig()
	inputFile := "build.ninja"
	var targetNames []string

	historyPath := "ninja_history.db"

	opts, optind, err := getopt.Getopts(args[1:], "f:j:k:l:nvC:H:")
	if err != nil {
		return err
	}
	for _, o := range opts {
		switch o.Option {
		case 'f':
			inputFile = o.Value
		case 'H':
			historyPath = o.Value
		case 'j':
			v, err := strconv.Atoi(o.Value)
			if err != nil || v < 0 {
				return fmt.Errorf("invalid -j parameter")
			}
			if v == 0 {
				v = math.MaxInt32
			}
			config.Parallelism = v
		case 'k':
			v, err := strconv.Atoi(o.Value)
			if err != nil {
				return fmt.Errorf("invalid -k parameter")
			}
			config.FailuresAllowed = v
		case 'l':
			v, err := strconv.ParseFloat(o.Value, 64)
			if err != nil {
				return fmt.Errorf("invalid -l parameter")
			}
			config.MaxLoadAverage = v
		case 'n':
			config.DryRun = true
		case 'v':
			config.Verbosity = ninja.Verbose
		case 'C':
			if err := os.Chdir(o.Value); err != nil {
				return err
			}
		}
	}
	targetNames = args[1+optind:]

	disk := ninja.NewRealDiskInterface()

	const cycleLimit = 100
	for cycle := 0; cycle < cycleLimit; cycle++ {
		state := ninja.NewState()

		parser := NewManifestParser(state, disk)
		if err := parser.Load(inputFile); err != nil {
			return err
		}

		buildLog := ninja.NewBuildLog()
		warning, err := buildLog.Load(".ninja_log", state)
		if err != nil {
			return err
		}
		if warning != "" {
			color.New(color.FgYellow).Fprintln(os.Stderr, "ninja: warning: "+warning)
		}
		if err := buildLog.OpenForWrite(".ninja_log", manifestUser{}); err != nil {
			return err
		}
		defer buildLog.Close()

		store, err := history.Open(historyPath)
		if err != nil {
			return fmt.Errorf("opening history store: %w", err)
		}
		defer store.Close()

		status := &consoleStatus{disk: disk, store: store, dryRun: config.DryRun}
		builder := ninja.NewBuilder(state, config, buildLog, disk, status, 0)

		var runner *ninja.RealCommandRunner
		if !config.DryRun {
			runner = ninja.NewRealCommandRunner(config)
			builder.SetRunner(runner)
		}
		stopSignals := catchTerminationSignals(runner)
		defer stopSignals()

		names := targetNames
		if len(names) == 0 {
			names = parser.Defaults()
		}
		if len(names) == 0 {
			return fmt.Errorf("no targets and no default target")
		}

		for _, name := range names {
			if _, err := builder.AddTargetByName(name); err != nil {
				return err
			}
		}

		if builder.AlreadyUpToDate() {
			fmt.Println("ninja: no work to do.")
			return nil
		}

		if err := builder.Build(); err != nil {
			return err
		}
		return nil
	}
	return fmt.Errorf("manifest '%s' still dirty after %d tries, perhaps system time is not set", inputFile, cycleLimit)
}

// catchTerminationSignals forwards SIGINT, SIGTERM, and SIGHUP to runner's
// running process groups (spec.md §5 "Process discipline"/"Cancellation"),
// so the next WaitForCommand call returns Interrupted and Builder.cleanup
// removes partial outputs. Grounded on ninja-go/main.go's TerminateHandler.
// A nil runner (dry run has nothing to signal) makes this a no-op.
func catchTerminationSignals(runner *ninja.RealCommandRunner) func() {
	if runner == nil {
		return func() {}
	}
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	done := make(chan struct{})
	go func() {
		select {
		case sig := <-sigs:
			if unixSig, ok := sig.(syscall.Signal); ok {
				runner.Interrupt(unixSig)
			} else {
				runner.Interrupt(syscall.SIGINT)
			}
		case <-done:
		}
	}()
	return func() {
		signal.Stop(sigs)
		close(done)
	}
}

// manifestUser answers recompaction queries for paths the current manifest
// no longer produces. A from-scratch State on every cycle means this build
// never has stale output knowledge to report, so nothing is ever dead.
type manifestUser struct{}

func (manifestUser) IsPathDead(output string) bool { return false }

// consoleStatus prints build progress the way ninja-go/status_printer.go
// colorizes its errors/warnings, trimmed to what a non-interactive runner
// needs. It also mirrors every successful command into the local history
// store, so ninjahist/ninjastatusd have something to read; a dry run never
// touches real output bytes, so it skips the digest step entirely.
type consoleStatus struct {
	disk   ninja.DiskInterface
	store  *history.Store
	dryRun bool

	started, finished int
}

func (s *consoleStatus) BuildStarted()                {}
func (s *consoleStatus) BuildFinished()               {}
func (s *consoleStatus) EdgeAddedToPlan(e *ninja.Edge) { s.started++ }
func (s *consoleStatus) EdgeRemovedFromPlan(e *ninja.Edge) { s.started-- }

func (s *consoleStatus) EdgeStarted(e *ninja.Edge) {
	if desc := e.GetBinding("description"); desc != "" {
		fmt.Println(desc)
	} else {
		fmt.Println(e.EvaluateCommand(false))
	}
}

func (s *consoleStatus) EdgeFinished(e *ninja.Edge, success bool, output string) {
	s.finished++
	if !success {
		color.New(color.FgRed).Fprintf(os.Stderr, "FAILED: %s\n", e.EvaluateCommand(false))
	}
	if output != "" {
		fmt.Print(output)
	}

	if !success || s.dryRun || e.IsPhony() {
		return
	}
	commandHash := strconv.FormatUint(ninja.HashCommand(e.EvaluateCommand(false)), 16)
	now := nowUnix()
	for _, o := range e.Outputs() {
		mtime, err := s.disk.Stat(o.Path())
		if err != nil {
			continue
		}
		contentHash, err := history.DigestFile(o.Path())
		if err != nil {
			continue
		}
		if err := s.store.RecordBuild(o.Path(), commandHash, contentHash, now, now, mtime); err != nil {
			color.New(color.FgYellow).Fprintf(os.Stderr, "ninja: warning: recording history for %s: %v\n", o.Path(), err)
		}
	}
}
