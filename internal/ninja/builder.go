package ninja

import (
	"errors"
	"fmt"
	"os"
	"time"
)

func nowMillis() int64 { return time.Now().UnixMilli() }

// Verbosity controls how much status output Builder prints per command.
type Verbosity int8

const (
	Quiet Verbosity = iota
	NoStatusUpdate
	Normal
	Verbose
)

// BuildConfig holds the knobs a build run is started with. Grounded on
// ninja-go/build.go's BuildConfig.
type BuildConfig struct {
	Verbosity            Verbosity
	DryRun               bool
	Parallelism          int
	FailuresAllowed      int
	MaxLoadAverage       float64
	DepfileParserOptions DepfileParserOptions
	KeepDepfile          bool
	KeepRspFile          bool

	// MsvcDepsBaseDir is the directory msvc /showIncludes paths are
	// relativized against (deps=msvc edges). Defaults to ".", the
	// directory ninja itself was invoked from.
	MsvcDepsBaseDir string
}

func NewBuildConfig() *BuildConfig {
	return &BuildConfig{
		Verbosity:       Normal,
		Parallelism:     1,
		FailuresAllowed: 1,
		MaxLoadAverage:  -1.0,
		MsvcDepsBaseDir: ".",
	}
}

// StatusListener receives progress callbacks as the build runs. All methods
// are optional; a nil StatusListener disables reporting.
type StatusListener interface {
	BuildStarted()
	BuildFinished()
	EdgeAddedToPlan(edge *Edge)
	EdgeRemovedFromPlan(edge *Edge)
	EdgeStarted(edge *Edge)
	EdgeFinished(edge *Edge, success bool, output string)
}

// Builder drives a single build run to completion: it keeps a Plan wanting
// edges, hands ready ones to a Runner up to the configured parallelism, and
// records each completion to the build log and deps log. Grounded on
// ninja-go/build.go's Builder, trimmed of dyndep support.
type Builder struct {
	state  *State
	config *BuildConfig
	plan   *Plan
	runner Runner
	status StatusListener

	scan *DependencyScan
	disk DiskInterface

	startedAt map[*Edge]int64
	startTime int64

	lockFilePath string
}

func NewBuilder(state *State, config *BuildConfig, buildLog *BuildLog, disk DiskInterface, status StatusListener, now int64) *Builder {
	b := &Builder{
		state:     state,
		config:    config,
		plan:      NewPlan(),
		status:    status,
		disk:      disk,
		startedAt: map[*Edge]int64{},
		startTime: now,
	}
	b.scan = NewDependencyScan(state, buildLog, disk)
	if status != nil {
		b.plan.SetPlanListener(status.EdgeAddedToPlan, status.EdgeRemovedFromPlan)
	}
	b.lockFilePath = ".ninja_lock"
	if buildDir := state.Bindings().LookupVariable("builddir"); buildDir != "" {
		b.lockFilePath = buildDir + "/" + b.lockFilePath
	}
	return b
}

func (b *Builder) SetRunner(r Runner) { b.runner = r }

// AddTargetByName looks up a node by path and adds it to the plan.
func (b *Builder) AddTargetByName(name string) (*Node, error) {
	node := b.state.LookupNode(name)
	if node == nil {
		return nil, fmt.Errorf("unknown target: '%s'", name)
	}
	if err := b.AddTarget(node); err != nil {
		return nil, err
	}
	return node, nil
}

// AddTarget scans target's dirtiness and, if it (or its producing edge's
// outputs) isn't already up to date, adds it to the plan.
func (b *Builder) AddTarget(target *Node) error {
	if err := b.scan.RecomputeDirty(target); err != nil {
		return err
	}
	inEdge := target.InEdge()
	if inEdge == nil || !inEdge.OutputsReady() {
		if err := b.plan.AddTarget(target); err != nil {
			return err
		}
	}
	return nil
}

// AlreadyUpToDate reports whether every target added so far needs no work.
func (b *Builder) AlreadyUpToDate() bool {
	return !b.plan.MoreToDo()
}

// Build runs the main start/wait loop until every wanted edge has finished
// or a failure budget is exhausted. It is an error to call this when
// AlreadyUpToDate() is true.
func (b *Builder) Build() error {
	if b.AlreadyUpToDate() {
		panic("ninja: Build called with nothing to do")
	}
	b.plan.PrepareQueue()

	pendingCommands := 0
	failuresAllowed := b.config.FailuresAllowed

	if b.runner == nil {
		if b.config.DryRun {
			b.runner = NewDryRunCommandRunner()
		} else {
			b.runner = NewRealCommandRunner(b.config)
		}
	}

	if b.status != nil {
		b.status.BuildStarted()
	}

	for b.plan.MoreToDo() {
		if failuresAllowed != 0 {
			capacity := b.runner.CanRunMore()
			for capacity > 0 {
				edge := b.plan.FindWork()
				if edge == nil {
					break
				}

				if edge.GetBindingBool("generator") && b.scan.BuildLog() != nil {
					b.scan.BuildLog().Close()
				}

				if err := b.startEdge(edge); err != nil {
					b.cleanup()
					if b.status != nil {
						b.status.BuildFinished()
					}
					return err
				}

				if edge.IsPhony() {
					if err := b.plan.EdgeFinished(edge, edgeSucceeded); err != nil {
						b.cleanup()
						if b.status != nil {
							b.status.BuildFinished()
						}
						return err
					}
					continue
				}

				pendingCommands++
				capacity--
				if cur := b.runner.CanRunMore(); cur < capacity {
					capacity = cur
				}
			}

			if pendingCommands == 0 && !b.plan.MoreToDo() {
				break
			}
		}

		if pendingCommands != 0 {
			result, ok := b.runner.WaitForCommand()
			if !ok || result.Status == ExitInterrupted {
				b.cleanup()
				if b.status != nil {
					b.status.BuildFinished()
				}
				return errors.New("interrupted by user")
			}

			pendingCommands--
			if err := b.finishCommand(result); err != nil {
				b.cleanup()
				if b.status != nil {
					b.status.BuildFinished()
				}
				return err
			}

			if result.Status != ExitSuccess && failuresAllowed != 0 {
				failuresAllowed--
			}
			continue
		}

		if b.status != nil {
			b.status.BuildFinished()
		}
		switch {
		case failuresAllowed == 0 && b.config.FailuresAllowed > 1:
			return errors.New("subcommands failed")
		case failuresAllowed == 0:
			return errors.New("subcommand failed")
		case failuresAllowed < b.config.FailuresAllowed:
			return errors.New("cannot make progress due to previous errors")
		default:
			return errors.New("stuck [this is a bug]")
		}
	}

	if b.status != nil {
		b.status.BuildFinished()
	}
	return nil
}

func (b *Builder) startEdge(edge *Edge) error {
	if edge.IsPhony() {
		return nil
	}

	b.startedAt[edge] = nowMillis() - b.startTime
	if b.status != nil {
		b.status.EdgeStarted(edge)
	}

	for _, o := range edge.outputs {
		if err := b.disk.MakeDirs(o.Path()); err != nil {
			return err
		}
	}

	if depfile := edge.GetBinding("depfile"); depfile != "" {
		if err := b.disk.MakeDirs(depfile); err != nil {
			return err
		}
	}

	if rspfile := edge.GetBinding("rspfile"); rspfile != "" {
		content := edge.GetBinding("rspfile_content")
		if err := b.disk.WriteFile(rspfile, []byte(content)); err != nil {
			return err
		}
	}

	if err := b.runner.StartCommand(edge); err != nil {
		return fmt.Errorf("command '%s' failed: %w", edge.EvaluateCommand(false), err)
	}
	return nil
}

// finishCommand records a finished command's status, restats its outputs,
// extracts any discovered dependencies, and writes the build/deps logs.
func (b *Builder) finishCommand(result *CommandResult) error {
	edge := result.Edge

	depsType := edge.GetBinding("deps")
	depsPrefix := edge.GetBinding("msvc_deps_prefix")
	var depsNodes []*Node
	if depsType != "" && result.Status == ExitSuccess {
		nodes, err := b.extractDeps(edge, result, depsType, depsPrefix)
		if err != nil {
			result.Status = ExitFailure
			if result.Output != "" {
				result.Output += "\n"
			}
			result.Output += err.Error()
		} else {
			depsNodes = nodes
		}
	}

	startTime := b.startedAt[edge]
	endTime := nowMillis() - b.startTime
	delete(b.startedAt, edge)

	if b.status != nil {
		b.status.EdgeFinished(edge, result.Status == ExitSuccess, result.Output)
	}

	if result.Status != ExitSuccess {
		return b.plan.EdgeFinished(edge, edgeFailed)
	}

	var recordMtime int64
	if !b.config.DryRun {
		restat := edge.GetBindingBool("restat")
		generator := edge.GetBindingBool("generator")
		if restat || generator {
			for _, o := range edge.outputs {
				newMtime, err := b.disk.Stat(o.Path())
				if err != nil {
					return err
				}
				if newMtime > recordMtime {
					recordMtime = newMtime
				}
				if o.Mtime() == newMtime && restat {
					if err := b.plan.CleanNode(b.scan, o); err != nil {
						return err
					}
				}
			}
		}
	}

	if err := b.plan.EdgeFinished(edge, edgeSucceeded); err != nil {
		return err
	}

	if rspfile := edge.GetBinding("rspfile"); rspfile != "" && !b.config.KeepRspFile {
		if err := b.disk.RemoveFile(rspfile); err != nil {
			return err
		}
	}

	if b.scan.BuildLog() != nil {
		if err := b.scan.BuildLog().RecordCommand(edge, int32(startTime), int32(endTime), recordMtime); err != nil {
			return fmt.Errorf("writing to build log: %w", err)
		}
	}

	if depsType != "" && !b.config.DryRun {
		if len(edge.outputs) == 0 {
			panic("ninja: deps=... edge with no outputs should have been rejected earlier")
		}
		for _, o := range edge.outputs {
			depsMtime, err := b.disk.Stat(o.Path())
			if err != nil {
				return err
			}
			if b.scan.BuildLog() != nil {
				if err := b.scan.BuildLog().RecordDeps(o, depsMtime, depsNodes); err != nil {
					return fmt.Errorf("writing to deps log: %w", err)
				}
			}
		}
	}

	return nil
}

func (b *Builder) extractDeps(edge *Edge, result *CommandResult, depsType, depsPrefix string) ([]*Node, error) {
	switch depsType {
	case "msvc":
		includes, filtered := ParseShowIncludes(result.Output, depsPrefix, b.config.MsvcDepsBaseDir)
		result.Output = filtered
		nodes := make([]*Node, 0, len(includes))
		for _, inc := range includes {
			n, err := b.state.GetNode(inc, ^uint64(0))
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, n)
		}
		return nodes, nil

	case "gcc":
		depfile := edge.GetBinding("depfile")
		if depfile == "" {
			return nil, errors.New("edge with deps=gcc but no depfile makes no sense")
		}
		content, status, err := b.disk.ReadFile(depfile)
		if status == ReadNotFound {
			return nil, nil
		}
		if status == ReadError {
			return nil, err
		}
		if len(content) == 0 {
			return nil, nil
		}
		_, ins, err := ParseDepfile(string(content))
		if err != nil {
			return nil, err
		}
		nodes := make([]*Node, 0, len(ins))
		for _, in := range ins {
			n, err := b.state.GetNode(in, 0)
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, n)
		}
		if !b.config.KeepDepfile {
			if err := b.disk.RemoveFile(depfile); err != nil {
				return nil, fmt.Errorf("deleting depfile: %w", err)
			}
		}
		return nodes, nil

	default:
		return nil, fmt.Errorf("unknown deps type '%s'", depsType)
	}
}

// cleanup removes the outputs of any commands still running when the build
// was interrupted, so a retried build doesn't see half-written files.
func (b *Builder) cleanup() {
	if b.runner == nil {
		return
	}
	active := b.runner.GetActiveEdges()
	b.runner.Abort()

	for _, e := range active {
		depfile := e.GetBinding("depfile")
		for _, o := range e.outputs {
			newMtime, err := b.disk.Stat(o.Path())
			if err != nil {
				continue
			}
			if depfile != "" || o.Mtime() != newMtime {
				_ = b.disk.RemoveFile(o.Path())
			}
		}
		if depfile != "" {
			_ = b.disk.RemoveFile(depfile)
		}
	}

	if _, err := os.Stat(b.lockFilePath); err == nil {
		_ = b.disk.RemoveFile(b.lockFilePath)
	}
}
