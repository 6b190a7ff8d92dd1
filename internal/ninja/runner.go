package ninja

import (
	"os"
	"os/exec"
	"sync"
	"syscall"

	"github.com/mikoim/go-loadavg"
	"github.com/tevino/abool/v2"
)

// ExitStatus reports how a finished command completed.
type ExitStatus int8

const (
	ExitSuccess      ExitStatus = iota
	ExitFailure                 // ran, returned non-zero
	ExitInterrupted             // killed by a signal (e.g. Ctrl-C)
)

// CommandResult is what Runner.WaitForCommand hands back to Builder.
type CommandResult struct {
	Edge   *Edge
	Status ExitStatus
	Output string
}

// Runner is the interface Builder drives; RealCommandRunner and
// DryRunCommandRunner both satisfy it.
type Runner interface {
	CanRunMore() int
	StartCommand(edge *Edge) error
	// WaitForCommand blocks until a command finishes, or returns ok=false
	// if interrupted with nothing to report.
	WaitForCommand() (result *CommandResult, ok bool)
	GetActiveEdges() []*Edge
	Abort()
}

// RealCommandRunner runs edge commands as real child processes, each in its
// own process group (spec.md §5 "Process discipline"), respecting
// BuildConfig's parallelism and load-average ceiling.
type RealCommandRunner struct {
	config *BuildConfig

	mu      sync.Mutex
	running map[*Edge]*runningProcess
	done    chan *CommandResult

	interrupted   *abool.AtomicBool
	interruptedCh chan struct{}
	interruptOnce sync.Once
}

type runningProcess struct {
	cmd *exec.Cmd
}

func NewRealCommandRunner(config *BuildConfig) *RealCommandRunner {
	return &RealCommandRunner{
		config:        config,
		running:       map[*Edge]*runningProcess{},
		done:          make(chan *CommandResult, 64),
		interrupted:   abool.New(),
		interruptedCh: make(chan struct{}),
	}
}

// Interrupt forwards sig (SIGINT, SIGTERM, or SIGHUP) to every running
// child's process group and arranges for the next WaitForCommand to
// return Interrupted, per spec.md §5 "Process discipline"/"Cancellation".
// Safe to call from a signal handler goroutine concurrently with the
// build loop.
func (r *RealCommandRunner) Interrupt(sig syscall.Signal) { r.signalAll(sig) }

func (r *RealCommandRunner) signalAll(sig syscall.Signal) {
	r.interrupted.Set()
	r.interruptOnce.Do(func() { close(r.interruptedCh) })

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.running {
		if p.cmd.Process == nil {
			continue
		}
		// Negative pid targets the whole process group this child was
		// placed in at Start, so grandchildren die too.
		_ = syscall.Kill(-p.cmd.Process.Pid, sig)
	}
}

func (r *RealCommandRunner) CanRunMore() int {
	r.mu.Lock()
	inFlight := len(r.running)
	r.mu.Unlock()

	capacity := float64(r.config.Parallelism - inFlight)

	if r.config.MaxLoadAverage > 0.0 {
		if avail, err := currentLoadAverage(); err == nil {
			loadCapacity := r.config.MaxLoadAverage - avail
			if loadCapacity < capacity {
				capacity = loadCapacity
			}
		}
	}

	if capacity < 0 {
		capacity = 0
	}
	if capacity == 0 && inFlight == 0 {
		// Always let at least one command through so the build makes
		// progress even under a load average over the ceiling.
		capacity = 1
	}
	return int(capacity)
}

func currentLoadAverage() (float64, error) {
	avg, err := loadavg.Parse()
	if err != nil {
		return 0, err
	}
	return avg.LoadAverage1, nil
}

func (r *RealCommandRunner) StartCommand(edge *Edge) error {
	command := edge.EvaluateCommand(false)
	cmd := exec.Command("/bin/sh", "-c", command)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if edge.UseConsole() {
		// console pool edges share the real terminal instead of having
		// their output captured, per the "console" pool's contract.
		cmd.Stdin = os.Stdin
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
	}

	r.mu.Lock()
	r.running[edge] = &runningProcess{cmd: cmd}
	r.mu.Unlock()

	go r.run(edge, cmd)
	return nil
}

func (r *RealCommandRunner) run(edge *Edge, cmd *exec.Cmd) {
	var out []byte
	var err error
	if edge.UseConsole() {
		err = cmd.Run()
	} else {
		out, err = cmd.CombinedOutput()
	}

	status := ExitSuccess
	if r.interrupted.IsSet() {
		status = ExitInterrupted
	} else if err != nil {
		status = ExitFailure
	}

	r.mu.Lock()
	delete(r.running, edge)
	r.mu.Unlock()

	r.done <- &CommandResult{Edge: edge, Status: status, Output: string(out)}
}

func (r *RealCommandRunner) WaitForCommand() (*CommandResult, bool) {
	select {
	case <-r.interruptedCh:
		return nil, false
	case result := <-r.done:
		return result, true
	}
}

func (r *RealCommandRunner) GetActiveEdges() []*Edge {
	r.mu.Lock()
	defer r.mu.Unlock()
	edges := make([]*Edge, 0, len(r.running))
	for e := range r.running {
		edges = append(edges, e)
	}
	return edges
}

// Abort forwards SIGTERM to every running child's process group (§5
// "forwarded to all children on abort()") and marks the runner interrupted.
func (r *RealCommandRunner) Abort() { r.signalAll(syscall.SIGTERM) }

// DryRunCommandRunner simulates running every command successfully without
// touching the filesystem, used by BuildConfig.DryRun.
type DryRunCommandRunner struct {
	finished []*Edge
}

func NewDryRunCommandRunner() *DryRunCommandRunner {
	return &DryRunCommandRunner{}
}

func (r *DryRunCommandRunner) CanRunMore() int { return 1 << 30 }

func (r *DryRunCommandRunner) StartCommand(edge *Edge) error {
	r.finished = append(r.finished, edge)
	return nil
}

func (r *DryRunCommandRunner) WaitForCommand() (*CommandResult, bool) {
	if len(r.finished) == 0 {
		return nil, false
	}
	edge := r.finished[0]
	r.finished = r.finished[1:]
	return &CommandResult{Edge: edge, Status: ExitSuccess}, true
}

func (r *DryRunCommandRunner) GetActiveEdges() []*Edge { return nil }

func (r *DryRunCommandRunner) Abort() { r.finished = nil }
