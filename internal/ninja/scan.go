package ninja

import (
	"errors"
	"fmt"

	"github.com/edwingeng/deque"
)

// DependencyScan walks the graph from a requested node, computing
// dirtiness from mtimes, command hashes, and recorded deps. Grounded on
// ninja-go/graph.go's DependencyScan, simplified to the spec's pure
// mtime/hash/restat model (no content-hash dirtiness).
type DependencyScan struct {
	state    *State
	buildLog *BuildLog
	disk     DiskInterface
	options  DepfileParserOptions
}

func NewDependencyScan(state *State, buildLog *BuildLog, disk DiskInterface) *DependencyScan {
	return &DependencyScan{state: state, buildLog: buildLog, disk: disk}
}

func (s *DependencyScan) BuildLog() *BuildLog { return s.buildLog }

// RecomputeDirty updates the dirty state of node and everything it
// transitively depends on.
func (s *DependencyScan) RecomputeDirty(node *Node) error {
	q := deque.NewDeque()
	q.PushBack(node)
	for q.Len() != 0 {
		n := q.Front().(*Node)
		q.PopFront()
		var stack []*Node
		if err := s.recomputeNodeDirty(n, &stack); err != nil {
			return err
		}
	}
	return nil
}

func (s *DependencyScan) recomputeNodeDirty(node *Node, stack *[]*Node) error {
	edge := node.InEdge()
	if edge == nil {
		if node.StatusKnown() {
			return nil
		}
		if err := node.StatIfNecessary(s.disk); err != nil {
			return err
		}
		node.SetDirty(!node.Exists())
		return nil
	}

	if edge.mark == VisitDone {
		return nil
	}

	if err := s.verifyDAG(node, edge, stack); err != nil {
		return err
	}

	edge.mark = VisitInStack
	*stack = append(*stack, node)
	defer func() {
		edge.mark = VisitDone
		*stack = (*stack)[:len(*stack)-1]
	}()

	dirty := false
	edge.outputsReady = true
	edge.depsMissing = false

	for _, o := range edge.outputs {
		if err := o.StatIfNecessary(s.disk); err != nil {
			return err
		}
	}

	if !edge.depsLoaded {
		edge.depsLoaded = true
		if err := s.loadDiscoveredDeps(edge); err != nil {
			edge.depsMissing = true
			dirty = true
		}
	}

	for _, in := range edge.inputs {
		if err := s.recomputeNodeDirty(in, stack); err != nil {
			return err
		}
		if ie := in.InEdge(); ie != nil && !ie.outputsReady {
			edge.outputsReady = false
		}
	}

	var mostRecentInput *Node
	for i, in := range edge.inputs {
		if edge.isOrderOnly(i) {
			continue
		}
		if in.Dirty() {
			dirty = true
		}
		if mostRecentInput == nil || in.Mtime() > mostRecentInput.Mtime() {
			mostRecentInput = in
		}
	}

	if !dirty {
		outputsDirty, err := s.RecomputeOutputsDirty(edge, mostRecentInput)
		if err != nil {
			return err
		}
		dirty = outputsDirty
	}

	for _, o := range edge.outputs {
		if dirty {
			o.SetDirty(true)
		}
	}

	if dirty && !(edge.IsPhony() && len(edge.inputs) == 0) {
		edge.outputsReady = false
	}

	return nil
}

// loadDiscoveredDeps loads the recorded deps for edge's single output (only
// deps=gcc|msvc edges have one) and splices them into the edge's input
// list at [explicit+implicit, explicit+implicit+|deps|), per spec.md §4.E
// step 3. If the recorded mtime is older than the output's mtime, the edge
// is force-dirtied via depsMissing.
func (s *DependencyScan) loadDiscoveredDeps(edge *Edge) error {
	deps := edge.GetBinding("deps")
	if deps != "gcc" && deps != "msvc" {
		return nil
	}
	if s.buildLog == nil || len(edge.outputs) == 0 {
		return fmt.Errorf("no deps log available for deps=%s edge", deps)
	}
	out := edge.outputs[0]
	d := s.buildLog.GetDeps(out)
	if d == nil {
		return fmt.Errorf("deps not yet recorded for %s", out.Path())
	}
	if d.Mtime < out.Mtime() {
		return fmt.Errorf("recorded deps for %s are older than its mtime", out.Path())
	}

	insertAt := len(edge.inputs) - edge.orderOnlyDeps
	newInputs := make([]*Node, 0, len(edge.inputs)+len(d.Nodes))
	newInputs = append(newInputs, edge.inputs[:insertAt]...)
	newInputs = append(newInputs, d.Nodes...)
	newInputs = append(newInputs, edge.inputs[insertAt:]...)
	edge.inputs = newInputs
	edge.implicitDeps += len(d.Nodes)
	for _, n := range d.Nodes {
		n.addOutEdge(edge)
	}
	return nil
}

// RecomputeOutputsDirty reports whether any output of edge is dirty.
func (s *DependencyScan) RecomputeOutputsDirty(edge *Edge, mostRecentInput *Node) (bool, error) {
	command := edge.EvaluateCommand(true)
	for _, o := range edge.outputs {
		dirty, err := s.recomputeOutputDirty(edge, mostRecentInput, command, o)
		if err != nil {
			return false, err
		}
		if dirty {
			return true, nil
		}
	}
	return false, nil
}

func (s *DependencyScan) recomputeOutputDirty(edge *Edge, mostRecentInput *Node, command string, output *Node) (bool, error) {
	if edge.IsPhony() {
		if len(edge.inputs) == 0 && !output.Exists() {
			return true, nil
		}
		return false, nil
	}

	if !output.Exists() {
		return true, nil
	}

	restat := edge.GetBindingBool("restat")

	var entry *LogEntry
	if s.buildLog != nil {
		entry = s.buildLog.LookupByOutput(output.Path())
	}

	if restat && entry != nil {
		// A restat rule's recorded mtime stands in for the output's own
		// mtime comparison: dirty only if an input changed since the
		// recorded run, or the log records a newer mtime than the output
		// currently has (a deleted output the last run produced).
		if mostRecentInput != nil && entry.Mtime < mostRecentInput.Mtime() {
			return true, nil
		}
		if entry.Mtime > output.Mtime() {
			return true, nil
		}
	} else if mostRecentInput != nil && output.Mtime() < mostRecentInput.Mtime() {
		return true, nil
	}

	if entry == nil {
		// No log entry at all: first build for this output.
		return s.buildLog != nil, nil
	}

	if entry.CommandHash != HashCommand(command) {
		return true, nil
	}

	return false, nil
}

func (s *DependencyScan) verifyDAG(node *Node, edge *Edge, stack *[]*Node) error {
	if edge.mark != VisitInStack {
		return nil
	}
	msg := "dependency cycle: "
	for _, n := range *stack {
		msg += n.Path() + " -> "
	}
	msg += node.Path()
	if len(*stack) == 0 && edge.maybePhonycycleDiagnostic() {
		msg += " [-w phonycycle=err]"
	}
	return errors.New(msg)
}
