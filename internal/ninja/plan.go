package ninja

import (
	"fmt"

	"github.com/ahrtr/gocontainer/queue/priorityqueue"
)

// want classifies how badly Plan needs a given edge built, per spec.md §4.F.
type want int8

const (
	wantNothing  want = iota // not needed, though a dependent might still need it
	wantToStart               // needed, not yet scheduled
	wantToFinish              // scheduled, waiting on completion
)

// edgeResult is the outcome Builder reports back to Plan.EdgeFinished.
type edgeResult int8

const (
	edgeFailed    edgeResult = 0
	edgeSucceeded edgeResult = 1
)

// edgePriority orders the ready queue by descending critical-path weight,
// so the edge that unblocks the longest remaining chain of work runs first.
type edgePriority struct{}

func (edgePriority) Compare(a, b interface{}) (int, error) {
	ea, eb := a.(*Edge), b.(*Edge)
	switch {
	case ea.CriticalPathWeight() > eb.CriticalPathWeight():
		return -1, nil
	case ea.CriticalPathWeight() < eb.CriticalPathWeight():
		return 1, nil
	default:
		return 0, nil
	}
}

// Plan tracks which edges a build run wants to produce and hands them out,
// ready ones first, as their inputs become available. Grounded on
// ninja-go/build_plan.go, trimmed of dyndep support (out of scope).
type Plan struct {
	want map[*Edge]want

	ready priorityqueue.Interface

	targets []*Node

	commandEdges int
	wantedEdges  int

	onEdgeAdded   func(*Edge)
	onEdgeRemoved func(*Edge)
}

func NewPlan() *Plan {
	return &Plan{
		want:  map[*Edge]want{},
		ready: priorityqueue.New().WithComparator(edgePriority{}),
	}
}

// SetPlanListener installs callbacks Builder's status display uses to track
// edges entering/leaving the plan.
func (p *Plan) SetPlanListener(onAdded, onRemoved func(*Edge)) {
	p.onEdgeAdded = onAdded
	p.onEdgeRemoved = onRemoved
}

// AddTarget adds target and its transitive dependencies to the plan.
// Returns an error if target is missing and unbuildable.
func (p *Plan) AddTarget(target *Node) error {
	p.targets = append(p.targets, target)
	_, err := p.addSubTarget(target, nil)
	return err
}

func (p *Plan) addSubTarget(node *Node, dependent *Node) (bool, error) {
	edge := node.InEdge()
	if edge == nil {
		if node.Dirty() {
			referenced := ""
			if dependent != nil {
				referenced = fmt.Sprintf(", needed by '%s',", dependent.Path())
			}
			return false, fmt.Errorf("'%s'%s missing and no known rule to make it", node.Path(), referenced)
		}
		return false, nil
	}

	if edge.OutputsReady() {
		return false, nil
	}

	w, exists := p.want[edge]
	if !exists {
		w = wantNothing
		p.want[edge] = w
	}

	if node.Dirty() && w == wantNothing {
		w = wantToStart
		p.want[edge] = w
		p.edgeWanted(edge)
	}

	for _, in := range edge.inputs {
		if _, err := p.addSubTarget(in, node); err != nil {
			return false, err
		}
	}
	return true, nil
}

func (p *Plan) edgeWanted(edge *Edge) {
	p.wantedEdges++
	if !edge.IsPhony() {
		p.commandEdges++
		if p.onEdgeAdded != nil {
			p.onEdgeAdded(edge)
		}
	}
}

// FindWork pops the highest-priority ready edge, or nil if none is ready.
func (p *Plan) FindWork() *Edge {
	if p.ready.IsEmpty() {
		return nil
	}
	return p.ready.Poll().(*Edge)
}

// MoreToDo reports whether any wanted command edge remains unfinished.
func (p *Plan) MoreToDo() bool {
	return p.wantedEdges > 0 && p.commandEdges > 0
}

// CommandEdgeCount returns the number of non-phony edges the plan wants.
func (p *Plan) CommandEdgeCount() int { return p.commandEdges }

// EdgeFinished marks edge done (succeeded or failed), freeing its pool slot
// and, on success, propagating readiness to the nodes it produced.
func (p *Plan) EdgeFinished(edge *Edge, result edgeResult) error {
	w, ok := p.want[edge]
	if !ok {
		panic("ninja: EdgeFinished on an edge the plan never wanted")
	}
	directlyWanted := w != wantNothing

	if directlyWanted {
		edge.Pool().EdgeFinished(edge)
	}
	edge.Pool().RetrieveReadyEdges(func(e *Edge) { p.ready.Add(e) })

	if result != edgeSucceeded {
		return nil
	}

	if directlyWanted {
		p.wantedEdges--
	}
	delete(p.want, edge)
	edge.outputsReady = true

	for _, o := range edge.outputs {
		if err := p.nodeFinished(o); err != nil {
			return err
		}
	}
	return nil
}

// nodeFinished reschedules any edge waiting on node that has now become
// ready.
func (p *Plan) nodeFinished(node *Node) error {
	for _, oe := range node.OutEdges() {
		if _, ok := p.want[oe]; !ok {
			continue
		}
		if err := p.edgeMaybeReady(oe); err != nil {
			return err
		}
	}
	return nil
}

func (p *Plan) edgeMaybeReady(edge *Edge) error {
	if !edge.AllInputsReady() {
		return nil
	}
	if p.want[edge] != wantNothing {
		p.scheduleWork(edge)
		return nil
	}
	// Not wanted for its own sake, but now ready: drop it immediately so
	// its own dependents can be checked in turn.
	return p.EdgeFinished(edge, edgeSucceeded)
}

// ScheduleWork submits a ready edge to its pool, which either admits it to
// the ready queue right away or delays it if the pool is full.
func (p *Plan) scheduleWork(edge *Edge) {
	if p.want[edge] == wantToFinish {
		// Already scheduled: an edge and one of its dependents can share
		// an order-only input, or a node can be duplicated across output
		// edges (ninja-build/ninja#519). Scheduling twice would corrupt
		// the pool's accounting.
		return
	}
	if p.want[edge] != wantToStart {
		panic("ninja: scheduleWork on an edge that isn't wantToStart")
	}
	p.want[edge] = wantToFinish

	pool := edge.Pool()
	if pool.ShouldDelayEdge(edge) {
		pool.DelayEdge(edge)
		pool.RetrieveReadyEdges(func(e *Edge) { p.ready.Add(e) })
	} else {
		pool.EdgeScheduled(edge)
		p.ready.Add(edge)
	}
}

// CleanNode marks node not-dirty and, for each wanted consumer whose
// non-order-only inputs are now all clean, drops that edge from the plan if
// its outputs turn out not to need rebuilding after all (recursively
// cleaning those outputs), per spec.md §4.F's restat propagation.
func (p *Plan) CleanNode(scan *DependencyScan, node *Node) error {
	node.SetDirty(false)

	for _, oe := range node.OutEdges() {
		w, ok := p.want[oe]
		if !ok || w == wantNothing {
			continue
		}
		if oe.depsMissing {
			continue
		}

		end := len(oe.inputs) - oe.orderOnlyDeps
		anyDirty := false
		for i := 0; i < end; i++ {
			if oe.inputs[i].Dirty() {
				anyDirty = true
				break
			}
		}
		if anyDirty {
			continue
		}

		var mostRecentInput *Node
		for i := 0; i < end; i++ {
			if mostRecentInput == nil || oe.inputs[i].Mtime() > mostRecentInput.Mtime() {
				mostRecentInput = oe.inputs[i]
			}
		}

		outputsDirty, err := scan.RecomputeOutputsDirty(oe, mostRecentInput)
		if err != nil {
			return err
		}
		if outputsDirty {
			continue
		}

		for _, o := range oe.outputs {
			if err := p.CleanNode(scan, o); err != nil {
				return err
			}
		}

		p.want[oe] = wantNothing
		p.wantedEdges--
		if !oe.IsPhony() {
			p.commandEdges--
			if p.onEdgeRemoved != nil {
				p.onEdgeRemoved(oe)
			}
		}
	}
	return nil
}

// Reset clears the plan's want and ready sets, for a fresh build run.
func (p *Plan) Reset() {
	p.commandEdges = 0
	p.wantedEdges = 0
	p.ready.Clear()
	p.want = map[*Edge]want{}
}

// PrepareQueue computes critical-path weights over the targets added so far
// and seeds the ready queue with every edge whose inputs are already
// satisfied. Must run once, after all AddTarget calls and before FindWork.
func (p *Plan) PrepareQueue() {
	p.computeCriticalPath()
	p.scheduleInitialEdges()
}

func edgeWeightHeuristic(e *Edge) int64 {
	if e.IsPhony() {
		return 0
	}
	return 1
}

// computeCriticalPath topologically sorts every edge reachable from the
// plan's targets, then walks it in reverse assigning each edge a weight
// equal to the longest chain of (itself plus its consumers) still to run.
func (p *Plan) computeCriticalPath() {
	visited := map[*Edge]bool{}
	var sorted []*Edge

	var visit func(*Edge)
	visit = func(e *Edge) {
		if visited[e] {
			return
		}
		visited[e] = true
		for _, in := range e.inputs {
			if producer := in.InEdge(); producer != nil {
				visit(producer)
			}
		}
		sorted = append(sorted, e)
	}
	for _, target := range p.targets {
		if producer := target.InEdge(); producer != nil {
			visit(producer)
		}
	}

	for _, e := range sorted {
		e.setCriticalPathWeight(edgeWeightHeuristic(e))
	}
	for i := len(sorted) - 1; i >= 0; i-- {
		e := sorted[i]
		weight := e.CriticalPathWeight()
		for _, in := range e.inputs {
			producer := in.InEdge()
			if producer == nil {
				continue
			}
			candidate := weight + edgeWeightHeuristic(producer)
			if candidate > producer.CriticalPathWeight() {
				producer.setCriticalPathWeight(candidate)
			}
		}
	}
}

// scheduleInitialEdges admits every wantToStart edge whose inputs are
// already ready. Each admission goes through scheduleWork so a delayed
// edge is promoted to wantToFinish exactly as a later-discovered one would
// be; skipping that promotion here would let scheduleWork re-admit the same
// edge a second time once its pool frees up.
func (p *Plan) scheduleInitialEdges() {
	if !p.ready.IsEmpty() {
		panic("ninja: scheduleInitialEdges called with a non-empty ready queue")
	}
	for edge, w := range p.want {
		if w != wantToStart || !edge.AllInputsReady() {
			continue
		}
		p.scheduleWork(edge)
	}
}
