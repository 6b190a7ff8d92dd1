package ninja

import (
	"fmt"
	"strings"

	"lukechampine.com/uint128"
)

// NodeStatus is the cached on-disk status of a Node.
type NodeStatus int8

const (
	StatusUnknown NodeStatus = iota
	StatusClean
	StatusDirty
)

// VisitMark is the 3-state mark scan traversal uses to detect cycles.
type VisitMark int8

const (
	VisitNone VisitMark = iota
	VisitInStack
	VisitDone
)

// Node is a path in the build graph.
type Node struct {
	path        string
	slashBits   uint64
	fingerprint uint128.Uint128
	fpValid     bool

	inEdge   *Edge
	outEdges []*Edge

	mtime  int64
	status NodeStatus
	dirty  bool
	id     int // -1 until assigned by the build log.

	generatedByDepLoader bool
}

func newNode(path string, slashBits uint64) *Node {
	return &Node{path: path, slashBits: slashBits, id: -1, status: StatusUnknown}
}

func (n *Node) Path() string       { return n.path }
func (n *Node) SlashBits() uint64  { return n.slashBits }
func (n *Node) InEdge() *Edge      { return n.inEdge }
func (n *Node) OutEdges() []*Edge  { return n.outEdges }
func (n *Node) Mtime() int64       { return n.mtime }
func (n *Node) Dirty() bool        { return n.dirty }
func (n *Node) SetDirty(v bool)    { n.dirty = v }
func (n *Node) Id() int            { return n.id }
func (n *Node) StatusKnown() bool  { return n.status != StatusUnknown }
func (n *Node) Exists() bool       { return n.status == StatusClean }
func (n *Node) PathDecanonicalized() string {
	return PathDecanonicalized(n.path, n.slashBits)
}

func (n *Node) Fingerprint() uint128.Uint128 {
	if !n.fpValid {
		n.fingerprint = Fingerprint128(n.path)
		n.fpValid = true
	}
	return n.fingerprint
}

// Stat stats the node on disk, memoizing the result for the remainder of
// this run (spec.md §9.1: a node is stat'd at most once per build; this is
// deliberate, not a bug, and callers must go through StatIfNecessary).
func (n *Node) Stat(disk DiskInterface) error {
	mtime, err := disk.Stat(n.path)
	if err != nil {
		return err
	}
	n.mtime = mtime
	if mtime == 0 {
		n.status = StatusDirty // "missing"; caller decides if that's fatal.
	} else {
		n.status = StatusClean
	}
	return nil
}

// StatIfNecessary stats the node only if it hasn't already been stat'd this
// run.
func (n *Node) StatIfNecessary(disk DiskInterface) error {
	if n.StatusKnown() {
		return nil
	}
	return n.Stat(disk)
}

// ResetState marks the node as not-yet-stat'd and not dirty, for the start
// of a fresh build run.
func (n *Node) ResetState() {
	n.mtime = -1
	n.status = StatusUnknown
	n.dirty = false
}

// MarkMissing marks the node as already-stat'd and missing, without
// touching the disk.
func (n *Node) MarkMissing() {
	if n.mtime == -1 {
		n.mtime = 0
	}
	n.status = StatusDirty
}

func (n *Node) addOutEdge(e *Edge) { n.outEdges = append(n.outEdges, e) }

// Edge is a single invocation of a Rule.
type Edge struct {
	rule *Rule
	pool *Pool
	env  *BindingEnv

	inputs  []*Node
	outputs []*Node

	implicitDeps  int
	orderOnlyDeps int
	implicitOuts  int

	mark         VisitMark
	outputsReady bool
	depsMissing  bool
	depsLoaded   bool

	restatMtime int64

	criticalPathWeight int64
}

func newEdge() *Edge {
	return &Edge{env: NewBindingEnv(), pool: DefaultPool}
}

func (e *Edge) Rule() *Rule    { return e.rule }
func (e *Edge) Pool() *Pool    { return e.pool }
func (e *Edge) Inputs() []*Node  { return e.inputs }
func (e *Edge) Outputs() []*Node { return e.outputs }
func (e *Edge) OutputsReady() bool { return e.outputsReady }
func (e *Edge) IsPhony() bool    { return e.rule == phonyRule }
func (e *Edge) UseConsole() bool { return e.pool == ConsolePool }

func (e *Edge) isOrderOnly(i int) bool {
	return i >= len(e.inputs)-e.orderOnlyDeps
}

func (e *Edge) isImplicit(i int) bool {
	return i >= len(e.inputs)-e.orderOnlyDeps-e.implicitDeps && !e.isOrderOnly(i)
}

func (e *Edge) isImplicitOut(i int) bool {
	return i >= len(e.outputs)-e.implicitOuts
}

// ExplicitInputs returns the inputs that appear on $in.
func (e *Edge) ExplicitInputs() []*Node {
	return e.inputs[:len(e.inputs)-e.implicitDeps-e.orderOnlyDeps]
}

// ExplicitOutputs returns the outputs that appear on $out.
func (e *Edge) ExplicitOutputs() []*Node {
	return e.outputs[:len(e.outputs)-e.implicitOuts]
}

// maybePhonycycleDiagnostic reports whether this edge matches the narrow
// shape CMake used to emit for self-referencing phony rules.
func (e *Edge) maybePhonycycleDiagnostic() bool {
	return e.IsPhony() && len(e.outputs) == 1 && e.implicitOuts == 0 && e.implicitDeps == 0
}

// GetBinding evaluates a binding, looking at edge-intrinsic names first,
// then falling back through the edge's BindingEnv to the rule and parents.
func (e *Edge) GetBinding(name string) string {
	switch name {
	case "in":
		return e.joinInputs(e.ExplicitInputs(), " ", true)
	case "in_newline":
		return e.joinInputs(e.ExplicitInputs(), "\n", false)
	case "out":
		return e.joinInputs(e.ExplicitOutputs(), " ", true)
	}
	rule := e.rule
	var eval *EvalString
	if rule != nil {
		eval = rule.Binding(name)
	}
	return e.env.LookupWithFallback(name, eval, e)
}

func (e *Edge) joinInputs(nodes []*Node, sep string, shellEscape bool) string {
	parts := make([]string, len(nodes))
	for i, n := range nodes {
		if shellEscape {
			parts[i] = ShellEscape(n.Path())
		} else {
			parts[i] = n.Path()
		}
	}
	return strings.Join(parts, sep)
}

func (e *Edge) GetBindingBool(name string) bool {
	return e.GetBinding(name) != ""
}

// LookupVariable implements Env for evaluating a rule binding's EvalString
// in the edge's own scope (step 2 of LookupWithFallback).
func (e *Edge) LookupVariable(name string) string {
	return e.GetBinding(name)
}

// EvaluateCommand returns the fully evaluated command line. inclRspFile is
// kept for callers that want to distinguish "the command actually run" (the
// rule's command binding, which already reads its args via the rspfile path
// bound into $in when rspfile_content is set) from a diagnostic rendering;
// both currently evaluate identically.
func (e *Edge) EvaluateCommand(inclRspFile bool) string {
	return e.GetBinding("command")
}

// CriticalPathWeight returns the scheduling priority computed by
// Plan.ComputeCriticalPath: the length (in edge-weight units) of the
// longest chain of not-yet-built work downstream of this edge.
func (e *Edge) CriticalPathWeight() int64 { return e.criticalPathWeight }

func (e *Edge) setCriticalPathWeight(w int64) { e.criticalPathWeight = w }

// AllInputsReady reports whether every input node's producing edge (if any)
// has its outputs ready.
func (e *Edge) AllInputsReady() bool {
	for _, in := range e.inputs {
		if ie := in.InEdge(); ie != nil && !ie.OutputsReady() {
			return false
		}
	}
	return true
}

// ShellEscape quotes a path for inclusion in a /bin/sh -c command line, used
// when forming $in/$out per spec.md §4.B.
func ShellEscape(s string) string {
	if s == "" {
		return "''"
	}
	needsQuote := false
	for _, c := range s {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '_' || c == '-' || c == '.' || c == '/' || c == '+':
		default:
			needsQuote = true
		}
	}
	if !needsQuote {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// Pool is a named concurrency bucket.
type Pool struct {
	name       string
	depth      int
	currentUse int
	delayed    []*Edge
}

func NewPool(name string, depth int) *Pool {
	return &Pool{name: name, depth: depth}
}

func (p *Pool) Name() string  { return p.name }
func (p *Pool) Depth() int    { return p.depth }
func (p *Pool) IsValid() bool { return p.depth >= 0 }

func (p *Pool) weight(e *Edge) int {
	if e.IsPhony() {
		return 0
	}
	return 1
}

// ShouldDelayEdge reports whether scheduling e would overflow the pool's
// depth (unbounded when depth == 0).
func (p *Pool) ShouldDelayEdge(e *Edge) bool {
	if p.depth == 0 {
		return false
	}
	return p.currentUse+p.weight(e) > p.depth
}

func (p *Pool) EdgeScheduled(e *Edge) {
	if p.depth != 0 {
		p.currentUse += p.weight(e)
	}
}

func (p *Pool) EdgeFinished(e *Edge) {
	if p.depth != 0 {
		p.currentUse -= p.weight(e)
	}
}

// DelayEdge inserts e into the pool's ordered delayed set.
func (p *Pool) DelayEdge(e *Edge) {
	p.delayed = append(p.delayed, e)
}

// RetrieveReadyEdges drains delayed edges that now fit into out, in
// insertion order, updating current_use as it admits each.
func (p *Pool) RetrieveReadyEdges(out func(*Edge)) {
	if p.depth == 0 {
		for _, e := range p.delayed {
			out(e)
		}
		p.delayed = nil
		return
	}
	remaining := p.delayed[:0]
	for _, e := range p.delayed {
		if p.currentUse+p.weight(e) > p.depth {
			remaining = append(remaining, e)
			continue
		}
		p.EdgeScheduled(e)
		out(e)
	}
	p.delayed = remaining
}

// Built-in pools and rule, shared across all States in this process, as in
// the original ninja (a single well-known console pool instance must be
// comparable by pointer identity).
var (
	DefaultPool = NewPool("", 0)
	ConsolePool = NewPool("console", 1)
)

// State owns all nodes, edges, rules, and pools for a run.
type State struct {
	paths    map[string]*Node
	edges    []*Edge
	pools    map[string]*Pool
	bindings *BindingEnv
}

func NewState() *State {
	s := &State{
		paths:    map[string]*Node{},
		pools:    map[string]*Pool{},
		bindings: NewBindingEnv(),
	}
	s.bindings.AddRule(phonyRule)
	s.AddPool(DefaultPool)
	s.AddPool(ConsolePool)
	return s
}

func (s *State) Bindings() *BindingEnv { return s.bindings }

func (s *State) AddPool(p *Pool) {
	if _, exists := s.pools[p.Name()]; exists {
		panic("duplicate pool: " + p.Name())
	}
	s.pools[p.Name()] = p
}

func (s *State) LookupPool(name string) *Pool { return s.pools[name] }

// GetNode returns the existing node for path or creates one, canonicalizing
// path first.
func (s *State) GetNode(path string, slashBits uint64) (*Node, error) {
	canon, bits, err := CanonicalizePath(path)
	if err != nil {
		return nil, err
	}
	if bits != 0 {
		slashBits = bits
	}
	if n, ok := s.paths[canon]; ok {
		return n, nil
	}
	n := newNode(canon, slashBits)
	s.paths[canon] = n
	return n, nil
}

// LookupNode is a read-only lookup; path is canonicalized before the lookup.
func (s *State) LookupNode(path string) *Node {
	canon, _, err := CanonicalizePath(path)
	if err != nil {
		return nil
	}
	return s.paths[canon]
}

// AddEdge creates a new edge bound to rule, owned by this State.
func (s *State) AddEdge(rule *Rule) *Edge {
	e := newEdge()
	e.rule = rule
	e.env = NewBindingEnvWithParent(s.bindings)
	s.edges = append(s.edges, e)
	return e
}

func (s *State) Edges() []*Edge { return s.edges }

// AddIn appends an input to edge, classifying it explicit/implicit/order-only
// via the counts already recorded on the edge (callers must add inputs in
// explicit, then implicit, then order-only order, incrementing the counts
// as they go, exactly mirroring the manifest grammar's | and || groups).
func (e *Edge) AddIn(n *Node) {
	e.inputs = append(e.inputs, n)
	n.addOutEdge(e)
}

func (e *Edge) AddImplicitIn(n *Node) {
	e.AddIn(n)
	e.implicitDeps++
}

func (e *Edge) AddOrderOnlyIn(n *Node) {
	e.AddIn(n)
	e.orderOnlyDeps++
}

func (e *Edge) AddOut(n *Node) error {
	if n.inEdge != nil {
		return fmt.Errorf("multiple rules generate %s", n.Path())
	}
	n.inEdge = e
	e.outputs = append(e.outputs, n)
	return nil
}

func (e *Edge) AddImplicitOut(n *Node) error {
	if err := e.AddOut(n); err != nil {
		return err
	}
	e.implicitOuts++
	return nil
}

// SetPool assigns the edge's concurrency pool.
func (e *Edge) SetPool(p *Pool) { e.pool = p }

// Env returns the edge's own binding scope, for callers building edges
// programmatically.
func (e *Edge) Env() *BindingEnv { return e.env }
