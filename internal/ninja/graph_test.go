package ninja

import (
	"strings"
	"testing"
)

// evalTemplate builds an EvalString from space-separated words, treating
// each word that starts with "$" as a variable reference.
func evalTemplate(s string) EvalString {
	var e EvalString
	for i, w := range strings.Split(s, " ") {
		if i > 0 {
			e.AddText(" ")
		}
		if strings.HasPrefix(w, "$") {
			e.AddSpecial(w[1:])
		} else {
			e.AddText(w)
		}
	}
	return e
}

func newTestEdge(t *testing.T, state *State, ruleName, command string, outs, ins []string) *Edge {
	t.Helper()
	rule := NewRule(ruleName)
	rule.AddBinding("command", evalTemplate(command))
	state.Bindings().AddRule(rule)

	edge := state.AddEdge(rule)
	for _, o := range outs {
		n, err := state.GetNode(o, 0)
		if err != nil {
			t.Fatal(err)
		}
		if err := edge.AddOut(n); err != nil {
			t.Fatal(err)
		}
	}
	for _, i := range ins {
		n, err := state.GetNode(i, 0)
		if err != nil {
			t.Fatal(err)
		}
		edge.AddIn(n)
	}
	return edge
}

func TestEdgeGetBindingInOut(t *testing.T) {
	state := NewState()
	edge := newTestEdge(t, state, "cc", "$cc -c $in -o $out", []string{"out/foo.o"}, []string{"src/foo.c"})

	if got := edge.GetBinding("in"); got != "src/foo.c" {
		t.Errorf("in = %q", got)
	}
	if got := edge.GetBinding("out"); got != "out/foo.o" {
		t.Errorf("out = %q", got)
	}
}

func TestEdgeCommandEvaluatesRuleBinding(t *testing.T) {
	state := NewState()
	edge := newTestEdge(t, state, "cc", "gcc -c $in -o $out", []string{"out/foo.o"}, []string{"src/foo.c"})

	want := "gcc -c src/foo.c -o out/foo.o"
	if got := edge.EvaluateCommand(false); got != want {
		t.Errorf("EvaluateCommand() = %q, want %q", got, want)
	}
}

func TestEdgeImplicitAndOrderOnlyInputs(t *testing.T) {
	state := NewState()
	rule := NewRule("cc")
	rule.AddBinding("command", NewEvalStringLiteral("cc $in -o $out"))
	state.Bindings().AddRule(rule)

	edge := state.AddEdge(rule)
	out, _ := state.GetNode("out.o", 0)
	edge.AddOut(out)

	explicit, _ := state.GetNode("explicit.c", 0)
	edge.AddIn(explicit)
	implicit, _ := state.GetNode("implicit.h", 0)
	edge.AddImplicitIn(implicit)
	orderOnly, _ := state.GetNode("tool", 0)
	edge.AddOrderOnlyIn(orderOnly)

	if got := edge.ExplicitInputs(); len(got) != 1 || got[0].Path() != "explicit.c" {
		t.Errorf("ExplicitInputs() = %v", got)
	}
	if got := edge.GetBinding("in"); got != "explicit.c" {
		t.Errorf("in binding should exclude implicit/order-only, got %q", got)
	}
}

func TestAddOutConflict(t *testing.T) {
	state := NewState()
	rule := NewRule("cc")
	state.Bindings().AddRule(rule)

	e1 := state.AddEdge(rule)
	e2 := state.AddEdge(rule)
	out, _ := state.GetNode("shared.o", 0)

	if err := e1.AddOut(out); err != nil {
		t.Fatal(err)
	}
	if err := e2.AddOut(out); err == nil {
		t.Fatal("expected error when two edges produce the same output")
	}
}

func TestPhonyEdge(t *testing.T) {
	state := NewState()
	rule := state.Bindings().LookupRule(PhonyRuleName)
	if rule == nil {
		t.Fatal("phony rule should be registered by NewState")
	}
	edge := state.AddEdge(rule)
	if !edge.IsPhony() {
		t.Fatal("edge built from the phony rule should report IsPhony")
	}
}

func TestGetNodeInterning(t *testing.T) {
	state := NewState()
	a, err := state.GetNode("foo/bar.txt", 0)
	if err != nil {
		t.Fatal(err)
	}
	b, err := state.GetNode("foo/./bar.txt", 0)
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Fatal("equivalent paths should intern to the same Node")
	}
	if got := state.LookupNode("foo/bar.txt"); got != a {
		t.Fatal("LookupNode should find the interned node")
	}
}

func TestPoolDelaysOverDepth(t *testing.T) {
	state := NewState()
	pool := NewPool("links", 1)
	state.AddPool(pool)

	rule := NewRule("link")
	state.Bindings().AddRule(rule)

	e1 := state.AddEdge(rule)
	e1.SetPool(pool)
	o1, _ := state.GetNode("a.bin", 0)
	e1.AddOut(o1)

	e2 := state.AddEdge(rule)
	e2.SetPool(pool)
	o2, _ := state.GetNode("b.bin", 0)
	e2.AddOut(o2)

	if pool.ShouldDelayEdge(e1) {
		t.Fatal("first edge should fit within an empty pool of depth 1")
	}
	pool.EdgeScheduled(e1)
	if !pool.ShouldDelayEdge(e2) {
		t.Fatal("second edge should be delayed once the pool is full")
	}

	pool.DelayEdge(e2)
	var admitted []*Edge
	pool.RetrieveReadyEdges(func(e *Edge) { admitted = append(admitted, e) })
	if len(admitted) != 0 {
		t.Fatal("pool is still full; nothing should be admitted yet")
	}

	pool.EdgeFinished(e1)
	pool.RetrieveReadyEdges(func(e *Edge) { admitted = append(admitted, e) })
	if len(admitted) != 1 || admitted[0] != e2 {
		t.Fatalf("expected e2 admitted once the pool freed up, got %v", admitted)
	}
}

func TestShellEscape(t *testing.T) {
	if got := ShellEscape("plain/path.txt"); got != "plain/path.txt" {
		t.Errorf("plain path should not be quoted, got %q", got)
	}
	if got := ShellEscape("has space.txt"); got != "'has space.txt'" {
		t.Errorf("path with a space should be quoted, got %q", got)
	}
	if got := ShellEscape("it's.txt"); got != `'it'\''s.txt'` {
		t.Errorf("embedded quote should be escaped, got %q", got)
	}
}
