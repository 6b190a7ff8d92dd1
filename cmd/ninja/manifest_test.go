package main

import (
	"reflect"
	"testing"

	"majak-go/internal/ninja"
)

func TestSplitPipeGroups(t *testing.T) {
	before, after := splitPipeGroups([]string{"a", "b", "|", "c", "d"})
	if !reflect.DeepEqual(before, []string{"a", "b"}) || !reflect.DeepEqual(after, []string{"c", "d"}) {
		t.Fatalf("before=%v after=%v", before, after)
	}

	before, after = splitPipeGroups([]string{"a", "||", "b"})
	if !reflect.DeepEqual(before, []string{"a"}) || after != nil {
		t.Fatalf("before=%v after=%v, want a double-pipe to stop at the boundary with no implicit-out group", before, after)
	}

	before, after = splitPipeGroups([]string{"a", "b"})
	if !reflect.DeepEqual(before, []string{"a", "b"}) || after != nil {
		t.Fatalf("before=%v after=%v", before, after)
	}
}

func TestSplitInputGroups(t *testing.T) {
	explicit, implicit, orderOnly := splitInputGroups([]string{"a", "b", "|", "c", "||", "d", "e"})
	if !reflect.DeepEqual(explicit, []string{"a", "b"}) {
		t.Errorf("explicit = %v", explicit)
	}
	if !reflect.DeepEqual(implicit, []string{"c"}) {
		t.Errorf("implicit = %v", implicit)
	}
	if !reflect.DeepEqual(orderOnly, []string{"d", "e"}) {
		t.Errorf("orderOnly = %v", orderOnly)
	}
}

func TestParseEvalStringLiteralAndVariables(t *testing.T) {
	env := ninja.NewBindingEnv()
	env.AddBinding("cc", "gcc")

	e := parseEvalString("$cc -c $in -o ${out}")
	if got := e.Evaluate(env); got != "gcc -c  -o " {
		t.Errorf("Evaluate = %q", got)
	}
}

func TestParseEvalStringEscapes(t *testing.T) {
	e := parseEvalString("a$$b$ c")
	env := ninja.NewBindingEnv()
	if got := e.Evaluate(env); got != "a$b c" {
		t.Errorf("Evaluate = %q, want literal '$' and a literal space preserved", got)
	}
}

func TestJoinContinuationsSplicesTrailingDollar(t *testing.T) {
	content := "build out: rule $\n  in1 in2\n"
	lines := joinContinuations(content)
	if len(lines) != 1 {
		t.Fatalf("got %d logical lines, want 1: %+v", len(lines), lines)
	}
	if lines[0].text != "build out: rule in1 in2" {
		t.Errorf("text = %q", lines[0].text)
	}
}

func TestJoinContinuationsStripsComments(t *testing.T) {
	content := "cflags = -O2 # optimize\nrule cc\n"
	lines := joinContinuations(content)
	want := []string{"cflags = -O2", "rule cc"}
	got := make([]string, len(lines))
	for i, l := range lines {
		got[i] = l.text
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestJoinContinuationsKeepsEscapedHash(t *testing.T) {
	content := "x = a $# b\n"
	lines := joinContinuations(content)
	if len(lines) != 1 || lines[0].text != "x = a $# b" {
		t.Errorf("lines = %+v, want the escaped '#' preserved", lines)
	}
}

func TestJoinContinuationsTracksIndent(t *testing.T) {
	content := "rule cc\n  command = gcc\nbuild out: cc in\n"
	lines := joinContinuations(content)
	if len(lines) != 3 {
		t.Fatalf("got %d lines", len(lines))
	}
	if lines[0].indent != 0 || lines[1].indent != 2 || lines[2].indent != 0 {
		t.Errorf("indents = %d,%d,%d", lines[0].indent, lines[1].indent, lines[2].indent)
	}
}

func TestManifestParserLoadsRuleBuildAndDefault(t *testing.T) {
	disk := ninja.NewVirtualDiskInterface()
	disk.WriteFile("build.ninja", []byte(
		"rule cc\n"+
			"  command = gcc -c $in -o $out\n"+
			"\n"+
			"build out.o: cc in.c\n"+
			"\n"+
			"default out.o\n",
	))

	state := ninja.NewState()
	parser := NewManifestParser(state, disk)
	if err := parser.Load("build.ninja"); err != nil {
		t.Fatal(err)
	}

	if !reflect.DeepEqual(parser.Defaults(), []string{"out.o"}) {
		t.Errorf("Defaults() = %v", parser.Defaults())
	}

	out := state.LookupNode("out.o")
	if out == nil {
		t.Fatal("expected out.o to exist")
	}
	edge := out.InEdge()
	if edge == nil {
		t.Fatal("expected out.o to have a producing edge")
	}
	if got := edge.EvaluateCommand(false); got != "gcc -c in.c -o out.o" {
		t.Errorf("command = %q", got)
	}
}

func TestManifestParserPoolDepth(t *testing.T) {
	disk := ninja.NewVirtualDiskInterface()
	disk.WriteFile("build.ninja", []byte(
		"pool link_pool\n"+
			"  depth = 2\n"+
			"rule link\n"+
			"  command = ld -o $out $in\n"+
			"build a.out: link a.o\n"+
			"  pool = link_pool\n",
	))

	state := ninja.NewState()
	parser := NewManifestParser(state, disk)
	if err := parser.Load("build.ninja"); err != nil {
		t.Fatal(err)
	}

	pool := state.LookupPool("link_pool")
	if pool == nil {
		t.Fatal("expected link_pool to exist")
	}

	edge := state.LookupNode("a.out").InEdge()
	if edge.Pool() != pool {
		t.Error("expected a.out's edge to be bound to link_pool")
	}
}

func TestManifestParserUnknownRuleIsError(t *testing.T) {
	disk := ninja.NewVirtualDiskInterface()
	disk.WriteFile("build.ninja", []byte("build out: missing in\n"))

	state := ninja.NewState()
	parser := NewManifestParser(state, disk)
	if err := parser.Load("build.ninja"); err == nil {
		t.Fatal("expected an error for a build statement referencing an undefined rule")
	}
}

func TestManifestParserImplicitAndOrderOnlyDeps(t *testing.T) {
	disk := ninja.NewVirtualDiskInterface()
	disk.WriteFile("build.ninja", []byte(
		"rule cc\n"+
			"  command = gcc $in -o $out\n"+
			"build out.o | out.d: cc in.c | header.h || generated.stamp\n",
	))

	state := ninja.NewState()
	parser := NewManifestParser(state, disk)
	if err := parser.Load("build.ninja"); err != nil {
		t.Fatal(err)
	}

	edge := state.LookupNode("out.o").InEdge()
	if state.LookupNode("out.d").InEdge() != edge {
		t.Error("expected out.d to be an implicit output of the same edge as out.o")
	}

	inputPaths := make([]string, 0)
	for _, n := range edge.Inputs() {
		inputPaths = append(inputPaths, n.Path())
	}
	want := []string{"in.c", "header.h", "generated.stamp"}
	if !reflect.DeepEqual(inputPaths, want) {
		t.Errorf("inputs = %v, want %v", inputPaths, want)
	}
}
