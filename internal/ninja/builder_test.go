package ninja

import "testing"

func setupBuilderGraph(t *testing.T) (*State, *VirtualDiskInterface, *Node) {
	t.Helper()
	state := NewState()
	disk := NewVirtualDiskInterface()
	disk.WriteFile("in.txt", []byte("source"))

	rule := NewRule("copy")
	rule.AddBinding("command", NewEvalStringLiteral("cp $in $out"))
	state.Bindings().AddRule(rule)

	edge := state.AddEdge(rule)
	out, err := state.GetNode("out.txt", 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := edge.AddOut(out); err != nil {
		t.Fatal(err)
	}
	in, err := state.GetNode("in.txt", 0)
	if err != nil {
		t.Fatal(err)
	}
	edge.AddIn(in)

	return state, disk, out
}

type recordingStatus struct {
	started, finished []string
	buildStarted      bool
	buildFinished     bool
}

func (s *recordingStatus) BuildStarted()  { s.buildStarted = true }
func (s *recordingStatus) BuildFinished() { s.buildFinished = true }
func (s *recordingStatus) EdgeAddedToPlan(e *Edge)   {}
func (s *recordingStatus) EdgeRemovedFromPlan(e *Edge) {}
func (s *recordingStatus) EdgeStarted(e *Edge) {
	s.started = append(s.started, e.EvaluateCommand(false))
}
func (s *recordingStatus) EdgeFinished(e *Edge, success bool, output string) {
	s.finished = append(s.finished, e.EvaluateCommand(false))
}

func TestBuilderDryRunBuildsMissingOutput(t *testing.T) {
	state, disk, out := setupBuilderGraph(t)

	config := NewBuildConfig()
	config.DryRun = true
	status := &recordingStatus{}
	builder := NewBuilder(state, config, nil, disk, status, 0)

	if _, err := builder.AddTargetByName("out.txt"); err != nil {
		t.Fatal(err)
	}
	if builder.AlreadyUpToDate() {
		t.Fatal("missing output should need work")
	}
	if err := builder.Build(); err != nil {
		t.Fatal(err)
	}
	if !status.buildStarted || !status.buildFinished {
		t.Fatal("expected BuildStarted/BuildFinished callbacks")
	}
	if len(status.finished) != 1 {
		t.Fatalf("expected exactly one finished edge, got %d", len(status.finished))
	}
	_ = out
}

func TestBuilderAlreadyUpToDateWithoutBuildLog(t *testing.T) {
	state, disk, out := setupBuilderGraph(t)
	disk.WriteFileAt("out.txt", []byte("cached"), 999999)

	config := NewBuildConfig()
	builder := NewBuilder(state, config, nil, disk, nil, 0)

	if _, err := builder.AddTargetByName("out.txt"); err != nil {
		t.Fatal(err)
	}
	if !builder.AlreadyUpToDate() {
		t.Fatal("an output newer than its input, with no build log to contradict it, should be up to date")
	}
	_ = out
}

// fakeRunner runs edges synchronously, letting a test control what happens
// to the virtual disk (or not) on StartCommand without spawning a real
// process, so restat/generator scenarios are deterministic.
type fakeRunner struct {
	onStart func(edge *Edge)
	pending []*CommandResult
}

func (r *fakeRunner) CanRunMore() int { return 1 << 30 }

func (r *fakeRunner) StartCommand(edge *Edge) error {
	if r.onStart != nil {
		r.onStart(edge)
	}
	r.pending = append(r.pending, &CommandResult{Edge: edge, Status: ExitSuccess})
	return nil
}

func (r *fakeRunner) WaitForCommand() (*CommandResult, bool) {
	if len(r.pending) == 0 {
		return nil, false
	}
	result := r.pending[0]
	r.pending = r.pending[1:]
	return result, true
}

func (r *fakeRunner) GetActiveEdges() []*Edge { return nil }
func (r *fakeRunner) Abort()                  { r.pending = nil }

// TestBuilderRestatCleansDependentAndRecordsMaxOutputMtime sets up a
// restat edge with two outputs whose mtimes are stat'd in descending order
// (gen.h newer than gen.stamp) and a dependent edge that only needs
// rebuilding if gen.h actually changed. The restat rule's "generator" ran
// but left both outputs untouched (simulating unchanged content), so the
// dependent edge should be pruned from the plan (never started) and the
// recorded mtime should be the max of the two outputs, not whichever was
// stat'd last.
func TestBuilderRestatCleansDependentAndRecordsMaxOutputMtime(t *testing.T) {
	state := NewState()
	disk := NewVirtualDiskInterface()

	genRule := NewRule("generate")
	genRule.AddBinding("command", NewEvalStringLiteral("generate $in"))
	genRule.AddBinding("restat", NewEvalStringLiteral("1"))
	state.Bindings().AddRule(genRule)

	buildRule := NewRule("build_app")
	buildRule.AddBinding("command", NewEvalStringLiteral("build $in"))
	state.Bindings().AddRule(buildRule)

	src, err := state.GetNode("src.txt", 0)
	if err != nil {
		t.Fatal(err)
	}
	genH, err := state.GetNode("gen.h", 0)
	if err != nil {
		t.Fatal(err)
	}
	genStamp, err := state.GetNode("gen.stamp", 0)
	if err != nil {
		t.Fatal(err)
	}
	appBin, err := state.GetNode("app.bin", 0)
	if err != nil {
		t.Fatal(err)
	}

	genEdge := state.AddEdge(genRule)
	genEdge.AddIn(src)
	if err := genEdge.AddOut(genH); err != nil {
		t.Fatal(err)
	}
	if err := genEdge.AddOut(genStamp); err != nil {
		t.Fatal(err)
	}

	buildEdge := state.AddEdge(buildRule)
	buildEdge.AddIn(genH)
	if err := buildEdge.AddOut(appBin); err != nil {
		t.Fatal(err)
	}

	// Prior build: src.txt at 10 produced gen.h at 100 and gen.stamp at 50
	// (stat'd in that descending order), which in turn produced app.bin at
	// 150. Now src.txt changes, forcing the generator to re-run.
	disk.WriteFileAt("gen.h", []byte("same"), 100)
	disk.WriteFileAt("gen.stamp", []byte("same"), 50)
	disk.WriteFileAt("app.bin", []byte("same"), 150)

	buildLog := NewBuildLog()
	buildLog.entries["gen.h"] = &LogEntry{Output: "gen.h", CommandHash: HashCommand(genEdge.EvaluateCommand(true)), Mtime: 100}
	buildLog.entries["gen.stamp"] = &LogEntry{Output: "gen.stamp", CommandHash: HashCommand(genEdge.EvaluateCommand(true)), Mtime: 50}
	buildLog.entries["app.bin"] = &LogEntry{Output: "app.bin", CommandHash: HashCommand(buildEdge.EvaluateCommand(true)), Mtime: 150}

	disk.WriteFileAt("src.txt", []byte("v2"), 200)

	config := NewBuildConfig()
	status := &recordingStatus{}
	builder := NewBuilder(state, config, buildLog, disk, status, 0)

	if _, err := builder.AddTargetByName("app.bin"); err != nil {
		t.Fatal(err)
	}
	if builder.AlreadyUpToDate() {
		t.Fatal("changed input should require rebuilding the generator")
	}

	runner := &fakeRunner{}
	builder.SetRunner(runner)

	if err := builder.Build(); err != nil {
		t.Fatal(err)
	}

	for _, cmd := range status.started {
		if cmd == buildEdge.EvaluateCommand(false) {
			t.Fatalf("expected the dependent edge to be pruned by restat, but it ran: %v", status.started)
		}
	}

	if genH.Dirty() || genStamp.Dirty() || appBin.Dirty() {
		t.Error("expected CleanNode to mark the restat outputs and their dependent not dirty")
	}

	entry := buildLog.LookupByOutput("gen.h")
	if entry == nil || entry.Mtime != 100 {
		t.Errorf("gen.h recorded mtime = %+v, want the max of 100 and 50", entry)
	}
	entry = buildLog.LookupByOutput("gen.stamp")
	if entry == nil || entry.Mtime != 100 {
		t.Errorf("gen.stamp recorded mtime = %+v, want the max of 100 and 50", entry)
	}
}

func TestBuilderUnknownTargetIsError(t *testing.T) {
	state := NewState()
	disk := NewVirtualDiskInterface()
	config := NewBuildConfig()
	builder := NewBuilder(state, config, nil, disk, nil, 0)

	if _, err := builder.AddTargetByName("does/not/exist"); err == nil {
		t.Fatal("expected an error for an unknown target name")
	}
}
