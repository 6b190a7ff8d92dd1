package main

import (
	"bufio"
	"fmt"
	"strings"

	"majak-go/internal/ninja"
)

// ManifestParser loads the minimal `.ninja` subset this tool supports:
// top-level variable assignments, `rule`, `pool`, `build`, and `default`
// statements, with `$var`/`${var}` expansion and trailing-`$` line
// continuation. Full manifest grammar (subninja/include, nested scoping
// edge cases, lexer-level escaping of every ninja construct) is an
// explicit external collaborator per spec.md §1; this is the subset a
// real end-to-end CLI needs to drive the core engine. Grounded on
// ninja-go/parser.go's statement dispatch, rewritten against this
// module's EvalString/BindingEnv rather than the teacher's (broken)
// lexer.
type ManifestParser struct {
	state *ninja.State
	disk  ninja.DiskInterface

	defaults []string
}

func NewManifestParser(state *ninja.State, disk ninja.DiskInterface) *ManifestParser {
	return &ManifestParser{state: state, disk: disk}
}

// Defaults returns the targets named by `default` statements, in order.
func (p *ManifestParser) Defaults() []string { return p.defaults }

func (p *ManifestParser) Load(path string) error {
	content, status, err := p.disk.ReadFile(path)
	if status != ninja.ReadOK {
		return fmt.Errorf("loading '%s': %w", path, err)
	}
	return p.parse(string(content))
}

type manifestLine struct {
	indent int
	text   string
}

func (p *ManifestParser) parse(content string) error {
	lines := joinContinuations(content)

	i := 0
	for i < len(lines) {
		line := lines[i]
		if line.text == "" {
			i++
			continue
		}

		fields := splitManifestFields(line.text)
		switch fields[0] {
		case "rule":
			if len(fields) != 2 {
				return fmt.Errorf("expected rule name")
			}
			var nextI int
			rule, err := p.parseRule(fields[1], lines, i+1, &nextI)
			if err != nil {
				return err
			}
			p.state.Bindings().AddRule(rule)
			i = nextI

		case "pool":
			if len(fields) != 2 {
				return fmt.Errorf("expected pool name")
			}
			depth := 0
			var nextI int
			for nextI = i + 1; nextI < len(lines) && lines[nextI].indent > line.indent; nextI++ {
				k, v, err := splitBinding(lines[nextI].text)
				if err != nil {
					return err
				}
				if k == "depth" {
					fmt.Sscanf(v, "%d", &depth)
				}
			}
			p.state.AddPool(ninja.NewPool(fields[1], depth))
			i = nextI

		case "build":
			var nextI int
			if err := p.parseBuild(fields, lines, i+1, &nextI); err != nil {
				return err
			}
			i = nextI

		case "default":
			p.defaults = append(p.defaults, fields[1:]...)
			i++

		default:
			k, v, err := splitManifestAssignment(line.text)
			if err != nil {
				return fmt.Errorf("unexpected statement: %q", line.text)
			}
			eval := parseEvalString(v)
			p.state.Bindings().AddBinding(k, eval.Evaluate(p.state.Bindings()))
			i++
		}
	}
	return nil
}

func (p *ManifestParser) parseRule(name string, lines []manifestLine, start int, nextI *int) (*ninja.Rule, error) {
	rule := ninja.NewRule(name)
	indent := lines[start-1].indent
	i := start
	for ; i < len(lines) && lines[i].indent > indent; i++ {
		k, v, err := splitBinding(lines[i].text)
		if err != nil {
			return nil, err
		}
		if !ninja.IsReservedBinding(k) {
			return nil, fmt.Errorf("unexpected variable '%s' in rule '%s'", k, name)
		}
		rule.AddBinding(k, parseEvalString(v))
	}
	*nextI = i
	return rule, nil
}

func (p *ManifestParser) parseBuild(fields []string, lines []manifestLine, start int, nextI *int) error {
	rest := strings.Join(fields[1:], " ")
	outPart, tail, ok := strings.Cut(rest, ":")
	if !ok {
		return fmt.Errorf("expected ':' in build statement")
	}
	outs, implicitOuts := splitPipeGroups(strings.Fields(outPart))

	tailFields := strings.Fields(tail)
	if len(tailFields) == 0 {
		return fmt.Errorf("expected rule name after ':'")
	}
	ruleName := tailFields[0]
	explicitIns, implicitIns, orderOnlyIns := splitInputGroups(tailFields[1:])

	rule := p.state.Bindings().LookupRule(ruleName)
	if rule == nil {
		return fmt.Errorf("unknown rule '%s'", ruleName)
	}

	edge := p.state.AddEdge(rule)

	indent := 0
	if start > 0 {
		indent = lines[start-1].indent
	}
	i := start
	for ; i < len(lines) && lines[i].indent > indent; i++ {
		k, v, err := splitBinding(lines[i].text)
		if err != nil {
			return err
		}
		evalStr := parseEvalString(v)
		edge.Env().AddBinding(k, evalStr.Evaluate(edge))
	}
	*nextI = i

	for _, o := range outs {
		n, err := p.state.GetNode(o, 0)
		if err != nil {
			return err
		}
		if err := edge.AddOut(n); err != nil {
			return err
		}
	}
	for _, o := range implicitOuts {
		n, err := p.state.GetNode(o, 0)
		if err != nil {
			return err
		}
		if err := edge.AddImplicitOut(n); err != nil {
			return err
		}
	}
	for _, in := range explicitIns {
		n, err := p.state.GetNode(in, 0)
		if err != nil {
			return err
		}
		edge.AddIn(n)
	}
	for _, in := range implicitIns {
		n, err := p.state.GetNode(in, 0)
		if err != nil {
			return err
		}
		edge.AddImplicitIn(n)
	}
	for _, in := range orderOnlyIns {
		n, err := p.state.GetNode(in, 0)
		if err != nil {
			return err
		}
		edge.AddOrderOnlyIn(n)
	}

	if poolName := edge.GetBinding("pool"); poolName != "" {
		pool := p.state.LookupPool(poolName)
		if pool == nil {
			return fmt.Errorf("unknown pool '%s'", poolName)
		}
		edge.SetPool(pool)
	}
	return nil
}

// splitPipeGroups separates "a b | c d" into (before, after) on the first
// bare "|" token (not "||").
func splitPipeGroups(fields []string) (before, after []string) {
	for i, f := range fields {
		if f == "|" {
			return fields[:i], fields[i+1:]
		}
		if f == "||" {
			return fields[:i], nil
		}
	}
	return fields, nil
}

// splitInputGroups classifies a build statement's input fields (explicit
// inputs, then "|" implicit deps, then "||" order-only deps).
func splitInputGroups(fields []string) (explicit, implicit, orderOnly []string) {
	group := 0
	for _, f := range fields {
		switch f {
		case "|":
			group = 1
		case "||":
			group = 2
		default:
			switch group {
			case 0:
				explicit = append(explicit, f)
			case 1:
				implicit = append(implicit, f)
			case 2:
				orderOnly = append(orderOnly, f)
			}
		}
	}
	return explicit, implicit, orderOnly
}

func splitBinding(line string) (key, value string, err error) {
	k, v, ok := strings.Cut(strings.TrimSpace(line), "=")
	if !ok {
		return "", "", fmt.Errorf("expected 'key = value', got %q", line)
	}
	return strings.TrimSpace(k), strings.TrimSpace(v), nil
}

func splitManifestAssignment(line string) (key, value string, err error) {
	return splitBinding(line)
}

// splitManifestFields splits a statement's keyword from its arguments on
// whitespace, leaving $-escaped content alone (it is re-parsed later by
// parseEvalString where relevant).
func splitManifestFields(line string) []string {
	return strings.Fields(line)
}

// parseEvalString turns raw manifest text into an EvalString, expanding
// "$identifier", "${identifier}", "$$" (literal $), and "$ " (literal
// space) per ninja's binding syntax.
func parseEvalString(raw string) ninja.EvalString {
	var e ninja.EvalString
	var lit strings.Builder
	i := 0
	for i < len(raw) {
		c := raw[i]
		if c != '$' {
			lit.WriteByte(c)
			i++
			continue
		}
		i++
		if i >= len(raw) {
			lit.WriteByte('$')
			break
		}
		switch raw[i] {
		case '$':
			lit.WriteByte('$')
			i++
		case ' ':
			lit.WriteByte(' ')
			i++
		case '{':
			end := strings.IndexByte(raw[i:], '}')
			if end < 0 {
				lit.WriteString(raw[i:])
				i = len(raw)
				break
			}
			if lit.Len() > 0 {
				e.AddText(lit.String())
				lit.Reset()
			}
			e.AddSpecial(raw[i+1 : i+end])
			i += end + 1
		default:
			start := i
			for i < len(raw) && isIdentByte(raw[i]) {
				i++
			}
			if i == start {
				lit.WriteByte('$')
				lit.WriteByte(raw[i])
				i++
				break
			}
			if lit.Len() > 0 {
				e.AddText(lit.String())
				lit.Reset()
			}
			e.AddSpecial(raw[start:i])
		}
	}
	if lit.Len() > 0 {
		e.AddText(lit.String())
	}
	return e
}

func isIdentByte(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// joinContinuations splits content into logical lines, stripping comments
// and splicing a physical line onto the one it ends (via an unescaped
// trailing "$") into a single logical manifestLine. Each logical line's
// indent is the leading whitespace of its first physical line; a
// continuation's own leading whitespace is swallowed entirely, matching
// ninja's "$\n[ \t]*" lexer rule — put a space before the trailing "$" if
// the joined text needs one.
func joinContinuations(content string) []manifestLine {
	var out []manifestLine
	scanner := bufio.NewScanner(strings.NewReader(content))
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	var text strings.Builder
	indent := 0
	building := false

	for scanner.Scan() {
		raw := scanner.Text()
		if idx := commentIndex(raw); idx >= 0 {
			raw = raw[:idx]
		}
		lineIndent := len(raw) - len(strings.TrimLeft(raw, " "))
		trimmed := strings.TrimRight(raw, " \t")
		piece := strings.TrimLeft(trimmed, " \t")

		if !building {
			indent = lineIndent
		}

		continues := strings.HasSuffix(piece, "$") && !strings.HasSuffix(piece, "$$")
		if continues {
			piece = strings.TrimSuffix(piece, "$")
		}

		text.WriteString(piece)
		building = true

		if continues {
			continue
		}

		final := strings.TrimSpace(text.String())
		text.Reset()
		building = false
		if final == "" {
			continue
		}
		out = append(out, manifestLine{indent: indent, text: final})
	}
	return out
}

// commentIndex finds a "#" starting a comment, ignoring one escaped as "$#".
func commentIndex(line string) int {
	for i := 0; i < len(line); i++ {
		if line[i] != '#' {
			continue
		}
		if i > 0 && line[i-1] == '$' {
			continue
		}
		return i
	}
	return -1
}
