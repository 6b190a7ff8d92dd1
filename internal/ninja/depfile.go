package ninja

import (
	"errors"
	"strings"
)

// DepfileParserOptions reserved for future flags (e.g. warn-on-stray-escape);
// empty today, grounded on ninja-go/depfile_parser.go's options struct.
type DepfileParserOptions struct{}

// ParseDepfile parses a GCC-style Makefile dependency fragment:
// "output : dep1 dep2 \\\n  dep3 dep4", per spec.md §6. Line continuations
// via a trailing backslash; escaped spaces via "\ "; no variable expansion.
// An empty depfile is valid and means "no deps". Grounded on
// ninja-go/depfile_parser.go.
func ParseDepfile(content string) (outs []string, ins []string, err error) {
	trimmed := strings.TrimRight(content, "\x00")
	if strings.TrimSpace(trimmed) == "" {
		return nil, nil, nil
	}

	// Join continuation lines first: a trailing unescaped backslash glues
	// the next line onto this one, separated by a space.
	var joined strings.Builder
	lines := strings.Split(trimmed, "\n")
	for i, line := range lines {
		line = strings.TrimRight(line, "\r")
		if strings.HasSuffix(line, "\\") && !strings.HasSuffix(line, "\\\\") {
			joined.WriteString(strings.TrimSuffix(line, "\\"))
			joined.WriteString(" ")
			continue
		}
		joined.WriteString(line)
		if i != len(lines)-1 {
			joined.WriteString("\n")
		}
	}

	seenOut := map[string]bool{}
	seenIn := map[string]bool{}

	for _, stmt := range strings.Split(joined.String(), "\n") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		colon := unescapedColon(stmt)
		if colon < 0 {
			return nil, nil, errors.New("expected ':' in depfile")
		}
		for _, tok := range splitUnescaped(stmt[:colon]) {
			name := unescapeDepfileToken(tok)
			if name == "" || seenOut[name] {
				continue
			}
			seenOut[name] = true
			outs = append(outs, name)
		}
		for _, tok := range splitUnescaped(stmt[colon+1:]) {
			name := unescapeDepfileToken(tok)
			if name == "" {
				continue
			}
			if seenOut[name] {
				return nil, nil, errors.New("inputs may not also have outputs")
			}
			if seenIn[name] {
				continue
			}
			seenIn[name] = true
			ins = append(ins, name)
		}
	}

	if len(outs) == 0 {
		return nil, nil, errors.New("expected ':' in depfile")
	}
	return outs, ins, nil
}

// unescapedColon finds the first ':' not preceded by a backslash escape.
func unescapedColon(s string) int {
	escaped := false
	for i := 0; i < len(s); i++ {
		if escaped {
			escaped = false
			continue
		}
		switch s[i] {
		case '\\':
			escaped = true
		case ':':
			return i
		}
	}
	return -1
}

// splitUnescaped splits on unescaped whitespace, keeping "\ " sequences
// joined to the surrounding token.
func splitUnescaped(s string) []string {
	var toks []string
	var cur strings.Builder
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if escaped {
			cur.WriteByte('\\')
			cur.WriteByte(c)
			escaped = false
			continue
		}
		switch c {
		case '\\':
			escaped = true
		case ' ', '\t':
			if cur.Len() > 0 {
				toks = append(toks, cur.String())
				cur.Reset()
			}
		default:
			cur.WriteByte(c)
		}
	}
	if escaped {
		cur.WriteByte('\\')
	}
	if cur.Len() > 0 {
		toks = append(toks, cur.String())
	}
	return toks
}

// unescapeDepfileToken turns "\ " into " " and "\\" into "\", matching make's
// depfile escaping rules.
func unescapeDepfileToken(tok string) string {
	var b strings.Builder
	escaped := false
	for i := 0; i < len(tok); i++ {
		c := tok[i]
		if escaped {
			b.WriteByte(c)
			escaped = false
			continue
		}
		if c == '\\' {
			escaped = true
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}
