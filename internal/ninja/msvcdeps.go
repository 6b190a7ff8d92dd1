package ninja

import (
	"sort"
	"strings"
)

const defaultShowIncludesPrefix = "Note: including file:"

// filterShowIncludes extracts the path from one line of cl.exe's
// /showIncludes output, or returns "" if line isn't such a line. The
// prefix match is case-insensitive: cl.exe's own casing varies by locale
// and /showIncludes: override string.
// Grounded on clparser.go's FilterShowIncludes, rewritten to compile (the
// teacher's version mixes an int offset with string prefix matching).
func filterShowIncludes(line, depsPrefix string) string {
	prefix := depsPrefix
	if prefix == "" {
		prefix = defaultShowIncludesPrefix
	}
	if len(line) < len(prefix) || !strings.EqualFold(line[:len(prefix)], prefix) {
		return ""
	}
	rest := line[len(prefix):]
	return strings.TrimLeft(rest, " \t")
}

// isSystemInclude filters out headers from toolchain-provided directories,
// trimming noise from the recorded dependency set.
func isSystemInclude(path string) bool {
	lower := strings.ToLower(path)
	return strings.Contains(lower, "program files") ||
		strings.Contains(lower, "microsoft visual studio")
}

// splitPathParts normalizes both "/" and "\" separators into path
// components, so a base dir and an include path written in either style
// still compare component-by-component. Avoids filepath's OS-specific
// separator handling since msvc paths use "\" regardless of host OS.
func splitPathParts(path string) []string {
	slashed := strings.NewReplacer("\\", "/").Replace(path)
	return strings.Split(slashed, "/")
}

// isAbsPathLike reports whether path is already rooted, including windows
// drive-letter paths like "C:\foo" even when running on a non-windows host.
func isAbsPathLike(path string) bool {
	if strings.HasPrefix(path, "/") || strings.HasPrefix(path, "\\") {
		return true
	}
	return len(path) >= 3 && path[1] == ':' && (path[2] == '\\' || path[2] == '/')
}

// relativize makes path relative to baseDir, comparing shared leading
// components case-insensitively (cl.exe and the filesystem may not agree
// on case) and walking up with ".." past whatever doesn't match. Grounded
// on includes_normalize.go's IncludesNormalize.Normalize/Relativize.
func relativize(path, baseDir string) string {
	parts := splitPathParts(path)
	if !isAbsPathLike(path) {
		parts = append(splitPathParts(baseDir), parts...)
	}
	baseParts := splitPathParts(baseDir)

	i := 0
	for i < len(parts) && i < len(baseParts) && strings.EqualFold(parts[i], baseParts[i]) {
		i++
	}

	rel := make([]string, 0, len(baseParts)-i+len(parts)-i)
	for j := i; j < len(baseParts); j++ {
		rel = append(rel, "..")
	}
	rel = append(rel, parts[i:]...)
	if len(rel) == 0 {
		return "."
	}
	return strings.Join(rel, "/")
}

// ParseShowIncludes scans the full combined output of a cl.exe invocation,
// returning the deduplicated, sorted list of included paths (each
// normalized relative to baseDir, matched and deduplicated
// case-insensitively) and the output with every /showIncludes line
// stripped out.
func ParseShowIncludes(output, depsPrefix, baseDir string) (includes []string, filtered string) {
	seen := map[string]bool{}
	var kept []string

	for _, line := range strings.Split(output, "\n") {
		trimmed := strings.TrimRight(line, "\r")
		if inc := filterShowIncludes(trimmed, depsPrefix); inc != "" {
			if isSystemInclude(inc) {
				continue
			}
			norm := relativize(inc, baseDir)
			key := strings.ToLower(norm)
			if !seen[key] {
				seen[key] = true
				includes = append(includes, norm)
			}
			continue
		}
		kept = append(kept, line)
	}

	sort.Strings(includes)
	return includes, strings.Join(kept, "\n")
}
