package ninja

import (
	"errors"
	"runtime"
	"strings"

	"github.com/zeebo/blake3"
	"lukechampine.com/uint128"
)

// CanonicalizePath collapses repeated separators, resolves "." segments and
// resolves ".." against the preceding non-".." segment. A leading run of
// ".." is left alone (relative-to-parent is preserved). On Windows it also
// normalizes backslashes to slashes and returns a bitmask recording which
// separators were originally backslashes, one bit per path component.
func CanonicalizePath(path string) (string, uint64, error) {
	if len(path) == 0 {
		return "", 0, errors.New("empty path")
	}

	var slashBits uint64
	raw := path
	if runtime.GOOS == "windows" {
		raw = strings.ReplaceAll(raw, "\\", "/")
	}

	components := strings.Split(raw, "/")
	out := make([]string, 0, len(components))
	leadingDotDot := 0
	sawReal := false

	for _, c := range components {
		switch {
		case c == "" || c == ".":
			continue
		case c == "..":
			if !sawReal && (len(out) == 0 || out[len(out)-1] == "..") {
				// Still inside a leading run of "..": keep it.
				out = append(out, "..")
				leadingDotDot++
				continue
			}
			if len(out) > leadingDotDot {
				out = out[:len(out)-1]
				continue
			}
			out = append(out, "..")
			leadingDotDot++
		default:
			sawReal = true
			out = append(out, c)
		}
	}

	result := strings.Join(out, "/")
	if result == "" {
		return "", 0, errors.New("empty path")
	}

	if runtime.GOOS == "windows" {
		// Recompute slash_bits by re-scanning the original string: bit k is
		// set iff the k-th separator in the canonical form was a backslash
		// in the source.
		idx := 0
		for i := 0; i < len(path); i++ {
			if path[i] == '\\' || path[i] == '/' {
				if path[i] == '\\' {
					slashBits |= 1 << uint(idx)
				}
				idx++
			}
		}
	}

	return result, slashBits, nil
}

// PathDecanonicalized reconstructs a display path using slash_bits to pick
// backslash vs. forward-slash separators, for Windows round-tripping.
func PathDecanonicalized(path string, slashBits uint64) string {
	if runtime.GOOS != "windows" || slashBits == 0 {
		return path
	}
	var b strings.Builder
	bit := uint64(0)
	for i := 0; i < len(path); i++ {
		c := path[i]
		if c == '/' {
			if slashBits&(1<<bit) != 0 {
				c = '\\'
			}
			bit++
		}
		b.WriteByte(c)
	}
	return b.String()
}

// Fingerprint128 returns a 128-bit blake3 digest of a canonical path.
// Node.Fingerprint caches it per node; it is never used for node identity
// (identity is the canonical path string itself) and the history store does
// not key rows by it.
func Fingerprint128(canonicalPath string) uint128.Uint128 {
	sum := blake3.Sum256([]byte(canonicalPath))
	return uint128.FromBytes(sum[:16])
}
