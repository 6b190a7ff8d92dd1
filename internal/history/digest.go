// Package history provides a local-only secondary index over completed
// builds, supplementing the append-only build/deps log with a queryable
// store for audit and `ninjahist` lookups. It never leaves the machine: no
// remote dispatch, no content-addressed sharing across hosts.
package history

import (
	"encoding/hex"
	"io"
	"os"

	"github.com/zeebo/blake3"
)

// DigestFile returns the hex-encoded blake3 digest of a file's contents,
// used as the content key stored alongside each BuildRecord. Grounded on
// ninja-go/dirhash.go's hashFile, which uses the same library for the same
// purpose (detecting whether rebuilt output bytes actually changed).
func DigestFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// DigestBytes is DigestFile's in-memory counterpart: it returns the same
// hex digest for bytes already held in memory.
func DigestBytes(b []byte) string {
	sum := blake3.Sum256(b)
	return hex.EncodeToString(sum[:])
}
