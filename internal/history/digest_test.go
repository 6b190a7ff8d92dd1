package history

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDigestFileMatchesDigestBytes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.bin")
	contents := []byte("hello history store")
	if err := os.WriteFile(path, contents, 0644); err != nil {
		t.Fatal(err)
	}

	fileDigest, err := DigestFile(path)
	if err != nil {
		t.Fatal(err)
	}
	bytesDigest := DigestBytes(contents)
	if fileDigest != bytesDigest {
		t.Errorf("DigestFile = %s, DigestBytes = %s, want equal for identical content", fileDigest, bytesDigest)
	}
}

func TestDigestFileChangesWithContent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.bin")

	if err := os.WriteFile(path, []byte("version one"), 0644); err != nil {
		t.Fatal(err)
	}
	first, err := DigestFile(path)
	if err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(path, []byte("version two"), 0644); err != nil {
		t.Fatal(err)
	}
	second, err := DigestFile(path)
	if err != nil {
		t.Fatal(err)
	}

	if first == second {
		t.Error("expected different content to produce different digests")
	}
}

func TestDigestFileMissingIsError(t *testing.T) {
	if _, err := DigestFile(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}
