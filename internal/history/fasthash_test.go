package history

import "testing"

func TestBucketKeyStableAndInRange(t *testing.T) {
	for _, path := range []string{"foo.o", "bar/baz.o", ""} {
		b := BucketKey(path, 16)
		if b < 0 || b >= 16 {
			t.Fatalf("BucketKey(%q, 16) = %d, out of range", path, b)
		}
		if again := BucketKey(path, 16); again != b {
			t.Fatalf("BucketKey(%q, 16) not stable: %d != %d", path, b, again)
		}
	}
}

func TestBucketKeyZeroBucketsIsZero(t *testing.T) {
	if got := BucketKey("anything", 0); got != 0 {
		t.Errorf("BucketKey with 0 buckets = %d, want 0", got)
	}
	if got := BucketKey("anything", -1); got != 0 {
		t.Errorf("BucketKey with negative buckets = %d, want 0", got)
	}
}

func TestBucketKeyDistributesAcrossBuckets(t *testing.T) {
	seen := map[int]bool{}
	for i := 0; i < 64; i++ {
		path := string(rune('a' + i%26))
		seen[BucketKey(path, 8)] = true
	}
	if len(seen) < 2 {
		t.Errorf("expected more than one distinct bucket across 64 varied paths, got %d", len(seen))
	}
}
