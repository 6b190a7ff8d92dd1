package history

import "github.com/segmentio/fasthash/fnv1a"

// BucketKey returns a fast, non-cryptographic hash of an output path,
// used to shard cmd/ninjastatusd's in-memory recent-builds cache so a hot
// directory of outputs doesn't all land in the same bucket. Grounded on
// ninja-go/dirhash.go's use of fnv1a for combining per-file hashes, reused
// here for index partitioning rather than content hashing.
func BucketKey(output string, buckets int) int {
	if buckets <= 0 {
		return 0
	}
	h := fnv1a.HashString64(output)
	return int(h % uint64(buckets))
}
