// Package shard spreads keys over a fixed number of partitions.
package shard

import (
	"fmt"
	"hash/fnv"
)

// Of returns the partition of key among n partitions. With n <= 1 every key
// goes to partition 0. The same key always lands on the same partition.
func Of(key string, n int) int {
	if n <= 1 {
		return 0
	}
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % uint32(n))
}

// Label formats a partition for logs and errors as two hex digits.
func Label(p int) string {
	return fmt.Sprintf("%02x", p)
}

// Split groups keys by partition. Groups keep the input order; empty
// partitions are omitted.
func Split(keys []string, n int) map[int][]string {
	out := make(map[int][]string)
	for _, key := range keys {
		p := Of(key, n)
		out[p] = append(out[p], key)
	}
	return out
}
