package util

import "runtime"

// MaxShards caps automatic and requested shard counts.
const MaxShards = 256

// ShardCount returns the power-of-two shard count for a store holding
// capacity entries.
//
// Zero keeps a single shard. A positive requested count is rounded up to a
// power of two and lowered until every shard holds at least one entry. A
// negative count selects automatically: nextPow2(2*GOMAXPROCS), halved while
// a shard would hold fewer than minPerShard entries.
func ShardCount(requested, capacity, minPerShard int) int {
	if requested == 0 {
		return 1
	}
	n, floor := min(nextPow2(2*max(runtime.GOMAXPROCS(0), 1)), MaxShards), minPerShard
	if requested > 0 {
		n, floor = min(nextPow2(requested), MaxShards), 1
	}
	for n > 1 && capacity/n < floor {
		n /= 2
	}
	return n
}

// SplitEven returns part i of total divided into n parts whose sum is
// exactly total. The first total%n parts get one extra unit.
func SplitEven(total int64, n, i int) int64 {
	part := total / int64(n)
	if int64(i) < total%int64(n) {
		part++
	}
	return part
}

// ShardIndex maps a hash onto one of shards buckets. shards must be a power
// of two, as returned by ShardCount.
func ShardIndex(hash uint64, shards int) int {
	return int(hash & uint64(shards-1))
}

func nextPow2(x int) int {
	n := 1
	for n < x {
		n <<= 1
	}
	return n
}
