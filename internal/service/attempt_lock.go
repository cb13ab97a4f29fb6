package service

import (
	"hash/fnv"
	"sync"

	"github.com/google/uuid"
)

const lockShards = 64

// keyedMutex serializes mutations per attempt ID with a fixed pool of shard
// mutexes. Two attempts may share a shard, which only costs throughput, never
// correctness; operations on different attempts hold no common invariant.
type keyedMutex struct {
	shards [lockShards]sync.Mutex
}

// of returns the mutex guarding the given attempt ID.
func (k *keyedMutex) of(id uuid.UUID) *sync.Mutex {
	h := fnv.New32a()
	h.Write(id[:])
	return &k.shards[h.Sum32()%lockShards]
}
