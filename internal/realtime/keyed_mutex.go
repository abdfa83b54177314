package realtime

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

const lockShards = 64

// keyedMutex serializes work per key using a fixed set of striped locks.
// Distinct keys may share a stripe; callers must never hold two stripes.
type keyedMutex struct {
	shards [lockShards]sync.Mutex
}

func (k *keyedMutex) lock(key string) (unlock func()) {
	m := &k.shards[xxhash.Sum64String(key)%lockShards]
	m.Lock()
	return m.Unlock
}
