package committee

import (
	"sync"

	"github.com/buraksezer/consistent"
	"github.com/spaolacci/murmur3"
)

type hasher struct{}

func (h hasher) Sum64(data []byte) uint64 {
	return murmur3.Sum64(data)
}

// reviewLocks serializes decision evaluation per review inside one process.
// Reviews hash onto a fixed set of stripes, so the lock set never grows.
type reviewLocks struct {
	ring  *consistent.Consistent
	locks []sync.Mutex
}

func newReviewLocks(stripes int) *reviewLocks {
	if stripes <= 0 {
		stripes = 271
	}
	cfg := consistent.Config{
		PartitionCount:    stripes,
		ReplicationFactor: 20,
		Load:              1.25,
		Hasher:            hasher{},
	}
	return &reviewLocks{
		ring:  consistent.New(nil, cfg),
		locks: make([]sync.Mutex, stripes),
	}
}

func (l *reviewLocks) stripe(reviewId string) int {
	return l.ring.FindPartitionID([]byte(reviewId))
}

// Lock returns the unlock func for the stripe owning reviewId.
func (l *reviewLocks) Lock(reviewId string) func() {
	mu := &l.locks[l.stripe(reviewId)]
	mu.Lock()
	return mu.Unlock
}
