package bucketing

import (
	"hash"
	"sync"
	"time"

	"github.com/spaolacci/murmur3"

	"identity-service/internal/config"
)

// BucketingManager assigns stable partition buckets for audit events
// and throttle windows.
type BucketingManager struct {
	eventBuckets int
	hasherPool   sync.Pool
}

func NewBucketingManager(cfg *config.Config) *BucketingManager {
	bm := &BucketingManager{
		eventBuckets: cfg.Bucketing.EventBuckets,
	}

	// Pool of hash functions to avoid allocation overhead
	bm.hasherPool = sync.Pool{
		New: func() interface{} {
			return murmur3.New64()
		},
	}

	return bm
}

// GetEventBucket returns a stable bucket in [0, eventBuckets) for the
// identifier.
func (bm *BucketingManager) GetEventBucket(identifier string) int {
	if bm.eventBuckets <= 0 {
		return 0
	}
	return int(bm.getHash(identifier) % uint64(bm.eventBuckets))
}

// GetTimeBucket floors at to the window it falls in, as a unix second.
// Requests inside the same window share a bucket value.
func (bm *BucketingManager) GetTimeBucket(at time.Time, window time.Duration) int64 {
	windowSeconds := int64(window / time.Second)
	if windowSeconds <= 0 {
		windowSeconds = 1
	}
	return at.Unix() / windowSeconds * windowSeconds
}

// GetDateBucket returns the UTC date partition for at.
func (bm *BucketingManager) GetDateBucket(at time.Time) string {
	return at.UTC().Format("2006-01-02")
}

func (bm *BucketingManager) getHash(key string) uint64 {
	// Get hasher from pool
	hasher := bm.hasherPool.Get().(hash.Hash64)
	defer bm.hasherPool.Put(hasher)

	hasher.Reset()
	hasher.Write([]byte(key))
	return hasher.Sum64()
}
