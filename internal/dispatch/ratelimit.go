package dispatch

import (
	"sync"
	"time"
)

// Per-Contact Token Bucket
//
// Each recipient contact gets its own bucket (default capacity 15,
// refill 15 per 60 seconds) so one noisy recipient cannot starve the
// rest. In-memory and process-wide; nothing persists. An idle-bucket
// sweep keeps the map from growing without bound.

const bucketIdleTTL = 30 * time.Minute

type contactBucket struct {
	mu       sync.Mutex
	tokens   float64
	lastSeen time.Time
}

type ContactLimiter struct {
	rate    float64 // tokens per second
	burst   float64 // bucket capacity
	mu      sync.Mutex
	buckets map[string]*contactBucket
	now     func() time.Time
}

// NewContactLimiter allows refillPerMin sends per minute per contact
// with a burst of capacity.
func NewContactLimiter(capacity, refillPerMin int) *ContactLimiter {
	return &ContactLimiter{
		rate:    float64(refillPerMin) / 60.0,
		burst:   float64(capacity),
		buckets: make(map[string]*contactBucket),
		now:     time.Now,
	}
}

// Allow consumes one token for the contact, reporting whether the send
// may proceed.
func (l *ContactLimiter) Allow(contact string) bool {
	l.mu.Lock()
	bucket, ok := l.buckets[contact]
	if !ok {
		bucket = &contactBucket{tokens: l.burst}
		l.buckets[contact] = bucket
	}
	l.mu.Unlock()

	bucket.mu.Lock()
	defer bucket.mu.Unlock()

	now := l.now()
	if !bucket.lastSeen.IsZero() {
		bucket.tokens += now.Sub(bucket.lastSeen).Seconds() * l.rate
		if bucket.tokens > l.burst {
			bucket.tokens = l.burst
		}
	}
	bucket.lastSeen = now

	if bucket.tokens >= 1.0 {
		bucket.tokens--
		return true
	}
	return false
}

// Sweep drops buckets idle longer than the TTL. The scheduler calls
// this periodically.
func (l *ContactLimiter) Sweep() {
	cutoff := l.now().Add(-bucketIdleTTL)
	l.mu.Lock()
	defer l.mu.Unlock()
	for contact, bucket := range l.buckets {
		bucket.mu.Lock()
		idle := bucket.lastSeen.Before(cutoff)
		bucket.mu.Unlock()
		if idle {
			delete(l.buckets, contact)
		}
	}
}
