package ratelimit

import (
	"container/list"
	"sync"
)

const defaultMaxRemotes = 4096

// RemoteLimiter maintains one token bucket per remote key (typically the
// client IP) so one chatty poller cannot starve the other participant.
//
// Buckets are kept in an LRU list bounded by maxRemotes; evicting a bucket
// merely resets that remote's budget, which is acceptable for a polling
// protocol measured in requests per second.
type RemoteLimiter struct {
	clock    Clock
	capacity int64
	fillRate int64

	maxRemotes int

	mu      sync.Mutex
	buckets map[string]*remoteEntry
	lru     *list.List
}

type remoteEntry struct {
	key    string
	bucket *TokenBucket
	elem   *list.Element
}

// NewRemoteLimiter builds a limiter allowing fillRate requests/sec with a
// burst of capacity per remote. A nil limiter allows everything.
func NewRemoteLimiter(clock Clock, capacity, fillRate int64, maxRemotes int) *RemoteLimiter {
	if clock == nil {
		clock = RealClock{}
	}
	if maxRemotes <= 0 {
		maxRemotes = defaultMaxRemotes
	}
	return &RemoteLimiter{
		clock:      clock,
		capacity:   capacity,
		fillRate:   fillRate,
		maxRemotes: maxRemotes,
		buckets:    make(map[string]*remoteEntry),
		lru:        list.New(),
	}
}

// Allow consumes one token from the remote's bucket.
func (l *RemoteLimiter) Allow(remote string) bool {
	if l == nil {
		return true
	}

	l.mu.Lock()
	entry, ok := l.buckets[remote]
	if !ok {
		entry = &remoteEntry{
			key:    remote,
			bucket: NewTokenBucket(l.clock, l.capacity, l.fillRate),
		}
		entry.elem = l.lru.PushFront(entry)
		l.buckets[remote] = entry
		l.evictLocked()
	} else {
		l.lru.MoveToFront(entry.elem)
	}
	bucket := entry.bucket
	l.mu.Unlock()

	return bucket.Allow(1)
}

func (l *RemoteLimiter) evictLocked() {
	for len(l.buckets) > l.maxRemotes {
		back := l.lru.Back()
		if back == nil {
			return
		}
		entry := back.Value.(*remoteEntry)
		l.lru.Remove(back)
		delete(l.buckets, entry.key)
	}
}
