// Package lock implements TTL-bounded, owner-verified mutual exclusion
// on top of the Redis primitive store.  A lock is a key written with
// SET NX EX carrying a random owner token; release is a server-side
// compare-and-delete so a caller can never delete a lock it no longer
// owns.  The multi-key variant acquires in lexicographic key order,
// which makes circular waits impossible.
package lock

import (
	"context"
	"errors"
	"math/rand"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrTimeout is returned when the max-wait budget is exhausted without
// acquiring the lock.  Callers surface it as an Unavailable condition.
var ErrTimeout = errors.New("lock: acquisition timed out")

// releaseScript deletes the key only while it still holds our token.
// GET, compare and DEL run as one unit on the server.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
    return redis.call("del", KEYS[1])
else
    return 0
end
`)

// extendScript refreshes the TTL only while we still own the key.
var extendScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
    return redis.call("pexpire", KEYS[1], ARGV[2])
else
    return 0
end
`)

// Manager acquires and releases locks against one Redis client with a
// fixed TTL and retry policy.  A caller holding a lock beyond the TTL
// has no mutual-exclusion guarantee; size TTL to at least three times
// the expected critical-section latency.
type Manager struct {
	rdb        *redis.Client
	ttl        time.Duration
	retryDelay time.Duration
	maxWait    time.Duration
}

// NewManager returns a Manager.  retryDelay is the floor of the pause
// between attempts; maxWait bounds one whole acquisition.
func NewManager(rdb *redis.Client, ttl, retryDelay, maxWait time.Duration) *Manager {
	return &Manager{rdb: rdb, ttl: ttl, retryDelay: retryDelay, maxWait: maxWait}
}

// Lock is a single held lock.  It is not safe for concurrent use.
type Lock struct {
	m     *Manager
	key   string
	token string
}

// Key returns the full Redis key of the lock.
func (l *Lock) Key() string { return l.key }

// Acquire takes the lock named by name (stored under "lock:"+name).
// On contention it retries with jittered backoff no faster than the
// manager's retryDelay until maxWait elapses, then returns ErrTimeout.
func (m *Manager) Acquire(ctx context.Context, name string) (*Lock, error) {
	key := "lock:" + name
	token := uuid.NewString()
	start := time.Now()

	for {
		ok, err := m.rdb.SetNX(ctx, key, token, m.ttl).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			return &Lock{m: m, key: key, token: token}, nil
		}

		// Jitter up to half the retry delay so contending callers
		// do not fall into lockstep.
		sleep := m.retryDelay
		if m.retryDelay > 1 {
			sleep += time.Duration(rand.Int63n(int64(m.retryDelay) / 2))
		}
		if time.Since(start)+sleep > m.maxWait {
			return nil, ErrTimeout
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(sleep):
		}
	}
}

// Release deletes the lock if we still own it.  It returns false when
// ownership was already lost (TTL expiry); callers log and move on.
func (l *Lock) Release(ctx context.Context) (bool, error) {
	n, err := releaseScript.Run(ctx, l.m.rdb, []string{l.key}, l.token).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Extend refreshes the TTL if we still own the lock.
func (l *Lock) Extend(ctx context.Context) (bool, error) {
	n, err := extendScript.Run(ctx, l.m.rdb, []string{l.key}, l.token, l.m.ttl.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// MultiLock holds a set of locks acquired in sorted order.
type MultiLock struct {
	locks []*Lock
}

// AcquireAll takes every named lock.  Names are sorted so any two
// callers with overlapping sets acquire in the same global order: one
// always holds a prefix of the other's requirement, so no deadlock.
// On any failure every already-held lock is released in reverse order
// and the whole attempt fails.
func (m *Manager) AcquireAll(ctx context.Context, names []string) (*MultiLock, error) {
	sorted := make([]string, len(names))
	copy(sorted, names)
	sort.Strings(sorted)

	ml := &MultiLock{locks: make([]*Lock, 0, len(sorted))}
	for _, name := range sorted {
		l, err := m.Acquire(ctx, name)
		if err != nil {
			ml.Release(ctx)
			return nil, err
		}
		ml.locks = append(ml.locks, l)
	}
	return ml, nil
}

// Release frees every held lock in reverse acquisition order.  Lost
// ownership is tolerated; the first transport error is returned after
// all releases were attempted.
func (ml *MultiLock) Release(ctx context.Context) error {
	var first error
	for i := len(ml.locks) - 1; i >= 0; i-- {
		if _, err := ml.locks[i].Release(ctx); err != nil && first == nil {
			first = err
		}
	}
	ml.locks = ml.locks[:0]
	return first
}
