package module

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jellydator/ttlcache/v3"

	"github.com/brianh20/many-go/pkg/message"
)

// AsyncStatus is the state of one deferred call (SPEC_FULL.md 4.6).
// Progress is one-way: Queued -> Processing -> Done|Expired.
type AsyncStatus int

const (
	AsyncUnknown AsyncStatus = iota
	AsyncQueued
	AsyncProcessing
	AsyncDone
	AsyncExpired
)

type asyncTask struct {
	mu       sync.Mutex
	status   AsyncStatus
	response message.ResponseMessage
}

// AsyncManager is the thread-safe token table backing deferred responses.
// Token allocation uses a UUIDv4's 16 random bytes as the CSPRNG token
// (google/uuid), and the table itself is a TTL-evicting cache
// (jellydator/ttlcache/v3) whose cleanup loop, started on its own goroutine
// by NewAsyncManager, reclaims completed-or-abandoned entries. Reading a
// token's status does not extend its TTL. A second, short-lived cache records
// tokens evicted before completion so Status can still report Expired
// rather than collapsing it into Unknown for a grace window after eviction.
type AsyncManager struct {
	cache   *ttlcache.Cache[string, *asyncTask]
	expired *ttlcache.Cache[string, struct{}]
}

// NewAsyncManager creates a manager whose entries expire after ttl unless
// completed first.
func NewAsyncManager(ttl time.Duration) *AsyncManager {
	cache := ttlcache.New[string, *asyncTask](
		ttlcache.WithTTL[string, *asyncTask](ttl),
		ttlcache.WithDisableTouchOnHit[string, *asyncTask](),
	)
	expired := ttlcache.New[string, struct{}](ttlcache.WithTTL[string, struct{}](ttl))

	cache.OnEviction(func(_ context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[string, *asyncTask]) {
		if reason != ttlcache.EvictionReasonExpired {
			return
		}
		task := item.Value()
		task.mu.Lock()
		done := task.status == AsyncDone
		task.mu.Unlock()
		if !done {
			expired.Set(item.Key(), struct{}{}, ttlcache.DefaultTTL)
		}
	})

	go cache.Start()
	go expired.Start()
	return &AsyncManager{cache: cache, expired: expired}
}

// Submit runs work in a goroutine and returns the Pending marker for the
// execute path to attach as an AsyncAttribute. The task transitions
// Queued -> Processing immediately before work runs, then Done once it
// returns (ttlcache evicts it to Expired-by-absence if the TTL elapses
// first).
func (m *AsyncManager) Submit(work func() message.ResponseMessage) (Pending, error) {
	token, err := newToken()
	if err != nil {
		return Pending{}, err
	}
	task := &asyncTask{status: AsyncQueued}
	m.cache.Set(string(token), task, ttlcache.DefaultTTL)

	go func() {
		task.mu.Lock()
		task.status = AsyncProcessing
		task.mu.Unlock()

		resp := work()

		task.mu.Lock()
		task.status = AsyncDone
		task.response = resp
		task.mu.Unlock()
	}()

	return Pending{Token: token}, nil
}

// Status returns the current state of token, and the wrapped response when
// Done. Once a Done token falls out of the cache (no guaranteed retention,
// per SPEC_FULL.md 4.6's "MAY evict after Done is observed") or once an
// Expired token ages out of the secondary grace-window cache, both report
// AsyncUnknown: true "never issued" and "observed-and-forgotten" are
// intentionally indistinguishable at that point.
func (m *AsyncManager) Status(token []byte) (AsyncStatus, message.ResponseMessage) {
	item := m.cache.Get(string(token))
	if item != nil {
		task := item.Value()
		task.mu.Lock()
		defer task.mu.Unlock()
		return task.status, task.response
	}
	if m.expired.Get(string(token)) != nil {
		return AsyncExpired, message.ResponseMessage{}
	}
	return AsyncUnknown, message.ResponseMessage{}
}

// newToken allocates a fresh 16-byte CSPRNG token (a UUIDv4's raw bytes).
func newToken() ([]byte, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return nil, err
	}
	return id[:], nil
}
