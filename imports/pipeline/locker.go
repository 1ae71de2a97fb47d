package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bsm/redislock"
)

// ErrItemLocked means another worker is driving the item right now.
var ErrItemLocked = errors.New("import item is locked by another worker")

// ItemLocker keeps an item's chain non-reentrant. Acquire never blocks: a
// busy item returns ErrItemLocked and the message is redelivered later.
type ItemLocker interface {
	Acquire(ctx context.Context, itemID string) (release func(), err error)
}

// MutexLocker is the in-process locker used in inline mode.
type MutexLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func NewMutexLocker() *MutexLocker {
	return &MutexLocker{held: map[string]bool{}}
}

func (l *MutexLocker) Acquire(_ context.Context, itemID string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[itemID] {
		return nil, ErrItemLocked
	}
	l.held[itemID] = true
	return func() {
		l.mu.Lock()
		delete(l.held, itemID)
		l.mu.Unlock()
	}, nil
}

// RedisLocker takes a redislock lease per item so workers on different hosts
// never run the same item at once.
type RedisLocker struct {
	client *redislock.Client
	ttl    time.Duration
}

func NewRedisLocker(client *redislock.Client, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisLocker{client: client, ttl: ttl}
}

func (l *RedisLocker) Acquire(ctx context.Context, itemID string) (func(), error) {
	lock, err := l.client.Obtain(ctx, "import:item-lock:"+itemID, l.ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, ErrItemLocked
	}
	if err != nil {
		return nil, err
	}
	return func() { _ = lock.Release(context.Background()) }, nil
}
