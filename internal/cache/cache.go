// Package cache is the shared key/value cache and refresh lock.
//
// Reads fail open: a backend error is reported as StatusDegraded and treated
// like a miss. Writes are best-effort and report WriteDropped instead of an
// error. Lock acquisition fails closed: any backend error means not acquired.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Status is the outcome of a read.
type Status int

const (
	StatusMiss Status = iota
	StatusHit
	// StatusDegraded means the backend could not be reached; callers treat it as a miss.
	StatusDegraded
)

func (s Status) String() string {
	switch s {
	case StatusHit:
		return "hit"
	case StatusDegraded:
		return "degraded"
	default:
		return "miss"
	}
}

// WriteStatus is the outcome of a best-effort write.
type WriteStatus int

const (
	WriteWritten WriteStatus = iota
	WriteDropped
)

func (s WriteStatus) String() string {
	if s == WriteWritten {
		return "written"
	}
	return "dropped"
}

// Lookup is the result of a Get.
type Lookup struct {
	Value  []byte
	Status Status
}

// Hit reports whether a value was found.
func (l Lookup) Hit() bool { return l.Status == StatusHit }

// Lock is a held refresh lock. Only the holder's token can release it.
type Lock struct {
	Key   string
	token string
}

// Options configures a Cache.
type Options struct {
	Namespace string
	// OpTimeout bounds every backend call.
	OpTimeout time.Duration
}

// Cache namespaces keys and applies the fail-open policy over a Backend.
type Cache struct {
	backend   Backend
	namespace string
	timeout   time.Duration
	log       *zap.Logger
}

// New creates a Cache. A zero OpTimeout defaults to two seconds.
func New(backend Backend, opts Options, log *zap.Logger) *Cache {
	if opts.OpTimeout <= 0 {
		opts.OpTimeout = 2 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Cache{
		backend:   backend,
		namespace: opts.Namespace,
		timeout:   opts.OpTimeout,
		log:       log.Named("cache"),
	}
}

// Namespace returns the key prefix.
func (c *Cache) Namespace() string { return c.namespace }

// Key joins parts under the namespace: Key("YOUTUBE", "US") is "{namespace}:YOUTUBE:US".
func (c *Cache) Key(parts ...string) string {
	if c.namespace == "" {
		return strings.Join(parts, ":")
	}
	return c.namespace + ":" + strings.Join(parts, ":")
}

// LockKey returns the key a lock on key is stored under.
func (c *Cache) LockKey(key string) string {
	return c.Key("lock", strings.TrimPrefix(key, c.namespace+":"))
}

func (c *Cache) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.timeout)
}

// Get reads key. It never returns an error.
func (c *Cache) Get(ctx context.Context, key string) Lookup {
	ctx, cancel := c.opContext(ctx)
	defer cancel()

	val, err := c.backend.Get(ctx, key)
	switch {
	case err == nil:
		return Lookup{Value: val, Status: StatusHit}
	case errors.Is(err, ErrMiss):
		return Lookup{Status: StatusMiss}
	default:
		c.log.Warn("cache read degraded", zap.String("key", key), zap.Error(err))
		return Lookup{Status: StatusDegraded}
	}
}

// GetJSON decodes key into dst. An undecodable value is reported as a miss.
func (c *Cache) GetJSON(ctx context.Context, key string, dst any) Status {
	l := c.Get(ctx, key)
	if !l.Hit() {
		return l.Status
	}
	if err := json.Unmarshal(l.Value, dst); err != nil {
		c.log.Warn("cache value undecodable", zap.String("key", key), zap.Error(err))
		return StatusMiss
	}
	return StatusHit
}

// Set writes key with ttl. Failures are logged and reported as WriteDropped.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) WriteStatus {
	ctx, cancel := c.opContext(ctx)
	defer cancel()

	if err := c.backend.Set(ctx, key, value, ttl); err != nil {
		c.log.Warn("cache write dropped", zap.String("key", key), zap.Error(err))
		return WriteDropped
	}
	return WriteWritten
}

// SetJSON encodes v and writes it with ttl.
func (c *Cache) SetJSON(ctx context.Context, key string, v any, ttl time.Duration) WriteStatus {
	data, err := json.Marshal(v)
	if err != nil {
		c.log.Warn("cache value unencodable", zap.String("key", key), zap.Error(err))
		return WriteDropped
	}
	return c.Set(ctx, key, data, ttl)
}

// AcquireLock tries to take the lock for key with an expiry of ttl. It returns
// false when another holder has it or when the backend is unreachable.
func (c *Cache) AcquireLock(ctx context.Context, key string, ttl time.Duration) (*Lock, bool) {
	ctx, cancel := c.opContext(ctx)
	defer cancel()

	lock := &Lock{Key: c.LockKey(key), token: uuid.NewString()}
	ok, err := c.backend.SetNX(ctx, lock.Key, []byte(lock.token), ttl)
	if err != nil {
		c.log.Warn("lock acquire failed", zap.String("key", lock.Key), zap.Error(err))
		return nil, false
	}
	if !ok {
		return nil, false
	}
	return lock, true
}

// ReleaseLock deletes the lock if it is still held by this token. It reports
// whether a delete happened; false means the lock expired or the backend failed.
func (c *Cache) ReleaseLock(ctx context.Context, lock *Lock) bool {
	if lock == nil {
		return false
	}
	// Release must run even when the caller's context is already cancelled.
	ctx, cancel := c.opContext(context.WithoutCancel(ctx))
	defer cancel()

	ok, err := c.backend.CompareAndDelete(ctx, lock.Key, []byte(lock.token))
	if err != nil {
		c.log.Warn("lock release failed", zap.String("key", lock.Key), zap.Error(err))
		return false
	}
	if !ok {
		c.log.Debug("lock already expired or taken over", zap.String("key", lock.Key))
	}
	return ok
}

// Ping checks backend reachability.
func (c *Cache) Ping(ctx context.Context) error {
	ctx, cancel := c.opContext(ctx)
	defer cancel()
	return c.backend.Ping(ctx)
}
