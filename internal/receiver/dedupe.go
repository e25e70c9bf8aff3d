package receiver

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/rueidis"
)

// Deduper remembers event ids.
type Deduper interface {
	// FirstSeen records id and reports whether it was new.
	FirstSeen(ctx context.Context, id string) (bool, error)
	Forget(ctx context.Context, id string) error
}

// RedisDeduper keeps ids in Redis with a TTL, so several receiver replicas share one view.
type RedisDeduper struct {
	client rueidis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisDeduper(client rueidis.Client, prefix string, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{client: client, prefix: prefix, ttl: ttl}
}

func (d *RedisDeduper) FirstSeen(ctx context.Context, id string) (bool, error) {
	cmd := d.client.B().Set().Key(d.prefix + id).Value("1").Nx().ExSeconds(int64(d.ttl / time.Second)).Build()

	err := d.client.Do(ctx, cmd).Error()
	if rueidis.IsRedisNil(err) {
		return false, nil
	}

	if err != nil {
		return false, fmt.Errorf("failed to record event id: %w", err)
	}

	return true, nil
}

func (d *RedisDeduper) Forget(ctx context.Context, id string) error {
	return d.client.Do(ctx, d.client.B().Del().Key(d.prefix+id).Build()).Error()
}

// MemoryDeduper is a process-local Deduper without expiry.
type MemoryDeduper struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func NewMemoryDeduper() *MemoryDeduper {
	return &MemoryDeduper{seen: make(map[string]struct{})}
}

func (d *MemoryDeduper) FirstSeen(_ context.Context, id string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.seen[id]; ok {
		return false, nil
	}

	d.seen[id] = struct{}{}

	return true, nil
}

func (d *MemoryDeduper) Forget(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.seen, id)

	return nil
}
