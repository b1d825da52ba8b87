// Package replay guards against verification proof reuse. A proof that
// was accepted once must not count again, for the same milestone or any
// other.
package replay

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"lifeline/pkg/platform/sentinel"
)

// Guard registers proof hashes first-writer-wins.
type Guard interface {
	// Register claims the proof hash. Returns sentinel.ErrAlreadyUsed
	// if another submission already claimed it.
	Register(ctx context.Context, proofHash string) error
	// Unregister releases a claim so the proof can be used again.
	// Called when the submission that claimed the hash did not commit;
	// a consumed nonce must correspond to a recorded verification.
	Unregister(ctx context.Context, proofHash string) error
}

// RedisGuard backs the guard with SETNX so the first-use property holds
// across server instances.
type RedisGuard struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisGuard creates a guard with the given retention. A zero ttl
// keeps hashes forever.
func NewRedisGuard(client *redis.Client, ttl time.Duration) *RedisGuard {
	return &RedisGuard{client: client, ttl: ttl}
}

func (g *RedisGuard) Register(ctx context.Context, proofHash string) error {
	key := "lifeline:proof:" + proofHash
	ok, err := g.client.SetNX(ctx, key, 1, g.ttl).Result()
	if err != nil {
		return fmt.Errorf("register proof hash: %w", err)
	}
	if !ok {
		return sentinel.ErrAlreadyUsed
	}
	return nil
}

func (g *RedisGuard) Unregister(ctx context.Context, proofHash string) error {
	if err := g.client.Del(ctx, "lifeline:proof:"+proofHash).Err(); err != nil {
		return fmt.Errorf("unregister proof hash: %w", err)
	}
	return nil
}

// MemoryGuard is the in-process guard for reference deployments and
// tests.
type MemoryGuard struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func NewMemoryGuard() *MemoryGuard {
	return &MemoryGuard{seen: make(map[string]struct{})}
}

func (g *MemoryGuard) Register(_ context.Context, proofHash string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.seen[proofHash]; ok {
		return sentinel.ErrAlreadyUsed
	}
	g.seen[proofHash] = struct{}{}
	return nil
}

func (g *MemoryGuard) Unregister(_ context.Context, proofHash string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.seen, proofHash)
	return nil
}
