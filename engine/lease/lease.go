// Package lease provides per-conversation mutual exclusion. Webhook-driven
// messaging providers deliver duplicates and near-simultaneous retries; a
// turn must own its conversation exclusively or two turns race on the log
// and the stored handles.
package lease

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	contractx "github.com/ajudei/concierge/engine/contract"
)

const defaultTTL = 90 * time.Second

// releaseScript deletes the lease only when the caller still owns it.
const releaseScript = `if redis.call("get", KEYS[1]) == ARGV[1] then return redis.call("del", KEYS[1]) else return 0 end`

type Config struct {
	URL string        `split_words:"true"`
	TTL time.Duration `split_words:"true" default:"90s"`
}

// RedisLease implements contract.Lease with SET NX PX and a token-checked
// release, safe across multiple service instances.
type RedisLease struct {
	client *redis.Client
	ttl    time.Duration
}

var _ contractx.Lease = (*RedisLease)(nil)

func NewRedisLease(cfg Config) (*RedisLease, error) {
	opt, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("lease: parse redis url: %w", err)
	}
	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("lease: redis ping: %w", err)
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &RedisLease{client: client, ttl: ttl}, nil
}

func (l *RedisLease) Acquire(ctx context.Context, conversationID int64) (func(), error) {
	key := leaseKey(conversationID)
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("lease: acquire conversation=%d: %w", conversationID, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: conversation=%d", contractx.ErrConversationBusy, conversationID)
	}

	release := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = l.client.Eval(ctx, releaseScript, []string{key}, token).Err()
	}
	return release, nil
}

func (l *RedisLease) Close() error {
	return l.client.Close()
}

func leaseKey(conversationID int64) string {
	return fmt.Sprintf("concierge:turn:%d", conversationID)
}

// LocalLease is an in-process lease for single-instance deployments and
// tests.
type LocalLease struct {
	mu   sync.Mutex
	held map[int64]struct{}
}

var _ contractx.Lease = (*LocalLease)(nil)

func NewLocalLease() *LocalLease {
	return &LocalLease{held: make(map[int64]struct{})}
}

func (l *LocalLease) Acquire(_ context.Context, conversationID int64) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.held[conversationID]; busy {
		return nil, fmt.Errorf("%w: conversation=%d", contractx.ErrConversationBusy, conversationID)
	}
	l.held[conversationID] = struct{}{}

	var once sync.Once
	release := func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, conversationID)
			l.mu.Unlock()
		})
	}
	return release, nil
}
