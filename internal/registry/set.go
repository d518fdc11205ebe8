package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// MemorySet is a process-local ActiveSet.
type MemorySet struct {
	mu     sync.Mutex
	tokens map[string]struct{}
}

var _ ActiveSet = (*MemorySet)(nil)

func NewMemorySet() *MemorySet {
	return &MemorySet{tokens: make(map[string]struct{})}
}

func (s *MemorySet) TryAdd(_ context.Context, tokenAddress string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tokens[tokenAddress]; ok {
		return false, nil
	}
	s.tokens[tokenAddress] = struct{}{}
	return true, nil
}

func (s *MemorySet) Remove(_ context.Context, tokenAddress string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.tokens, tokenAddress)
	return nil
}

func (s *MemorySet) Contains(_ context.Context, tokenAddress string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.tokens[tokenAddress]
	return ok, nil
}

func (s *MemorySet) List(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, 0, len(s.tokens))
	for token := range s.tokens {
		out = append(out, token)
	}
	return out, nil
}

const DefaultClaimTTL = 30 * time.Minute

// RedisSet shares the active set across replicas. Each claim is a SETNX key with a TTL so a
// crashed replica cannot hold a token forever; live replicas keep their claims with Refresh.
type RedisSet struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

var (
	_ ActiveSet = (*RedisSet)(nil)
	_ Expiring  = (*RedisSet)(nil)
)

func NewRedisSet(client *redis.Client, prefix string, ttl time.Duration) *RedisSet {
	if prefix == "" {
		prefix = "sellflux:active:"
	}
	if ttl <= 0 {
		ttl = DefaultClaimTTL
	}
	return &RedisSet{client: client, prefix: prefix, ttl: ttl}
}

func (s *RedisSet) TTL() time.Duration {
	return s.ttl
}

// Refresh 续期所有仍存在的 claim
func (s *RedisSet) Refresh(ctx context.Context) (int, error) {
	tokens, err := s.List(ctx)
	if err != nil {
		return 0, err
	}
	if len(tokens) == 0 {
		return 0, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.BoolCmd, 0, len(tokens))
	for _, token := range tokens {
		cmds = append(cmds, pipe.Expire(ctx, s.prefix+token, s.ttl))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("redis expire failed: %w", err)
	}

	refreshed := 0
	for _, cmd := range cmds {
		if cmd.Val() {
			refreshed++
		}
	}
	return refreshed, nil
}

func (s *RedisSet) TryAdd(ctx context.Context, tokenAddress string) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.prefix+tokenAddress, time.Now().UTC().Format(time.RFC3339), s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx failed: %w", err)
	}
	return ok, nil
}

func (s *RedisSet) Remove(ctx context.Context, tokenAddress string) error {
	if err := s.client.Del(ctx, s.prefix+tokenAddress).Err(); err != nil {
		return fmt.Errorf("redis del failed: %w", err)
	}
	return nil
}

func (s *RedisSet) Contains(ctx context.Context, tokenAddress string) (bool, error) {
	n, err := s.client.Exists(ctx, s.prefix+tokenAddress).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists failed: %w", err)
	}
	return n > 0, nil
}

func (s *RedisSet) List(ctx context.Context) ([]string, error) {
	var (
		out    []string
		cursor uint64
	)
	for {
		keys, next, err := s.client.Scan(ctx, cursor, s.prefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("redis scan failed: %w", err)
		}
		for _, key := range keys {
			out = append(out, key[len(s.prefix):])
		}
		if next == 0 {
			return out, nil
		}
		cursor = next
	}
}

// Close 关闭连接
func (s *RedisSet) Close() error {
	return s.client.Close()
}
