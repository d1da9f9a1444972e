package auth

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const noncePrefix = "login-nonce:"

// RedisNonceStore keeps nonces in Redis with the TTL enforced by key
// expiry; GETDEL makes redemption single-use even across server
// instances.
type RedisNonceStore struct {
	client *redis.Client
}

// NewRedisNonceStore builds a store over an existing client.
func NewRedisNonceStore(client *redis.Client) *RedisNonceStore {
	return &RedisNonceStore{client: client}
}

// Issue implements NonceStore.
func (s *RedisNonceStore) Issue(ctx context.Context) (string, error) {
	nonce, err := NewNonce()
	if err != nil {
		return "", err
	}
	if err := s.client.Set(ctx, noncePrefix+nonce, "1", NonceTTL).Err(); err != nil {
		return "", err
	}
	return nonce, nil
}

// Redeem implements NonceStore.
func (s *RedisNonceStore) Redeem(ctx context.Context, nonce string) error {
	val, err := s.client.GetDel(ctx, noncePrefix+nonce).Result()
	if err == redis.Nil || val == "" {
		return ErrNonceInvalid
	}
	if err != nil {
		return err
	}
	return nil
}

// MemoryNonceStore is the in-process fallback used in tests and
// single-node development runs.
type MemoryNonceStore struct {
	mu     sync.Mutex
	nonces map[string]time.Time
	now    func() time.Time
}

// NewMemoryNonceStore builds an empty in-memory store. now may be nil.
func NewMemoryNonceStore(now func() time.Time) *MemoryNonceStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryNonceStore{nonces: make(map[string]time.Time), now: now}
}

// Issue implements NonceStore.
func (s *MemoryNonceStore) Issue(ctx context.Context) (string, error) {
	nonce, err := NewNonce()
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nonces[nonce] = s.now().Add(NonceTTL)
	return nonce, nil
}

// Redeem implements NonceStore.
func (s *MemoryNonceStore) Redeem(ctx context.Context, nonce string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	expiry, ok := s.nonces[nonce]
	if !ok {
		return ErrNonceInvalid
	}
	delete(s.nonces, nonce)
	if s.now().After(expiry) {
		return ErrNonceInvalid
	}
	return nil
}
