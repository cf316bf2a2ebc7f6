// Package otp stores short-lived one-time verification codes.
package otp

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
)

// Store keeps at most one live code per email.
type Store interface {
	// Save replaces any previous code for email.
	Save(ctx context.Context, email, code string, ttl time.Duration) error
	// Consume reports whether code is the live code for email and, if so,
	// invalidates it.
	Consume(ctx context.Context, email, code string) (bool, error)
}

// Generate returns a random 6-digit code.
func Generate() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", fmt.Errorf("generate otp: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}

func key(email string) string {
	return "otp:" + strings.ToLower(strings.TrimSpace(email))
}

// Redis keeps codes as expiring keys so every API instance sees them.
type Redis struct {
	client *redis.Client
}

// NewRedis creates a Redis backed store.
func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

// Save stores code under the email key with ttl.
func (r *Redis) Save(ctx context.Context, email, code string, ttl time.Duration) error {
	return r.client.Set(ctx, key(email), code, ttl).Err()
}

// compare and delete in one round trip so a code is used at most once
var consumeScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Consume deletes the key when code matches.
func (r *Redis) Consume(ctx context.Context, email, code string) (bool, error) {
	n, err := consumeScript.Run(ctx, r.client, []string{key(email)}, code).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Memory keeps codes in process with go-cache expiry.
type Memory struct {
	mu    sync.Mutex
	cache *cache.Cache
}

// NewMemory creates an in-process store.
func NewMemory() *Memory {
	return &Memory{cache: cache.New(15*time.Minute, 5*time.Minute)}
}

// Save stores code with ttl.
func (m *Memory) Save(_ context.Context, email, code string, ttl time.Duration) error {
	m.cache.Set(key(email), code, ttl)
	return nil
}

// Consume removes the code when it matches.
func (m *Memory) Consume(_ context.Context, email, code string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.cache.Get(key(email))
	if !ok || v.(string) != code {
		return false, nil
	}
	m.cache.Delete(key(email))
	return true, nil
}
