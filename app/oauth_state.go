package app

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

const oauthStateTTL = 10 * time.Minute

var errStateNotFound = errors.New("oauth state not found or expired")

// stateStore keeps short-lived OAuth state tokens mapped to the user who
// started the flow. Consume is single-use.
type stateStore interface {
	Save(ctx context.Context, state, userID string, ttl time.Duration) error
	Consume(ctx context.Context, state string) (string, error)
}

type redisStateStore struct {
	client *redis.Client
	prefix string
}

func newRedisStateStore(ctx context.Context, addr, password string, db int) (*redisStateStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &redisStateStore{client: rdb, prefix: "qb:oauth_state:"}, nil
}

func (r *redisStateStore) Save(ctx context.Context, state, userID string, ttl time.Duration) error {
	return r.client.Set(ctx, r.prefix+state, userID, ttl).Err()
}

func (r *redisStateStore) Consume(ctx context.Context, state string) (string, error) {
	userID, err := r.client.GetDel(ctx, r.prefix+state).Result()
	if err == redis.Nil {
		return "", errStateNotFound
	}
	if err != nil {
		return "", err
	}
	return userID, nil
}

type stateEntry struct {
	userID  string
	expires time.Time
}

// memoryStateStore serves single-instance deployments without Redis.
type memoryStateStore struct {
	mu      sync.Mutex
	entries map[string]stateEntry
	now     func() time.Time
}

func newMemoryStateStore() *memoryStateStore {
	return &memoryStateStore{entries: make(map[string]stateEntry), now: time.Now}
}

func (m *memoryStateStore) Save(_ context.Context, state, userID string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for k, e := range m.entries {
		if now.After(e.expires) {
			delete(m.entries, k)
		}
	}
	m.entries[state] = stateEntry{userID: userID, expires: now.Add(ttl)}
	return nil
}

func (m *memoryStateStore) Consume(_ context.Context, state string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[state]
	delete(m.entries, state)
	if !ok || m.now().After(e.expires) {
		return "", errStateNotFound
	}
	return e.userID, nil
}
