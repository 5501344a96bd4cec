// Package presence tracks when each user was last seen. Socket auth and
// authenticated REST calls touch the tracker; the availability
// assignment strategy and the user directory read it back.
package presence

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Entries outlive any realistic "recently active" window; the TTL just
// stops dormant accounts from accumulating forever.
const lastSeenTTL = 48 * time.Hour

type Tracker interface {
	// Touch records activity for the user at the current time.
	Touch(ctx context.Context, userID string) error
	// LastSeen returns last-activity times for the given users. Users
	// never seen (or expired) are absent from the map.
	LastSeen(ctx context.Context, userIDs []string) (map[string]time.Time, error)
}

// New picks the backend: Redis when a URL is configured, otherwise an
// in-process map good enough for a single node.
func New(redisURL string) (Tracker, error) {
	if redisURL == "" {
		return NewMemoryTracker(), nil
	}
	return NewRedisTracker(redisURL)
}

type RedisTracker struct {
	client *redis.Client
	prefix string
}

func NewRedisTracker(redisURL string) (*RedisTracker, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &RedisTracker{client: client, prefix: "lastseen:"}, nil
}

func (t *RedisTracker) key(userID string) string {
	return t.prefix + userID
}

func (t *RedisTracker) Touch(ctx context.Context, userID string) error {
	stamp := time.Now().UTC().Format(time.RFC3339Nano)
	if err := t.client.Set(ctx, t.key(userID), stamp, lastSeenTTL).Err(); err != nil {
		return fmt.Errorf("touch %s: %w", userID, err)
	}
	return nil
}

func (t *RedisTracker) LastSeen(ctx context.Context, userIDs []string) (map[string]time.Time, error) {
	seen := make(map[string]time.Time, len(userIDs))
	if len(userIDs) == 0 {
		return seen, nil
	}

	keys := make([]string, len(userIDs))
	for i, id := range userIDs {
		keys[i] = t.key(id)
	}
	values, err := t.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("mget last seen: %w", err)
	}

	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		at, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			continue
		}
		seen[userIDs[i]] = at
	}
	return seen, nil
}

func (t *RedisTracker) Close() error {
	return t.client.Close()
}

// MemoryTracker is the single-node fallback. Entries are pruned lazily
// on read once they pass the TTL.
type MemoryTracker struct {
	mu   sync.RWMutex
	seen map[string]time.Time
	now  func() time.Time
}

func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{seen: make(map[string]time.Time), now: time.Now}
}

func (t *MemoryTracker) Touch(_ context.Context, userID string) error {
	t.mu.Lock()
	t.seen[userID] = t.now()
	t.mu.Unlock()
	return nil
}

func (t *MemoryTracker) LastSeen(_ context.Context, userIDs []string) (map[string]time.Time, error) {
	cutoff := t.now().Add(-lastSeenTTL)

	t.mu.RLock()
	out := make(map[string]time.Time, len(userIDs))
	for _, id := range userIDs {
		if at, ok := t.seen[id]; ok && at.After(cutoff) {
			out[id] = at
		}
	}
	t.mu.RUnlock()
	return out, nil
}
