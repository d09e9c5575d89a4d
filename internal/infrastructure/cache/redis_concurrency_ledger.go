package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/erp/ingest/internal/domain/storage"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const defaultLedgerPrefix = "upload:active:"

// acquireScript increments KEYS[1] only while it is below ARGV[1].
// Returns 1 when the slot was granted.
var acquireScript = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
if current >= tonumber(ARGV[1]) then
  return 0
end
redis.call('INCR', KEYS[1])
redis.call('PEXPIRE', KEYS[1], ARGV[2])
return 1
`)

// releaseScript decrements KEYS[1] and removes it once it reaches zero.
var releaseScript = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
if current <= 1 then
  redis.call('DEL', KEYS[1])
  return 0
end
return redis.call('DECR', KEYS[1])
`)

// RedisConcurrencyLedger shares upload counters across instances. Each key
// carries a TTL so a crashed instance cannot pin a user's slots forever.
type RedisConcurrencyLedger struct {
	client    redis.UniversalClient
	keyPrefix string
	keyTTL    time.Duration
}

// NewRedisConcurrencyLedger creates a ledger on an existing client
func NewRedisConcurrencyLedger(client redis.UniversalClient, keyPrefix string, keyTTL time.Duration) *RedisConcurrencyLedger {
	if keyPrefix == "" {
		keyPrefix = defaultLedgerPrefix
	}
	if keyTTL <= 0 {
		keyTTL = 48 * time.Hour
	}
	return &RedisConcurrencyLedger{client: client, keyPrefix: keyPrefix, keyTTL: keyTTL}
}

func (l *RedisConcurrencyLedger) key(userID uuid.UUID) string {
	return l.keyPrefix + userID.String()
}

// TryAcquire atomically checks the limit and increments
func (l *RedisConcurrencyLedger) TryAcquire(ctx context.Context, userID uuid.UUID, limit int) (bool, error) {
	if limit <= 0 {
		return false, nil
	}
	granted, err := acquireScript.Run(ctx, l.client,
		[]string{l.key(userID)}, limit, l.keyTTL.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("failed to acquire upload slot: %w", err)
	}
	return granted == 1, nil
}

// Release decrements the counter, flooring at zero
func (l *RedisConcurrencyLedger) Release(ctx context.Context, userID uuid.UUID) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.key(userID)}).Err(); err != nil {
		return fmt.Errorf("failed to release upload slot: %w", err)
	}
	return nil
}

// Active reads the current counter
func (l *RedisConcurrencyLedger) Active(ctx context.Context, userID uuid.UUID) (int, error) {
	n, err := l.client.Get(ctx, l.key(userID)).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read upload slots: %w", err)
	}
	return n, nil
}

// Snapshot scans all ledger keys. Counters may move while scanning, so the
// result is approximate.
func (l *RedisConcurrencyLedger) Snapshot(ctx context.Context) (storage.LedgerSnapshot, error) {
	snap := storage.LedgerSnapshot{ActiveByUser: make(map[uuid.UUID]int)}

	iter := l.client.Scan(ctx, 0, l.keyPrefix+"*", 200).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		userID, err := uuid.Parse(strings.TrimPrefix(key, l.keyPrefix))
		if err != nil {
			continue
		}
		n, err := l.client.Get(ctx, key).Int()
		if err != nil || n <= 0 {
			continue
		}
		snap.ActiveByUser[userID] = n
	}
	if err := iter.Err(); err != nil {
		return snap, fmt.Errorf("failed to scan upload slots: %w", err)
	}
	return snap, nil
}

var _ storage.ConcurrencyLedger = (*RedisConcurrencyLedger)(nil)
