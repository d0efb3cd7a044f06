package lease

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisManager keeps one hash per (chain, sponsor). Every operation is a
// single Lua script, so the compare-and-set against lease_until / lease_id is
// atomic without WATCH/MULTI round trips.
type RedisManager struct {
	rdb *redis.Client
	ttl time.Duration
	now func() time.Time
}

func NewRedisManager(rdb *redis.Client, ttl time.Duration) *RedisManager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisManager{rdb: rdb, ttl: ttl, now: time.Now}
}

// acquireScript succeeds only when no live lease exists: lease_until absent
// or already in the past. On success it installs the new lease ID and expiry
// and returns the stored nonce hint. The record is overwritten, never
// deleted, so last_nonce/last_tx_hash survive for operators.
var acquireScript = redis.NewScript(`
local until_ms = redis.call("HGET", KEYS[1], "lease_until")
if until_ms and tonumber(until_ms) > tonumber(ARGV[2]) then
  return {0, ""}
end
redis.call("HSET", KEYS[1], "lease_id", ARGV[1], "lease_until", ARGV[3])
local hint = redis.call("HGET", KEYS[1], "next_nonce")
if not hint then
  hint = "0"
end
return {1, hint}
`)

var recordBroadcastScript = redis.NewScript(`
if redis.call("HGET", KEYS[1], "lease_id") ~= ARGV[1] then
  return 0
end
redis.call("HSET", KEYS[1], "last_nonce", ARGV[2], "last_tx_hash", ARGV[3], "next_nonce", ARGV[4])
redis.call("HDEL", KEYS[1], "last_error")
return 1
`)

var recordErrorScript = redis.NewScript(`
if redis.call("HGET", KEYS[1], "lease_id") ~= ARGV[1] then
  return 0
end
redis.call("HSET", KEYS[1], "last_error", ARGV[2])
return 1
`)

// releaseScript expires the lease in place by moving lease_until into the
// past, guarded by lease ID so a stale holder cannot release its successor.
var releaseScript = redis.NewScript(`
if redis.call("HGET", KEYS[1], "lease_id") ~= ARGV[1] then
  return 0
end
redis.call("HSET", KEYS[1], "lease_until", ARGV[2])
return 1
`)

func (m *RedisManager) Acquire(ctx context.Context, chainID int64, sponsor common.Address) (*Lease, error) {
	now := m.now().UnixMilli()
	leaseID := uuid.NewString()

	res, err := acquireScript.Run(ctx, m.rdb,
		[]string{storeKey(chainID, sponsor)},
		leaseID, now, now+m.ttl.Milliseconds(),
	).Result()
	if err != nil {
		return nil, fmt.Errorf("lease acquire: %w", err)
	}

	arr, ok := res.([]interface{})
	if !ok || len(arr) != 2 {
		return nil, fmt.Errorf("lease acquire: unexpected script reply %v", res)
	}
	if won, _ := arr[0].(int64); won != 1 {
		return nil, ErrBusy
	}

	hintStr, _ := arr[1].(string)
	hint, err := strconv.ParseUint(hintStr, 10, 64)
	if err != nil {
		hint = 0
	}
	return &Lease{ID: leaseID, NextNonceHint: hint}, nil
}

func (m *RedisManager) RecordBroadcast(ctx context.Context, chainID int64, sponsor common.Address, leaseID string, nonceUsed uint64, txHash string, nextNonce uint64) error {
	err := recordBroadcastScript.Run(ctx, m.rdb,
		[]string{storeKey(chainID, sponsor)},
		leaseID,
		strconv.FormatUint(nonceUsed, 10),
		txHash,
		strconv.FormatUint(nextNonce, 10),
	).Err()
	if err != nil {
		return fmt.Errorf("lease record broadcast: %w", err)
	}
	// Guard miss (lease re-acquired by someone else) is not an error: the
	// transaction is already broadcast either way.
	return nil
}

func (m *RedisManager) RecordError(ctx context.Context, chainID int64, sponsor common.Address, leaseID string, cause error) error {
	err := recordErrorScript.Run(ctx, m.rdb,
		[]string{storeKey(chainID, sponsor)},
		leaseID, truncateErr(cause),
	).Err()
	if err != nil {
		return fmt.Errorf("lease record error: %w", err)
	}
	return nil
}

func (m *RedisManager) Release(ctx context.Context, chainID int64, sponsor common.Address, leaseID string) error {
	err := releaseScript.Run(ctx, m.rdb,
		[]string{storeKey(chainID, sponsor)},
		leaseID, m.now().UnixMilli()-1,
	).Err()
	if err != nil {
		return fmt.Errorf("lease release: %w", err)
	}
	return nil
}
