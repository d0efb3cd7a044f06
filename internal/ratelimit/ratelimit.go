// Package ratelimit bounds how many sponsored transactions a sponsor wallet
// may send per UTC calendar day. The day boundary is a hard cutover: a new
// day starts a fresh bucket regardless of yesterday's count.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
)

// ErrLimitExceeded means today's bucket is full. Retryable next UTC day.
var ErrLimitExceeded = errors.New("ratelimit: daily sponsored-tx cap reached")

// bucketTTLSec keeps a spent bucket around long enough to cover clock skew
// between instances; Redis expiry cleans it up afterwards.
const bucketTTLSec = 48 * 60 * 60

type Limiter struct {
	rdb *redis.Client
	now func() time.Time
}

func New(rdb *redis.Client) *Limiter {
	return &Limiter{rdb: rdb, now: time.Now}
}

// reserveScript increments the day bucket only while below the ceiling.
var reserveScript = redis.NewScript(`
local count = tonumber(redis.call("GET", KEYS[1]) or "0")
if count >= tonumber(ARGV[1]) then
  return {0, count}
end
count = redis.call("INCR", KEYS[1])
redis.call("EXPIRE", KEYS[1], ARGV[2])
return {1, count}
`)

// Reserve takes one slot from today's bucket, returning the count used so
// far and the ceiling. maxPerDay <= 0 disables the limiter entirely.
func (l *Limiter) Reserve(ctx context.Context, chainID int64, sponsor common.Address, maxPerDay int64) (used, max int64, err error) {
	if maxPerDay <= 0 {
		return 0, 0, nil
	}

	day := l.now().UTC().Format("2006-01-02")
	key := fmt.Sprintf("sponsor:ratelimit:%d:%s:%s", chainID, strings.ToLower(sponsor.Hex()), day)

	res, err := reserveScript.Run(ctx, l.rdb, []string{key}, maxPerDay, bucketTTLSec).Result()
	if err != nil {
		return 0, maxPerDay, fmt.Errorf("ratelimit reserve: %w", err)
	}

	arr, ok := res.([]interface{})
	if !ok || len(arr) != 2 {
		return 0, maxPerDay, fmt.Errorf("ratelimit reserve: unexpected script reply %v", res)
	}
	granted, _ := arr[0].(int64)
	count, _ := arr[1].(int64)
	if granted != 1 {
		return count, maxPerDay, ErrLimitExceeded
	}
	return count, maxPerDay, nil
}
