package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
)

var (
	testSponsor = common.HexToAddress("0x1111111111111111111111111111111111111111")
	testChainID = int64(137)
)

func newTestLimiter(t *testing.T) *Limiter {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return New(rdb)
}

func TestReserve_UpToMax(t *testing.T) {
	l := newTestLimiter(t)
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		used, max, err := l.Reserve(ctx, testChainID, testSponsor, 3)
		if err != nil {
			t.Fatalf("reservation %d: %v", i, err)
		}
		if used != i {
			t.Errorf("used: got %d want %d", used, i)
		}
		if max != 3 {
			t.Errorf("max: got %d want 3", max)
		}
	}

	used, _, err := l.Reserve(ctx, testChainID, testSponsor, 3)
	if !errors.Is(err, ErrLimitExceeded) {
		t.Fatalf("attempt max+1: expected ErrLimitExceeded, got %v", err)
	}
	if used != 3 {
		t.Errorf("used at rejection: got %d want 3", used)
	}
}

func TestReserve_NewUTCDayResets(t *testing.T) {
	l := newTestLimiter(t)
	ctx := context.Background()

	day1 := time.Date(2026, 3, 1, 23, 59, 0, 0, time.UTC)
	l.now = func() time.Time { return day1 }

	if _, _, err := l.Reserve(ctx, testChainID, testSponsor, 1); err != nil {
		t.Fatal(err)
	}
	if _, _, err := l.Reserve(ctx, testChainID, testSponsor, 1); !errors.Is(err, ErrLimitExceeded) {
		t.Fatalf("expected ErrLimitExceeded, got %v", err)
	}

	// Two minutes later it is a new UTC day; the count starts from 0.
	l.now = func() time.Time { return day1.Add(2 * time.Minute) }
	used, _, err := l.Reserve(ctx, testChainID, testSponsor, 1)
	if err != nil {
		t.Fatalf("new day reservation: %v", err)
	}
	if used != 1 {
		t.Errorf("used: got %d want 1", used)
	}
}

func TestReserve_UnsetMaxIsNoop(t *testing.T) {
	l := newTestLimiter(t)
	ctx := context.Background()

	for _, max := range []int64{0, -1} {
		for i := 0; i < 10; i++ {
			if _, _, err := l.Reserve(ctx, testChainID, testSponsor, max); err != nil {
				t.Fatalf("max=%d: %v", max, err)
			}
		}
	}
}

func TestReserve_SponsorsIndependent(t *testing.T) {
	l := newTestLimiter(t)
	ctx := context.Background()

	if _, _, err := l.Reserve(ctx, testChainID, testSponsor, 1); err != nil {
		t.Fatal(err)
	}
	other := common.HexToAddress("0x2222222222222222222222222222222222222222")
	if _, _, err := l.Reserve(ctx, testChainID, other, 1); err != nil {
		t.Errorf("other sponsor should have its own bucket: %v", err)
	}
	if _, _, err := l.Reserve(ctx, 1, testSponsor, 1); err != nil {
		t.Errorf("other chain should have its own bucket: %v", err)
	}
}
