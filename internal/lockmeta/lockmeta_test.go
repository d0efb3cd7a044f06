package lockmeta

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
)

var testLockAddr = common.HexToAddress("0x4444444444444444444444444444444444444444")

type fakeReader struct {
	name    string
	owner   common.Address
	err     error
	fetches int
}

func (f *fakeReader) Name(ctx context.Context) (string, error) {
	f.fetches++
	return f.name, f.err
}

func (f *fakeReader) Owner(ctx context.Context) (common.Address, error) {
	f.fetches++
	return f.owner, f.err
}

func newTestCache(t *testing.T, r *fakeReader) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return New(rdb, time.Minute, func(common.Address) Reader { return r }), mr
}

func TestName_SecondReadIsCached(t *testing.T) {
	r := &fakeReader{name: "Gatehouse Members"}
	c, _ := newTestCache(t, r)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		name, err := c.Name(ctx, testLockAddr)
		if err != nil {
			t.Fatal(err)
		}
		if name != "Gatehouse Members" {
			t.Errorf("name: got %q", name)
		}
	}
	if r.fetches != 1 {
		t.Errorf("contract fetches: got %d want 1", r.fetches)
	}
}

func TestName_ExpiryRefetches(t *testing.T) {
	r := &fakeReader{name: "Gatehouse Members"}
	c, mr := newTestCache(t, r)
	ctx := context.Background()

	if _, err := c.Name(ctx, testLockAddr); err != nil {
		t.Fatal(err)
	}
	mr.FastForward(2 * time.Minute)
	if _, err := c.Name(ctx, testLockAddr); err != nil {
		t.Fatal(err)
	}
	if r.fetches != 2 {
		t.Errorf("contract fetches after expiry: got %d want 2", r.fetches)
	}
}

func TestOwner_RoundTripsAddress(t *testing.T) {
	want := common.HexToAddress("0x5555555555555555555555555555555555555555")
	r := &fakeReader{owner: want}
	c, _ := newTestCache(t, r)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		owner, err := c.Owner(ctx, testLockAddr)
		if err != nil {
			t.Fatal(err)
		}
		if owner != want {
			t.Errorf("owner: got %s want %s", owner.Hex(), want.Hex())
		}
	}
	if r.fetches != 1 {
		t.Errorf("contract fetches: got %d want 1", r.fetches)
	}
}

func TestInvalidate_ForcesRefetch(t *testing.T) {
	r := &fakeReader{name: "Before"}
	c, _ := newTestCache(t, r)
	ctx := context.Background()

	if _, err := c.Name(ctx, testLockAddr); err != nil {
		t.Fatal(err)
	}
	r.name = "After"
	if err := c.Invalidate(ctx, testLockAddr); err != nil {
		t.Fatal(err)
	}
	name, err := c.Name(ctx, testLockAddr)
	if err != nil {
		t.Fatal(err)
	}
	if name != "After" {
		t.Errorf("name after invalidate: got %q want %q", name, "After")
	}
}

func TestName_FetchErrorPropagates(t *testing.T) {
	r := &fakeReader{err: errors.New("rpc: connection refused")}
	c, _ := newTestCache(t, r)

	if _, err := c.Name(context.Background(), testLockAddr); err == nil {
		t.Fatal("expected error")
	}
}
