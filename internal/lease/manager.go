// Package lease serializes sponsored transaction submission. A lease is a
// time-bounded exclusive claim on the right to pick the sponsor wallet's next
// nonce, held from just before broadcast until release. Backends implement
// the claim as an atomic conditional write, so the guarantee holds across
// processes and instances.
package lease

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ErrBusy means another caller currently holds a live lease. It is expected
// and frequent under load; callers decide whether to retry.
var ErrBusy = errors.New("lease: held by another caller")

// DefaultTTL bounds how long a crashed holder can starve the sponsor wallet.
// A live holder releases well before this; the TTL only matters when the
// holder died mid-transaction.
const DefaultTTL = 30 * time.Second

// Lease is one successful acquisition.
type Lease struct {
	// ID is an opaque token regenerated on every acquisition. All mutations
	// of the lease record are conditional on it still matching.
	ID string
	// NextNonceHint is the stored guess for the next nonce. The executor
	// reconciles it against the chain's pending nonce before use.
	NextNonceHint uint64
}

// Manager is the nonce lease contract. Acquire never blocks: a held lease
// yields ErrBusy immediately. RecordBroadcast and RecordError are guarded by
// lease ID and fail silently when the guard misses, because the transaction
// they describe is already on the wire. Release expires the lease in place so
// the next Acquire succeeds without waiting out the TTL.
type Manager interface {
	Acquire(ctx context.Context, chainID int64, sponsor common.Address) (*Lease, error)
	RecordBroadcast(ctx context.Context, chainID int64, sponsor common.Address, leaseID string, nonceUsed uint64, txHash string, nextNonce uint64) error
	RecordError(ctx context.Context, chainID int64, sponsor common.Address, leaseID string, cause error) error
	Release(ctx context.Context, chainID int64, sponsor common.Address, leaseID string) error
}

// maxErrorLen caps stored error strings; they exist for operator visibility,
// not for round-tripping.
const maxErrorLen = 512

func truncateErr(cause error) string {
	s := cause.Error()
	if len(s) > maxErrorLen {
		s = s[:maxErrorLen]
	}
	return s
}

func storeKey(chainID int64, sponsor common.Address) string {
	return fmt.Sprintf("sponsor:lease:%d:%s", chainID, strings.ToLower(sponsor.Hex()))
}
