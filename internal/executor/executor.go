// Package executor decides and performs the single on-chain write needed to
// grant, restore, or revoke access for a recipient on a lock contract. Each
// invocation makes at most one write call; the already-done path makes none.
package executor

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	ethmath "github.com/ethereum/go-ethereum/common/math"
	"go.uber.org/zap"

	"github.com/gatehouse/sponsor-coordinator/internal/chain"
)

// ErrNotManager means the sponsor wallet lacks lock-manager rights, which
// reactivating another owner's token requires. Operator-actionable, not
// user-retryable.
var ErrNotManager = errors.New("sponsor is not a lock manager")

type Status string

const (
	StatusAlreadyDone Status = "already-done"
	StatusSubmitted   Status = "submitted"
)

// Kind names the write that was (or would have been) emitted.
type Kind string

const (
	KindPurchase   Kind = "purchase"
	KindReactivate Kind = "reactivate"
	KindCancel     Kind = "cancel"
)

// Lock is the on-chain capability the executor needs. *chain.PublicLock
// satisfies it; tests use fakes.
type Lock interface {
	HasValidKey(ctx context.Context, owner common.Address) (bool, error)
	TotalKeys(ctx context.Context, owner common.Address) (*big.Int, error)
	TokenOfOwnerByIndex(ctx context.Context, owner common.Address, index *big.Int) (*big.Int, error)
	KeyPrice(ctx context.Context) (*big.Int, error)
	IsLockManager(ctx context.Context, account common.Address) (bool, error)
	ExpirationDuration(ctx context.Context) (*big.Int, error)
	Purchase(ctx context.Context, nonce uint64, recipient, referrer common.Address) (common.Hash, error)
	PurchaseLegacy(ctx context.Context, nonce uint64, recipient, referrer common.Address) (common.Hash, error)
	SetKeyExpiration(ctx context.Context, nonce uint64, tokenID, newExpiration *big.Int) (common.Hash, error)
	ExpireAndRefundFor(ctx context.Context, nonce uint64, tokenID, amount *big.Int) (common.Hash, error)
}

// ChainReader supplies the chain state read directly by the executor.
type ChainReader interface {
	PendingNonce(ctx context.Context) (uint64, error)
	LatestBlockTime(ctx context.Context) (uint64, error)
}

type Executor struct {
	lock     Lock
	chain    ChainReader
	sponsor  common.Address
	referrer common.Address
	log      *zap.Logger
}

func New(lock Lock, reader ChainReader, sponsor, referrer common.Address, log *zap.Logger) *Executor {
	return &Executor{lock: lock, chain: reader, sponsor: sponsor, referrer: referrer, log: log}
}

// Outcome describes what a single invocation did.
type Outcome struct {
	Status    Status
	Kind      Kind
	TxHash    common.Hash
	NonceUsed uint64
	TokenID   *big.Int // set for reactivate and cancel
}

// chooseNonce guards against a lease hint that fell behind chain reality
// (e.g. a manual out-of-band transaction) while still avoiding reuse when the
// chain's pending view is stale.
func (e *Executor) chooseNonce(ctx context.Context, leaseHint uint64) (uint64, error) {
	pending, err := e.chain.PendingNonce(ctx)
	if err != nil {
		return 0, err
	}
	if leaseHint > pending {
		return leaseHint, nil
	}
	return pending, nil
}

// Grant mints a key for recipient, or reactivates an existing one when the
// lock reverts with MAX_KEYS_REACHED and the recipient already holds a token.
func (e *Executor) Grant(ctx context.Context, recipient common.Address, leaseHint uint64) (*Outcome, error) {
	valid, err := e.lock.HasValidKey(ctx, recipient)
	if err != nil {
		return nil, fmt.Errorf("hasValidKey: %w", err)
	}
	if valid {
		return &Outcome{Status: StatusAlreadyDone, Kind: KindPurchase}, nil
	}

	nonce, err := e.chooseNonce(ctx, leaseHint)
	if err != nil {
		return nil, err
	}

	txHash, err := e.lock.Purchase(ctx, nonce, recipient, e.referrer)
	if err != nil && !chain.IsRevert(err) {
		// Not a revert: the contract likely predates the batch shape.
		e.log.Debug("batch purchase shape failed, retrying legacy shape",
			zap.String("recipient", recipient.Hex()),
			zap.Error(err),
		)
		txHash, err = e.lock.PurchaseLegacy(ctx, nonce, recipient, e.referrer)
	}
	if err == nil {
		return &Outcome{Status: StatusSubmitted, Kind: KindPurchase, TxHash: txHash, NonceUsed: nonce}, nil
	}
	if !errors.Is(err, chain.ErrMaxKeysReached) {
		return nil, err
	}
	return e.reactivate(ctx, recipient, nonce, err)
}

// reactivate extends the recipient's existing token instead of minting. It
// runs only after a MAX_KEYS_REACHED revert, so the purchase write never
// landed and the nonce is still free.
func (e *Executor) reactivate(ctx context.Context, recipient common.Address, nonce uint64, purchaseErr error) (*Outcome, error) {
	total, err := e.lock.TotalKeys(ctx, recipient)
	if err != nil {
		return nil, fmt.Errorf("totalKeys: %w", err)
	}
	if total.Sign() == 0 {
		// Max keys hit with no token to revive: nothing to reactivate.
		return nil, purchaseErr
	}

	manager, err := e.lock.IsLockManager(ctx, e.sponsor)
	if err != nil {
		return nil, fmt.Errorf("isLockManager: %w", err)
	}
	if !manager {
		return nil, ErrNotManager
	}

	// At most one token per lock per owner in practice, so index 0 suffices.
	tokenID, err := e.lock.TokenOfOwnerByIndex(ctx, recipient, big.NewInt(0))
	if err != nil {
		return nil, fmt.Errorf("tokenOfOwnerByIndex: %w", err)
	}

	duration, err := e.lock.ExpirationDuration(ctx)
	if err != nil {
		return nil, fmt.Errorf("expirationDuration: %w", err)
	}
	blockTime, err := e.chain.LatestBlockTime(ctx)
	if err != nil {
		return nil, err
	}

	txHash, err := e.lock.SetKeyExpiration(ctx, nonce, tokenID, reactivationExpiry(blockTime, duration))
	if err != nil {
		return nil, err
	}
	return &Outcome{Status: StatusSubmitted, Kind: KindReactivate, TxHash: txHash, NonceUsed: nonce, TokenID: tokenID}, nil
}

// Cancel expires the recipient's key with no refund. A recipient without a
// valid key is already done.
func (e *Executor) Cancel(ctx context.Context, recipient common.Address, leaseHint uint64) (*Outcome, error) {
	valid, err := e.lock.HasValidKey(ctx, recipient)
	if err != nil {
		return nil, fmt.Errorf("hasValidKey: %w", err)
	}
	if !valid {
		return &Outcome{Status: StatusAlreadyDone, Kind: KindCancel}, nil
	}

	nonce, err := e.chooseNonce(ctx, leaseHint)
	if err != nil {
		return nil, err
	}

	tokenID, err := e.lock.TokenOfOwnerByIndex(ctx, recipient, big.NewInt(0))
	if err != nil {
		return nil, fmt.Errorf("tokenOfOwnerByIndex: %w", err)
	}

	txHash, err := e.lock.ExpireAndRefundFor(ctx, nonce, tokenID, big.NewInt(0))
	if err != nil {
		return nil, err
	}
	return &Outcome{Status: StatusSubmitted, Kind: KindCancel, TxHash: txHash, NonceUsed: nonce, TokenID: tokenID}, nil
}

// reactivationExpiry computes the revived key's expiration: the max-uint
// sentinel for never-expiring tiers, otherwise block time plus the lock's
// duration, clamped so it cannot overflow uint256.
func reactivationExpiry(blockTime uint64, duration *big.Int) *big.Int {
	maxExpiry := new(big.Int).Set(ethmath.MaxBig256)
	if duration.Cmp(maxExpiry) >= 0 {
		return maxExpiry
	}
	expiry := new(big.Int).Add(new(big.Int).SetUint64(blockTime), duration)
	if expiry.Cmp(maxExpiry) > 0 {
		return maxExpiry
	}
	return expiry
}
