package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
)

// Minimal ABI for the membership lock contract: the read probes plus the four
// write entry points the executor can emit. The batch purchase shape and the
// legacy single-recipient shape share a method name, so they are kept in two
// parsed ABIs rather than relying on overload mangling.
const lockABIJSON = `[
	{"type":"function","name":"hasValidKey","inputs":[{"name":"_keyOwner","type":"address"}],"outputs":[{"name":"","type":"bool"}],"stateMutability":"view"},
	{"type":"function","name":"totalKeys","inputs":[{"name":"_keyOwner","type":"address"}],"outputs":[{"name":"","type":"uint256"}],"stateMutability":"view"},
	{"type":"function","name":"tokenOfOwnerByIndex","inputs":[{"name":"_keyOwner","type":"address"},{"name":"_index","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}],"stateMutability":"view"},
	{"type":"function","name":"keyPrice","inputs":[],"outputs":[{"name":"","type":"uint256"}],"stateMutability":"view"},
	{"type":"function","name":"isLockManager","inputs":[{"name":"_account","type":"address"}],"outputs":[{"name":"","type":"bool"}],"stateMutability":"view"},
	{"type":"function","name":"expirationDuration","inputs":[],"outputs":[{"name":"","type":"uint256"}],"stateMutability":"view"},
	{"type":"function","name":"name","inputs":[],"outputs":[{"name":"","type":"string"}],"stateMutability":"view"},
	{"type":"function","name":"owner","inputs":[],"outputs":[{"name":"","type":"address"}],"stateMutability":"view"},
	{"type":"function","name":"purchase","inputs":[{"name":"_values","type":"uint256[]"},{"name":"_recipients","type":"address[]"},{"name":"_referrers","type":"address[]"},{"name":"_keyManagers","type":"address[]"},{"name":"_data","type":"bytes[]"}],"outputs":[{"name":"","type":"uint256[]"}],"stateMutability":"payable"},
	{"type":"function","name":"setKeyExpiration","inputs":[{"name":"_tokenId","type":"uint256"},{"name":"_newExpiration","type":"uint256"}],"outputs":[],"stateMutability":"nonpayable"},
	{"type":"function","name":"expireAndRefundFor","inputs":[{"name":"_tokenId","type":"uint256"},{"name":"_amount","type":"uint256"}],"outputs":[],"stateMutability":"nonpayable"}
]`

const legacyLockABIJSON = `[
	{"type":"function","name":"purchase","inputs":[{"name":"_value","type":"uint256"},{"name":"_recipient","type":"address"},{"name":"_referrer","type":"address"},{"name":"_keyManager","type":"address"},{"name":"_data","type":"bytes"}],"outputs":[],"stateMutability":"payable"}
]`

var (
	lockABI       = mustABI(lockABIJSON)
	legacyLockABI = mustABI(legacyLockABIJSON)
)

func mustABI(s string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(err)
	}
	return parsed
}

// PublicLock is a hand-bound view of one lock contract, scoped to the
// operations the sponsored flows need.
type PublicLock struct {
	addr     common.Address
	contract *bind.BoundContract
	legacy   *bind.BoundContract
	client   *Client
}

// Lock binds the lock contract at addr using the sponsor client.
func (c *Client) Lock(addr common.Address) *PublicLock {
	return &PublicLock{
		addr:     addr,
		contract: bind.NewBoundContract(addr, lockABI, c.eth, c.eth, c.eth),
		legacy:   bind.NewBoundContract(addr, legacyLockABI, c.eth, c.eth, c.eth),
		client:   c,
	}
}

// Address returns the bound contract address.
func (l *PublicLock) Address() common.Address { return l.addr }

// ── Reads ───────────────────────────────────────────────────────────────────

func (l *PublicLock) HasValidKey(ctx context.Context, owner common.Address) (bool, error) {
	var out []interface{}
	if err := l.contract.Call(&bind.CallOpts{Context: ctx}, &out, "hasValidKey", owner); err != nil {
		return false, fmt.Errorf("hasValidKey: %w", err)
	}
	return *abi.ConvertType(out[0], new(bool)).(*bool), nil
}

func (l *PublicLock) TotalKeys(ctx context.Context, owner common.Address) (*big.Int, error) {
	var out []interface{}
	if err := l.contract.Call(&bind.CallOpts{Context: ctx}, &out, "totalKeys", owner); err != nil {
		return nil, fmt.Errorf("totalKeys: %w", err)
	}
	return *abi.ConvertType(out[0], new(*big.Int)).(**big.Int), nil
}

func (l *PublicLock) TokenOfOwnerByIndex(ctx context.Context, owner common.Address, index *big.Int) (*big.Int, error) {
	var out []interface{}
	if err := l.contract.Call(&bind.CallOpts{Context: ctx}, &out, "tokenOfOwnerByIndex", owner, index); err != nil {
		return nil, fmt.Errorf("tokenOfOwnerByIndex: %w", err)
	}
	return *abi.ConvertType(out[0], new(*big.Int)).(**big.Int), nil
}

func (l *PublicLock) KeyPrice(ctx context.Context) (*big.Int, error) {
	var out []interface{}
	if err := l.contract.Call(&bind.CallOpts{Context: ctx}, &out, "keyPrice"); err != nil {
		return nil, fmt.Errorf("keyPrice: %w", err)
	}
	return *abi.ConvertType(out[0], new(*big.Int)).(**big.Int), nil
}

func (l *PublicLock) IsLockManager(ctx context.Context, account common.Address) (bool, error) {
	var out []interface{}
	if err := l.contract.Call(&bind.CallOpts{Context: ctx}, &out, "isLockManager", account); err != nil {
		return false, fmt.Errorf("isLockManager: %w", err)
	}
	return *abi.ConvertType(out[0], new(bool)).(*bool), nil
}

func (l *PublicLock) ExpirationDuration(ctx context.Context) (*big.Int, error) {
	var out []interface{}
	if err := l.contract.Call(&bind.CallOpts{Context: ctx}, &out, "expirationDuration"); err != nil {
		return nil, fmt.Errorf("expirationDuration: %w", err)
	}
	return *abi.ConvertType(out[0], new(*big.Int)).(**big.Int), nil
}

func (l *PublicLock) Name(ctx context.Context) (string, error) {
	var out []interface{}
	if err := l.contract.Call(&bind.CallOpts{Context: ctx}, &out, "name"); err != nil {
		return "", fmt.Errorf("name: %w", err)
	}
	return *abi.ConvertType(out[0], new(string)).(*string), nil
}

func (l *PublicLock) Owner(ctx context.Context) (common.Address, error) {
	var out []interface{}
	if err := l.contract.Call(&bind.CallOpts{Context: ctx}, &out, "owner"); err != nil {
		return common.Address{}, fmt.Errorf("owner: %w", err)
	}
	return *abi.ConvertType(out[0], new(common.Address)).(*common.Address), nil
}

// ── Writes ──────────────────────────────────────────────────────────────────
// Every write takes an explicit nonce chosen by the executor and returns the
// broadcast transaction hash; confirmation is not waited for.

// Purchase mints a key for recipient using the batch-shaped call with a
// single-element batch. Sponsored flows only mint free keys, so value is 0.
func (l *PublicLock) Purchase(ctx context.Context, nonce uint64, recipient, referrer common.Address) (common.Hash, error) {
	opts, err := l.client.transactOpts(ctx, nonce)
	if err != nil {
		return common.Hash{}, err
	}
	tx, err := l.contract.Transact(opts, "purchase",
		[]*big.Int{big.NewInt(0)},
		[]common.Address{recipient},
		[]common.Address{referrer},
		[]common.Address{{}},
		[][]byte{{}},
	)
	if err != nil {
		return common.Hash{}, wrapRevert("purchase", err)
	}
	return tx.Hash(), nil
}

// PurchaseLegacy is the single-recipient purchase shape used by locks that
// predate the batch ABI.
func (l *PublicLock) PurchaseLegacy(ctx context.Context, nonce uint64, recipient, referrer common.Address) (common.Hash, error) {
	opts, err := l.client.transactOpts(ctx, nonce)
	if err != nil {
		return common.Hash{}, err
	}
	tx, err := l.legacy.Transact(opts, "purchase",
		big.NewInt(0), recipient, referrer, common.Address{}, []byte{},
	)
	if err != nil {
		return common.Hash{}, wrapRevert("purchase(legacy)", err)
	}
	return tx.Hash(), nil
}

// SetKeyExpiration extends (or revives) an existing key. Requires the
// sponsor to hold lock-manager rights on the contract.
func (l *PublicLock) SetKeyExpiration(ctx context.Context, nonce uint64, tokenID, newExpiration *big.Int) (common.Hash, error) {
	opts, err := l.client.transactOpts(ctx, nonce)
	if err != nil {
		return common.Hash{}, err
	}
	tx, err := l.contract.Transact(opts, "setKeyExpiration", tokenID, newExpiration)
	if err != nil {
		return common.Hash{}, wrapRevert("setKeyExpiration", err)
	}
	return tx.Hash(), nil
}

// ExpireAndRefundFor cancels an existing key. Sponsored cancellations refund
// nothing, so amount is normally zero.
func (l *PublicLock) ExpireAndRefundFor(ctx context.Context, nonce uint64, tokenID, amount *big.Int) (common.Hash, error) {
	opts, err := l.client.transactOpts(ctx, nonce)
	if err != nil {
		return common.Hash{}, err
	}
	tx, err := l.contract.Transact(opts, "expireAndRefundFor", tokenID, amount)
	if err != nil {
		return common.Hash{}, wrapRevert("expireAndRefundFor", err)
	}
	return tx.Hash(), nil
}
