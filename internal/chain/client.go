package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/gatehouse/sponsor-coordinator/internal/config"
)

// Client wraps go-ethereum with the sponsor's signing key. All sponsored
// writes go out from this one hot wallet, which is why nonce selection is
// coordinated upstream by the lease manager.
type Client struct {
	eth        *ethclient.Client
	chainID    *big.Int
	sponsorKey *ecdsa.PrivateKey
	sponsor    common.Address
}

func NewClient(cfg *config.Config) (*Client, error) {
	eth, err := ethclient.Dial(cfg.Chain.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.Chain.SponsorSigningKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse sponsor signing key: %w", err)
	}

	return &Client{
		eth:        eth,
		chainID:    big.NewInt(cfg.Chain.ChainID),
		sponsorKey: key,
		sponsor:    crypto.PubkeyToAddress(key.PublicKey),
	}, nil
}

// Sponsor returns the hot wallet address derived from the signing key.
func (c *Client) Sponsor() common.Address { return c.sponsor }

// ChainID returns the configured chain ID.
func (c *Client) ChainID() *big.Int { return c.chainID }

// PendingNonce returns the chain's view of the sponsor's next usable nonce,
// including transactions still in the mempool.
func (c *Client) PendingNonce(ctx context.Context) (uint64, error) {
	n, err := c.eth.PendingNonceAt(ctx, c.sponsor)
	if err != nil {
		return 0, fmt.Errorf("pending nonce: %w", err)
	}
	return n, nil
}

// LatestBlockTime returns the timestamp of the chain head.
func (c *Client) LatestBlockTime(ctx context.Context) (uint64, error) {
	header, err := c.eth.HeaderByNumber(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("latest header: %w", err)
	}
	return header.Time, nil
}

// Balance returns the sponsor wallet's current balance in wei.
func (c *Client) Balance(ctx context.Context) (*big.Int, error) {
	bal, err := c.eth.BalanceAt(ctx, c.sponsor, nil)
	if err != nil {
		return nil, fmt.Errorf("sponsor balance: %w", err)
	}
	return bal, nil
}

// transactOpts builds signed transact opts with an explicit nonce. The nonce
// always comes from the caller; go-ethereum's own pending-nonce guess is
// never used for sponsored writes.
func (c *Client) transactOpts(ctx context.Context, nonce uint64) (*bind.TransactOpts, error) {
	auth, err := bind.NewKeyedTransactorWithChainID(c.sponsorKey, c.chainID)
	if err != nil {
		return nil, err
	}
	auth.Context = ctx
	auth.Nonce = new(big.Int).SetUint64(nonce)
	return auth, nil
}
