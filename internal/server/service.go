package server

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/gatehouse/sponsor-coordinator/internal/chain"
	"github.com/gatehouse/sponsor-coordinator/internal/config"
	"github.com/gatehouse/sponsor-coordinator/internal/coordinator"
	"github.com/gatehouse/sponsor-coordinator/internal/executor"
)

// Service is the production Backend: it binds lock contracts through the
// sponsor's chain client and assembles the gasless pre-checks.
type Service struct {
	coord      *coordinator.Coordinator
	chain      *chain.Client
	minBalance *big.Int
	log        *zap.Logger
}

func NewService(coord *coordinator.Coordinator, chainClient *chain.Client, cfg *config.Config, log *zap.Logger) (*Service, error) {
	minBalance, ok := new(big.Int).SetString(cfg.Sponsor.MinSponsorBalanceWei, 10)
	if !ok {
		return nil, fmt.Errorf("invalid MIN_SPONSOR_BALANCE_WEI: %q", cfg.Sponsor.MinSponsorBalanceWei)
	}
	return &Service{
		coord:      coord,
		chain:      chainClient,
		minBalance: minBalance,
		log:        log,
	}, nil
}

func (s *Service) Run(ctx context.Context, req coordinator.Request) (*coordinator.Result, error) {
	return s.coord.Run(ctx, req)
}

func (s *Service) NewRunner(action coordinator.Action, lock, recipient, referrer common.Address) coordinator.Runner {
	ex := executor.New(s.chain.Lock(lock), s.chain, s.chain.Sponsor(), referrer, s.log)
	if action == coordinator.ActionCancelMember {
		return executor.CancelAction{Exec: ex, Recipient: recipient}
	}
	return executor.GrantAction{Exec: ex, Recipient: recipient}
}

// PreChecks assembles the caller-side gates: sponsor balance floor for every
// action, plus keyPrice == 0 for the flows that mint (the sponsor pays gas,
// never the key price).
func (s *Service) PreChecks(action coordinator.Action, lock common.Address) []coordinator.PreCheck {
	checks := []coordinator.PreCheck{s.balanceFloor}
	if action == coordinator.ActionClaimMember || action == coordinator.ActionRSVPEvent {
		checks = append(checks, s.freePrice(lock))
	}
	return checks
}

func (s *Service) balanceFloor(ctx context.Context) error {
	if s.minBalance.Sign() <= 0 {
		return nil
	}
	bal, err := s.chain.Balance(ctx)
	if err != nil {
		return err
	}
	if bal.Cmp(s.minBalance) < 0 {
		return fmt.Errorf("%w: sponsor balance %s wei below floor %s", coordinator.ErrConfiguration, bal, s.minBalance)
	}
	return nil
}

func (s *Service) freePrice(lock common.Address) coordinator.PreCheck {
	return func(ctx context.Context) error {
		price, err := s.chain.Lock(lock).KeyPrice(ctx)
		if err != nil {
			return err
		}
		if price.Sign() != 0 {
			return fmt.Errorf("lock %s is not free: gasless sponsorship requires keyPrice == 0", lock.Hex())
		}
		return nil
	}
}
