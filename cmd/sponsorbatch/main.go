// sponsorbatch runs sponsored actions for a list of recipients from the
// command line: bulk membership grants after an import, or bulk cancels.
// Unlike the HTTP path it retries Busy in-process with bounded backoff, since
// a batch tool can afford to wait for the sponsor wallet.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gatehouse/sponsor-coordinator/internal/audit"
	"github.com/gatehouse/sponsor-coordinator/internal/chain"
	"github.com/gatehouse/sponsor-coordinator/internal/config"
	"github.com/gatehouse/sponsor-coordinator/internal/coordinator"
	"github.com/gatehouse/sponsor-coordinator/internal/lease"
	"github.com/gatehouse/sponsor-coordinator/internal/ratelimit"
	"github.com/gatehouse/sponsor-coordinator/internal/server"
)

const (
	maxAttempts = 8
	baseBackoff = 250 * time.Millisecond
	maxBackoff  = 5 * time.Second
)

var lockFlag string

func main() {
	root := &cobra.Command{
		Use:          "sponsorbatch",
		Short:        "Run sponsored lock actions for a batch of recipients",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&lockFlag, "lock", "", "lock contract address (required)")
	_ = root.MarkPersistentFlagRequired("lock")

	root.AddCommand(
		newActionCmd("grant", "Mint or reactivate a key for each recipient", coordinator.ActionClaimMember),
		newActionCmd("cancel", "Expire each recipient's key", coordinator.ActionCancelMember),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newActionCmd(use, short string, action coordinator.Action) *cobra.Command {
	return &cobra.Command{
		Use:   use + " [recipients...]",
		Short: short,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatch(cmd.Context(), action, args)
		},
	}
}

func runBatch(ctx context.Context, action coordinator.Action, recipients []string) error {
	log, _ := zap.NewProduction()
	defer log.Sync() //nolint:errcheck

	if !common.IsHexAddress(lockFlag) {
		return fmt.Errorf("invalid lock address: %q", lockFlag)
	}
	lockAddr := common.HexToAddress(lockFlag)

	for _, r := range recipients {
		if !common.IsHexAddress(r) {
			return fmt.Errorf("invalid recipient address: %q", r)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}

	var leases lease.Manager
	if cfg.Postgres.DSN != "" {
		db, err := sql.Open("postgres", cfg.Postgres.DSN)
		if err != nil {
			return fmt.Errorf("postgres open: %w", err)
		}
		if err := lease.Migrate(ctx, db); err != nil {
			return err
		}
		leases = lease.NewPostgresManager(db, cfg.LeaseTTL())
	} else {
		leases = lease.NewRedisManager(rdb, cfg.LeaseTTL())
	}

	onchain, err := chain.NewClient(cfg)
	if err != nil {
		return err
	}

	coord := coordinator.New(leases, ratelimit.New(rdb), audit.New(rdb, log), log)
	svc, err := server.NewService(coord, onchain, cfg, log)
	if err != nil {
		return err
	}

	referrer := common.HexToAddress(cfg.Chain.DefaultReferrer)
	failed := 0

	for _, raw := range recipients {
		recipient := common.HexToAddress(raw)
		res, err := runWithRetry(ctx, svc, coordinator.Request{
			Action:    action,
			ChainID:   cfg.Chain.ChainID,
			Sponsor:   onchain.Sponsor(),
			Recipient: recipient,
			Lock:      lockAddr,
			MaxPerDay: cfg.Sponsor.MaxTxPerDay,
			PreChecks: svc.PreChecks(action, lockAddr),
			Runner:    svc.NewRunner(action, lockAddr, recipient, referrer),
		})
		if err != nil {
			failed++
			fmt.Printf("%s\tFAILED\t%v\n", recipient.Hex(), err)
			continue
		}
		fmt.Printf("%s\t%s\t%s\n", recipient.Hex(), res.Status, res.TxHash)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d recipients failed", failed, len(recipients))
	}
	return nil
}

// runWithRetry retries Busy with doubling backoff and jitter. Anything other
// than Busy is final: RateLimited won't clear today and the rest need a
// human.
func runWithRetry(ctx context.Context, svc *server.Service, req coordinator.Request) (*coordinator.Result, error) {
	backoff := baseBackoff
	for attempt := 1; ; attempt++ {
		res, err := svc.Run(ctx, req)
		if err == nil {
			return res, nil
		}

		var cerr *coordinator.Error
		if !errors.As(err, &cerr) || cerr.Code != coordinator.CodeBusy || attempt >= maxAttempts {
			return nil, err
		}

		sleep := backoff + time.Duration(rand.Int63n(int64(backoff)/2+1))
		if sleep > maxBackoff {
			sleep = maxBackoff
		}
		select {
		case <-time.After(sleep):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		backoff *= 2
	}
}
