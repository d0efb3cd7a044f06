// Package coordinator ties a sponsored action together: pre-checks, lease
// acquisition, rate-limit reservation, action execution, outcome recording,
// and release. The invariant it owns is that every code path which acquired
// the lease releases it exactly once, so a failing request never blocks the
// sponsor wallet beyond the lease TTL.
package coordinator

import (
	"context"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/gatehouse/sponsor-coordinator/internal/audit"
	"github.com/gatehouse/sponsor-coordinator/internal/executor"
	"github.com/gatehouse/sponsor-coordinator/internal/lease"
)

// Action names the sponsored operation being performed.
type Action string

const (
	ActionClaimMember  Action = "claim-member"
	ActionRenewMember  Action = "renew-member"
	ActionCancelMember Action = "cancel-member"
	ActionRSVPEvent    Action = "rsvp-event"
)

type Status string

const (
	StatusSubmitted   Status = "submitted"
	StatusAlreadyDone Status = "already-done"
)

// Result is what callers get on the non-error paths.
type Result struct {
	Status Status
	TxHash string
}

// PreCheck runs before any shared resource is taken. A failure rejects the
// request outright.
type PreCheck func(ctx context.Context) error

// Runner executes the on-chain action once the lease is held. AlreadyDone is
// a read-only probe used to skip the lease entirely when the effect is
// already in place; the runner re-checks under the lease since the probe is
// racy.
type Runner interface {
	AlreadyDone(ctx context.Context) (bool, error)
	Run(ctx context.Context, nonceHint uint64) (*executor.Outcome, error)
}

// Limiter reserves one slot of the sponsor's daily quota.
type Limiter interface {
	Reserve(ctx context.Context, chainID int64, sponsor common.Address, maxPerDay int64) (used, max int64, err error)
}

// Auditor records attempts, best-effort.
type Auditor interface {
	Write(ctx context.Context, rec audit.Record)
}

// Request is one sponsored action.
type Request struct {
	Action    Action
	ChainID   int64
	Sponsor   common.Address
	Recipient common.Address
	Lock      common.Address
	MaxPerDay int64
	PreChecks []PreCheck
	Runner    Runner
}

type Coordinator struct {
	leases  lease.Manager
	limiter Limiter
	audit   Auditor
	log     *zap.Logger
}

func New(leases lease.Manager, limiter Limiter, auditor Auditor, log *zap.Logger) *Coordinator {
	return &Coordinator{leases: leases, limiter: limiter, audit: auditor, log: log}
}

// Run performs one sponsored action end to end. Busy is returned without an
// internal retry; request-serving callers surface it to the user and batch
// callers retry with backoff.
func (c *Coordinator) Run(ctx context.Context, req Request) (*Result, error) {
	for _, check := range req.PreChecks {
		if err := check(ctx); err != nil {
			cerr := Classify(err)
			if cerr.Code == CodeUnknown {
				cerr = &Error{Code: CodeRejected, Message: err.Error(), cause: err}
			}
			c.writeAudit(ctx, req, "rejected", nil, cerr)
			return nil, cerr
		}
	}

	// Cheap idempotency probe before taking the lease. A probe error is not
	// fatal: the runner re-checks once the lease is held.
	if done, err := req.Runner.AlreadyDone(ctx); err == nil && done {
		c.writeAudit(ctx, req, string(StatusAlreadyDone), nil, nil)
		return &Result{Status: StatusAlreadyDone}, nil
	}

	ls, err := c.leases.Acquire(ctx, req.ChainID, req.Sponsor)
	if err != nil {
		// Busy is expected and frequent; no audit record, no error log.
		return nil, Classify(err)
	}

	if _, _, err := c.limiter.Reserve(ctx, req.ChainID, req.Sponsor, req.MaxPerDay); err != nil {
		// The quota and the lease are independent resources; neither owns
		// the other's cleanup, so compensate here.
		c.release(ctx, req, ls.ID)
		cerr := Classify(err)
		c.writeAudit(ctx, req, "rejected", nil, cerr)
		return nil, cerr
	}

	out, err := req.Runner.Run(ctx, ls.NextNonceHint)
	if err != nil {
		if rerr := c.leases.RecordError(ctx, req.ChainID, req.Sponsor, ls.ID, err); rerr != nil {
			c.log.Warn("lease recordError failed", zap.Error(rerr))
		}
		c.release(ctx, req, ls.ID)
		cerr := Classify(err)
		c.logFailure(req, cerr)
		c.writeAudit(ctx, req, "failed", nil, cerr)
		return nil, cerr
	}

	if out.Status == executor.StatusAlreadyDone {
		c.release(ctx, req, ls.ID)
		c.writeAudit(ctx, req, string(StatusAlreadyDone), out, nil)
		return &Result{Status: StatusAlreadyDone}, nil
	}

	// The transaction is on the wire; bookkeeping failures must not fail
	// the request.
	if err := c.leases.RecordBroadcast(ctx, req.ChainID, req.Sponsor, ls.ID,
		out.NonceUsed, out.TxHash.Hex(), out.NonceUsed+1); err != nil {
		c.log.Warn("lease recordBroadcast failed",
			zap.String("tx_hash", out.TxHash.Hex()),
			zap.Error(err),
		)
	}
	c.release(ctx, req, ls.ID)
	c.writeAudit(ctx, req, string(StatusSubmitted), out, nil)

	return &Result{Status: StatusSubmitted, TxHash: out.TxHash.Hex()}, nil
}

func (c *Coordinator) release(ctx context.Context, req Request, leaseID string) {
	if err := c.leases.Release(ctx, req.ChainID, req.Sponsor, leaseID); err != nil {
		c.log.Warn("lease release failed, next acquire waits out the TTL",
			zap.Int64("chain_id", req.ChainID),
			zap.String("sponsor", req.Sponsor.Hex()),
			zap.Error(err),
		)
	}
}

// logFailure applies the propagation policy: Busy/RateLimited never reach
// here; NotManager and Configuration get full operator context; the rest log
// at Error with the classified code.
func (c *Coordinator) logFailure(req Request, cerr *Error) {
	fields := []zap.Field{
		zap.String("code", string(cerr.Code)),
		zap.String("action", string(req.Action)),
		zap.Int64("chain_id", req.ChainID),
		zap.String("sponsor", req.Sponsor.Hex()),
		zap.String("lock", req.Lock.Hex()),
		zap.String("recipient", req.Recipient.Hex()),
	}
	if cerr.Hint != "" {
		fields = append(fields, zap.String("hint", cerr.Hint))
	}
	c.log.Error("sponsored action failed", fields...)
}

func (c *Coordinator) writeAudit(ctx context.Context, req Request, status string, out *executor.Outcome, cerr *Error) {
	rec := audit.Record{
		Action:    string(req.Action),
		Status:    status,
		Recipient: req.Recipient.Hex(),
		Lock:      req.Lock.Hex(),
		Metadata: map[string]string{
			"sponsor":  req.Sponsor.Hex(),
			"chain_id": strconv.FormatInt(req.ChainID, 10),
		},
	}
	if out != nil {
		if (out.TxHash != common.Hash{}) {
			rec.TxHash = out.TxHash.Hex()
			rec.Metadata["nonce"] = strconv.FormatUint(out.NonceUsed, 10)
		}
		rec.Metadata["kind"] = string(out.Kind)
		if out.TokenID != nil {
			rec.Metadata["token_id"] = out.TokenID.String()
		}
	}
	if cerr != nil {
		rec.Error = cerr.Error()
	}
	c.audit.Write(ctx, rec)
}
