package executor

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

// GrantAction binds an executor to one recipient for claim/renew/RSVP flows.
// AlreadyDone is the cheap pre-lease probe; Grant re-checks under the lease
// since the probe is racy.
type GrantAction struct {
	Exec      *Executor
	Recipient common.Address
}

func (a GrantAction) AlreadyDone(ctx context.Context) (bool, error) {
	return a.Exec.lock.HasValidKey(ctx, a.Recipient)
}

func (a GrantAction) Run(ctx context.Context, nonceHint uint64) (*Outcome, error) {
	return a.Exec.Grant(ctx, a.Recipient, nonceHint)
}

// CancelAction binds an executor to one recipient for cancellation flows.
type CancelAction struct {
	Exec      *Executor
	Recipient common.Address
}

func (a CancelAction) AlreadyDone(ctx context.Context) (bool, error) {
	valid, err := a.Exec.lock.HasValidKey(ctx, a.Recipient)
	if err != nil {
		return false, err
	}
	return !valid, nil
}

func (a CancelAction) Run(ctx context.Context, nonceHint uint64) (*Outcome, error) {
	return a.Exec.Cancel(ctx, a.Recipient, nonceHint)
}
