package coordinator

import (
	"errors"
	"fmt"

	"github.com/gatehouse/sponsor-coordinator/internal/chain"
	"github.com/gatehouse/sponsor-coordinator/internal/executor"
	"github.com/gatehouse/sponsor-coordinator/internal/lease"
	"github.com/gatehouse/sponsor-coordinator/internal/ratelimit"
)

// Code is the stable error taxonomy surfaced to callers.
type Code string

const (
	// CodeBusy: lease held by another in-flight operation. Retryable now.
	CodeBusy Code = "busy"
	// CodeRateLimited: daily sponsor cap reached. Retryable next UTC day.
	CodeRateLimited Code = "rate-limited"
	// CodeNotManager: sponsor lacks the on-chain role to reactivate a token.
	CodeNotManager Code = "not-manager"
	// CodeRejected: a pre-check failed before any shared resource was taken.
	CodeRejected Code = "rejected"
	// CodeChainReject: the contract reverted for an unrecognized reason.
	CodeChainReject Code = "chain-reject"
	// CodeConfiguration: missing signer key or contract address. Fatal until
	// an operator fixes the deployment.
	CodeConfiguration Code = "configuration"
	// CodeUnknown: unclassified failure, logged with full detail.
	CodeUnknown Code = "unknown"
)

// ErrConfiguration is wrapped around deployment problems discovered at
// request time (e.g. an unset default referrer for a flow that needs one).
var ErrConfiguration = errors.New("coordinator: configuration error")

// Error is the structured failure returned to callers.
type Error struct {
	Code    Code
	Message string
	Hint    string
	cause   error
}

func (e *Error) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Hint)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Classify maps component errors onto the taxonomy. Already-structured
// errors pass through unchanged.
func Classify(err error) *Error {
	var ce *Error
	if errors.As(err, &ce) {
		return ce
	}

	switch {
	case errors.Is(err, lease.ErrBusy):
		return &Error{Code: CodeBusy, Message: "sponsor wallet is busy, retry shortly", cause: err}
	case errors.Is(err, ratelimit.ErrLimitExceeded):
		return &Error{Code: CodeRateLimited, Message: "daily sponsored transaction cap reached", cause: err}
	case errors.Is(err, executor.ErrNotManager):
		return &Error{
			Code:    CodeNotManager,
			Message: "sponsor wallet cannot reactivate the recipient's key",
			Hint:    "grant the sponsor wallet lock-manager rights on this lock",
			cause:   err,
		}
	case errors.Is(err, ErrConfiguration):
		return &Error{Code: CodeConfiguration, Message: err.Error(), cause: err}
	case chain.IsRevert(err):
		return &Error{Code: CodeChainReject, Message: err.Error(), cause: err}
	default:
		return &Error{Code: CodeUnknown, Message: err.Error(), cause: err}
	}
}
