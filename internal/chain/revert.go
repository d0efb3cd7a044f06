package chain

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rpc"
)

// ErrMaxKeysReached is the decoded form of the lock's custom revert signalling
// that the recipient already owns the maximum number of keys. The executor
// treats it as "reactivate instead of purchase".
var ErrMaxKeysReached = errors.New("lock: max keys reached for owner")

var (
	maxKeysSelector     = selector("MAX_KEYS_REACHED()")
	errorStringSelector = selector("Error(string)")
)

func selector(sig string) [4]byte {
	var s [4]byte
	copy(s[:], crypto.Keccak256([]byte(sig))[:4])
	return s
}

// RevertError is a contract revert whose data could be decoded. Reason is the
// Error(string) message when present, otherwise empty with Selector set.
type RevertError struct {
	Op       string
	Selector [4]byte
	Reason   string
	raw      error
}

func (e *RevertError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s: reverted: %s", e.Op, e.Reason)
	}
	return fmt.Sprintf("%s: reverted with selector 0x%s", e.Op, hex.EncodeToString(e.Selector[:]))
}

func (e *RevertError) Unwrap() error { return e.raw }

// IsRevert reports whether err carries decodable revert data. Failures that
// are not reverts (connection errors, unknown method, out-of-gas estimation)
// return false, which is what permits the legacy purchase-shape fallback.
func IsRevert(err error) bool {
	var re *RevertError
	return errors.As(err, &re) || errors.Is(err, ErrMaxKeysReached)
}

// wrapRevert classifies a failed write call. Revert data is decoded when the
// RPC error carries it; the MAX_KEYS_REACHED selector maps to the sentinel,
// Error(string) payloads surface their reason, anything else keeps its raw
// selector for operator logs.
func wrapRevert(op string, err error) error {
	data, ok := revertData(err)
	if !ok || len(data) < 4 {
		return fmt.Errorf("%s: %w", op, err)
	}

	var sel [4]byte
	copy(sel[:], data[:4])

	switch sel {
	case maxKeysSelector:
		return fmt.Errorf("%s: %w", op, ErrMaxKeysReached)
	case errorStringSelector:
		reason, uerr := abi.UnpackRevert(data)
		if uerr != nil {
			return &RevertError{Op: op, Selector: sel, raw: err}
		}
		return &RevertError{Op: op, Selector: sel, Reason: reason, raw: err}
	default:
		return &RevertError{Op: op, Selector: sel, raw: err}
	}
}

// revertData extracts raw revert bytes from an RPC error, if present.
func revertData(err error) ([]byte, bool) {
	var de rpc.DataError
	if !errors.As(err, &de) {
		return nil, false
	}
	switch v := de.ErrorData().(type) {
	case string:
		if !strings.HasPrefix(v, "0x") {
			return nil, false
		}
		return common.FromHex(v), true
	case []byte:
		return v, true
	default:
		return nil, false
	}
}
