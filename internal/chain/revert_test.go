package chain

import (
	"encoding/hex"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// fakeDataError mimics an RPC error carrying revert data.
type fakeDataError struct {
	msg  string
	data interface{}
}

func (e *fakeDataError) Error() string          { return e.msg }
func (e *fakeDataError) ErrorData() interface{} { return e.data }

func packErrorString(t *testing.T, reason string) []byte {
	t.Helper()
	stringTy, err := abi.NewType("string", "", nil)
	if err != nil {
		t.Fatal(err)
	}
	enc, err := abi.Arguments{{Type: stringTy}}.Pack(reason)
	if err != nil {
		t.Fatal(err)
	}
	return append(errorStringSelector[:], enc...)
}

func TestWrapRevert_MaxKeysSelector(t *testing.T) {
	raw := &fakeDataError{
		msg:  "execution reverted",
		data: "0x" + hex.EncodeToString(maxKeysSelector[:]),
	}

	err := wrapRevert("purchase", raw)
	if !errors.Is(err, ErrMaxKeysReached) {
		t.Fatalf("expected ErrMaxKeysReached, got %v", err)
	}
	if !IsRevert(err) {
		t.Error("max-keys revert must count as a decodable revert")
	}
}

func TestWrapRevert_ErrorString(t *testing.T) {
	raw := &fakeDataError{
		msg:  "execution reverted",
		data: packErrorString(t, "NOT_AUTHORIZED"),
	}

	err := wrapRevert("purchase", raw)
	var re *RevertError
	if !errors.As(err, &re) {
		t.Fatalf("expected *RevertError, got %v", err)
	}
	if re.Reason != "NOT_AUTHORIZED" {
		t.Errorf("Reason: got %q want %q", re.Reason, "NOT_AUTHORIZED")
	}
	if errors.Is(err, ErrMaxKeysReached) {
		t.Error("plain revert must not map to ErrMaxKeysReached")
	}
	if !IsRevert(err) {
		t.Error("decoded revert must satisfy IsRevert")
	}
}

func TestWrapRevert_UnknownSelectorKeepsRaw(t *testing.T) {
	raw := &fakeDataError{msg: "execution reverted", data: "0xdeadbeef"}

	err := wrapRevert("setKeyExpiration", raw)
	var re *RevertError
	if !errors.As(err, &re) {
		t.Fatalf("expected *RevertError, got %v", err)
	}
	if got := hex.EncodeToString(re.Selector[:]); got != "deadbeef" {
		t.Errorf("Selector: got %s want deadbeef", got)
	}
}

func TestWrapRevert_NoDataIsNotRevert(t *testing.T) {
	err := wrapRevert("purchase", errors.New("connection refused"))
	if IsRevert(err) {
		t.Error("transport failures must not be classified as reverts")
	}
	if err == nil {
		t.Fatal("expected wrapped error")
	}
}

func TestIsRevert_NilAndPlainErrors(t *testing.T) {
	if IsRevert(errors.New("boom")) {
		t.Error("plain error is not a revert")
	}
}
