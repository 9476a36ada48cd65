package cart

import (
	"errors"
	"fmt"
)

var (
	// ErrUnresolvedChip means identification could not classify the memory.
	ErrUnresolvedChip = errors.New("cart: save chip unresolved")
	// ErrUnsupportedDevice means the slot holds an auxiliary peripheral.
	ErrUnsupportedDevice = errors.New("cart: unsupported device")
	// ErrOutOfRange means a request reaches past the chip capacity.
	ErrOutOfRange = errors.New("cart: range exceeds capacity")
	// ErrBusFault means a bus operation timed out or answered malformed data.
	ErrBusFault = errors.New("cart: bus fault")
	// ErrVerifyFailed means read-back did not match after all retries.
	ErrVerifyFailed = errors.New("cart: verify failed")
	// ErrAborted means the caller cancelled between chunks.
	ErrAborted = errors.New("cart: aborted")
)

// TransferError reports a failed transfer together with how far it got.
// Kind is one of the sentinel errors above.
type TransferError struct {
	Kind      error
	Chunk     int // index of the failing op, -1 when none ran
	BytesDone int
	Err       error
}

func (e *TransferError) Error() string {
	msg := fmt.Sprintf("%v after %d bytes", e.Kind, e.BytesDone)
	if e.Chunk >= 0 {
		msg = fmt.Sprintf("%v at chunk %d after %d bytes", e.Kind, e.Chunk, e.BytesDone)
	}
	if e.Err != nil && !errors.Is(e.Err, e.Kind) {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TransferError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Retryable reports whether a failure of this kind may be retried by the
// caller re-invoking the whole operation.
func Retryable(err error) bool {
	return errors.Is(err, ErrBusFault) || errors.Is(err, ErrVerifyFailed) || errors.Is(err, ErrAborted)
}
