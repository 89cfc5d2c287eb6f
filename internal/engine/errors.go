package engine

import (
	"errors"
	"fmt"

	"github.com/abhisek/adaptiq/internal/itembank"
	"github.com/abhisek/adaptiq/internal/stopping"
)

// Protocol misuse: caller bugs, surfaced immediately and never retried.
var (
	ErrConcurrentRequest = errors.New("another request is pending for this attempt")
	ErrInvalidItem       = errors.New("item is not the pending item")
	ErrAlreadyCompleted  = errors.New("attempt already completed")
	ErrAbandoned         = errors.New("attempt was abandoned")
	ErrNotStopped        = errors.New("attempt has not reached a stopping condition")
	ErrNoResponses       = errors.New("attempt has no responses to score")
)

// Data integrity: the attempt is flagged and the caller should show a
// recoverable "unable to load next question" state.
var (
	ErrDataIntegrity   = errors.New("data integrity error")
	ErrAttemptNotFound = errors.New("attempt not found")
)

var (
	// ErrStopped matches every *StoppedError.
	ErrStopped = errors.New("attempt stopped")

	// ErrPoolExhausted is wrapped by the StoppedError returned when no
	// eligible item remains.
	ErrPoolExhausted = errors.New("item pool exhausted")

	// ErrAttemptOpen is returned when the taker already has an open
	// attempt for the tool.
	ErrAttemptOpen = errors.New("an attempt is already open for this taker and tool")
)

// StoppedError reports that the stopping rule has ended the attempt. It is
// expected control flow: the caller should finalize.
type StoppedError struct {
	Reason stopping.Reason
	Err    error
}

func (e *StoppedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("attempt stopped (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("attempt stopped (%s)", e.Reason)
}

func (e *StoppedError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrStopped) hold for any StoppedError.
func (e *StoppedError) Is(target error) bool { return target == ErrStopped }

// StopReason extracts the reason from a *StoppedError in err's chain.
func StopReason(err error) (stopping.Reason, bool) {
	var se *StoppedError
	if errors.As(err, &se) {
		return se.Reason, true
	}
	return stopping.Continue, false
}

// IsProtocolMisuse reports caller errors.
func IsProtocolMisuse(err error) bool {
	for _, target := range []error{
		ErrConcurrentRequest,
		ErrInvalidItem,
		ErrAlreadyCompleted,
		ErrAbandoned,
		ErrNotStopped,
		ErrNoResponses,
		itembank.ErrInvalidAnswer,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsDataIntegrity reports malformed item data or missing attempt records.
func IsDataIntegrity(err error) bool {
	return errors.Is(err, ErrDataIntegrity) || errors.Is(err, ErrAttemptNotFound)
}
