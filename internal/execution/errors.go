package execution

import (
	"errors"
	"fmt"
)

var (
	// ErrRejected matches every *Rejection via errors.Is.
	ErrRejected = errors.New("execution: signal rejected")
	// ErrTimeout is wrapped by a BrokerError when the broker round trip exceeds the order timeout.
	ErrTimeout = errors.New("execution: broker timeout")
	// ErrUnknownContract is returned by brokers for contract ids they never issued.
	ErrUnknownContract = errors.New("execution: unknown contract")
)

// Rejection is expected control flow: the signal was dropped before reaching the broker.
type Rejection struct {
	Reason string
}

func (r *Rejection) Error() string { return "execution: rejected: " + r.Reason }

// Is lets errors.Is(err, ErrRejected) match any rejection.
func (r *Rejection) Is(target error) bool { return target == ErrRejected }

// BrokerError wraps a failed broker call.
type BrokerError struct {
	Op   string // open or close
	Code string
	Err  error
}

func (e *BrokerError) Error() string {
	return fmt.Sprintf("execution: broker %s failed (%s): %v", e.Op, e.Code, e.Err)
}

func (e *BrokerError) Unwrap() error { return e.Err }

// RejectionReason extracts the reason from a rejection error, or "" for other errors.
func RejectionReason(err error) string {
	var rej *Rejection
	if errors.As(err, &rej) {
		return rej.Reason
	}
	return ""
}
