package saga

import (
	"fmt"

	"github.com/sigweihq/simchain/pkg/chains"
	"github.com/sigweihq/simchain/pkg/types"
)

// TransferError is returned when a transfer fails after funds were locked, or when a lock or
// release was broadcast but its outcome is unknown.
// It wraps the original cause and, when the refund failed, a CompensationFailure.
type TransferError struct {
	State     State // last state reached before the failure
	SourceTx  string
	MessageID string
	Cause     error
	Refund    *types.ChainTransaction
	RefundErr error

	// Unresolved is set when PendingTx may still land. No refund was attempted.
	Unresolved bool
	PendingTx  string
}

func (e *TransferError) Error() string {
	switch {
	case e.Unresolved:
		return fmt.Sprintf("transfer stopped at %s: %v; outcome of transaction %s unknown, not refunded", e.State, e.Cause, e.PendingTx)
	case e.RefundErr != nil:
		return fmt.Sprintf("transfer failed after %s: %v; refund failed, funds may be stuck: %v", e.State, e.Cause, e.RefundErr)
	}
	return fmt.Sprintf("transfer failed after %s: %v; funds returned", e.State, e.Cause)
}

func (e *TransferError) Unwrap() []error {
	if e.RefundErr != nil {
		return []error{e.Cause, chains.NewError(chains.ErrCompensationFailure, "", "refund", e.RefundErr)}
	}
	return []error{e.Cause}
}

// FundsReturned reports whether the locked amount was refunded
func (e *TransferError) FundsReturned() bool {
	return !e.Unresolved && e.RefundErr == nil
}

// Status is TransferPending while a transaction outcome is unknown, TransferFailed otherwise
func (e *TransferError) Status() types.TransferStatus {
	if e.Unresolved {
		return types.TransferPending
	}
	return types.TransferFailed
}
