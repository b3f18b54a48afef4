package saga

import (
	"context"
	"errors"
	"fmt"

	"github.com/sigweihq/simchain/pkg/types"
)

// undoFunc reverses one forward step
type undoFunc func(ctx context.Context) (*types.ChainTransaction, error)

type compensation struct {
	step State
	undo undoFunc
}

// compensationLog records the inverse of every completed forward step
type compensationLog struct {
	entries []compensation
}

func (l *compensationLog) record(step State, undo undoFunc) {
	l.entries = append(l.entries, compensation{step: step, undo: undo})
}

func (l *compensationLog) empty() bool {
	return len(l.entries) == 0
}

// replay runs every inverse, newest first. It does not stop at the first failure.
func (l *compensationLog) replay(ctx context.Context) ([]*types.ChainTransaction, error) {
	var (
		txs  []*types.ChainTransaction
		errs []error
	)
	for i := len(l.entries) - 1; i >= 0; i-- {
		entry := l.entries[i]
		tx, err := entry.undo(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("undo %s: %w", entry.step, err))
			continue
		}
		if tx != nil {
			txs = append(txs, tx)
		}
	}
	return txs, errors.Join(errs...)
}
