// Package dispatcher routes single-chain operations to the adapter of their target chain.
package dispatcher

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/sigweihq/simchain/pkg/chains"
	"github.com/sigweihq/simchain/pkg/identity"
	"github.com/sigweihq/simchain/pkg/metrics"
	"github.com/sigweihq/simchain/pkg/types"
)

// Dispatcher is pure routing plus the PIN delegation check.
// Operations on a non-authority chain are authorized by the authority chain before the
// target adapter is touched. Operations on the authority chain check the PIN inside the adapter.
type Dispatcher struct {
	registry *chains.Registry
	pins     *chains.PinAuthority
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// New creates a dispatcher. When pins is nil the registry's authority adapter is used.
func New(registry *chains.Registry, pins *chains.PinAuthority, m *metrics.Metrics, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if pins == nil {
		pins = chains.NewPinAuthority(registry.Authority(), logger)
	}
	return &Dispatcher{registry: registry, pins: pins, metrics: m, logger: logger}
}

// Execute runs op against its target chain
func (d *Dispatcher) Execute(ctx context.Context, op types.Operation) (*types.OperationResult, error) {
	result, err := d.execute(ctx, op)
	d.metrics.ObserveOperation(op.TargetChain, op.Type.String(), err)
	if err != nil {
		d.logger.Info("operation failed",
			"chain", op.TargetChain,
			"op", op.Type.String(),
			"sim", identity.MaskSim(op.Sim),
			"error", err)
		return nil, err
	}
	return result, nil
}

func (d *Dispatcher) execute(ctx context.Context, op types.Operation) (*types.OperationResult, error) {
	if err := validate(op); err != nil {
		return nil, err
	}

	adapter, err := d.registry.Get(op.TargetChain)
	if err != nil {
		return nil, err
	}

	result := &types.OperationResult{Type: op.Type}
	if !d.registry.IsAuthority(op.TargetChain) {
		if err := d.pins.Require(ctx, op.Sim, op.Pin, op.Type.String()); err != nil {
			return nil, err
		}
		// the authority has already answered
		if op.Type == types.OpValidatePin {
			result.OK = true
			return result, nil
		}
	}

	switch op.Type {
	case types.OpInitializeWallet:
		result.Address, err = adapter.InitializeWallet(ctx, op.Sim, op.Pin)
	case types.OpSendFunds:
		amount, parseErr := parseAmount(op.Param(types.ParamAmount))
		if parseErr != nil {
			return nil, parseErr
		}
		result.Transaction, err = adapter.SendFunds(ctx, op.Sim, op.Param(types.ParamTo), amount, op.Pin)
	case types.OpCheckBalance:
		result.Balance, err = adapter.CheckBalance(ctx, op.Sim, op.Pin)
	case types.OpSetAlias:
		result.OK, err = adapter.SetAlias(ctx, op.Sim, op.Param(types.ParamAlias), op.Pin)
	case types.OpValidatePin:
		result.OK, err = adapter.ValidatePin(ctx, op.Sim, op.Pin)
	default:
		return nil, chains.Errorf(chains.ErrValidation, op.TargetChain, "", "unknown operation type: %s", op.Type)
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

// validate rejects malformed operations before any network call
func validate(op types.Operation) error {
	name := op.Type.String()
	if _, ok := types.ParseOperationType(name); !ok {
		return chains.Errorf(chains.ErrValidation, op.TargetChain, "", "unknown operation type: %s", name)
	}
	if op.TargetChain == "" {
		return chains.Errorf(chains.ErrValidation, "", name, "target chain is required")
	}
	sim, err := identity.NormalizeSim(op.Sim)
	if err != nil {
		return err
	}
	if err := identity.ValidatePinFormat(op.Pin); err != nil {
		return err
	}

	switch op.Type {
	case types.OpSendFunds:
		if from := op.Param(types.ParamFrom); from != "" {
			normalized, err := identity.NormalizeSim(from)
			if err != nil || normalized != sim {
				return chains.Errorf(chains.ErrValidation, op.TargetChain, name, "sender must be the authenticated sim")
			}
		}
		if op.Param(types.ParamTo) == "" {
			return chains.Errorf(chains.ErrValidation, op.TargetChain, name, "recipient is required")
		}
		if _, err := parseAmount(op.Param(types.ParamAmount)); err != nil {
			return err
		}
	case types.OpSetAlias:
		if err := identity.ValidateAlias(op.Param(types.ParamAlias)); err != nil {
			return err
		}
	}
	return nil
}

func parseAmount(s string) (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, chains.NewError(chains.ErrValidation, "", "sendFunds", fmt.Errorf("invalid amount %q: %w", s, err))
	}
	if !amount.IsPositive() {
		return decimal.Zero, chains.Errorf(chains.ErrValidation, "", "sendFunds", "amount must be positive")
	}
	return amount, nil
}
