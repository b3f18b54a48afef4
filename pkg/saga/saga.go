// Package saga runs cross-chain transfers as lock, relay and release steps with compensation.
package saga

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sigweihq/simchain/pkg/chains"
	"github.com/sigweihq/simchain/pkg/constants"
	"github.com/sigweihq/simchain/pkg/identity"
	"github.com/sigweihq/simchain/pkg/metrics"
	"github.com/sigweihq/simchain/pkg/relay"
	"github.com/sigweihq/simchain/pkg/types"
)

// State is a step of the transfer state machine
type State string

const (
	StateInit      State = "init"
	StateValidated State = "validated"
	StateLocked    State = "locked"
	StateMessaged  State = "messaged"
	StateReleased  State = "released"
	StateRefunding State = "refunding"
	StateFailed    State = "failed"

	// the lock or release was broadcast and may still land
	StateLockUnknown    State = "lockUnknown"
	StateReleaseUnknown State = "releaseUnknown"
)

// Converter prices a transfer and knows each chain's native token
type Converter interface {
	Calculate(ctx context.Context, transfer types.CrossChainTransfer) (*types.ConversionDetails, error)
	NativeToken(chain string) (symbol string, decimals int32, ok bool)
}

// Options tunes a Saga. Zero values select defaults.
type Options struct {
	CallTimeout time.Duration
	// ConfirmationTimeout extends the deadline of calls that submit a transaction
	ConfirmationTimeout time.Duration
	Metrics             *metrics.Metrics
	Logger              *slog.Logger
}

// Saga executes cross-chain transfers. It holds no per-transfer state.
type Saga struct {
	registry    *chains.Registry
	pins        *chains.PinAuthority
	converter   Converter
	relay       relay.MessageRelay
	locks       *keyedLocks
	callTimeout time.Duration
	// submitTimeout bounds calls that broadcast and confirm a transaction
	submitTimeout time.Duration
	metrics       *metrics.Metrics
	logger        *slog.Logger
}

// New creates a saga over the registry's adapters
func New(registry *chains.Registry, pins *chains.PinAuthority, converter Converter, messageRelay relay.MessageRelay, opts Options) *Saga {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if pins == nil {
		pins = chains.NewPinAuthority(registry.Authority(), logger)
	}
	timeout := opts.CallTimeout
	if timeout <= 0 {
		timeout = constants.AdapterCallTimeout
	}
	confirmation := opts.ConfirmationTimeout
	if confirmation <= 0 {
		confirmation = constants.ConfirmationTimeout
	}
	return &Saga{
		registry:      registry,
		pins:          pins,
		converter:     converter,
		relay:         messageRelay,
		locks:         newKeyedLocks(),
		callTimeout:   timeout,
		submitTimeout: timeout + confirmation,
		metrics:       opts.Metrics,
		logger:        logger,
	}
}

// transfer carries the values threaded through one execution
type transfer struct {
	req       types.CrossChainTransfer
	sim       string
	source    chains.ChainAdapter
	target    chains.ChainAdapter
	refunder  chains.Treasury
	releaser  chains.Treasury
	recipient string
	details   *types.ConversionDetails
	log       compensationLog
	state     State
	logger    *slog.Logger
}

func (t *transfer) advance(state State) {
	t.logger.Info("transfer state changed", "from", t.state, "to", state)
	t.state = state
}

// Execute runs the transfer. Cancelling ctx before funds are locked aborts without side effects;
// after the lock the transfer always runs to a terminal state.
func (s *Saga) Execute(ctx context.Context, req types.CrossChainTransfer) (*types.CrossChainResult, error) {
	start := time.Now()
	result, err := s.execute(ctx, req)
	status := types.TransferConfirmed
	if err != nil {
		status = types.TransferFailed
		var transferErr *TransferError
		if errors.As(err, &transferErr) {
			status = transferErr.Status()
		}
	}
	s.metrics.ObserveTransfer(string(status), time.Since(start))
	return result, err
}

func (s *Saga) execute(ctx context.Context, req types.CrossChainTransfer) (*types.CrossChainResult, error) {
	sim, err := validate(req)
	if err != nil {
		return nil, err
	}
	if err := s.requireNativeTokens(req); err != nil {
		return nil, err
	}

	logger := s.logger.With(
		"sim", identity.MaskSim(sim),
		"sourceChain", req.SourceChain,
		"targetChain", req.TargetChain,
		"amount", req.Amount.String())
	t := &transfer{req: req, sim: sim, state: StateInit, logger: logger}

	if err := s.call(ctx, func(ctx context.Context) error {
		return s.pins.Require(ctx, sim, req.Pin, "crossChainTransfer")
	}); err != nil {
		return nil, err
	}

	if err := s.resolveChains(t); err != nil {
		return nil, err
	}

	t.details, err = s.converter.Calculate(ctx, req)
	if err != nil {
		return nil, err
	}

	release, err := s.locks.acquire(ctx, sim+"|"+req.SourceChain)
	if err != nil {
		return nil, fmt.Errorf("waiting for concurrent transfer: %w", err)
	}
	defer release()

	if err := s.checkBalance(ctx, t); err != nil {
		return nil, err
	}
	if err := s.resolveRecipient(ctx, t); err != nil {
		return nil, err
	}
	t.advance(StateValidated)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.run(ctx, t)
}

// run performs the forward steps. From here on the caller's cancellation is ignored.
func (s *Saga) run(ctx context.Context, t *transfer) (*types.CrossChainResult, error) {
	ctx = context.WithoutCancel(ctx)

	// Lock
	var lockTx *types.ChainTransaction
	err := s.submit(ctx, func(ctx context.Context) error {
		var err error
		lockTx, err = t.source.SendFunds(ctx, t.sim, t.refunder.EscrowAddress(), t.req.Amount, t.req.Pin)
		if err != nil {
			return err
		}
		return settled(lockTx, t.req.SourceChain, "lock")
	})
	if err != nil {
		if hash, ok := chains.UnconfirmedHash(err); ok {
			return nil, s.unresolved(t, StateLockUnknown, hash, "", hash, err)
		}
		t.logger.Warn("lock failed, no funds moved", "error", err)
		return nil, err
	}
	t.log.record(StateLocked, func(ctx context.Context) (refund *types.ChainTransaction, err error) {
		err = s.submit(ctx, func(ctx context.Context) error {
			refund, err = t.refunder.Credit(ctx, t.sim, t.req.Amount)
			if err != nil {
				return err
			}
			return settled(refund, t.req.SourceChain, "refund")
		})
		return refund, err
	})
	t.advance(StateLocked)
	t.logger.Info("funds locked", "sourceTx", lockTx.Hash, "escrow", t.refunder.EscrowAddress())

	// Relay
	var messageID string
	err = s.call(ctx, func(ctx context.Context) error {
		var err error
		messageID, err = s.relay.Send(ctx, s.bridgeMessage(t, lockTx))
		if err != nil {
			return chains.NewError(chains.ErrBridgeMessage, t.req.TargetChain, "relay", err)
		}
		return nil
	})
	if err != nil {
		return nil, s.compensate(ctx, t, lockTx.Hash, "", err)
	}
	t.advance(StateMessaged)

	// Release
	var releaseTx *types.ChainTransaction
	err = s.submit(ctx, func(ctx context.Context) error {
		var err error
		releaseTx, err = t.releaser.Credit(ctx, t.sim, t.details.TargetAmount)
		if err != nil {
			return err
		}
		return settled(releaseTx, t.req.TargetChain, "release")
	})
	if err != nil {
		if hash, ok := chains.UnconfirmedHash(err); ok {
			// refunding now could pay out twice if the release lands
			return nil, s.unresolved(t, StateReleaseUnknown, lockTx.Hash, messageID, hash, err)
		}
		return nil, s.compensate(ctx, t, lockTx.Hash, messageID, err)
	}
	t.advance(StateReleased)

	d := t.details
	return &types.CrossChainResult{
		SourceTx:             lockTx.Hash,
		TargetTx:             releaseTx.Hash,
		MessageID:            messageID,
		Status:               types.TransferConfirmed,
		ExchangeRate:         d.ExchangeRate,
		SourceAmount:         d.SourceAmount,
		TargetAmount:         d.TargetAmount,
		MinTargetAmount:      d.MinTargetAmount,
		Fees:                 d.Fees,
		EstimatedTimeSeconds: d.EstimatedTimeSeconds,
	}, nil
}

// compensate replays the compensation log and builds the terminal error
func (s *Saga) compensate(ctx context.Context, t *transfer, sourceTx, messageID string, cause error) error {
	failedAt := t.state
	t.logger.Warn("transfer step failed, refunding", "state", failedAt, "error", cause)
	t.advance(StateRefunding)

	refunds, refundErr := t.log.replay(ctx)
	s.metrics.ObserveCompensation(refundErr)
	t.advance(StateFailed)

	transferErr := &TransferError{
		State:     failedAt,
		SourceTx:  sourceTx,
		MessageID: messageID,
		Cause:     cause,
		RefundErr: refundErr,
	}
	if len(refunds) > 0 {
		transferErr.Refund = refunds[0]
	}

	if refundErr != nil {
		t.logger.Error("refund failed, funds may be stuck in escrow",
			"sourceTx", sourceTx,
			"escrow", t.refunder.EscrowAddress(),
			"error", refundErr)
	} else {
		t.logger.Warn("transfer refunded", "sourceTx", sourceTx)
	}
	return transferErr
}

// unresolved stops the transfer without compensating because a transaction may still land
func (s *Saga) unresolved(t *transfer, state State, sourceTx, messageID, pendingTx string, cause error) error {
	t.advance(state)
	t.logger.Error("transaction outcome unknown, manual reconciliation required",
		"pendingTx", pendingTx,
		"sourceTx", sourceTx,
		"messageId", messageID,
		"error", cause)
	return &TransferError{
		State:      state,
		SourceTx:   sourceTx,
		MessageID:  messageID,
		Cause:      cause,
		Unresolved: true,
		PendingTx:  pendingTx,
	}
}

// call bounds one adapter call by the configured timeout
func (s *Saga) call(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()
	return fn(ctx)
}

// submit bounds a call that broadcasts a transaction and waits for its confirmation
func (s *Saga) submit(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.submitTimeout)
	defer cancel()
	return fn(ctx)
}

// settled rejects a returned transaction that did not confirm
func settled(tx *types.ChainTransaction, chain, step string) error {
	if tx == nil {
		return chains.Errorf(chains.ErrNetwork, chain, step, "adapter returned no transaction")
	}
	switch tx.Status {
	case types.TxFailed:
		return chains.Errorf(chains.ErrValidation, chain, step, "transaction %s failed", tx.Hash)
	case types.TxPending:
		return &chains.UnconfirmedError{
			Hash: tx.Hash,
			Err:  chains.Errorf(chains.ErrNetwork, chain, step, "transaction %s still pending", tx.Hash),
		}
	}
	return nil
}

// requireNativeTokens rejects token overrides: lock and release move each chain's native currency
func (s *Saga) requireNativeTokens(req types.CrossChainTransfer) error {
	sides := []struct{ chain, token string }{
		{req.SourceChain, req.SourceToken},
		{req.TargetChain, req.TargetToken},
	}
	for _, side := range sides {
		if side.token == "" {
			continue
		}
		native, _, ok := s.converter.NativeToken(side.chain)
		if ok && !strings.EqualFold(native, side.token) {
			return chains.Errorf(chains.ErrValidation, side.chain, "crossChainTransfer",
				"only the native token %s can be transferred, got %s", native, side.token)
		}
	}
	return nil
}

func (s *Saga) resolveChains(t *transfer) error {
	source, err := s.registry.Get(t.req.SourceChain)
	if err != nil {
		return err
	}
	target, err := s.registry.Get(t.req.TargetChain)
	if err != nil {
		return err
	}

	refunder, ok := source.(chains.Treasury)
	if !ok {
		return chains.Errorf(chains.ErrUnsupportedChain, t.req.SourceChain, "crossChainTransfer", "chain has no bridge treasury")
	}
	releaser, ok := target.(chains.Treasury)
	if !ok {
		return chains.Errorf(chains.ErrUnsupportedChain, t.req.TargetChain, "crossChainTransfer", "chain has no bridge treasury")
	}

	t.source, t.target = source, target
	t.refunder, t.releaser = refunder, releaser
	return nil
}

func (s *Saga) checkBalance(ctx context.Context, t *transfer) error {
	var balance decimal.Decimal
	err := s.call(ctx, func(ctx context.Context) error {
		var err error
		balance, err = t.source.CheckBalance(ctx, t.sim, t.req.Pin)
		return err
	})
	if err != nil {
		return err
	}

	required := t.req.Amount.Add(t.details.Fees.SourceChainFee)
	if balance.LessThan(required) {
		return chains.Errorf(chains.ErrInsufficientBalance, t.req.SourceChain, "crossChainTransfer",
			"balance %s is below amount plus source fee %s", balance, required)
	}
	return nil
}

// resolveRecipient looks up the target wallet address so the bridge message carries no phone number
func (s *Saga) resolveRecipient(ctx context.Context, t *transfer) error {
	inspector, ok := t.target.(chains.WalletInspector)
	if !ok {
		return nil
	}
	return s.call(ctx, func(ctx context.Context) error {
		wallet, err := inspector.WalletInfo(ctx, t.sim)
		if err != nil {
			return err
		}
		if required, ok := t.target.(chains.WalletRequirement); ok && required.RequiresInitializedWallet() && !wallet.Exists {
			return chains.Errorf(chains.ErrWalletNotFound, t.req.TargetChain, "crossChainTransfer",
				"recipient wallet must be initialized before it can receive funds")
		}
		t.recipient = wallet.Address
		return nil
	})
}

func (s *Saga) bridgeMessage(t *transfer, lockTx *types.ChainTransaction) types.BridgeMessage {
	d := t.details
	return types.BridgeMessage{
		SourceChain:     t.req.SourceChain,
		TargetChain:     t.req.TargetChain,
		SourceTx:        lockTx.Hash,
		Sender:          lockTx.From,
		Recipient:       t.recipient,
		SourceToken:     d.SourceToken,
		TargetToken:     d.TargetToken,
		SourceAmount:    d.SourceAmount,
		TargetAmount:    d.TargetAmount,
		MinTargetAmount: d.MinTargetAmount,
		ExchangeRate:    d.ExchangeRate,
	}
}

// validate rejects malformed requests before any adapter is called
func validate(req types.CrossChainTransfer) (string, error) {
	const op = "crossChainTransfer"
	if req.SourceChain == "" || req.TargetChain == "" {
		return "", chains.Errorf(chains.ErrValidation, "", op, "source and target chain are required")
	}
	if req.SourceChain == req.TargetChain {
		return "", chains.Errorf(chains.ErrValidation, req.SourceChain, op, "source and target chain must differ")
	}
	if !req.Amount.IsPositive() {
		return "", chains.Errorf(chains.ErrValidation, req.SourceChain, op, "amount must be positive")
	}
	sim, err := identity.NormalizeSim(req.Sim)
	if err != nil {
		return "", err
	}
	if err := identity.ValidatePinFormat(req.Pin); err != nil {
		return "", err
	}
	return sim, nil
}
