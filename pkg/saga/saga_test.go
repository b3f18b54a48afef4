package saga

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigweihq/simchain/pkg/chains"
	"github.com/sigweihq/simchain/pkg/chains/chainstest"
	"github.com/sigweihq/simchain/pkg/constants"
	"github.com/sigweihq/simchain/pkg/conversion"
	"github.com/sigweihq/simchain/pkg/types"
)

const (
	testSim = "+15551234567"
	testPin = "123456"
)

type fakeRelay struct {
	mu       sync.Mutex
	messages []types.BridgeMessage
	err      error
	block    bool
}

func (f *fakeRelay) Send(ctx context.Context, msg types.BridgeMessage) (string, error) {
	if f.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.messages = append(f.messages, msg)
	return "msg-1", nil
}

var testChainInfo = conversion.ChainInfoFunc(func(chain string) (string, int32, bool) {
	switch chain {
	case "solana":
		return "SOL", 9, true
	case "ethereum":
		return "ETH", 18, true
	}
	return "", 0, false
})

type fixture struct {
	saga     *Saga
	solana   *chainstest.SpyAdapter
	ethereum *chainstest.SpyAdapter
	relay    *fakeRelay
}

func newFixture(t *testing.T, balance string) *fixture {
	t.Helper()
	solana := chainstest.NewSpyAdapter("solana", true).AddWallet(testSim, testPin, decimal.RequireFromString(balance))
	ethereum := chainstest.NewSpyAdapter("ethereum", false)

	registry, err := chains.NewRegistry(solana, ethereum)
	require.NoError(t, err)

	calc := conversion.NewCalculator(conversion.DefaultRates(), conversion.DefaultFeeSchedule(), testChainInfo)
	relay := &fakeRelay{}
	return &fixture{
		saga:     New(registry, nil, calc, relay, Options{CallTimeout: time.Second}),
		solana:   solana,
		ethereum: ethereum,
		relay:    relay,
	}
}

func request(amount string) types.CrossChainTransfer {
	return types.CrossChainTransfer{
		Sim:         testSim,
		Pin:         testPin,
		SourceChain: "solana",
		TargetChain: "ethereum",
		Amount:      decimal.RequireFromString(amount),
	}
}

func TestTransferConfirmed(t *testing.T) {
	f := newFixture(t, "20")

	result, err := f.saga.Execute(context.Background(), request("10"))
	require.NoError(t, err)

	assert.Equal(t, types.TransferConfirmed, result.Status)
	assert.Equal(t, "solana-tx-1", result.SourceTx)
	assert.Equal(t, "ethereum-tx-1", result.TargetTx)
	assert.Equal(t, "msg-1", result.MessageID)
	assert.True(t, result.TargetAmount.Equal(decimal.RequireFromString("0.2")), result.TargetAmount.String())
	assert.True(t, result.Fees.TotalFee.Equal(decimal.RequireFromString("0.0115")), result.Fees.TotalFee.String())

	assert.True(t, f.solana.Balance(testSim).Equal(decimal.NewFromInt(10)))
	assert.True(t, f.solana.Balance(f.solana.EscrowAddress()).Equal(decimal.NewFromInt(10)))
	assert.True(t, f.ethereum.Balance(testSim).Equal(decimal.RequireFromString("0.2")))

	assert.Equal(t, []string{
		chainstest.MethodValidatePin,
		chainstest.MethodCheckBalance,
		chainstest.MethodSendFunds,
	}, f.solana.History())
	assert.Equal(t, []string{chainstest.MethodWalletInfo, chainstest.MethodCredit}, f.ethereum.History())

	require.Len(t, f.relay.messages, 1)
	msg := f.relay.messages[0]
	assert.Equal(t, "solana-tx-1", msg.SourceTx)
	assert.Equal(t, "ethereum:"+testSim, msg.Recipient)
	assert.True(t, msg.MinTargetAmount.Equal(decimal.RequireFromString("0.199")), msg.MinTargetAmount.String())
}

func TestSameChainRejectedBeforeAnyCall(t *testing.T) {
	f := newFixture(t, "20")
	req := request("1")
	req.TargetChain = "solana"

	_, err := f.saga.Execute(context.Background(), req)
	assert.ErrorIs(t, err, chains.ErrValidation)
	assert.Equal(t, 0, f.solana.TotalCalls())
	assert.Equal(t, 0, f.ethereum.TotalCalls())
}

func TestInputValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*types.CrossChainTransfer)
	}{
		{name: "zero amount", mutate: func(r *types.CrossChainTransfer) { r.Amount = decimal.Zero }},
		{name: "negative amount", mutate: func(r *types.CrossChainTransfer) { r.Amount = decimal.NewFromInt(-1) }},
		{name: "bad sim", mutate: func(r *types.CrossChainTransfer) { r.Sim = "abc" }},
		{name: "bad pin", mutate: func(r *types.CrossChainTransfer) { r.Pin = "12" }},
		{name: "missing target", mutate: func(r *types.CrossChainTransfer) { r.TargetChain = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, "20")
			req := request("1")
			tt.mutate(&req)

			_, err := f.saga.Execute(context.Background(), req)
			assert.ErrorIs(t, err, chains.ErrValidation)
			assert.Equal(t, 0, f.solana.TotalCalls())
		})
	}
}

func TestInvalidPinStopsTransfer(t *testing.T) {
	f := newFixture(t, "20")
	req := request("1")
	req.Pin = "654321"

	_, err := f.saga.Execute(context.Background(), req)
	assert.ErrorIs(t, err, chains.ErrInvalidPin)
	assert.Equal(t, []string{chainstest.MethodValidatePin}, f.solana.History())
	assert.Equal(t, 0, f.ethereum.TotalCalls())
}

func TestUnsupportedTargetChain(t *testing.T) {
	f := newFixture(t, "20")
	req := request("1")
	req.TargetChain = "polkadot"

	_, err := f.saga.Execute(context.Background(), req)
	assert.ErrorIs(t, err, chains.ErrUnsupportedChain)
	assert.Equal(t, 0, f.solana.MutatingCalls())
}

func TestInsufficientBalanceNoLock(t *testing.T) {
	f := newFixture(t, "5")

	_, err := f.saga.Execute(context.Background(), request("10"))
	assert.ErrorIs(t, err, chains.ErrInsufficientBalance)
	assert.Equal(t, 0, f.solana.Calls(chainstest.MethodSendFunds))
	assert.Empty(t, f.relay.messages)
}

func TestSourceFeeCountsTowardsBalance(t *testing.T) {
	// exactly the amount, but not the 0.0005 source fee
	f := newFixture(t, "10")

	_, err := f.saga.Execute(context.Background(), request("10"))
	assert.ErrorIs(t, err, chains.ErrInsufficientBalance)
}

func TestReleaseFailureRefunds(t *testing.T) {
	f := newFixture(t, "20")
	f.ethereum.FailOn(chainstest.MethodCredit, chains.NewError(chains.ErrNetwork, "ethereum", "credit", errors.New("rpc down")))

	result, err := f.saga.Execute(context.Background(), request("10"))
	require.Error(t, err)
	assert.Nil(t, result)
	assert.ErrorIs(t, err, chains.ErrNetwork)
	assert.NotErrorIs(t, err, chains.ErrCompensationFailure)

	var transferErr *TransferError
	require.True(t, errors.As(err, &transferErr))
	assert.Equal(t, StateMessaged, transferErr.State)
	assert.Equal(t, "solana-tx-1", transferErr.SourceTx)
	assert.Equal(t, "msg-1", transferErr.MessageID)
	assert.True(t, transferErr.FundsReturned())
	assert.Equal(t, types.TransferFailed, transferErr.Status())
	require.NotNil(t, transferErr.Refund)

	assert.Equal(t, 1, f.solana.Calls(chainstest.MethodCredit))
	assert.True(t, f.solana.Balance(testSim).Equal(decimal.NewFromInt(20)))
	assert.True(t, f.solana.Balance(f.solana.EscrowAddress()).IsZero())
}

func TestRelayFailureRefunds(t *testing.T) {
	f := newFixture(t, "20")
	f.relay.err = errors.New("relayer unavailable")

	_, err := f.saga.Execute(context.Background(), request("10"))
	assert.ErrorIs(t, err, chains.ErrBridgeMessage)

	var transferErr *TransferError
	require.True(t, errors.As(err, &transferErr))
	assert.Equal(t, StateLocked, transferErr.State)
	assert.True(t, transferErr.FundsReturned())
	assert.Equal(t, 1, f.solana.Calls(chainstest.MethodCredit))
	assert.Equal(t, 0, f.ethereum.Calls(chainstest.MethodCredit))
}

func TestRefundFailureIsCompensationFailure(t *testing.T) {
	f := newFixture(t, "20")
	f.ethereum.FailOn(chainstest.MethodCredit, chains.NewError(chains.ErrNetwork, "ethereum", "credit", nil))
	f.solana.FailOn(chainstest.MethodCredit, chains.NewError(chains.ErrNetwork, "solana", "credit", nil))

	_, err := f.saga.Execute(context.Background(), request("10"))
	require.Error(t, err)
	assert.ErrorIs(t, err, chains.ErrCompensationFailure)
	assert.Equal(t, chains.ErrCompensationFailure, chains.KindOf(err))

	var transferErr *TransferError
	require.True(t, errors.As(err, &transferErr))
	assert.False(t, transferErr.FundsReturned())
	assert.Nil(t, transferErr.Refund)
	assert.Contains(t, err.Error(), "funds may be stuck")
}

func TestRelayTimeoutTriggersCompensation(t *testing.T) {
	f := newFixture(t, "20")
	f.saga.callTimeout = 20 * time.Millisecond
	f.relay.block = true

	_, err := f.saga.Execute(context.Background(), request("10"))
	assert.ErrorIs(t, err, chains.ErrBridgeMessage)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, f.solana.Calls(chainstest.MethodCredit))
}

func TestCancelledBeforeLock(t *testing.T) {
	f := newFixture(t, "20")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.saga.Execute(ctx, request("10"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, f.solana.Calls(chainstest.MethodSendFunds))
}

func TestConcurrentTransfersSerialized(t *testing.T) {
	f := newFixture(t, "15")

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.saga.Execute(context.Background(), request("10"))
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, chains.ErrInsufficientBalance)
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, f.solana.Calls(chainstest.MethodSendFunds))
	assert.Equal(t, 0, f.saga.locks.size())
}

func TestNonNativeTokenRejectedBeforeAnyMove(t *testing.T) {
	f := newFixture(t, "20")
	req := request("1")
	req.TargetToken = "USDC"

	_, err := f.saga.Execute(context.Background(), req)
	assert.ErrorIs(t, err, chains.ErrValidation)
	assert.Equal(t, 0, f.solana.MutatingCalls())
	assert.Equal(t, 0, f.ethereum.MutatingCalls())
	assert.Empty(t, f.relay.messages)
}

func TestNativeTokenNamedExplicitly(t *testing.T) {
	f := newFixture(t, "20")
	req := request("1")
	req.SourceToken = "sol"
	req.TargetToken = "ETH"

	result, err := f.saga.Execute(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, types.TransferConfirmed, result.Status)
}

func TestLockOutcomeUnknownIsNotRefunded(t *testing.T) {
	f := newFixture(t, "20")
	f.solana.FailAfterMove(chainstest.MethodSendFunds, chains.NewError(chains.ErrNetwork, "solana", "sendFunds", context.DeadlineExceeded))

	_, err := f.saga.Execute(context.Background(), request("10"))
	require.Error(t, err)
	assert.ErrorIs(t, err, chains.ErrNetwork)

	var transferErr *TransferError
	require.True(t, errors.As(err, &transferErr))
	assert.Equal(t, StateLockUnknown, transferErr.State)
	assert.True(t, transferErr.Unresolved)
	assert.Equal(t, "solana-tx-1", transferErr.PendingTx)
	assert.False(t, transferErr.FundsReturned())
	assert.Equal(t, types.TransferPending, transferErr.Status())
	assert.Contains(t, err.Error(), "not refunded")

	assert.Equal(t, 0, f.solana.Calls(chainstest.MethodCredit))
	assert.Equal(t, 0, f.ethereum.Calls(chainstest.MethodCredit))
	assert.Empty(t, f.relay.messages)
}

func TestFailedLockTransactionStopsTransfer(t *testing.T) {
	f := newFixture(t, "20")
	f.solana.TxStatus = types.TxFailed

	_, err := f.saga.Execute(context.Background(), request("10"))
	assert.ErrorIs(t, err, chains.ErrValidation)

	var transferErr *TransferError
	assert.False(t, errors.As(err, &transferErr))
	assert.Empty(t, f.relay.messages)
	assert.Equal(t, 0, f.ethereum.Calls(chainstest.MethodCredit))
}

func TestPendingReleaseIsNotRefunded(t *testing.T) {
	f := newFixture(t, "20")
	f.ethereum.TxStatus = types.TxPending

	_, err := f.saga.Execute(context.Background(), request("10"))
	require.Error(t, err)

	var transferErr *TransferError
	require.True(t, errors.As(err, &transferErr))
	assert.Equal(t, StateReleaseUnknown, transferErr.State)
	assert.Equal(t, "ethereum-tx-1", transferErr.PendingTx)
	assert.Equal(t, 0, f.solana.Calls(chainstest.MethodCredit))
}

func TestReleaseOutcomeUnknownIsNotRefunded(t *testing.T) {
	f := newFixture(t, "20")
	f.ethereum.FailAfterMove(chainstest.MethodCredit, chains.NewError(chains.ErrNetwork, "ethereum", "credit", context.DeadlineExceeded))

	_, err := f.saga.Execute(context.Background(), request("10"))
	require.Error(t, err)

	var transferErr *TransferError
	require.True(t, errors.As(err, &transferErr))
	assert.Equal(t, StateReleaseUnknown, transferErr.State)
	assert.Equal(t, "solana-tx-1", transferErr.SourceTx)
	assert.Equal(t, "msg-1", transferErr.MessageID)
	assert.Equal(t, "ethereum-tx-1", transferErr.PendingTx)
	assert.False(t, transferErr.FundsReturned())
	assert.Equal(t, types.TransferPending, transferErr.Status())

	assert.Equal(t, 0, f.solana.Calls(chainstest.MethodCredit))
	assert.True(t, f.solana.Balance(f.solana.EscrowAddress()).Equal(decimal.NewFromInt(10)))
}

func TestSubmitTimeoutCoversConfirmation(t *testing.T) {
	f := newFixture(t, "20")
	assert.Equal(t, time.Second+constants.ConfirmationTimeout, f.saga.submitTimeout)

	s := New(f.saga.registry, nil, nil, nil, Options{CallTimeout: time.Second, ConfirmationTimeout: 2 * time.Second})
	assert.Equal(t, 3*time.Second, s.submitTimeout)
}

func TestUninitializedRecipientRejectedBeforeLock(t *testing.T) {
	f := newFixture(t, "20")
	f.ethereum.RequireWallets = true

	_, err := f.saga.Execute(context.Background(), request("10"))
	assert.ErrorIs(t, err, chains.ErrWalletNotFound)
	assert.Equal(t, 0, f.solana.Calls(chainstest.MethodSendFunds))
	assert.Equal(t, 0, f.ethereum.MutatingCalls())
	assert.Empty(t, f.relay.messages)
}
