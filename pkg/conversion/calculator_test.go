package conversion

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigweihq/simchain/pkg/chains"
	"github.com/sigweihq/simchain/pkg/types"
)

var testChains = ChainInfoFunc(func(chain string) (string, int32, bool) {
	switch chain {
	case "solana":
		return "SOL", 9, true
	case "polkadot":
		return "DOT", 10, true
	case "ethereum":
		return "ETH", 18, true
	}
	return "", 0, false
})

func newTestCalculator() *Calculator {
	return NewCalculator(DefaultRates(), DefaultFeeSchedule(), testChains)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestCalculateSolToDot(t *testing.T) {
	details, err := newTestCalculator().Calculate(context.Background(), types.CrossChainTransfer{
		SourceChain: "solana",
		TargetChain: "polkadot",
		Amount:      dec("10"),
	})
	require.NoError(t, err)

	assert.Equal(t, "SOL", details.SourceToken)
	assert.Equal(t, "DOT", details.TargetToken)
	assert.True(t, details.ExchangeRate.Equal(dec("250")))
	assert.True(t, details.TargetAmount.Equal(dec("2500")), details.TargetAmount.String())
	assert.True(t, details.Fees.SourceChainFee.Equal(dec("0.0005")))
	assert.True(t, details.Fees.BridgeFee.Equal(dec("0.01")))
	assert.True(t, details.Fees.TargetChainFee.Equal(dec("0.01")))
	assert.True(t, details.Fees.TotalFee.Equal(dec("0.0205")), details.Fees.TotalFee.String())
	assert.Equal(t, 120, details.EstimatedTimeSeconds)

	// default slippage of 0.5%
	assert.True(t, details.MinTargetAmount.Equal(dec("2487.5")), details.MinTargetAmount.String())
}

func TestTotalFeeIsExactSum(t *testing.T) {
	calc := newTestCalculator()
	amounts := []string{"0.1", "0.3", "0.7", "1", "1.1", "2.2", "3.3", "9.99", "10", "123.456789", "0.000000001"}
	pairs := [][2]string{{"solana", "polkadot"}, {"polkadot", "solana"}, {"solana", "ethereum"}, {"ethereum", "solana"}}

	for _, amount := range amounts {
		for _, pair := range pairs {
			details, err := calc.Calculate(context.Background(), types.CrossChainTransfer{
				SourceChain: pair[0],
				TargetChain: pair[1],
				Amount:      dec(amount),
			})
			require.NoError(t, err)

			sum := details.Fees.SourceChainFee.Add(details.Fees.BridgeFee).Add(details.Fees.TargetChainFee)
			assert.True(t, details.Fees.TotalFee.Equal(sum), "%s %s->%s", amount, pair[0], pair[1])
		}
	}
}

func TestBridgeFeeClamp(t *testing.T) {
	fees := DefaultFeeSchedule()

	tests := []struct {
		amount   string
		expected string
	}{
		{amount: "0.5", expected: "0.001"}, // below minimum
		{amount: "5", expected: "0.005"},   // proportional
		{amount: "10", expected: "0.01"},   // at maximum
		{amount: "1000", expected: "0.01"}, // above maximum
		{amount: "1.2345", expected: "0.0012345"},
	}

	for _, tt := range tests {
		got := fees.BridgeFee(dec(tt.amount))
		assert.True(t, got.Equal(dec(tt.expected)), "amount %s: got %s", tt.amount, got)
	}
}

func TestInverseRate(t *testing.T) {
	details, err := newTestCalculator().Calculate(context.Background(), types.CrossChainTransfer{
		SourceChain: "polkadot",
		TargetChain: "solana",
		Amount:      dec("250"),
	})
	require.NoError(t, err)

	assert.True(t, details.ExchangeRate.Equal(dec("0.004")), details.ExchangeRate.String())
	assert.True(t, details.TargetAmount.Equal(dec("1")), details.TargetAmount.String())
}

func TestExplicitTokens(t *testing.T) {
	details, err := newTestCalculator().Calculate(context.Background(), types.CrossChainTransfer{
		SourceChain: "solana",
		TargetChain: "ethereum",
		Amount:      dec("2"),
		TargetToken: "usdc",
	})
	require.NoError(t, err)

	assert.Equal(t, "USDC", details.TargetToken)
	assert.True(t, details.TargetAmount.Equal(dec("2000")))
	assert.Equal(t, 300, details.EstimatedTimeSeconds)
}

func TestExplicitTokenDecimals(t *testing.T) {
	details, err := newTestCalculator().Calculate(context.Background(), types.CrossChainTransfer{
		SourceChain: "solana",
		TargetChain: "ethereum",
		Amount:      dec("0.0000000015"),
		TargetToken: "USDC",
	})
	require.NoError(t, err)

	// USDC has 6 decimals, not the 18 of ether
	assert.True(t, details.TargetAmount.Equal(dec("0.000002")), details.TargetAmount.String())
	assert.True(t, details.MinTargetAmount.Equal(dec("0.000001")), details.MinTargetAmount.String())

	_, err = newTestCalculator().Calculate(context.Background(), types.CrossChainTransfer{
		SourceChain: "solana",
		TargetChain: "ethereum",
		Amount:      dec("1"),
		TargetToken: "DAI",
	})
	assert.ErrorIs(t, err, chains.ErrValidation)
}

func TestNativeToken(t *testing.T) {
	symbol, decimals, ok := newTestCalculator().NativeToken("polkadot")
	require.True(t, ok)
	assert.Equal(t, "DOT", symbol)
	assert.Equal(t, int32(10), decimals)

	_, _, ok = newTestCalculator().NativeToken("cosmos")
	assert.False(t, ok)
}

func TestEstimatedTimeDefault(t *testing.T) {
	assert.Equal(t, 300, newTestCalculator().EstimatedTime("ethereum", "polkadot"))
	assert.Equal(t, 180, newTestCalculator().EstimatedTime("solana", "polygon"))
}

func TestCalculateValidation(t *testing.T) {
	negative := dec("-1")
	tooHigh := dec("100.5")

	tests := []struct {
		name     string
		transfer types.CrossChainTransfer
		wantErr  error
	}{
		{
			name:     "zero amount",
			transfer: types.CrossChainTransfer{SourceChain: "solana", TargetChain: "polkadot", Amount: decimal.Zero},
			wantErr:  chains.ErrValidation,
		},
		{
			name:     "unknown pair",
			transfer: types.CrossChainTransfer{SourceChain: "solana", TargetChain: "polkadot", Amount: dec("1"), TargetToken: "XYZ"},
			wantErr:  chains.ErrValidation,
		},
		{
			name:     "unknown chain",
			transfer: types.CrossChainTransfer{SourceChain: "solana", TargetChain: "cosmos", Amount: dec("1")},
			wantErr:  chains.ErrUnsupportedChain,
		},
		{
			name:     "negative slippage",
			transfer: types.CrossChainTransfer{SourceChain: "solana", TargetChain: "polkadot", Amount: dec("1"), SlippageTolerancePercent: &negative},
			wantErr:  chains.ErrValidation,
		},
		{
			name:     "slippage above 100",
			transfer: types.CrossChainTransfer{SourceChain: "solana", TargetChain: "polkadot", Amount: dec("1"), SlippageTolerancePercent: &tooHigh},
			wantErr:  chains.ErrValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newTestCalculator().Calculate(context.Background(), tt.transfer)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestNewStaticRatesRejectsBadInput(t *testing.T) {
	_, err := NewStaticRates(map[string]string{"SOL/DOT": "abc"})
	assert.ErrorIs(t, err, chains.ErrValidation)

	_, err = NewStaticRates(map[string]string{"SOL/DOT": "0"})
	assert.ErrorIs(t, err, chains.ErrValidation)
}

func TestSameTokenRate(t *testing.T) {
	rate, err := DefaultRates().Rate(context.Background(), "eth", "ETH")
	require.NoError(t, err)
	assert.True(t, rate.Equal(decimal.NewFromInt(1)))
}
