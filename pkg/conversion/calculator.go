// Package conversion prices cross-chain transfers: exchange rate, fee breakdown and settlement time.
// All arithmetic is decimal so fee components always add up exactly.
package conversion

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/sigweihq/simchain/pkg/chains"
	"github.com/sigweihq/simchain/pkg/constants"
	"github.com/sigweihq/simchain/pkg/types"
)

var hundred = decimal.NewFromInt(100)

// FeeSchedule holds the flat per-chain fees and the bridge fee parameters
type FeeSchedule struct {
	ChainFees   map[string]decimal.Decimal
	DefaultFee  decimal.Decimal
	BaseFeeRate decimal.Decimal
	MinFee      decimal.Decimal
	MaxFee      decimal.Decimal
}

// DefaultFeeSchedule returns the fee schedule from constants
func DefaultFeeSchedule() FeeSchedule {
	fees := make(map[string]decimal.Decimal, len(constants.ChainFees))
	for chain, fee := range constants.ChainFees {
		fees[chain] = decimal.RequireFromString(fee)
	}
	return FeeSchedule{
		ChainFees:   fees,
		DefaultFee:  decimal.RequireFromString(constants.DefaultChainFee),
		BaseFeeRate: decimal.RequireFromString(constants.BridgeBaseFeeRate),
		MinFee:      decimal.RequireFromString(constants.BridgeMinFee),
		MaxFee:      decimal.RequireFromString(constants.BridgeMaxFee),
	}
}

// ChainFee returns the flat fee charged on chain
func (f FeeSchedule) ChainFee(chain string) decimal.Decimal {
	if fee, ok := f.ChainFees[chain]; ok {
		return fee
	}
	return f.DefaultFee
}

// BridgeFee returns clamp(amount * BaseFeeRate, MinFee, MaxFee)
func (f FeeSchedule) BridgeFee(amount decimal.Decimal) decimal.Decimal {
	fee := amount.Mul(f.BaseFeeRate)
	if fee.LessThan(f.MinFee) {
		fee = f.MinFee
	}
	if fee.GreaterThan(f.MaxFee) {
		fee = f.MaxFee
	}
	return fee.Round(constants.BridgeFeePrecision)
}

// ChainInfo resolves the native token and decimals of a chain
type ChainInfo interface {
	NativeToken(chain string) (symbol string, decimals int32, ok bool)
}

// ChainInfoFunc adapts a function to ChainInfo
type ChainInfoFunc func(chain string) (string, int32, bool)

func (f ChainInfoFunc) NativeToken(chain string) (string, int32, bool) {
	return f(chain)
}

// Calculator computes ConversionDetails. It holds no mutable state.
type Calculator struct {
	rates          RateSource
	fees           FeeSchedule
	chains         ChainInfo
	estimatedTimes map[string]int
}

// NewCalculator creates a calculator. chainInfo resolves native tokens and decimals.
func NewCalculator(rates RateSource, fees FeeSchedule, chainInfo ChainInfo) *Calculator {
	return &Calculator{
		rates:          rates,
		fees:           fees,
		chains:         chainInfo,
		estimatedTimes: constants.EstimatedTimes,
	}
}

// Calculate prices transfer. It has no side effects beyond reading the rate source.
func (c *Calculator) Calculate(ctx context.Context, transfer types.CrossChainTransfer) (*types.ConversionDetails, error) {
	const op = "calculate"

	if !transfer.Amount.IsPositive() {
		return nil, chains.Errorf(chains.ErrValidation, "", op, "amount must be greater than zero")
	}
	slippage, err := SlippageTolerance(transfer.SlippageTolerancePercent)
	if err != nil {
		return nil, err
	}

	sourceToken, _, err := c.resolveToken(transfer.SourceChain, transfer.SourceToken)
	if err != nil {
		return nil, err
	}
	targetToken, targetDecimals, err := c.resolveToken(transfer.TargetChain, transfer.TargetToken)
	if err != nil {
		return nil, err
	}

	rate, err := c.rates.Rate(ctx, sourceToken, targetToken)
	if err != nil {
		return nil, err
	}

	targetAmount := transfer.Amount.Mul(rate).RoundBank(targetDecimals)
	minTargetAmount := targetAmount.Mul(hundred.Sub(slippage)).Div(hundred).RoundDown(targetDecimals)

	sourceChainFee := c.fees.ChainFee(transfer.SourceChain)
	targetChainFee := c.fees.ChainFee(transfer.TargetChain)
	bridgeFee := c.fees.BridgeFee(transfer.Amount)

	return &types.ConversionDetails{
		SourceToken:     sourceToken,
		TargetToken:     targetToken,
		ExchangeRate:    rate,
		SourceAmount:    transfer.Amount,
		TargetAmount:    targetAmount,
		MinTargetAmount: minTargetAmount,
		Fees: types.Fees{
			SourceChainFee: sourceChainFee,
			BridgeFee:      bridgeFee,
			TargetChainFee: targetChainFee,
			TotalFee:       sourceChainFee.Add(bridgeFee).Add(targetChainFee),
		},
		EstimatedTimeSeconds: c.EstimatedTime(transfer.SourceChain, transfer.TargetChain),
	}, nil
}

// EstimatedTime returns the expected settlement time between two chains in seconds
func (c *Calculator) EstimatedTime(sourceChain, targetChain string) int {
	if seconds, ok := c.estimatedTimes[sourceChain+"-"+targetChain]; ok {
		return seconds
	}
	return constants.DefaultEstimatedTimeSeconds
}

// NativeToken returns the native currency of chain and its decimals
func (c *Calculator) NativeToken(chain string) (string, int32, bool) {
	return c.chains.NativeToken(chain)
}

// resolveToken defaults an empty token to the chain's native currency.
// Other tokens take their decimals from constants.TokenDecimals.
func (c *Calculator) resolveToken(chain, token string) (string, int32, error) {
	symbol, decimals, ok := c.chains.NativeToken(chain)
	if !ok {
		return "", 0, chains.Errorf(chains.ErrUnsupportedChain, chain, "calculate", "unknown chain: %s", chain)
	}
	if token == "" || strings.EqualFold(token, symbol) {
		return strings.ToUpper(symbol), decimals, nil
	}
	token = strings.ToUpper(token)
	tokenDecimals, ok := constants.TokenDecimals[token]
	if !ok {
		return "", 0, chains.Errorf(chains.ErrValidation, chain, "calculate", "unknown token: %s", token)
	}
	return token, tokenDecimals, nil
}

// SlippageTolerance returns the tolerance in percent, defaulting to 0.5 when nil.
// Values outside [0, 100] are a ValidationError.
func SlippageTolerance(percent *decimal.Decimal) (decimal.Decimal, error) {
	if percent == nil {
		return decimal.RequireFromString(constants.DefaultSlippageTolerancePercent), nil
	}
	if percent.IsNegative() || percent.GreaterThan(hundred) {
		return decimal.Zero, chains.Errorf(chains.ErrValidation, "", "calculate", "slippage tolerance must be between 0 and 100 percent")
	}
	return *percent, nil
}
