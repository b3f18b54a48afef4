package conversion

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/sigweihq/simchain/pkg/chains"
	"github.com/sigweihq/simchain/pkg/constants"
)

// RateSource quotes how many units of tokenB one unit of tokenA buys
type RateSource interface {
	Rate(ctx context.Context, tokenA, tokenB string) (decimal.Decimal, error)
}

// StaticRates is a fixed exchange rate table keyed by "A/B".
// A missing pair is answered with the inverse of "B/A" when that is known.
type StaticRates struct {
	rates map[string]decimal.Decimal
}

// Verify StaticRates implements RateSource
var _ RateSource = (*StaticRates)(nil)

// NewStaticRates builds a rate table from decimal strings keyed by "A/B"
func NewStaticRates(table map[string]string) (*StaticRates, error) {
	rates := make(map[string]decimal.Decimal, len(table))
	for pair, value := range table {
		rate, err := decimal.NewFromString(value)
		if err != nil {
			return nil, chains.Errorf(chains.ErrValidation, "", "rates", "invalid rate for %s: %v", pair, err)
		}
		if !rate.IsPositive() {
			return nil, chains.Errorf(chains.ErrValidation, "", "rates", "rate for %s must be positive", pair)
		}
		rates[strings.ToUpper(pair)] = rate
	}
	return &StaticRates{rates: rates}, nil
}

// DefaultRates returns the demo rate table from constants
func DefaultRates() *StaticRates {
	rates, err := NewStaticRates(constants.DemoRates)
	if err != nil {
		panic(err)
	}
	return rates
}

// Rate implements RateSource
func (s *StaticRates) Rate(ctx context.Context, tokenA, tokenB string) (decimal.Decimal, error) {
	a, b := strings.ToUpper(tokenA), strings.ToUpper(tokenB)
	if a == b {
		return decimal.NewFromInt(1), nil
	}
	if rate, ok := s.rates[a+"/"+b]; ok {
		return rate, nil
	}
	if inverse, ok := s.rates[b+"/"+a]; ok {
		return decimal.NewFromInt(1).DivRound(inverse, constants.RateDivisionPrecision), nil
	}
	return decimal.Zero, chains.Errorf(chains.ErrValidation, "", "rate", "no exchange rate for %s/%s", a, b)
}
