package fusion

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/klingon-exchange/xrpfusion/internal/swap"
)

// Fees are fractions of the source amount.
type Fees struct {
	Network           decimal.Decimal
	Protocol          decimal.Decimal
	ResolverIncentive decimal.Decimal
}

// Configuration holds order policy.
type Configuration struct {
	DefaultTimelock time.Duration
	SafetyMargin    time.Duration
	MinimumAmount   map[swap.Direction]decimal.Decimal
	Fees            Fees

	// RateTolerance is the largest accepted relative deviation between the
	// implied and the market rate.
	RateTolerance decimal.Decimal

	ResolverWait        time.Duration
	MatchPollInterval   time.Duration
	SwapTimeoutHours    int
	EstimatedCompletion time.Duration
}

// DefaultConfiguration returns the production order policy.
func DefaultConfiguration() *Configuration {
	return &Configuration{
		DefaultTimelock: 7200 * time.Second,
		SafetyMargin:    1800 * time.Second,
		MinimumAmount: map[swap.Direction]decimal.Decimal{
			swap.ETHToXRP: decimal.RequireFromString("0.01"),
			swap.XRPToETH: decimal.RequireFromString("50"),
		},
		Fees: Fees{
			Network:           decimal.RequireFromString("0.001"),
			Protocol:          decimal.RequireFromString("0.0025"),
			ResolverIncentive: decimal.RequireFromString("0.001"),
		},
		RateTolerance:       decimal.RequireFromString("0.05"),
		ResolverWait:        5 * time.Minute,
		MatchPollInterval:   5 * time.Second,
		SwapTimeoutHours:    swap.DefaultTimeoutHours,
		EstimatedCompletion: 5 * time.Minute,
	}
}

func (f Fees) quote(amount, priority decimal.Decimal) FeeQuote {
	q := FeeQuote{
		Network:           amount.Mul(f.Network),
		Protocol:          amount.Mul(f.Protocol),
		ResolverIncentive: amount.Mul(f.ResolverIncentive),
		Priority:          priority,
	}
	q.Total = q.Network.Add(q.Protocol).Add(q.ResolverIncentive).Add(q.Priority)
	return q
}
