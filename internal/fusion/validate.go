package fusion

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/klingon-exchange/xrpfusion/internal/hashlock"
	"github.com/klingon-exchange/xrpfusion/internal/swap"
	"github.com/klingon-exchange/xrpfusion/pkg/helpers"
)

var (
	ethAddressRe = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)
	xrpAddressRe = regexp.MustCompile(`^r[1-9A-HJ-NP-Za-km-z]{25,34}$`)
)

// IsETHAddress reports whether s is a 0x prefixed 20 byte hex address.
func IsETHAddress(s string) bool { return ethAddressRe.MatchString(s) }

// IsXRPAddress reports whether s is a classic XRP Ledger address.
func IsXRPAddress(s string) bool { return xrpAddressRe.MatchString(s) }

// ImpliedRate returns the XRP-per-ETH rate for ETH_to_XRP and the
// ETH-per-XRP rate for XRP_to_ETH.
func ImpliedRate(dir swap.Direction, source, target decimal.Decimal) decimal.Decimal {
	if dir == swap.ETHToXRP {
		return target.Div(source)
	}
	return source.Div(target)
}

// validate checks amounts, the user address against the source chain and the
// implied rate against the oracle. Nothing is created when it fails.
func (m *Manager) validate(ctx context.Context, dir swap.Direction, sourceAmount, targetAmount, userAddress string, opts *Options) (decimal.Decimal, decimal.Decimal, error) {
	if _, err := swap.ParseDirection(string(dir)); err != nil {
		return decimal.Zero, decimal.Zero, validationErr("Direction invalide: %s", dir)
	}

	source, err := helpers.ParseAmount(sourceAmount)
	if err != nil {
		return decimal.Zero, decimal.Zero, validationErr("Montant source invalide: %s", sourceAmount)
	}
	target, err := helpers.ParseAmount(targetAmount)
	if err != nil || !target.IsPositive() {
		return decimal.Zero, decimal.Zero, validationErr("Montant cible invalide: %s", targetAmount)
	}

	// Amounts must be expressible in drops and wei.
	srcChain, dstChain := dir.Chains()
	if _, err := baseUnits(srcChain, source); err != nil {
		return decimal.Zero, decimal.Zero, validationErr("Montant source invalide: %s", sourceAmount)
	}
	if _, err := baseUnits(dstChain, target); err != nil {
		return decimal.Zero, decimal.Zero, validationErr("Montant cible invalide: %s", targetAmount)
	}

	if opts != nil && opts.CustomTimelock != 0 {
		d := time.Duration(opts.CustomTimelock) * time.Second
		limit := time.Duration(m.cfg.SwapTimeoutHours) * time.Hour
		if d <= hashlock.PreparationBuffer || (limit > 0 && d+m.cfg.SafetyMargin > limit) {
			return decimal.Zero, decimal.Zero, validationErr("Timelock personnalisé invalide: %ds", opts.CustomTimelock)
		}
	}

	minimum := m.cfg.MinimumAmount[dir]
	if source.LessThan(minimum) {
		asset := strings.SplitN(string(dir), "_", 2)[0]
		return decimal.Zero, decimal.Zero, validationErr("Montant minimum requis: %s %s", minimum.String(), asset)
	}

	if dir == swap.ETHToXRP {
		if !IsETHAddress(userAddress) {
			return decimal.Zero, decimal.Zero, validationErr("Adresse Ethereum invalide")
		}
	} else if !IsXRPAddress(userAddress) {
		return decimal.Zero, decimal.Zero, validationErr("Adresse XRP invalide")
	}

	market, err := m.oracle.CurrentRate(ctx, dir)
	if err != nil {
		return decimal.Zero, decimal.Zero, validationErr("Erreur de validation: %v", err)
	}
	if !market.IsPositive() {
		return decimal.Zero, decimal.Zero, validationErr("Erreur de validation: taux de marché indisponible")
	}

	tolerance := m.cfg.RateTolerance
	if opts != nil && opts.SlippageTolerance > 0 {
		tolerance = decimal.NewFromFloat(opts.SlippageTolerance)
	}
	diff := ImpliedRate(dir, source, target).Sub(market).Abs().Div(market)
	if diff.GreaterThan(tolerance) {
		return decimal.Zero, decimal.Zero, validationErr("Taux de change trop éloigné du marché (différence: %s%%)",
			diff.Mul(decimal.NewFromInt(100)).StringFixed(2))
	}

	return source, target, nil
}

func checkReceiver(dir swap.Direction, receiver string) error {
	if receiver == "" {
		return nil
	}
	// The receiver gets paid on the destination chain.
	if dir == swap.ETHToXRP && !IsXRPAddress(receiver) {
		return validationErr("Adresse XRP invalide")
	}
	if dir == swap.XRPToETH && !IsETHAddress(receiver) {
		return validationErr("Adresse Ethereum invalide")
	}
	return nil
}

func describe(dir swap.Direction, source, target decimal.Decimal) string {
	src, dst := dir.Chains()
	return fmt.Sprintf("%s %s -> %s %s", source, src.Asset(), target, dst.Asset())
}
