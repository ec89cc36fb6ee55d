// Package fees computes the platform fee charged on top of a merchant's
// requested amount.
package fees

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/vybzcody/paymebro-sub003/internal/models"
)

var (
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrUnsupportedCurrency = errors.New("unsupported currency")
	ErrUnknownTier         = errors.New("unknown pricing tier")
)

const DefaultTier = "standard"

// Tier is a flat percentage plus a fixed fee per currency.
type Tier struct {
	Rate  decimal.Decimal
	Fixed map[models.Currency]decimal.Decimal
}

// StandardTier is 2.9% + 0.30 USDC (or 0.002 SOL).
func StandardTier() Tier {
	return Tier{
		Rate: decimal.RequireFromString("0.029"),
		Fixed: map[models.Currency]decimal.Decimal{
			models.CurrencyUSDC: decimal.RequireFromString("0.30"),
			models.CurrencySOL:  decimal.RequireFromString("0.002"),
		},
	}
}

// Calculator resolves pricing tiers by name.
type Calculator struct {
	tiers map[string]Tier
}

func NewCalculator(tiers map[string]Tier) *Calculator {
	c := &Calculator{tiers: make(map[string]Tier, len(tiers)+1)}
	for name, t := range tiers {
		c.tiers[name] = t
	}
	if _, ok := c.tiers[DefaultTier]; !ok {
		c.tiers[DefaultTier] = StandardTier()
	}
	return c
}

// HasTier reports whether name (empty means DefaultTier) is configured.
func (c *Calculator) HasTier(name string) bool {
	if name == "" {
		name = DefaultTier
	}
	_, ok := c.tiers[name]
	return ok
}

// Compute looks up the tier by name (empty means DefaultTier) and computes fees.
func (c *Calculator) Compute(amount decimal.Decimal, currency models.Currency, tierName string) (models.FeeBreakdown, error) {
	if tierName == "" {
		tierName = DefaultTier
	}
	tier, ok := c.tiers[tierName]
	if !ok {
		return models.FeeBreakdown{}, fmt.Errorf("%w: %s", ErrUnknownTier, tierName)
	}
	return ComputeFees(amount, currency, tier)
}

// ComputeFees returns the fee breakdown for amount. The customer pays the
// platform fee on top: merchantReceives is exactly amount.
func ComputeFees(amount decimal.Decimal, currency models.Currency, tier Tier) (models.FeeBreakdown, error) {
	if !currency.Valid() {
		return models.FeeBreakdown{}, fmt.Errorf("%w: %q", ErrUnsupportedCurrency, currency)
	}
	if !amount.IsPositive() {
		return models.FeeBreakdown{}, fmt.Errorf("%w: must be greater than zero", ErrInvalidAmount)
	}
	precision := currency.Precision()
	if !amount.Equal(amount.Truncate(precision)) {
		return models.FeeBreakdown{}, fmt.Errorf("%w: %s has more than %d decimals", ErrInvalidAmount, amount, precision)
	}

	// rounded once, at the end
	fee := amount.Mul(tier.Rate).Add(tier.Fixed[currency])
	fee = roundHalfUp(fee, precision)

	return models.FeeBreakdown{
		OriginalAmount:    amount,
		PlatformFee:       fee,
		MerchantReceives:  amount,
		TotalCustomerPays: amount.Add(fee),
	}, nil
}

// Fees are never negative, so rounding half away from zero is half-up.
func roundHalfUp(d decimal.Decimal, places int32) decimal.Decimal {
	return d.Round(places)
}
