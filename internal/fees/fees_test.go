package fees_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/vybzcody/paymebro-sub003/internal/fees"
	"github.com/vybzcody/paymebro-sub003/internal/models"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestComputeFeesStandardUSDC(t *testing.T) {
	fb, err := fees.ComputeFees(dec("10.00"), models.CurrencyUSDC, fees.StandardTier())
	require.NoError(t, err)

	require.True(t, fb.PlatformFee.Equal(dec("0.59")), "fee %s", fb.PlatformFee)
	require.True(t, fb.TotalCustomerPays.Equal(dec("10.59")), "total %s", fb.TotalCustomerPays)
	require.True(t, fb.MerchantReceives.Equal(dec("10")))
	require.True(t, fb.OriginalAmount.Equal(dec("10")))
}

func TestComputeFeesInvariant(t *testing.T) {
	amounts := map[models.Currency][]string{
		models.CurrencyUSDC: {"0.01", "0.5", "1.25", "5", "99.99", "12345.67"},
		models.CurrencySOL:  {"0.000001", "0.1", "1.5", "3.333333", "250"},
	}
	for cur, list := range amounts {
		for _, a := range list {
			fb, err := fees.ComputeFees(dec(a), cur, fees.StandardTier())
			require.NoError(t, err)
			require.True(t, fb.MerchantReceives.Equal(dec(a)))
			require.True(t, fb.TotalCustomerPays.Equal(dec(a).Add(fb.PlatformFee)))
			require.True(t, fb.PlatformFee.Equal(fb.PlatformFee.Round(cur.Precision())))
		}
	}
}

func TestComputeFeesRoundsHalfUp(t *testing.T) {
	// 5 * 0.029 + 0.30 = 0.445
	fb, err := fees.ComputeFees(dec("5"), models.CurrencyUSDC, fees.StandardTier())
	require.NoError(t, err)
	require.True(t, fb.PlatformFee.Equal(dec("0.45")), "fee %s", fb.PlatformFee)
}

func TestComputeFeesRoundsOnce(t *testing.T) {
	tier := fees.Tier{
		Rate:  dec("0.025"),
		Fixed: map[models.Currency]decimal.Decimal{models.CurrencyUSDC: dec("0.005")},
	}
	// 0.025 + 0.005 = 0.03; rounding each term first would give 0.04.
	fb, err := fees.ComputeFees(dec("1.00"), models.CurrencyUSDC, tier)
	require.NoError(t, err)
	require.True(t, fb.PlatformFee.Equal(dec("0.03")), "fee %s", fb.PlatformFee)
}

func TestComputeFeesSOL(t *testing.T) {
	fb, err := fees.ComputeFees(dec("1.5"), models.CurrencySOL, fees.StandardTier())
	require.NoError(t, err)
	require.True(t, fb.PlatformFee.Equal(dec("0.0455")), "fee %s", fb.PlatformFee)
	require.True(t, fb.TotalCustomerPays.Equal(dec("1.5455")))
}

func TestComputeFeesErrors(t *testing.T) {
	tests := map[string]struct {
		amount   string
		currency models.Currency
		want     error
	}{
		"zero":            {"0", models.CurrencyUSDC, fees.ErrInvalidAmount},
		"negative":        {"-1", models.CurrencyUSDC, fees.ErrInvalidAmount},
		"too precise":     {"1.005", models.CurrencyUSDC, fees.ErrInvalidAmount},
		"unknown coin":    {"1", models.Currency("BTC"), fees.ErrUnsupportedCurrency},
		"sol too precise": {"0.0000001", models.CurrencySOL, fees.ErrInvalidAmount},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := fees.ComputeFees(dec(tc.amount), tc.currency, fees.StandardTier())
			require.ErrorIs(t, err, tc.want)
		})
	}
}


func TestCalculatorTiers(t *testing.T) {
	c := fees.NewCalculator(map[string]fees.Tier{
		"growth": {
			Rate:  dec("0.01"),
			Fixed: map[models.Currency]decimal.Decimal{models.CurrencyUSDC: dec("0.10")},
		},
	})

	fb, err := c.Compute(dec("10"), models.CurrencyUSDC, "growth")
	require.NoError(t, err)
	require.True(t, fb.PlatformFee.Equal(dec("0.2")))

	fb, err = c.Compute(dec("10"), models.CurrencyUSDC, "")
	require.NoError(t, err)
	require.True(t, fb.PlatformFee.Equal(dec("0.59")))

	_, err = c.Compute(dec("10"), models.CurrencyUSDC, "enterprise")
	require.ErrorIs(t, err, fees.ErrUnknownTier)

	require.True(t, c.HasTier("growth"))
	require.True(t, c.HasTier(""))
	require.False(t, c.HasTier("enterprise"))
}
