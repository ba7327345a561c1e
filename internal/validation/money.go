package validation

import (
	"fmt"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// FormatAmount renders amount in currency, e.g. "$1,234.50".
// Unknown currencies fall back to a plain two-decimal figure.
func FormatAmount(amount float64, currency string) string {
	m := toMoney(amount, currency)
	if m == nil {
		return fmt.Sprintf("%.2f %s", amount, currency)
	}
	return m.Display()
}

// FormatSignedAmount is FormatAmount with an explicit sign for positive values.
func FormatSignedAmount(amount float64, currency string) string {
	s := FormatAmount(amount, currency)
	if amount > 0 {
		return "+" + s
	}
	return s
}

func toMoney(amount float64, currency string) *money.Money {
	cur := money.GetCurrency(currency)
	if cur == nil {
		return nil
	}

	// Minor units, rounded half away from zero
	factor, _ := decimal.NewFromInt(10).PowInt32(int32(cur.Fraction))
	minor := decimal.NewFromFloat(amount).Mul(factor).Round(0)
	return money.New(minor.IntPart(), cur.Code)
}
