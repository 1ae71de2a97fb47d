package canonical

import "github.com/shopspring/decimal"

type Totals struct {
	Subtotal decimal.Decimal `json:"subtotal"`
	Tax      decimal.Decimal `json:"tax"`
	Total    decimal.Decimal `json:"total"`
}

// ComputeTotals applies the import tax policy: tax = max(total - subtotal, 0);
// a missing subtotal defaults to the total (zero inferred tax).
func ComputeTotals(subtotal *decimal.Decimal, total decimal.Decimal) Totals {
	sub := total
	if subtotal != nil {
		sub = *subtotal
	}
	tax := total.Sub(sub)
	if tax.IsNegative() {
		tax = decimal.Zero
	}
	return Totals{Subtotal: sub, Tax: tax, Total: total}
}

// Consistent reports whether total == subtotal + tax within eps.
func (t Totals) Consistent(eps decimal.Decimal) bool {
	return t.Total.Sub(t.Subtotal.Add(t.Tax)).Abs().LessThanOrEqual(eps)
}

// SumLines adds up line totals.
func SumLines(lines []Line) decimal.Decimal {
	sum := decimal.Zero
	for _, l := range lines {
		sum = sum.Add(l.Total)
	}
	return sum
}
