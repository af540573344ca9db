package services

import "github.com/naeimDz/djazairi-invoice-maker-pro/internal/models"

// LineTotals are the derived amounts of one line item. Nothing is rounded.
type LineTotals struct {
	Item     models.LineItem
	PriceHT  float64
	TotalHT  float64
	TotalTTC float64
	Tax      float64
}

// Totals are the per-line and document amounts of an invoice.
type Totals struct {
	Lines      []LineTotals
	SubtotalHT float64
	Tax        float64
	TotalTTC   float64
}

// ComputeLine derives the amounts of one item.
// Under the inclusive policy the listed price already contains the tax and the
// tax-inclusive total is taken straight from it; otherwise the listed price is
// tax-exclusive. Hide computes exactly like show.
func ComputeLine(item models.LineItem, ratePercent float64, policy models.VATPolicy) LineTotals {
	factor := 1 + ratePercent/100
	lt := LineTotals{Item: item}
	if policy == models.VATInclusive {
		lt.PriceHT = item.Price / factor
		lt.TotalHT = lt.PriceHT * item.Quantity
		lt.TotalTTC = item.Price * item.Quantity
	} else {
		lt.PriceHT = item.Price
		lt.TotalHT = item.Price * item.Quantity
		lt.TotalTTC = lt.TotalHT * factor
	}
	lt.Tax = lt.TotalTTC - lt.TotalHT
	return lt
}

// ComputeTotals calculates HT, VAT and TTC for every line and sums them.
func ComputeTotals(items []models.LineItem, ratePercent float64, policy models.VATPolicy) Totals {
	t := Totals{Lines: make([]LineTotals, 0, len(items))}
	for _, item := range items {
		lt := ComputeLine(item, ratePercent, policy)
		t.Lines = append(t.Lines, lt)
		t.SubtotalHT += lt.TotalHT
		t.Tax += lt.Tax
		t.TotalTTC += lt.TotalTTC
	}
	return t
}

// ShowBreakdown reports whether the subtotal and tax rows are displayed.
// The grand total is always displayed.
func ShowBreakdown(policy models.VATPolicy, ratePercent float64) bool {
	return (policy == models.VATShow || policy == models.VATInclusive) && ratePercent > 0
}

// DraftTotals computes a draft's totals under the given settings.
func DraftTotals(d models.InvoiceDraft, s models.Settings) Totals {
	return ComputeTotals(d.Items, s.DefaultVATRate, s.VATBehavior)
}
