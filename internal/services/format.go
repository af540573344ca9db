package services

import (
	"strings"
	"time"

	"github.com/naeimDz/djazairi-invoice-maker-pro/i18n"
	"github.com/naeimDz/djazairi-invoice-maker-pro/internal/models"
	"github.com/shopspring/decimal"
)

// Localizer supplies document strings and reading direction per language.
type Localizer interface {
	T(lang, code string) string
	Dir(lang string) i18n.Direction
}

// Formatter renders amounts and dates for one document language.
type Formatter struct {
	Lang      string
	Grouping  models.NumberFormat
	Placement models.CurrencyPlacement
	// Currency overrides the localized currency label when set.
	Currency string
	loc      Localizer
}

// NewFormatter takes grouping and placement from s. A nil loc uses the embedded catalogs.
func NewFormatter(s models.Settings, lang string, loc Localizer) Formatter {
	if loc == nil {
		loc = i18n.Default()
	}
	return Formatter{Lang: lang, Grouping: s.NumberFormat, Placement: s.CurrencyPlacement, loc: loc}
}

// Number rounds v to two decimals and groups thousands.
// Grouping by comma switches the decimal mark to a dot so the two never collide.
func (f Formatter) Number(v float64) string {
	fixed := decimal.NewFromFloat(v).Round(2).StringFixed(2)
	sign := ""
	if strings.HasPrefix(fixed, "-") {
		sign, fixed = "-", fixed[1:]
	}
	intPart, frac, _ := strings.Cut(fixed, ".")
	if sign == "-" && strings.Trim(intPart+frac, "0") == "" {
		sign = ""
	}

	sep, mark := " ", ","
	switch f.Grouping {
	case models.NumberFormatComma:
		sep, mark = ",", "."
	case models.NumberFormatNone:
		sep = ""
	}

	var b strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteString(sep)
		}
		b.WriteRune(r)
	}
	return sign + b.String() + mark + frac
}

// Amount is Number with the currency label placed per settings.
func (f Formatter) Amount(v float64) string {
	label := f.Currency
	if label == "" {
		label = f.loc.T(f.Lang, "currency")
	}
	if f.Placement == models.CurrencyBefore {
		return label + " " + f.Number(v)
	}
	return f.Number(v) + " " + label
}

// Date renders a YYYY-MM-DD date as DD/MM/YYYY, or the "unspecified" label.
func (f Formatter) Date(iso string) string {
	d, err := time.Parse(models.DateLayout, iso)
	if err != nil {
		return f.loc.T(f.Lang, "unspecified")
	}
	return d.Format("02/01/2006")
}

// Direction is the reading direction of the document language.
func (f Formatter) Direction() i18n.Direction {
	return f.loc.Dir(f.Lang)
}

// Label translates a document string.
func (f Formatter) Label(code string) string {
	return f.loc.T(f.Lang, code)
}

// Summary is the display-ready totals block of a document.
type Summary struct {
	Subtotal      string
	Tax           string
	Total         string
	ShowBreakdown bool
	Direction     i18n.Direction
}

// Summarize formats the document totals under the display policy.
func (f Formatter) Summarize(t Totals, policy models.VATPolicy, ratePercent float64) Summary {
	s := Summary{
		Total:         f.Amount(t.TotalTTC),
		ShowBreakdown: ShowBreakdown(policy, ratePercent),
		Direction:     f.Direction(),
	}
	if s.ShowBreakdown {
		s.Subtotal = f.Amount(t.SubtotalHT)
		s.Tax = f.Amount(t.Tax)
	}
	return s
}
