package models

import (
	"encoding/json"
	"slices"
)

// NumberFormat controls digit grouping of formatted amounts.
type NumberFormat string

const (
	NumberFormatSpace NumberFormat = "space"
	NumberFormatComma NumberFormat = "comma"
	NumberFormatNone  NumberFormat = "none"
)

// CurrencyPlacement tells whether the currency label precedes or follows an amount.
type CurrencyPlacement string

const (
	CurrencyBefore CurrencyPlacement = "before"
	CurrencyAfter  CurrencyPlacement = "after"
)

// VATPolicy decides how listed prices are interpreted and which totals are displayed.
type VATPolicy string

const (
	VATShow      VATPolicy = "show"
	VATHide      VATPolicy = "hide"
	VATInclusive VATPolicy = "inclusive"
)

// LogoAlignment positions the logo on the rendered document.
type LogoAlignment string

const (
	LogoLeft   LogoAlignment = "left"
	LogoCenter LogoAlignment = "center"
	LogoRight  LogoAlignment = "right"
)

// RecentProduct is an entry of the settings product projection.
type RecentProduct struct {
	Name  string  `json:"name"`
	Price float64 `json:"price"`
}

// RecentClient is an entry of the settings client projection.
type RecentClient struct {
	Name    string `json:"name"`
	Address string `json:"address,omitempty"`
	Phone   string `json:"phone,omitempty"`
	NIF     string `json:"nif,omitempty"`
	RC      string `json:"rc,omitempty"`
}

// Settings is the installation-wide preference record.
// JSON names are the persisted format shared by the cache, the durable store and the remote document.
type Settings struct {
	DefaultLanguage   string            `json:"defaultLanguage" validate:"required,len=2"`
	DefaultVATRate    float64           `json:"defaultVatRate" validate:"gte=0"`
	DefaultFooter     string            `json:"defaultFooter"`
	NumberFormat      NumberFormat      `json:"numberFormat" validate:"oneof=space comma none"`
	CurrencyPlacement CurrencyPlacement `json:"currencyPlacement" validate:"oneof=before after"`
	VATBehavior       VATPolicy         `json:"vatBehavior" validate:"oneof=show hide inclusive"`

	// Logo is an image data URL.
	Logo          string        `json:"logo,omitempty"`
	LogoAlignment LogoAlignment `json:"logoAlignment" validate:"oneof=left center right"`

	BusinessName    string `json:"businessName"`
	BusinessAddress string `json:"businessAddress"`
	BusinessPhone   string `json:"businessPhone"`
	BusinessNIF     string `json:"businessNif"`
	BusinessRC      string `json:"businessRc"`
	BusinessBank    string `json:"businessBank"`

	RecentProductServices []RecentProduct `json:"recentProductServices"`
	RecentClients         []RecentClient  `json:"recentClients"`
}

// DefaultSettings returns a fresh value carrying every declared default.
func DefaultSettings() Settings {
	return Settings{
		DefaultLanguage:       "ar",
		DefaultVATRate:        19,
		NumberFormat:          NumberFormatSpace,
		CurrencyPlacement:     CurrencyAfter,
		VATBehavior:           VATShow,
		LogoAlignment:         LogoRight,
		RecentProductServices: []RecentProduct{},
		RecentClients:         []RecentClient{},
	}
}

// ParseSettings decodes raw on top of the defaults. Corrupt input yields the defaults and the decode error.
func ParseSettings(raw []byte) (Settings, error) {
	s := DefaultSettings()
	if len(raw) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(raw, &s); err != nil {
		return DefaultSettings(), err
	}
	return s.Normalize(), nil
}

// Normalize replaces unknown enum values and nil projections with defaults.
func (s Settings) Normalize() Settings {
	d := DefaultSettings()
	switch s.NumberFormat {
	case NumberFormatSpace, NumberFormatComma, NumberFormatNone:
	default:
		s.NumberFormat = d.NumberFormat
	}
	switch s.CurrencyPlacement {
	case CurrencyBefore, CurrencyAfter:
	default:
		s.CurrencyPlacement = d.CurrencyPlacement
	}
	switch s.VATBehavior {
	case VATShow, VATHide, VATInclusive:
	default:
		s.VATBehavior = d.VATBehavior
	}
	switch s.LogoAlignment {
	case LogoLeft, LogoCenter, LogoRight:
	default:
		s.LogoAlignment = d.LogoAlignment
	}
	if s.DefaultLanguage == "" {
		s.DefaultLanguage = d.DefaultLanguage
	}
	if s.DefaultVATRate < 0 {
		s.DefaultVATRate = d.DefaultVATRate
	}
	if s.RecentProductServices == nil {
		s.RecentProductServices = []RecentProduct{}
	}
	if s.RecentClients == nil {
		s.RecentClients = []RecentClient{}
	}
	return s
}

// Clone returns a deep copy.
func (s Settings) Clone() Settings {
	s.RecentProductServices = slices.Clone(s.RecentProductServices)
	s.RecentClients = slices.Clone(s.RecentClients)
	return s
}

// WithoutLogo returns a copy whose logo is dropped when longer than limit bytes.
func (s Settings) WithoutLogo(limit int) Settings {
	c := s.Clone()
	if len(c.Logo) > limit {
		c.Logo = ""
	}
	return c
}

// SettingsPatch is a partial update. Nil fields are left untouched.
type SettingsPatch struct {
	DefaultLanguage   *string            `json:"defaultLanguage,omitempty"`
	DefaultVATRate    *float64           `json:"defaultVatRate,omitempty"`
	DefaultFooter     *string            `json:"defaultFooter,omitempty"`
	NumberFormat      *NumberFormat      `json:"numberFormat,omitempty"`
	CurrencyPlacement *CurrencyPlacement `json:"currencyPlacement,omitempty"`
	VATBehavior       *VATPolicy         `json:"vatBehavior,omitempty"`
	Logo              *string            `json:"logo,omitempty"`
	LogoAlignment     *LogoAlignment     `json:"logoAlignment,omitempty"`

	BusinessName    *string `json:"businessName,omitempty"`
	BusinessAddress *string `json:"businessAddress,omitempty"`
	BusinessPhone   *string `json:"businessPhone,omitempty"`
	BusinessNIF     *string `json:"businessNif,omitempty"`
	BusinessRC      *string `json:"businessRc,omitempty"`
	BusinessBank    *string `json:"businessBank,omitempty"`

	RecentProductServices *[]RecentProduct `json:"recentProductServices,omitempty"`
	RecentClients         *[]RecentClient  `json:"recentClients,omitempty"`
}

// Apply returns s with every non-nil field of p applied.
func (p SettingsPatch) Apply(s Settings) Settings {
	s = s.Clone()
	if p.DefaultLanguage != nil {
		s.DefaultLanguage = *p.DefaultLanguage
	}
	if p.DefaultVATRate != nil {
		s.DefaultVATRate = *p.DefaultVATRate
	}
	if p.DefaultFooter != nil {
		s.DefaultFooter = *p.DefaultFooter
	}
	if p.NumberFormat != nil {
		s.NumberFormat = *p.NumberFormat
	}
	if p.CurrencyPlacement != nil {
		s.CurrencyPlacement = *p.CurrencyPlacement
	}
	if p.VATBehavior != nil {
		s.VATBehavior = *p.VATBehavior
	}
	if p.Logo != nil {
		s.Logo = *p.Logo
	}
	if p.LogoAlignment != nil {
		s.LogoAlignment = *p.LogoAlignment
	}
	if p.BusinessName != nil {
		s.BusinessName = *p.BusinessName
	}
	if p.BusinessAddress != nil {
		s.BusinessAddress = *p.BusinessAddress
	}
	if p.BusinessPhone != nil {
		s.BusinessPhone = *p.BusinessPhone
	}
	if p.BusinessNIF != nil {
		s.BusinessNIF = *p.BusinessNIF
	}
	if p.BusinessRC != nil {
		s.BusinessRC = *p.BusinessRC
	}
	if p.BusinessBank != nil {
		s.BusinessBank = *p.BusinessBank
	}
	if p.RecentProductServices != nil {
		s.RecentProductServices = slices.Clone(*p.RecentProductServices)
	}
	if p.RecentClients != nil {
		s.RecentClients = slices.Clone(*p.RecentClients)
	}
	return s
}

// Empty reports whether the patch changes nothing.
func (p SettingsPatch) Empty() bool {
	return p == SettingsPatch{}
}
