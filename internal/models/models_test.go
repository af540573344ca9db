package models

import (
	"testing"
	"time"
)

func TestParseSettings_Defaults(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{"empty", "", false},
		{"corrupt", "{not json", true},
		{"partial", `{"businessName":"Atlas"}`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := ParseSettings([]byte(tt.raw))
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseSettings() err = %v, wantErr %v", err, tt.wantErr)
			}
			if s.DefaultLanguage != "ar" || s.DefaultVATRate != 19 {
				t.Errorf("defaults not applied: %+v", s)
			}
			if s.NumberFormat != NumberFormatSpace || s.CurrencyPlacement != CurrencyAfter || s.VATBehavior != VATShow {
				t.Errorf("enum defaults not applied: %+v", s)
			}
			if s.RecentClients == nil || s.RecentProductServices == nil {
				t.Errorf("projections must never be nil")
			}
		})
	}
}

func TestParseSettings_KeepsStoredFields(t *testing.T) {
	s, err := ParseSettings([]byte(`{"businessName":"Atlas","defaultVatRate":9,"numberFormat":"weird"}`))
	if err != nil {
		t.Fatalf("ParseSettings() err = %v", err)
	}
	if s.BusinessName != "Atlas" || s.DefaultVATRate != 9 {
		t.Errorf("stored fields lost: %+v", s)
	}
	if s.NumberFormat != NumberFormatSpace {
		t.Errorf("NumberFormat = %q, want normalized space", s.NumberFormat)
	}
}

func TestSettingsPatch_Apply(t *testing.T) {
	base := DefaultSettings()
	base.BusinessName = "Atlas"
	base.BusinessPhone = "0555"

	got := SettingsPatch{BusinessPhone: Ptr("0666"), VATBehavior: Ptr(VATInclusive)}.Apply(base)

	if got.BusinessName != "Atlas" {
		t.Errorf("BusinessName = %q, want untouched Atlas", got.BusinessName)
	}
	if got.BusinessPhone != "0666" || got.VATBehavior != VATInclusive {
		t.Errorf("patch not applied: %+v", got)
	}
	if base.BusinessPhone != "0555" {
		t.Errorf("Apply mutated its input")
	}
	if !(SettingsPatch{}).Empty() {
		t.Errorf("zero patch should be empty")
	}
}

func TestSettings_WithoutLogo(t *testing.T) {
	s := DefaultSettings()
	s.Logo = "data:image/png;base64,AAAA"
	if got := s.WithoutLogo(1000); got.Logo != s.Logo {
		t.Errorf("small logo should be kept")
	}
	if got := s.WithoutLogo(5); got.Logo != "" {
		t.Errorf("large logo should be dropped")
	}
	if s.Logo == "" {
		t.Errorf("WithoutLogo mutated its receiver")
	}
}

func TestInvoiceDraft_RemoveItem(t *testing.T) {
	d := NewDraft("s1", "fr", time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC))
	only := d.Items[0].ID

	d.RemoveItem(only)
	if len(d.Items) != 1 {
		t.Fatalf("len(Items) = %d, want 1", len(d.Items))
	}
	blank := d.Items[0]
	if blank.ID == only || blank.Description != "" || blank.Quantity != 1 || blank.Price != 0 {
		t.Errorf("expected a fresh blank item, got %+v", blank)
	}

	d.Items = append(d.Items, LineItem{ID: "b", Quantity: 2}, LineItem{ID: "c", Quantity: 3})
	d.RemoveItem("b")
	if len(d.Items) != 2 {
		t.Fatalf("len(Items) = %d, want 2", len(d.Items))
	}
	for _, it := range d.Items {
		if it.ID == "b" {
			t.Errorf("item b still present")
		}
	}
}

func TestInvoiceDraft_Duplicate(t *testing.T) {
	tests := []struct {
		name   string
		number string
		want   string
	}{
		{"numbered", "F-2025-001", "F-2025-001-COPY"},
		{"unnumbered", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDraft("s1", "ar", time.Now())
			d.InvoiceNumber = tt.number
			d.Status = InvoiceStatusPaid
			d.CustomerName = "Sonatrach"

			c := d.Duplicate("s2")
			if c.SessionID != "s2" || c.InvoiceNumber != tt.want || !c.IsDraft() {
				t.Errorf("Duplicate() = %+v", c)
			}
			if c.CustomerName != "Sonatrach" {
				t.Errorf("customer should be copied")
			}
			if !d.IsPaid() {
				t.Errorf("Duplicate mutated the original")
			}
		})
	}
}

func TestNormalizeName(t *testing.T) {
	tests := map[string]string{
		"  Consulting  ":     "Consulting",
		"Web   design\tpack": "Web design pack",
		"":                   "",
		"Câble RJ45":         "Câble RJ45",
	}
	for in, want := range tests {
		if got := NormalizeName(in); got != want {
			t.Errorf("NormalizeName(%q) = %q, want %q", in, got, want)
		}
	}
}
