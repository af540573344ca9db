package models

import "strings"

// ProductRecord is a product/service remembered for autocomplete and price auto-fill.
type ProductRecord struct {
	Name      string  `json:"name"`
	Price     float64 `json:"price"`
	UpdatedAt int64   `json:"updatedAt"`
}

// ClientRecord is a customer remembered for autocomplete.
type ClientRecord struct {
	Name      string `json:"name"`
	Address   string `json:"address,omitempty"`
	Phone     string `json:"phone,omitempty"`
	NIF       string `json:"nif,omitempty"`
	RC        string `json:"rc,omitempty"`
	UpdatedAt int64  `json:"updatedAt"`
}

// LastCustomer is the side-channel record behind "recall last customer".
type LastCustomer struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

// NormalizeName is the history key rule for products and clients:
// surrounding whitespace trimmed, inner runs collapsed, case preserved.
func NormalizeName(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
