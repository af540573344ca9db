package models

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

// InvoiceStatus represents the lifecycle status of a draft.
// Any status may be set at any time.
type InvoiceStatus string

const (
	InvoiceStatusDraft InvoiceStatus = "draft"
	InvoiceStatusSent  InvoiceStatus = "sent"
	InvoiceStatusPaid  InvoiceStatus = "paid"
)

// Valid reports whether st is a known status.
func (st InvoiceStatus) Valid() bool {
	switch st {
	case InvoiceStatusDraft, InvoiceStatusSent, InvoiceStatusPaid:
		return true
	}
	return false
}

// DateLayout is the calendar date format of InvoiceDraft.InvoiceDate.
const DateLayout = "2006-01-02"

// CopySuffix is appended to the invoice number of a duplicated draft.
const CopySuffix = "-COPY"

// LineItem represents a line on an invoice.
type LineItem struct {
	ID          string  `json:"id"`
	Description string  `json:"description"`
	Quantity    float64 `json:"quantity"`
	Price       float64 `json:"price"`
}

// NewLineItem returns a blank item with a fresh id.
func NewLineItem() LineItem {
	return LineItem{ID: uuid.NewString(), Quantity: 1}
}

// LineItemPatch is a partial item update. Nil fields are left untouched.
type LineItemPatch struct {
	Description *string
	Quantity    *float64
	Price       *float64
}

// Apply returns item with every non-nil field of p applied.
func (p LineItemPatch) Apply(item LineItem) LineItem {
	if p.Description != nil {
		item.Description = *p.Description
	}
	if p.Quantity != nil {
		item.Quantity = *p.Quantity
	}
	if p.Price != nil {
		item.Price = *p.Price
	}
	return item
}

// InvoiceDraft is the working state of one invoice document.
type InvoiceDraft struct {
	SessionID       string        `json:"sessionId"`
	InvoiceNumber   string        `json:"invoiceNumber"`
	InvoiceDate     string        `json:"invoiceDate"`
	CustomerName    string        `json:"customerName"`
	CustomerAddress string        `json:"customerAddress"`
	InvoiceLang     string        `json:"invoiceLang"`
	Status          InvoiceStatus `json:"status"`
	Items           []LineItem    `json:"items"`

	// Settings is the snapshot taken at the last save, without an oversized logo.
	Settings *Settings `json:"settings,omitempty"`
}

// NewDraft returns a blank draft for sessionID dated today.
func NewDraft(sessionID, lang string, now time.Time) InvoiceDraft {
	return InvoiceDraft{
		SessionID:   sessionID,
		InvoiceDate: now.Format(DateLayout),
		InvoiceLang: lang,
		Status:      InvoiceStatusDraft,
		Items:       []LineItem{NewLineItem()},
	}
}

// Clone returns a deep copy.
func (d InvoiceDraft) Clone() InvoiceDraft {
	d.Items = slices.Clone(d.Items)
	if d.Settings != nil {
		s := d.Settings.Clone()
		d.Settings = &s
	}
	return d
}

// Normalize fills fields a stored draft may lack.
func (d InvoiceDraft) Normalize(fallbackLang string, now time.Time) InvoiceDraft {
	if d.InvoiceDate == "" {
		d.InvoiceDate = now.Format(DateLayout)
	}
	if d.InvoiceLang == "" {
		d.InvoiceLang = fallbackLang
	}
	if !d.Status.Valid() {
		d.Status = InvoiceStatusDraft
	}
	if len(d.Items) == 0 {
		d.Items = []LineItem{NewLineItem()}
	}
	return d
}

// IsDraft returns true if the invoice is in draft status.
func (d *InvoiceDraft) IsDraft() bool {
	return d.Status == InvoiceStatusDraft
}

// IsPaid returns true if the invoice has been paid.
func (d *InvoiceDraft) IsPaid() bool {
	return d.Status == InvoiceStatusPaid
}

// RemoveItem drops the item with the given id.
// Removing the only item leaves a single blank item.
func (d *InvoiceDraft) RemoveItem(id string) {
	if len(d.Items) <= 1 {
		d.Items = []LineItem{NewLineItem()}
		return
	}
	d.Items = slices.DeleteFunc(slices.Clone(d.Items), func(it LineItem) bool { return it.ID == id })
	if len(d.Items) == 0 {
		d.Items = []LineItem{NewLineItem()}
	}
}

// Duplicate returns a copy under newSessionID, reset to draft, with the copy marker appended.
func (d InvoiceDraft) Duplicate(newSessionID string) InvoiceDraft {
	c := d.Clone()
	c.SessionID = newSessionID
	c.Status = InvoiceStatusDraft
	if c.InvoiceNumber != "" {
		c.InvoiceNumber += CopySuffix
	}
	return c
}

// Ptr returns a pointer to v. Handy for building patches.
func Ptr[T any](v T) *T { return &v }
