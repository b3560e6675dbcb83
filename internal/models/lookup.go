package models

import (
	"encoding/json"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Field is one labelled value of a lookup row, in display order.
type Field struct {
	Key   string
	Value any
}

// Sale is a card machine sale made to a merchant.
type Sale struct {
	IDSale      int64  `json:"id_sale" yaml:"id_sale"`
	MerchantID  int64  `json:"merchant_id" yaml:"merchant_id"`
	ChipID      int64  `json:"chip_id" yaml:"chip_id"`
	CreatedAt   string `json:"created_at" yaml:"created_at"`
	Status      string `json:"status" yaml:"status"`
	Description string `json:"description" yaml:"description"`
}

// Fields lists the sale columns shown to customers.
func (s *Sale) Fields() []Field {
	return []Field{
		{"id_sale", s.IDSale},
		{"merchant_id", s.MerchantID},
		{"chip_id", s.ChipID},
		{"created_at", s.CreatedAt},
		{"status", s.Status},
		{"description", s.Description},
	}
}

// Transaction is a payment that went through a card machine.
type Transaction struct {
	TransactionID int64   `json:"transaction_id" yaml:"transaction_id"`
	MerchantID    int64   `json:"merchant_id" yaml:"merchant_id"`
	CreatedAt     string  `json:"created_at" yaml:"created_at"`
	Value         float64 `json:"value" yaml:"value"`
}

// Fields lists the transaction columns shown to customers.
func (t *Transaction) Fields() []Field {
	return []Field{
		{"transaction_id", t.TransactionID},
		{"merchant_id", t.MerchantID},
		{"created_at", t.CreatedAt},
		{"value", t.Value},
	}
}

// Receipt is a transfer to a merchant's bank account.
type Receipt struct {
	MerchantID  int64   `json:"merchant_id" yaml:"merchant_id"`
	CreatedAt   string  `json:"created_at" yaml:"created_at"`
	Status      string  `json:"status" yaml:"status"`
	Description string  `json:"description" yaml:"description"`
	Value       float64 `json:"value" yaml:"value"`
}

// Fields lists the receipt columns shown to customers.
func (r *Receipt) Fields() []Field {
	return []Field{
		{"merchant_id", r.MerchantID},
		{"created_at", r.CreatedAt},
		{"status", r.Status},
		{"description", r.Description},
		{"value", r.Value},
	}
}

// Fielder is implemented by every lookup row.
type Fielder interface {
	Fields() []Field
}

// Truthy reports whether a field value should be displayed. Zero numbers,
// empty strings and nil are skipped.
func Truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return t != ""
	case int:
		return t != 0
	case int64:
		return t != 0
	case float64:
		return t != 0
	case bool:
		return t
	case json.Number:
		f, err := t.Float64()
		return err != nil || f != 0
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	default:
		return true
	}
}

// Label turns a column or JSON key such as "merchant_id" into "Merchant Id".
func Label(key string) string {
	// Casers hold state and cannot be shared between goroutines.
	return cases.Title(language.Und).String(strings.ReplaceAll(key, "_", " "))
}
