package extractor

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Jasonlaceyyy8638/my-silent-app-sub000/app/models"
)

// rawFields mirrors the JSON object the model is asked to return. Values
// are decoded loosely because models mix numbers and formatted strings.
type rawFields struct {
	VendorName    string          `json:"vendor_name"`
	TotalAmount   json.RawMessage `json:"total_amount"`
	Currency      string          `json:"currency"`
	InvoiceDate   string          `json:"invoice_date"`
	InvoiceNumber json.RawMessage `json:"invoice_number"`
	LineItems     []rawLineItem   `json:"line_items"`
}

type rawLineItem struct {
	Description string          `json:"description"`
	Quantity    json.RawMessage `json:"quantity"`
	UnitPrice   json.RawMessage `json:"unit_price"`
	Amount      json.RawMessage `json:"amount"`
}

var (
	reAmountNoise = regexp.MustCompile(`[^0-9.\-]`)
	reCurrency    = regexp.MustCompile(`^[A-Za-z]{3}$`)
)

// maxAmount is the largest value a NUMERIC(12,2) column holds.
var maxAmount = decimal.RequireFromString("9999999999.99")

var currencySymbols = map[string]string{
	"$": "USD",
	"€": "EUR",
	"£": "GBP",
	"¥": "JPY",
}

var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"01/02/2006",
	"1/2/2006",
	"01-02-2006",
	"02.01.2006",
	"January 2, 2006",
	"Jan 2, 2006",
	"2 January 2006",
	"2 Jan 2006",
	"2006-01-02T15:04:05Z07:00",
}

// ParseFields decodes the model's JSON answer into normalised fields.
func ParseFields(content string) (models.ExtractedFields, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")

	var raw rawFields
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &raw); err != nil {
		return models.ExtractedFields{}, fmt.Errorf("decode model output: %w", err)
	}

	out := models.ExtractedFields{
		VendorName:    strings.TrimSpace(raw.VendorName),
		TotalAmount:   parseAmount(raw.TotalAmount),
		Currency:      normalizeCurrency(raw.Currency, raw.TotalAmount),
		InvoiceDate:   normalizeDate(raw.InvoiceDate),
		InvoiceNumber: rawString(raw.InvoiceNumber),
		LineItems:     []models.LineItem{},
	}

	for _, li := range raw.LineItems {
		item := models.LineItem{
			Description: strings.TrimSpace(li.Description),
			Quantity:    parseAmount(li.Quantity),
			UnitPrice:   parseAmount(li.UnitPrice),
			Amount:      parseAmount(li.Amount),
		}
		if !item.Amount.Valid && item.Quantity.Valid && item.UnitPrice.Valid {
			item.Amount = decimal.NullDecimal{
				Decimal: item.Quantity.Decimal.Mul(item.UnitPrice.Decimal).Round(2),
				Valid:   true,
			}
		}
		if item.Description == "" && !item.Amount.Valid {
			continue
		}
		out.LineItems = append(out.LineItems, item)
	}

	return out, nil
}

// parseAmount accepts JSON numbers and strings such as "$1,234.50" or
// "(12.00)". Anything unparseable is treated as missing.
func parseAmount(raw json.RawMessage) decimal.NullDecimal {
	s := rawString(raw)
	if s == "" {
		return decimal.NullDecimal{}
	}
	// plain literals first, so exponent forms like 1.5e3 survive
	if d, err := decimal.NewFromString(s); err == nil {
		return boundedAmount(d)
	}
	negative := strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")")
	s = reAmountNoise.ReplaceAllString(s, "")
	if s == "" || s == "." || s == "-" {
		return decimal.NullDecimal{}
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.NullDecimal{}
	}
	if negative {
		d = d.Neg()
	}
	return boundedAmount(d)
}

// boundedAmount drops values that cannot be stored as money.
func boundedAmount(d decimal.Decimal) decimal.NullDecimal {
	if d.Abs().Round(2).GreaterThan(maxAmount) {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: d, Valid: true}
}

// rawString unwraps a JSON string or returns a bare literal as text.
func rawString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	lit := strings.TrimSpace(string(raw))
	if lit == "null" {
		return ""
	}
	return lit
}

func normalizeCurrency(code string, total json.RawMessage) string {
	code = strings.TrimSpace(code)
	if reCurrency.MatchString(code) {
		return strings.ToUpper(code)
	}
	if iso, ok := currencySymbols[code]; ok {
		return iso
	}
	s := rawString(total)
	for sym, iso := range currencySymbols {
		if strings.Contains(s, sym) {
			return iso
		}
	}
	return ""
}

// normalizeDate returns YYYY-MM-DD, or "" when the value is not a date.
func normalizeDate(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("2006-01-02")
		}
	}
	return ""
}
