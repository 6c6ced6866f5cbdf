package quickbooks

import (
	"encoding/json"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"github.com/Jasonlaceyyy8638/my-silent-app-sub000/app/models"
)

var (
	ErrNoAmount         = errors.New("document has no amounts to bill")
	ErrNoExpenseAccount = errors.New("no expense account found")
)

const (
	expenseLineDetail = "AccountBasedExpenseLineDetail"
	maxDocNumberLen   = 21
	maxDescriptionLen = 4000
)

type Ref struct {
	Value string `json:"value"`
	Name  string `json:"name,omitempty"`
}

type Vendor struct {
	ID          string `json:"Id,omitempty"`
	SyncToken   string `json:"SyncToken,omitempty"`
	DisplayName string `json:"DisplayName"`
}

type Account struct {
	ID          string `json:"Id"`
	Name        string `json:"Name"`
	AccountType string `json:"AccountType"`
}

type Bill struct {
	ID          string      `json:"Id,omitempty"`
	VendorRef   Ref         `json:"VendorRef"`
	TxnDate     string      `json:"TxnDate,omitempty"`
	DocNumber   string      `json:"DocNumber,omitempty"`
	PrivateNote string      `json:"PrivateNote,omitempty"`
	Line        []BillLine  `json:"Line"`
	TotalAmt    json.Number `json:"TotalAmt,omitempty"`
}

type BillLine struct {
	DetailType                    string            `json:"DetailType"`
	Amount                        json.Number       `json:"Amount"`
	Description                   string            `json:"Description,omitempty"`
	AccountBasedExpenseLineDetail AccountLineDetail `json:"AccountBasedExpenseLineDetail"`
}

type AccountLineDetail struct {
	AccountRef Ref `json:"AccountRef"`
}

func money(d decimal.Decimal) json.Number {
	return json.Number(d.StringFixed(2))
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// BuildBill maps extracted fields onto a Bill. Every line item with an
// amount becomes an expense line; with none, the total becomes one line.
func BuildBill(f models.ExtractedFields, vendorID, accountID, note string) (Bill, error) {
	account := AccountLineDetail{AccountRef: Ref{Value: accountID}}
	bill := Bill{
		VendorRef:   Ref{Value: vendorID},
		TxnDate:     f.InvoiceDate,
		DocNumber:   truncate(strings.TrimSpace(f.InvoiceNumber), maxDocNumberLen),
		PrivateNote: note,
	}

	for _, li := range f.LineItems {
		if !li.Amount.Valid || li.Amount.Decimal.IsZero() {
			continue
		}
		bill.Line = append(bill.Line, BillLine{
			DetailType:                    expenseLineDetail,
			Amount:                        money(li.Amount.Decimal),
			Description:                   truncate(li.Description, maxDescriptionLen),
			AccountBasedExpenseLineDetail: account,
		})
	}

	if len(bill.Line) == 0 {
		if !f.TotalAmount.Valid || f.TotalAmount.Decimal.IsZero() {
			return Bill{}, ErrNoAmount
		}
		desc := "Invoice"
		if f.InvoiceNumber != "" {
			desc += " " + f.InvoiceNumber
		}
		bill.Line = []BillLine{{
			DetailType:                    expenseLineDetail,
			Amount:                        money(f.TotalAmount.Decimal),
			Description:                   desc,
			AccountBasedExpenseLineDetail: account,
		}}
	}
	return bill, nil
}
