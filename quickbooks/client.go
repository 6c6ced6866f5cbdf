package quickbooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	SandboxBaseURL    = "https://sandbox-quickbooks.api.intuit.com"
	ProductionBaseURL = "https://quickbooks.api.intuit.com"

	minorVersion = "73"
)

// BaseURL maps an environment name to the accounting API host.
func BaseURL(environment string) string {
	if strings.EqualFold(environment, "production") {
		return ProductionBaseURL
	}
	return SandboxBaseURL
}

// APIError is a non-2xx answer from the accounting API.
type APIError struct {
	Status  int
	Type    string
	Code    string
	Message string
	Detail  string
}

func (e *APIError) Error() string {
	msg := e.Message
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	return fmt.Sprintf("quickbooks %d %s", e.Status, msg)
}

type faultBody struct {
	Fault struct {
		Type  string `json:"type"`
		Error []struct {
			Message string `json:"Message"`
			Detail  string `json:"Detail"`
			Code    string `json:"code"`
		} `json:"Error"`
	} `json:"Fault"`
}

// CallFunc observes every API call, e.g. for audit logging.
type CallFunc func(operation string, took time.Duration, err error)

type Client struct {
	baseURL string
	realmID string
	httpc   *http.Client
	onCall  CallFunc
}

// NewClient expects an httpClient that already authorizes requests, such
// as the one returned by OAuth.HTTPClient.
func NewClient(httpClient *http.Client, baseURL, realmID string, onCall CallFunc) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		realmID: realmID,
		httpc:   httpClient,
		onCall:  onCall,
	}
}

func (c *Client) do(ctx context.Context, operation, method, path string, query url.Values, in, out any) (err error) {
	start := time.Now()
	defer func() {
		if c.onCall != nil {
			c.onCall(operation, time.Since(start), err)
		}
	}()

	if query == nil {
		query = url.Values{}
	}
	query.Set("minorversion", minorVersion)
	u := fmt.Sprintf("%s/v3/company/%s%s?%s", c.baseURL, url.PathEscape(c.realmID), path, query.Encode())

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("quickbooks %s: %w", operation, err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return err
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		apiErr := &APIError{Status: res.StatusCode}
		var fault faultBody
		if json.Unmarshal(raw, &fault) == nil && len(fault.Fault.Error) > 0 {
			apiErr.Type = fault.Fault.Type
			apiErr.Code = fault.Fault.Error[0].Code
			apiErr.Message = fault.Fault.Error[0].Message
			apiErr.Detail = fault.Fault.Error[0].Detail
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("quickbooks %s: decode: %w", operation, err)
	}
	return nil
}

// query runs a QuickBooks SQL-like query and decodes the QueryResponse.
func (c *Client) query(ctx context.Context, operation, q string, out any) error {
	return c.do(ctx, operation, http.MethodGet, "/query", url.Values{"query": {q}}, nil, out)
}

// quoteLiteral escapes a value for use inside a query string literal.
func quoteLiteral(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return "'" + strings.ReplaceAll(s, "'", `\'`) + "'"
}

func (c *Client) FindVendor(ctx context.Context, displayName string) (*Vendor, error) {
	var resp struct {
		QueryResponse struct {
			Vendor []Vendor `json:"Vendor"`
		} `json:"QueryResponse"`
	}
	q := "select * from Vendor where DisplayName = " + quoteLiteral(displayName)
	if err := c.query(ctx, "vendor.query", q, &resp); err != nil {
		return nil, err
	}
	if len(resp.QueryResponse.Vendor) == 0 {
		return nil, nil
	}
	v := resp.QueryResponse.Vendor[0]
	return &v, nil
}

func (c *Client) CreateVendor(ctx context.Context, displayName string) (*Vendor, error) {
	var resp struct {
		Vendor Vendor `json:"Vendor"`
	}
	if err := c.do(ctx, "vendor.create", http.MethodPost, "/vendor", nil, Vendor{DisplayName: displayName}, &resp); err != nil {
		return nil, err
	}
	return &resp.Vendor, nil
}

// EnsureVendor looks the vendor up by display name and creates it if missing.
func (c *Client) EnsureVendor(ctx context.Context, displayName string) (Vendor, bool, error) {
	v, err := c.FindVendor(ctx, displayName)
	if err != nil {
		return Vendor{}, false, err
	}
	if v != nil {
		return *v, false, nil
	}
	v, err = c.CreateVendor(ctx, displayName)
	if err != nil {
		return Vendor{}, false, err
	}
	return *v, true, nil
}

// FirstExpenseAccount returns the first active account of type Expense.
func (c *Client) FirstExpenseAccount(ctx context.Context) (*Account, error) {
	var resp struct {
		QueryResponse struct {
			Account []Account `json:"Account"`
		} `json:"QueryResponse"`
	}
	q := "select * from Account where AccountType = 'Expense' and Active = true maxresults 1"
	if err := c.query(ctx, "account.query", q, &resp); err != nil {
		return nil, err
	}
	if len(resp.QueryResponse.Account) == 0 {
		return nil, ErrNoExpenseAccount
	}
	a := resp.QueryResponse.Account[0]
	return &a, nil
}

func (c *Client) CreateBill(ctx context.Context, bill Bill) (*Bill, error) {
	var resp struct {
		Bill Bill `json:"Bill"`
	}
	if err := c.do(ctx, "bill.create", http.MethodPost, "/bill", nil, bill, &resp); err != nil {
		return nil, err
	}
	return &resp.Bill, nil
}
