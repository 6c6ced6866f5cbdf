// Package quickbooks talks to Intuit OAuth and the QuickBooks Online accounting API.
package quickbooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

const (
	defaultAuthURL   = "https://appcenter.intuit.com/connect/oauth2"
	defaultTokenURL  = "https://oauth.platform.intuit.com/oauth2/v1/tokens/bearer"
	defaultRevokeURL = "https://developer.api.intuit.com/v2/oauth2/tokens/revoke"

	ScopeAccounting = "com.intuit.quickbooks.accounting"
)

type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// Endpoint overrides, empty for Intuit's production endpoints.
	AuthURL   string
	TokenURL  string
	RevokeURL string
}

type OAuth struct {
	cfg        *oauth2.Config
	revokeURL  string
	httpClient *http.Client
}

func NewOAuth(c OAuthConfig) *OAuth {
	authURL := c.AuthURL
	if authURL == "" {
		authURL = defaultAuthURL
	}
	tokenURL := c.TokenURL
	if tokenURL == "" {
		tokenURL = defaultTokenURL
	}
	revokeURL := c.RevokeURL
	if revokeURL == "" {
		revokeURL = defaultRevokeURL
	}
	return &OAuth{
		cfg: &oauth2.Config{
			ClientID:     c.ClientID,
			ClientSecret: c.ClientSecret,
			RedirectURL:  c.RedirectURL,
			Scopes:       []string{ScopeAccounting},
			Endpoint: oauth2.Endpoint{
				AuthURL:   authURL,
				TokenURL:  tokenURL,
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		},
		revokeURL:  revokeURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// AuthCodeURL is where the user is sent to grant access.
func (o *OAuth) AuthCodeURL(state string) string {
	return o.cfg.AuthCodeURL(state)
}

func (o *OAuth) ctx(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, o.httpClient)
}

// Exchange trades the callback code for tokens.
func (o *OAuth) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	tok, err := o.cfg.Exchange(o.ctx(ctx), code)
	if err != nil {
		return nil, fmt.Errorf("quickbooks token exchange: %w", err)
	}
	return tok, nil
}

// Refresh returns tok when still valid, otherwise a rotated token. Intuit
// rotates refresh tokens, so callers must persist the result.
func (o *OAuth) Refresh(ctx context.Context, tok *oauth2.Token) (*oauth2.Token, error) {
	fresh, err := o.cfg.TokenSource(o.ctx(ctx), tok).Token()
	if err != nil {
		return nil, fmt.Errorf("quickbooks token refresh: %w", err)
	}
	return fresh, nil
}

// HTTPClient returns a client that authorizes requests with tok.
func (o *OAuth) HTTPClient(ctx context.Context, tok *oauth2.Token) *http.Client {
	return oauth2.NewClient(o.ctx(ctx), oauth2.StaticTokenSource(tok))
}

// Revoke invalidates a refresh or access token at Intuit.
func (o *OAuth) Revoke(ctx context.Context, token string) error {
	body, err := json.Marshal(map[string]string{"token": token})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.revokeURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.SetBasicAuth(o.cfg.ClientID, o.cfg.ClientSecret)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	res, err := o.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("quickbooks revoke: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 1024))
		return fmt.Errorf("quickbooks revoke: http %d: %s", res.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}
