package instagram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Token is the result of a code exchange or refresh. ExpiresAt is derived
// from expires_in at call time; short-lived exchanges report no expiry.
type Token struct {
	AccessToken string
	UserID      string
	ExpiresAt   *time.Time
}

// OAuthHost is the code-exchange endpoint host; overridable in tests.
var OAuthHost = "https://api.instagram.com"

// ExchangeCode trades an OAuth authorization code for a short-lived token.
func (c *Client) ExchangeCode(ctx context.Context, appID, appSecret, redirectURI, code string) (Token, error) {
	c.ensureDefaults()
	form := url.Values{}
	form.Set("client_id", appID)
	form.Set("client_secret", appSecret)
	form.Set("grant_type", "authorization_code")
	form.Set("redirect_uri", redirectURI)
	form.Set("code", code)

	if err := c.wait(ctx); err != nil {
		return Token{}, err
	}
	req, err := http.NewRequestWithContext(ctx, "POST", OAuthHost+"/oauth/access_token", strings.NewReader(form.Encode()))
	if err != nil {
		return Token{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	body, err := c.do(req)
	if err != nil {
		return Token{}, err
	}

	var parsed struct {
		AccessToken string `json:"access_token"`
		UserID      any    `json:"user_id"` // number or string depending on API version
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber() // keep large numeric ids out of float64 scientific notation
	if err := dec.Decode(&parsed); err != nil {
		return Token{}, err
	}
	if parsed.AccessToken == "" {
		return Token{}, fmt.Errorf("oauth_missing_access_token body=%s", truncate(string(body), 300))
	}
	userID := ""
	if parsed.UserID != nil {
		userID = fmt.Sprint(parsed.UserID)
	}
	return Token{AccessToken: parsed.AccessToken, UserID: userID}, nil
}

// ExchangeLongLived trades a short-lived token for a long-lived one
// (~60 days).
func (c *Client) ExchangeLongLived(ctx context.Context, appSecret, shortToken string) (Token, error) {
	c.ensureDefaults()
	u := fmt.Sprintf("%s/access_token?grant_type=ig_exchange_token&client_secret=%s&access_token=%s",
		c.Host, url.QueryEscape(appSecret), url.QueryEscape(shortToken))
	return c.tokenGet(ctx, u)
}

// RefreshLongLived extends a long-lived token before it expires.
func (c *Client) RefreshLongLived(ctx context.Context, token string) (Token, error) {
	c.ensureDefaults()
	u := fmt.Sprintf("%s/refresh_access_token?grant_type=ig_refresh_token&access_token=%s",
		c.Host, url.QueryEscape(token))
	return c.tokenGet(ctx, u)
}

func (c *Client) tokenGet(ctx context.Context, endpoint string) (Token, error) {
	body, err := c.get(ctx, endpoint)
	if err != nil {
		return Token{}, err
	}
	var parsed struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Token{}, err
	}
	if parsed.AccessToken == "" {
		return Token{}, fmt.Errorf("oauth_missing_access_token body=%s", truncate(string(body), 300))
	}
	tok := Token{AccessToken: parsed.AccessToken}
	if parsed.ExpiresIn > 0 {
		exp := time.Now().Add(time.Duration(parsed.ExpiresIn) * time.Second).UTC()
		tok.ExpiresAt = &exp
	}
	return tok, nil
}
