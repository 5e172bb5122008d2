// Package instagram wraps the Graph API operations the dispatch pipeline
// needs: direct messages (optionally with call-to-action buttons), private
// replies to comments, public comment replies, media listing, profile lookup
// and OAuth token exchange. Response bodies are size-limited and truncated
// into error strings; callers decide what to do with a failed attempt.
package instagram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"
	"unicode/utf8"

	"golang.org/x/time/rate"
)

const (
	DefaultHost    = "https://graph.instagram.com"
	AltHost        = "https://graph.facebook.com"
	DefaultVersion = "v18.0"

	// Button payload limits enforced by the platform.
	MaxButtons       = 3
	ButtonTitleLimit = 20
	BodySplitLimit   = 80
)

type Client struct {
	HTTP    *http.Client
	Limiter *rate.Limiter
	Host    string
	AltHost string
	Version string
	Logger  *log.Logger
}

func New() *Client {
	return &Client{
		HTTP:    &http.Client{Timeout: 10 * time.Second},
		Limiter: rate.NewLimiter(rate.Limit(5), 10),
		Host:    DefaultHost,
		AltHost: AltHost,
		Version: DefaultVersion,
	}
}

func (c *Client) ensureDefaults() {
	if c.HTTP == nil {
		c.HTTP = &http.Client{Timeout: 10 * time.Second}
	}
	if c.Host == "" {
		c.Host = DefaultHost
	}
	if c.AltHost == "" {
		c.AltHost = AltHost
	}
	if c.Version == "" {
		c.Version = DefaultVersion
	}
	if c.Logger == nil {
		c.Logger = log.Default()
	}
}

// APIError carries the HTTP status of a failed Graph call so callers can
// distinguish 400-class rejections (fallback-worthy) from transport errors.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("graph_non_2xx status=%d body=%s", e.Status, truncate(e.Body, 600))
}

func (e *APIError) IsClientError() bool { return e.Status >= 400 && e.Status < 500 }

type Button struct {
	Title string
	URL   string
}

// SendText sends a plain-text direct message. senderID is the business
// account id, or "me" for the account-token fallback endpoint.
func (c *Client) SendText(ctx context.Context, senderID, token, recipientID, text string) error {
	payload := map[string]any{
		"recipient": map[string]any{"id": recipientID},
		"message":   map[string]any{"text": text},
	}
	return c.postMessages(ctx, c.Host, senderID, token, payload)
}

// SendButtons sends a generic-template message with up to MaxButtons
// call-to-action buttons. The body is split between title and subtitle at
// BodySplitLimit characters; button titles are truncated to ButtonTitleLimit.
func (c *Client) SendButtons(ctx context.Context, senderID, token, recipientID, text string, buttons []Button) error {
	if len(buttons) > MaxButtons {
		buttons = buttons[:MaxButtons]
	}
	btns := make([]map[string]any, 0, len(buttons))
	for _, b := range buttons {
		title := b.Title
		if title == "" {
			title = "Open link"
		}
		btns = append(btns, map[string]any{
			"type":  "web_url",
			"url":   b.URL,
			"title": truncate(title, ButtonTitleLimit),
		})
	}

	title, subtitle := splitBody(text, BodySplitLimit)
	element := map[string]any{
		"title":   title,
		"buttons": btns,
	}
	if subtitle != "" {
		element["subtitle"] = subtitle
	}
	payload := map[string]any{
		"recipient": map[string]any{"id": recipientID},
		"message": map[string]any{
			"attachment": map[string]any{
				"type": "template",
				"payload": map[string]any{
					"template_type": "generic",
					"elements":      []any{element},
				},
			},
		},
	}
	return c.postMessages(ctx, c.Host, senderID, token, payload)
}

// SendPrivateReply sends a private reply addressed by comment id. This is the
// only addressing handle for comment authors, so there is no DM fallback.
func (c *Client) SendPrivateReply(ctx context.Context, senderID, token, commentID, text string) error {
	payload := map[string]any{
		"recipient": map[string]any{"comment_id": commentID},
		"message":   map[string]any{"text": text},
	}
	return c.postMessages(ctx, c.Host, senderID, token, payload)
}

// ReplyToComment posts a public reply under a comment. A 400-class rejection
// from the primary host is retried once against the alternate Graph host.
func (c *Client) ReplyToComment(ctx context.Context, token, commentID, text string) error {
	err := c.postReplies(ctx, c.Host, token, commentID, text)
	if err == nil {
		return nil
	}
	var apiErr *APIError
	if asAPIError(err, &apiErr) && apiErr.IsClientError() {
		c.ensureDefaults()
		c.Logger.Printf("[IGClient] comment reply 4xx on primary host, retrying alt host commentId=%s status=%d", commentID, apiErr.Status)
		return c.postReplies(ctx, c.AltHost, token, commentID, text)
	}
	return err
}

type Profile struct {
	ID          string `json:"id"`
	UserID      string `json:"user_id"`
	Username    string `json:"username"`
	AccountType string `json:"account_type"`
}

// GetProfile fetches the profile behind a token.
func (c *Client) GetProfile(ctx context.Context, token string) (Profile, error) {
	c.ensureDefaults()
	u := fmt.Sprintf("%s/%s/me?fields=user_id,username,account_type&access_token=%s",
		c.Host, c.Version, url.QueryEscape(token))
	body, err := c.get(ctx, u)
	if err != nil {
		return Profile{}, err
	}
	var p Profile
	if err := json.Unmarshal(body, &p); err != nil {
		return Profile{}, err
	}
	if p.UserID == "" {
		p.UserID = p.ID
	}
	return p, nil
}

func (c *Client) postMessages(ctx context.Context, host, senderID, token string, payload map[string]any) error {
	c.ensureDefaults()
	endpoint := fmt.Sprintf("%s/%s/%s/messages?access_token=%s",
		host, c.Version, url.PathEscape(senderID), url.QueryEscape(token))
	return c.postJSON(ctx, endpoint, payload)
}

func (c *Client) postReplies(ctx context.Context, host, token, commentID, text string) error {
	c.ensureDefaults()
	form := url.Values{}
	form.Set("message", text)
	form.Set("access_token", token)
	endpoint := fmt.Sprintf("%s/%s/%s/replies", host, c.Version, url.PathEscape(commentID))

	if err := c.wait(ctx); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, "POST", endpoint, bytes.NewBufferString(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	_, err = c.do(req)
	return err
}

func (c *Client) postJSON(ctx context.Context, endpoint string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if err := c.wait(ctx); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, "POST", endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	_, err = c.do(req)
	return err
}

func (c *Client) get(ctx context.Context, endpoint string) ([]byte, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	res, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return body, &APIError{Status: res.StatusCode, Body: string(body)}
	}
	return body, nil
}

func (c *Client) wait(ctx context.Context) error {
	if c.Limiter == nil {
		return nil
	}
	return c.Limiter.Wait(ctx)
}

func asAPIError(err error, target **APIError) bool {
	if e, ok := err.(*APIError); ok {
		*target = e
		return true
	}
	return false
}

// splitBody breaks text at limit, preferring a space boundary, so the
// remainder lands in the subtitle instead of being cut off. Cuts never land
// inside a multi-byte rune.
func splitBody(text string, limit int) (string, string) {
	if len(text) <= limit {
		return text, ""
	}
	cut := limit
	for i := limit; i > limit/2; i-- {
		if text[i-1] == ' ' {
			cut = i - 1
			break
		}
	}
	cut = runeBoundary(text, cut)
	title := text[:cut]
	rest := text[cut:]
	if len(rest) > 0 && rest[0] == ' ' {
		rest = rest[1:]
	}
	return title, truncate(rest, limit)
}

// truncate cuts s to at most n bytes on a rune boundary.
func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	return s[:runeBoundary(s, n)]
}

// runeBoundary walks n back until s[:n] ends on a complete rune.
func runeBoundary(s string, n int) int {
	for n > 0 && n < len(s) && !utf8.RuneStart(s[n]) {
		n--
	}
	return n
}
