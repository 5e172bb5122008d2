package instagram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"
)

func newTestClient(host string) *Client {
	return &Client{
		HTTP:    http.DefaultClient,
		Host:    host,
		AltHost: host,
		Version: "v18.0",
	}
}

func TestSendText_PostsMessagePayload(t *testing.T) {
	var gotPath string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Write([]byte(`{"message_id":"m1"}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	if err := c.SendText(context.Background(), "biz1", "tok", "r1", "hello"); err != nil {
		t.Fatalf("SendText: %v", err)
	}
	if gotPath != "/v18.0/biz1/messages" {
		t.Fatalf("unexpected path %q", gotPath)
	}
	msg := gotBody["message"].(map[string]any)
	if msg["text"] != "hello" {
		t.Fatalf("unexpected message %v", gotBody)
	}
}

func TestSendButtons_CapsAndTruncates(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	buttons := []Button{
		{Title: "A title definitely longer than twenty chars", URL: "https://a"},
		{Title: "B", URL: "https://b"},
		{Title: "C", URL: "https://c"},
		{Title: "D", URL: "https://d"},
	}
	if err := c.SendButtons(context.Background(), "me", "tok", "r1", "body", buttons); err != nil {
		t.Fatalf("SendButtons: %v", err)
	}

	payload := gotBody["message"].(map[string]any)["attachment"].(map[string]any)["payload"].(map[string]any)
	element := payload["elements"].([]any)[0].(map[string]any)
	btns := element["buttons"].([]any)
	if len(btns) != MaxButtons {
		t.Fatalf("expected %d buttons got %d", MaxButtons, len(btns))
	}
	first := btns[0].(map[string]any)
	if len(first["title"].(string)) > ButtonTitleLimit {
		t.Fatalf("button title not truncated: %q", first["title"])
	}
}

func TestReplyToComment_AltHostRetryOn4xx(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":{"message":"nope"}}`))
			return
		}
		w.Write([]byte(`{"id":"reply1"}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	if err := c.ReplyToComment(context.Background(), "tok", "c1", "public reply"); err != nil {
		t.Fatalf("expected alt-host retry to succeed, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls (primary + alt), got %d", calls)
	}
}

func TestReplyToComment_NoRetryOn5xx(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	err := c.ReplyToComment(context.Background(), "tok", "c1", "text")
	if err == nil {
		t.Fatalf("expected error")
	}
	if calls != 1 {
		t.Fatalf("5xx must not trigger the alt host, got %d calls", calls)
	}
	apiErr, ok := err.(*APIError)
	if !ok || apiErr.Status != http.StatusInternalServerError {
		t.Fatalf("expected APIError 500, got %v", err)
	}
}

func TestGetProfile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.RawQuery, "fields=user_id,username,account_type") {
			t.Errorf("missing fields param: %s", r.URL.RawQuery)
		}
		w.Write([]byte(`{"id":"123","username":"alice","account_type":"BUSINESS"}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	p, err := c.GetProfile(context.Background(), "tok")
	if err != nil {
		t.Fatalf("GetProfile: %v", err)
	}
	if p.Username != "alice" {
		t.Fatalf("unexpected profile %+v", p)
	}
	// user_id falls back to id when the API omits it.
	if p.UserID != "123" {
		t.Fatalf("expected user id fallback, got %+v", p)
	}
}

func TestFetchRecentMedia_Pagination(t *testing.T) {
	page := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page++
		if page == 1 {
			w.Write([]byte(`{"data":[{"id":"m1"},{"id":"m2"}],"paging":{"cursors":{"after":"cur2"}}}`))
			return
		}
		if got := r.URL.Query().Get("after"); got != "cur2" {
			t.Errorf("expected after=cur2 got %q", got)
		}
		w.Write([]byte(`{"data":[{"id":"m3"}]}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	items, err := c.FetchRecentMedia(context.Background(), "biz1", "tok", 10)
	if err != nil {
		t.Fatalf("FetchRecentMedia: %v", err)
	}
	if len(items) != 3 || items[2].ID != "m3" {
		t.Fatalf("unexpected items %+v", items)
	}
}

func TestSplitBody(t *testing.T) {
	title, subtitle := splitBody("short", 80)
	if title != "short" || subtitle != "" {
		t.Fatalf("short text should not split: %q %q", title, subtitle)
	}

	long := strings.Repeat("word ", 30) // 150 chars
	title, subtitle = splitBody(long, 80)
	if len(title) > 80 {
		t.Fatalf("title too long: %d", len(title))
	}
	if strings.HasSuffix(title, " ") || strings.HasPrefix(subtitle, " ") {
		t.Fatalf("split left stray spaces: %q | %q", title, subtitle)
	}
}

func TestSplitBody_MultibyteStaysValidUTF8(t *testing.T) {
	// No spaces anywhere, so the cut falls on the byte limit; it must back
	// off to a rune boundary instead of splitting a character.
	text := strings.Repeat("漢", 40) // 120 bytes
	title, subtitle := splitBody(text, 80)
	if !utf8.ValidString(title) || !utf8.ValidString(subtitle) {
		t.Fatalf("split produced invalid utf-8: %q | %q", title, subtitle)
	}
	if len(title) > 80 || len(subtitle) > 80 {
		t.Fatalf("parts exceed limit: %d, %d", len(title), len(subtitle))
	}
	if title+strings.Repeat("漢", 40-utf8.RuneCountInString(title)) != text {
		t.Fatalf("title is not a rune prefix of the input: %q", title)
	}
}

func TestTruncate_RuneBoundary(t *testing.T) {
	if got := truncate("héllo", 2); !utf8.ValidString(got) || got != "h" {
		t.Fatalf("expected cut before the split rune, got %q", got)
	}
	if got := truncate("plain", 10); got != "plain" {
		t.Fatalf("short strings pass through, got %q", got)
	}
	if got := truncate(strings.Repeat("漢", 5), 7); got != strings.Repeat("漢", 2) {
		t.Fatalf("expected two whole runes, got %q", got)
	}
}

func TestExchangeCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if r.FormValue("grant_type") != "authorization_code" {
			t.Errorf("unexpected grant_type %q", r.FormValue("grant_type"))
		}
		w.Write([]byte(`{"access_token":"short_tok","user_id":17841400000000000}`))
	}))
	defer srv.Close()

	old := OAuthHost
	OAuthHost = srv.URL
	defer func() { OAuthHost = old }()

	c := newTestClient(srv.URL)
	tok, err := c.ExchangeCode(context.Background(), "app", "secret", "https://cb", "thecode")
	if err != nil {
		t.Fatalf("ExchangeCode: %v", err)
	}
	if tok.AccessToken != "short_tok" {
		t.Fatalf("unexpected token %+v", tok)
	}
	if tok.UserID != "17841400000000000" {
		t.Fatalf("numeric user_id should round-trip losslessly, got %+v", tok)
	}
}

func TestExchangeCode_MissingUserID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"access_token":"short_tok"}`))
	}))
	defer srv.Close()

	old := OAuthHost
	OAuthHost = srv.URL
	defer func() { OAuthHost = old }()

	c := newTestClient(srv.URL)
	tok, err := c.ExchangeCode(context.Background(), "app", "secret", "https://cb", "thecode")
	if err != nil {
		t.Fatalf("ExchangeCode: %v", err)
	}
	// An absent user_id must stay empty so callers can detect it, not
	// stringify to a placeholder.
	if tok.UserID != "" {
		t.Fatalf("expected empty user id, got %q", tok.UserID)
	}
}

func TestExchangeLongLived_SetsExpiry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"access_token":"long_tok","token_type":"bearer","expires_in":5184000}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	tok, err := c.ExchangeLongLived(context.Background(), "secret", "short_tok")
	if err != nil {
		t.Fatalf("ExchangeLongLived: %v", err)
	}
	if tok.AccessToken != "long_tok" || tok.ExpiresAt == nil {
		t.Fatalf("unexpected token %+v", tok)
	}
}
