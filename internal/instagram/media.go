package instagram

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
)

type MediaItem struct {
	ID        string `json:"id"`
	Caption   string `json:"caption"`
	MediaType string `json:"media_type"`
	Permalink string `json:"permalink"`
	ThumbURL  string `json:"thumbnail_url"`
	Timestamp string `json:"timestamp"`
}

type mediaListResponse struct {
	Data   []MediaItem `json:"data"`
	Paging *struct {
		Cursors *struct {
			After string `json:"after"`
		} `json:"cursors"`
	} `json:"paging"`
}

// FetchRecentMedia lists recent media for a business account, following
// pagination cursors up to maxItems. Used by the media-picker endpoint that
// backs the comment_to_dm mediaId filter.
func (c *Client) FetchRecentMedia(ctx context.Context, businessID, token string, maxItems int) ([]MediaItem, error) {
	c.ensureDefaults()
	if maxItems <= 0 {
		maxItems = 50
	}

	all := make([]MediaItem, 0, maxItems)
	after := ""
	for len(all) < maxItems {
		u := fmt.Sprintf("%s/%s/%s/media?fields=id,caption,media_type,permalink,thumbnail_url,timestamp&limit=50",
			c.Host, c.Version, url.PathEscape(businessID))
		if after != "" {
			u += "&after=" + url.QueryEscape(after)
		}
		u += "&access_token=" + url.QueryEscape(token)

		body, err := c.get(ctx, u)
		if err != nil {
			return all, err
		}
		var parsed mediaListResponse
		if err := json.Unmarshal(body, &parsed); err != nil {
			return all, err
		}
		all = append(all, parsed.Data...)

		if parsed.Paging == nil || parsed.Paging.Cursors == nil || parsed.Paging.Cursors.After == "" {
			break
		}
		after = parsed.Paging.Cursors.After
	}
	if len(all) > maxItems {
		all = all[:maxItems]
	}
	return all, nil
}
