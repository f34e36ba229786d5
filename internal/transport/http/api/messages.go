package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/vedran77/pulsesync/internal/domain"
)

// MessagePage is one page of history, oldest first. A nil NextCursor means
// nothing older remains.
type MessagePage struct {
	Messages   []domain.Message
	NextCursor *string
}

func (c *Client) Messages(ctx context.Context, key domain.ConversationKey, limit int, before *string) (*MessagePage, error) {
	query := url.Values{"limit": {strconv.Itoa(limit)}}
	if !key.IsGroup() {
		query.Set("partner_role", string(key.Kind))
	}
	if before != nil {
		query.Set("before", *before)
	}
	path := fmt.Sprintf("/messages/%s/%d", key.MessageType(), key.ID)

	var resp struct {
		Messages   []domain.Message `json:"messages"`
		NextCursor *string          `json:"next_cursor"`
	}
	if err := c.do(ctx, http.MethodGet, path, query, nil, &resp); err != nil {
		return nil, fmt.Errorf("fetching messages for %s: %w", key, err)
	}

	// Server returns newest first.
	msgs := resp.Messages
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	for i := range msgs {
		msgs[i].Status = domain.NormalizeStatus(string(msgs[i].Status))
	}
	return &MessagePage{Messages: msgs, NextCursor: resp.NextCursor}, nil
}
