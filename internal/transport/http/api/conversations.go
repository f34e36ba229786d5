package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/vedran77/pulsesync/internal/domain"
)

type conversationWire struct {
	ID          int64            `json:"id"`
	Name        string           `json:"name"`
	FullName    *string          `json:"full_name"`
	Type        string           `json:"type"`
	LastMessage *string          `json:"last_message"`
	Timestamp   domain.Timestamp `json:"timestamp"`
	IsPinned    bool             `json:"is_pinned"`
}

func (w conversationWire) summary() domain.ConversationSummary {
	s := domain.ConversationSummary{
		Key:           domain.ConversationKey{Kind: domain.Kind(w.Type), ID: w.ID},
		DisplayName:   w.Name,
		FullName:      w.FullName,
		LastMessageAt: w.Timestamp.Time,
		Pinned:        w.IsPinned,
		MemberActive:  true,
	}
	if w.LastMessage != nil {
		s.LastMessagePreview = *w.LastMessage
		s.LastMessageDeleted = *w.LastMessage == domain.DeletedPlaceholder
	}
	return s
}

// Conversations returns the server's ordering; entries with an unknown kind
// are skipped.
func (c *Client) Conversations(ctx context.Context) ([]domain.ConversationSummary, error) {
	var resp struct {
		Conversations []conversationWire `json:"conversations"`
	}
	if err := c.do(ctx, http.MethodGet, "/users/conversations", nil, nil, &resp); err != nil {
		return nil, fmt.Errorf("fetching conversations: %w", err)
	}
	out := make([]domain.ConversationSummary, 0, len(resp.Conversations))
	for _, w := range resp.Conversations {
		s := w.summary()
		if !s.Key.Kind.Valid() {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

type notificationWire struct {
	ConversationDetails struct {
		ID   int64  `json:"id"`
		Name string `json:"name"`
		Type string `json:"type"`
	} `json:"conversation_details"`
	LastMessage struct {
		Preview   string           `json:"preview"`
		Timestamp domain.Timestamp `json:"timestamp"`
	} `json:"last_message"`
	UnreadCount int `json:"unread_count"`
}

func (c *Client) NotificationSummary(ctx context.Context) ([]domain.UnreadEntry, error) {
	var resp struct {
		Notifications []notificationWire `json:"notifications"`
	}
	if err := c.do(ctx, http.MethodGet, "/notifications/summary", nil, nil, &resp); err != nil {
		return nil, fmt.Errorf("fetching notification summary: %w", err)
	}
	out := make([]domain.UnreadEntry, 0, len(resp.Notifications))
	for _, n := range resp.Notifications {
		key := domain.ConversationKey{Kind: domain.Kind(n.ConversationDetails.Type), ID: n.ConversationDetails.ID}
		if !key.Kind.Valid() {
			continue
		}
		count := n.UnreadCount
		if count < 0 {
			count = 0
		}
		out = append(out, domain.UnreadEntry{
			Key:           key,
			DisplayName:   n.ConversationDetails.Name,
			Count:         count,
			LastPreview:   n.LastMessage.Preview,
			LastTimestamp: n.LastMessage.Timestamp.Time,
		})
	}
	return out, nil
}

type pinRequest struct {
	ConversationID   int64   `json:"conversation_id"`
	ConversationType string  `json:"conversation_type"`
	ConversationRole *string `json:"conversation_role"`
}

func newPinRequest(key domain.ConversationKey) pinRequest {
	req := pinRequest{
		ConversationID:   key.ID,
		ConversationType: string(key.MessageType()),
	}
	if !key.IsGroup() {
		role := string(key.Kind)
		req.ConversationRole = &role
	}
	return req
}

func (c *Client) Pin(ctx context.Context, key domain.ConversationKey) error {
	if err := c.do(ctx, http.MethodPost, "/pins/conversations/pin", nil, newPinRequest(key), nil); err != nil {
		return fmt.Errorf("pinning %s: %w", key, err)
	}
	return nil
}

func (c *Client) Unpin(ctx context.Context, key domain.ConversationKey) error {
	if err := c.do(ctx, http.MethodDelete, "/pins/conversations/unpin", nil, newPinRequest(key), nil); err != nil {
		return fmt.Errorf("unpinning %s: %w", key, err)
	}
	return nil
}

type SearchUser struct {
	ID       int64   `json:"id"`
	Username string  `json:"username"`
	FullName *string `json:"full_name"`
}

type SearchGroup struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	AdminID int64  `json:"admin_id"`
}

type SearchResults struct {
	Users  []SearchUser  `json:"users"`
	Admins []SearchUser  `json:"admins"`
	Groups []SearchGroup `json:"groups"`
}

// Summaries flattens the results into placeholder summaries, users first.
func (r *SearchResults) Summaries() []domain.ConversationSummary {
	out := make([]domain.ConversationSummary, 0, len(r.Users)+len(r.Admins)+len(r.Groups))
	for _, u := range r.Users {
		out = append(out, domain.ConversationSummary{
			Key: domain.ConversationKey{Kind: domain.KindUser, ID: u.ID}, DisplayName: u.Username, FullName: u.FullName, MemberActive: true,
		})
	}
	for _, a := range r.Admins {
		out = append(out, domain.ConversationSummary{
			Key: domain.ConversationKey{Kind: domain.KindAdmin, ID: a.ID}, DisplayName: a.Username, FullName: a.FullName, MemberActive: true,
		})
	}
	for _, g := range r.Groups {
		out = append(out, domain.ConversationSummary{
			Key: domain.ConversationKey{Kind: domain.KindGroup, ID: g.ID}, DisplayName: g.Name, MemberActive: true,
		})
	}
	return out
}

func (c *Client) Search(ctx context.Context, query string) (*SearchResults, error) {
	var res SearchResults
	if err := c.do(ctx, http.MethodGet, "/users/search", url.Values{"query": {query}}, nil, &res); err != nil {
		return nil, fmt.Errorf("searching %q: %w", query, err)
	}
	return &res, nil
}
